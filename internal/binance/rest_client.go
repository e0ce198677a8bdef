package binance

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"order-settlement-engine/internal/config"

	"github.com/go-resty/resty/v2"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// MarketDataClient reads public market data from Binance.
type MarketDataClient interface {
	GetServerTime(ctx context.Context) (int64, error)
	GetTickerPrices(ctx context.Context, symbols []string) (map[string]string, error)
}

// RestClient is a client for the public Binance REST API. No API key is needed
// for the endpoints it calls.
type RestClient struct {
	client  *resty.Client
	logger  *zap.Logger
	limiter *rate.Limiter
}

var _ MarketDataClient = (*RestClient)(nil)

// NewRestClient creates a new Binance market data client.
func NewRestClient(cfg config.PriceFeed, logger *zap.Logger) *RestClient {
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.RestURL, "/")).
		SetTimeout(10 * time.Second).
		SetJSONUnmarshaler(json.Unmarshal)

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}

	return &RestClient{
		client:  client,
		logger:  logger,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// GetServerTime fetches the current server time from Binance.
// Used as a connectivity check before polling starts.
func (c *RestClient) GetServerTime(ctx context.Context) (int64, error) {
	type serverTimeResponse struct {
		ServerTime int64 `json:"serverTime"`
	}

	req := c.client.R().SetResult(&serverTimeResponse{})
	resp, err := c.doRequest(ctx, http.MethodGet, "/time", req)
	if err != nil {
		return 0, fmt.Errorf("failed to get server time: %w", err)
	}
	return resp.Result().(*serverTimeResponse).ServerTime, nil
}

// TickerPrice represents the response for a single ticker price.
type TickerPrice struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// GetTickerPrices fetches the latest price of the given symbols, or of every
// symbol when none are given.
func (c *RestClient) GetTickerPrices(ctx context.Context, symbols []string) (map[string]string, error) {
	var prices []TickerPrice
	req := c.client.R().SetResult(&prices)
	if len(symbols) > 0 {
		encoded, err := json.Marshal(symbols)
		if err != nil {
			return nil, err
		}
		req.SetQueryParam("symbols", string(encoded))
	}

	resp, err := c.doRequest(ctx, http.MethodGet, "/ticker/price", req)
	if err != nil {
		return nil, fmt.Errorf("failed to get ticker prices: %w", err)
	}

	result := *resp.Result().(*[]TickerPrice)
	priceMap := make(map[string]string, len(result))
	for _, p := range result {
		priceMap[p.Symbol] = p.Price
	}
	return priceMap, nil
}

// doRequest handles the actual request execution with rate limiting and retry logic.
func (c *RestClient) doRequest(ctx context.Context, method, url string, req *resty.Request) (*resty.Response, error) {
	var resp *resty.Response
	var err error
	const maxRetries = 3

	for i := 0; i < maxRetries; i++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		c.logger.Debug("Executing request", zap.String("method", method), zap.String("url", c.client.BaseURL+url))
		resp, err = req.SetContext(ctx).Execute(method, url)

		if err == nil && !resp.IsError() {
			return resp, nil
		}

		shouldRetry := false
		var retryAfter time.Duration

		if resp != nil && err == nil {
			statusCode := resp.StatusCode()
			// 418 is Binance's ban after ignoring 429s.
			if statusCode == http.StatusTooManyRequests || statusCode == http.StatusTeapot {
				shouldRetry = true
				if seconds, convErr := strconv.Atoi(resp.Header().Get("Retry-After")); convErr == nil {
					retryAfter = time.Duration(seconds) * time.Second
				}
			} else if statusCode >= 500 {
				shouldRetry = true
			}
		} else {
			shouldRetry = ctx.Err() == nil
		}

		if !shouldRetry {
			if err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("request failed with status %s: %s", resp.Status(), resp.String())
		}

		if retryAfter == 0 {
			retryAfter = time.Duration(math.Pow(2, float64(i))) * time.Second
		}

		c.logger.Warn("Request failed, retrying...",
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", retryAfter),
			zap.Error(err),
		)

		select {
		case <-time.After(retryAfter):
			continue
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err == nil && resp != nil {
		err = fmt.Errorf("status %s", resp.Status())
	}
	return nil, fmt.Errorf("request failed after %d attempts: %w", maxRetries, err)
}
