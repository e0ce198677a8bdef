package gateway

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"order-settlement-engine/internal/config"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	executePath    = "/api/internal/trade/execute"
	listFillsPath  = "/api/internal/trade/fills"
	internalHeader = "x-internal-key"
)

// Client is the settlement gateway as seen by the engine.
type Client interface {
	ExecuteTrade(ctx context.Context, req ExecuteRequest) (*ExecuteResponse, error)
	ListFills(ctx context.Context, req ListFillsRequest) (*ListFillsResponse, error)
}

// RestClient is a client for the gateway's internal HTTP API.
type RestClient struct {
	client     *resty.Client
	logger     *zap.Logger
	limiter    *rate.Limiter
	maxRetries int
	retryWait  time.Duration
}

var _ Client = (*RestClient)(nil)

// NewRestClient creates a gateway client authenticated with the internal key.
func NewRestClient(cfg config.Gateway, logger *zap.Logger) *RestClient {
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader(internalHeader, cfg.InternalKey).
		SetHeader("Content-Type", "application/json").
		SetJSONMarshaler(json.Marshal).
		SetJSONUnmarshaler(json.Unmarshal)

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.RateLimitBurst
	if burst < 1 {
		burst = 1
	}

	return &RestClient{
		client:     client,
		logger:     logger,
		limiter:    rate.NewLimiter(limit, burst),
		maxRetries: cfg.MaxRetries,
		retryWait:  time.Second,
	}
}

// ExecuteTrade asks the gateway to settle one order. Retrying is safe because
// the gateway deduplicates on the reference id.
func (c *RestClient) ExecuteTrade(ctx context.Context, in ExecuteRequest) (*ExecuteResponse, error) {
	req := c.client.R().
		SetBody(in).
		SetResult(&ExecuteResponse{}).
		SetError(&errorBody{})

	resp, err := c.doRequest(ctx, http.MethodPost, executePath, req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute trade %s: %w", in.ReferenceID, err)
	}
	return resp.Result().(*ExecuteResponse), nil
}

// ListFills fetches one page of a user's fills.
func (c *RestClient) ListFills(ctx context.Context, in ListFillsRequest) (*ListFillsResponse, error) {
	req := c.client.R().
		SetQueryParam("userId", in.UserID).
		SetQueryParam("limit", strconv.Itoa(in.Limit)).
		SetResult(&ListFillsResponse{}).
		SetError(&errorBody{})
	if in.CursorID != nil {
		req.SetQueryParam("cursorId", strconv.FormatInt(*in.CursorID, 10))
	}

	resp, err := c.doRequest(ctx, http.MethodGet, listFillsPath, req)
	if err != nil {
		return nil, fmt.Errorf("failed to list fills for %s: %w", in.UserID, err)
	}
	return resp.Result().(*ListFillsResponse), nil
}

// doRequest handles the actual request execution with rate limiting and retry logic.
// Rate limiting, server errors and network failures are retried; any other
// non-2xx answer is returned as an *APIError straight away.
func (c *RestClient) doRequest(ctx context.Context, method, url string, req *resty.Request) (*resty.Response, error) {
	var resp *resty.Response
	var err error
	attempts := c.maxRetries
	if attempts < 1 {
		attempts = 1
	}

	for i := 0; i < attempts; i++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		c.logger.Debug("Executing gateway request", zap.String("method", method), zap.String("url", c.client.BaseURL+url))
		resp, err = req.SetContext(ctx).Execute(method, url)

		if err == nil && !resp.IsError() {
			return resp, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		shouldRetry := false
		var retryAfter time.Duration

		if err == nil {
			statusCode := resp.StatusCode()
			err = &APIError{StatusCode: statusCode, Message: responseMessage(resp)}
			if statusCode == http.StatusTooManyRequests {
				shouldRetry = true
				if seconds, convErr := strconv.Atoi(resp.Header().Get("Retry-After")); convErr == nil {
					retryAfter = time.Duration(seconds) * time.Second
				}
			} else if statusCode >= 500 {
				shouldRetry = true
			}
		} else {
			shouldRetry = true
		}

		if !shouldRetry || i == attempts-1 {
			break
		}

		if retryAfter == 0 {
			retryAfter = time.Duration(math.Pow(2, float64(i))) * c.retryWait
		}

		c.logger.Warn("Gateway request failed, retrying...",
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", retryAfter),
			zap.Error(err),
		)

		select {
		case <-time.After(retryAfter):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return nil, apiErr
	}
	return nil, fmt.Errorf("request failed after %d attempts: %w", attempts, err)
}

func responseMessage(resp *resty.Response) string {
	if body, ok := resp.Error().(*errorBody); ok {
		if msg := body.text(); msg != "" {
			return msg
		}
	}
	if s := strings.TrimSpace(resp.String()); s != "" {
		return s
	}
	return resp.Status()
}
