package pricefeed

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"order-settlement-engine/internal/metrics"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

const (
	streamBatchSize        = 20
	streamReconnectDelay   = 5 * time.Second
	streamHandshakeTimeout = 10 * time.Second
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// miniTickerEvent is one message of a combined miniTicker stream.
type miniTickerEvent struct {
	Stream string `json:"stream"`
	Data   struct {
		Symbol string `json:"s"`
		Close  string `json:"c"`
	} `json:"data"`
}

// Stream keeps the cache updated from Binance miniTicker websocket streams.
// Symbols are split across connections of at most 20 streams each.
type Stream struct {
	baseURL        string
	symbols        []string
	cache          *Cache
	logger         *zap.Logger
	dialer         *websocket.Dialer
	reconnectDelay time.Duration
}

// NewStream creates a stream for symbols against the combined-stream endpoint baseURL.
func NewStream(baseURL string, symbols []string, cache *Cache, logger *zap.Logger) *Stream {
	return &Stream{
		baseURL:        baseURL,
		symbols:        symbols,
		cache:          cache,
		logger:         logger,
		dialer:         &websocket.Dialer{HandshakeTimeout: streamHandshakeTimeout},
		reconnectDelay: streamReconnectDelay,
	}
}

// Run connects every batch and reconnects after a disconnect until ctx is done.
func (s *Stream) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i, batch := range chunk(s.symbols, streamBatchSize) {
		u, err := streamURL(s.baseURL, batch)
		if err != nil {
			s.logger.Error("Invalid price stream URL", zap.Error(err))
			return
		}
		wg.Add(1)
		go func(idx int, u string) {
			defer wg.Done()
			s.runBatch(ctx, idx, u)
		}(i+1, u)
	}
	wg.Wait()
}

func (s *Stream) runBatch(ctx context.Context, idx int, u string) {
	for {
		err := s.consume(ctx, u)
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("Price stream closed, reconnecting...",
			zap.Int("batch", idx),
			zap.Duration("retry_after", s.reconnectDelay),
			zap.Error(err),
		)
		metrics.StreamReconnects.Inc()

		select {
		case <-time.After(s.reconnectDelay):
		case <-ctx.Done():
			return
		}
	}
}

// consume reads one connection until it fails or ctx is done.
func (s *Stream) consume(ctx context.Context, u string) error {
	conn, _, err := s.dialer.DialContext(ctx, u, nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	s.logger.Info("Price stream connected", zap.String("url", u))
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var ev miniTickerEvent
		if err := json.Unmarshal(msg, &ev); err != nil {
			s.logger.Debug("Skipping undecodable price message", zap.Error(err))
			continue
		}
		s.cache.Set(ev.Data.Symbol, ev.Data.Close, "stream")
	}
}

func streamURL(base string, symbols []string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	streams := make([]string, len(symbols))
	for i, sym := range symbols {
		streams[i] = strings.ToLower(sym) + "@miniTicker"
	}
	u.RawQuery = "streams=" + strings.Join(streams, "/")
	return u.String(), nil
}

func chunk(items []string, size int) [][]string {
	var out [][]string
	for i := 0; i < len(items); i += size {
		end := i + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[i:end])
	}
	return out
}
