package pricefeed

import (
	"strings"
	"sync"
	"time"

	"order-settlement-engine/internal/amount"
	"order-settlement-engine/internal/metrics"

	"github.com/benbjohnson/clock"
)

// Provider returns the latest known price of a symbol. An absent or stale
// price reports false.
type Provider interface {
	Price(symbol string) (string, bool)
}

type quote struct {
	price string
	at    time.Time
}

// Cache is an in-memory Provider fed by the poller and the stream.
type Cache struct {
	mu     sync.RWMutex
	prices map[string]quote
	clock  clock.Clock
	maxAge time.Duration
}

var _ Provider = (*Cache)(nil)

// NewCache creates an empty cache. A maxAge of zero disables staleness checks.
func NewCache(clk clock.Clock, maxAge time.Duration) *Cache {
	return &Cache{
		prices: make(map[string]quote),
		clock:  clk,
		maxAge: maxAge,
	}
}

// Set stores a price. Malformed prices are dropped.
func (c *Cache) Set(symbol, price, source string) bool {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	price = strings.TrimSpace(price)
	if symbol == "" || !amount.Valid(price) {
		return false
	}
	c.mu.Lock()
	c.prices[symbol] = quote{price: price, at: c.clock.Now()}
	c.mu.Unlock()
	metrics.PriceUpdates.WithLabelValues(source).Inc()
	return true
}

// Price implements Provider.
func (c *Cache) Price(symbol string) (string, bool) {
	c.mu.RLock()
	q, ok := c.prices[strings.ToUpper(symbol)]
	c.mu.RUnlock()
	if !ok {
		return "", false
	}
	if c.maxAge > 0 && c.clock.Since(q.at) > c.maxAge {
		return "", false
	}
	return q.price, true
}

// Len returns the number of cached symbols, stale ones included.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.prices)
}

// Name implements trader.Reporter.
func (c *Cache) Name() string { return "pricefeed" }

// Report implements trader.Reporter.
func (c *Cache) Report() interface{} {
	return map[string]interface{}{
		"symbols": c.Len(),
		"max_age": c.maxAge.String(),
	}
}
