package pricefeed

import (
	"context"

	"order-settlement-engine/internal/binance"

	"go.uber.org/zap"
)

// Poller refreshes the cache from the Binance ticker endpoint.
type Poller struct {
	client  binance.MarketDataClient
	cache   *Cache
	symbols []string
	logger  *zap.Logger
}

// NewPoller creates a poller for symbols, or for every listed symbol when empty.
func NewPoller(client binance.MarketDataClient, cache *Cache, symbols []string, logger *zap.Logger) *Poller {
	return &Poller{client: client, cache: cache, symbols: symbols, logger: logger}
}

// Poll fetches one round of prices into the cache.
func (p *Poller) Poll(ctx context.Context) error {
	prices, err := p.client.GetTickerPrices(ctx, p.symbols)
	if err != nil {
		return err
	}
	accepted := 0
	for symbol, price := range prices {
		if p.cache.Set(symbol, price, "poll") {
			accepted++
		}
	}
	p.logger.Debug("Polled prices", zap.Int("received", len(prices)), zap.Int("accepted", accepted))
	return nil
}
