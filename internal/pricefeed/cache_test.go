package pricefeed

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newMockClock() *clock.Mock {
	clk := clock.NewMock()
	clk.Set(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	return clk
}

func TestCache(t *testing.T) {
	clk := newMockClock()
	cache := NewCache(clk, time.Minute)

	_, ok := cache.Price("BTCUSDT")
	assert.False(t, ok)

	assert.True(t, cache.Set("btcusdt", "50000.5", "test"))
	assert.False(t, cache.Set("ETHUSDT", "-1", "test"))
	assert.False(t, cache.Set("ETHUSDT", "1e5", "test"))

	price, ok := cache.Price("BTCUSDT")
	assert.True(t, ok)
	assert.Equal(t, "50000.5", price)
	assert.Equal(t, 1, cache.Len())

	clk.Add(61 * time.Second)
	_, ok = cache.Price("BTCUSDT")
	assert.False(t, ok, "stale prices are treated as absent")

	cache.Set("BTCUSDT", "50001", "test")
	price, ok = cache.Price("btcusdt")
	assert.True(t, ok)
	assert.Equal(t, "50001", price)

	assert.Equal(t, "pricefeed", cache.Name())
	assert.Equal(t, map[string]interface{}{"symbols": 1, "max_age": "1m0s"}, cache.Report(), "stale symbols still count")
}

func TestCache_NoMaxAge(t *testing.T) {
	clk := newMockClock()
	cache := NewCache(clk, 0)
	cache.Set("BTCUSDT", "1", "test")
	clk.Add(24 * time.Hour)
	_, ok := cache.Price("BTCUSDT")
	assert.True(t, ok)
}

// MockMarketDataClient is a mock for the binance.MarketDataClient.
type MockMarketDataClient struct {
	mock.Mock
}

func (m *MockMarketDataClient) GetServerTime(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockMarketDataClient) GetTickerPrices(ctx context.Context, symbols []string) (map[string]string, error) {
	args := m.Called(ctx, symbols)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]string), args.Error(1)
}

func TestPoller(t *testing.T) {
	ctx := context.Background()
	client := new(MockMarketDataClient)
	cache := NewCache(newMockClock(), 0)
	symbols := []string{"BTCUSDT", "ETHUSDT"}
	poller := NewPoller(client, cache, symbols, zap.NewNop())

	client.On("GetTickerPrices", ctx, symbols).Return(map[string]string{"BTCUSDT": "50000", "ETHUSDT": "bad"}, nil).Once()
	require.NoError(t, poller.Poll(ctx))

	price, ok := cache.Price("BTCUSDT")
	assert.True(t, ok)
	assert.Equal(t, "50000", price)
	_, ok = cache.Price("ETHUSDT")
	assert.False(t, ok)

	client.On("GetTickerPrices", ctx, symbols).Return(nil, assert.AnError).Once()
	assert.ErrorIs(t, poller.Poll(ctx), assert.AnError)
	client.AssertExpectations(t)
}
