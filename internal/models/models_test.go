package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	allowed := map[[2]OrderStatus]bool{
		{OrderStatusPending, OrderStatusProcessing}:  true,
		{OrderStatusPending, OrderStatusCancelled}:   true,
		{OrderStatusProcessing, OrderStatusExecuted}: true,
		{OrderStatusProcessing, OrderStatusPending}:  true,
		{OrderStatusProcessing, OrderStatusFailed}:   true,
	}
	all := []OrderStatus{OrderStatusPending, OrderStatusProcessing, OrderStatusExecuted, OrderStatusCancelled, OrderStatusFailed}

	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, allowed[[2]OrderStatus{from, to}], CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestOrderValidate(t *testing.T) {
	valid := func() Order {
		return Order{UserID: "u1", Symbol: "btcusdt", Side: "sell", OrderType: "stop", Qty: "0.5", Price: "40000"}
	}

	testCases := []struct {
		name   string
		mutate func(o *Order)
		ok     bool
	}{
		{name: "valid stop sell", mutate: func(o *Order) {}, ok: true},
		{name: "limit buy", mutate: func(o *Order) { o.Side = SideBuy; o.OrderType = OrderTypeLimit }, ok: true},
		{name: "stop buy rejected", mutate: func(o *Order) { o.Side = SideBuy }},
		{name: "bad side", mutate: func(o *Order) { o.Side = "HOLD" }},
		{name: "bad type", mutate: func(o *Order) { o.OrderType = "MARKET" }},
		{name: "zero qty", mutate: func(o *Order) { o.Qty = "0" }},
		{name: "malformed price", mutate: func(o *Order) { o.Price = "4e4" }},
		{name: "missing user", mutate: func(o *Order) { o.UserID = " " }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			o := valid()
			tc.mutate(&o)
			o.Normalize()
			err := o.Validate()
			if tc.ok {
				assert.NoError(t, err)
				assert.Equal(t, "BTCUSDT", o.Symbol)
			} else {
				assert.True(t, errors.Is(err, ErrInvalidOrder), "got %v", err)
			}
		})
	}
}
