package trader

import (
	"order-settlement-engine/internal/amount"
	"order-settlement-engine/internal/models"
)

// ShouldExecute reports whether the order's trigger condition holds at
// marketPrice. Malformed prices never trigger.
//
//	LIMIT BUY:  market <= price
//	LIMIT SELL: market >= price
//	STOP SELL:  market <= price
//
// STOP BUY is rejected at creation and never triggers here either.
func ShouldExecute(o *models.Order, marketPrice string) bool {
	market, err := amount.Parse(marketPrice)
	if err != nil {
		return false
	}
	limit, err := amount.Parse(o.Price)
	if err != nil {
		return false
	}

	switch o.OrderType {
	case models.OrderTypeLimit:
		switch o.Side {
		case models.SideBuy:
			return market.LessThanOrEqual(limit)
		case models.SideSell:
			return market.GreaterThanOrEqual(limit)
		}
	case models.OrderTypeStop:
		if o.Side == models.SideSell {
			return market.LessThanOrEqual(limit)
		}
	}
	return false
}
