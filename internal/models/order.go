package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"order-settlement-engine/internal/amount"
)

// ErrInvalidOrder is wrapped by every order validation failure.
var ErrInvalidOrder = errors.New("invalid order")

// Order is a user's standing instruction to execute once a price condition holds.
type Order struct {
	ID          uint    `gorm:"primaryKey" json:"id"`
	UserID      string  `gorm:"not null;uniqueIndex:idx_orders_user_ref;index:idx_orders_user_status_symbol,priority:1" json:"user_id"`
	ReferenceID *string `gorm:"uniqueIndex:idx_orders_user_ref" json:"reference_id"`
	OCOGroupID  *string `gorm:"index" json:"oco_group_id,omitempty"`

	Symbol    string      `gorm:"not null;index:idx_orders_status_symbol,priority:2;index:idx_orders_user_status_symbol,priority:3" json:"symbol"`
	Side      Side        `gorm:"not null" json:"side"`
	OrderType OrderType   `gorm:"not null;index" json:"order_type"`
	Qty       string      `gorm:"not null" json:"qty"`
	Price     string      `gorm:"not null" json:"price"`
	Status    OrderStatus `gorm:"not null;default:PENDING;index:idx_orders_status_symbol,priority:1;index:idx_orders_user_status_symbol,priority:2" json:"status"`

	ExpectedPrice  *string `json:"expected_price,omitempty"`
	MaxSlippageBps int     `gorm:"not null;default:50" json:"max_slippage_bps"`

	FillID        *int64     `gorm:"index" json:"fill_id,omitempty"`
	ExecutedAt    *time.Time `json:"executed_at,omitempty"`
	FailureReason *string    `json:"failure_reason,omitempty"`

	Attempts      int        `gorm:"not null;default:0" json:"attempts"`
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`
	ClaimedAt     *time.Time `json:"claimed_at,omitempty"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Ref returns the reference id, or "" when it has not been assigned yet.
func (o *Order) Ref() string {
	if o.ReferenceID == nil {
		return ""
	}
	return *o.ReferenceID
}

// Normalize upper-cases the enumerated fields and trims the decimal strings.
func (o *Order) Normalize() {
	o.UserID = strings.TrimSpace(o.UserID)
	o.Symbol = strings.ToUpper(strings.TrimSpace(o.Symbol))
	o.Side = Side(strings.ToUpper(strings.TrimSpace(string(o.Side))))
	o.OrderType = OrderType(strings.ToUpper(strings.TrimSpace(string(o.OrderType))))
	o.Qty = strings.TrimSpace(o.Qty)
	o.Price = strings.TrimSpace(o.Price)
}

// Validate applies the order placement rules. STOP orders are SELL-only.
func (o *Order) Validate() error {
	if o.UserID == "" || o.Symbol == "" {
		return fmt.Errorf("%w: missing user or symbol", ErrInvalidOrder)
	}
	if o.Side != SideBuy && o.Side != SideSell {
		return fmt.Errorf("%w: invalid side %q", ErrInvalidOrder, o.Side)
	}
	if o.OrderType != OrderTypeLimit && o.OrderType != OrderTypeStop {
		return fmt.Errorf("%w: invalid order type %q", ErrInvalidOrder, o.OrderType)
	}
	if o.OrderType == OrderTypeStop && o.Side != SideSell {
		return fmt.Errorf("%w: STOP orders are only allowed for SELL", ErrInvalidOrder)
	}
	if !positive(o.Qty) {
		return fmt.Errorf("%w: invalid qty %q", ErrInvalidOrder, o.Qty)
	}
	if !positive(o.Price) {
		return fmt.Errorf("%w: invalid price %q", ErrInvalidOrder, o.Price)
	}
	if o.ExpectedPrice != nil && !positive(*o.ExpectedPrice) {
		return fmt.Errorf("%w: invalid expected price %q", ErrInvalidOrder, *o.ExpectedPrice)
	}
	if o.MaxSlippageBps < 0 {
		return fmt.Errorf("%w: negative max slippage", ErrInvalidOrder)
	}
	return nil
}

func positive(s string) bool {
	a, err := amount.Parse(s)
	return err == nil && a.IsPositive()
}
