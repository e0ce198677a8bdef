package gateway

import (
	"strings"
	"time"

	"order-settlement-engine/internal/models"
)

// FillID returns the gateway's id for the settled fill, if it reported one.
func (r *ExecuteResponse) FillID() *int64 {
	if r.TradeID != nil {
		return r.TradeID.Int64()
	}
	if r.Trade != nil && r.Trade.ID != 0 {
		return r.Trade.ID.Int64()
	}
	return nil
}

// TradeFill converts an execute response into projection fields. The order's
// own instruction fills in whatever the gateway left out.
func (r *ExecuteResponse) TradeFill(o *models.Order, now time.Time) models.TradeFill {
	t := r.Trade
	if t == nil {
		t = &Fill{}
	}
	fill := t.TradeFill(now)
	fill.FillID = r.FillID()

	switch {
	case r.WalletTxID != nil:
		fill.WalletTxID = r.WalletTxID.Int64()
	case r.TxID != nil:
		fill.WalletTxID = r.TxID.Int64()
	}
	if fill.Symbol == "" {
		fill.Symbol = o.Symbol
	}
	if fill.Side == "" {
		fill.Side = o.Side
	}
	if fill.Qty == "" {
		fill.Qty = o.Qty
	}
	if r.ExecutionPrice != nil && *r.ExecutionPrice != "" {
		fill.Price = string(*r.ExecutionPrice)
	}
	return fill
}

// TradeFill converts a gateway fill row into projection fields.
func (f *Fill) TradeFill(now time.Time) models.TradeFill {
	fill := models.TradeFill{
		WalletTxID:        f.WalletTxID.Int64(),
		Symbol:            strings.ToUpper(strings.TrimSpace(f.Symbol)),
		Side:              models.Side(strings.ToUpper(strings.TrimSpace(f.Side))),
		Qty:               string(f.Qty),
		Price:             string(f.Price),
		GrossQuote:        f.GrossQuote.StringPtr(),
		FeeQuote:          f.FeeQuote.StringPtr(),
		NetQuote:          f.NetQuote.StringPtr(),
		Status:            models.FillStatusFilled,
		LedgerBlockHeight: f.LedgerBlockHeight.Int64(),
		LedgerItemIdx:     f.LedgerItemIdx.Int64(),
		LedgerCommitKey:   f.LedgerCommitKey,
		LedgerCommittedAt: parseTime(f.LedgerCommittedAt),
		ExecutedAt:        now,
	}
	if f.ID != 0 {
		fill.FillID = f.ID.Int64()
	}
	if fill.LedgerItemIdx == nil {
		fill.LedgerItemIdx = f.LedgerItemIndex.Int64()
	}
	if f.Status != nil && *f.Status != "" {
		fill.Status = *f.Status
	}
	if at := parseTime(f.CreatedAt); at != nil {
		fill.ExecutedAt = *at
	}
	return fill
}
