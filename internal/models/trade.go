package models

import "time"

// Trade is the local projection of one fill recorded by the settlement gateway.
// (UserID, ReferenceID) is the merge key shared by execution and reconciliation.
type Trade struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	UserID      string `gorm:"not null;uniqueIndex:idx_trades_user_ref;index:idx_trades_user_executed,priority:1" json:"user_id"`
	ReferenceID string `gorm:"not null;uniqueIndex:idx_trades_user_ref" json:"reference_id"`
	OrderID     *uint  `gorm:"index" json:"order_id,omitempty"`

	FillID     *int64 `gorm:"index" json:"fill_id,omitempty"`
	WalletTxID *int64 `gorm:"index" json:"wallet_tx_id,omitempty"`

	Symbol string `gorm:"not null;index" json:"symbol"`
	Side   Side   `gorm:"not null" json:"side"`
	Qty    string `gorm:"not null" json:"qty"`
	Price  string `gorm:"not null" json:"price"`

	GrossQuote *string `json:"gross_quote,omitempty"`
	FeeQuote   *string `json:"fee_quote,omitempty"`
	NetQuote   *string `json:"net_quote,omitempty"`

	Status string `gorm:"not null;default:FILLED;index" json:"status"`

	LedgerBlockHeight *int64     `json:"ledger_block_height,omitempty"`
	LedgerItemIdx     *int64     `json:"ledger_item_idx,omitempty"`
	LedgerCommitKey   *string    `json:"ledger_commit_key,omitempty"`
	LedgerCommittedAt *time.Time `json:"ledger_committed_at,omitempty"`

	Source     TradeSource `gorm:"not null" json:"source"`
	ExecutedAt time.Time   `gorm:"not null;index:idx_trades_user_executed,priority:2" json:"executed_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TradeStatusChange is an append-only record of a projected fill changing status,
// for example FILLED to REVERSED.
type TradeStatusChange struct {
	ID          uint        `gorm:"primaryKey" json:"id"`
	UserID      string      `gorm:"not null;index:idx_status_changes_key,priority:1" json:"user_id"`
	ReferenceID string      `gorm:"not null;index:idx_status_changes_key,priority:2" json:"reference_id"`
	FromStatus  string      `gorm:"not null" json:"from_status"`
	ToStatus    string      `gorm:"not null" json:"to_status"`
	Source      TradeSource `gorm:"not null" json:"source"`
	ObservedAt  time.Time   `gorm:"not null" json:"observed_at"`
}

// TradeIdentity holds the stable fields of a trade projection. They are written
// when the row is first created and never changed afterwards.
type TradeIdentity struct {
	UserID      string
	ReferenceID string
	OrderID     *uint
	Source      TradeSource
}

// TradeFill holds the correctable fields of a trade projection. Every upsert
// overwrites them with the latest known values from the gateway.
type TradeFill struct {
	FillID            *int64
	WalletTxID        *int64
	Symbol            string
	Side              Side
	Qty               string
	Price             string
	GrossQuote        *string
	FeeQuote          *string
	NetQuote          *string
	Status            string
	LedgerBlockHeight *int64
	LedgerItemIdx     *int64
	LedgerCommitKey   *string
	LedgerCommittedAt *time.Time
	ExecutedAt        time.Time
}
