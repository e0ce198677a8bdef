package gateway

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ExecuteRequest is the body of an internal execute call. ReferenceID is the
// idempotency key: repeating a request with the same key settles at most once.
type ExecuteRequest struct {
	UserID         string  `json:"userId"`
	Symbol         string  `json:"symbol"`
	Side           string  `json:"side"`
	Qty            string  `json:"qty"`
	ReferenceID    string  `json:"referenceId"`
	ExpectedPrice  *string `json:"expectedPrice,omitempty"`
	MaxSlippageBps *int    `json:"maxSlippageBps,omitempty"`
}

// ExecuteResponse is the gateway's answer to an execute call.
type ExecuteResponse struct {
	OK             bool     `json:"ok"`
	TradeID        *ID      `json:"tradeId,omitempty"`
	WalletTxID     *ID      `json:"walletTxId,omitempty"`
	TxID           *ID      `json:"txId,omitempty"`
	ExecutionPrice *Decimal `json:"executionPrice,omitempty"`
	Trade          *Fill    `json:"trade,omitempty"`
}

// ListFillsRequest selects a page of a user's fills. Without a cursor the
// newest fills are returned; with one, only fills strictly older than it.
type ListFillsRequest struct {
	UserID   string
	Limit    int
	CursorID *int64
}

// ListFillsResponse is one page of fills, newest first.
type ListFillsResponse struct {
	OK           bool   `json:"ok"`
	Rows         []Fill `json:"rows"`
	NextCursorID *ID    `json:"nextCursorId,omitempty"`
}

// Fill is a settled trade as recorded by the gateway.
type Fill struct {
	ID                ID       `json:"id"`
	ReferenceID       string   `json:"reference_id"`
	WalletTxID        *ID      `json:"wallet_tx_id,omitempty"`
	Symbol            string   `json:"symbol"`
	Side              string   `json:"side"`
	Qty               Decimal  `json:"qty"`
	Price             Decimal  `json:"price"`
	GrossQuote        *Decimal `json:"gross_quote,omitempty"`
	FeeQuote          *Decimal `json:"fee_quote,omitempty"`
	NetQuote          *Decimal `json:"net_quote,omitempty"`
	Status            *string  `json:"status,omitempty"`
	LedgerBlockHeight *ID      `json:"ledger_block_height,omitempty"`
	LedgerItemIdx     *ID      `json:"ledger_item_idx,omitempty"`
	LedgerItemIndex   *ID      `json:"ledger_item_index,omitempty"`
	LedgerCommitKey   *string  `json:"ledger_commit_key,omitempty"`
	LedgerCommittedAt *string  `json:"ledger_committed_at,omitempty"`
	CreatedAt         *string  `json:"created_at,omitempty"`
}

// ID is a gateway identifier. The gateway encodes ids as JSON numbers or as
// numeric strings depending on the endpoint.
type ID int64

// UnmarshalJSON accepts both 42 and "42".
func (id *ID) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(b)), `"`)
	if s == "" || s == "null" {
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid id %s: %w", b, err)
	}
	*id = ID(v)
	return nil
}

// Int64 returns the id as a pointer, or nil for a nil receiver.
func (id *ID) Int64() *int64 {
	if id == nil {
		return nil
	}
	v := int64(*id)
	return &v
}

// Decimal is a decimal amount kept in its textual form. Bare JSON numbers are
// accepted and keep their literal digits.
type Decimal string

// UnmarshalJSON accepts both "1.5" and 1.5.
func (d *Decimal) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*d = Decimal(strings.TrimSpace(s))
		return nil
	}
	if string(b) == "null" {
		return nil
	}
	*d = Decimal(b)
	return nil
}

// StringPtr returns the amount as a string pointer, or nil for a nil receiver.
func (d *Decimal) StringPtr() *string {
	if d == nil {
		return nil
	}
	s := string(*d)
	return &s
}

func parseTime(s *string) *time.Time {
	if s == nil || *s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, *s)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}
