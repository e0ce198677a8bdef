package models

type Side string

type OrderType string

type OrderStatus string

type TradeSource string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

const (
	OrderTypeLimit OrderType = "LIMIT"
	OrderTypeStop  OrderType = "STOP"
)

const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusExecuted   OrderStatus = "EXECUTED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
	OrderStatusFailed     OrderStatus = "FAILED"
)

const (
	// TradeSourceExecutor marks projections first written by the execution loop.
	TradeSourceExecutor TradeSource = "ORDER_EXECUTOR"
	// TradeSourceResync marks projections first written by reconciliation.
	TradeSourceResync TradeSource = "RESYNC"
)

// Fill statuses mirrored from the settlement gateway.
const (
	FillStatusFilled   = "FILLED"
	FillStatusReversed = "REVERSED"
)

// Failure reasons written by the engine and the user-facing API.
const (
	ReasonStaleProcessingReset = "stale_processing_reset"
	ReasonOCOSiblingExecuted   = "oco_sibling_executed"
	ReasonCancelledByUser      = "cancelled_by_user"
	ReasonMaxRetriesExceeded   = "max_retries_exceeded"
	TransientReasonPrefix      = "TEMP:"
)

var transitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusExecuted, OrderStatusPending, OrderStatusFailed},
}

// CanTransition reports whether an order may move from one status to another.
// EXECUTED, CANCELLED and FAILED are terminal.
func CanTransition(from, to OrderStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
