package main

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"order-settlement-engine/internal/amount"
	"order-settlement-engine/internal/database"
	"order-settlement-engine/internal/gateway"
	"order-settlement-engine/internal/models"

	"github.com/benbjohnson/clock"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	defaultListLimit = 100
	maxListLimit     = 500
)

// APIHandler holds dependencies for the API endpoints.
type APIHandler struct {
	log    *zap.Logger
	db     *gorm.DB
	orders *database.OrderStore
	trades *database.TradeStore
	syncs  *database.SyncStore
	clock  clock.Clock
}

// NewAPIHandler creates a new APIHandler.
func NewAPIHandler(log *zap.Logger, db *gorm.DB, clk clock.Clock) *APIHandler {
	return &APIHandler{
		log:    log,
		db:     db,
		orders: database.NewOrderStore(db),
		trades: database.NewTradeStore(db),
		syncs:  database.NewSyncStore(db),
		clock:  clk,
	}
}

// Routes builds the HTTP router.
func (h *APIHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/api/status", h.StatusHandler)
	r.Get("/api/statistics", h.StatisticsHandler)
	r.Get("/api/sync-states", h.SyncStatesHandler)

	r.Route("/api/users/{userID}", func(r chi.Router) {
		r.Get("/orders", h.ListOrdersHandler)
		r.Post("/orders", h.CreateOrderHandler)
		r.Put("/orders/{orderID}", h.AmendOrderHandler)
		r.Delete("/orders/{orderID}", h.CancelOrderHandler)
		r.Get("/trades", h.TradesHandler)
		r.Get("/trades/{referenceID}/history", h.TradeHistoryHandler)
	})
	return r
}

type statusResponse struct {
	Orders map[models.OrderStatus]int64           `json:"orders"`
	Trades map[models.TradeSource]map[string]int64 `json:"trades"`
}

// StatusHandler returns order counts by status and trade counts by source.
func (h *APIHandler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.CountByStatus(r.Context())
	if err != nil {
		h.fail(w, "Failed to count orders", err)
		return
	}
	trades, err := h.trades.CountBySource(r.Context())
	if err != nil {
		h.fail(w, "Failed to count trades", err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Orders: orders, Trades: trades})
}

// ListOrdersHandler returns a user's orders, newest first. Only PENDING
// orders are listed unless ?status= names another status or "all".
func (h *APIHandler) ListOrdersHandler(w http.ResponseWriter, r *http.Request) {
	status := models.OrderStatusPending
	if s := r.URL.Query().Get("status"); s == "all" {
		status = ""
	} else if s != "" {
		status = models.OrderStatus(s)
	}
	orders, err := h.orders.ListByUser(r.Context(), chi.URLParam(r, "userID"), status, listLimit(r, maxListLimit))
	if err != nil {
		h.fail(w, "Failed to fetch orders", err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

type createOrderRequest struct {
	Symbol         string           `json:"symbol"`
	Side           string           `json:"side"`
	OrderType      string           `json:"orderType"`
	Qty            *gateway.Decimal `json:"qty"`
	Quantity       *gateway.Decimal `json:"quantity"`
	Price          *gateway.Decimal `json:"price"`
	OCOGroupID     *string          `json:"ocoGroupId"`
	ExpectedPrice  *gateway.Decimal `json:"expectedPrice"`
	MaxSlippageBps *int             `json:"maxSlippageBps"`
}

// CreateOrderHandler places a new PENDING order.
func (h *APIHandler) CreateOrderHandler(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	qty := req.Qty
	if qty == nil {
		qty = req.Quantity
	}
	if req.Symbol == "" || req.Side == "" || req.OrderType == "" || qty == nil || req.Price == nil {
		writeMessage(w, http.StatusBadRequest, "Missing required fields")
		return
	}

	o := &models.Order{
		UserID:        chi.URLParam(r, "userID"),
		Symbol:        req.Symbol,
		Side:          models.Side(req.Side),
		OrderType:     models.OrderType(req.OrderType),
		Qty:           string(*qty),
		Price:         string(*req.Price),
		OCOGroupID:    req.OCOGroupID,
		ExpectedPrice: req.ExpectedPrice.StringPtr(),
	}
	if req.MaxSlippageBps != nil {
		o.MaxSlippageBps = *req.MaxSlippageBps
	}

	if err := h.orders.Create(r.Context(), o); err != nil {
		if errors.Is(err, models.ErrInvalidOrder) {
			writeMessage(w, http.StatusBadRequest, err.Error())
			return
		}
		h.fail(w, "Order creation failed", err)
		return
	}
	h.log.Info("Order created",
		zap.Uint("order_id", o.ID),
		zap.String("user_id", o.UserID),
		zap.String("symbol", o.Symbol),
		zap.String("reference_id", o.Ref()))
	writeJSON(w, http.StatusCreated, o)
}

type amendOrderRequest struct {
	Qty      *gateway.Decimal `json:"qty"`
	Quantity *gateway.Decimal `json:"quantity"`
	Price    *gateway.Decimal `json:"price"`
}

// AmendOrderHandler changes the qty and/or price of a PENDING order.
func (h *APIHandler) AmendOrderHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	var req amendOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	qty := req.Qty
	if qty == nil {
		qty = req.Quantity
	}

	o, err := h.orders.Amend(r.Context(), chi.URLParam(r, "userID"), id, qty.StringPtr(), req.Price.StringPtr())
	switch {
	case errors.Is(err, models.ErrInvalidOrder):
		writeMessage(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, database.ErrOrderNotFound):
		writeMessage(w, http.StatusNotFound, "Order not found or not editable")
	case err != nil:
		h.fail(w, "Order update failed", err)
	default:
		writeJSON(w, http.StatusOK, o)
	}
}

// CancelOrderHandler cancels a PENDING order on behalf of its owner.
func (h *APIHandler) CancelOrderHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	cancelled, err := h.orders.Cancel(r.Context(), chi.URLParam(r, "userID"), id, models.ReasonCancelledByUser)
	switch {
	case errors.Is(err, database.ErrOrderNotFound):
		writeMessage(w, http.StatusNotFound, "Order not found or not cancellable")
	case err != nil:
		h.fail(w, "Order cancellation failed", err)
	case !cancelled:
		writeMessage(w, http.StatusConflict, "Order not found or not cancellable")
	default:
		writeMessage(w, http.StatusOK, "Order cancelled")
	}
}

// TradesHandler returns a user's trade projections, most recent first.
func (h *APIHandler) TradesHandler(w http.ResponseWriter, r *http.Request) {
	trades, err := h.trades.ListByUser(r.Context(), chi.URLParam(r, "userID"), listLimit(r, maxListLimit))
	if err != nil {
		h.log.Error("Failed to get trades from database", zap.Error(err))
		writeMessage(w, http.StatusInternalServerError, "Failed to get trades")
		return
	}
	writeJSON(w, http.StatusOK, trades)
}

// TradeHistoryHandler returns the status changes of one trade.
func (h *APIHandler) TradeHistoryHandler(w http.ResponseWriter, r *http.Request) {
	userID, ref := chi.URLParam(r, "userID"), chi.URLParam(r, "referenceID")
	trade, err := h.trades.Get(r.Context(), userID, ref)
	if err != nil {
		h.fail(w, "Failed to get trade", err)
		return
	}
	if trade == nil {
		writeMessage(w, http.StatusNotFound, "Trade not found")
		return
	}
	history, err := h.trades.StatusHistory(r.Context(), userID, ref)
	if err != nil {
		h.fail(w, "Failed to get trade history", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"trade": trade, "history": history})
}

// SyncStatesHandler returns the reconciliation state of every user.
func (h *APIHandler) SyncStatesHandler(w http.ResponseWriter, r *http.Request) {
	states, err := h.syncs.List(r.Context())
	if err != nil {
		h.fail(w, "Failed to get sync states", err)
		return
	}
	writeJSON(w, http.StatusOK, states)
}

// StatsDetail holds calculated statistics for a given period.
type StatsDetail struct {
	TotalTrades    int64  `json:"total_trades"`
	FilledTrades   int64  `json:"filled_trades"`
	ReversedTrades int64  `json:"reversed_trades"`
	GrossQuote     string `json:"gross_quote"`

	gross amount.Amount
}

func (s *StatsDetail) add(t *models.Trade) {
	s.TotalTrades++
	switch t.Status {
	case models.FillStatusFilled:
		s.FilledTrades++
		if t.GrossQuote != nil {
			if q, err := amount.Parse(*t.GrossQuote); err == nil {
				s.gross = s.gross.Add(q)
			}
		}
	case models.FillStatusReversed:
		s.ReversedTrades++
	}
}

// StatisticsResponse is the structure for the /api/statistics endpoint.
type StatisticsResponse struct {
	Since24h StatsDetail `json:"since_24h"`
	AllTime  StatsDetail `json:"all_time"`
}

// StatisticsHandler calculates trade statistics. Gross quote only counts FILLED trades.
func (h *APIHandler) StatisticsHandler(w http.ResponseWriter, r *http.Request) {
	var allTrades []models.Trade
	if err := h.db.WithContext(r.Context()).Find(&allTrades).Error; err != nil {
		h.log.Error("Failed to get trades for statistics", zap.Error(err))
		writeMessage(w, http.StatusInternalServerError, "Failed to calculate statistics")
		return
	}

	since24h := h.clock.Now().Add(-24 * time.Hour)
	response := StatisticsResponse{
		Since24h: StatsDetail{gross: amount.Zero},
		AllTime:  StatsDetail{gross: amount.Zero},
	}
	for i := range allTrades {
		t := &allTrades[i]
		response.AllTime.add(t)
		if t.ExecutedAt.After(since24h) {
			response.Since24h.add(t)
		}
	}
	response.AllTime.GrossQuote = response.AllTime.gross.String()
	response.Since24h.GrossQuote = response.Since24h.gross.String()
	writeJSON(w, http.StatusOK, response)
}

func (h *APIHandler) fail(w http.ResponseWriter, msg string, err error) {
	h.log.Error(msg, zap.Error(err))
	writeMessage(w, http.StatusInternalServerError, msg)
}

func orderID(w http.ResponseWriter, r *http.Request) (uint, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "orderID"), 10, 64)
	if err != nil || id == 0 {
		writeMessage(w, http.StatusBadRequest, "Invalid order id")
		return 0, false
	}
	return uint(id), true
}

func listLimit(r *http.Request, max int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return defaultListLimit
	}
	if n > max {
		return max
	}
	return n
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
