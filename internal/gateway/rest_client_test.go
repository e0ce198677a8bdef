package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// setupTestServer creates a new test server and a RestClient configured to use it.
func setupTestServer(handler http.Handler) (*RestClient, *httptest.Server) {
	server := httptest.NewServer(handler)

	client := resty.New().
		SetBaseURL(server.URL).
		SetHeader(internalHeader, "test_internal_key").
		SetJSONMarshaler(json.Marshal).
		SetJSONUnmarshaler(json.Unmarshal)

	rc := &RestClient{
		client:     client,
		logger:     zap.NewNop(),
		limiter:    rate.NewLimiter(rate.Inf, 1),
		maxRetries: 3,
		retryWait:  time.Millisecond,
	}
	return rc, server
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func TestExecuteTrade(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, executePath, r.URL.Path)
			assert.Equal(t, "test_internal_key", r.Header.Get(internalHeader))

			body, _ := io.ReadAll(r.Body)
			var got map[string]interface{}
			assert.NoError(t, json.Unmarshal(body, &got))
			assert.Equal(t, "u1", got["userId"])
			assert.Equal(t, "ref-1", got["referenceId"])
			assert.Equal(t, "0.5", got["qty"])
			assert.NotContains(t, got, "expectedPrice")

			writeJSON(w, http.StatusOK, `{"ok":true,"tradeId":"101","walletTxId":9001,"executionPrice":"49999.5",
				"trade":{"id":101,"symbol":"btcusdt","side":"buy","qty":"0.5","price":"49999.5","fee_quote":"1.25",
				"status":"FILLED","ledger_item_index":4,"created_at":"2026-03-01T12:00:05Z"}}`)
		})
		rc, server := setupTestServer(handler)
		defer server.Close()

		resp, err := rc.ExecuteTrade(context.Background(), ExecuteRequest{
			UserID: "u1", Symbol: "BTCUSDT", Side: "BUY", Qty: "0.5", ReferenceID: "ref-1",
		})
		require.NoError(t, err)
		assert.True(t, resp.OK)
		require.NotNil(t, resp.FillID())
		assert.Equal(t, int64(101), *resp.FillID())
		assert.Equal(t, int64(9001), *resp.WalletTxID.Int64())
		assert.Equal(t, Decimal("1.25"), *resp.Trade.FeeQuote)
	})

	t.Run("BusinessError", func(t *testing.T) {
		var calls int32
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			writeJSON(w, http.StatusConflict, `{"ok":false,"error":"insufficient balance"}`)
		})
		rc, server := setupTestServer(handler)
		defer server.Close()

		_, err := rc.ExecuteTrade(context.Background(), ExecuteRequest{UserID: "u1", ReferenceID: "ref-1"})
		require.Error(t, err)
		assert.True(t, IsBusinessError(err))
		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, "insufficient balance", apiErr.Message)
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "business errors are not retried")
	})

	t.Run("ServerErrorIsRetried", func(t *testing.T) {
		var calls int32
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&calls, 1) < 3 {
				writeJSON(w, http.StatusBadGateway, `{"message":"upstream down"}`)
				return
			}
			writeJSON(w, http.StatusOK, `{"ok":true,"tradeId":7}`)
		})
		rc, server := setupTestServer(handler)
		defer server.Close()

		resp, err := rc.ExecuteTrade(context.Background(), ExecuteRequest{UserID: "u1", ReferenceID: "ref-1"})
		require.NoError(t, err)
		assert.Equal(t, int64(7), *resp.FillID())
		assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	})

	t.Run("ServerErrorExhaustsRetries", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusServiceUnavailable, `{"message":"maintenance"}`)
		})
		rc, server := setupTestServer(handler)
		defer server.Close()

		_, err := rc.ExecuteTrade(context.Background(), ExecuteRequest{UserID: "u1", ReferenceID: "ref-1"})
		require.Error(t, err)
		assert.False(t, IsBusinessError(err))
		assert.Contains(t, err.Error(), "maintenance")
	})

	t.Run("Timeout", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(time.Second):
			}
		})
		rc, server := setupTestServer(handler)
		defer server.Close()
		rc.maxRetries = 1

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err := rc.ExecuteTrade(ctx, ExecuteRequest{UserID: "u1", ReferenceID: "ref-1"})
		require.Error(t, err)
		assert.False(t, IsBusinessError(err))
	})
}

func TestListFills(t *testing.T) {
	t.Run("WithCursor", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, listFillsPath, r.URL.Path)
			assert.Equal(t, "u1", r.URL.Query().Get("userId"))
			assert.Equal(t, "200", r.URL.Query().Get("limit"))
			assert.Equal(t, "90", r.URL.Query().Get("cursorId"))
			writeJSON(w, http.StatusOK, `{"ok":true,"rows":[
				{"id":89,"reference_id":"r89","symbol":"ETHUSDT","side":"SELL","qty":"1","price":3000,"status":"REVERSED"},
				{"id":"70","reference_id":"r70","symbol":"ETHUSDT","side":"SELL","qty":"2","price":"2999.1"}
			],"nextCursorId":70}`)
		})
		rc, server := setupTestServer(handler)
		defer server.Close()

		cursor := int64(90)
		resp, err := rc.ListFills(context.Background(), ListFillsRequest{UserID: "u1", Limit: 200, CursorID: &cursor})
		require.NoError(t, err)
		require.Len(t, resp.Rows, 2)
		assert.Equal(t, ID(89), resp.Rows[0].ID)
		assert.Equal(t, Decimal("3000"), resp.Rows[0].Price)
		assert.Equal(t, ID(70), resp.Rows[1].ID)
		assert.Equal(t, int64(70), *resp.NextCursorID.Int64())
	})

	t.Run("WithoutCursor", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.False(t, r.URL.Query().Has("cursorId"))
			writeJSON(w, http.StatusOK, `{"ok":true,"rows":[]}`)
		})
		rc, server := setupTestServer(handler)
		defer server.Close()

		resp, err := rc.ListFills(context.Background(), ListFillsRequest{UserID: "u1", Limit: 50})
		require.NoError(t, err)
		assert.Empty(t, resp.Rows)
		assert.Nil(t, resp.NextCursorID)
	})
}
