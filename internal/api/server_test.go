package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirphl/amm-limit-orders/internal/cache"
	"github.com/amirphl/amm-limit-orders/internal/chain"
	"github.com/amirphl/amm-limit-orders/internal/chain/chaintest"
	"github.com/amirphl/amm-limit-orders/internal/db"
	"github.com/amirphl/amm-limit-orders/internal/engine"
	"github.com/amirphl/amm-limit-orders/internal/oracle"
	"github.com/amirphl/amm-limit-orders/internal/order"
	"github.com/amirphl/amm-limit-orders/internal/types"
)

const usdcHex = "0x00000000000000000000000000000000000000c1"

var weth = common.HexToAddress("0x00000000000000000000000000000000000000e1")

type nopWatcher struct{}

func (nopWatcher) Watch(string) bool { return true }

func setupRouter(t *testing.T) *mux.Router {
	t.Helper()
	log, _ := test.NewNullLogger()
	fake := chaintest.New()
	usdc := common.HexToAddress(usdcHex)
	fake.SetDecimals(usdc, 6)
	fake.AddPool(weth, usdc, types.FeeTierMedium, new(big.Int).Mul(big.NewInt(10), big.NewInt(1e18)), big.NewInt(25_000_000_000))
	tokens := chain.NewTokens(fake, cache.NewMemory(), weth, log)

	store := db.NewMemory()
	svc := engine.NewService(store, store, nopWatcher{}, oracle.NewPoolOracle(fake, tokens, types.DefaultFeeTiers), tokens, 100, log)

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "limitorder_test_total", Help: "test"}))
	return NewRouter(NewHandler(svc, log), reg)
}

func do(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func createOrder(t *testing.T, router http.Handler, owner string) string {
	t.Helper()
	w := do(t, router, "POST", "/v1/orders", map[string]any{
		"owner_id":     owner,
		"token_in":     "native",
		"token_out":    usdcHex,
		"amount":       "1.5",
		"target_price": "3000",
		"direction":    "above",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.NotEmpty(t, resp["id"])
	return resp["id"]
}

func TestAPI_OrderLifecycle(t *testing.T) {
	router := setupRouter(t)
	id := createOrder(t, router, "alice")

	w := do(t, router, "GET", "/v1/orders/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got order.LimitOrder
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	assert.Equal(t, id, got.ID)
	assert.Equal(t, order.StatusPending, got.Status)
	assert.True(t, got.TokenIn.IsNative())
	assert.Equal(t, "3000", got.TargetPrice.String())

	w = do(t, router, "GET", "/v1/orders?owner_id=alice&status=pending", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Orders []order.LimitOrder `json:"orders"`
		Total  int                `json:"total"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&list))
	assert.Equal(t, 1, list.Total)

	w = do(t, router, "DELETE", "/v1/orders/"+id+"?owner_id=bob", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(t, router, "DELETE", "/v1/orders/"+id+"?owner_id=alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	assert.Equal(t, order.StatusCancelled, got.Status)

	w = do(t, router, "DELETE", "/v1/orders/"+id+"?owner_id=alice", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, router, "GET", "/v1/orders?owner_id=alice&status=pending", nil)
	require.NoError(t, json.NewDecoder(w.Body).Decode(&list))
	assert.Equal(t, 0, list.Total)
	assert.NotNil(t, list.Orders)
}

func TestAPI_Errors(t *testing.T) {
	router := setupRouter(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"malformed body", "POST", "/v1/orders", "not an object", http.StatusBadRequest},
		{"bad token", "POST", "/v1/orders", map[string]any{"owner_id": "a", "token_in": "eth", "token_out": usdcHex, "amount": "1", "target_price": "1", "direction": "above"}, http.StatusBadRequest},
		{"invalid order", "POST", "/v1/orders", map[string]any{"owner_id": "a", "token_in": "native", "token_out": usdcHex, "amount": "0", "target_price": "1", "direction": "above"}, http.StatusBadRequest},
		{"unknown order", "GET", "/v1/orders/does-not-exist", nil, http.StatusNotFound},
		{"cancel without owner", "DELETE", "/v1/orders/x", nil, http.StatusBadRequest},
		{"list without owner", "GET", "/v1/orders", nil, http.StatusBadRequest},
		{"unsupported status filter", "GET", "/v1/orders?owner_id=a&status=failed", nil, http.StatusBadRequest},
		{"quote missing pool", "GET", "/v1/quote?token_in=native&token_out=0x00000000000000000000000000000000000000d1&amount=1", nil, http.StatusUnprocessableEntity},
		{"quote bad amount", "GET", "/v1/quote?token_in=native&token_out=" + usdcHex + "&amount=lots", nil, http.StatusBadRequest},
		{"wrong method", "PUT", "/v1/orders", nil, http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, router, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}

func TestAPI_Quote(t *testing.T) {
	router := setupRouter(t)
	w := do(t, router, "GET", "/v1/quote?token_in=native&token_out="+usdcHex+"&amount=1", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var q engine.QuoteResult
	require.NoError(t, json.NewDecoder(w.Body).Decode(&q))
	assert.Equal(t, "2266.527234", q.AmountOut.String())
	assert.Equal(t, "2243.861961", q.MinOut.String())
	assert.Equal(t, uint32(100), q.SlippageBps)
}

func TestAPI_HealthAndMetrics(t *testing.T) {
	router := setupRouter(t)

	w := do(t, router, "GET", "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, router, "GET", "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "limitorder_test_total")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{types.ErrInvalidOrder.Wrap("x"), http.StatusBadRequest},
		{types.ErrUnauthorized, http.StatusForbidden},
		{fmt.Errorf("load: %w", types.ErrOrderNotFound), http.StatusNotFound},
		{types.ErrInvalidTransition, http.StatusConflict},
		{types.ErrPoolEmpty, http.StatusUnprocessableEntity},
		{errors.New("boom"), http.StatusInternalServerError},
		{context.Canceled, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), "%v", tt.err)
	}
}
