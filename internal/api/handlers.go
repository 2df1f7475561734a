// Package api exposes the order service over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/amirphl/amm-limit-orders/internal/engine"
	"github.com/amirphl/amm-limit-orders/internal/order"
	"github.com/amirphl/amm-limit-orders/internal/types"
)

// OrderService is what the handlers need from the engine.
type OrderService interface {
	CreateOrder(ctx context.Context, req order.CreateRequest) (string, error)
	CancelOrder(ctx context.Context, id, ownerID string) (order.LimitOrder, error)
	GetOrder(ctx context.Context, id string) (order.LimitOrder, error)
	ListOrders(ctx context.Context, ownerID string, pendingOnly bool) ([]order.LimitOrder, error)
	Quote(ctx context.Context, tokenIn, tokenOut types.TokenRef, amount decimal.Decimal) (engine.QuoteResult, error)
}

// Handler handles order API requests
type Handler struct {
	svc OrderService
	log logrus.FieldLogger
}

func NewHandler(svc OrderService, log logrus.FieldLogger) *Handler {
	return &Handler{svc: svc, log: log}
}

// RegisterRoutes registers the order routes on r.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	api := r.PathPrefix("/v1").Subrouter()

	api.HandleFunc("/orders", h.CreateOrder).Methods("POST")
	api.HandleFunc("/orders", h.ListOrders).Methods("GET")
	api.HandleFunc("/orders/{id}", h.GetOrder).Methods("GET")
	api.HandleFunc("/orders/{id}", h.CancelOrder).Methods("DELETE")
	api.HandleFunc("/quote", h.Quote).Methods("GET")
}

// CreateOrder handles POST /v1/orders
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req order.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, types.ErrInvalidInput.Wrapf("invalid request body: %v", err))
		return
	}

	id, err := h.svc.CreateOrder(r.Context(), req)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// GetOrder handles GET /v1/orders/{id}
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.svc.GetOrder(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, o)
}

// CancelOrder handles DELETE /v1/orders/{id}?owner_id=
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner_id")
	if owner == "" {
		h.respondError(w, types.ErrInvalidInput.Wrap("owner_id is required"))
		return
	}
	o, err := h.svc.CancelOrder(r.Context(), mux.Vars(r)["id"], owner)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, o)
}

// ListOrders handles GET /v1/orders?owner_id=&status=pending
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pendingOnly := false
	switch status := q.Get("status"); status {
	case "":
	case string(order.StatusPending):
		pendingOnly = true
	default:
		h.respondError(w, types.ErrInvalidInput.Wrapf("unsupported status filter %q", status))
		return
	}

	orders, err := h.svc.ListOrders(r.Context(), q.Get("owner_id"), pendingOnly)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if orders == nil {
		orders = []order.LimitOrder{}
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"orders": orders, "total": len(orders)})
}

// Quote handles GET /v1/quote?token_in=&token_out=&amount=
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	in, err := types.ParseTokenRef(q.Get("token_in"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	out, err := types.ParseTokenRef(q.Get("token_out"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	amount, err := decimal.NewFromString(q.Get("amount"))
	if err != nil {
		h.respondError(w, types.ErrInvalidInput.Wrapf("amount: %v", err))
		return
	}

	quote, err := h.svc.Quote(r.Context(), in, out, amount)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, quote)
}

// statusFor maps an error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrInvalidInput), errors.Is(err, types.ErrInvalidOrder):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, types.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, types.ErrPoolNotFound), errors.Is(err, types.ErrPoolEmpty):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.WithError(err).Warn("API | Failed to write response")
	}
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.WithError(err).Error("API | Request failed")
	}
	h.respondJSON(w, status, map[string]any{
		"error":  err.Error(),
		"status": status,
	})
}
