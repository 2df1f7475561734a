// Package engine is the entry point for creating, cancelling and inspecting
// limit orders.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/amirphl/amm-limit-orders/internal/executor"
	"github.com/amirphl/amm-limit-orders/internal/journal"
	"github.com/amirphl/amm-limit-orders/internal/order"
	"github.com/amirphl/amm-limit-orders/internal/swap"
	"github.com/amirphl/amm-limit-orders/internal/types"
)

// Watcher starts monitoring an order.
type Watcher interface {
	Watch(id string) bool
}

// TokenResolver maps a token reference to the contract it trades as.
type TokenResolver interface {
	Address(ref types.TokenRef) common.Address
}

// QuoteResult previews a swap against the pool's current reserves.
type QuoteResult struct {
	TokenIn     types.TokenRef  `json:"token_in"`
	TokenOut    types.TokenRef  `json:"token_out"`
	Pool        string          `json:"pool"`
	Fee         string          `json:"fee"`
	AmountIn    decimal.Decimal `json:"amount_in"`
	AmountOut   decimal.Decimal `json:"amount_out"`
	MinOut      decimal.Decimal `json:"min_amount_out"`
	FeeAmount   decimal.Decimal `json:"fee_amount"`
	SpotPrice   decimal.Decimal `json:"spot_price"`
	SlippageBps uint32          `json:"slippage_bps"`
}

type Service struct {
	store       order.Store
	journal     journal.Journaler
	watcher     Watcher
	pools       executor.PoolResolver
	tokens      TokenResolver
	slippageBps uint32
	log         logrus.FieldLogger
}

func NewService(store order.Store, j journal.Journaler, watcher Watcher, pools executor.PoolResolver, tokens TokenResolver, slippageBps uint32, log logrus.FieldLogger) *Service {
	return &Service{store: store, journal: j, watcher: watcher, pools: pools, tokens: tokens, slippageBps: slippageBps, log: log}
}

// CreateOrder validates and stores a new pending order and starts monitoring it.
func (s *Service) CreateOrder(ctx context.Context, req order.CreateRequest) (string, error) {
	o, err := order.New(req)
	if err != nil {
		return "", err
	}
	// Native trades as the wrapped token, so the pair could never resolve.
	if s.tokens.Address(o.TokenIn) == s.tokens.Address(o.TokenOut) {
		return "", types.ErrInvalidOrder.Wrapf("%s and %s are the same contract", o.TokenIn, o.TokenOut)
	}
	id, err := s.store.Create(ctx, o)
	if err != nil {
		return "", err
	}

	log := s.log.WithFields(logrus.Fields{"order_id": id, "owner_id": o.OwnerID})
	s.logEvent(ctx, journal.Event{
		Time:        time.Now(),
		Type:        journal.TypeOrderCreated,
		Description: fmt.Sprintf("Order %s created: %s %s to %s when price %s %s", id, o.Amount, o.TokenIn, o.TokenOut, o.Direction, o.TargetPrice),
		Data: map[string]any{
			"order_id":     id,
			"owner_id":     o.OwnerID,
			"token_in":     o.TokenIn.String(),
			"token_out":    o.TokenOut.String(),
			"amount":       o.Amount.String(),
			"target_price": o.TargetPrice.String(),
			"direction":    string(o.Direction),
		},
	}, log)

	if !s.watcher.Watch(id) {
		log.Warn("Engine | Order stored but not scheduled")
	}
	log.Info("Engine | Order created")
	return id, nil
}

// CancelOrder moves ownerID's pending order to cancelled. Its monitoring task
// stops at its next tick.
func (s *Service) CancelOrder(ctx context.Context, id, ownerID string) (order.LimitOrder, error) {
	o, err := s.store.Get(ctx, id)
	if err != nil {
		return order.LimitOrder{}, err
	}
	if o.OwnerID != ownerID {
		return order.LimitOrder{}, types.ErrUnauthorized.Wrapf("order %s does not belong to %q", id, ownerID)
	}
	cancelled, err := s.store.SetStatus(ctx, id, order.StatusCancelled, order.Transition{ExecutedAt: time.Now()})
	if err != nil {
		return order.LimitOrder{}, err
	}

	log := s.log.WithFields(logrus.Fields{"order_id": id, "owner_id": ownerID})
	s.logEvent(ctx, journal.Event{
		Time:        time.Now(),
		Type:        journal.TypeOrderCancelled,
		Description: fmt.Sprintf("Order %s cancelled by owner", id),
		Data:        map[string]any{"order_id": id, "owner_id": ownerID},
	}, log)
	log.Info("Engine | Order cancelled")
	return cancelled, nil
}

func (s *Service) GetOrder(ctx context.Context, id string) (order.LimitOrder, error) {
	return s.store.Get(ctx, id)
}

// ListOrders returns the owner's orders, newest first, or only the pending
// ones when pendingOnly is set.
func (s *Service) ListOrders(ctx context.Context, ownerID string, pendingOnly bool) ([]order.LimitOrder, error) {
	if ownerID == "" {
		return nil, types.ErrInvalidInput.Wrap("owner id is required")
	}
	if pendingOnly {
		return s.store.ListPending(ctx, ownerID)
	}
	return s.store.ListByOwner(ctx, ownerID)
}

// Quote previews swapping amount of tokenIn at the current reserves.
func (s *Service) Quote(ctx context.Context, tokenIn, tokenOut types.TokenRef, amount decimal.Decimal) (QuoteResult, error) {
	if !amount.IsPositive() {
		return QuoteResult{}, types.ErrInvalidInput.Wrapf("amount must be positive, got %s", amount)
	}
	pool, err := s.pools.ResolvePool(ctx, tokenIn, tokenOut)
	if err != nil {
		return QuoteResult{}, err
	}
	amountIn, err := swap.ToUnits(amount, pool.DecimalsIn)
	if err != nil {
		return QuoteResult{}, err
	}
	if !amountIn.IsPositive() {
		return QuoteResult{}, types.ErrInvalidInput.Wrapf("amount %s is below the token's precision", amount)
	}
	q, err := swap.Quote(pool.ReserveIn, pool.ReserveOut, amountIn, pool.Fee.Bps())
	if err != nil {
		return QuoteResult{}, err
	}
	minOut, err := swap.MinOutputWithSlippage(q.AmountOut, s.slippageBps)
	if err != nil {
		return QuoteResult{}, err
	}
	spot, err := pool.SpotPrice()
	if err != nil {
		return QuoteResult{}, err
	}

	return QuoteResult{
		TokenIn:     tokenIn,
		TokenOut:    tokenOut,
		Pool:        pool.Address.Hex(),
		Fee:         pool.Fee.String(),
		AmountIn:    swap.FromUnits(amountIn, pool.DecimalsIn),
		AmountOut:   swap.FromUnits(q.AmountOut, pool.DecimalsOut),
		MinOut:      swap.FromUnits(minOut, pool.DecimalsOut),
		FeeAmount:   swap.FromUnits(q.FeeAmount, pool.DecimalsIn),
		SpotPrice:   spot,
		SlippageBps: s.slippageBps,
	}, nil
}

func (s *Service) logEvent(ctx context.Context, e journal.Event, log logrus.FieldLogger) {
	if err := s.journal.LogEvent(ctx, e); err != nil {
		log.WithError(err).Error("Engine | Failed to journal event")
	}
}
