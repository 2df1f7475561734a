// Package order
package order

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/amirphl/amm-limit-orders/internal/types"
)

// Status is the lifecycle state of a limit order. Only StatusPending is non-terminal.
type Status string

const (
	StatusPending   Status = "pending"
	StatusExecuted  Status = "executed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

func (s Status) IsTerminal() bool {
	return s == StatusExecuted || s == StatusFailed || s == StatusCancelled
}

func (s Status) Valid() bool {
	return s == StatusPending || s.IsTerminal()
}

// ParseStatus parses a status name, case-insensitively.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", types.ErrInvalidInput.Wrapf("unknown order status %q", s)
	}
	return st, nil
}

// Direction selects which side of the target price fires the order.
type Direction string

const (
	// DirectionAbove fires when price >= target.
	DirectionAbove Direction = "above"
	// DirectionBelow fires when price <= target.
	DirectionBelow Direction = "below"
)

func ParseDirection(s string) (Direction, error) {
	d := Direction(strings.ToLower(strings.TrimSpace(s)))
	if d != DirectionAbove && d != DirectionBelow {
		return "", types.ErrInvalidInput.Wrapf("direction must be %q or %q, got %q", DirectionAbove, DirectionBelow, s)
	}
	return d, nil
}

// LimitOrder is a persisted conditional swap request.
type LimitOrder struct {
	ID          string          `json:"id"`
	OwnerID     string          `json:"owner_id"`
	TokenIn     types.TokenRef  `json:"token_in"`
	TokenOut    types.TokenRef  `json:"token_out"`
	Amount      decimal.Decimal `json:"amount"`
	TargetPrice decimal.Decimal `json:"target_price"`
	Direction   Direction       `json:"direction"`
	Status      Status          `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	// ExecutedAt is set once, when the order leaves pending.
	ExecutedAt    *time.Time `json:"executed_at,omitempty"`
	TxReference   string     `json:"tx_reference,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`
}

// CreateRequest carries the caller-supplied fields of a new order.
type CreateRequest struct {
	OwnerID     string          `json:"owner_id"`
	TokenIn     types.TokenRef  `json:"token_in"`
	TokenOut    types.TokenRef  `json:"token_out"`
	Amount      decimal.Decimal `json:"amount"`
	TargetPrice decimal.Decimal `json:"target_price"`
	Direction   Direction       `json:"direction"`
}

// New builds a validated pending order from req. ID and CreatedAt are left
// for the store to assign.
func New(req CreateRequest) (LimitOrder, error) {
	o := LimitOrder{
		OwnerID:     strings.TrimSpace(req.OwnerID),
		TokenIn:     req.TokenIn,
		TokenOut:    req.TokenOut,
		Amount:      req.Amount,
		TargetPrice: req.TargetPrice,
		Direction:   req.Direction,
		Status:      StatusPending,
	}
	if err := o.Validate(); err != nil {
		return LimitOrder{}, err
	}
	return o, nil
}

// Amounts are bounded at creation by their smallest-unit size at
// maxAmountDecimals. Tokens with more decimals are checked again on execution.
const (
	maxAmountDecimals = 18
	maxAmountBits     = 256
)

// Validate checks the order's data invariants.
func (o LimitOrder) Validate() error {
	if o.OwnerID == "" {
		return types.ErrInvalidOrder.Wrap("owner id is required")
	}
	if o.TokenIn.IsZero() || o.TokenOut.IsZero() {
		return types.ErrInvalidOrder.Wrap("both tokens are required")
	}
	if o.TokenIn.Equal(o.TokenOut) {
		return types.ErrInvalidOrder.Wrapf("token in and token out are both %s", o.TokenIn)
	}
	if !o.Amount.IsPositive() {
		return types.ErrInvalidOrder.Wrapf("amount must be positive, got %s", o.Amount)
	}
	if o.Amount.Shift(maxAmountDecimals).BigInt().BitLen() > maxAmountBits {
		return types.ErrInvalidOrder.Wrapf("amount %s is too large", o.Amount)
	}
	if !o.TargetPrice.IsPositive() {
		return types.ErrInvalidOrder.Wrapf("target price must be positive, got %s", o.TargetPrice)
	}
	if o.Direction != DirectionAbove && o.Direction != DirectionBelow {
		return types.ErrInvalidOrder.Wrapf("unknown direction %q", o.Direction)
	}
	if o.Status != "" && !o.Status.Valid() {
		return types.ErrInvalidOrder.Wrapf("unknown status %q", o.Status)
	}
	if (o.Status == StatusPending) != (o.ExecutedAt == nil) {
		return types.ErrInvalidOrder.Wrap("executed_at must be set exactly when the order is terminal")
	}
	return nil
}

func (o LimitOrder) IsPending() bool { return o.Status == StatusPending }

// ConditionMet reports whether price satisfies the order's trigger.
func (o LimitOrder) ConditionMet(price decimal.Decimal) bool {
	switch o.Direction {
	case DirectionAbove:
		return price.GreaterThanOrEqual(o.TargetPrice)
	case DirectionBelow:
		return price.LessThanOrEqual(o.TargetPrice)
	default:
		return false
	}
}

// Transition carries the data recorded when an order leaves pending.
type Transition struct {
	TxReference string
	ExecutedAt  time.Time
	Reason      string
}

// Apply returns o moved to status to. It fails with ErrInvalidTransition
// unless o is pending and to is terminal. TxReference is kept only for
// executed orders and Reason only for failed ones.
func (o LimitOrder) Apply(to Status, tr Transition) (LimitOrder, error) {
	if o.Status != StatusPending {
		return LimitOrder{}, types.ErrInvalidTransition.Wrapf("order %s is %s, cannot move to %s", o.ID, o.Status, to)
	}
	if !to.IsTerminal() {
		return LimitOrder{}, types.ErrInvalidTransition.Wrapf("order %s: %q is not a terminal status", o.ID, to)
	}
	at := tr.ExecutedAt
	if at.IsZero() {
		at = time.Now()
	}
	at = at.UTC()

	o.Status = to
	o.ExecutedAt = &at
	o.TxReference = ""
	o.FailureReason = ""
	switch to {
	case StatusExecuted:
		o.TxReference = tr.TxReference
	case StatusFailed:
		o.FailureReason = tr.Reason
	}
	return o, nil
}

// Store persists limit orders. Implementations must make SetStatus a
// compare-and-set on the pending status so that concurrent callers can never
// both move the same order out of pending.
type Store interface {
	// Create assigns an id, sets status pending and createdAt, and persists o.
	Create(ctx context.Context, o LimitOrder) (string, error)
	Get(ctx context.Context, id string) (LimitOrder, error)
	SetStatus(ctx context.Context, id string, to Status, tr Transition) (LimitOrder, error)
	// ListPending returns pending orders, for every owner when ownerID is empty.
	ListPending(ctx context.Context, ownerID string) ([]LimitOrder, error)
	// ListByOwner returns the owner's full history, newest first.
	ListByOwner(ctx context.Context, ownerID string) ([]LimitOrder, error)
}
