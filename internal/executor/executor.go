// Package executor performs the on-chain approve and swap for an order whose
// price condition has fired, then records and announces the outcome.
package executor

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/amirphl/amm-limit-orders/internal/chain"
	"github.com/amirphl/amm-limit-orders/internal/journal"
	"github.com/amirphl/amm-limit-orders/internal/notifier"
	"github.com/amirphl/amm-limit-orders/internal/oracle"
	"github.com/amirphl/amm-limit-orders/internal/order"
	"github.com/amirphl/amm-limit-orders/internal/swap"
	"github.com/amirphl/amm-limit-orders/internal/types"
	"github.com/amirphl/amm-limit-orders/internal/wallet"
)

// ErrInterrupted is returned by Execute when its context ended before the
// swap was broadcast. The order is left pending.
var ErrInterrupted = errors.New("executor: execution interrupted")

// Reason classifies an execution failure.
type Reason string

const (
	ReasonRevert              Reason = "revert"
	ReasonInsufficientBalance Reason = "insufficient balance"
	ReasonDeadlineExceeded    Reason = "deadline exceeded"
	ReasonConfirmationTimeout Reason = "confirmation timeout"
	ReasonPrecondition        Reason = "precondition"
)

// ExecutionFailure is a terminal failure of one execution attempt.
type ExecutionFailure struct {
	Reason      Reason
	Detail      string
	TxReference string
}

func (f *ExecutionFailure) Error() string {
	if f.Detail == "" {
		return string(f.Reason)
	}
	return fmt.Sprintf("%s: %s", f.Reason, f.Detail)
}

func (f *ExecutionFailure) Unwrap() error { return types.ErrExecutionFailure }

// Result is the outcome of Execute. Exactly one of Failure and a non-empty
// TxReference is set.
type Result struct {
	Order       order.LimitOrder
	TxReference string
	AmountIn    math.Int
	// ExpectedOut is the quoted output the swap was guarded against.
	ExpectedOut math.Int
	MinOut      math.Int
	Failure     *ExecutionFailure

	swapSent bool
}

func (r Result) Succeeded() bool { return r.Failure == nil }

// PoolResolver reads a pair's pool with fresh reserves.
type PoolResolver interface {
	ResolvePool(ctx context.Context, tokenIn, tokenOut types.TokenRef) (oracle.Pool, error)
}

// Dispatcher informs owners of terminal transitions.
type Dispatcher interface {
	Notify(ctx context.Context, n notifier.Notification) error
}

const (
	defaultPersistAttempts = 5
	defaultPersistDelay    = 500 * time.Millisecond
	maxPersistDelay        = 10 * time.Second
)

// Config holds the execution parameters.
type Config struct {
	Router      common.Address
	SlippageBps uint32
	TxDeadline  time.Duration
	// PersistAttempts and PersistDelay bound retries of the final status
	// write. Zero values use the defaults.
	PersistAttempts int
	PersistDelay    time.Duration
}

type Executor struct {
	cfg      Config
	client   chain.Client
	tokens   *chain.Tokens
	pools    PoolResolver
	wallets  wallet.Provider
	store    order.Store
	journal  journal.Journaler
	dispatch Dispatcher
	metrics  *Metrics
	log      logrus.FieldLogger
	now      func() time.Time
	sleep    func(time.Duration)
}

func New(
	cfg Config,
	client chain.Client,
	tokens *chain.Tokens,
	pools PoolResolver,
	wallets wallet.Provider,
	store order.Store,
	j journal.Journaler,
	dispatch Dispatcher,
	metrics *Metrics,
	log logrus.FieldLogger,
) *Executor {
	if cfg.PersistAttempts <= 0 {
		cfg.PersistAttempts = defaultPersistAttempts
	}
	if cfg.PersistDelay <= 0 {
		cfg.PersistDelay = defaultPersistDelay
	}
	return &Executor{
		cfg:      cfg,
		client:   client,
		tokens:   tokens,
		pools:    pools,
		wallets:  wallets,
		store:    store,
		journal:  j,
		dispatch: dispatch,
		metrics:  metrics,
		log:      log,
		now:      time.Now,
		sleep:    time.Sleep,
	}
}

// Execute swaps o on chain and moves it to executed or failed. Execution
// failures are recorded on the order and returned in Result with a nil
// error; the error is reserved for failures to record the outcome, such as
// the order having already left pending, and for ErrInterrupted.
func (e *Executor) Execute(ctx context.Context, o order.LimitOrder) (Result, error) {
	log := e.log.WithFields(logrus.Fields{"order_id": o.ID, "owner_id": o.OwnerID})
	start := e.now()

	res := e.attempt(ctx, o, log)
	if res.Failure != nil && !res.swapSent && ctx.Err() != nil {
		log.WithField("detail", res.Failure.Detail).Warn("Executor | Interrupted before the swap was sent, order stays pending")
		return res, fmt.Errorf("%w: order %s: %w", ErrInterrupted, o.ID, ctx.Err())
	}

	// Once the swap may be on chain the outcome is persisted even when ctx
	// was cancelled, so a restart never resubmits it.
	persistCtx := context.WithoutCancel(ctx)
	tr := order.Transition{ExecutedAt: e.now()}
	to := order.StatusExecuted
	if res.Failure != nil {
		to = order.StatusFailed
		tr.Reason = res.Failure.Error()
	} else {
		tr.TxReference = res.TxReference
	}

	updated, err := e.persist(persistCtx, o.ID, to, tr, log)
	if err != nil {
		log.WithError(err).WithField("status", to).Error("Executor | Failed to record execution outcome")
		return res, fmt.Errorf("record %s for order %s: %w", to, o.ID, err)
	}
	res.Order = updated
	e.metrics.observe(res, e.now().Sub(start))

	e.record(persistCtx, updated, res, log)
	return res, nil
}

func (e *Executor) attempt(ctx context.Context, o order.LimitOrder, log logrus.FieldLogger) Result {
	res := Result{AmountIn: math.ZeroInt(), ExpectedOut: math.ZeroInt(), MinOut: math.ZeroInt()}
	fail := func(reason Reason, detail string, tx string) Result {
		res.Failure = &ExecutionFailure{Reason: reason, Detail: detail, TxReference: tx}
		return res
	}

	signer, err := e.wallets.SignerFor(o.OwnerID)
	if err != nil {
		return fail(ReasonPrecondition, fmt.Sprintf("no signer: %v", err), "")
	}

	pool, err := e.pools.ResolvePool(ctx, o.TokenIn, o.TokenOut)
	if err != nil {
		return fail(ReasonPrecondition, fmt.Sprintf("pool unavailable: %v", err), "")
	}

	amountIn, err := swap.ToUnits(o.Amount, pool.DecimalsIn)
	if err != nil {
		return fail(ReasonPrecondition, err.Error(), "")
	}
	if !amountIn.IsPositive() {
		return fail(ReasonPrecondition, fmt.Sprintf("amount %s rounds to zero at %d decimals", o.Amount, pool.DecimalsIn), "")
	}
	res.AmountIn = amountIn

	quote, err := swap.Quote(pool.ReserveIn, pool.ReserveOut, amountIn, pool.Fee.Bps())
	if err != nil {
		return fail(ReasonPrecondition, fmt.Sprintf("quote: %v", err), "")
	}
	minOut, err := swap.MinOutputWithSlippage(quote.AmountOut, e.cfg.SlippageBps)
	if err != nil {
		return fail(ReasonPrecondition, fmt.Sprintf("slippage: %v", err), "")
	}
	if !minOut.IsPositive() {
		return fail(ReasonPrecondition, fmt.Sprintf("quoted output %s leaves no room for %d bps slippage", quote.AmountOut, e.cfg.SlippageBps), "")
	}
	res.ExpectedOut = quote.AmountOut
	res.MinOut = minOut
	log = log.WithFields(logrus.Fields{
		"pool":       pool.Address.Hex(),
		"fee":        pool.Fee.String(),
		"amount_in":  amountIn.String(),
		"expected":   quote.AmountOut.String(),
		"min_output": minOut.String(),
	})

	from := signer.Address()
	balance, err := e.tokens.Balance(ctx, o.TokenIn, from)
	if err != nil {
		return fail(ReasonPrecondition, fmt.Sprintf("balance check: %v", err), "")
	}
	if balance.Cmp(amountIn.BigInt()) < 0 {
		return fail(ReasonInsufficientBalance, fmt.Sprintf("have %s, need %s", balance, amountIn), "")
	}

	if tokenAddr, ok := o.TokenIn.Address(); ok {
		data, err := chain.PackApprove(e.cfg.Router, amountIn.BigInt())
		if err != nil {
			return fail(ReasonPrecondition, err.Error(), "")
		}
		log.Info("Executor | Approving router")
		rcpt, err := e.client.SendTransaction(ctx, signer, tokenAddr, data, nil)
		if f := classify("approve", rcpt, err, time.Time{}); f != nil {
			return fail(f.Reason, f.Detail, f.TxReference)
		}
	}

	deadline := e.now().Add(e.cfg.TxDeadline)
	data, err := chain.PackSwapExactInputSingle(chain.SwapParams{
		TokenIn:          e.tokens.Address(o.TokenIn),
		TokenOut:         e.tokens.Address(o.TokenOut),
		Fee:              pool.Fee,
		Recipient:        from,
		AmountIn:         amountIn.BigInt(),
		AmountOutMinimum: minOut.BigInt(),
		Deadline:         deadline,
	})
	if err != nil {
		return fail(ReasonPrecondition, err.Error(), "")
	}
	var value *big.Int
	if o.TokenIn.IsNative() {
		value = amountIn.BigInt()
	}

	log.Info("Executor | Submitting swap")
	rcpt, err := e.client.SendTransaction(ctx, signer, e.cfg.Router, data, value)
	res.swapSent = err == nil || hashOrEmpty(rcpt) != ""
	if f := classify("swap", rcpt, err, deadline); f != nil {
		return fail(f.Reason, f.Detail, f.TxReference)
	}
	res.TxReference = rcpt.TxHash.Hex()
	return res
}

// persist writes the terminal status, retrying transient store errors with
// exponential backoff. Transition and lookup errors are final.
func (e *Executor) persist(ctx context.Context, id string, to order.Status, tr order.Transition, log logrus.FieldLogger) (order.LimitOrder, error) {
	delay := e.cfg.PersistDelay
	var err error
	for i := 1; i <= e.cfg.PersistAttempts; i++ {
		var updated order.LimitOrder
		updated, err = e.store.SetStatus(ctx, id, to, tr)
		if err == nil {
			return updated, nil
		}
		if errors.Is(err, types.ErrInvalidTransition) || errors.Is(err, types.ErrOrderNotFound) || i == e.cfg.PersistAttempts {
			break
		}
		log.WithError(err).Warnf("Executor | Persist attempt %d/%d failed, backing off for %v", i, e.cfg.PersistAttempts, delay)
		e.sleep(delay)
		delay = min(delay*2, maxPersistDelay)
	}
	return order.LimitOrder{}, err
}

// classify maps a transaction outcome to a failure, or nil on success.
// deadline, when set, distinguishes deadline reverts from other reverts.
func classify(step string, rcpt chain.Receipt, err error, deadline time.Time) *ExecutionFailure {
	if err != nil {
		msg := strings.ToLower(err.Error())
		switch {
		case errors.Is(err, chain.ErrNotConfirmed):
			return &ExecutionFailure{Reason: ReasonConfirmationTimeout, Detail: fmt.Sprintf("%s: %v", step, err), TxReference: hashOrEmpty(rcpt)}
		case strings.Contains(msg, "insufficient funds"):
			return &ExecutionFailure{Reason: ReasonInsufficientBalance, Detail: fmt.Sprintf("%s: %v", step, err)}
		case strings.Contains(msg, "execution reverted"):
			return &ExecutionFailure{Reason: ReasonRevert, Detail: fmt.Sprintf("%s: %v", step, err)}
		default:
			return &ExecutionFailure{Reason: ReasonPrecondition, Detail: fmt.Sprintf("%s not sent: %v", step, err)}
		}
	}
	if rcpt.Succeeded() {
		return nil
	}
	tx := rcpt.TxHash.Hex()
	if !deadline.IsZero() && !rcpt.BlockTime.IsZero() && rcpt.BlockTime.After(deadline) {
		return &ExecutionFailure{Reason: ReasonDeadlineExceeded, Detail: fmt.Sprintf("%s mined at %s after deadline %s", step, rcpt.BlockTime.Format(time.RFC3339), deadline.UTC().Format(time.RFC3339)), TxReference: tx}
	}
	return &ExecutionFailure{Reason: ReasonRevert, Detail: fmt.Sprintf("%s reverted in block %d", step, rcpt.BlockNumber), TxReference: tx}
}

func hashOrEmpty(r chain.Receipt) string {
	if r.TxHash == (common.Hash{}) {
		return ""
	}
	return r.TxHash.Hex()
}

func (e *Executor) record(ctx context.Context, o order.LimitOrder, res Result, log logrus.FieldLogger) {
	decOut := types.NativeDecimals
	if d, err := e.tokens.Decimals(ctx, o.TokenOut); err == nil {
		decOut = d
	}
	expected := swap.FromUnits(res.ExpectedOut, decOut)

	n := notifier.Notification{
		OrderID:   o.ID,
		OwnerID:   o.OwnerID,
		TokenIn:   o.TokenIn,
		TokenOut:  o.TokenOut,
		AmountIn:  o.Amount,
		AmountOut: expected,
	}
	event := journal.Event{
		Time: e.now(),
		Data: map[string]any{
			"order_id":     o.ID,
			"owner_id":     o.OwnerID,
			"amount_in":    res.AmountIn.String(),
			"expected_out": res.ExpectedOut.String(),
			"min_out":      res.MinOut.String(),
		},
	}

	if res.Failure != nil {
		n.Outcome = notifier.OutcomeFailed
		n.Reason = res.Failure.Error()
		n.Reference = res.Failure.TxReference
		event.Type = journal.TypeOrderFailed
		event.Description = fmt.Sprintf("Order %s failed: %s", o.ID, res.Failure)
		event.Data["reason"] = string(res.Failure.Reason)
		event.Data["tx"] = res.Failure.TxReference
		log.WithField("reason", res.Failure.Reason).Warnf("Executor | Order failed: %s", res.Failure)
	} else {
		n.Outcome = notifier.OutcomeExecuted
		n.Reference = res.TxReference
		event.Type = journal.TypeOrderExecuted
		event.Description = fmt.Sprintf("Order %s executed in %s", o.ID, res.TxReference)
		event.Data["tx"] = res.TxReference
		log.WithField("tx", res.TxReference).Info("Executor | Order executed")
	}

	if err := e.journal.LogEvent(ctx, event); err != nil {
		log.WithError(err).Error("Executor | Failed to journal execution")
	}
	if err := e.dispatch.Notify(ctx, n); err != nil {
		log.WithError(err).Warn("Executor | Owner notification not delivered")
	}
}

