package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirphl/amm-limit-orders/internal/db"
	"github.com/amirphl/amm-limit-orders/internal/executor"
	"github.com/amirphl/amm-limit-orders/internal/order"
	"github.com/amirphl/amm-limit-orders/internal/types"
)

var usdc = types.Contract(common.HexToAddress("0x00000000000000000000000000000000000000c1"))

type stubOracle struct {
	mu    sync.Mutex
	price decimal.Decimal
	err   error
	calls int
}

func (o *stubOracle) set(price string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if price != "" {
		o.price = decimal.RequireFromString(price)
	}
	o.err = err
}

func (o *stubOracle) CurrentPrice(context.Context, types.TokenRef, types.TokenRef) (decimal.Decimal, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	return o.price, o.err
}

func (o *stubOracle) Calls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls
}

// storeExecutor marks orders executed in the store, like the real executor.
type storeExecutor struct {
	store       order.Store
	calls       atomic.Int32
	delay       time.Duration
	interrupted atomic.Bool
}

func (e *storeExecutor) Execute(ctx context.Context, o order.LimitOrder) (executor.Result, error) {
	e.calls.Add(1)
	time.Sleep(e.delay)
	if e.interrupted.Load() {
		return executor.Result{}, fmt.Errorf("%w: order %s: %w", executor.ErrInterrupted, o.ID, context.Canceled)
	}
	updated, err := e.store.SetStatus(context.WithoutCancel(ctx), o.ID, order.StatusExecuted, order.Transition{TxReference: "0xabc"})
	return executor.Result{Order: updated, TxReference: "0xabc"}, err
}

type fixture struct {
	sched   *Scheduler
	store   *db.MemoryStorage
	oracle  *stubOracle
	exec    *storeExecutor
	metrics *Metrics
}

func newFixture(t *testing.T, interval time.Duration) *fixture {
	t.Helper()
	log, _ := test.NewNullLogger()
	store := db.NewMemory()
	o := &stubOracle{price: decimal.NewFromInt(2500)}
	exec := &storeExecutor{store: store}
	metrics := NewMetrics(prometheus.NewRegistry())
	return &fixture{
		sched:   New(store, o, exec, interval, metrics, log),
		store:   store,
		oracle:  o,
		exec:    exec,
		metrics: metrics,
	}
}

func (f *fixture) create(t *testing.T, dir order.Direction, target string) string {
	t.Helper()
	o, err := order.New(order.CreateRequest{
		OwnerID:     "alice",
		TokenIn:     types.Native(),
		TokenOut:    usdc,
		Amount:      decimal.NewFromInt(1),
		TargetPrice: decimal.RequireFromString(target),
		Direction:   dir,
	})
	require.NoError(t, err)
	id, err := f.store.Create(context.Background(), o)
	require.NoError(t, err)
	return id
}

func TestTick(t *testing.T) {
	tests := []struct {
		name       string
		dir        order.Direction
		target     string
		price      string
		oracleErr  error
		cancel     bool
		want       State
		wantExec   int32
		wantOracle int
	}{
		{name: "above met at equality", dir: order.DirectionAbove, target: "2500", price: "2500", want: StateFired, wantExec: 1, wantOracle: 1},
		{name: "above not met", dir: order.DirectionAbove, target: "3000", price: "2500", want: StateRescheduled, wantOracle: 1},
		{name: "below met", dir: order.DirectionBelow, target: "2600", price: "2500", want: StateFired, wantExec: 1, wantOracle: 1},
		{name: "below not met", dir: order.DirectionBelow, target: "2000", price: "2500", want: StateRescheduled, wantOracle: 1},
		{name: "oracle failure is transient", dir: order.DirectionAbove, target: "1", price: "2500", oracleErr: types.ErrPoolNotFound, want: StateRescheduled, wantOracle: 1},
		{name: "cancelled order skips oracle", dir: order.DirectionAbove, target: "1", price: "2500", cancel: true, want: StateStopped},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, time.Hour)
			f.oracle.set(tt.price, tt.oracleErr)
			id := f.create(t, tt.dir, tt.target)
			if tt.cancel {
				_, err := f.store.SetStatus(context.Background(), id, order.StatusCancelled, order.Transition{})
				require.NoError(t, err)
			}

			assert.Equal(t, tt.want, f.sched.Tick(context.Background(), id))
			assert.Equal(t, tt.wantExec, f.exec.calls.Load())
			assert.Equal(t, tt.wantOracle, f.oracle.Calls())
			assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Ticks.WithLabelValues(string(tt.want))))
		})
	}
}

func TestTick_UnknownOrderStops(t *testing.T) {
	f := newFixture(t, time.Hour)
	assert.Equal(t, StateStopped, f.sched.Tick(context.Background(), "missing"))
	assert.Zero(t, f.oracle.Calls())
}

func TestTick_OracleRecovers(t *testing.T) {
	f := newFixture(t, time.Hour)
	id := f.create(t, order.DirectionAbove, "2000")

	f.oracle.set("", errors.New("rpc timeout"))
	assert.Equal(t, StateRescheduled, f.sched.Tick(context.Background(), id))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.OracleFailures))

	f.oracle.set("", nil)
	assert.Equal(t, StateFired, f.sched.Tick(context.Background(), id))
	assert.Equal(t, int32(1), f.exec.calls.Load())
}

func TestTick_InterruptedExecutionLeavesPending(t *testing.T) {
	f := newFixture(t, time.Hour)
	id := f.create(t, order.DirectionAbove, "2000")

	f.exec.interrupted.Store(true)
	assert.Equal(t, StateStopped, f.sched.Tick(context.Background(), id))
	o, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPending, o.Status)

	// The next run picks the order up again.
	f.exec.interrupted.Store(false)
	assert.Equal(t, StateFired, f.sched.Tick(context.Background(), id))
	o, err = f.store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, order.StatusExecuted, o.Status)
	assert.Equal(t, int32(2), f.exec.calls.Load())
}

func TestTick_ConcurrentTicksExecuteOnce(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.exec.delay = 5 * time.Millisecond
	id := f.create(t, order.DirectionAbove, "2000")

	var wg sync.WaitGroup
	states := make(chan State, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			states <- f.sched.Tick(context.Background(), id)
		}()
	}
	wg.Wait()
	close(states)

	counts := map[State]int{}
	for s := range states {
		counts[s]++
	}
	assert.Equal(t, 1, counts[StateFired])
	assert.Equal(t, 7, counts[StateStopped])
	assert.Equal(t, int32(1), f.exec.calls.Load())

	o, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, order.StatusExecuted, o.Status)
}

func TestScheduler_WatchFiresOnceConditionHolds(t *testing.T) {
	f := newFixture(t, 5*time.Millisecond)
	f.oracle.set("1500", nil)
	id := f.create(t, order.DirectionAbove, "2000")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, f.sched.Start(ctx))
	defer f.sched.Stop()
	assert.Equal(t, 1, f.sched.Active(), "pending order resumed on start")
	assert.False(t, f.sched.Watch(id), "duplicate watch ignored")

	assert.Eventually(t, func() bool { return f.oracle.Calls() >= 2 }, time.Second, time.Millisecond)
	assert.Zero(t, f.exec.calls.Load())

	f.oracle.set("2100", nil)
	assert.Eventually(t, func() bool { return f.sched.Active() == 0 }, time.Second, time.Millisecond)
	assert.Equal(t, int32(1), f.exec.calls.Load())
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.ActiveTasks))
}

func TestScheduler_CancelledOrderStopsTask(t *testing.T) {
	f := newFixture(t, 5*time.Millisecond)
	f.oracle.set("1500", nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, f.sched.Start(ctx))
	defer f.sched.Stop()

	id := f.create(t, order.DirectionAbove, "2000")
	require.True(t, f.sched.Watch(id))
	_, err := f.store.SetStatus(ctx, id, order.StatusCancelled, order.Transition{})
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return f.sched.Active() == 0 }, time.Second, time.Millisecond)
	f.oracle.set("2100", nil)
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, f.exec.calls.Load())
}

func TestScheduler_StartResumesOnlyPending(t *testing.T) {
	f := newFixture(t, time.Hour)
	a := f.create(t, order.DirectionAbove, "3000")
	b := f.create(t, order.DirectionBelow, "1000")
	c := f.create(t, order.DirectionAbove, "3000")
	_, err := f.store.SetStatus(context.Background(), c, order.StatusCancelled, order.Transition{})
	require.NoError(t, err)

	require.NoError(t, f.sched.Start(context.Background()))
	assert.Equal(t, 2, f.sched.Active())
	for _, id := range []string{a, b} {
		state, ok := f.sched.State(id)
		assert.True(t, ok)
		assert.Equal(t, StateScheduled, state)
	}
	_, ok := f.sched.State(c)
	assert.False(t, ok)

	f.sched.Stop()
	assert.Zero(t, f.sched.Active())
	assert.False(t, f.sched.Watch(a), "stopped scheduler accepts no tasks")
	assert.Error(t, f.sched.Start(context.Background()))
}
