// Package scheduler re-evaluates every pending order at a fixed interval and
// hands orders whose price condition holds to the executor.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/amirphl/amm-limit-orders/internal/executor"
	"github.com/amirphl/amm-limit-orders/internal/oracle"
	"github.com/amirphl/amm-limit-orders/internal/order"
	"github.com/amirphl/amm-limit-orders/internal/types"
)

// State is where an order's monitoring task stands.
type State string

const (
	StateScheduled   State = "scheduled"
	StateEvaluating  State = "evaluating"
	StateRescheduled State = "rescheduled"
	StateFired       State = "fired"
	StateStopped     State = "stopped"
)

// Done reports whether the task ends after reaching s.
func (s State) Done() bool { return s == StateFired || s == StateStopped }

const DefaultInterval = time.Minute

// Executor runs a fired order.
type Executor interface {
	Execute(ctx context.Context, o order.LimitOrder) (executor.Result, error)
}

type task struct {
	id     string
	cancel context.CancelFunc
	state  State
}

type result struct {
	task  *task
	state State
}

type Scheduler struct {
	store    order.Store
	oracle   oracle.Oracle
	exec     Executor
	interval time.Duration
	metrics  *Metrics
	log      logrus.FieldLogger

	keys *keyedMutex

	// mu guards the task registry and lifecycle fields only.
	mu        sync.Mutex
	tasks     map[string]*task
	ctx       context.Context
	cancel    context.CancelFunc
	stopped   bool
	wg        sync.WaitGroup
	results   chan result
	collected chan struct{}
}

func New(store order.Store, o oracle.Oracle, exec Executor, interval time.Duration, metrics *Metrics, log logrus.FieldLogger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		store:     store,
		oracle:    o,
		exec:      exec,
		interval:  interval,
		metrics:   metrics,
		log:       log,
		keys:      newKeyedMutex(),
		tasks:     make(map[string]*task),
		results:   make(chan result, 64),
		collected: make(chan struct{}),
	}
}

// Start begins accepting tasks and resumes monitoring of every pending order
// in the store. Tasks stop when ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.ctx != nil {
		s.mu.Unlock()
		return errors.New("scheduler already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	go s.collect()

	pending, err := s.store.ListPending(ctx, "")
	if err != nil {
		return err
	}
	for _, o := range pending {
		s.Watch(o.ID)
	}
	s.log.WithField("count", len(pending)).Info("Scheduler | Started, resumed pending orders")
	return nil
}

// Stop cancels every task and waits for them to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.ctx == nil || s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	close(s.results)
	<-s.collected
	s.log.Info("Scheduler | Stopped")
}

// Watch starts monitoring order id. It returns false when the order already
// has an active task or the scheduler is not running.
func (s *Scheduler) Watch(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil || s.stopped {
		s.log.WithField("order_id", id).Warn("Scheduler | Not running, order not watched")
		return false
	}
	if _, ok := s.tasks[id]; ok {
		return false
	}

	ctx, cancel := context.WithCancel(s.ctx)
	t := &task{id: id, cancel: cancel, state: StateScheduled}
	s.tasks[id] = t
	s.metrics.active(1)
	s.wg.Add(1)
	go s.run(ctx, t)
	return true
}

// Active returns the number of orders being monitored.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// State returns the last state of id's task.
func (s *Scheduler) State(id string) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return "", false
	}
	return t.state, true
}

func (s *Scheduler) setState(id string, state State) {
	s.mu.Lock()
	if t, ok := s.tasks[id]; ok {
		t.state = state
	}
	s.mu.Unlock()
}

func (s *Scheduler) run(ctx context.Context, t *task) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.results <- result{task: t, state: StateStopped}
			return
		case <-ticker.C:
			state := s.Tick(ctx, t.id)
			if state.Done() {
				s.results <- result{task: t, state: state}
				return
			}
		}
	}
}

// collect deregisters finished tasks.
func (s *Scheduler) collect() {
	defer close(s.collected)
	for r := range s.results {
		s.mu.Lock()
		if cur, ok := s.tasks[r.task.id]; ok && cur == r.task {
			delete(s.tasks, r.task.id)
			s.metrics.active(-1)
		}
		s.mu.Unlock()
		r.task.cancel()
		s.log.WithFields(logrus.Fields{"order_id": r.task.id, "state": r.state}).Debug("Scheduler | Task finished")
	}
}

// Tick evaluates order id once. Ticks for the same id never overlap.
func (s *Scheduler) Tick(ctx context.Context, id string) State {
	unlock := s.keys.Lock(id)
	defer unlock()

	state := s.evaluate(ctx, id)
	s.setState(id, state)
	s.metrics.tick(state)
	return state
}

func (s *Scheduler) evaluate(ctx context.Context, id string) State {
	log := s.log.WithField("order_id", id)
	s.setState(id, StateEvaluating)

	o, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, types.ErrOrderNotFound) {
			log.Warn("Scheduler | Order not found, stopping")
			return StateStopped
		}
		log.WithError(err).Error("Scheduler | Failed to load order")
		return StateRescheduled
	}
	if !o.IsPending() {
		log.WithField("status", o.Status).Debug("Scheduler | Order no longer pending, stopping")
		return StateStopped
	}

	price, err := s.oracle.CurrentPrice(ctx, o.TokenIn, o.TokenOut)
	if err != nil {
		s.metrics.oracleFailure()
		log.WithError(err).Warn("Scheduler | Price unavailable, retrying next tick")
		return StateRescheduled
	}
	if !o.ConditionMet(price) {
		log.WithFields(logrus.Fields{"price": price, "target": o.TargetPrice, "direction": o.Direction}).Debug("Scheduler | Condition not met")
		return StateRescheduled
	}

	log.WithFields(logrus.Fields{"price": price, "target": o.TargetPrice, "direction": o.Direction}).Info("Scheduler | Condition met, executing")
	res, err := s.exec.Execute(ctx, o)
	switch {
	case errors.Is(err, executor.ErrInterrupted):
		log.Info("Scheduler | Execution interrupted, order left pending")
		return StateStopped
	case err != nil:
		log.WithError(err).Error("Scheduler | Execution outcome not recorded")
	case res.Failure != nil:
		log.WithField("reason", res.Failure.Reason).Info("Scheduler | Order fired, execution failed")
	default:
		log.WithField("tx", res.TxReference).Info("Scheduler | Order fired and executed")
	}
	return StateFired
}
