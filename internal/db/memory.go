package db

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/amirphl/amm-limit-orders/internal/journal"
	"github.com/amirphl/amm-limit-orders/internal/order"
	"github.com/amirphl/amm-limit-orders/internal/types"
)

type MemoryStorage struct {
	mu sync.RWMutex

	// Orders by id
	orders map[string]order.LimitOrder

	// Events (append-only)
	events []journal.Event

	now func() time.Time
}

func NewMemory() *MemoryStorage {
	return &MemoryStorage{
		orders: make(map[string]order.LimitOrder),
		events: make([]journal.Event, 0, 1024),
		now:    time.Now,
	}
}

// GetDB returns nil for in-memory storage (no SQL database)
func (m *MemoryStorage) GetDB() *sql.DB { return nil }

// -------- OrderStore --------

func (m *MemoryStorage) Create(ctx context.Context, o order.LimitOrder) (string, error) {
	o.ID = uuid.NewString()
	o.Status = order.StatusPending
	o.CreatedAt = m.now().UTC()
	o.ExecutedAt = nil
	o.TxReference = ""
	o.FailureReason = ""
	if err := o.Validate(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = o
	return o.ID, nil
}

func (m *MemoryStorage) Get(ctx context.Context, id string) (order.LimitOrder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return order.LimitOrder{}, types.ErrOrderNotFound.Wrapf("order %s", id)
	}
	return o, nil
}

// SetStatus checks and writes under the same write lock, which makes it the
// compare-and-set the order.Store contract requires.
func (m *MemoryStorage) SetStatus(ctx context.Context, id string, to order.Status, tr order.Transition) (order.LimitOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return order.LimitOrder{}, types.ErrOrderNotFound.Wrapf("order %s", id)
	}
	updated, err := o.Apply(to, tr)
	if err != nil {
		return order.LimitOrder{}, err
	}
	m.orders[id] = updated
	return updated, nil
}

func (m *MemoryStorage) ListPending(ctx context.Context, ownerID string) ([]order.LimitOrder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []order.LimitOrder
	for _, o := range m.orders {
		if o.IsPending() && (ownerID == "" || o.OwnerID == ownerID) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return lessByCreated(out[i], out[j]) })
	return out, nil
}

func (m *MemoryStorage) ListByOwner(ctx context.Context, ownerID string) ([]order.LimitOrder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []order.LimitOrder
	for _, o := range m.orders {
		if o.OwnerID == ownerID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return lessByCreated(out[j], out[i]) })
	return out, nil
}

func lessByCreated(a, b order.LimitOrder) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID < b.ID
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

// -------- JournalStorage --------

func (m *MemoryStorage) LogEvent(ctx context.Context, event journal.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	event.Time = event.Time.UTC()
	m.events = append(m.events, event)
	return nil
}

func (m *MemoryStorage) GetEvents(ctx context.Context, eventType string, start, end time.Time) ([]journal.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	start = start.UTC()
	end = end.UTC()
	var out []journal.Event
	for _, e := range m.events {
		if e.Type == eventType && !e.Time.Before(start) && !e.Time.After(end) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}
