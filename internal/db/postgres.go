package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/amirphl/amm-limit-orders/internal/db/conf"
	"github.com/amirphl/amm-limit-orders/internal/journal"
	"github.com/amirphl/amm-limit-orders/internal/order"
	"github.com/amirphl/amm-limit-orders/internal/types"
)

// Transaction context key
type txKey struct{}

// WithTransaction adds a transaction to the context
func WithTransaction(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// GetTransaction retrieves a transaction from context, or returns nil if not present
func GetTransaction(ctx context.Context) *sql.Tx {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return nil
}

// executeWithTransaction executes a function with proper transaction management
// If a transaction exists in context, it uses that. Otherwise, it creates a new one.
func (p *Default) executeWithTransaction(ctx context.Context, fn func(*sql.Tx) error) error {
	if tx := GetTransaction(ctx); tx != nil {
		return fn(tx)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if fnErr := fn(tx); fnErr != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction rollback failed: %w (original error: %v)", rbErr, fnErr)
		}
		return fnErr
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return fmt.Errorf("transaction commit failed: %w", commitErr)
	}

	return nil
}

// queryWithTransaction executes a query using transaction from context if available
func (p *Default) queryWithTransaction(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if tx := GetTransaction(ctx); tx != nil {
		return tx.QueryContext(ctx, query, args...)
	}
	return p.db.QueryContext(ctx, query, args...)
}

type Default struct {
	db  *sql.DB
	now func() time.Time
}

func New(c conf.Config) (*Default, error) {
	if c.DB == nil {
		return nil, errors.New("db: nil database handle")
	}
	return &Default{db: c.DB, now: time.Now}, nil
}

func (p *Default) GetDB() *sql.DB {
	return p.db
}

const orderColumns = `id, owner_id, token_in, token_out, amount, target_price, direction, status, created_at, executed_at, tx_reference, failure_reason`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (order.LimitOrder, error) {
	var (
		o          order.LimitOrder
		direction  string
		status     string
		executedAt sql.NullTime
	)
	err := row.Scan(&o.ID, &o.OwnerID, &o.TokenIn, &o.TokenOut, &o.Amount, &o.TargetPrice,
		&direction, &status, &o.CreatedAt, &executedAt, &o.TxReference, &o.FailureReason)
	if err != nil {
		return order.LimitOrder{}, err
	}
	o.Direction = order.Direction(direction)
	o.Status = order.Status(status)
	o.CreatedAt = o.CreatedAt.UTC()
	if executedAt.Valid {
		t := executedAt.Time.UTC()
		o.ExecutedAt = &t
	}
	return o, nil
}

func (p *Default) queryOrders(ctx context.Context, query string, args ...any) ([]order.LimitOrder, error) {
	rows, err := p.queryWithTransaction(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var orders []order.LimitOrder
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate orders: %w", err)
	}
	return orders, nil
}

func (p *Default) Create(ctx context.Context, o order.LimitOrder) (string, error) {
	o.ID = uuid.NewString()
	o.Status = order.StatusPending
	o.CreatedAt = p.now().UTC()
	o.ExecutedAt = nil
	o.TxReference = ""
	o.FailureReason = ""
	if err := o.Validate(); err != nil {
		return "", err
	}

	err := p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO limit_orders (id, owner_id, token_in, token_out, amount, target_price, direction, status, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			o.ID, o.OwnerID, o.TokenIn, o.TokenOut, o.Amount, o.TargetPrice, string(o.Direction), string(o.Status), o.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to save order: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return o.ID, nil
}

func (p *Default) Get(ctx context.Context, id string) (order.LimitOrder, error) {
	if _, err := uuid.Parse(id); err != nil {
		return order.LimitOrder{}, types.ErrOrderNotFound.Wrapf("order %s", id)
	}
	orders, err := p.queryOrders(ctx, `SELECT `+orderColumns+` FROM limit_orders WHERE id=$1`, id)
	if err != nil {
		return order.LimitOrder{}, err
	}
	if len(orders) == 0 {
		return order.LimitOrder{}, types.ErrOrderNotFound.Wrapf("order %s", id)
	}
	return orders[0], nil
}

// SetStatus moves a pending order to a terminal status. The UPDATE only
// matches rows still pending, so of two concurrent callers exactly one sees
// a returned row.
func (p *Default) SetStatus(ctx context.Context, id string, to order.Status, tr order.Transition) (order.LimitOrder, error) {
	if _, err := uuid.Parse(id); err != nil {
		return order.LimitOrder{}, types.ErrOrderNotFound.Wrapf("order %s", id)
	}
	// Normalize the transition fields the same way the memory store does.
	target, err := order.LimitOrder{ID: id, Status: order.StatusPending}.Apply(to, tr)
	if err != nil {
		return order.LimitOrder{}, err
	}

	var updated order.LimitOrder
	err = p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `UPDATE limit_orders
			SET status=$2, executed_at=$3, tx_reference=$4, failure_reason=$5
			WHERE id=$1 AND status='pending'
			RETURNING `+orderColumns,
			id, string(target.Status), *target.ExecutedAt, target.TxReference, target.FailureReason)
		o, err := scanOrder(row)
		if err == nil {
			updated = o
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to update order status: %w", err)
		}

		var current string
		err = tx.QueryRowContext(ctx, `SELECT status FROM limit_orders WHERE id=$1`, id).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return types.ErrOrderNotFound.Wrapf("order %s", id)
		}
		if err != nil {
			return fmt.Errorf("failed to read order status: %w", err)
		}
		return types.ErrInvalidTransition.Wrapf("order %s is %s, cannot move to %s", id, current, to)
	})
	if err != nil {
		return order.LimitOrder{}, err
	}
	return updated, nil
}

func (p *Default) ListPending(ctx context.Context, ownerID string) ([]order.LimitOrder, error) {
	if ownerID == "" {
		return p.queryOrders(ctx, `SELECT `+orderColumns+` FROM limit_orders WHERE status='pending' ORDER BY created_at ASC, id ASC`)
	}
	return p.queryOrders(ctx, `SELECT `+orderColumns+` FROM limit_orders WHERE status='pending' AND owner_id=$1 ORDER BY created_at ASC, id ASC`, ownerID)
}

func (p *Default) ListByOwner(ctx context.Context, ownerID string) ([]order.LimitOrder, error) {
	return p.queryOrders(ctx, `SELECT `+orderColumns+` FROM limit_orders WHERE owner_id=$1 ORDER BY created_at DESC, id DESC`, ownerID)
}

func (p *Default) LogEvent(ctx context.Context, event journal.Event) error {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("failed to encode event data: %w", err)
	}
	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO events (time, type, description, data) VALUES ($1,$2,$3,$4)`,
			event.Time.UTC(), event.Type, event.Description, data)
		if err != nil {
			return fmt.Errorf("failed to log event: %w", err)
		}
		return nil
	})
}

func (p *Default) GetEvents(ctx context.Context, eventType string, start, end time.Time) ([]journal.Event, error) {
	rows, err := p.queryWithTransaction(ctx, `SELECT time, type, description, data FROM events WHERE type=$1 AND time >= $2 AND time <= $3 ORDER BY time ASC, id ASC`, eventType, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []journal.Event
	for rows.Next() {
		var e journal.Event
		var data []byte
		if err := rows.Scan(&e.Time, &e.Type, &e.Description, &data); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &e.Data); err != nil {
				return nil, fmt.Errorf("failed to decode event data: %w", err)
			}
		}
		e.Time = e.Time.UTC()
		events = append(events, e)
	}
	return events, rows.Err()
}
