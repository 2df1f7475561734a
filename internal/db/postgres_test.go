package db

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dbconf "github.com/amirphl/amm-limit-orders/internal/db/conf"
	"github.com/amirphl/amm-limit-orders/internal/journal"
	"github.com/amirphl/amm-limit-orders/internal/order"
	"github.com/amirphl/amm-limit-orders/internal/types"
)

var testToken = types.MustParseTokenRef("0x00000000000000000000000000000000000000aa")

func newTestOrder(owner string) order.LimitOrder {
	return order.LimitOrder{
		OwnerID:     owner,
		TokenIn:     types.Native(),
		TokenOut:    testToken,
		Amount:      decimal.RequireFromString("1.25"),
		TargetPrice: decimal.NewFromInt(2000),
		Direction:   order.DirectionAbove,
	}
}

func setupPostgres(t *testing.T) *Default {
	cfg, cleanup := dbconf.NewTestConfig(t)
	require.NotNil(t, cfg)
	t.Cleanup(cleanup)

	p, err := New(*cfg)
	require.NoError(t, err)
	return p
}

func TestMemoryStorage(t *testing.T) {
	runStorageSuite(t, func(t *testing.T) Storage { return NewMemory() })
}

func TestPostgresStorage(t *testing.T) {
	runStorageSuite(t, func(t *testing.T) Storage { return setupPostgres(t) })
}

func runStorageSuite(t *testing.T, newStorage func(t *testing.T) Storage) {
	t.Run("create and get", func(t *testing.T) {
		s := newStorage(t)
		ctx := context.Background()

		in := newTestOrder("alice")
		in.Status = order.StatusExecuted // ignored by Create
		id, err := s.Create(ctx, in)
		require.NoError(t, err)
		require.NotEmpty(t, id)

		got, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, id, got.ID)
		assert.Equal(t, order.StatusPending, got.Status)
		assert.Nil(t, got.ExecutedAt)
		assert.False(t, got.CreatedAt.IsZero())
		assert.True(t, got.Amount.Equal(in.Amount))
		assert.True(t, got.TargetPrice.Equal(in.TargetPrice))
		assert.True(t, got.TokenIn.IsNative())
		assert.True(t, got.TokenOut.Equal(testToken))
	})

	t.Run("create rejects invalid order", func(t *testing.T) {
		s := newStorage(t)
		bad := newTestOrder("alice")
		bad.TokenOut = types.Native()
		_, err := s.Create(context.Background(), bad)
		assert.True(t, errors.Is(err, types.ErrInvalidOrder))
	})

	t.Run("get unknown", func(t *testing.T) {
		s := newStorage(t)
		_, err := s.Get(context.Background(), "3f0c3c1e-8d4e-4b8e-9f57-0d7f7b0f9a11")
		assert.True(t, errors.Is(err, types.ErrOrderNotFound))
		_, err = s.Get(context.Background(), "not-a-uuid")
		assert.True(t, errors.Is(err, types.ErrOrderNotFound))
	})

	t.Run("terminal states are final", func(t *testing.T) {
		s := newStorage(t)
		ctx := context.Background()
		id, err := s.Create(ctx, newTestOrder("alice"))
		require.NoError(t, err)

		at := time.Now().UTC().Truncate(time.Millisecond)
		o, err := s.SetStatus(ctx, id, order.StatusExecuted, order.Transition{TxReference: "0xfeed", ExecutedAt: at})
		require.NoError(t, err)
		assert.Equal(t, order.StatusExecuted, o.Status)
		assert.Equal(t, "0xfeed", o.TxReference)
		require.NotNil(t, o.ExecutedAt)
		assert.WithinDuration(t, at, *o.ExecutedAt, time.Millisecond)

		for _, to := range []order.Status{order.StatusExecuted, order.StatusFailed, order.StatusCancelled} {
			_, err := s.SetStatus(ctx, id, to, order.Transition{})
			assert.True(t, errors.Is(err, types.ErrInvalidTransition), "to %s", to)
		}

		_, err = s.SetStatus(ctx, "3f0c3c1e-8d4e-4b8e-9f57-0d7f7b0f9a11", order.StatusCancelled, order.Transition{})
		assert.True(t, errors.Is(err, types.ErrOrderNotFound))
	})

	t.Run("failed keeps reason", func(t *testing.T) {
		s := newStorage(t)
		ctx := context.Background()
		id, err := s.Create(ctx, newTestOrder("alice"))
		require.NoError(t, err)

		o, err := s.SetStatus(ctx, id, order.StatusFailed, order.Transition{TxReference: "0x1", Reason: "revert"})
		require.NoError(t, err)
		assert.Equal(t, "revert", o.FailureReason)
		assert.Empty(t, o.TxReference)
	})

	t.Run("concurrent set status commits once", func(t *testing.T) {
		s := newStorage(t)
		ctx := context.Background()
		id, err := s.Create(ctx, newTestOrder("alice"))
		require.NoError(t, err)

		const workers = 16
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
			conflicts int
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				to := order.StatusExecuted
				if i%2 == 1 {
					to = order.StatusCancelled
				}
				_, err := s.SetStatus(ctx, id, to, order.Transition{TxReference: "0x1"})
				mu.Lock()
				defer mu.Unlock()
				if err == nil {
					successes++
				} else if errors.Is(err, types.ErrInvalidTransition) {
					conflicts++
				}
			}(i)
		}
		wg.Wait()

		assert.Equal(t, 1, successes)
		assert.Equal(t, workers-1, conflicts)
	})

	t.Run("listing", func(t *testing.T) {
		s := newStorage(t)
		ctx := context.Background()

		first, err := s.Create(ctx, newTestOrder("alice"))
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
		second, err := s.Create(ctx, newTestOrder("alice"))
		require.NoError(t, err)
		_, err = s.Create(ctx, newTestOrder("bob"))
		require.NoError(t, err)

		_, err = s.SetStatus(ctx, first, order.StatusCancelled, order.Transition{})
		require.NoError(t, err)

		pending, err := s.ListPending(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, second, pending[0].ID)

		all, err := s.ListPending(ctx, "")
		require.NoError(t, err)
		assert.Len(t, all, 2)

		history, err := s.ListByOwner(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, second, history[0].ID)
		assert.Equal(t, first, history[1].ID)
	})

	t.Run("journal", func(t *testing.T) {
		s := newStorage(t)
		ctx := context.Background()
		now := time.Now().UTC()

		require.NoError(t, s.LogEvent(ctx, journal.Event{
			Time:        now,
			Type:        journal.TypeOrderCreated,
			Description: "created",
			Data:        map[string]any{"order_id": "abc"},
		}))
		require.NoError(t, s.LogEvent(ctx, journal.Event{Time: now, Type: journal.TypeOrderFailed}))

		events, err := s.GetEvents(ctx, journal.TypeOrderCreated, now.Add(-time.Minute), now.Add(time.Minute))
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, "created", events[0].Description)
		assert.Equal(t, "abc", events[0].Data["order_id"])
	})
}
