package notifier

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirphl/amm-limit-orders/internal/types"
)

type recordingNotifier struct {
	mu       sync.Mutex
	failures int
	sent     []string
	chats    []string
}

func (r *recordingNotifier) Send(_ context.Context, chatID, msg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failures > 0 {
		r.failures--
		return errors.New("telegram unavailable")
	}
	r.sent = append(r.sent, msg)
	r.chats = append(r.chats, chatID)
	return nil
}

func TestTelegramNotifier_Send(t *testing.T) {
	var gotPath, gotChat, gotText string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		gotPath = r.URL.Path
		gotChat = r.PostForm.Get("chat_id")
		gotText = r.PostForm.Get("text")
		if gotChat == "blocked" {
			http.Error(w, `{"ok":false}`, http.StatusForbidden)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	n := NewTelegramNotifier("123:abc")
	n.BaseURL = srv.URL

	require.NoError(t, n.Send(context.Background(), "42", "hello"))
	assert.Equal(t, "/bot123:abc/sendMessage", gotPath)
	assert.Equal(t, "42", gotChat)
	assert.Equal(t, "hello", gotText)

	err := n.Send(context.Background(), "blocked", "hello")
	assert.ErrorContains(t, err, "403")
}

func TestNotification_Message(t *testing.T) {
	usdc := types.MustParseTokenRef("0x00000000000000000000000000000000000000c1")

	executed := Notification{
		OrderID:   "o-1",
		Outcome:   OutcomeExecuted,
		TokenIn:   types.Native(),
		TokenOut:  usdc,
		AmountIn:  decimal.RequireFromString("1.5"),
		AmountOut: decimal.NewFromInt(3750),
		Reference: "0xfeed",
	}.Message()
	assert.Contains(t, executed, "o-1 executed")
	assert.Contains(t, executed, "1.5 native")
	assert.Contains(t, executed, "~3750")
	assert.Contains(t, executed, "Tx: 0xfeed")

	failed := Notification{OrderID: "o-2", Outcome: OutcomeFailed, Reason: "insufficient balance", TokenIn: types.Native(), TokenOut: usdc}.Message()
	assert.Contains(t, failed, "o-2 failed: insufficient balance")
	assert.NotContains(t, failed, "Tx:")
}

func TestDispatcher_Notify(t *testing.T) {
	log, hook := test.NewNullLogger()
	ctx := context.Background()

	t.Run("retries then delivers to owner chat", func(t *testing.T) {
		rec := &recordingNotifier{failures: 2}
		d := NewDispatcher(rec, map[string]string{"alice": "100"}, "999", 3, time.Millisecond, log)

		require.NoError(t, d.Notify(ctx, Notification{OrderID: "o-1", OwnerID: "alice", Outcome: OutcomeExecuted}))
		assert.Equal(t, []string{"100"}, rec.chats)
	})

	t.Run("falls back to default chat", func(t *testing.T) {
		rec := &recordingNotifier{}
		d := NewDispatcher(rec, nil, "999", 1, 0, log)
		require.NoError(t, d.Notify(ctx, Notification{OrderID: "o-1", OwnerID: "bob", Outcome: OutcomeFailed}))
		assert.Equal(t, []string{"999"}, rec.chats)
	})

	t.Run("gives up after retries", func(t *testing.T) {
		hook.Reset()
		rec := &recordingNotifier{failures: 10}
		d := NewDispatcher(rec, nil, "999", 2, time.Millisecond, log)
		err := d.Notify(ctx, Notification{OrderID: "o-1", OwnerID: "bob", Outcome: OutcomeFailed})
		require.Error(t, err)
		assert.Empty(t, rec.sent)
		require.NotNil(t, hook.LastEntry())
		assert.Equal(t, "Notifier | Delivery failed", hook.LastEntry().Message)
	})

	t.Run("no chat configured", func(t *testing.T) {
		rec := &recordingNotifier{}
		d := NewDispatcher(rec, nil, "", 1, 0, log)
		assert.NoError(t, d.Notify(ctx, Notification{OrderID: "o-1", OwnerID: "bob"}))
		assert.Empty(t, rec.sent)
	})
}
