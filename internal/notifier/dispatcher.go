package notifier

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/amirphl/amm-limit-orders/internal/types"
)

// Outcome is the terminal result an owner is told about.
type Outcome string

const (
	OutcomeExecuted Outcome = "executed"
	OutcomeFailed   Outcome = "failed"
)

// Notification describes one terminal order transition.
type Notification struct {
	OrderID   string
	OwnerID   string
	Outcome   Outcome
	TokenIn   types.TokenRef
	TokenOut  types.TokenRef
	AmountIn  decimal.Decimal
	AmountOut decimal.Decimal // expected output at execution time
	Reference string          // transaction hash
	Reason    string
}

// Message renders n for humans.
func (n Notification) Message() string {
	var b strings.Builder
	switch n.Outcome {
	case OutcomeExecuted:
		fmt.Fprintf(&b, "Limit order %s executed\n", n.OrderID)
		fmt.Fprintf(&b, "Swapped %s %s for ~%s %s", n.AmountIn, n.TokenIn, n.AmountOut, n.TokenOut)
	default:
		fmt.Fprintf(&b, "Limit order %s failed: %s\n", n.OrderID, n.Reason)
		fmt.Fprintf(&b, "Swap of %s %s to %s was not completed", n.AmountIn, n.TokenIn, n.TokenOut)
	}
	if n.Reference != "" {
		fmt.Fprintf(&b, "\nTx: %s", n.Reference)
	}
	return b.String()
}

// Dispatcher routes notifications to each owner's chat with retries.
type Dispatcher struct {
	notifier    Notifier
	chats       map[string]string
	defaultChat string
	retries     int
	delay       time.Duration
	log         logrus.FieldLogger
}

// NewDispatcher sends through n. chats maps owner ids to chat ids; owners
// without an entry go to defaultChat.
func NewDispatcher(n Notifier, chats map[string]string, defaultChat string, retries int, delay time.Duration, log logrus.FieldLogger) *Dispatcher {
	if retries < 1 {
		retries = 1
	}
	return &Dispatcher{notifier: n, chats: chats, defaultChat: defaultChat, retries: retries, delay: delay, log: log}
}

func (d *Dispatcher) chatFor(ownerID string) string {
	if chat, ok := d.chats[ownerID]; ok && chat != "" {
		return chat
	}
	return d.defaultChat
}

// Notify delivers n. A delivery failure is logged and returned; it never
// affects the order's persisted state.
func (d *Dispatcher) Notify(ctx context.Context, n Notification) error {
	chat := d.chatFor(n.OwnerID)
	fields := logrus.Fields{"order_id": n.OrderID, "owner_id": n.OwnerID, "outcome": n.Outcome}
	if chat == "" {
		d.log.WithFields(fields).Warn("Notifier | No chat configured for owner, notification dropped")
		return nil
	}

	msg := n.Message()
	err := retry(ctx, d.retries, d.delay, func() error {
		return d.notifier.Send(ctx, chat, msg)
	}, d.log.WithFields(fields))
	if err != nil {
		d.log.WithFields(fields).WithError(err).Error("Notifier | Delivery failed")
		return err
	}
	return nil
}

const maxBackoff = 5 * time.Minute

// retry runs fn up to attempts times, doubling the pause after each failure.
func retry(ctx context.Context, attempts int, delay time.Duration, fn func() error, log logrus.FieldLogger) error {
	backoff := delay
	var err error
	for i := 1; i <= attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i == attempts {
			break
		}
		log.Warnf("Notifier | Retry attempt %d/%d failed: %v. Backing off for %v", i, attempts, err, backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < maxBackoff {
			backoff = min(backoff*2, maxBackoff)
		}
	}
	return fmt.Errorf("all %d attempts failed: %w", attempts, err)
}
