// Package notifier
package notifier

import "context"

// Notifier delivers a text message to a chat (e.g., Telegram).
type Notifier interface {
	Send(ctx context.Context, chatID, msg string) error
}
