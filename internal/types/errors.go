// Package types holds identifiers and sentinel errors shared by every layer of the engine.
package types

import (
	errorsmod "cosmossdk.io/errors"
)

// Codespace groups every error registered by the engine.
const Codespace = "limitorder"

// Limit-order engine sentinel errors
var (
	ErrInvalidInput      = errorsmod.Register(Codespace, 2, "invalid input")
	ErrInvalidOrder      = errorsmod.Register(Codespace, 3, "invalid order")
	ErrPoolNotFound      = errorsmod.Register(Codespace, 4, "pool not found")
	ErrPoolEmpty         = errorsmod.Register(Codespace, 5, "pool has an empty reserve")
	ErrInvalidTransition = errorsmod.Register(Codespace, 6, "invalid order status transition")
	ErrOrderNotFound     = errorsmod.Register(Codespace, 7, "order not found")
	ErrUnauthorized      = errorsmod.Register(Codespace, 8, "caller does not own the order")
	ErrExecutionFailure  = errorsmod.Register(Codespace, 9, "swap execution failed")
	ErrFeedUnavailable   = errorsmod.Register(Codespace, 10, "price feed unavailable")
)

// IsOracleError reports whether err belongs to the oracle layer. The scheduler
// treats these as transient.
func IsOracleError(err error) bool {
	return errorsmod.IsOf(err, ErrPoolNotFound, ErrPoolEmpty, ErrFeedUnavailable)
}
