// Package db
package db

import (
	"database/sql"

	"github.com/amirphl/amm-limit-orders/internal/journal"
	"github.com/amirphl/amm-limit-orders/internal/order"
)

// Storage is the interface for all persistent storage.
type Storage interface {
	GetDB() *sql.DB
	order.Store
	journal.Journaler
}

var (
	_ Storage = (*Default)(nil)
	_ Storage = (*MemoryStorage)(nil)
)
