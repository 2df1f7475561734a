// Package conf
package conf

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lib/pq"
)

// Config holds a database handle plus, for test databases, the metadata
// needed to drop them again.
type Config struct {
	Name      string
	DB        *sql.DB
	ConnStr   string
	AdminDB   *sql.DB
	SchemaSQL string
}

// NewConfig opens a PostgreSQL pool for connStr and verifies it is reachable.
func NewConfig(connStr string, maxOpen, maxIdle int) (*Config, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Config{DB: db, ConnStr: connStr}, nil
}

// TestAdminConnStr is used by NewTestConfig unless TEST_DB_ADMIN overrides it.
const TestAdminConnStr = "host=localhost port=5432 user=postgres password=postgres dbname=postgres sslmode=disable"

// NewTestConfig creates a throwaway database loaded with scripts/schema.sql.
// The test is skipped when PostgreSQL is unreachable. The returned func drops
// the database.
func NewTestConfig(t *testing.T) (*Config, func()) {
	t.Helper()

	adminConnStr := os.Getenv("TEST_DB_ADMIN")
	if adminConnStr == "" {
		adminConnStr = TestAdminConnStr
	}
	adminDB, err := sql.Open("postgres", adminConnStr)
	if err != nil {
		t.Fatalf("Failed to connect to postgres: %v", err)
	}
	if err := adminDB.Ping(); err != nil {
		adminDB.Close()
		t.Skipf("Skipping test: PostgreSQL is not running or not accessible: %v", err)
		return nil, func() {}
	}

	schema, err := readSchema()
	if err != nil {
		adminDB.Close()
		t.Fatalf("Failed to read schema.sql: %v", err)
	}

	dbName := fmt.Sprintf("test_limit_orders_%d", rand.Int31())
	if _, err := adminDB.Exec("CREATE DATABASE " + pq.QuoteIdentifier(dbName)); err != nil {
		adminDB.Close()
		t.Fatalf("Failed to create test database: %v", err)
	}
	dropDB := func() {
		if _, err := adminDB.Exec(fmt.Sprintf("DROP DATABASE %s WITH (FORCE)", pq.QuoteIdentifier(dbName))); err != nil {
			t.Logf("Warning: Failed to drop test database %s: %v", dbName, err)
		}
		adminDB.Close()
	}

	connStr, err := withDBName(adminConnStr, dbName)
	if err != nil {
		dropDB()
		t.Fatalf("Failed to build test connection string: %v", err)
	}
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		dropDB()
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	for _, stmt := range strings.Split(schema, ";") {
		if stmt = strings.TrimSpace(stmt); stmt == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			dropDB()
			t.Fatalf("Failed to apply schema statement: %s\nError: %v", stmt, err)
		}
	}

	cfg := &Config{Name: dbName, DB: db, ConnStr: connStr, AdminDB: adminDB, SchemaSQL: schema}
	return cfg, func() {
		db.Close()
		dropDB()
	}
}

// readSchema finds scripts/schema.sql by walking up from the working
// directory to the module root.
func readSchema() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		data, err := os.ReadFile(filepath.Join(dir, "scripts", "schema.sql"))
		if err == nil {
			return string(data), nil
		}
		if _, statErr := os.Stat(filepath.Join(dir, "go.mod")); statErr == nil {
			return "", err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", err
		}
		dir = parent
	}
}

// withDBName swaps the dbname of a key=value connection string.
func withDBName(connStr, dbName string) (string, error) {
	fields := strings.Fields(connStr)
	for i, f := range fields {
		if strings.HasPrefix(f, "dbname=") {
			fields[i] = "dbname=" + dbName
			return strings.Join(fields, " "), nil
		}
	}
	return "", fmt.Errorf("no dbname in %q", connStr)
}
