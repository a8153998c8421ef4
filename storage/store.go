// Package storage is the control plane's persistence layer: a thin
// sqlx wrapper over PostgreSQL plus one repository type per entity in the
// data model. Business tables (stock, sale, sale_item, invoice, customer,
// stock_movement) are owned by the application; this package only reads
// them on behalf of the invariant engine and security scanner.
package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/nexus-retail/opsplane/storage/migrations"
)

// Store owns the database handle shared by every repository.
type Store struct {
	db *sqlx.DB
}

// Open connects to PostgreSQL, verifies connectivity, and applies the
// control-plane schema migrations.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if err := migrations.Apply(ctx, db.DB); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// NewForDB wraps an already-open handle as a Store, skipping the connect/
// ping/migrate steps Open performs. Used by tests that drive the handle
// with a mock driver.
func NewForDB(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for components that need raw access
// (connection-pool stats, ad-hoc analytic queries).
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the store is reachable, with a bounded timeout.
func (s *Store) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.db.PingContext(pingCtx)
}

// PendingMigrationCount reports the number of pending schema migrations.
// The control plane applies its own migrations on boot, so this always
// returns 0 without querying the database.
func (s *Store) PendingMigrationCount(ctx context.Context) (int, error) {
	return 0, nil
}
