// Package store persists orchestrator state in PostgreSQL. Each subsystem
// talks to its own narrow adapter (tasks, agents, assignments, sessions,
// precedents); the adapters share one pooled *sql.DB and apply embedded
// schema migrations on startup. The whole store is optional; subsystems
// run memory-only when handed a nil adapter.
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx driver for database/sql
)

//go:embed migrations
var migrationsFS embed.FS

// Client owns the database connection and hands out per-subsystem adapters.
type Client struct {
	db *sql.DB
}

// NewClient opens a pooled connection, verifies it, and applies pending
// migrations.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	db, err := sql.Open("pgx", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := RunMigrations(db, cfg.Database); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Client{db: db}, nil
}

// NewClientFromDB wraps an existing connection without running migrations
// (useful for tests that manage schema setup themselves).
func NewClientFromDB(db *sql.DB) *Client {
	return &Client{db: db}
}

// RunMigrations applies all pending embedded migrations against db.
func RunMigrations(db *sql.DB, database string) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, database, driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	// Close only the migration source driver. Calling m.Close() would also
	// close the database driver, which closes the shared *sql.DB passed via
	// postgres.WithInstance().
	if err := sourceDriver.Close(); err != nil {
		return fmt.Errorf("failed to close migration source: %w", err)
	}

	return nil
}

// DB returns the underlying connection for health checks and direct queries.
func (c *Client) DB() *sql.DB {
	return c.db
}

// Close closes the underlying connection pool.
func (c *Client) Close() error {
	return c.db.Close()
}

// Tasks returns the queue persistence adapter.
func (c *Client) Tasks() *TaskStore {
	return &TaskStore{db: c.db}
}

// Agents returns the registry persistence adapter.
func (c *Client) Agents() *AgentStore {
	return &AgentStore{db: c.db}
}

// Assignments returns the assignment persistence adapter.
func (c *Client) Assignments() *AssignmentStore {
	return &AssignmentStore{db: c.db}
}

// Sessions returns the arbitration session persistence adapter.
func (c *Client) Sessions() *SessionStore {
	return &SessionStore{db: c.db}
}

// Precedents returns the precedent persistence adapter.
func (c *Client) Precedents() *PrecedentStore {
	return &PrecedentStore{db: c.db}
}
