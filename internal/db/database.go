// Package db implements the Postgres-backed BatchProcessor (persisting
// each CSV row) and DBPoolProbe (reporting pool pressure to the metrics
// collector). Grounded directly on the teacher's
// pkg/compliance/storage/postgres package: pgxpool.Pool for the
// connection pool, golang-migrate/v4 (file-source, postgres driver, with
// lib/pq registered as the database/sql driver migrate needs) for schema
// migrations, and the same connect-then-ping-then-migrate sequencing.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
)

// Config holds the connection and migration settings for Store.
type Config struct {
	ConnectionString string
	MaxConnections   int32
	ConnectTimeout   time.Duration
	MigrationsPath   string // e.g. "file://internal/db/migrations"
}

func (c *Config) setDefaults() {
	if c.MaxConnections == 0 {
		c.MaxConnections = 10
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 30 * time.Second
	}
	if c.MigrationsPath == "" {
		c.MigrationsPath = "file://migrations"
	}
}

// Store is a Postgres-backed persistence layer: it implements
// engine.BatchProcessor[csvrecord.Row, StoredRecord] (in store.go) and
// metrics.DBPoolProbe (ActiveConnections, below).
type Store struct {
	pool   *pgxpool.Pool
	config Config
}

// Open connects to Postgres, pings it, and returns a ready Store. It does
// not run migrations — call MigrateToLatest explicitly, typically once at
// process startup before any run begins.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.ConnectionString == "" {
		return nil, fmt.Errorf("db: connection string is required")
	}
	cfg.setDefaults()

	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("db: parsing connection string: %w", err)
	}
	poolConfig.MaxConns = cfg.MaxConnections
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("db: creating connection pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db: pinging database: %w", err)
	}

	return &Store{pool: pool, config: cfg}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// MigrateToLatest applies every pending migration under config.MigrationsPath.
func (s *Store) MigrateToLatest() error {
	sqlDB, err := sql.Open("postgres", s.config.ConnectionString)
	if err != nil {
		return fmt.Errorf("db: opening migration connection: %w", err)
	}
	defer sqlDB.Close()

	driver, err := postgres.WithInstance(sqlDB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("db: creating migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(s.config.MigrationsPath, "postgres", driver)
	if err != nil {
		return fmt.Errorf("db: creating migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("db: applying migrations: %w", err)
	}
	return nil
}

// Pool exposes the underlying connection pool for collaborators (such as
// internal/search) that need to run their own queries against the same
// database.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// ActiveConnections implements metrics.DBPoolProbe: connections currently
// checked out of the pool (not idle), which is what ResourceGoal's
// utilization math means by "active".
func (s *Store) ActiveConnections() int32 {
	return s.pool.Stat().AcquiredConns()
}
