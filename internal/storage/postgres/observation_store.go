// Package postgres provides the Postgres-backed price observation ledger.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/price-archive/internal/tracker"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ObservationStoreConfig controls the Postgres connection pool used for ledger rows.
type ObservationStoreConfig struct {
	DSN      string
	Table    string
	MaxConns int32
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// ObservationStore appends price observations into Postgres.
type ObservationStore struct {
	pool  execCloser
	table string
}

// NewObservationStore creates a Postgres-backed ObservationStore using the provided config.
func NewObservationStore(ctx context.Context, cfg ObservationStoreConfig) (*ObservationStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &ObservationStore{pool: pool, table: table}, nil
}

// NewObservationStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewObservationStoreWithPool(pool execCloser, table string) (*ObservationStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &ObservationStore{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = "price_observations"
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *ObservationStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// RecordObservation inserts one ledger row.
func (s *ObservationStore) RecordObservation(ctx context.Context, obs tracker.Observation) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("observation store is not configured")
	}
	if obs.RowIndex <= 0 {
		return fmt.Errorf("row index must be positive, got %d", obs.RowIndex)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	row_index,
	url,
	price,
	observed_at,
	run_prefix
) VALUES (
	$1,$2,$3,$4,$5
)`, s.table)

	args := []any{
		obs.RowIndex,
		obs.URL,
		obs.Price,
		obs.ObservedAt,
		strings.TrimSuffix(obs.RunPrefix, "/"),
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert observation: %w", err)
	}
	return nil
}
