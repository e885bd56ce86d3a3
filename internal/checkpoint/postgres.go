package checkpoint

import (
	"context"
	_ "embed"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// PostgresLedger keeps the resume state in a shared tile_ledger table, so
// several hosts writing to one output root share progress. Rows are scoped
// by output root; every insert is committed before MarkDone returns.
type PostgresLedger struct {
	pool  *pgxpool.Pool
	scope string
	runID string
}

// NewPostgresLedger connects to the database and ensures the schema exists.
func NewPostgresLedger(ctx context.Context, dsn, scope string) (*PostgresLedger, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse DSN: %w", err)
	}

	// Only the controlling goroutine writes
	poolCfg.MaxConns = 2
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	log.Printf("[checkpoint] connected to PostgreSQL ledger (scope=%s)", scope)
	return &PostgresLedger{
		pool:  pool,
		scope: scope,
		runID: uuid.New().String(),
	}, nil
}

// Load reads every tile recorded for this scope.
func (l *PostgresLedger) Load(ctx context.Context) (*State, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT DISTINCT tile, status
		FROM tile_ledger
		WHERE scope = $1
	`, l.scope)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	state := &State{
		Done:    make(map[string]struct{}),
		Errored: make(map[string]struct{}),
	}
	for rows.Next() {
		var tile, status string
		if err := rows.Scan(&tile, &status); err != nil {
			return nil, fmt.Errorf("scan ledger row: %w", err)
		}
		if status == "done" {
			state.Done[tile] = struct{}{}
		} else {
			state.Errored[tile] = struct{}{}
		}
	}
	return state, rows.Err()
}

// MarkDone records a tile as done for this run.
func (l *PostgresLedger) MarkDone(ctx context.Context, name string) error {
	return l.insert(ctx, name, "done")
}

// MarkError records a tile as errored for this run.
func (l *PostgresLedger) MarkError(ctx context.Context, name string) error {
	return l.insert(ctx, name, "error")
}

func (l *PostgresLedger) insert(ctx context.Context, name, status string) error {
	_, err := l.pool.Exec(ctx, `
		INSERT INTO tile_ledger (scope, tile, status, run_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (scope, tile, status, run_id) DO NOTHING
	`, l.scope, name, status, l.runID)
	if err != nil {
		return fmt.Errorf("record %s as %s: %w", name, status, err)
	}
	return nil
}

// Close releases database connections.
func (l *PostgresLedger) Close() error {
	l.pool.Close()
	return nil
}

// Verify PostgresLedger implements Ledger.
var _ Ledger = (*PostgresLedger)(nil)
