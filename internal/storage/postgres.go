package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aman-zulfiqar/defi-nlq/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

// PostgresConfig holds settings for the analytics database pool.
type PostgresConfig struct {
	DSN              string
	MaxConns         int32
	MinConns         int32
	StatementTimeout time.Duration

	Logger *logrus.Logger
}

// Postgres executes guarded statements over a shared pgx pool. The pool is
// created on first use and lives until Close.
type Postgres struct {
	cfg    PostgresConfig
	logger *logrus.Logger

	mu   sync.Mutex
	pool *pgxpool.Pool
}

// NewPostgres prepares a lazily connected executor.
func NewPostgres(cfg PostgresConfig) *Postgres {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = 10
	}
	if cfg.MinConns < 0 || cfg.MinConns > cfg.MaxConns {
		cfg.MinConns = 2
	}
	if cfg.StatementTimeout <= 0 {
		cfg.StatementTimeout = 30 * time.Second
	}
	return &Postgres{cfg: cfg, logger: cfg.Logger}
}

func (p *Postgres) getPool(ctx context.Context) (*pgxpool.Pool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pool != nil {
		return p.pool, nil
	}

	pcfg, err := pgxpool.ParseConfig(p.cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	pcfg.MaxConns = p.cfg.MaxConns
	pcfg.MinConns = p.cfg.MinConns

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	p.logger.WithFields(logrus.Fields{
		"max_conns": pcfg.MaxConns,
		"min_conns": pcfg.MinConns,
	}).Info("initialized postgres pool")

	p.pool = pool
	return pool, nil
}

// Query runs sql in a read-only transaction on one pooled connection with
// the configured statement timeout. The connection is released before Query
// returns.
func (p *Postgres) Query(ctx context.Context, sql string) ([]models.Row, error) {
	pool, err := p.getPool(ctx)
	if err != nil {
		return nil, &ConnError{Err: err}
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, &ConnError{Err: err}
	}
	defer conn.Release()

	// Bound the round trip as well, in case the server never answers.
	ctx, cancel := context.WithTimeout(ctx, p.cfg.StatementTimeout+5*time.Second)
	defer cancel()

	tx, err := conn.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, &ConnError{Err: err}
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL statement_timeout = %d", p.cfg.StatementTimeout.Milliseconds())); err != nil {
		return nil, toQueryError(err)
	}

	start := time.Now()
	rows, err := tx.Query(ctx, sql)
	if err != nil {
		return nil, toQueryError(err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = f.Name
	}

	var out []models.Row
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, toQueryError(err)
		}
		row := make(models.Row, len(cols))
		for i, col := range cols {
			row[i] = models.Field{Column: col, Value: normalizeValue(vals[i])}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, toQueryError(err)
	}

	p.logger.WithFields(logrus.Fields{
		"rows":    len(out),
		"took_ms": time.Since(start).Milliseconds(),
	}).Debug("executed statement")

	return out, nil
}

// LiveColumns lists the columns of every table in schemas, keyed by
// qualified table name.
func (p *Postgres) LiveColumns(ctx context.Context, schemas ...string) (map[string][]string, error) {
	pool, err := p.getPool(ctx)
	if err != nil {
		return nil, &ConnError{Err: err}
	}

	rows, err := pool.Query(ctx, `
		SELECT table_schema, table_name, column_name
		FROM information_schema.columns
		WHERE table_schema = ANY($1)
		ORDER BY table_schema, table_name, ordinal_position`, schemas)
	if err != nil {
		return nil, fmt.Errorf("query information_schema: %w", err)
	}
	defer rows.Close()

	out := map[string][]string{}
	for rows.Next() {
		var schema, table, column string
		if err := rows.Scan(&schema, &table, &column); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		key := schema + "." + table
		out[key] = append(out[key], column)
	}
	return out, rows.Err()
}

// Ping checks that the pool can reach the database.
func (p *Postgres) Ping(ctx context.Context) error {
	pool, err := p.getPool(ctx)
	if err != nil {
		return &ConnError{Err: err}
	}
	if err := pool.Ping(ctx); err != nil {
		return &ConnError{Err: err}
	}
	return nil
}

// Close releases the pool if it was ever created.
func (p *Postgres) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pool != nil {
		p.logger.Debug("closing postgres pool")
		p.pool.Close()
		p.pool = nil
	}
	return nil
}

func toQueryError(err error) *QueryError {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &QueryError{
			Message:  pgErr.Message,
			Code:     pgErr.Code,
			Hint:     pgErr.Hint,
			Position: pgErr.Position,
			Err:      err,
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &QueryError{Message: "canceling statement due to statement timeout", Err: err}
	}
	return &QueryError{Message: err.Error(), Err: err}
}

// normalizeValue converts pgx values that do not encode to JSON naturally.
func normalizeValue(v any) any {
	switch x := v.(type) {
	case pgtype.Numeric:
		f, err := x.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	case [16]byte:
		return uuid.UUID(x).String()
	case []byte:
		return string(x)
	case time.Time:
		if x.Hour() == 0 && x.Minute() == 0 && x.Second() == 0 && x.Nanosecond() == 0 {
			return x.Format("2006-01-02")
		}
		return x.UTC().Format(time.RFC3339)
	}
	return v
}
