package storage

import (
	"context"
	"io"

	"github.com/aman-zulfiqar/defi-nlq/internal/models"
)

// QueryExecutor runs one guarded statement and returns its rows in database
// order. Connection failures are reported as *ConnError, statement failures
// as *QueryError.
type QueryExecutor interface {
	Query(ctx context.Context, sql string) ([]models.Row, error)
}

// QueryLogger persists answered questions. Callers treat its failures as
// non-fatal.
type QueryLogger interface {
	LogQuery(ctx context.Context, rec *models.QueryLog) error
}

// QueryLogStore is a QueryLogger backed by a connection that must be closed.
type QueryLogStore interface {
	QueryLogger

	// Ping checks if the store is reachable
	Ping(ctx context.Context) error

	io.Closer
}
