// Package store implements the relational persistence layer on PostgreSQL
// via pgx. It owns the Document, Segment, KeywordTable, ProcessRule and
// DatasetQuery tables.
//
// Consumers (indexing engine, retrieval engine, segment service) define
// their own narrow interfaces over the methods they need; *Store satisfies
// all of them. The store never starts cross-table transactions on behalf of
// the engines: cross-store consistency is handled by the engines'
// compensation logic, not by the database.
package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store provides query access to the relational tables.
// Safe for concurrent use.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New creates a Store on an existing connection pool. A nil logger falls
// back to slog.Default().
func New(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}
}

// Open connects a pool and returns a Store over it. The caller owns the
// returned pool and must Close it.
func Open(ctx context.Context, connString string, logger *slog.Logger) (*Store, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("pinging database: %w", err)
	}
	return New(pool, logger), pool, nil
}
