package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// DynamoDBProvider lazily builds a DynamoDB client so AWS configuration is
// only loaded when a dynamodb:// DSN is used.
type DynamoDBProvider func(ctx context.Context) (DynamoDBAPI, error)

// BuildFromDSN returns the Store selected by the DSN scheme:
//
//	memory://             in-process maps
//	dynamodb://<table>    single-table DynamoDB
//	postgres://...        PostgreSQL via lib/pq
//	sqlite://<path>       SQLite via modernc.org/sqlite (":memory:" allowed)
func BuildFromDSN(ctx context.Context, dsn string, dynamo DynamoDBProvider) (Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("repository: dsn must not be empty")
	}
	scheme, rest, ok := strings.Cut(dsn, "://")
	if !ok {
		return nil, fmt.Errorf("repository: dsn %q has no scheme", dsn)
	}
	switch strings.ToLower(scheme) {
	case "memory", "mem", "inmem":
		return NewMemoryStore(), nil
	case "dynamodb":
		table := strings.Trim(rest, "/")
		if dynamo == nil {
			return nil, errors.New("repository: dynamodb provider must not be nil")
		}
		api, err := dynamo(ctx)
		if err != nil {
			return nil, fmt.Errorf("repository: dynamodb client: %w", err)
		}
		return New(api, table)
	case "postgres", "postgresql":
		return OpenSQL(ctx, DialectPostgres, dsn)
	case "sqlite", "sqlite3":
		if rest == "" {
			return nil, errors.New("repository: sqlite dsn needs a path")
		}
		return OpenSQL(ctx, DialectSQLite, rest)
	default:
		return nil, fmt.Errorf("repository: unsupported store scheme %q", scheme)
	}
}
