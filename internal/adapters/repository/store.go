// Package repository records feeding attempts for the operator. History is
// append-only and is never read back into the live cooldown or settings state.
package repository

import (
	"context"
	"fmt"

	"github.com/okian/iotreat/internal/domain/model"
)

// Drivers accepted by Open.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Store provides append and read access to the feeding history.
type Store interface {
	// Append records one dispense attempt.
	Append(ctx context.Context, a model.Attempt) error

	// Recent returns up to limit attempts, newest first.
	// Returns ErrInvalidLimit if limit < 1.
	Recent(ctx context.Context, limit int) ([]model.Attempt, error)

	// Count returns the number of attempts held.
	Count(ctx context.Context) (int, error)

	// Close releases the underlying resources.
	Close() error
}

// Open returns the Store for driver. dsn is a file path for sqlite and a
// connection string for postgres; it is ignored for memory.
func Open(ctx context.Context, driver, dsn string, opts ...Option) (Store, error) {
	switch driver {
	case "", DriverMemory:
		return NewMemStore(opts...), nil
	case DriverSQLite:
		return NewSQLiteStore(ctx, dsn, opts...)
	case DriverPostgres:
		return NewPostgresStore(ctx, dsn, opts...)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
}
