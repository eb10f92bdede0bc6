// Copyright 2026 Augmy Interactive
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"zombiezen.com/go/sqlite"

	"github.com/Let-s-build-something/client-app/lib/sqlitepool"
)

// Sentinel errors for store access failures. Callers classify with
// errors.Is: ErrLocked is likely transient (concurrent access to the
// database file) and worth retrying; ErrAccess is not.
var (
	ErrLocked = errors.New("database locked")
	ErrAccess = errors.New("database access failed")
)

// Config holds the parameters for opening a store.
type Config struct {
	// Path is the filesystem path to the SQLite database file. The
	// parent directory must exist. Use ":memory:" with PoolSize 1 for
	// tests.
	Path string

	// PoolSize is the number of connections in the pool. Defaults to 4
	// if zero or negative.
	PoolSize int

	// Logger receives operational messages. If nil, a no-op logger is
	// used.
	Logger *slog.Logger
}

// Store provides durable storage for one authenticated session's
// conversation data. Safe for concurrent use; SQLite serializes writes
// under the hood.
type Store struct {
	pool   *sqlitepool.Pool
	logger *slog.Logger
}

// Open opens (creating if necessary) the database at cfg.Path and runs
// any pending schema migrations. The caller must Close the store when
// the session ends.
func Open(cfg Config) (*Store, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: poolSize,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}

	store := &Store{
		pool:   pool,
		logger: logger,
	}

	if err := store.migrate(); err != nil {
		pool.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying connection pool. Blocks until all
// borrowed connections are returned.
func (s *Store) Close() error {
	return s.pool.Close()
}

// classify wraps a sqlite failure with the operation name and the
// matching sentinel: SQLITE_BUSY and SQLITE_LOCKED map to ErrLocked,
// everything else to ErrAccess.
func classify(operation string, err error) error {
	if err == nil {
		return nil
	}
	kind := ErrAccess
	switch sqlite.ErrCode(err).ToPrimary() {
	case sqlite.ResultBusy, sqlite.ResultLocked:
		kind = ErrLocked
	}
	return fmt.Errorf("store: %s: %w: %w", operation, kind, err)
}
