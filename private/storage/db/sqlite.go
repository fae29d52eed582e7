// Copyright 2025 ETH Zurich, Anapaya Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"runtime"
	"strings"

	"github.com/siterm/rcp/pkg/log"
)

// Sqler is the common interface of *sql.DB and *sql.Tx.
type Sqler interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// LimitSetter allows setting the connection limits of a database.
type LimitSetter interface {
	SetMaxOpenConns(maxOpenConns int)
	SetMaxIdleConns(maxIdleConns int)
}

// SqliteConfig allows configuring the sqlite database instance.
type SqliteConfig struct {
	MaxOpenReadConns int
	MaxIdleReadConns int
}

// Sqlite is an sqlite database with a single connection write pool and a
// separate read pool.
type Sqlite struct {
	Full     *sql.DB
	ReadOnly *sql.DB
}

// NewSqlite opens the sqlite database at path and applies the schema. The
// write pool is limited to one open connection to avoid contention. The read
// pool defaults to a limit depending on the number of CPUs.
//
// An existing database with a different schema version is an error. The
// driver is modernc.org/sqlite unless the sqlite_mattn build tag selects
// github.com/mattn/go-sqlite3.
func NewSqlite(path string, schema string, schemaVersion int, cfg *SqliteConfig) (*Sqlite, error) {
	c := SqliteConfig{}
	if cfg != nil {
		c = *cfg
	}
	// :memory: is ambiguous: every connection of the pools would see its own
	// database.
	if strings.Contains(path, ":memory:") {
		return nil, fmt.Errorf("use a file backed database, got %q", path)
	}
	noFile, _ := strings.CutPrefix(path, "file:")
	connParams := make(url.Values)
	// Transactions take the write lock on BEGIN, such that busy_timeout is
	// respected instead of failing on lock upgrade.
	connParams.Add("_txlock", "immediate")
	addPragmas(connParams)
	connURL := "file:" + noFile + "?" + connParams.Encode()

	write, err := sql.Open(driverName(), connURL)
	if err != nil {
		return nil, fmt.Errorf("opening write database: %w", err)
	}
	write.SetMaxOpenConns(1)
	read, err := sql.Open(driverName(), connURL)
	if err != nil {
		write.Close()
		return nil, fmt.Errorf("opening read database: %w", err)
	}
	if c.MaxOpenReadConns == 0 {
		c.MaxOpenReadConns = max(4, runtime.NumCPU())
	}
	read.SetMaxOpenConns(c.MaxOpenReadConns)
	if c.MaxIdleReadConns != 0 {
		read.SetMaxIdleConns(c.MaxIdleReadConns)
	}
	db := &Sqlite{Full: write, ReadOnly: read}
	if err := db.setup(schema, schemaVersion); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func (db *Sqlite) setup(schema string, schemaVersion int) error {
	var existingVersion int
	if err := db.Full.QueryRow("PRAGMA user_version;").Scan(&existingVersion); err != nil {
		return fmt.Errorf("checking database schema version: %w", err)
	}
	switch {
	case existingVersion == 0:
		if _, err := db.Full.Exec(schema); err != nil {
			return fmt.Errorf("applying schema: %w", err)
		}
		if _, err := db.Full.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
			return fmt.Errorf("writing schema version: %w", err)
		}
		return nil
	case existingVersion != schemaVersion:
		return fmt.Errorf("database schema version mismatch: expected %d, have %d",
			schemaVersion, existingVersion,
		)
	default:
		return nil
	}
}

// SetMaxOpenConns sets the limit of the read pool. The write pool always
// has a single connection.
func (db *Sqlite) SetMaxOpenConns(maxOpenConns int) {
	db.ReadOnly.SetMaxOpenConns(maxOpenConns)
}

// SetMaxIdleConns sets the idle limit of the read pool.
func (db *Sqlite) SetMaxIdleConns(maxIdleConns int) {
	db.ReadOnly.SetMaxIdleConns(maxIdleConns)
}

// Checkpoint runs a WAL checkpoint with FULL mode on the write database.
func (db *Sqlite) Checkpoint(ctx context.Context) (CheckpointStats, error) {
	return Checkpoint(ctx, db.Full, "FULL")
}

// CheckpointStats are the counters sqlite reports for a checkpoint.
type CheckpointStats struct {
	Busy         int
	LogFrames    int
	Checkpointed int
}

// Checkpoint runs a WAL checkpoint with the given mode (PASSIVE, FULL,
// RESTART, TRUNCATE).
func Checkpoint(ctx context.Context, db *sql.DB, mode string) (CheckpointStats, error) {
	var busy, logFrames, checkpointed int
	query := fmt.Sprintf("PRAGMA wal_checkpoint(%s);", mode)
	if err := db.QueryRowContext(ctx, query).Scan(&busy, &logFrames, &checkpointed); err != nil {
		return CheckpointStats{}, fmt.Errorf("performing checkpoint: %w", err)
	}
	return CheckpointStats{
		Busy:         busy,
		LogFrames:    logFrames,
		Checkpointed: checkpointed,
	}, nil
}

// Close closes both pools.
func (db *Sqlite) Close() error {
	var errs []error
	if err := db.Full.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing write db: %w", err))
	}
	if err := db.ReadOnly.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing read db: %w", err))
	}
	return errors.Join(errs...)
}

// DoInTx runs action inside a write transaction. The transaction is
// committed if action succeeds and rolled back otherwise.
func DoInTx(ctx context.Context, db *sql.DB, action func(context.Context, *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return NewTxError("begin", err)
	}
	if err := action(ctx, tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			log.FromCtx(ctx).Error("Failed to roll back", "err", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return NewTxError("commit", err)
	}
	return nil
}
