// Copyright 2026 SCION Association
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

package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/siterm/rcp/private/storage/activeset"
	"github.com/siterm/rcp/private/storage/db"
)

const (
	// SchemaVersion is the version of the SQLite schema understood by this
	// backend.
	SchemaVersion = 1
	// Schema is the SQLite database layout.
	Schema = `CREATE TABLE active_reservations(
		version INTEGER NOT NULL,
		insertdate INTEGER NOT NULL,
		document BLOB NOT NULL,
		PRIMARY KEY (version)
	);`
)

var _ activeset.Persister = (*Backend)(nil)

// Backend persists versions of the active set in SQLite.
type Backend struct {
	db *db.Sqlite
}

// New returns a new SQLite backend opening a database at the given path.
func New(path string) (*Backend, error) {
	d, err := db.NewSqlite(path, Schema, SchemaVersion, nil)
	if err != nil {
		return nil, err
	}
	return &Backend{db: d}, nil
}

// SetMaxOpenConns sets the maximum number of open read connections.
func (b *Backend) SetMaxOpenConns(maxOpenConns int) {
	b.db.SetMaxOpenConns(maxOpenConns)
}

// SetMaxIdleConns sets the maximum number of idle read connections.
func (b *Backend) SetMaxIdleConns(maxIdleConns int) {
	b.db.SetMaxIdleConns(maxIdleConns)
}

// Close closes the database.
func (b *Backend) Close() error {
	return b.db.Close()
}

// Save stores the document under the version.
func (b *Backend) Save(ctx context.Context, version int64, at time.Time, doc []byte) error {
	_, err := b.db.Full.ExecContext(ctx,
		`INSERT INTO active_reservations (version, insertdate, document) VALUES (?, ?, ?)`,
		version, at.Unix(), doc)
	if err != nil {
		return db.NewWriteError("inserting active set", err, "version", version)
	}
	return nil
}

// Latest returns the latest version and its document.
func (b *Backend) Latest(ctx context.Context) (int64, []byte, error) {
	var version int64
	var doc []byte
	err := b.db.ReadOnly.QueryRowContext(ctx,
		`SELECT version, document FROM active_reservations ORDER BY version DESC LIMIT 1`,
	).Scan(&version, &doc)
	switch {
	case err == sql.ErrNoRows:
		return 0, nil, nil
	case err != nil:
		return 0, nil, db.NewReadError("reading active set", err)
	}
	return version, doc, nil
}

// DeleteOldVersions removes all but the latest keep versions and returns
// the number of removed versions.
func (b *Backend) DeleteOldVersions(ctx context.Context, keep int) (int, error) {
	if keep < 1 {
		keep = 1
	}
	res, err := b.db.Full.ExecContext(ctx,
		`DELETE FROM active_reservations WHERE version <= (
			SELECT COALESCE(MAX(version), 0) FROM active_reservations) - ?`, keep)
	if err != nil {
		return 0, db.NewWriteError("deleting old active set versions", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, db.NewWriteError("deleting old active set versions", err)
	}
	return int(n), nil
}
