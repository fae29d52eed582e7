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

	"github.com/siterm/rcp/private/storage/db"
	"github.com/siterm/rcp/private/storage/model"
)

const (
	// SchemaVersion is the version of the SQLite schema understood by this
	// backend.
	SchemaVersion = 1
	// Schema is the SQLite database layout.
	Schema = `CREATE TABLE models(
		uid TEXT NOT NULL,
		insertdate INTEGER NOT NULL,
		fileloc TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		PRIMARY KEY (uid)
	);
	CREATE INDEX models_insertdate ON models(insertdate);`
)

var _ model.MetaDB = (*Backend)(nil)

// Backend implements the snapshot metadata database in SQLite.
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

// Insert stores the metadata.
func (b *Backend) Insert(ctx context.Context, m model.Meta) error {
	return db.DoInTx(ctx, b.db.Full, func(ctx context.Context, tx *sql.Tx) error {
		var exists bool
		err := tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM models WHERE uid = ?)`, m.ID).Scan(&exists)
		if err != nil {
			return db.NewReadError("checking model", err, "id", m.ID)
		}
		if exists {
			return model.ErrExists
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO models (uid, insertdate, fileloc, content_hash) VALUES (?, ?, ?, ?)`,
			m.ID, m.CreationTime.Unix(), m.FileLoc, m.ContentHash)
		if err != nil {
			return db.NewWriteError("inserting model", err, "id", m.ID)
		}
		return nil
	})
}

// Get returns the metadata of the given snapshot.
func (b *Backend) Get(ctx context.Context, id string) (model.Meta, error) {
	row := b.db.ReadOnly.QueryRowContext(ctx,
		`SELECT uid, insertdate, fileloc, content_hash FROM models WHERE uid = ?`, id)
	m, err := scanMeta(row)
	switch {
	case err == sql.ErrNoRows:
		return model.Meta{}, model.ErrNotFound
	case err != nil:
		return model.Meta{}, db.NewReadError("reading model", err, "id", id)
	}
	return m, nil
}

// Latest returns the metadata of the most recent snapshot.
func (b *Backend) Latest(ctx context.Context) (model.Meta, error) {
	row := b.db.ReadOnly.QueryRowContext(ctx,
		`SELECT uid, insertdate, fileloc, content_hash FROM models
		ORDER BY insertdate DESC, rowid DESC LIMIT 1`)
	m, err := scanMeta(row)
	switch {
	case err == sql.ErrNoRows:
		return model.Meta{}, model.ErrNotFound
	case err != nil:
		return model.Meta{}, db.NewReadError("reading latest model", err)
	}
	return m, nil
}

// List returns all metadata, most recent first.
func (b *Backend) List(ctx context.Context) ([]model.Meta, error) {
	rows, err := b.db.ReadOnly.QueryContext(ctx,
		`SELECT uid, insertdate, fileloc, content_hash FROM models
		ORDER BY insertdate DESC, rowid DESC`)
	if err != nil {
		return nil, db.NewReadError("listing models", err)
	}
	defer rows.Close()
	var res []model.Meta
	for rows.Next() {
		m, err := scanMeta(rows)
		if err != nil {
			return nil, db.NewReadError("scanning model", err)
		}
		res = append(res, m)
	}
	if err := rows.Err(); err != nil {
		return nil, db.NewReadError("listing models", err)
	}
	return res, nil
}

// Delete removes the metadata with the given IDs.
func (b *Backend) Delete(ctx context.Context, ids []string) (int, error) {
	var deleted int
	err := db.DoInTx(ctx, b.db.Full, func(ctx context.Context, tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `DELETE FROM models WHERE uid = ?`)
		if err != nil {
			return db.NewWriteError("preparing model delete", err)
		}
		defer stmt.Close()
		for _, id := range ids {
			res, err := stmt.ExecContext(ctx, id)
			if err != nil {
				return db.NewWriteError("deleting model", err, "id", id)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return db.NewWriteError("deleting model", err, "id", id)
			}
			deleted += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMeta(s scanner) (model.Meta, error) {
	var m model.Meta
	var insert int64
	if err := s.Scan(&m.ID, &insert, &m.FileLoc, &m.ContentHash); err != nil {
		return model.Meta{}, err
	}
	m.CreationTime = time.Unix(insert, 0).UTC()
	return m, nil
}
