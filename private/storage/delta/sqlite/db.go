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
	"strings"
	"time"

	"github.com/siterm/rcp/pkg/delta"
	"github.com/siterm/rcp/pkg/private/serrors"
	"github.com/siterm/rcp/private/storage/db"
)

var _ delta.DB = (*Backend)(nil)

// Backend implements the delta store on top of SQLite.
type Backend struct {
	db *db.Sqlite
}

// New returns a new SQLite backend opening a database at the given path. If
// no database exists a new database is created. If the schema version of
// the stored database is different from the one in schema.go, an error is
// returned.
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

// DB returns the write connection. It is meant for tests.
func (b *Backend) DB() *sql.DB {
	return b.db.Full
}

func (b *Backend) Insert(ctx context.Context, d *delta.Delta) error {
	if d.ID == "" {
		return db.NewInputDataError("empty delta id", nil)
	}
	return db.DoInTx(ctx, b.db.Full, func(ctx context.Context, tx *sql.Tx) error {
		var exists bool
		err := tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM deltas WHERE uid = ?)`, d.ID).Scan(&exists)
		if err != nil {
			return db.NewReadError("checking delta", err, "id", d.ID)
		}
		if exists {
			return serrors.JoinNoStack(delta.ErrExists, nil, "id", d.ID)
		}
		query := `INSERT INTO deltas (uid, insertdate, updatedate, state, kind, content,
			modelid, linked_reduction_id, connection_id, reason)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
		_, err = tx.ExecContext(ctx, query, d.ID, d.InsertTime.Unix(), d.UpdateTime.Unix(),
			string(d.State), string(d.Kind), d.Content, d.ModelID, d.LinkedReductionID,
			d.ConnectionID, d.Reason)
		if err != nil {
			return db.NewWriteError("inserting delta", err, "id", d.ID)
		}
		return insertTransition(ctx, tx, d.ID, d.State, d.InsertTime, d.Reason)
	})
}

func (b *Backend) UpdateState(ctx context.Context, id string, from, to delta.State,
	at time.Time, reason string) error {

	return db.DoInTx(ctx, b.db.Full, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE deltas SET state = ?, updatedate = ?, reason = ?, render_failures = 0
			WHERE uid = ? AND state = ?`,
			string(to), at.Unix(), reason, id, string(from))
		if err != nil {
			return db.NewWriteError("updating delta state", err, "id", id)
		}
		if err := checkState(ctx, tx, res, id, from); err != nil {
			return err
		}
		return insertTransition(ctx, tx, id, to, at, reason)
	})
}

func (b *Backend) AddRenderFailure(ctx context.Context, id string,
	state delta.State) (int, error) {

	var failures int
	err := db.DoInTx(ctx, b.db.Full, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE deltas SET render_failures = render_failures + 1 WHERE uid = ? AND state = ?`,
			id, string(state))
		if err != nil {
			return db.NewWriteError("counting render failure", err, "id", id)
		}
		if err := checkState(ctx, tx, res, id, state); err != nil {
			return err
		}
		err = tx.QueryRowContext(ctx,
			`SELECT render_failures FROM deltas WHERE uid = ?`, id).Scan(&failures)
		if err != nil {
			return db.NewReadError("reading render failures", err, "id", id)
		}
		return nil
	})
	return failures, err
}

// checkState explains an update of the delta in state that matched no row.
func checkState(ctx context.Context, tx *sql.Tx, res sql.Result, id string,
	state delta.State) error {

	n, err := res.RowsAffected()
	if err != nil {
		return db.NewWriteError("updating delta", err, "id", id)
	}
	if n > 0 {
		return nil
	}
	var current string
	err = tx.QueryRowContext(ctx, `SELECT state FROM deltas WHERE uid = ?`, id).Scan(&current)
	switch {
	case err == sql.ErrNoRows:
		return serrors.JoinNoStack(delta.ErrNotFound, nil, "id", id)
	case err != nil:
		return db.NewReadError("reading delta state", err, "id", id)
	}
	return serrors.JoinNoStack(delta.ErrStateMismatch, nil, "id", id,
		"expected", state, "actual", current)
}

func insertTransition(ctx context.Context, tx *sql.Tx, id string, state delta.State,
	at time.Time, reason string) error {

	_, err := tx.ExecContext(ctx,
		`INSERT INTO delta_states (uid, state, insertdate, reason) VALUES (?, ?, ?, ?)`,
		id, string(state), at.Unix(), reason)
	if err != nil {
		return db.NewWriteError("inserting transition", err, "id", id, "state", state)
	}
	return nil
}

func (b *Backend) SetLinkedReduction(ctx context.Context, id, reductionID string) error {
	res, err := b.db.Full.ExecContext(ctx,
		`UPDATE deltas SET linked_reduction_id = ? WHERE uid = ?`, reductionID, id)
	if err != nil {
		return db.NewWriteError("linking reduction", err, "id", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return db.NewWriteError("linking reduction", err, "id", id)
	}
	if n == 0 {
		return serrors.JoinNoStack(delta.ErrNotFound, nil, "id", id)
	}
	return nil
}

func (b *Backend) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error) {
	var deleted int64
	err := db.DoInTx(ctx, b.db.Full, func(ctx context.Context, tx *sql.Tx) error {
		where := `state IN (?, ?) AND updatedate < ?`
		args := []any{string(delta.Removed), string(delta.Failed), cutoff.Unix()}
		_, err := tx.ExecContext(ctx,
			`DELETE FROM delta_states WHERE uid IN (SELECT uid FROM deltas WHERE `+where+`)`,
			args...)
		if err != nil {
			return db.NewWriteError("deleting transitions", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM deltas WHERE `+where, args...)
		if err != nil {
			return db.NewWriteError("deleting deltas", err)
		}
		deleted, err = res.RowsAffected()
		if err != nil {
			return db.NewWriteError("deleting deltas", err)
		}
		return nil
	})
	return int(deleted), err
}

const selectDelta = `SELECT uid, insertdate, updatedate, state, kind, content, modelid,
	linked_reduction_id, connection_id, reason, render_failures FROM deltas`

func (b *Backend) Get(ctx context.Context, id string) (*delta.Delta, error) {
	row := b.db.ReadOnly.QueryRowContext(ctx, selectDelta+` WHERE uid = ?`, id)
	d, err := scanDelta(row)
	switch {
	case err == sql.ErrNoRows:
		return nil, serrors.JoinNoStack(delta.ErrNotFound, nil, "id", id)
	case err != nil:
		return nil, db.NewReadError("reading delta", err, "id", id)
	}
	return d, nil
}

func (b *Backend) List(ctx context.Context, filter delta.ListFilter) ([]*delta.Delta, error) {
	var conds []string
	var args []any
	if !filter.UpdatedSince.IsZero() {
		conds = append(conds, "updatedate >= ?")
		args = append(args, filter.UpdatedSince.Unix())
	}
	if len(filter.States) > 0 {
		conds = append(conds,
			"state IN ("+strings.TrimSuffix(strings.Repeat("?,", len(filter.States)), ",")+")")
		for _, s := range filter.States {
			args = append(args, string(s))
		}
	}
	if filter.ConnectionID != "" {
		conds = append(conds, "connection_id = ?")
		args = append(args, filter.ConnectionID)
	}
	query := selectDelta
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY insertdate, uid"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	rows, err := b.db.ReadOnly.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, db.NewReadError("listing deltas", err)
	}
	defer rows.Close()
	var res []*delta.Delta
	for rows.Next() {
		d, err := scanDelta(rows)
		if err != nil {
			return nil, db.NewReadError("scanning delta", err)
		}
		res = append(res, d)
	}
	if err := rows.Err(); err != nil {
		return nil, db.NewReadError("listing deltas", err)
	}
	return res, nil
}

func (b *Backend) History(ctx context.Context, id string) ([]delta.Transition, error) {
	rows, err := b.db.ReadOnly.QueryContext(ctx,
		`SELECT uid, state, insertdate, reason FROM delta_states WHERE uid = ? ORDER BY id`, id)
	if err != nil {
		return nil, db.NewReadError("reading history", err, "id", id)
	}
	defer rows.Close()
	var res []delta.Transition
	for rows.Next() {
		var t delta.Transition
		var state string
		var at int64
		if err := rows.Scan(&t.ID, &state, &at, &t.Reason); err != nil {
			return nil, db.NewReadError("scanning transition", err, "id", id)
		}
		t.State, t.Time = delta.State(state), time.Unix(at, 0).UTC()
		res = append(res, t)
	}
	if err := rows.Err(); err != nil {
		return nil, db.NewReadError("reading history", err, "id", id)
	}
	if len(res) == 0 {
		return nil, serrors.JoinNoStack(delta.ErrNotFound, nil, "id", id)
	}
	return res, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDelta(s scanner) (*delta.Delta, error) {
	var d delta.Delta
	var insert, update int64
	var state, kind string
	err := s.Scan(&d.ID, &insert, &update, &state, &kind, &d.Content, &d.ModelID,
		&d.LinkedReductionID, &d.ConnectionID, &d.Reason, &d.RenderFailures)
	if err != nil {
		return nil, err
	}
	if d.State, err = delta.ParseState(state); err != nil {
		return nil, db.NewDataError("invalid state", err, "id", d.ID)
	}
	if d.Kind, err = delta.ParseKind(kind); err != nil {
		return nil, db.NewDataError("invalid kind", err, "id", d.ID)
	}
	d.InsertTime = time.Unix(insert, 0).UTC()
	d.UpdateTime = time.Unix(update, 0).UTC()
	return &d, nil
}
