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

// Package inspect reads the databases of a controller and prints their
// content for operators.
package inspect

import (
	"context"
	"io"

	"github.com/siterm/rcp/control/config"
	"github.com/siterm/rcp/pkg/private/serrors"
	"github.com/siterm/rcp/pkg/reservation"
	"github.com/siterm/rcp/private/storage/activeset"
	activesetsqlite "github.com/siterm/rcp/private/storage/activeset/sqlite"
	deltasqlite "github.com/siterm/rcp/private/storage/delta/sqlite"
	"github.com/siterm/rcp/private/storage/model"
	"github.com/siterm/rcp/private/storage/model/blob"
	modelsqlite "github.com/siterm/rcp/private/storage/model/sqlite"
)

// Stores are the databases of a controller.
type Stores struct {
	Deltas    *deltasqlite.Backend
	ActiveSet *activesetsqlite.Backend
	Models    *model.Store
}

// Open opens the databases configured in cfg. The defaults of cfg must be
// initialized.
func Open(cfg *config.Config) (*Stores, error) {
	var closers []io.Closer
	fail := func(msg string, err error, path string) (*Stores, error) {
		for _, c := range closers {
			c.Close()
		}
		return nil, serrors.Wrap(msg, err, "path", path)
	}
	deltas, err := deltasqlite.New(cfg.DeltaDB.Connection)
	if err != nil {
		return fail("opening delta database", err, cfg.DeltaDB.Connection)
	}
	closers = append(closers, deltas)
	set, err := activesetsqlite.New(cfg.ReservationDB.Connection)
	if err != nil {
		return fail("opening reservation database", err, cfg.ReservationDB.Connection)
	}
	closers = append(closers, set)
	meta, err := modelsqlite.New(cfg.ModelDB.Connection)
	if err != nil {
		return fail("opening model database", err, cfg.ModelDB.Connection)
	}
	closers = append(closers, meta)
	blobs, err := blob.New(cfg.ModelDB.BlobPath)
	if err != nil {
		return fail("opening model blobs", err, cfg.ModelDB.BlobPath)
	}
	closers = append(closers, blobs)
	models, err := model.NewStore(meta, blobs, 0)
	if err != nil {
		return fail("creating model store", err, cfg.ModelDB.Connection)
	}
	return &Stores{Deltas: deltas, ActiveSet: set, Models: models}, nil
}

// Close closes all databases.
func (s *Stores) Close() error {
	var errs serrors.List
	for _, c := range []io.Closer{s.Deltas, s.ActiveSet, s.Models} {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errs.ToError()
}

// ActiveSet is a persisted version of the active reservation set.
type ActiveSet struct {
	Version      int64                      `json:"version" yaml:"version"`
	Reservations []*reservation.Reservation `json:"reservations" yaml:"reservations"`
}

// LoadActiveSet reads the latest persisted version of the active set.
func LoadActiveSet(ctx context.Context, p activeset.Persister) (ActiveSet, error) {
	version, doc, err := p.Latest(ctx)
	if err != nil {
		return ActiveSet{}, serrors.Wrap("loading active set", err)
	}
	set := ActiveSet{Version: version}
	if doc == nil {
		return set, nil
	}
	if set.Reservations, err = reservation.Decode(doc); err != nil {
		return ActiveSet{}, serrors.Wrap("decoding active set", err, "version", version)
	}
	return set, nil
}
