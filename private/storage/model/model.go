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

// Package model stores immutable snapshots of the reservation model.
//
// Snapshot metadata lives in a MetaDB, the serialized graph in a
// BlobStore. The metadata refers to the blob through its file location.
// Recently served snapshots are kept in an ARC cache.
package model

import (
	"context"
	"errors"
	"io"
	"time"

	arc "github.com/hashicorp/golang-lru/arc/v2"

	"github.com/siterm/rcp/pkg/errkind"
	"github.com/siterm/rcp/pkg/log"
	"github.com/siterm/rcp/pkg/private/serrors"
)

// DefaultCacheSize is the default number of cached snapshots.
const DefaultCacheSize = 32

var (
	// ErrNotFound indicates an unknown snapshot ID or an empty store.
	ErrNotFound = errkind.Sentinel(errkind.NotFound, "model not found")
	// ErrExists indicates a snapshot ID that is already stored.
	ErrExists = errkind.Sentinel(errkind.Conflict, "model exists")
)

// Snapshot is an immutable, serialized view of the model.
type Snapshot struct {
	ID           string
	CreationTime time.Time
	ContentHash  string
	Graph        []byte
}

// Meta is the metadata of a stored snapshot.
type Meta struct {
	ID           string
	CreationTime time.Time
	// FileLoc locates the serialized graph in the blob store.
	FileLoc     string
	ContentHash string
}

// MetaDB stores snapshot metadata.
type MetaDB interface {
	// Insert stores the metadata. ErrExists is returned if the ID exists.
	Insert(ctx context.Context, m Meta) error
	// Get returns the metadata of the snapshot with the given ID.
	Get(ctx context.Context, id string) (Meta, error)
	// Latest returns the metadata of the most recent snapshot.
	Latest(ctx context.Context) (Meta, error)
	// List returns all metadata, most recent first.
	List(ctx context.Context) ([]Meta, error)
	// Delete removes the metadata with the given IDs.
	Delete(ctx context.Context, ids []string) (int, error)
	io.Closer
}

// BlobStore stores serialized graphs.
type BlobStore interface {
	// Put stores the data and returns its file location.
	Put(ctx context.Context, id string, data []byte) (string, error)
	// Get returns the data stored at the location.
	Get(ctx context.Context, loc string) ([]byte, error)
	// Delete removes the data at the location. Unknown locations are
	// ignored.
	Delete(ctx context.Context, loc string) error
	io.Closer
}

// DB is the snapshot database.
type DB interface {
	// Save stores the snapshot unless its content equals the latest one.
	Save(ctx context.Context, snap *Snapshot) (*Snapshot, bool, error)
	// Get returns the snapshot with the given ID.
	Get(ctx context.Context, id string) (*Snapshot, error)
	// Latest returns the most recent snapshot.
	Latest(ctx context.Context) (*Snapshot, error)
	io.Closer
}

var _ DB = (*Store)(nil)

// Store combines metadata, blobs and the cache.
type Store struct {
	meta  MetaDB
	blobs BlobStore
	cache *arc.ARCCache[string, *Snapshot]
}

// NewStore creates a store. A non-positive cacheSize selects
// DefaultCacheSize.
func NewStore(meta MetaDB, blobs BlobStore, cacheSize int) (*Store, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := arc.NewARC[string, *Snapshot](cacheSize)
	if err != nil {
		return nil, serrors.Wrap("creating snapshot cache", err)
	}
	return &Store{meta: meta, blobs: blobs, cache: cache}, nil
}

// Save stores the snapshot. If the latest stored snapshot has the same
// content hash, nothing is stored and the latest snapshot is returned with
// stored set to false.
func (s *Store) Save(ctx context.Context, snap *Snapshot) (*Snapshot, bool, error) {
	latest, err := s.meta.Latest(ctx)
	switch {
	case err == nil && latest.ContentHash == snap.ContentHash:
		prev, err := s.load(ctx, latest)
		if err != nil {
			return nil, false, err
		}
		return prev, false, nil
	case err != nil && !errors.Is(err, ErrNotFound):
		return nil, false, err
	}
	switch _, err := s.meta.Get(ctx, snap.ID); {
	case err == nil:
		return nil, false, serrors.JoinNoStack(ErrExists, nil, "id", snap.ID)
	case !errors.Is(err, ErrNotFound):
		return nil, false, err
	}
	loc, err := s.blobs.Put(ctx, snap.ID, snap.Graph)
	if err != nil {
		return nil, false, serrors.Wrap("storing model graph", err, "id", snap.ID)
	}
	m := Meta{
		ID:           snap.ID,
		CreationTime: snap.CreationTime,
		FileLoc:      loc,
		ContentHash:  snap.ContentHash,
	}
	if err := s.meta.Insert(ctx, m); err != nil {
		if derr := s.blobs.Delete(ctx, loc); derr != nil {
			log.FromCtx(ctx).Info("Failed to remove orphaned graph", "loc", loc, "err", derr)
		}
		return nil, false, err
	}
	s.cache.Add(snap.ID, snap)
	return snap, true, nil
}

// Get returns the snapshot with the given ID.
func (s *Store) Get(ctx context.Context, id string) (*Snapshot, error) {
	if snap, ok := s.cache.Get(id); ok {
		return snap, nil
	}
	m, err := s.meta.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.load(ctx, m)
}

// Latest returns the most recent snapshot.
func (s *Store) Latest(ctx context.Context) (*Snapshot, error) {
	m, err := s.meta.Latest(ctx)
	if err != nil {
		return nil, err
	}
	if snap, ok := s.cache.Get(m.ID); ok {
		return snap, nil
	}
	return s.load(ctx, m)
}

// List returns the metadata of all snapshots, most recent first.
func (s *Store) List(ctx context.Context) ([]Meta, error) {
	return s.meta.List(ctx)
}

// Collect deletes snapshots older than maxAge and all but the newest
// maxCount snapshots. The latest snapshot is never deleted. Non-positive
// limits are ignored.
func (s *Store) Collect(ctx context.Context, now time.Time, maxAge time.Duration,
	maxCount int) (int, error) {

	all, err := s.meta.List(ctx)
	if err != nil {
		return 0, err
	}
	var victims []Meta
	for i, m := range all {
		if i == 0 {
			continue
		}
		tooOld := maxAge > 0 && now.Sub(m.CreationTime) > maxAge
		tooMany := maxCount > 0 && i >= maxCount
		if tooOld || tooMany {
			victims = append(victims, m)
		}
	}
	if len(victims) == 0 {
		return 0, nil
	}
	ids := make([]string, 0, len(victims))
	for _, m := range victims {
		ids = append(ids, m.ID)
	}
	n, err := s.meta.Delete(ctx, ids)
	if err != nil {
		return 0, err
	}
	logger := log.FromCtx(ctx)
	for _, m := range victims {
		s.cache.Remove(m.ID)
		if err := s.blobs.Delete(ctx, m.FileLoc); err != nil {
			logger.Info("Failed to delete model graph", "id", m.ID, "loc", m.FileLoc,
				"err", err)
		}
	}
	return n, nil
}

// Close closes the metadata database and the blob store.
func (s *Store) Close() error {
	return errors.Join(s.meta.Close(), s.blobs.Close())
}

func (s *Store) load(ctx context.Context, m Meta) (*Snapshot, error) {
	graph, err := s.blobs.Get(ctx, m.FileLoc)
	if err != nil {
		return nil, serrors.Wrap("loading model graph", err, "id", m.ID, "loc", m.FileLoc)
	}
	snap := &Snapshot{
		ID:           m.ID,
		CreationTime: m.CreationTime,
		ContentHash:  m.ContentHash,
		Graph:        graph,
	}
	s.cache.Add(m.ID, snap)
	return snap, nil
}
