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

// Package blob implements a model graph store on top of a bbolt file.
//
// Layout:
//
//	bucket(<bucket>) ->
//		<uid> -> serialized graph
//
// The file location of a graph is "bolt:<bucket>/<uid>".
package blob

import (
	"context"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/siterm/rcp/pkg/private/serrors"
	"github.com/siterm/rcp/private/storage/db"
	"github.com/siterm/rcp/private/storage/model"
)

const (
	// DefaultBucket is the bucket graphs are stored in.
	DefaultBucket = "models"

	scheme = "bolt:"
)

var _ model.BlobStore = (*Store)(nil)

// Store stores graphs in a bbolt file.
type Store struct {
	db     *bolt.DB
	bucket []byte
}

// New opens or creates the bbolt file at path.
func New(path string) (*Store, error) {
	bdb, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, serrors.Wrap("opening blob store", err, "path", path)
	}
	s := &Store{db: bdb, bucket: []byte(DefaultBucket)}
	err = bdb.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(s.bucket)
		return err
	})
	if err != nil {
		bdb.Close()
		return nil, serrors.Wrap("initializing blob store", err, "path", path)
	}
	return s, nil
}

// Put stores the data under the ID.
func (s *Store) Put(_ context.Context, id string, data []byte) (string, error) {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).Put([]byte(id), data)
	})
	if err != nil {
		return "", db.NewWriteError("storing graph", err, "id", id)
	}
	return Location(string(s.bucket), id), nil
}

// Get returns the data stored at the location.
func (s *Store) Get(_ context.Context, loc string) ([]byte, error) {
	bucket, id, err := ParseLocation(loc)
	if err != nil {
		return nil, err
	}
	var data []byte
	err = s.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(bucket))
		if bkt == nil {
			return model.ErrNotFound
		}
		p := bkt.Get([]byte(id))
		if p == nil {
			return model.ErrNotFound
		}
		// p is only valid during the transaction.
		data = append([]byte(nil), p...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Delete removes the data at the location.
func (s *Store) Delete(_ context.Context, loc string) error {
	bucket, id, err := ParseLocation(loc)
	if err != nil {
		return err
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(bucket))
		if bkt == nil {
			return nil
		}
		return bkt.Delete([]byte(id))
	})
	if err != nil {
		return db.NewWriteError("deleting graph", err, "loc", loc)
	}
	return nil
}

// Close closes the bbolt file.
func (s *Store) Close() error {
	return s.db.Close()
}

// Location returns the file location of a graph.
func Location(bucket, id string) string {
	return scheme + bucket + "/" + id
}

// ParseLocation splits a file location into bucket and ID.
func ParseLocation(loc string) (string, string, error) {
	rest, ok := strings.CutPrefix(loc, scheme)
	if !ok {
		return "", "", db.NewInputDataError("unsupported file location", nil, "loc", loc)
	}
	bucket, id, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || id == "" {
		return "", "", db.NewInputDataError("malformed file location", nil, "loc", loc)
	}
	return bucket, id, nil
}
