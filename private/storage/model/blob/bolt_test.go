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

package blob_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siterm/rcp/private/storage/db"
	"github.com/siterm/rcp/private/storage/model"
	"github.com/siterm/rcp/private/storage/model/blob"
)

func TestStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "models.bolt")
	s, err := blob.New(path)
	require.NoError(t, err)

	loc, err := s.Put(ctx, "m1", []byte("graph"))
	require.NoError(t, err)
	assert.Equal(t, "bolt:models/m1", loc)

	data, err := s.Get(ctx, loc)
	require.NoError(t, err)
	assert.Equal(t, []byte("graph"), data)

	_, err = s.Get(ctx, "bolt:models/m2")
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = s.Get(ctx, "bolt:other/m1")
	assert.ErrorIs(t, err, model.ErrNotFound)

	// Data survives reopening.
	require.NoError(t, s.Close())
	s, err = blob.New(path)
	require.NoError(t, err)
	defer s.Close()
	data, err = s.Get(ctx, loc)
	require.NoError(t, err)
	assert.Equal(t, []byte("graph"), data)

	require.NoError(t, s.Delete(ctx, loc))
	require.NoError(t, s.Delete(ctx, loc))
	_, err = s.Get(ctx, loc)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestParseLocation(t *testing.T) {
	testCases := map[string]struct {
		Loc    string
		Bucket string
		ID     string
		Err    bool
	}{
		"valid":      {Loc: "bolt:models/abc", Bucket: "models", ID: "abc"},
		"file":       {Loc: "file:/tmp/abc", Err: true},
		"no id":      {Loc: "bolt:models/", Err: true},
		"no bucket":  {Loc: "bolt:/abc", Err: true},
		"no slash":   {Loc: "bolt:models", Err: true},
		"round trip": {Loc: blob.Location("b", "i"), Bucket: "b", ID: "i"},
	}
	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			bucket, id, err := blob.ParseLocation(tc.Loc)
			if tc.Err {
				assert.ErrorIs(t, err, db.ErrInvalidInputData)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.Bucket, bucket)
			assert.Equal(t, tc.ID, id)
		})
	}
}
