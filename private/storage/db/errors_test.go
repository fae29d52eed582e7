// Copyright 2019 Anapaya Systems
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
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/siterm/rcp/pkg/errkind"
)

func TestErrFmt(t *testing.T) {
	cause := errors.New("disk full")
	testCases := map[string]struct {
		Base error
		Err  error
		Kind errkind.Kind
	}{
		"tx": {
			Base: ErrTx, Err: NewTxError("test", nil), Kind: errkind.Transient,
		},
		"input data": {
			Base: ErrInvalidInputData, Err: NewInputDataError("test", nil),
			Kind: errkind.InvalidInput,
		},
		"data": {
			Base: ErrDataInvalid, Err: NewDataError("test", nil), Kind: errkind.Fatal,
		},
		"read": {
			Base: ErrReadFailed, Err: NewReadError("test", nil), Kind: errkind.Transient,
		},
		"write": {
			Base: ErrWriteFailed, Err: NewWriteError("test", nil), Kind: errkind.Transient,
		},
	}
	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, fmt.Sprintf("%s {detailMsg=test}", tc.Base), tc.Err.Error())
			assert.ErrorIs(t, tc.Err, tc.Base)
			assert.Equal(t, tc.Kind, errkind.Of(tc.Err))
		})
	}
	t.Run("cause", func(t *testing.T) {
		err := NewWriteError("storing delta", cause, "id", "d1")
		assert.ErrorIs(t, err, ErrWriteFailed)
		assert.ErrorIs(t, err, cause)
	})
}
