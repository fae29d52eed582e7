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
	"github.com/siterm/rcp/pkg/errkind"
	"github.com/siterm/rcp/pkg/private/serrors"
)

// The storage errors carry an error kind. Failed reads, writes and
// transactions are Transient and retried by the control loop. Invalid input
// is refused. Invalid stored data is Fatal.
var (
	// ErrInvalidInputData indicates data that cannot be stored.
	ErrInvalidInputData = errkind.Sentinel(errkind.InvalidInput, "db: input data invalid")
	// ErrDataInvalid indicates stored data that cannot be decoded.
	ErrDataInvalid = errkind.Sentinel(errkind.Fatal, "db: db data invalid")
	ErrReadFailed  = errkind.Sentinel(errkind.Transient, "db: read failed")
	ErrWriteFailed = errkind.Sentinel(errkind.Transient, "db: write failed")
	ErrTx          = errkind.Sentinel(errkind.Transient, "db: transaction error")
)

func NewTxError(msg string, err error, logCtx ...any) error {
	return newError(ErrTx, msg, err, logCtx)
}

func NewInputDataError(msg string, err error, logCtx ...any) error {
	return newError(ErrInvalidInputData, msg, err, logCtx)
}

func NewDataError(msg string, err error, logCtx ...any) error {
	return newError(ErrDataInvalid, msg, err, logCtx)
}

func NewReadError(msg string, err error, logCtx ...any) error {
	return newError(ErrReadFailed, msg, err, logCtx)
}

func NewWriteError(msg string, err error, logCtx ...any) error {
	return newError(ErrWriteFailed, msg, err, logCtx)
}

func newError(base error, msg string, cause error, logCtx []any) error {
	return serrors.JoinNoStack(base, cause, append([]any{"detailMsg", msg}, logCtx...)...)
}
