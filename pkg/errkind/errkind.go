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

// Package errkind defines the error taxonomy of the control plane. Errors
// carry their kind by wrapping one of the sentinel errors of this package,
// usually via serrors.Join:
//
//	return serrors.Join(errkind.ErrConflict, nil, "device", dev, "vlan", vlan)
//
// Of recovers the kind of an arbitrary error chain.
package errkind

import (
	"context"
	"errors"
	"net/http"

	"github.com/siterm/rcp/pkg/private/serrors"
)

// Kind is a stable, machine readable error class.
type Kind string

// The error kinds.
const (
	Unknown            Kind = "Unknown"
	NotFound           Kind = "NotFound"
	Conflict           Kind = "Conflict"
	InvalidInput       Kind = "InvalidInput"
	CapacityExceeded   Kind = "CapacityExceeded"
	PreconditionFailed Kind = "PreconditionFailed"
	Transient          Kind = "Transient"
	Fatal              Kind = "Fatal"
)

// Sentinel errors, one per kind.
var (
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrInvalidInput       = errors.New("invalid input")
	ErrCapacityExceeded   = errors.New("capacity exceeded")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrTransient          = errors.New("transient failure")
	ErrFatal              = errors.New("fatal")
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrFatal, Fatal},
	{ErrNotFound, NotFound},
	{ErrConflict, Conflict},
	{ErrInvalidInput, InvalidInput},
	{ErrCapacityExceeded, CapacityExceeded},
	{ErrPreconditionFailed, PreconditionFailed},
	{ErrTransient, Transient},
}

// Of returns the kind of err. Context cancellation and timeouts are
// Transient. Errors without a known kind are Unknown.
func Of(err error) Kind {
	if err == nil {
		return Unknown
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) ||
		serrors.IsTimeout(err) {
		return Transient
	}
	return Unknown
}

// Retryable reports whether an operation failing with err may be retried.
func Retryable(err error) bool {
	return Of(err) == Transient
}

// HTTPStatus maps the kind of err to the status code a REST layer should
// answer with.
func HTTPStatus(err error) int {
	switch Of(err) {
	case NotFound:
		return http.StatusNotFound
	case Conflict, CapacityExceeded, PreconditionFailed:
		return http.StatusConflict
	case InvalidInput:
		return http.StatusBadRequest
	case Transient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// New returns an error of the given kind with message and context.
func New(kind Kind, msg string, errCtx ...any) error {
	return serrors.Join(sentinel(kind), serrors.New(msg, errCtx...))
}

// Wrap attaches a kind to cause.
func Wrap(kind Kind, cause error, errCtx ...any) error {
	return serrors.JoinNoStack(sentinel(kind), cause, errCtx...)
}

// Sentinel returns a new sentinel error of the given kind. The error matches
// itself and the sentinel of its kind with errors.Is.
func Sentinel(kind Kind, msg string) error {
	return &kindedError{msg: msg, kind: sentinel(kind)}
}

type kindedError struct {
	msg  string
	kind error
}

func (e *kindedError) Error() string {
	return e.msg
}

func (e *kindedError) Is(target error) bool {
	return target == e.kind
}

func sentinel(kind Kind) error {
	for _, k := range kinds {
		if k.kind == kind {
			return k.err
		}
	}
	return ErrFatal
}
