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

// Package api implements the inbound operations of the control plane:
// submitting and committing deltas, and reading deltas, model snapshots and
// the active reservations.
//
// Submission only validates the syntax of the content and the referenced
// model. The admission check runs asynchronously in the controller loop;
// clients follow the delta state with GetDelta or WaitDelta.
package api

import (
	"context"
	"time"

	"github.com/siterm/rcp/control/assembler"
	"github.com/siterm/rcp/pkg/clock"
	"github.com/siterm/rcp/pkg/delta"
	"github.com/siterm/rcp/pkg/errkind"
	"github.com/siterm/rcp/pkg/identity"
	"github.com/siterm/rcp/pkg/log"
	"github.com/siterm/rcp/pkg/private/serrors"
	"github.com/siterm/rcp/pkg/reservation"
	"github.com/siterm/rcp/private/events"
	"github.com/siterm/rcp/private/storage/activeset"
	"github.com/siterm/rcp/private/storage/model"
)

// DefaultDeltasLimit bounds GetDeltas if no limit is requested.
const DefaultDeltasLimit = 100

// Committer commits accepted deltas.
type Committer interface {
	Commit(ctx context.Context, id string) (*delta.Delta, error)
}

// Models serves model snapshots.
type Models interface {
	Get(ctx context.Context, id string, ifModifiedSince time.Time) (*model.Snapshot, error)
}

// ActiveSet provides versioned snapshots of the active set.
type ActiveSet interface {
	Version() int64
	Snapshot() activeset.ReadTx
}

// SubmitRequest is a delta submission.
type SubmitRequest struct {
	// ID is the delta ID. A new ID is generated if it is empty.
	ID      string     `json:"id,omitempty"`
	ModelID string     `json:"modelId"`
	Kind    delta.Kind `json:"kind"`
	Content []byte     `json:"-"`
}

// SubmitResponse describes a submitted delta.
type SubmitResponse struct {
	ID    string      `json:"id"`
	State delta.State `json:"state"`
	Href  string      `json:"href"`
}

// ModelRequest selects a model snapshot.
type ModelRequest struct {
	// ID selects the snapshot. Empty selects the latest one.
	ID              string
	IfModifiedSince time.Time
	Encoding        assembler.Encoding
	// Summary omits the serialized graph.
	Summary bool
}

// ModelResponse is a model snapshot.
type ModelResponse struct {
	ID           string             `json:"id"`
	CreationTime time.Time          `json:"creationTime"`
	ContentHash  string             `json:"contentHash"`
	Encoding     assembler.Encoding `json:"encoding,omitempty"`
	Graph        []byte             `json:"-"`
}

// ActiveReservations is the content of the active set.
type ActiveReservations struct {
	Version      int64                      `json:"version"`
	Reservations []*reservation.Reservation `json:"reservations"`
}

// Service implements the inbound operations.
type Service struct {
	Deltas    delta.DB
	Committer Committer
	Models    Models
	ActiveSet ActiveSet
	// Bus delivers delta transitions for WaitDelta. It may be nil.
	Bus   *events.Bus
	Clock clock.Clock
	IDs   identity.Generator
	// HrefPrefix is prepended to delta IDs to build their href.
	HrefPrefix string
}

// SubmitDelta stores a new delta in state accepting. It fails with
// InvalidInput for malformed content, with NotFound for an unknown model
// and with Conflict if the ID is taken.
func (s *Service) SubmitDelta(ctx context.Context, req SubmitRequest) (*SubmitResponse, error) {
	kind, err := delta.ParseKind(string(req.Kind))
	if err != nil {
		return nil, errkind.Wrap(errkind.InvalidInput, err)
	}
	id := req.ID
	if id == "" {
		id = s.IDs.NewID()
	}
	if !identity.Valid(id) {
		return nil, errkind.New(errkind.InvalidInput, "delta id is not a uuid", "id", id)
	}
	rs, err := reservation.Parse(req.Content)
	if err != nil {
		return nil, errkind.Wrap(errkind.InvalidInput, err, "id", id)
	}
	if len(rs) == 0 {
		return nil, errkind.New(errkind.InvalidInput, "delta without connections", "id", id)
	}
	if req.ModelID == "" {
		return nil, errkind.New(errkind.InvalidInput, "model id missing", "id", id)
	}
	if _, err := s.Models.Get(ctx, req.ModelID, time.Time{}); err != nil {
		if errkind.Of(err) == errkind.NotFound {
			return nil, errkind.Wrap(errkind.NotFound, err, "model", req.ModelID)
		}
		return nil, serrors.Wrap("looking up model", err, "model", req.ModelID)
	}
	now := s.Clock.Now()
	d := &delta.Delta{
		ID:           id,
		InsertTime:   now,
		UpdateTime:   now,
		State:        delta.Accepting,
		Kind:         kind,
		Content:      req.Content,
		ModelID:      req.ModelID,
		ConnectionID: rs[0].ConnectionID,
	}
	if err := s.Deltas.Insert(ctx, d); err != nil {
		return nil, err
	}
	log.FromCtx(ctx).Info("Delta submitted", "id", id, "kind", kind, "model", req.ModelID,
		"connection", d.ConnectionID)
	return &SubmitResponse{ID: id, State: d.State, Href: s.HrefPrefix + id}, nil
}

// CommitDelta commits an accepted delta. Deltas in any other state fail
// with a PreconditionFailed error.
func (s *Service) CommitDelta(ctx context.Context, id string) (*delta.Delta, error) {
	d, err := s.Committer.Commit(ctx, id)
	if err != nil {
		return nil, err
	}
	log.FromCtx(ctx).Info("Delta committed", "id", id)
	return d, nil
}

// GetDelta returns the delta with the ID.
func (s *Service) GetDelta(ctx context.Context, id string) (*delta.Delta, error) {
	return s.Deltas.Get(ctx, id)
}

// GetDeltaHistory returns the state transitions of the delta.
func (s *Service) GetDeltaHistory(ctx context.Context, id string) ([]delta.Transition, error) {
	if _, err := s.Deltas.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.Deltas.History(ctx, id)
}

// GetDeltas returns the deltas updated at or after updatedSince in insert
// order. A non-positive limit selects DefaultDeltasLimit.
func (s *Service) GetDeltas(ctx context.Context, updatedSince time.Time,
	limit int) ([]*delta.Delta, error) {

	if limit <= 0 {
		limit = DefaultDeltasLimit
	}
	return s.Deltas.List(ctx, delta.ListFilter{UpdatedSince: updatedSince, Limit: limit})
}

// GetModel returns a model snapshot. If the snapshot was not created after
// IfModifiedSince, the error matches assembler.ErrNotModified.
func (s *Service) GetModel(ctx context.Context, req ModelRequest) (*ModelResponse, error) {
	snap, err := s.Models.Get(ctx, req.ID, req.IfModifiedSince)
	if err != nil {
		return nil, err
	}
	resp := &ModelResponse{
		ID:           snap.ID,
		CreationTime: snap.CreationTime,
		ContentHash:  snap.ContentHash,
	}
	if req.Summary {
		return resp, nil
	}
	graph, err := assembler.Encode(snap, req.Encoding)
	if err != nil {
		return nil, err
	}
	resp.Encoding = req.Encoding
	if resp.Encoding == "" {
		resp.Encoding = assembler.JSON
	}
	resp.Graph = graph
	return resp, nil
}

// GetActiveReservations returns the current active set.
func (s *Service) GetActiveReservations(context.Context) (*ActiveReservations, error) {
	// The version is read first; a concurrent write leaves the result
	// consistent with a newer version.
	version := s.ActiveSet.Version()
	rs := s.ActiveSet.Snapshot().List()
	if rs == nil {
		rs = []*reservation.Reservation{}
	}
	return &ActiveReservations{Version: version, Reservations: rs}, nil
}

// WaitDelta blocks until the delta is in one of the states, the context is
// done or the delta reaches a terminal state that is not awaited. It
// returns the delta as last read.
func (s *Service) WaitDelta(ctx context.Context, id string,
	states ...delta.State) (*delta.Delta, error) {

	if s.Bus == nil {
		return nil, errkind.New(errkind.PreconditionFailed, "no event bus configured")
	}
	sub, err := s.Bus.Subscribe(func(t events.Transition) bool { return t.DeltaID == id })
	if err != nil {
		return nil, err
	}
	defer sub.Close()

	want := func(st delta.State) bool {
		for _, w := range states {
			if w == st {
				return true
			}
		}
		return false
	}
	d, err := s.Deltas.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	for !want(d.State) && !d.State.Terminal() {
		t, err := sub.Next(ctx)
		if err != nil {
			return d, errkind.Wrap(errkind.Transient, err, "id", id)
		}
		if !want(t.To) && !t.To.Terminal() {
			continue
		}
		if d, err = s.Deltas.Get(ctx, id); err != nil {
			return nil, err
		}
	}
	if !want(d.State) {
		return d, errkind.New(errkind.PreconditionFailed, "delta reached terminal state",
			"id", id, "state", d.State, "reason", d.Reason)
	}
	return d, nil
}
