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

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/siterm/rcp/control/assembler"
	"github.com/siterm/rcp/pkg/delta"
	"github.com/siterm/rcp/pkg/errkind"
	"github.com/siterm/rcp/pkg/log"
	"github.com/siterm/rcp/pkg/private/serrors"
)

// Server exposes the service over HTTP.
type Server struct {
	Service *Service
	// Config, Info and LogLevel serve the status pages of the process.
	Config   http.HandlerFunc
	Info     http.HandlerFunc
	LogLevel http.HandlerFunc
	// Reporter receives observed state. It may be nil.
	Reporter Reporter
	// Halted reports the error that halted the controller loop. Resume
	// clears it. Both may be nil.
	Halted func() error
	Resume func()
}

// Handler registers the endpoints of s on r below baseURL and returns r.
func Handler(s *Server, r chi.Router, baseURL string) http.Handler {
	r.Route(baseURL, func(r chi.Router) {
		r.Post("/deltas", s.submitDelta)
		r.Get("/deltas", s.getDeltas)
		r.Get("/deltas/{id}", s.getDelta)
		r.Get("/deltas/{id}/history", s.getDeltaHistory)
		r.Put("/deltas/{id}/actions/commit", s.commitDelta)
		r.Get("/models", s.getModel)
		r.Get("/models/{id}", s.getModel)
		r.Get("/reservations", s.getReservations)
		r.Get("/healthz", s.healthz)
		if s.Reporter != nil {
			r.Put("/topology/devices/{device}/facts", s.reportDeviceFacts)
			r.Put("/topology/hosts/{host}/agent", s.reportAgentInfo)
		}
		if s.Resume != nil {
			r.Post("/loop/resume", s.resume)
		}
		if s.Config != nil {
			r.Get("/config", s.Config)
		}
		if s.Info != nil {
			r.Get("/info", s.Info)
		}
		if s.LogLevel != nil {
			r.Get("/log/level", s.LogLevel)
			r.Put("/log/level", s.LogLevel)
		}
	})
	return r
}

// Problem is the error body of all endpoints.
type Problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

type submitBody struct {
	ID      string          `json:"id,omitempty"`
	ModelID string          `json:"modelId"`
	Kind    delta.Kind      `json:"kind"`
	Content json.RawMessage `json:"content"`
}

type modelBody struct {
	*ModelResponse
	Graph any `json:"graph,omitempty"`
}

func (s *Server) submitDelta(w http.ResponseWriter, r *http.Request) {
	var body submitBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, "decoding request",
			errkind.Wrap(errkind.InvalidInput, err))
		return
	}
	resp, err := s.Service.SubmitDelta(r.Context(), SubmitRequest{
		ID:      body.ID,
		ModelID: body.ModelID,
		Kind:    body.Kind,
		Content: body.Content,
	})
	if err != nil {
		writeError(w, r, "submitting delta", err)
		return
	}
	w.Header().Set("Location", resp.Href)
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) getDeltas(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var since time.Time
	if v := q.Get("updatedSince"); v != "" {
		var err error
		if since, err = parseTime(v); err != nil {
			writeError(w, r, "parsing updatedSince", err)
			return
		}
	}
	var limit int
	if v := q.Get("limit"); v != "" {
		var err error
		if limit, err = strconv.Atoi(v); err != nil || limit < 0 {
			writeError(w, r, "parsing limit",
				errkind.New(errkind.InvalidInput, "invalid limit", "limit", v))
			return
		}
	}
	ds, err := s.Service.GetDeltas(r.Context(), since, limit)
	if err != nil {
		writeError(w, r, "listing deltas", err)
		return
	}
	if ds == nil {
		ds = []*delta.Delta{}
	}
	writeJSON(w, http.StatusOK, ds)
}

func (s *Server) getDelta(w http.ResponseWriter, r *http.Request) {
	d, err := s.Service.GetDelta(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, "reading delta", err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) getDeltaHistory(w http.ResponseWriter, r *http.Request) {
	h, err := s.Service.GetDeltaHistory(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, "reading delta history", err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

func (s *Server) commitDelta(w http.ResponseWriter, r *http.Request) {
	d, err := s.Service.CommitDelta(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, "committing delta", err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) getModel(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	enc, err := assembler.ParseEncoding(q.Get("encoding"))
	if err != nil {
		writeError(w, r, "parsing encoding", err)
		return
	}
	req := ModelRequest{
		ID:       chi.URLParam(r, "id"),
		Encoding: enc,
		Summary:  q.Get("summary") == "true",
	}
	if v := r.Header.Get("If-Modified-Since"); v != "" {
		if req.IfModifiedSince, err = http.ParseTime(v); err != nil {
			writeError(w, r, "parsing If-Modified-Since",
				errkind.Wrap(errkind.InvalidInput, err))
			return
		}
	}
	resp, err := s.Service.GetModel(r.Context(), req)
	if assembler.IsNotModified(err) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	if err != nil {
		writeError(w, r, "reading model", err)
		return
	}
	w.Header().Set("Last-Modified", resp.CreationTime.UTC().Format(http.TimeFormat))
	body := modelBody{ModelResponse: resp}
	switch {
	case resp.Graph == nil:
	case resp.Encoding == assembler.JSON:
		body.Graph = json.RawMessage(resp.Graph)
	default:
		body.Graph = string(resp.Graph)
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) getReservations(w http.ResponseWriter, r *http.Request) {
	set, err := s.Service.GetActiveReservations(r.Context())
	if err != nil {
		writeError(w, r, "reading active set", err)
		return
	}
	writeJSON(w, http.StatusOK, set)
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if s.Halted != nil {
		if err := s.Halted(); err != nil {
			writeError(w, r, "control loop halted", errkind.Wrap(errkind.Transient, err))
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) resume(w http.ResponseWriter, r *http.Request) {
	s.Resume()
	w.WriteHeader(http.StatusNoContent)
}

// parseTime accepts RFC 3339 timestamps and UTC seconds.
func parseTime(v string) (time.Time, error) {
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, errkind.Wrap(errkind.InvalidInput, err, "time", v)
	}
	return t, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	raw, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		http.Error(w, "unable to marshal response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(raw, '\n'))
}

func writeError(w http.ResponseWriter, r *http.Request, title string, err error) {
	status := errkind.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		log.FromCtx(r.Context()).Info("Request failed", "method", r.Method,
			"path", r.URL.Path, "err", err)
	}
	raw, merr := json.MarshalIndent(Problem{
		Type:   string(errkind.Of(err)),
		Title:  title,
		Status: status,
		Detail: err.Error(),
	}, "", "    ")
	if merr != nil {
		http.Error(w, serrors.Wrap("marshalling problem", merr).Error(), status)
		return
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_, _ = w.Write(append(raw, '\n'))
}
