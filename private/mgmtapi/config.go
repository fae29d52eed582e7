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

// Package mgmtapi contains the configuration and the server of the
// management API.
package mgmtapi

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/siterm/rcp/pkg/log"
	"github.com/siterm/rcp/pkg/private/serrors"
	"github.com/siterm/rcp/private/config"
)

// DefaultAddr is the default address of the management API.
const DefaultAddr = "127.0.0.1:30460"

// BaseURL is the path prefix of the API endpoints.
const BaseURL = "/api/v1"

var _ config.Config = (*Config)(nil)

// Config is the configuration of the management API.
type Config struct {
	config.NoValidator
	// Addr is the address the API listens on. An empty address disables
	// the API.
	Addr string `toml:"addr,omitempty"`
	// ReadHeaderTimeout bounds the time to read request headers.
	ReadHeaderTimeout time.Duration `toml:"-"`
}

// InitDefaults sets the default timeouts.
func (c *Config) InitDefaults() {
	if c.ReadHeaderTimeout == 0 {
		c.ReadHeaderTimeout = 10 * time.Second
	}
}

// Sample writes the sample configuration.
func (c *Config) Sample(dst io.Writer, path config.Path, _ config.CtxMap) {
	config.WriteString(dst, sample)
}

// ConfigName returns the name of the block.
func (c *Config) ConfigName() string {
	return "api"
}

// NewRouter returns a router with the middleware shared by all endpoints.
func NewRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut},
		AllowedHeaders: []string{"Content-Type", "If-Modified-Since"},
		ExposedHeaders: []string{"Location", "Last-Modified"},
	}))
	r.Use(middleware.Recoverer)
	return r
}

// Serve serves handler on the configured address until ctx is done. In
// flight requests get the grace period to complete.
func (c *Config) Serve(ctx context.Context, handler http.Handler, grace time.Duration) error {
	if c.Addr == "" {
		return nil
	}
	server := &http.Server{
		Addr:              c.Addr,
		Handler:           handler,
		ReadHeaderTimeout: c.ReadHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	log.Info("Exporting management API", "addr", c.Addr)
	go func() {
		defer log.HandlePanic()
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			server.Close()
		}
	}()
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return serrors.Wrap("serving management API", err, "addr", c.Addr)
	}
	return nil
}

const sample = `
# The address to expose the management API on (host:port or ip:port or
# :port). If not set, the API is not exposed. (default "127.0.0.1:30460")
addr = "127.0.0.1:30460"
`
