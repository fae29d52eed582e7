// Copyright 2018 ETH Zurich, Anapaya Systems
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

// Package env contains common command line and initialization code for the
// controller processes. If something is specific to one app, it should go
// into that app's code and not here.
//
// During initialization, SIGHUPs are masked. To call a function on each
// SIGHUP, use ReloadSignal.
package env

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	opentracing "github.com/opentracing/opentracing-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	jaeger "github.com/uber/jaeger-client-go"
	jaegercfg "github.com/uber/jaeger-client-go/config"

	"github.com/siterm/rcp/pkg/log"
	"github.com/siterm/rcp/pkg/private/serrors"
	"github.com/siterm/rcp/private/app/feature"
	"github.com/siterm/rcp/private/config"
)

const (
	// SiteFile is the default file name of the site description.
	SiteFile = "sites.yaml"

	// ShutdownGraceInterval is the time applications wait after issuing a
	// clean shutdown signal, before forcerfully tearing down the application.
	ShutdownGraceInterval = 30 * time.Second

	// HandlerTimeout is the time after which the http handler gives up on a request and
	// returns an error instead.
	HandlerTimeout = time.Minute
)

var sighupC chan os.Signal

func init() {
	os.Setenv("TZ", "UTC")
	sighupC = make(chan os.Signal, 1)
	signal.Notify(sighupC, syscall.SIGHUP)
}

// ReloadSignal returns a channel that fires on every SIGHUP. The channel
// is closed when ctx is done.
func ReloadSignal(ctx context.Context) <-chan struct{} {
	reload := make(chan struct{})
	go func() {
		defer log.HandlePanic()
		defer close(reload)
		for {
			select {
			case <-ctx.Done():
				return
			case <-sighupC:
				log.Info("Received SIGHUP")
				select {
				case reload <- struct{}{}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return reload
}

var _ config.Config = (*General)(nil)

type General struct {
	// ID is the identifier of the controller instance. It is used in the
	// default database paths and in the exported metrics.
	ID string `toml:"id,omitempty"`
	// ConfigDir for loading extra files (currently, only the site file).
	ConfigDir string `toml:"config_dir,omitempty"`
	// SiteFile is the path of the site description. Relative paths are
	// resolved against ConfigDir.
	SiteFile string `toml:"site_file,omitempty"`
}

// InitDefaults sets the default site file if not already set.
func (cfg *General) InitDefaults() {
	if cfg.SiteFile == "" {
		cfg.SiteFile = SiteFile
	}
}

func (cfg *General) Validate() error {
	if cfg.ID == "" {
		return serrors.New("no element id specified")
	}
	return cfg.checkDir()
}

// checkDir checks that the config dir is a directory.
func (cfg *General) checkDir() error {
	if cfg.ConfigDir != "" {
		info, err := os.Stat(cfg.ConfigDir)
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return serrors.New("config_dir is not a directory", "dir", cfg.ConfigDir)
		}
	}
	return nil
}

func (cfg *General) Sample(dst io.Writer, path config.Path, ctx config.CtxMap) {
	config.WriteString(dst, fmt.Sprintf(generalSample, ctx[config.ID]))
}

func (cfg *General) ConfigName() string {
	return "general"
}

// Sites returns the path to the site file.
func (cfg *General) Sites() string {
	if filepath.IsAbs(cfg.SiteFile) {
		return cfg.SiteFile
	}
	return filepath.Join(cfg.ConfigDir, cfg.SiteFile)
}

var _ config.Config = (*Features)(nil)

// Features contains the enabled feature flags.
type Features struct {
	config.NoDefaulter
	// Enabled lists the names of the enabled features.
	Enabled []string `toml:"enabled,omitempty"`
}

func (cfg *Features) Validate() error {
	_, err := feature.ParseDefault(cfg.Enabled)
	return err
}

// Default returns the parsed feature set. Unknown features are ignored,
// Validate reports them.
func (cfg *Features) Default() feature.Default {
	d, _ := feature.ParseDefault(cfg.Enabled)
	return d
}

func (cfg *Features) Sample(dst io.Writer, path config.Path, _ config.CtxMap) {
	config.WriteString(dst, fmt.Sprintf(featuresSample,
		feature.String(&feature.Default{}, ", ")))
}

func (cfg *Features) ConfigName() string {
	return "features"
}

var _ config.Config = (*Metrics)(nil)

type Metrics struct {
	config.NoDefaulter
	config.NoValidator
	// Prometheus contains the address to export prometheus metrics on. If
	// not set, metrics are not exported.
	Prometheus string `toml:"prometheus,omitempty"`
}

func (cfg *Metrics) Sample(dst io.Writer, path config.Path, _ config.CtxMap) {
	config.WriteString(dst, metricsSample)
}

func (cfg *Metrics) ConfigName() string {
	return "metrics"
}

func (cfg *Metrics) ServePrometheus(ctx context.Context) error {
	if cfg.Prometheus == "" {
		return nil
	}
	handler := promhttp.InstrumentMetricHandler(
		prometheus.DefaultRegisterer,
		promhttp.HandlerFor(
			prometheus.DefaultGatherer,
			promhttp.HandlerOpts{Timeout: HandlerTimeout},
		),
	)
	http.Handle("/metrics", handler)
	log.Info("Exporting prometheus metrics", "addr", cfg.Prometheus)

	server := &http.Server{Addr: cfg.Prometheus}
	go func() {
		defer log.HandlePanic()
		<-ctx.Done()
		server.Close()
	}()
	err := server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return serrors.Wrap("serving prometheus metrics", err)
	}
	return nil
}

// Tracing contains configuration for tracing.
type Tracing struct {
	// Enabled enables tracing for this service.
	Enabled bool `toml:"enabled,omitempty"`
	// Enable debug mode.
	Debug bool `toml:"debug,omitempty"`
	// Agent is the address of the local agent that handles the reported
	// traces. (default: localhost:6831)
	Agent string `toml:"agent,omitempty"`
}

func (cfg *Tracing) InitDefaults() {
	if cfg.Agent == "" {
		cfg.Agent = net.JoinHostPort(
			jaeger.DefaultUDPSpanServerHost,
			strconv.Itoa(jaeger.DefaultUDPSpanServerPort),
		)
	}
}

func (cfg *Tracing) Sample(dst io.Writer, path config.Path, _ config.CtxMap) {
	config.WriteString(dst, tracingSample)
}

func (cfg *Tracing) ConfigName() string {
	return "tracing"
}

// NewTracer creates a new Tracer for the given configuration. In case tracing
// is disabled this still returns noop-objects for convenience of the caller.
func (cfg *Tracing) NewTracer(id string) (opentracing.Tracer, io.Closer, error) {
	traceConfig := jaegercfg.Configuration{
		ServiceName: id,
		Disabled:    !cfg.Enabled,
		Reporter: &jaegercfg.ReporterConfig{
			LocalAgentHostPort: cfg.Agent,
		},
	}
	if cfg.Debug {
		traceConfig.Sampler = &jaegercfg.SamplerConfig{
			Type:  jaeger.SamplerTypeConst,
			Param: 1,
		}
	}
	bp := jaeger.NewBinaryPropagator(nil)
	return traceConfig.NewTracer(
		jaegercfg.Extractor(opentracing.Binary, bp),
		jaegercfg.Injector(opentracing.Binary, bp))
}
