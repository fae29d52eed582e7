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

// Package config describes the configuration of the controller.
package config

import (
	"io"
	"time"

	"github.com/siterm/rcp/control/loop"
	"github.com/siterm/rcp/control/render"
	"github.com/siterm/rcp/control/render/adapter"
	"github.com/siterm/rcp/control/statemachine"
	"github.com/siterm/rcp/pkg/log"
	"github.com/siterm/rcp/pkg/private/serrors"
	"github.com/siterm/rcp/pkg/private/util"
	"github.com/siterm/rcp/private/config"
	"github.com/siterm/rcp/private/env"
	api "github.com/siterm/rcp/private/mgmtapi"
	"github.com/siterm/rcp/private/storage"
	"github.com/siterm/rcp/private/topology"
)

const (
	// DefaultFactPollInterval is the default interval between pulls of
	// observed facts from the device adapter.
	DefaultFactPollInterval = time.Minute
	// DefaultModelsMaxAge is the default age after which model snapshots
	// are collected.
	DefaultModelsMaxAge = 7 * 24 * time.Hour
	// DefaultModelsMaxCount is the default number of model snapshots kept.
	DefaultModelsMaxCount = 1000
	// DefaultDeltasMaxAge is the default time terminal deltas are kept.
	DefaultDeltasMaxAge = 30 * 24 * time.Hour
)

var _ config.Config = (*Config)(nil)

// Config is the controller configuration.
type Config struct {
	General       env.General           `toml:"general,omitempty"`
	Features      env.Features          `toml:"features,omitempty"`
	Logging       log.Config            `toml:"log,omitempty"`
	Metrics       env.Metrics           `toml:"metrics,omitempty"`
	API           api.Config            `toml:"api,omitempty"`
	Tracing       env.Tracing           `toml:"tracing,omitempty"`
	DeltaDB       storage.DBConfig      `toml:"delta_db,omitempty"`
	ReservationDB storage.DBConfig      `toml:"reservation_db,omitempty"`
	ModelDB       storage.ModelDBConfig `toml:"model_db,omitempty"`
	Controller    ControllerConfig      `toml:"controller,omitempty"`
	Retention     RetentionConfig       `toml:"retention,omitempty"`
	Adapter       AdapterConfig         `toml:"adapter,omitempty"`
}

// InitDefaults initializes the default values for all parts of the config.
func (cfg *Config) InitDefaults() {
	config.InitAll(
		&cfg.General,
		&cfg.Features,
		&cfg.Logging,
		&cfg.Metrics,
		&cfg.API,
		&cfg.Tracing,
		cfg.DeltaDB.WithDefault(storage.SetID(storage.SampleDeltaDB, cfg.General.ID).Connection),
		cfg.ReservationDB.WithDefault(
			storage.SetID(storage.SampleReservationDB, cfg.General.ID).Connection),
		&cfg.ModelDB,
		&cfg.Controller,
		&cfg.Retention,
		&cfg.Adapter,
	)
}

// Validate validates all parts of the config.
func (cfg *Config) Validate() error {
	return config.ValidateAll(
		&cfg.General,
		&cfg.Features,
		&cfg.Logging,
		&cfg.Metrics,
		&cfg.API,
		&cfg.DeltaDB,
		&cfg.ReservationDB,
		&cfg.ModelDB,
		&cfg.Controller,
		&cfg.Retention,
		&cfg.Adapter,
	)
}

// Sample generates a sample config file for the controller.
func (cfg *Config) Sample(dst io.Writer, path config.Path, _ config.CtxMap) {
	config.WriteSample(dst, path, config.CtxMap{config.ID: idSample},
		&cfg.General,
		&cfg.Features,
		&cfg.Logging,
		&cfg.Metrics,
		&cfg.API,
		&cfg.Tracing,
		config.OverrideName(
			config.FormatData(
				&cfg.DeltaDB,
				storage.SetID(storage.SampleDeltaDB, idSample).Connection,
			),
			"delta_db",
		),
		config.OverrideName(
			config.FormatData(
				&cfg.ReservationDB,
				storage.SetID(storage.SampleReservationDB, idSample).Connection,
			),
			"reservation_db",
		),
		config.FormatData(
			&cfg.ModelDB,
			storage.SetModelID(storage.SampleModelDB, idSample).Connection,
			storage.SetModelID(storage.SampleModelDB, idSample).BlobPath,
		),
		&cfg.Controller,
		&cfg.Retention,
		&cfg.Adapter,
	)
}

var _ config.Config = (*ControllerConfig)(nil)

// ControllerConfig holds the tuning of the controller loop.
type ControllerConfig struct {
	// Tick is the period of the controller loop.
	Tick util.DurWrap `toml:"tick,omitempty"`
	// CommitTimeout is the time an accepted delta waits for its commit.
	CommitTimeout util.DurWrap `toml:"commit_timeout,omitempty"`
	// RenderTimeout bounds a single apply on a device.
	RenderTimeout util.DurWrap `toml:"render_timeout,omitempty"`
	// ForceApplyInterval is the interval after which unchanged intended
	// state is re-applied.
	ForceApplyInterval util.DurWrap `toml:"force_apply_interval,omitempty"`
	// RemovalDeadline is the time after which a deactivating delta is
	// removed even if its devices were not cleared.
	RemovalDeadline util.DurWrap `toml:"removal_deadline,omitempty"`
	// ShutdownGrace is the time in-flight work gets on shutdown.
	ShutdownGrace util.DurWrap `toml:"shutdown_grace,omitempty"`
	// FactTolerance is the number of consecutive fact reports that may
	// disagree with the site file before the controller halts.
	FactTolerance int `toml:"fact_tolerance,omitempty"`
	// MaxRenderAttempts is the number of failed dispatches after which an
	// activating delta fails.
	MaxRenderAttempts int `toml:"max_render_attempts,omitempty"`
	// StuckThreshold is the number of failed dispatches after which a
	// deactivating delta is reported as stuck.
	StuckThreshold int `toml:"stuck_threshold,omitempty"`
	// BackoffInitial and BackoffMax bound the retry schedule of a failing
	// device.
	BackoffInitial util.DurWrap `toml:"backoff_initial,omitempty"`
	BackoffMax     util.DurWrap `toml:"backoff_max,omitempty"`
	// FactPollInterval is the interval between pulls of observed facts.
	// Only used with the fact_polling feature.
	FactPollInterval util.DurWrap `toml:"fact_poll_interval,omitempty"`
}

// InitDefaults sets the durations that are zero to their defaults.
func (cfg *ControllerConfig) InitDefaults() {
	cfg.Tick.InitDefault(loop.DefaultTick)
	cfg.CommitTimeout.InitDefault(statemachine.DefaultCommitTimeout)
	cfg.RenderTimeout.InitDefault(render.DefaultTimeout)
	cfg.ForceApplyInterval.InitDefault(render.DefaultForceApplyInterval)
	cfg.RemovalDeadline.InitDefault(statemachine.DefaultRemovalDeadline)
	cfg.ShutdownGrace.InitDefault(env.ShutdownGraceInterval)
	cfg.BackoffInitial.InitDefault(render.DefaultBackoffInitial)
	cfg.BackoffMax.InitDefault(render.DefaultBackoffMax)
	cfg.FactPollInterval.InitDefault(DefaultFactPollInterval)
	if cfg.FactTolerance == 0 {
		cfg.FactTolerance = topology.DefaultFactTolerance
	}
	if cfg.MaxRenderAttempts == 0 {
		cfg.MaxRenderAttempts = statemachine.DefaultMaxRenderAttempts
	}
	if cfg.StuckThreshold == 0 {
		cfg.StuckThreshold = statemachine.DefaultStuckThreshold
	}
}

// Validate checks that the durations are positive and consistent.
func (cfg *ControllerConfig) Validate() error {
	for name, d := range map[string]time.Duration{
		"tick":                 cfg.Tick.Duration,
		"commit_timeout":       cfg.CommitTimeout.Duration,
		"render_timeout":       cfg.RenderTimeout.Duration,
		"force_apply_interval": cfg.ForceApplyInterval.Duration,
		"removal_deadline":     cfg.RemovalDeadline.Duration,
		"shutdown_grace":       cfg.ShutdownGrace.Duration,
		"backoff_initial":      cfg.BackoffInitial.Duration,
		"backoff_max":          cfg.BackoffMax.Duration,
		"fact_poll_interval":   cfg.FactPollInterval.Duration,
	} {
		if d <= 0 {
			return serrors.New("duration must be positive", "option", name, "value", d)
		}
	}
	if cfg.BackoffMax.Duration < cfg.BackoffInitial.Duration {
		return serrors.New("backoff_max must not be smaller than backoff_initial",
			"backoff_initial", cfg.BackoffInitial, "backoff_max", cfg.BackoffMax)
	}
	if cfg.FactTolerance < 0 || cfg.MaxRenderAttempts < 0 || cfg.StuckThreshold < 0 {
		return serrors.New("counts must not be negative",
			"fact_tolerance", cfg.FactTolerance,
			"max_render_attempts", cfg.MaxRenderAttempts,
			"stuck_threshold", cfg.StuckThreshold)
	}
	return nil
}

// Sample generates a sample for the controller loop configuration.
func (cfg *ControllerConfig) Sample(dst io.Writer, path config.Path, ctx config.CtxMap) {
	config.WriteString(dst, controllerSample)
}

// ConfigName is the toml key for the controller loop configuration.
func (cfg *ControllerConfig) ConfigName() string {
	return "controller"
}

// Machine returns the configuration of the state machine.
func (cfg *ControllerConfig) Machine() statemachine.Config {
	return statemachine.Config{
		CommitTimeout:     cfg.CommitTimeout.Duration,
		RemovalDeadline:   cfg.RemovalDeadline.Duration,
		MaxRenderAttempts: cfg.MaxRenderAttempts,
		StuckThreshold:    cfg.StuckThreshold,
	}
}

// Renderer returns the configuration of the renderer.
func (cfg *ControllerConfig) Renderer() render.Config {
	return render.Config{
		Timeout:            cfg.RenderTimeout.Duration,
		ForceApplyInterval: cfg.ForceApplyInterval.Duration,
		BackoffInitial:     cfg.BackoffInitial.Duration,
		BackoffMax:         cfg.BackoffMax.Duration,
	}
}

var _ config.Config = (*RetentionConfig)(nil)

// RetentionConfig bounds the history kept by the stores.
type RetentionConfig struct {
	// ModelsMaxAge is the age after which model snapshots are collected.
	ModelsMaxAge util.DurWrap `toml:"models_max_age,omitempty"`
	// ModelsMaxCount is the number of model snapshots kept.
	ModelsMaxCount int `toml:"models_max_count,omitempty"`
	// DeltasMaxAge is the time terminal deltas are kept.
	DeltasMaxAge util.DurWrap `toml:"deltas_max_age,omitempty"`
	// ReservationVersions is the number of active set versions kept.
	ReservationVersions int `toml:"reservation_versions,omitempty"`
}

func (cfg *RetentionConfig) InitDefaults() {
	cfg.ModelsMaxAge.InitDefault(DefaultModelsMaxAge)
	cfg.DeltasMaxAge.InitDefault(DefaultDeltasMaxAge)
	if cfg.ModelsMaxCount == 0 {
		cfg.ModelsMaxCount = DefaultModelsMaxCount
	}
	if cfg.ReservationVersions == 0 {
		cfg.ReservationVersions = storage.DefaultReservationVersions
	}
}

func (cfg *RetentionConfig) Validate() error {
	if cfg.ModelsMaxAge.Duration <= 0 || cfg.DeltasMaxAge.Duration <= 0 {
		return serrors.New("retention ages must be positive",
			"models_max_age", cfg.ModelsMaxAge, "deltas_max_age", cfg.DeltasMaxAge)
	}
	if cfg.ModelsMaxCount < 1 || cfg.ReservationVersions < 1 {
		return serrors.New("retention counts must be positive",
			"models_max_count", cfg.ModelsMaxCount,
			"reservation_versions", cfg.ReservationVersions)
	}
	return nil
}

func (cfg *RetentionConfig) Sample(dst io.Writer, path config.Path, ctx config.CtxMap) {
	config.WriteString(dst, retentionSample)
}

func (cfg *RetentionConfig) ConfigName() string {
	return "retention"
}

var _ config.Config = (*AdapterConfig)(nil)

// AdapterConfig selects the device adapter.
type AdapterConfig struct {
	// Type is the adapter type, "file" or "log".
	Type string `toml:"type,omitempty"`
	// Dir is the output directory of the file adapter.
	Dir string `toml:"dir,omitempty"`
}

func (cfg *AdapterConfig) InitDefaults() {
	if cfg.Type == "" {
		cfg.Type = adapter.TypeLog
	}
}

func (cfg *AdapterConfig) Validate() error {
	switch cfg.Type {
	case adapter.TypeLog:
		return nil
	case adapter.TypeFile:
		if cfg.Dir == "" {
			return serrors.New("file adapter requires a directory")
		}
		return nil
	}
	return serrors.New("unknown adapter type", "type", cfg.Type)
}

func (cfg *AdapterConfig) Sample(dst io.Writer, path config.Path, ctx config.CtxMap) {
	config.WriteString(dst, adapterSample)
}

func (cfg *AdapterConfig) ConfigName() string {
	return "adapter"
}
