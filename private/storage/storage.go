// Copyright 2020 Anapaya Systems
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

// Package storage provides factories for the storage backends of the
// controller. Each factory opens the backend and starts the periodic task
// that enforces its retention. Closing the returned database stops the task.
package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/siterm/rcp/pkg/clock"
	"github.com/siterm/rcp/pkg/delta"
	"github.com/siterm/rcp/pkg/log"
	"github.com/siterm/rcp/pkg/metrics"
	"github.com/siterm/rcp/private/config"
	"github.com/siterm/rcp/private/periodic"
	"github.com/siterm/rcp/private/storage/activeset"
	sqliteactiveset "github.com/siterm/rcp/private/storage/activeset/sqlite"
	"github.com/siterm/rcp/private/storage/cleaner"
	"github.com/siterm/rcp/private/storage/db"
	deltametrics "github.com/siterm/rcp/private/storage/delta/metrics"
	sqlitedelta "github.com/siterm/rcp/private/storage/delta/sqlite"
	"github.com/siterm/rcp/private/storage/model"
	"github.com/siterm/rcp/private/storage/model/blob"
	sqlitemodel "github.com/siterm/rcp/private/storage/model/sqlite"
)

// Backend indicates the database backend type.
type Backend string

const (
	// BackendSqlite indicates an sqlite backend.
	BackendSqlite Backend = "sqlite"
	// DefaultPath indicates the default connection string for a generic database.
	DefaultPath                = "/share/rcp.db"
	DefaultDeltaDBPath         = "/share/data/%s.delta.db"
	DefaultReservationDBPath   = "/share/data/%s.reservation.db"
	DefaultModelDBPath         = "/share/cache/%s.model.db"
	DefaultModelBlobPath       = "/share/cache/%s.model.bolt"
	DefaultCleanerPeriod       = 30 * time.Second
	DefaultReservationVersions = 100
)

// Default samples for various databases.
var (
	SampleDeltaDB = DBConfig{
		Connection: DefaultDeltaDBPath,
	}
	SampleReservationDB = DBConfig{
		Connection: DefaultReservationDBPath,
	}
	SampleModelDB = ModelDBConfig{
		DBConfig: DBConfig{Connection: DefaultModelDBPath},
		BlobPath: DefaultModelBlobPath,
	}
)

// SetID returns a clone of the configuration that has the ID set on the connection string.
func SetID(cfg DBConfig, id string) *DBConfig {
	cfg.Connection = fmt.Sprintf(cfg.Connection, id)
	return &cfg
}

// ActiveSetDB persists the active reservation set.
type ActiveSetDB interface {
	io.Closer
	activeset.Persister
}

var _ (config.Config) = (*DBConfig)(nil)

// DBConfig is the configuration for the connection to a database.
type DBConfig struct {
	Connection   string `toml:"connection,omitempty"`
	MaxOpenConns int    `toml:"max_open_conns,omitempty"`
	MaxIdleConns int    `toml:"max_idle_conns,omitempty"`
}

type writeDefault struct {
	*DBConfig
	defaultPath string
}

func (w writeDefault) InitDefaults() {
	if w.Connection == "" {
		w.Connection = w.defaultPath
	}
}

func (cfg *DBConfig) WithDefault(path string) config.Defaulter {
	return writeDefault{DBConfig: cfg, defaultPath: path}
}

// SetConnLimits sets the maximum number of open and idle connections based on the configuration.
// Limits of 0 mean the Go default will be used.
func SetConnLimits(d db.LimitSetter, c DBConfig) {
	if c.MaxOpenConns != 0 {
		d.SetMaxOpenConns(c.MaxOpenConns)
	}
	if c.MaxIdleConns != 0 {
		d.SetMaxIdleConns(c.MaxIdleConns)
	}
}

func (cfg *DBConfig) InitDefaults() {
	if cfg.Connection == "" {
		cfg.Connection = DefaultPath
	}
}

func (cfg *DBConfig) Validate() error {
	return nil
}

// Sample writes a config sample to the writer.
func (cfg *DBConfig) Sample(dst io.Writer, path config.Path, ctx config.CtxMap) {
	config.WriteString(dst, sample)
}

// ConfigName is the key in the toml file.
func (cfg *DBConfig) ConfigName() string {
	return "db"
}

var _ (config.Config) = (*ModelDBConfig)(nil)

// ModelDBConfig configures the model snapshot database. The metadata is
// kept in the database at Connection, the serialized graphs in the bbolt
// file at BlobPath.
type ModelDBConfig struct {
	DBConfig
	BlobPath string `toml:"blob_path,omitempty"`
}

func (cfg *ModelDBConfig) InitDefaults() {
	if cfg.Connection == "" {
		cfg.Connection = DefaultModelDBPath
	}
	if cfg.BlobPath == "" {
		cfg.BlobPath = DefaultModelBlobPath
	}
}

// Sample writes a config sample to the writer.
func (cfg *ModelDBConfig) Sample(dst io.Writer, path config.Path, ctx config.CtxMap) {
	config.WriteString(dst, modelSample)
}

// ConfigName is the key in the toml file.
func (cfg *ModelDBConfig) ConfigName() string {
	return "model_db"
}

// SetModelID returns a clone of the configuration that has the ID set on
// the connection string and the blob path.
func SetModelID(cfg ModelDBConfig, id string) *ModelDBConfig {
	cfg.DBConfig = *SetID(cfg.DBConfig, id)
	cfg.BlobPath = fmt.Sprintf(cfg.BlobPath, id)
	return &cfg
}

// Options are the options shared by the storage factories.
type Options struct {
	// Clock is the time source of the cleaners.
	Clock clock.Clock
	// QueriesTotal counts database queries. Optional.
	QueriesTotal metrics.Counter
	// Cleaner returns the metrics of the cleaner of a subsystem. Optional.
	Cleaner func(subsystem string) cleaner.Metrics
	// CleanerPeriod is the period of the cleaners. Zero selects
	// DefaultCleanerPeriod.
	CleanerPeriod time.Duration
}

func (o Options) startCleaner(deleter cleaner.ExpiredDeleter, subsystem string) *periodic.Runner {
	var m cleaner.Metrics
	if o.Cleaner != nil {
		m = o.Cleaner(subsystem)
	}
	period := o.CleanerPeriod
	if period == 0 {
		period = DefaultCleanerPeriod
	}
	return periodic.Start(cleaner.New(deleter, subsystem, o.Clock, m), period, period)
}

// NewDeltaStorage opens the delta database. Terminal deltas are deleted
// once they have not been updated for retention.
func NewDeltaStorage(c DBConfig, retention time.Duration, opts Options) (delta.DB, error) {
	log.Info("Connecting DeltaDB", "backend", BackendSqlite, "connection", c.Connection)
	db, err := sqlitedelta.New(c.Connection)
	if err != nil {
		return nil, err
	}
	SetConnLimits(db, c)
	wrapped := deltametrics.WrapDB(db, deltametrics.Config{
		Driver:       string(BackendSqlite),
		QueriesTotal: opts.QueriesTotal,
	})

	// Start a periodic task that cleans up old terminal deltas.
	cleaner := opts.startCleaner(
		func(ctx context.Context, now time.Time) (int, error) {
			return wrapped.DeleteTerminalBefore(ctx, now.Add(-retention))
		},
		"control_deltastorage",
	)
	return deltaDBWithCleaner{
		DB:      wrapped,
		cleaner: cleaner,
	}, nil
}

// deltaDBWithCleaner implements the delta.DB interface and stops both the
// database and the cleanup task on Close.
type deltaDBWithCleaner struct {
	delta.DB
	cleaner *periodic.Runner
}

func (b deltaDBWithCleaner) Close() error {
	b.cleaner.Kill()
	return b.DB.Close()
}

// NewActiveSetStorage opens the database persisting the active reservation
// set. Only the newest versions are kept.
func NewActiveSetStorage(c DBConfig, versions int, opts Options) (ActiveSetDB, error) {
	log.Info("Connecting ReservationDB", "backend", BackendSqlite, "connection", c.Connection)
	db, err := sqliteactiveset.New(c.Connection)
	if err != nil {
		return nil, err
	}
	SetConnLimits(db, c)
	if versions <= 0 {
		versions = DefaultReservationVersions
	}

	cleaner := opts.startCleaner(
		func(ctx context.Context, _ time.Time) (int, error) {
			return db.DeleteOldVersions(ctx, versions)
		},
		"control_reservationstorage",
	)
	return activeSetDBWithCleaner{
		Backend: db,
		cleaner: cleaner,
	}, nil
}

type activeSetDBWithCleaner struct {
	*sqliteactiveset.Backend
	cleaner *periodic.Runner
}

func (b activeSetDBWithCleaner) Close() error {
	b.cleaner.Kill()
	return b.Backend.Close()
}

// NewModelStorage opens the model snapshot database. Snapshots older than
// maxAge and all but the newest maxCount snapshots are collected. The
// latest snapshot is always kept.
func NewModelStorage(c ModelDBConfig, maxAge time.Duration, maxCount int,
	opts Options) (model.DB, error) {

	log.Info("Connecting ModelDB", "backend", BackendSqlite, "connection", c.Connection,
		"blobs", c.BlobPath)
	meta, err := sqlitemodel.New(c.Connection)
	if err != nil {
		return nil, err
	}
	SetConnLimits(meta, c.DBConfig)
	blobs, err := blob.New(c.BlobPath)
	if err != nil {
		meta.Close()
		return nil, err
	}
	store, err := model.NewStore(meta, blobs, model.DefaultCacheSize)
	if err != nil {
		meta.Close()
		blobs.Close()
		return nil, err
	}

	cleaner := opts.startCleaner(
		func(ctx context.Context, now time.Time) (int, error) {
			return store.Collect(ctx, now, maxAge, maxCount)
		},
		"control_modelstorage",
	)
	return modelDBWithCleaner{
		Store:   store,
		cleaner: cleaner,
	}, nil
}

type modelDBWithCleaner struct {
	*model.Store
	cleaner *periodic.Runner
}

func (b modelDBWithCleaner) Close() error {
	b.cleaner.Kill()
	return b.Store.Close()
}

const sample = `# The connection string of the database.
connection = "%s"

# The maximum number of open connections to the database. In case of 0 or
# absent, no limit is applied.
max_open_conns = 0

# The maximum number of idle connections to the database. In case of 0 or
# absent, the limit is set to 2.
max_idle_conns = 2
`

const modelSample = `# The connection string of the snapshot metadata database.
connection = "%s"

# The bbolt file holding the serialized model graphs.
blob_path = "%s"
`
