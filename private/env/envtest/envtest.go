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

// Package envtest contains helpers to test the sample configuration of
// the env blocks.
package envtest

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/siterm/rcp/private/env"
)

func InitTestGeneral(cfg *env.General) {
	cfg.InitDefaults()
}

func CheckTestGeneral(t *testing.T, cfg *env.General, id string) {
	assert.Equal(t, id, cfg.ID)
	assert.Equal(t, "/etc/rcp", cfg.ConfigDir)
	assert.Equal(t, env.SiteFile, cfg.SiteFile)
	assert.Equal(t, "/etc/rcp/sites.yaml", cfg.Sites())
}

func InitTestFeatures(cfg *env.Features) {
	cfg.Enabled = []string{"dry_run"}
}

func CheckTestFeatures(t *testing.T, cfg *env.Features) {
	assert.Empty(t, cfg.Enabled)
	assert.NoError(t, cfg.Validate())
}

func InitTestMetrics(cfg *env.Metrics) {}

func CheckTestMetrics(t *testing.T, cfg *env.Metrics) {
	assert.Empty(t, cfg.Prometheus)
}

func InitTestTracing(cfg *env.Tracing) {
	cfg.Enabled = true
	cfg.Debug = true
}

func CheckTestTracing(t *testing.T, cfg *env.Tracing) {
	assert.False(t, cfg.Enabled)
	assert.False(t, cfg.Debug)
	assert.Equal(t, "localhost:6831", cfg.Agent)
}
