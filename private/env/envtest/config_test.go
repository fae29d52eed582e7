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

package envtest

import (
	"bytes"
	"testing"

	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"

	"github.com/siterm/rcp/private/config"
	"github.com/siterm/rcp/private/env"
)

func TestGeneralSample(t *testing.T) {
	var sample bytes.Buffer
	var cfg env.General
	cfg.Sample(&sample, nil, map[string]string{config.ID: "general"})
	InitTestGeneral(&cfg)
	err := toml.NewDecoder(bytes.NewReader(sample.Bytes())).DisallowUnknownFields().Decode(&cfg)
	assert.NoError(t, err)
	CheckTestGeneral(t, &cfg, "general")
}

func TestMetricsSample(t *testing.T) {
	var sample bytes.Buffer
	var cfg env.Metrics
	cfg.Sample(&sample, nil, nil)
	InitTestMetrics(&cfg)
	err := toml.NewDecoder(bytes.NewReader(sample.Bytes())).DisallowUnknownFields().Decode(&cfg)
	assert.NoError(t, err)
	CheckTestMetrics(t, &cfg)
}

func TestTracingSample(t *testing.T) {
	var sample bytes.Buffer
	var cfg env.Tracing
	cfg.Sample(&sample, nil, nil)
	InitTestTracing(&cfg)
	err := toml.NewDecoder(bytes.NewReader(sample.Bytes())).DisallowUnknownFields().Decode(&cfg)
	assert.NoError(t, err)
	CheckTestTracing(t, &cfg)
}

func TestFeaturesSample(t *testing.T) {
	var sample bytes.Buffer
	var cfg env.Features
	cfg.Sample(&sample, nil, nil)
	InitTestFeatures(&cfg)
	err := toml.NewDecoder(bytes.NewReader(sample.Bytes())).DisallowUnknownFields().Decode(&cfg)
	assert.NoError(t, err)
	CheckTestFeatures(t, &cfg)
}

func TestGeneralSites(t *testing.T) {
	testCases := map[string]struct {
		Cfg      env.General
		Expected string
	}{
		"relative": {
			Cfg:      env.General{ConfigDir: "/etc/rcp", SiteFile: "sites.yaml"},
			Expected: "/etc/rcp/sites.yaml",
		},
		"absolute": {
			Cfg:      env.General{ConfigDir: "/etc/rcp", SiteFile: "/srv/sites.yaml"},
			Expected: "/srv/sites.yaml",
		},
		"no config dir": {
			Cfg:      env.General{SiteFile: "sites.yaml"},
			Expected: "sites.yaml",
		},
	}
	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.Expected, tc.Cfg.Sites())
		})
	}
}

func TestFeaturesValidate(t *testing.T) {
	cfg := env.Features{Enabled: []string{"dry_run", "fact_polling"}}
	assert.NoError(t, cfg.Validate())
	assert.True(t, cfg.Default().DryRun)
	assert.True(t, cfg.Default().FactPolling)

	cfg.Enabled = append(cfg.Enabled, "header_legacy")
	assert.Error(t, cfg.Validate())
}
