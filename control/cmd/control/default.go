// Copyright 2025 Anapaya Systems
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

package main

import (
	"github.com/siterm/rcp/control/config"
	"github.com/siterm/rcp/control/render"
	"github.com/siterm/rcp/control/render/adapter"
	"github.com/siterm/rcp/pkg/log"
	"github.com/siterm/rcp/private/app/feature"
)

// newDeviceAdapter returns the configured device adapter. In dry run mode
// the intended state is only logged.
func newDeviceAdapter(cfg config.AdapterConfig, features feature.Default) (
	render.DeviceAdapter, error) {

	if features.DryRun {
		log.Info("Dry run enabled, intended state is logged only", "adapter", cfg.Type)
		return adapter.Log{}, nil
	}
	a, err := adapter.New(cfg.Type, cfg.Dir)
	if err != nil {
		return nil, err
	}
	log.Info("Device adapter configured", "type", cfg.Type, "dir", cfg.Dir)
	return a, nil
}
