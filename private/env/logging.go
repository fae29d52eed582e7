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

package env

import (
	"fmt"
	"os"
	"runtime/debug"
	"strings"

	"github.com/siterm/rcp/pkg/log"
)

// StartupInfo returns the version information of the binary.
func StartupInfo() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s", info.Main.Path, info.Main.Version, info.GoVersion)
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" || s.Key == "vcs.modified" {
			fmt.Fprintf(&b, " %s=%s", s.Key, s.Value)
		}
	}
	return b.String()
}

// LogAppStarted logs the start of the application.
func LogAppStarted(svcType, elemID string) error {
	hostname, err := os.Hostname()
	if err != nil {
		return err
	}
	log.Info("=====================> Service started", "svc", svcType, "id", elemID,
		"host", hostname, "version", StartupInfo())
	return nil
}

// LogAppStopped logs the stop of the application.
func LogAppStopped(svcType, elemID string) {
	log.Info("=====================> Service stopped", "svc", svcType, "id", elemID)
}
