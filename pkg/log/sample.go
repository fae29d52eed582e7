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

package log

import (
	"io"

	"go.uber.org/zap/zapcore"

	"github.com/siterm/rcp/pkg/private/serrors"
	"github.com/siterm/rcp/private/config"
)

// Validate checks that the levels and the format are known.
func (c *Config) Validate() error {
	for _, l := range []string{c.Console.Level, c.Console.StacktraceLevel} {
		if l == "" || l == "none" {
			continue
		}
		if _, err := zapcore.ParseLevel(l); err != nil {
			return serrors.Wrap("invalid log level", err, "level", l)
		}
	}
	switch c.Console.Format {
	case "", "human", "json":
		return nil
	}
	return serrors.New("invalid log format", "format", c.Console.Format)
}

// Sample writes the sample configuration of the console logger.
func (c *Config) Sample(dst io.Writer, path config.Path, _ config.CtxMap) {
	config.WriteSample(dst, path, nil, &c.Console)
}

// ConfigName returns the name of the block.
func (c *Config) ConfigName() string {
	return "log"
}

// Sample writes the sample configuration.
func (c *ConsoleConfig) Sample(dst io.Writer, _ config.Path, _ config.CtxMap) {
	config.WriteString(dst, consoleSample)
}

// ConfigName returns the name of the block.
func (c *ConsoleConfig) ConfigName() string {
	return "console"
}

const consoleSample = `
# Console logging level (debug|info|error) (default info)
level = "info"

# Console logging format (human|json) (default human)
format = "human"

# Level starting from which stack traces are printed (debug|info|error|none)
# (default none)
stacktrace_level = "none"

# Disable the annotation of log entries with the calling function's file
# name and line number. (default false)
disable_caller = false
`
