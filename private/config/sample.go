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

package config

import (
	"bytes"
	"fmt"
	"io"
	"strings"
)

// CtxMap holds the values substituted into samples, e.g. the instance ID.
type CtxMap map[string]string

// sampleIndent indents the body of a TOML table in a sample.
const sampleIndent = "    "

// WriteSample writes the samples to dst in order. A TableSampler is
// written below a [path.name] header with its body indented; other samplers
// are written as they are. Write errors panic, samples go to buffers or
// stdout.
func WriteSample(dst io.Writer, path Path, ctx CtxMap, samplers ...Sampler) {
	var buf bytes.Buffer
	for _, sampler := range samplers {
		buf.Reset()
		ts, table := sampler.(TableSampler)
		if !table {
			sampler.Sample(&buf, path, ctx)
			WriteString(dst, buf.String())
			continue
		}
		p := path.Extend(ts.ConfigName())
		ts.Sample(&buf, p, ctx)
		WriteString(dst, "\n["+strings.Join(p, ".")+"]")
		WriteString(dst, indent(buf.String()))
	}
}

// WriteString writes s to dst and panics on error.
func WriteString(dst io.Writer, s string) {
	if _, err := io.WriteString(dst, s); err != nil {
		panic(fmt.Sprintf("writing sample: %s", err))
	}
}

// indent indents the non-empty lines of s. Every line ends with a newline.
func indent(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	for _, line := range strings.Split(strings.TrimSuffix(s, "\n"), "\n") {
		if line != "" {
			b.WriteString(sampleIndent)
			b.WriteString(line)
		}
		b.WriteByte('\n')
	}
	return b.String()
}
