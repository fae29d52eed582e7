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

// Package service contains the status pages every controller process
// serves next to its API.
package service

import (
	"bytes"
	"fmt"
	"html/template"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/siterm/rcp/pkg/log"
	"github.com/siterm/rcp/pkg/private/serrors"
	"github.com/siterm/rcp/private/config"
	"github.com/siterm/rcp/private/env"
)

// StatusPage describes one of the status pages.
type StatusPage struct {
	// Info is the description shown on the index page.
	Info string
	// Handler serves the page.
	Handler http.HandlerFunc
}

// StatusPages maps the path of a page, without leading slash, to the
// page.
type StatusPages map[string]StatusPage

var indexTmpl = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head><title>{{ .ElemID }}</title></head>
<body>
<h1>{{ .ElemID }}</h1>
<ul>
{{ range .Pages }}<li><a href="/{{ .Path }}">{{ .Path }}</a> - {{ .Info }}</li>
{{ end }}</ul>
</body>
</html>
`))

type indexEntry struct {
	Path string
	Info string
}

// Register registers the pages and an index page listing them.
func (s StatusPages) Register(serveMux *http.ServeMux, elemID string) error {
	paths := make([]string, 0, len(s))
	for p := range s {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	entries := make([]indexEntry, 0, len(paths))
	for _, p := range paths {
		if strings.HasPrefix(p, "/") {
			return serrors.New("status page path must be relative", "path", p)
		}
		entries = append(entries, indexEntry{Path: p, Info: s[p].Info})
	}
	var buf bytes.Buffer
	err := indexTmpl.Execute(&buf, struct {
		ElemID string
		Pages  []indexEntry
	}{ElemID: elemID, Pages: entries})
	if err != nil {
		return serrors.Wrap("rendering index page", err)
	}
	index := buf.Bytes()
	serveMux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(index)
	})
	for _, p := range paths {
		serveMux.HandleFunc("/"+p, s[p].Handler)
	}
	return nil
}

// NewConfigStatusPage returns a page that shows the configuration in TOML
// format. The digest of the configuration is set in the X-Config-Digest
// header.
func NewConfigStatusPage(cfg config.Config) StatusPage {
	handler := func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			http.Error(w, "unable to encode configuration", http.StatusInternalServerError)
			return
		}
		if digest, err := config.Digest(cfg); err == nil {
			w.Header().Set("X-Config-Digest", digest)
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = buf.WriteTo(w)
	}
	return StatusPage{
		Info:    "TOML configuration",
		Handler: handler,
	}
}

// NewInfoStatusPage returns a page that shows the version and the process
// information.
func NewInfoStatusPage() StatusPage {
	started := time.Now()
	handler := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintf(w, "version: %s\n", env.StartupInfo())
		fmt.Fprintf(w, "pid:     %d\n", os.Getpid())
		fmt.Fprintf(w, "euid:    %d\n", os.Geteuid())
		fmt.Fprintf(w, "uptime:  %s\n", time.Since(started).Truncate(time.Second))
	}
	return StatusPage{
		Info:    "generic process info",
		Handler: handler,
	}
}

// NewLogLevelStatusPage returns a page that shows the log level on GET and
// sets it on PUT.
func NewLogLevelStatusPage() StatusPage {
	return StatusPage{
		Info:    "logging level (supports PUT)",
		Handler: log.ConsoleLevel.ServeHTTP,
	}
}
