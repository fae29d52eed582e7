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

// Package adapter contains the built-in device adapters.
//
// The file adapter writes the intended state of every device as a YAML
// file into a directory, in the layout of ansible host_vars, and reads
// observed facts from YAML files next to them. The log adapter only logs.
package adapter

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"

	"github.com/siterm/rcp/control/render"
	"github.com/siterm/rcp/pkg/errkind"
	"github.com/siterm/rcp/pkg/log"
	"github.com/siterm/rcp/pkg/private/serrors"
	"github.com/siterm/rcp/private/topology"
)

// Adapter types.
const (
	TypeFile = "file"
	TypeLog  = "log"
)

// FactsDir is the subdirectory the file adapter reads facts from.
const FactsDir = "facts"

var _ render.DeviceAdapter = (*File)(nil)

// File writes intended state into a directory.
type File struct {
	Dir string
}

// NewFile returns a file adapter writing into dir. The directory is
// created if needed.
func NewFile(dir string) (*File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, serrors.Wrap("creating adapter directory", err, "dir", dir)
	}
	return &File{Dir: dir}, nil
}

// RenderAndApply writes the document to "<dir>/<device>.yaml". The file
// is replaced atomically and only if its content changes.
func (a *File) RenderAndApply(ctx context.Context, device string,
	doc *render.Document) (render.ApplyResult, error) {

	if err := ctx.Err(); err != nil {
		return render.ApplyResult{}, errkind.Wrap(errkind.Transient, err, "device", device)
	}
	raw, err := doc.YAML()
	if err != nil {
		return render.ApplyResult{}, err
	}
	path := filepath.Join(a.Dir, device+".yaml")
	old, err := os.ReadFile(path)
	if err == nil && bytes.Equal(old, raw) {
		return render.ApplyResult{}, nil
	}
	tmp, err := os.CreateTemp(a.Dir, "."+device+"-*")
	if err != nil {
		return render.ApplyResult{}, serrors.Wrap("creating file", err, "device", device)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return render.ApplyResult{}, serrors.Wrap("writing file", err, "device", device)
	}
	if err := tmp.Close(); err != nil {
		return render.ApplyResult{}, serrors.Wrap("writing file", err, "device", device)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return render.ApplyResult{}, serrors.Wrap("replacing file", err, "device", device)
	}
	log.FromCtx(ctx).Debug("Wrote intended state", "device", device, "path", path)
	return render.ApplyResult{Changed: true}, nil
}

// ReportFacts reads "<dir>/facts/<device>.yaml".
func (a *File) ReportFacts(_ context.Context, device string) (topology.Facts, error) {
	path := filepath.Join(a.Dir, FactsDir, device+".yaml")
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return topology.Facts{}, errkind.Wrap(errkind.NotFound, err, "device", device)
	}
	if err != nil {
		return topology.Facts{}, serrors.Wrap("reading facts", err, "device", device)
	}
	return ParseFacts(raw)
}

type rawFacts struct {
	Vendor string             `yaml:"vendor"`
	Ports  map[string]rawPort `yaml:"ports"`
}

type rawPort struct {
	Kind     string   `yaml:"kind"`
	Speed    string   `yaml:"speed"`
	VLANs    []string `yaml:"vlans"`
	Neighbor string   `yaml:"neighbor"`
}

// ParseFacts parses a YAML facts file.
func ParseFacts(raw []byte) (topology.Facts, error) {
	var rf rawFacts
	if err := yaml.Unmarshal(raw, &rf); err != nil {
		return topology.Facts{}, errkind.Wrap(errkind.InvalidInput, err)
	}
	facts := topology.Facts{Vendor: rf.Vendor, Ports: map[string]topology.PortFacts{}}
	for name, p := range rf.Ports {
		pf := topology.PortFacts{Kind: topology.Physical, Neighbor: p.Neighbor}
		var err error
		if p.Kind != "" {
			if pf.Kind, err = topology.ParsePortKind(p.Kind); err != nil {
				return topology.Facts{}, errkind.Wrap(errkind.InvalidInput, err, "port", name)
			}
		}
		if p.Speed != "" {
			if pf.Speed, err = topology.ParseCapacity(p.Speed); err != nil {
				return topology.Facts{}, errkind.Wrap(errkind.InvalidInput, err, "port", name)
			}
		}
		if p.VLANs != nil {
			if pf.VLANs, err = topology.ParseVLANRanges(p.VLANs...); err != nil {
				return topology.Facts{}, errkind.Wrap(errkind.InvalidInput, err, "port", name)
			}
		}
		facts.Ports[name] = pf
	}
	return facts, nil
}

var _ render.DeviceAdapter = Log{}

// Log logs intended state instead of applying it.
type Log struct{}

// RenderAndApply logs the document.
func (Log) RenderAndApply(ctx context.Context, device string,
	doc *render.Document) (render.ApplyResult, error) {

	raw, err := doc.Encode()
	if err != nil {
		return render.ApplyResult{}, err
	}
	log.FromCtx(ctx).Info("Intended state", "device", device, "doc", string(raw))
	return render.ApplyResult{}, nil
}

// ReportFacts reports no facts.
func (Log) ReportFacts(_ context.Context, device string) (topology.Facts, error) {
	return topology.Facts{}, errkind.New(errkind.NotFound, "no facts", "device", device)
}

// New creates the adapter of the given type.
func New(typ, dir string) (render.DeviceAdapter, error) {
	switch typ {
	case TypeFile, "":
		return NewFile(dir)
	case TypeLog:
		return Log{}, nil
	default:
		return nil, errkind.New(errkind.Fatal, "unknown adapter type", "type", typ)
	}
}
