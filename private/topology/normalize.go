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

package topology

import "strings"

var normalizer = strings.NewReplacer(
	" ", "_",
	"/", "-",
	`"`, "",
	"'", "",
	":", "__",
)

// Normalize returns the normalized form of a port name. Normalization is
// pure: equal inputs give equal outputs. Names are made reversible by the
// per-device table kept by the topology.
func Normalize(name string) string {
	return normalizer.Replace(name)
}

// names maps normalized port names back to their originals.
type names struct {
	originals map[string]string
	ambiguous map[string][]string
}

func newNames() *names {
	return &names{
		originals: map[string]string{},
		ambiguous: map[string][]string{},
	}
}

// add registers an original name and returns its normalized form. A
// normalized name claimed by two different originals becomes ambiguous.
func (n *names) add(original string) string {
	norm := Normalize(original)
	if prev, ok := n.originals[norm]; ok && prev != original {
		if _, ok := n.ambiguous[norm]; !ok {
			n.ambiguous[norm] = []string{prev}
		}
		n.ambiguous[norm] = append(n.ambiguous[norm], original)
		return norm
	}
	n.originals[norm] = original
	return norm
}
