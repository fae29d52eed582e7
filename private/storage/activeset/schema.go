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

package activeset

import (
	memdb "github.com/hashicorp/go-memdb"

	"github.com/siterm/rcp/pkg/clock"
	"github.com/siterm/rcp/pkg/reservation"
)

const (
	tableReservations = "reservations"
	tableClaims       = "claims"

	indexID   = "id"
	indexURI  = "uri"
	indexPort = "port"
)

// claim is one indexed resource claim of a reservation.
type claim struct {
	ID      string
	URI     string
	PortKey string
	reservation.Claim
	Window clock.Window
}

var schema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		tableReservations: {
			Name: tableReservations,
			Indexes: map[string]*memdb.IndexSchema{
				indexID: {
					Name:    indexID,
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "URI"},
				},
			},
		},
		tableClaims: {
			Name: tableClaims,
			Indexes: map[string]*memdb.IndexSchema{
				indexID: {
					Name:    indexID,
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "ID"},
				},
				indexURI: {
					Name:    indexURI,
					Indexer: &memdb.StringFieldIndex{Field: "URI"},
				},
				indexPort: {
					Name:    indexPort,
					Indexer: &memdb.StringFieldIndex{Field: "PortKey"},
				},
			},
		},
	},
}

// portKey is the index key of a port. Routing claims use the empty port.
func portKey(device, port string) string {
	return device + ":" + port
}
