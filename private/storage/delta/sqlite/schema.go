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

package sqlite

const (
	// SchemaVersion is the version of the SQLite schema understood by this
	// backend.
	SchemaVersion = 2
	// Schema is the SQLite database layout.
	Schema = `CREATE TABLE deltas(
		uid TEXT NOT NULL,
		insertdate INTEGER NOT NULL,
		updatedate INTEGER NOT NULL,
		state TEXT NOT NULL,
		kind TEXT NOT NULL,
		content BLOB NOT NULL,
		modelid TEXT NOT NULL,
		linked_reduction_id TEXT NOT NULL DEFAULT '',
		connection_id TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		render_failures INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (uid)
	);
	CREATE INDEX deltas_state ON deltas(state);
	CREATE INDEX deltas_updatedate ON deltas(updatedate);
	CREATE INDEX deltas_connection ON deltas(connection_id);

	CREATE TABLE delta_states(
		id INTEGER NOT NULL,
		uid TEXT NOT NULL,
		state TEXT NOT NULL,
		insertdate INTEGER NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (id),
		FOREIGN KEY (uid) REFERENCES deltas(uid) ON DELETE CASCADE
	);
	CREATE INDEX delta_states_uid ON delta_states(uid);
	`
)
