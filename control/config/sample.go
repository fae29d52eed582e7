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

const idSample = "rcp-1"

const controllerSample = `
# The period of the controller loop. (default 15s)
tick = "15s"

# The time an accepted delta waits for its commit before it fails.
# (default 5m)
commit_timeout = "5m"

# The time a single apply on a device may take. (default 2m)
render_timeout = "2m"

# The interval after which unchanged intended state is applied again.
# (default 1d)
force_apply_interval = "1d"

# The time after which a deactivating delta is removed even if its devices
# were not cleared. (default 10m)
removal_deadline = "10m"

# The time in-flight work gets to complete on shutdown. (default 30s)
shutdown_grace = "30s"

# The number of consecutive fact reports that may disagree with the site
# file before the controller halts. (default 3)
fact_tolerance = 3

# The number of failed dispatches after which an activating delta fails.
# (default 12)
max_render_attempts = 12

# The number of failed dispatches after which a deactivating delta is
# reported as stuck. (default 3)
stuck_threshold = 3

# The retry schedule of a failing device. (default 5s and 5m)
backoff_initial = "5s"
backoff_max = "5m"

# The interval between pulls of observed facts from the device adapter.
# Only used with the fact_polling feature. (default 1m)
fact_poll_interval = "1m"
`

const retentionSample = `
# The age after which model snapshots are collected. The latest snapshot
# is always kept. (default 7d)
models_max_age = "7d"

# The number of model snapshots kept. (default 1000)
models_max_count = 1000

# The time deltas in a terminal state are kept. (default 30d)
deltas_max_age = "30d"

# The number of versions of the active reservation set kept. (default 100)
reservation_versions = 100
`

const adapterSample = `
# The device adapter (file|log). The file adapter writes the intended state
# of every device as YAML into dir and reads observed facts from
# dir/facts. The log adapter only logs. (default log)
type = "log"

# The output directory of the file adapter.
dir = ""
`
