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

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/siterm/rcp/rcpctl/inspect"
)

func newReservations(pather CommandPather, root *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "reservations",
		Aliases: []string{"res"},
		Short:   "Show the latest active reservation set",
		Example: fmt.Sprintf("  %[1]s reservations\n  %[1]s reservations --format yaml",
			pather.CommandPath()),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			stores, ctx, cancel, err := root.open(cmd.Context())
			if err != nil {
				return err
			}
			defer cancel()
			defer stores.Close()
			set, err := inspect.LoadActiveSet(ctx, stores.ActiveSet)
			if err != nil {
				return err
			}
			p := inspect.Printer{W: cmd.OutOrStdout(), Colored: root.colored(), Now: time.Now()}
			return render(cmd.OutOrStdout(), root.format, set, func() { p.ActiveSet(set) })
		},
	}
	return cmd
}
