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

	"github.com/siterm/rcp/pkg/private/serrors"
	"github.com/siterm/rcp/private/storage/model"
	"github.com/siterm/rcp/rcpctl/inspect"
)

func newModels(pather CommandPather, root *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "models",
		Short:   "List stored model snapshots",
		Example: fmt.Sprintf("  %s models", pather.CommandPath()),
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			stores, ctx, cancel, err := root.open(cmd.Context())
			if err != nil {
				return err
			}
			defer cancel()
			defer stores.Close()
			metas, err := stores.Models.List(ctx)
			if err != nil {
				return serrors.Wrap("listing models", err)
			}
			if metas == nil {
				metas = []model.Meta{}
			}
			p := inspect.Printer{W: cmd.OutOrStdout(), Colored: root.colored(), Now: time.Now()}
			return render(cmd.OutOrStdout(), root.format, metas, func() { p.Models(metas) })
		},
	}
	return cmd
}

func newDiff(pather CommandPather, root *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "diff <model> [model]",
		Short: "Show the differences between two model snapshots",
		Long: `'diff' compares the graphs of two model snapshots. Without a second
snapshot the first one is compared to the latest snapshot.

The command exits with code 1 if the snapshots differ.`,
		Example: fmt.Sprintf("  %s diff 1f0c2f4e-8d0a-4c47-9bb2-36b0d2b4ab57", pather.CommandPath()),
		Args:    cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			stores, ctx, cancel, err := root.open(cmd.Context())
			if err != nil {
				return err
			}
			defer cancel()
			defer stores.Close()
			from, err := stores.Models.Get(ctx, args[0])
			if err != nil {
				return serrors.Wrap("reading model", err, "id", args[0])
			}
			var to *model.Snapshot
			if len(args) == 2 {
				to, err = stores.Models.Get(ctx, args[1])
			} else {
				to, err = stores.Models.Latest(ctx)
			}
			if err != nil {
				return serrors.Wrap("reading model", err)
			}
			diff, err := inspect.Diff(from.Graph, to.Graph, false)
			if err != nil {
				return err
			}
			changed := inspect.Changed(diff)
			if root.colored() {
				if diff, err = inspect.Diff(from.Graph, to.Graph, true); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "--- %s\n+++ %s\n%s", from.ID, to.ID, diff)
			if changed {
				return exitError{code: 1}
			}
			return nil
		},
	}
	return cmd
}
