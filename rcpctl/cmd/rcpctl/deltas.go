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

	"github.com/siterm/rcp/pkg/delta"
	"github.com/siterm/rcp/pkg/private/serrors"
	"github.com/siterm/rcp/rcpctl/inspect"
)

func newDeltas(pather CommandPather, root *rootFlags) *cobra.Command {
	var flags struct {
		since      time.Duration
		states     []string
		connection string
		limit      int
	}
	cmd := &cobra.Command{
		Use:     "deltas",
		Aliases: []string{"ls"},
		Short:   "List deltas",
		Example: fmt.Sprintf(`  %[1]s deltas
  %[1]s deltas --state activating,deactivating
  %[1]s deltas --since 1h --format json`, pather.CommandPath()),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := delta.ListFilter{
				ConnectionID: flags.connection,
				Limit:        flags.limit,
			}
			if flags.since > 0 {
				filter.UpdatedSince = time.Now().Add(-flags.since)
			}
			for _, s := range flags.states {
				state, err := delta.ParseState(s)
				if err != nil {
					return err
				}
				filter.States = append(filter.States, state)
			}
			cmd.SilenceUsage = true

			stores, ctx, cancel, err := root.open(cmd.Context())
			if err != nil {
				return err
			}
			defer cancel()
			defer stores.Close()
			ds, err := stores.Deltas.List(ctx, filter)
			if err != nil {
				return serrors.Wrap("listing deltas", err)
			}
			if ds == nil {
				ds = []*delta.Delta{}
			}
			p := inspect.Printer{W: cmd.OutOrStdout(), Colored: root.colored(), Now: time.Now()}
			return render(cmd.OutOrStdout(), root.format, ds, func() { p.Deltas(ds) })
		},
	}
	cmd.Flags().DurationVar(&flags.since, "since", 0, "only deltas updated within the duration")
	cmd.Flags().StringSliceVar(&flags.states, "state", nil, "only deltas in the states")
	cmd.Flags().StringVar(&flags.connection, "connection", "", "only deltas of the connection")
	cmd.Flags().IntVar(&flags.limit, "limit", 0, "maximum number of deltas")
	return cmd
}

func newDelta(pather CommandPather, root *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "delta <id>",
		Short:   "Show a delta and its state history",
		Example: fmt.Sprintf("  %s delta 6ba7b810-9dad-11d1-80b4-00c04fd430c8", pather.CommandPath()),
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			stores, ctx, cancel, err := root.open(cmd.Context())
			if err != nil {
				return err
			}
			defer cancel()
			defer stores.Close()
			d, err := stores.Deltas.Get(ctx, args[0])
			if err != nil {
				return serrors.Wrap("reading delta", err, "id", args[0])
			}
			history, err := stores.Deltas.History(ctx, args[0])
			if err != nil {
				return serrors.Wrap("reading delta history", err, "id", args[0])
			}
			out := struct {
				Delta   *delta.Delta       `json:"delta" yaml:"delta"`
				History []delta.Transition `json:"history" yaml:"history"`
			}{Delta: d, History: history}
			p := inspect.Printer{W: cmd.OutOrStdout(), Colored: root.colored(), Now: time.Now()}
			return render(cmd.OutOrStdout(), root.format, out, func() { p.Delta(d, history) })
		},
	}
	return cmd
}
