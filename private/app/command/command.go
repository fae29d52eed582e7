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

// Package command contains the cobra subcommands shared by the controller
// binaries.
package command

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/siterm/rcp/private/config"
	"github.com/siterm/rcp/private/env"
)

// Pather returns the path of a command.
type Pather interface {
	CommandPath() string
}

// NewSample creates the sample command. Without subcommands it prints the
// sample configuration of cfg. Additional samplers are added as
// subcommands.
func NewSample(pather Pather, cfg config.Sampler,
	samplers ...func(Pather) *cobra.Command) *cobra.Command {

	cmd := &cobra.Command{
		Use:   "sample",
		Short: "Display sample files",
		Example: fmt.Sprintf("  %[1]s sample\n  %[1]s sample > control.toml",
			pather.CommandPath()),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeSample(cmd.OutOrStdout(), cfg)
		},
	}
	for _, f := range samplers {
		cmd.AddCommand(f(cmd))
	}
	return cmd
}

func writeSample(dst io.Writer, cfg config.Sampler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("writing sample: %v", r)
		}
	}()
	cfg.Sample(dst, nil, nil)
	return nil
}

// NewVersion creates the version command.
func NewVersion(pather Pather) *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		Short:   "Show the version information",
		Example: fmt.Sprintf("  %s version", pather.CommandPath()),
		Args:    cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), env.StartupInfo())
		},
	}
}

// NewCompletion creates the shell completion command.
func NewCompletion(pather Pather) *cobra.Command {
	return &cobra.Command{
		Use:       "completion [bash|zsh|fish]",
		Short:     "Generate the shell completion script",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"bash", "zsh", "fish"},
		RunE: func(cmd *cobra.Command, args []string) error {
			root := cmd.Root()
			switch args[0] {
			case "bash":
				return root.GenBashCompletionV2(os.Stdout, true)
			case "zsh":
				return root.GenZshCompletion(os.Stdout)
			case "fish":
				return root.GenFishCompletion(os.Stdout, true)
			}
			return fmt.Errorf("unknown shell %q", args[0])
		},
	}
}
