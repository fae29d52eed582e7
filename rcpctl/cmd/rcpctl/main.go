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

// rcpctl inspects the databases of a reservation controller.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/siterm/rcp/control/config"
	"github.com/siterm/rcp/pkg/private/serrors"
	"github.com/siterm/rcp/private/app/command"
	libconfig "github.com/siterm/rcp/private/config"
	"github.com/siterm/rcp/rcpctl/inspect"
)

// CommandPather returns the path of a command.
type CommandPather interface {
	CommandPath() string
}

// exitError sets the exit code of the process.
type exitError struct {
	error
	code int
}

func (e exitError) Error() string {
	if e.error == nil {
		return fmt.Sprintf("exit code %d", e.code)
	}
	return e.error.Error()
}

func main() {
	executable := filepath.Base(os.Args[0])
	var flags rootFlags
	cmd := &cobra.Command{
		Use:           executable,
		Short:         "Reservation control plane inspection tool",
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
	flags.register(cmd.PersistentFlags())

	cmd.AddCommand(
		newDeltas(cmd, &flags),
		newDelta(cmd, &flags),
		newReservations(cmd, &flags),
		newModels(cmd, &flags),
		newDiff(cmd, &flags),
		command.NewVersion(cmd),
		command.NewCompletion(cmd),
		command.NewGendocs(cmd),
	)
	if err := cmd.Execute(); err != nil {
		var exit exitError
		if errors.As(err, &exit) {
			if exit.error != nil {
				fmt.Fprintln(os.Stderr, "Error:", exit.error)
			}
			os.Exit(exit.code)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(2)
	}
}

type rootFlags struct {
	config  string
	format  string
	noColor bool
	timeout time.Duration
}

func (f *rootFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.config, "config", "/etc/rcp/control.toml", "controller configuration file")
	fs.StringVar(&f.format, "format", "human", "output format (human|json|yaml)")
	fs.BoolVar(&f.noColor, "no-color", false, "disable colored output")
	fs.DurationVar(&f.timeout, "timeout", 10*time.Second, "timeout of the database queries")
}

func (f *rootFlags) colored() bool {
	return !f.noColor && isatty.IsTerminal(os.Stdout.Fd())
}

// open loads the controller configuration and opens its databases.
func (f *rootFlags) open(ctx context.Context) (*inspect.Stores, context.Context,
	context.CancelFunc, error) {

	var cfg config.Config
	if err := libconfig.LoadFile(f.config, &cfg); err != nil {
		return nil, nil, nil, serrors.Wrap("loading configuration", err, "file", f.config)
	}
	cfg.InitDefaults()
	stores, err := inspect.Open(&cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	return stores, ctx, cancel, nil
}
