// Copyright (c) Atta Project
// SPDX-License-Identifier: MPL-2.0

// Package command holds the atta-storage CLI: thin operator plumbing over
// the storage factory. The real caller of the storage layer is the cluster
// controller's opcode dispatcher; these commands exist for inspection and
// manual repair on a node.
package command

import (
	"errors"
	"flag"
	"fmt"

	"github.com/hashicorp/cli"
	"github.com/hashicorp/go-hclog"
	"github.com/posener/complete"

	"github.com/atta/atta/storage"
)

// Meta carries the pieces every command needs.
type Meta struct {
	UI cli.Ui

	// configPath points at an optional HCL defaults file.
	configPath string

	// verbose enables debug logging.
	verbose bool
}

// flagSet builds the common flag set for a command.
func (m *Meta) flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.StringVar(&m.configPath, "config", "", "Path to an HCL defaults file")
	fs.BoolVar(&m.verbose, "verbose", false, "Enable debug logging")
	fs.Usage = func() {}
	return fs
}

// generalOptionsUsage is appended to every command's help output.
const generalOptionsUsage = `
General Options:

  -config=<path>
    Path to an HCL file with node defaults (volume group, replication
    options).

  -verbose
    Enable debug logging.
`

// factory builds the storage factory from the loaded defaults and flags.
func (m *Meta) factory(defaults *Defaults) (*storage.Factory, error) {
	level := hclog.Info
	if m.verbose {
		level = hclog.Debug
	}
	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "atta-storage",
		Level: level,
	})

	return storage.NewFactory(&storage.Config{
		Logger: logger,
		DRBD: storage.DRBD8Options{
			Protocol:    defaults.Replication.Protocol,
			DualPrimary: defaults.Replication.DualPrimary,
			HMAC:        defaults.Replication.HMAC,
			Secret:      defaults.Replication.Secret,
		},
	}), nil
}

// fail prints err the way every command reports failure and returns the
// exit code to use: 1 for operational failures, 2 for caller bugs.
func (m *Meta) fail(err error) int {
	m.UI.Error(fmt.Sprintf("Error: %v", err))
	var perr *storage.ProgrammerError
	if errors.As(err, &perr) {
		return 2
	}
	return 1
}

// generalFlagsCompletion predicts the flags shared by all commands.
func generalFlagsCompletion() complete.Flags {
	return complete.Flags{
		"-config":  complete.PredictFiles("*.hcl"),
		"-verbose": complete.PredictNothing,
	}
}
