// Copyright (c) Atta Project
// SPDX-License-Identifier: MPL-2.0

package command

import (
	"github.com/hashicorp/cli"
)

// Commands returns the command factories for the atta-storage CLI.
func Commands(ui cli.Ui) map[string]cli.CommandFactory {
	meta := Meta{UI: ui}

	return map[string]cli.CommandFactory{
		"assemble": func() (cli.Command, error) {
			return &AssembleCommand{Meta: meta}, nil
		},
		"create": func() (cli.Command, error) {
			return &CreateCommand{Meta: meta}, nil
		},
		"remove": func() (cli.Command, error) {
			return &RemoveCommand{Meta: meta}, nil
		},
		"set-sync-speed": func() (cli.Command, error) {
			return &SyncSpeedCommand{Meta: meta}, nil
		},
		"shutdown": func() (cli.Command, error) {
			return &ShutdownCommand{Meta: meta}, nil
		},
		"snapshot": func() (cli.Command, error) {
			return &SnapshotCommand{Meta: meta}, nil
		},
		"status": func() (cli.Command, error) {
			return &StatusCommand{Meta: meta}, nil
		},
	}
}
