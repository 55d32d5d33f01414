// Copyright (c) Atta Project
// SPDX-License-Identifier: MPL-2.0

package command

import (
	"context"
	"strings"

	"github.com/posener/complete"

	"github.com/atta/atta/storage"
)

// SnapshotCommand creates a snapshot copy of a thin logical volume.
type SnapshotCommand struct {
	Meta
}

func (c *SnapshotCommand) Help() string {
	helpText := `
Usage: atta-storage snapshot [options] <device-spec>

  Create a snapshot copy of a thin logical volume, replacing any stale
  snapshot of the same name, and print the snapshot's logical name. Only
  thin-lv devices support snapshots.

Snapshot Options:

  -size=<MiB>
    Snapshot size in mebibytes.
` + generalOptionsUsage
	return strings.TrimSpace(helpText)
}

func (c *SnapshotCommand) Synopsis() string {
	return "Snapshot a thin logical volume"
}

func (c *SnapshotCommand) AutocompleteFlags() complete.Flags {
	flags := generalFlagsCompletion()
	flags["-size"] = complete.PredictAnything
	return flags
}

func (c *SnapshotCommand) AutocompleteArgs() complete.Predictor {
	return complete.PredictAnything
}

func (c *SnapshotCommand) Name() string { return "snapshot" }

func (c *SnapshotCommand) Run(args []string) int {
	var sizeMiB int64
	flags := c.flagSet(c.Name())
	flags.Int64Var(&sizeMiB, "size", 0, "Snapshot size in MiB")
	if err := flags.Parse(args); err != nil {
		c.UI.Error(c.Help())
		return 2
	}
	if len(flags.Args()) != 1 {
		c.UI.Error("This command takes one argument: <device-spec>")
		return 2
	}

	ctx := context.Background()
	defaults, err := loadDefaults(c.configPath)
	if err != nil {
		return c.fail(err)
	}
	typ, id, err := parseDeviceSpec(flags.Args()[0], defaults)
	if err != nil {
		c.UI.Error(err.Error())
		return 2
	}
	if typ != storage.DeviceTypeLogicalVolume {
		c.UI.Error("Only thin-lv devices support snapshots")
		return 2
	}

	factory, err := c.factory(defaults)
	if err != nil {
		return c.fail(err)
	}
	dev, err := factory.FindDevice(ctx, typ, id, nil)
	if err != nil {
		return c.fail(err)
	}
	if dev == nil {
		c.UI.Error("Device is not assembled")
		return 1
	}

	name, err := dev.(*storage.LogicalVolume).Snapshot(ctx, sizeMiB)
	if err != nil {
		return c.fail(err)
	}
	c.UI.Output(name)
	return 0
}
