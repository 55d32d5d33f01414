// Copyright (c) Atta Project
// SPDX-License-Identifier: MPL-2.0

package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/posener/complete"

	"github.com/atta/atta/storage"
)

// StatusCommand reports the combined sync status of a device tree.
type StatusCommand struct {
	Meta
}

func (c *StatusCommand) Help() string {
	helpText := `
Usage: atta-storage status [options] <device-spec>

  Report the sync status of an assembled device, folded across its
  children: minimum sync percentage, maximum ETA, and whether any
  component is degraded.
` + generalOptionsUsage
	return strings.TrimSpace(helpText)
}

func (c *StatusCommand) Synopsis() string {
	return "Show the sync status of a block device"
}

func (c *StatusCommand) AutocompleteFlags() complete.Flags {
	flags := generalFlagsCompletion()
	flags["-child"] = complete.PredictAnything
	return flags
}

func (c *StatusCommand) AutocompleteArgs() complete.Predictor {
	return complete.PredictAnything
}

func (c *StatusCommand) Name() string { return "status" }

func (c *StatusCommand) Run(args []string) int {
	var children childSpecs
	flags := c.flagSet(c.Name())
	flags.Var(&children, "child", "Child device spec (repeatable)")
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

	factory, err := c.factory(defaults)
	if err != nil {
		return c.fail(err)
	}
	childDevs, err := buildChildren(ctx, factory, defaults, children, false)
	if err != nil {
		return c.fail(err)
	}

	dev, err := factory.FindDevice(ctx, typ, id, childDevs)
	if err != nil {
		return c.fail(err)
	}
	if dev == nil {
		c.UI.Error("Device is not assembled")
		return 1
	}

	status, err := storage.CombinedSyncStatus(ctx, dev)
	if err != nil {
		return c.fail(err)
	}
	c.UI.Output(formatSyncStatus(dev, status))
	return 0
}

func formatSyncStatus(dev storage.BlockDev, status storage.SyncStatus) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Device   = %s\n", dev.DevPath())
	if status.Percent != nil {
		fmt.Fprintf(&b, "Sync     = %.1f%%\n", *status.Percent)
	} else {
		fmt.Fprintf(&b, "Sync     = idle\n")
	}
	if status.EstimatedSeconds != nil {
		fmt.Fprintf(&b, "ETA      = %ds\n", *status.EstimatedSeconds)
	} else {
		fmt.Fprintf(&b, "ETA      = n/a\n")
	}
	fmt.Fprintf(&b, "Degraded = %t\n", status.IsDegraded)
	fmt.Fprintf(&b, "LocalDisk degraded = %t", status.LocalDiskDegraded)
	return b.String()
}
