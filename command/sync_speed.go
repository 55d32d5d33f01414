// Copyright (c) Atta Project
// SPDX-License-Identifier: MPL-2.0

package command

import (
	"context"
	"strings"

	"github.com/posener/complete"
)

// SyncSpeedCommand adjusts the resync rate of a device tree.
type SyncSpeedCommand struct {
	Meta
}

func (c *SyncSpeedCommand) Help() string {
	helpText := `
Usage: atta-storage set-sync-speed [options] <device-spec>

  Set the resync rate of an assembled device and all of its children.
  Devices without a resync process ignore the setting.

Sync Speed Options:

  -rate=<KiB/s>
    Resync rate in kibibytes per second.
` + generalOptionsUsage
	return strings.TrimSpace(helpText)
}

func (c *SyncSpeedCommand) Synopsis() string {
	return "Set the resync rate of a block device"
}

func (c *SyncSpeedCommand) AutocompleteFlags() complete.Flags {
	flags := generalFlagsCompletion()
	flags["-rate"] = complete.PredictAnything
	flags["-child"] = complete.PredictAnything
	return flags
}

func (c *SyncSpeedCommand) AutocompleteArgs() complete.Predictor {
	return complete.PredictAnything
}

func (c *SyncSpeedCommand) Name() string { return "set-sync-speed" }

func (c *SyncSpeedCommand) Run(args []string) int {
	var children childSpecs
	var rate int
	flags := c.flagSet(c.Name())
	flags.Var(&children, "child", "Child device spec (repeatable)")
	flags.IntVar(&rate, "rate", 0, "Resync rate in KiB/s")
	if err := flags.Parse(args); err != nil {
		c.UI.Error(c.Help())
		return 2
	}
	if len(flags.Args()) != 1 {
		c.UI.Error("This command takes one argument: <device-spec>")
		return 2
	}
	if rate <= 0 {
		c.UI.Error("The -rate option must be a positive number of KiB/s")
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
	if err := dev.SetSyncSpeed(ctx, rate); err != nil {
		return c.fail(err)
	}
	return 0
}
