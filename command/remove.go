// Copyright (c) Atta Project
// SPDX-License-Identifier: MPL-2.0

package command

import (
	"context"
	"strings"

	"github.com/posener/complete"
)

// RemoveCommand destroys the persistent state of a device.
type RemoveCommand struct {
	Meta
}

func (c *RemoveCommand) Help() string {
	helpText := `
Usage: atta-storage remove [options] <device-spec>

  Destroy the persistent state of a device. For a replicated mirror this
  deconfigures the kernel device; its children must be removed separately.
` + generalOptionsUsage
	return strings.TrimSpace(helpText)
}

func (c *RemoveCommand) Synopsis() string {
	return "Remove a block device"
}

func (c *RemoveCommand) AutocompleteFlags() complete.Flags {
	flags := generalFlagsCompletion()
	flags["-child"] = complete.PredictAnything
	return flags
}

func (c *RemoveCommand) AutocompleteArgs() complete.Predictor {
	return complete.PredictAnything
}

func (c *RemoveCommand) Name() string { return "remove" }

func (c *RemoveCommand) Run(args []string) int {
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
		c.UI.Output("Device is not attached; nothing to remove")
		return 0
	}
	if err := dev.Remove(ctx); err != nil {
		return c.fail(err)
	}
	return 0
}
