// Copyright (c) Atta Project
// SPDX-License-Identifier: MPL-2.0

package command

import (
	"context"
	"strings"

	"github.com/posener/complete"
)

// CreateCommand materializes the persistent state of a device.
type CreateCommand struct {
	Meta
}

func (c *CreateCommand) Help() string {
	helpText := `
Usage: atta-storage create [options] <device-spec>

  Create the persistent state of a device and attach to it. Thin logical
  volumes and file devices are allocated at the given size; for a
  replicated mirror only the metadata region on the metadata child is
  initialized, so -size is not needed.

Create Options:

  -size=<MiB>
    Device size in mebibytes.

  -child=<device-spec>
    Child device spec (repeatable). A mirror takes the backing device
    and the metadata device, in that order.
` + generalOptionsUsage
	return strings.TrimSpace(helpText)
}

func (c *CreateCommand) Synopsis() string {
	return "Create a block device"
}

func (c *CreateCommand) AutocompleteFlags() complete.Flags {
	flags := generalFlagsCompletion()
	flags["-size"] = complete.PredictAnything
	flags["-child"] = complete.PredictAnything
	return flags
}

func (c *CreateCommand) AutocompleteArgs() complete.Predictor {
	return complete.PredictAnything
}

func (c *CreateCommand) Name() string { return "create" }

func (c *CreateCommand) Run(args []string) int {
	var children childSpecs
	var sizeMiB int64
	flags := c.flagSet(c.Name())
	flags.Var(&children, "child", "Child device spec (repeatable)")
	flags.Int64Var(&sizeMiB, "size", 0, "Device size in MiB")
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
	childDevs, err := buildChildren(ctx, factory, defaults, children, true)
	if err != nil {
		return c.fail(err)
	}

	dev, err := factory.Create(ctx, typ, id, childDevs, sizeMiB)
	if err != nil {
		return c.fail(err)
	}
	c.UI.Output(dev.DevPath())
	return 0
}
