// Copyright (c) Atta Project
// SPDX-License-Identifier: MPL-2.0

package command

import (
	"context"
	"strings"

	"github.com/posener/complete"
)

// AssembleCommand brings a device (and its children) fully up.
type AssembleCommand struct {
	Meta
}

func (c *AssembleCommand) Help() string {
	helpText := `
Usage: atta-storage assemble [options] <device-spec>

  Attach to an existing assembled device, assembling it first when needed.
  Children are given with repeated -child flags and are assembled
  recursively, in order.

  Prints the resulting device path on success.

Example:

  atta-storage assemble \
    -child thin-lv:vg0/lv1 -child thin-lv:vg0/lv1meta \
    replicated-mirror-v8:10.0.0.1:11000,10.0.0.2:11000
` + generalOptionsUsage
	return strings.TrimSpace(helpText)
}

func (c *AssembleCommand) Synopsis() string {
	return "Assemble a block device"
}

func (c *AssembleCommand) AutocompleteFlags() complete.Flags {
	flags := generalFlagsCompletion()
	flags["-child"] = complete.PredictAnything
	return flags
}

func (c *AssembleCommand) AutocompleteArgs() complete.Predictor {
	return complete.PredictAnything
}

func (c *AssembleCommand) Name() string { return "assemble" }

func (c *AssembleCommand) Run(args []string) int {
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
	childDevs, err := buildChildren(ctx, factory, defaults, children, true)
	if err != nil {
		return c.fail(err)
	}

	dev, err := factory.AttachOrAssemble(ctx, typ, id, childDevs)
	if err != nil {
		return c.fail(err)
	}
	c.UI.Output(dev.DevPath())
	return 0
}
