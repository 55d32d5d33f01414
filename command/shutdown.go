// Copyright (c) Atta Project
// SPDX-License-Identifier: MPL-2.0

package command

import (
	"context"
	"strings"

	"github.com/posener/complete"
)

// ShutdownCommand undoes assembly for a single device; its children stay
// assembled and are unwound by further invocations, bottom-up.
type ShutdownCommand struct {
	Meta
}

func (c *ShutdownCommand) Help() string {
	helpText := `
Usage: atta-storage shutdown [options] <device-spec>

  Shut down an assembled device. Children stay assembled; shut them down
  separately, bottom-up. Shutting down a device that is not assembled is
  not an error.
` + generalOptionsUsage
	return strings.TrimSpace(helpText)
}

func (c *ShutdownCommand) Synopsis() string {
	return "Shut down a block device"
}

func (c *ShutdownCommand) AutocompleteFlags() complete.Flags {
	flags := generalFlagsCompletion()
	flags["-child"] = complete.PredictAnything
	return flags
}

func (c *ShutdownCommand) AutocompleteArgs() complete.Predictor {
	return complete.PredictAnything
}

func (c *ShutdownCommand) Name() string { return "shutdown" }

func (c *ShutdownCommand) Run(args []string) int {
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
		c.UI.Output("Device is not assembled; nothing to do")
		return 0
	}
	if err := dev.Shutdown(ctx); err != nil {
		return c.fail(err)
	}
	return 0
}
