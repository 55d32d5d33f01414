// Copyright (c) Atta Project
// SPDX-License-Identifier: MPL-2.0

package storage

import (
	"context"

	"github.com/hashicorp/go-hclog"

	"github.com/atta/atta/helper/invoke"
)

// Config wires a Factory to its collaborators.
type Config struct {
	Logger hclog.Logger
	Runner invoke.Runner

	// DRBD tunes the replicated mirror driver.
	DRBD DRBD8Options
}

// Factory constructs device driver instances by type tag. Since children
// are themselves block devices, callers build device trees by constructing
// leaves first and passing them in.
type Factory struct {
	logger hclog.Logger
	runner invoke.Runner
	drbd   DRBD8Options
}

// NewFactory returns a Factory using cfg's collaborators, with an exec
// runner and the default logger filled in when unset.
func NewFactory(cfg *Config) *Factory {
	logger := cfg.Logger
	if logger == nil {
		logger = hclog.Default()
	}
	runner := cfg.Runner
	if runner == nil {
		runner = invoke.NewExecRunner(logger)
	}
	return &Factory{
		logger: logger,
		runner: runner,
		drbd:   cfg.DRBD,
	}
}

// newDevice dispatches construction by type tag. An unknown tag or an ID of
// the wrong shape for the tag is a caller bug.
func (f *Factory) newDevice(ctx context.Context, devType DeviceType, id UniqueID, children []BlockDev) (BlockDev, error) {
	switch devType {
	case DeviceTypeLogicalVolume:
		lvID, ok := id.(LogicalVolumeID)
		if !ok {
			return nil, newProgrammerError("device type %q needs a LogicalVolumeID, got %q", devType, id.String())
		}
		return newLogicalVolume(ctx, f.logger, f.runner, lvID, children)
	case DeviceTypeMirror:
		mirrorID, ok := id.(MirrorID)
		if !ok {
			return nil, newProgrammerError("device type %q needs a MirrorID, got %q", devType, id.String())
		}
		return newDRBD8(ctx, f.logger, f.runner, mirrorID, children, f.drbd)
	case DeviceTypeFile:
		fileID, ok := id.(FileID)
		if !ok {
			return nil, newProgrammerError("device type %q needs a FileID, got %q", devType, id.String())
		}
		return newFileStorage(f.logger, fileID, children)
	default:
		return nil, newProgrammerError("invalid block device type %q", devType)
	}
}

// FindDevice searches for an existing, assembled device. It succeeds only
// when the device is already assembled and performs no action to activate
// it; a device that is not assembled yields nil.
func (f *Factory) FindDevice(ctx context.Context, devType DeviceType, id UniqueID, children []BlockDev) (BlockDev, error) {
	dev, err := f.newDevice(ctx, devType, id, children)
	if err != nil {
		return nil, err
	}
	ok, err := dev.Attach(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return dev, nil
}

// AttachOrAssemble attaches to an existing assembled device, assembling it
// first when needed to bring it fully up.
func (f *Factory) AttachOrAssemble(ctx context.Context, devType DeviceType, id UniqueID, children []BlockDev) (BlockDev, error) {
	dev, err := f.newDevice(ctx, devType, id, children)
	if err != nil {
		return nil, err
	}
	ok, err := dev.Attach(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		if err := dev.Assemble(ctx); err != nil {
			return nil, err
		}
		ok, err = dev.Attach(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, newDeviceError("factory", "can't find a valid block device for %s/%s", devType, id.String())
		}
	}
	return dev, nil
}

// Create materializes the persistent state of a device and returns an
// attached instance.
func (f *Factory) Create(ctx context.Context, devType DeviceType, id UniqueID, children []BlockDev, sizeMiB int64) (BlockDev, error) {
	switch devType {
	case DeviceTypeLogicalVolume:
		lvID, ok := id.(LogicalVolumeID)
		if !ok {
			return nil, newProgrammerError("device type %q needs a LogicalVolumeID, got %q", devType, id.String())
		}
		return createLogicalVolume(ctx, f.logger, f.runner, lvID, children, sizeMiB)
	case DeviceTypeMirror:
		mirrorID, ok := id.(MirrorID)
		if !ok {
			return nil, newProgrammerError("device type %q needs a MirrorID, got %q", devType, id.String())
		}
		return createDRBD8(ctx, f.logger, f.runner, mirrorID, children, f.drbd)
	case DeviceTypeFile:
		fileID, ok := id.(FileID)
		if !ok {
			return nil, newProgrammerError("device type %q needs a FileID, got %q", devType, id.String())
		}
		return createFileStorage(f.logger, fileID, children, sizeMiB)
	default:
		return nil, newProgrammerError("invalid block device type %q", devType)
	}
}
