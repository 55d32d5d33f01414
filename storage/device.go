// Copyright (c) Atta Project
// SPDX-License-Identifier: MPL-2.0

// Package storage implements the node-side block device layer: it composes
// logical volumes, replicated mirrors and file-backed images into stackable
// block devices presented to instances as a single /dev path.
//
// A block device moves through the states
//
//	absent -> created -> assembled -> open
//
// and back. Not every driver distinguishes every transition; a logical
// volume's Open is a no-op while a replicated mirror's Open switches the
// local node to the primary role.
//
// A device is identified three ways: its static unique ID, its dynamic /dev
// path, and its dynamic major/minor pair. For logical volumes the unique ID
// maps 1:1 to the /dev path; for mirrors the path is allocated by the kernel
// and discovered by Attach.
package storage

import (
	"context"

	"github.com/hashicorp/go-hclog"
	multierror "github.com/hashicorp/go-multierror"
)

// BlockDev is the contract every device driver implements.
//
// Devices form a tree: children are owned exclusively by their parent and
// are assembled before it. Shutdown undoes Assemble for the device itself
// only; the caller unwinds the tree bottom-up.
type BlockDev interface {
	// Assemble brings the device to the assembled state, recursing into
	// children first. After a successful Assemble the device knows its
	// major/minor numbers; file devices have none.
	Assemble(ctx context.Context) error

	// Attach finds an existing kernel device matching the unique ID and,
	// if found, records its major/minor and /dev path. It is idempotent
	// and does not mutate kernel state on the happy path.
	Attach(ctx context.Context) (bool, error)

	// Open makes the device ready for I/O. Force is only meaningful for
	// drivers with a dangerous variant of the transition and should only
	// be set right after creation.
	Open(ctx context.Context, force bool) error

	// Close notifies that the device will no longer be used for I/O. It
	// fails if the device is in use by higher layers.
	Close(ctx context.Context) error

	// Shutdown undoes Assemble for this device only; children stay
	// assembled. A mirror clears its dynamic identity afterwards; a
	// logical volume stays active and keeps its major/minor.
	Shutdown(ctx context.Context) error

	// Remove destroys the persistent state of the device, where it has
	// any of its own.
	Remove(ctx context.Context) error

	// Rename changes the static identity, for drivers that support it.
	Rename(ctx context.Context, id UniqueID) error

	// SetSyncSpeed adjusts the resync rate of mirrored devices, and is
	// forwarded through the whole tree.
	SetSyncSpeed(ctx context.Context, kbps int) error

	// SyncStatus reports the redundancy state of this device alone.
	SyncStatus(ctx context.Context) (SyncStatus, error)

	// SetInfo tags the device and its children with a human-readable
	// description, where the backing store supports it.
	SetInfo(ctx context.Context, text string) error

	// Children returns the child devices, in assembly order.
	Children() []BlockDev

	// DevPath returns the device node path. A mirror returns "" while it
	// has no kernel identity; logical volume and file paths follow from
	// the unique ID and are set from construction on.
	DevPath() string

	// Major and Minor return the kernel identifiers, nil until attached.
	// File devices have no kernel identifiers and always return nil.
	Major() *int
	Minor() *int
}

// SyncStatus is the per-device redundancy report.
type SyncStatus struct {
	// Percent is the resync progress, nil when no resync is running.
	Percent *float64

	// EstimatedSeconds is the resync ETA, nil when unknown.
	EstimatedSeconds *int

	// IsDegraded is set when any redundancy component (peer link, local
	// disk) is unhealthy.
	IsDegraded bool

	// LocalDiskDegraded is set when the local data itself is degraded.
	LocalDiskDegraded bool
}

// CombinedSyncStatus folds the sync status across dev and its children:
// minimum percent, maximum ETA, OR of both degradation flags.
func CombinedSyncStatus(ctx context.Context, dev BlockDev) (SyncStatus, error) {
	combined, err := dev.SyncStatus(ctx)
	if err != nil {
		return SyncStatus{}, err
	}
	for _, child := range dev.Children() {
		cs, err := child.SyncStatus(ctx)
		if err != nil {
			return SyncStatus{}, err
		}
		if combined.Percent == nil {
			combined.Percent = cs.Percent
		} else if cs.Percent != nil && *cs.Percent < *combined.Percent {
			combined.Percent = cs.Percent
		}
		if combined.EstimatedSeconds == nil {
			combined.EstimatedSeconds = cs.EstimatedSeconds
		} else if cs.EstimatedSeconds != nil && *cs.EstimatedSeconds > *combined.EstimatedSeconds {
			combined.EstimatedSeconds = cs.EstimatedSeconds
		}
		combined.IsDegraded = combined.IsDegraded || cs.IsDegraded
		combined.LocalDiskDegraded = combined.LocalDiskDegraded || cs.LocalDiskDegraded
	}
	return combined, nil
}

// assembleChildren assembles and opens each child in list order. If any
// child fails to assemble or open, every child is shut down, in list order,
// before the failure is returned.
func assembleChildren(ctx context.Context, logger hclog.Logger, children []BlockDev) error {
	for _, child := range children {
		err := child.Assemble(ctx)
		if err == nil {
			err = child.Open(ctx, false)
		}
		if err != nil {
			if derr := shutdownChildren(ctx, children); derr != nil {
				logger.Error("failed to shut down children after assembly error", "error", derr)
			}
			return err
		}
	}
	return nil
}

// shutdownChildren shuts every child down in list order, best effort.
func shutdownChildren(ctx context.Context, children []BlockDev) error {
	var mErr *multierror.Error
	for _, child := range children {
		if err := child.Shutdown(ctx); err != nil {
			mErr = multierror.Append(mErr, err)
		}
	}
	return mErr.ErrorOrNil()
}

// setSyncSpeedChildren forwards a sync speed change through children.
func setSyncSpeedChildren(ctx context.Context, children []BlockDev, kbps int) error {
	var mErr *multierror.Error
	for _, child := range children {
		if err := child.SetSyncSpeed(ctx, kbps); err != nil {
			mErr = multierror.Append(mErr, err)
		}
	}
	return mErr.ErrorOrNil()
}

// setInfoChildren forwards an info tag through children.
func setInfoChildren(ctx context.Context, children []BlockDev, text string) error {
	var mErr *multierror.Error
	for _, child := range children {
		if err := child.SetInfo(ctx, text); err != nil {
			mErr = multierror.Append(mErr, err)
		}
	}
	return mErr.ErrorOrNil()
}
