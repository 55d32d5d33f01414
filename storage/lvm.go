// Copyright (c) Atta Project
// SPDX-License-Identifier: MPL-2.0

package storage

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/atta/atta/helper/invoke"
	"github.com/atta/atta/helper/pointer"
)

// blockDevRe matches the "Block device 253:7" line of lvdisplay output.
var blockDevRe = regexp.MustCompile(`^ *Block device *([0-9]+):([0-9]+).*$`)

const lvAttrLen = 6

var _ BlockDev = (*LogicalVolume)(nil)

// lvAttr is the lv_attr column as reported by lvs: six characters for
// volume type, permissions, allocation policy, fixed minor, state, open.
type lvAttr string

func (a lvAttr) valid() bool {
	return len(a) == lvAttrLen
}

// virtual reports whether the volume type marks a virtual volume, one whose
// backing storage vanished after a vgreduce --removemissing. Reads from such
// a volume return I/O errors.
func (a lvAttr) virtual() bool {
	return a[0] == 'v'
}

// LogicalVolume is a logical volume on an LVM volume group. Its unique ID
// is the (volume group, volume) pair, which maps 1:1 to the /dev path.
type LogicalVolume struct {
	logger hclog.Logger
	runner invoke.Runner

	vgName  string
	lvName  string
	devPath string

	major *int
	minor *int
}

// newLogicalVolume constructs the driver instance and attaches to the
// volume if it is already active; a missing volume is not an error here.
func newLogicalVolume(ctx context.Context, logger hclog.Logger, runner invoke.Runner, id LogicalVolumeID, children []BlockDev) (*LogicalVolume, error) {
	if len(children) != 0 {
		return nil, newProgrammerError("logical volumes take no children, got %d", len(children))
	}
	if id.VolumeGroup == "" || id.Volume == "" {
		return nil, newProgrammerError("invalid logical volume id %q", id.String())
	}
	lv := &LogicalVolume{
		logger:  logger.Named("storage.lv").With("volume", id.String()),
		runner:  runner,
		vgName:  id.VolumeGroup,
		lvName:  id.Volume,
		devPath: "/dev/" + id.VolumeGroup + "/" + id.Volume,
	}
	lv.Attach(ctx)
	return lv, nil
}

// createLogicalVolume creates the volume across the volume group's
// allocatable physical volumes, largest free space first, and returns an
// attached instance.
func createLogicalVolume(ctx context.Context, logger hclog.Logger, runner invoke.Runner, id LogicalVolumeID, children []BlockDev, sizeMiB int64) (*LogicalVolume, error) {
	if len(children) != 0 {
		return nil, newProgrammerError("logical volumes take no children, got %d", len(children))
	}
	pvs, err := getPVInfo(ctx, runner, id.VolumeGroup)
	if err != nil {
		return nil, err
	}
	if len(pvs) == 0 {
		return nil, newDeviceError("lv.create", "can't compute PV info for volume group %q", id.VolumeGroup)
	}
	sortPVsByFree(pvs)

	var freeMiB float64
	args := []string{"lvcreate", fmt.Sprintf("-L%dm", sizeMiB), "-n", id.Volume, id.VolumeGroup}
	for _, pv := range pvs {
		freeMiB += pv.freeMiB
		args = append(args, pv.name)
	}
	if freeMiB < float64(sizeMiB) {
		return nil, newDeviceError("lv.create", "not enough free space: required %d MiB, available %.0f MiB", sizeMiB, freeMiB)
	}

	if res := runner.Run(ctx, args...); res.Failed() {
		return nil, newCmdError("lv.create", "lvcreate failed", res)
	}
	return newLogicalVolume(ctx, logger, runner, id, children)
}

// pvInfo is one allocatable physical volume inside a volume group.
type pvInfo struct {
	name    string
	freeMiB float64
}

// getPVInfo lists the allocatable physical volumes of a volume group with
// their free space in mebibytes.
func getPVInfo(ctx context.Context, runner invoke.Runner, vgName string) ([]pvInfo, error) {
	res := runner.Run(ctx, "pvs", "--noheadings", "--nosuffix", "--units=m",
		"-opv_name,vg_name,pv_free,pv_attr", "--unbuffered", "--separator=:")
	if res.Failed() {
		return nil, newCmdError("lv.pvinfo", "can't get PV information", res)
	}

	var pvs []pvInfo
	for _, line := range strings.Split(res.Stdout, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(strings.TrimSpace(line), ":")
		if len(fields) != 4 {
			return nil, newDeviceError("lv.pvinfo", "can't parse pvs output line %q", line)
		}
		// skip PVs from other volume groups and non-allocatable ones
		if fields[1] != vgName || len(fields[3]) == 0 || fields[3][0] != 'a' {
			continue
		}
		free, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return nil, newDeviceError("lv.pvinfo", "can't parse pv_free %q: %v", fields[2], err)
		}
		pvs = append(pvs, pvInfo{name: fields[0], freeMiB: free})
	}
	return pvs, nil
}

// sortPVsByFree orders physical volumes by descending free space.
func sortPVsByFree(pvs []pvInfo) {
	sort.SliceStable(pvs, func(i, j int) bool {
		if pvs[i].freeMiB != pvs[j].freeMiB {
			return pvs[i].freeMiB > pvs[j].freeMiB
		}
		return pvs[i].name > pvs[j].name
	})
}

func (lv *LogicalVolume) Children() []BlockDev { return nil }
func (lv *LogicalVolume) DevPath() string      { return lv.devPath }
func (lv *LogicalVolume) Major() *int          { return lv.major }
func (lv *LogicalVolume) Minor() *int          { return lv.minor }

// Attach looks for an active volume with our name and records its
// major/minor pair from the lvdisplay output.
func (lv *LogicalVolume) Attach(ctx context.Context) (bool, error) {
	res := lv.runner.Run(ctx, "lvdisplay", lv.devPath)
	if res.Failed() {
		lv.logger.Debug("can't find logical volume", "reason", res.FailReason, "output", res.Output())
		return false, nil
	}
	for _, line := range strings.Split(res.Stdout, "\n") {
		if m := blockDevRe.FindStringSubmatch(line); m != nil {
			major, _ := strconv.Atoi(m[1])
			minor, _ := strconv.Atoi(m[2])
			lv.major = pointer.Of(major)
			lv.minor = pointer.Of(minor)
			return true, nil
		}
	}
	return false, nil
}

// Assemble activates the volume and records its major/minor pair.
// Activation of an already-active volume is benign, so lvchange is run
// unconditionally; volume groups have been seen inactive after boot.
func (lv *LogicalVolume) Assemble(ctx context.Context) error {
	if res := lv.runner.Run(ctx, "lvchange", "-ay", lv.devPath); res.Failed() {
		return newCmdError("lv.assemble", fmt.Sprintf("can't activate volume %s", lv.devPath), res)
	}
	lv.Attach(ctx)
	return nil
}

// Shutdown is a no-op: volumes stay active across shutdowns so that other
// consumers of the volume group are not raced.
func (lv *LogicalVolume) Shutdown(ctx context.Context) error {
	return nil
}

// Open is a no-op for logical volumes.
func (lv *LogicalVolume) Open(ctx context.Context, force bool) error {
	return nil
}

// Close is a no-op for logical volumes.
func (lv *LogicalVolume) Close(ctx context.Context) error {
	return nil
}

// Remove destroys the volume. Removing a volume that does not exist
// succeeds.
func (lv *LogicalVolume) Remove(ctx context.Context) error {
	if lv.minor == nil {
		if ok, _ := lv.Attach(ctx); !ok {
			return nil
		}
	}
	if res := lv.runner.Run(ctx, "lvremove", "-f", lv.vgName+"/"+lv.lvName); res.Failed() {
		return newCmdError("lv.remove", "lvremove failed", res)
	}
	return nil
}

// Rename renames the volume in place. Moves across volume groups are not
// supported.
func (lv *LogicalVolume) Rename(ctx context.Context, id UniqueID) error {
	newID, ok := id.(LogicalVolumeID)
	if !ok {
		return newProgrammerError("invalid new logical volume id %q", id.String())
	}
	if newID.VolumeGroup != lv.vgName {
		return newProgrammerError("can't move a logical volume across volume groups (from %s to %s)",
			lv.vgName, newID.VolumeGroup)
	}
	if res := lv.runner.Run(ctx, "lvrename", newID.VolumeGroup, lv.lvName, newID.Volume); res.Failed() {
		return newCmdError("lv.rename", "failed to rename the logical volume", res)
	}
	lv.lvName = newID.Volume
	lv.devPath = "/dev/" + lv.vgName + "/" + lv.lvName
	return nil
}

// Snapshot creates a snapshot copy of the volume on the single physical
// volume with the most free space, replacing any stale snapshot of the same
// name, and returns the snapshot's logical name.
func (lv *LogicalVolume) Snapshot(ctx context.Context, sizeMiB int64) (string, error) {
	snapName := lv.lvName + ".snap"

	snap, err := newLogicalVolume(ctx, lv.logger, lv.runner, LogicalVolumeID{VolumeGroup: lv.vgName, Volume: snapName}, nil)
	if err != nil {
		return "", err
	}
	if err := snap.Remove(ctx); err != nil {
		lv.logger.Error("failed to remove stale snapshot", "snapshot", snapName, "error", err)
	}

	pvs, err := getPVInfo(ctx, lv.runner, lv.vgName)
	if err != nil {
		return "", err
	}
	if len(pvs) == 0 {
		return "", newDeviceError("lv.snapshot", "can't compute PV info for volume group %q", lv.vgName)
	}
	sortPVsByFree(pvs)
	if pvs[0].freeMiB < float64(sizeMiB) {
		return "", newDeviceError("lv.snapshot", "not enough free space: required %d MiB, available %.0f MiB",
			sizeMiB, pvs[0].freeMiB)
	}

	res := lv.runner.Run(ctx, "lvcreate", fmt.Sprintf("-L%dm", sizeMiB), "-s", "-n", snapName, lv.devPath)
	if res.Failed() {
		return "", newCmdError("lv.snapshot", "lvcreate -s failed", res)
	}
	return snapName, nil
}

// SetSyncSpeed is a no-op for logical volumes.
func (lv *LogicalVolume) SetSyncSpeed(ctx context.Context, kbps int) error {
	return nil
}

// SyncStatus reports degradation via the lv_attr volume type: a virtual
// volume has lost its backing storage. Percent and ETA never apply.
func (lv *LogicalVolume) SyncStatus(ctx context.Context) (SyncStatus, error) {
	res := lv.runner.Run(ctx, "lvs", "--noheadings", "-olv_attr", lv.devPath)
	if res.Failed() {
		lv.logger.Error("can't display volume attributes", "reason", res.FailReason, "output", res.Output())
		return SyncStatus{IsDegraded: true, LocalDiskDegraded: true}, nil
	}
	attr := lvAttr(strings.TrimSpace(res.Stdout))
	if !attr.valid() {
		lv.logger.Debug("unexpected lvs attribute output", "attr", string(attr))
		return SyncStatus{IsDegraded: true, LocalDiskDegraded: true}, nil
	}
	ldisk := attr.virtual()
	return SyncStatus{IsDegraded: ldisk, LocalDiskDegraded: ldisk}, nil
}

var (
	tagLeadRe = regexp.MustCompile(`^[^A-Za-z0-9_+.]`)
	tagRestRe = regexp.MustCompile(`[^-A-Za-z0-9_+.]`)
)

// sanitizeTag rewrites text into a valid LVM tag: invalid characters become
// underscores and the result is capped at 128 characters.
func sanitizeTag(text string) string {
	text = tagLeadRe.ReplaceAllString(text, "_")
	text = tagRestRe.ReplaceAllString(text, "_")
	if len(text) > 128 {
		text = text[:128]
	}
	return text
}

// SetInfo tags the volume with a sanitized form of text.
func (lv *LogicalVolume) SetInfo(ctx context.Context, text string) error {
	res := lv.runner.Run(ctx, "lvchange", "--addtag", sanitizeTag(text), lv.devPath)
	if res.Failed() {
		return newCmdError("lv.setinfo", "lvchange --addtag failed", res)
	}
	return nil
}
