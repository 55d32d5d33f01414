// Copyright (c) Atta Project
// SPDX-License-Identifier: MPL-2.0

package storage

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-hclog"
	multierror "github.com/hashicorp/go-multierror"

	"github.com/atta/atta/helper/invoke"
)

const (
	// drbdDefaultProtocol is the synchronous replication protocol.
	drbdDefaultProtocol = "C"

	// drbdProcPath is the kernel status file.
	drbdProcPath = "/proc/drbd"

	drbdSectorSize = 512

	// The metadata device must hold 128MiB, with slack for one large LVM
	// physical extent on top.
	drbdMetaMinBytes = 128 * 1024 * 1024
	drbdMetaMaxBytes = (128 + 32) * 1024 * 1024

	drbdNetPolls = 10
)

var _ BlockDev = (*DRBD8)(nil)

var (
	// drbdSyncRe extracts resync progress from a collated status line.
	drbdSyncRe = regexp.MustCompile(`^.*sync'ed: *([0-9.]+)%.* finish: ([0-9]+):([0-9]+):([0-9]+) .*$`)

	// drbdDiskStateRe extracts the connection and disk states.
	drbdDiskStateRe = regexp.MustCompile(`^ *[0-9]+: cs:(\w+).*ds:(\w+)/(\w+).*$`)
)

// DRBD8Options tune the network half of a mirror. The zero value gives
// synchronous replication without dual-primary or authentication.
type DRBD8Options struct {
	// Protocol is the DRBD replication protocol, default "C".
	Protocol string

	// DualPrimary allows both nodes to be primary at once.
	DualPrimary bool

	// HMAC and Secret enable peer authentication when both are set.
	HMAC   string
	Secret string

	// ProcPath overrides the kernel status file location.
	ProcPath string
}

func (o DRBD8Options) protocol() string {
	if o.Protocol == "" {
		return drbdDefaultProtocol
	}
	return o.Protocol
}

func (o DRBD8Options) procPath() string {
	if o.ProcPath == "" {
		return drbdProcPath
	}
	return o.ProcPath
}

// DRBD8 is the local half of a DRBD v8 replicated mirror. It manages only
// this node's side; a fully connected pair needs the same configuration
// driven on both hosts.
//
// The unique ID is the (local, remote) endpoint pair and the children are
// the backing data device and the metadata device, or none for a diskless
// device. The kernel major is fixed; the minor is allocated dynamically and
// recovered by Attach.
type DRBD8 struct {
	logger hclog.Logger
	runner invoke.Runner

	local    *HostPort
	remote   *HostPort
	children []BlockDev
	opts     DRBD8Options

	// netPollInterval spaces the polls while waiting for the network
	// configuration to appear; shortened in tests.
	netPollInterval time.Duration

	minor   *int
	devPath string
}

func drbdDevPath(minor int) string {
	return fmt.Sprintf("/dev/drbd%d", minor)
}

// newDRBD8 constructs the driver instance, gates on the kernel module
// version and attaches to a matching device if one exists.
func newDRBD8(ctx context.Context, logger hclog.Logger, runner invoke.Runner, id MirrorID, children []BlockDev, opts DRBD8Options) (*DRBD8, error) {
	for _, child := range children {
		if child == nil {
			children = nil
			break
		}
	}
	if len(children) != 0 && len(children) != 2 {
		return nil, newProgrammerError("mirror devices take zero or two children, got %d", len(children))
	}

	d := &DRBD8{
		logger:          logger.Named("storage.drbd").With("id", id.String()),
		runner:          runner,
		local:           id.Local,
		remote:          id.Remote,
		children:        children,
		opts:            opts,
		netPollInterval: time.Second,
	}

	lines, err := readProcDRBD(d.opts.procPath())
	if err != nil {
		return nil, err
	}
	ver, err := parseDRBDVersion(lines)
	if err != nil {
		return nil, err
	}
	if major := ver.kernel.Segments()[0]; major != 8 {
		return nil, newDeviceError("drbd.version", "kernel module is %s, need major version 8", ver.kernel)
	}

	if _, err := d.Attach(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

// createDRBD8 initializes the metadata region on the metadata child.
// Mirror devices are not created per se, just assembled, so this is all the
// persistent state there is.
func createDRBD8(ctx context.Context, logger hclog.Logger, runner invoke.Runner, id MirrorID, children []BlockDev, opts DRBD8Options) (*DRBD8, error) {
	if len(children) != 2 {
		return nil, newProgrammerError("mirror creation needs exactly two children, got %d", len(children))
	}
	meta := children[1]
	if err := meta.Assemble(ctx); err != nil {
		return nil, err
	}
	if ok, err := meta.Attach(ctx); err != nil {
		return nil, err
	} else if !ok {
		return nil, newDeviceError("drbd.create", "can't attach to metadata device")
	}
	if err := drbdCheckMetaSize(ctx, runner, meta.DevPath()); err != nil {
		return nil, err
	}
	lines, err := readProcDRBD(opts.procPath())
	if err != nil {
		return nil, err
	}
	minor, err := findUnusedDRBDMinor(lines)
	if err != nil {
		return nil, err
	}
	if err := drbdInitMeta(ctx, runner, minor, meta.DevPath()); err != nil {
		return nil, err
	}
	if !drbdIsValidMeta(ctx, runner, logger, opts.procPath(), meta.DevPath()) {
		return nil, newDeviceError("drbd.create", "can't initialize metadata device %s", meta.DevPath())
	}
	return newDRBD8(ctx, logger, runner, id, children, opts)
}

// drbdCheckMetaSize verifies the metadata device size: 128MiB plus slack
// for one large LVM physical extent.
func drbdCheckMetaSize(ctx context.Context, runner invoke.Runner, metaDev string) error {
	res := runner.Run(ctx, "blockdev", "--getsize", metaDev)
	if res.Failed() {
		return newCmdError("drbd.meta", "failed to get metadata device size", res)
	}
	sectors, err := strconv.ParseInt(strings.TrimSpace(res.Stdout), 10, 64)
	if err != nil {
		return newDeviceError("drbd.meta", "invalid output from blockdev: %q", res.Stdout)
	}
	bytes := sectors * drbdSectorSize
	if bytes < drbdMetaMinBytes {
		return newDeviceError("drbd.meta", "metadata device %s too small (%s)", metaDev, humanize.IBytes(uint64(bytes)))
	}
	if bytes > drbdMetaMaxBytes {
		return newDeviceError("drbd.meta", "metadata device %s too big (%s)", metaDev, humanize.IBytes(uint64(bytes)))
	}
	return nil
}

// drbdInitMeta writes a fresh metadata region. This must run exactly once
// per device, at creation or child-attach time, through a minor that is not
// in use.
func drbdInitMeta(ctx context.Context, runner invoke.Runner, minor int, metaDev string) error {
	res := runner.Run(ctx, "drbdmeta", "--force", drbdDevPath(minor), "v08", metaDev, "0", "create-md")
	if res.Failed() {
		return newCmdError("drbd.meta", "can't initialize metadata device", res)
	}
	return nil
}

// drbdIsValidMeta checks that the metadata device carries a readable
// metadata region.
func drbdIsValidMeta(ctx context.Context, runner invoke.Runner, logger hclog.Logger, procPath, metaDev string) bool {
	lines, err := readProcDRBD(procPath)
	if err != nil {
		logger.Error("can't read kernel status", "error", err)
		return false
	}
	minor, err := findUnusedDRBDMinor(lines)
	if err != nil {
		logger.Error("can't find an unused minor", "error", err)
		return false
	}
	res := runner.Run(ctx, "drbdmeta", drbdDevPath(minor), "v08", metaDev, "0", "dstate")
	if res.Failed() {
		logger.Error("invalid metadata device", "meta_dev", metaDev, "output", res.Output())
		return false
	}
	return true
}

// drbdShowData fetches the textual configuration of a minor; a failing
// tool yields empty output, which parses into an empty device info.
func drbdShowData(ctx context.Context, runner invoke.Runner, logger hclog.Logger, minor int) string {
	res := runner.Run(ctx, "drbdsetup", drbdDevPath(minor), "show")
	if res.Failed() {
		logger.Error("can't display device config", "minor", minor, "reason", res.FailReason, "output", res.Output())
		return ""
	}
	return res.Stdout
}

func (d *DRBD8) Children() []BlockDev { return d.children }
func (d *DRBD8) DevPath() string      { return d.devPath }
func (d *DRBD8) Minor() *int          { return d.minor }

// Major returns the fixed DRBD major number once the device is attached,
// nil before.
func (d *DRBD8) Major() *int {
	if d.minor == nil {
		return nil
	}
	major := drbdMajor
	return &major
}

func (d *DRBD8) setFromMinor(minor *int) {
	if minor == nil {
		d.minor = nil
		d.devPath = ""
		return
	}
	m := *minor
	d.minor = &m
	d.devPath = drbdDevPath(m)
}

// matchesLocal reports whether info describes our backing configuration:
// same data and metadata devices at index 0, or no local disk at all when
// we are diskless.
func (d *DRBD8) matchesLocal(info *drbdDevInfo) bool {
	var backend, meta BlockDev
	if len(d.children) == 2 {
		backend, meta = d.children[0], d.children[1]
	}

	var ok bool
	if backend != nil {
		ok = info.localDev == backend.DevPath()
	} else {
		ok = info.localDev == ""
	}
	if meta != nil {
		ok = ok && info.metaDev == meta.DevPath()
		ok = ok && info.metaIndex != nil && *info.metaIndex == 0
	} else {
		ok = ok && info.metaDev == "" && info.metaIndex == nil
	}
	return ok
}

// matchesNet reports whether info describes our network configuration, or
// the total absence of one when we have no endpoints either.
func (d *DRBD8) matchesNet(info *drbdDevInfo) bool {
	if d.local == nil && info.localAddr == nil && d.remote == nil && info.remoteAddr == nil {
		return true
	}
	if d.local == nil || d.remote == nil {
		return false
	}
	if info.localAddr == nil || info.remoteAddr == nil {
		return false
	}
	return *info.localAddr == *d.local && *info.remoteAddr == *d.remote
}

// Attach scans the configured minors for a device matching our identity
// and binds to it. A device whose local half matches but which has no
// network configured gets its network attached on the way; one connected
// to the wrong peer is disconnected and reconnected to ours, since we own
// the storage. The procedure is idempotent and safe to re-run.
func (d *DRBD8) Attach(ctx context.Context) (bool, error) {
	lines, err := readProcDRBD(d.opts.procPath())
	if err != nil {
		return false, err
	}

	var bound *int
	for _, minor := range usedDRBDMinors(lines) {
		info, err := parseDRBDShow(drbdShowData(ctx, d.runner, d.logger, minor))
		if err != nil {
			return false, err
		}
		matchL := d.matchesLocal(info)
		matchR := d.matchesNet(info)

		if matchL && matchR {
			bound = &minor
			break
		}

		// partially attached: the local half is ours and nothing is
		// connected yet, so bring up our network side
		if matchL && !matchR && info.localAddr == nil {
			if err := d.assembleNet(ctx, minor); err != nil {
				d.logger.Error("failed to attach network side", "minor", minor, "error", err)
			} else {
				recheck, err := parseDRBDShow(drbdShowData(ctx, d.runner, d.logger, minor))
				if err != nil {
					return false, err
				}
				if d.matchesNet(recheck) {
					bound = &minor
					break
				}
			}
		}

		// the weakest match: only the network side is ours, the device
		// runs diskless and we own the remote half of the pair
		if matchR && info.localDev == "" {
			bound = &minor
			break
		}

		// wrong peer: the local storage is ours, so we own the device;
		// disconnect the stranger and connect our own peer. Only
		// meaningful with real local storage, since diskless devices
		// are indistinguishable by local configuration.
		if matchL && info.localDev != "" && !matchR && info.localAddr != nil {
			if err := d.shutdownNet(ctx, minor); err != nil {
				return false, newDeviceError("drbd.attach",
					"device has correct local storage but a wrong remote peer, and disconnecting it failed: %v", err)
			}
			if err := d.assembleNet(ctx, minor); err != nil {
				d.logger.Error("failed to reconnect to our peer", "minor", minor, "error", err)
				continue
			}
			recheck, err := parseDRBDShow(drbdShowData(ctx, d.runner, d.logger, minor))
			if err != nil {
				return false, err
			}
			if d.matchesNet(recheck) {
				bound = &minor
				break
			}
		}
	}

	d.setFromMinor(bound)
	return bound != nil, nil
}

// assembleLocal attaches the backing and metadata devices to a minor. The
// on-error policy is detach: on a local I/O error the kernel drops the
// disk and serves from the peer instead of panicking.
func (d *DRBD8) assembleLocal(ctx context.Context, minor int, backend, meta string) error {
	if !drbdIsValidMeta(ctx, d.runner, d.logger, d.opts.procPath(), meta) {
		return newDeviceError("drbd.local", "metadata device %s is not valid", meta)
	}
	res := d.runner.Run(ctx, "drbdsetup", drbdDevPath(minor), "disk",
		backend, meta, "0", "-e", "detach", "--create-device")
	if res.Failed() {
		return newCmdError("drbd.local", "can't attach local disk", res)
	}
	return nil
}

// assembleNet configures the network half of a minor and waits for the
// kernel to report both endpoints. When either endpoint is not configured
// it instead makes sure the network side is down.
func (d *DRBD8) assembleNet(ctx context.Context, minor int) error {
	if d.local == nil || d.remote == nil {
		return d.shutdownNet(ctx, minor)
	}

	args := []string{"drbdsetup", drbdDevPath(minor), "net",
		d.local.String(), d.remote.String(), d.opts.protocol(),
		"-A", "discard-zero-changes",
		"-B", "consensus",
		"--create-device",
	}
	if d.opts.DualPrimary {
		args = append(args, "-m")
	}
	if d.opts.HMAC != "" && d.opts.Secret != "" {
		args = append(args, "-a", d.opts.HMAC, "-x", d.opts.Secret)
	}
	if res := d.runner.Run(ctx, args...); res.Failed() {
		return newCmdError("drbd.net", "can't set up the network side", res)
	}

	for i := 0; i < drbdNetPolls; i++ {
		info, err := parseDRBDShow(drbdShowData(ctx, d.runner, d.logger, minor))
		if err != nil {
			return err
		}
		if info.localAddr != nil && info.remoteAddr != nil &&
			*info.localAddr == *d.local && *info.remoteAddr == *d.remote {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d.netPollInterval):
		}
	}
	return newDeviceError("drbd.net", "timeout while waiting for the network configuration of minor %d", minor)
}

// Assemble binds to an existing matching device or configures a fresh
// minor: children first, then the local disk, then the network. A network
// failure tears the local attach back down.
func (d *DRBD8) Assemble(ctx context.Context) error {
	if ok, err := d.Attach(ctx); err != nil {
		return err
	} else if ok {
		d.logger.Info("already assembled", "minor", *d.minor)
		return nil
	}

	if err := assembleChildren(ctx, d.logger, d.children); err != nil {
		return err
	}

	lines, err := readProcDRBD(d.opts.procPath())
	if err != nil {
		return err
	}
	minor, err := findUnusedDRBDMinor(lines)
	if err != nil {
		return err
	}

	needLocalTeardown := false
	if len(d.children) == 2 {
		if err := d.assembleLocal(ctx, minor, d.children[0].DevPath(), d.children[1].DevPath()); err != nil {
			return err
		}
		needLocalTeardown = true
	}
	if d.local != nil && d.remote != nil {
		if err := d.assembleNet(ctx, minor); err != nil {
			if needLocalTeardown {
				d.logger.Error("network setup failed, tearing down local device", "minor", minor)
				if derr := d.shutdownAll(ctx, minor); derr != nil {
					d.logger.Error("teardown of local device failed", "minor", minor, "error", derr)
				}
			}
			return err
		}
	}
	d.setFromMinor(&minor)
	return nil
}

// AddChildren attaches local storage to a device currently running
// diskless: the metadata region is re-initialized and the disks attached
// under our minor.
func (d *DRBD8) AddChildren(ctx context.Context, devices []BlockDev) error {
	if d.minor == nil {
		return newDeviceError("drbd.addchildren", "device is not attached")
	}
	if len(devices) != 2 {
		return newDeviceError("drbd.addchildren", "need exactly two devices, got %d", len(devices))
	}
	info, err := parseDRBDShow(drbdShowData(ctx, d.runner, d.logger, *d.minor))
	if err != nil {
		return err
	}
	if info.localDev != "" {
		return newDeviceError("drbd.addchildren", "device already has a local disk (%s)", info.localDev)
	}

	backend, meta := devices[0], devices[1]
	if backend.DevPath() == "" || meta.DevPath() == "" {
		return newDeviceError("drbd.addchildren", "children are not assembled")
	}
	if err := backend.Open(ctx, false); err != nil {
		return err
	}
	if err := meta.Open(ctx, false); err != nil {
		return err
	}
	if err := drbdCheckMetaSize(ctx, d.runner, meta.DevPath()); err != nil {
		return err
	}

	lines, err := readProcDRBD(d.opts.procPath())
	if err != nil {
		return err
	}
	unused, err := findUnusedDRBDMinor(lines)
	if err != nil {
		return err
	}
	if err := drbdInitMeta(ctx, d.runner, unused, meta.DevPath()); err != nil {
		return err
	}
	if !drbdIsValidMeta(ctx, d.runner, d.logger, d.opts.procPath(), meta.DevPath()) {
		return newDeviceError("drbd.addchildren", "can't initialize metadata device %s", meta.DevPath())
	}

	if err := d.assembleLocal(ctx, *d.minor, backend.DevPath(), meta.DevPath()); err != nil {
		return err
	}
	d.children = devices
	return nil
}

// RemoveChildren detaches the local storage of the device, verifying that
// the paths passed in match the children we hold. Detaching an already
// diskless device is a no-op.
func (d *DRBD8) RemoveChildren(ctx context.Context, paths []string) error {
	if d.minor == nil {
		return newDeviceError("drbd.removechildren", "device is not attached")
	}
	info, err := parseDRBDShow(drbdShowData(ctx, d.runner, d.logger, *d.minor))
	if err != nil {
		return err
	}
	if info.localDev == "" {
		return nil
	}
	if len(d.children) != 2 {
		return newDeviceError("drbd.removechildren", "device holds %d children, not two", len(d.children))
	}
	if len(paths) != 2 {
		return newDeviceError("drbd.removechildren", "need exactly two device paths, got %d", len(paths))
	}
	for i, child := range d.children {
		if paths[i] != child.DevPath() {
			return newDeviceError("drbd.removechildren", "local storage mismatch (%s != %s)", paths[i], child.DevPath())
		}
	}
	if err := d.shutdownLocal(ctx, *d.minor); err != nil {
		return err
	}
	d.children = nil
	return nil
}

// SetSyncSpeed adjusts the resync rate, for the children first and then
// for the device itself.
func (d *DRBD8) SetSyncSpeed(ctx context.Context, kbps int) error {
	var mErr *multierror.Error
	if err := setSyncSpeedChildren(ctx, d.children, kbps); err != nil {
		mErr = multierror.Append(mErr, err)
	}
	if d.minor == nil {
		mErr = multierror.Append(mErr, newDeviceError("drbd.syncspeed", "device is not attached"))
	} else if res := d.runner.Run(ctx, "drbdsetup", d.devPath, "syncer", "-r", strconv.Itoa(kbps)); res.Failed() {
		mErr = multierror.Append(mErr, newCmdError("drbd.syncspeed", "can't change syncer rate", res))
	}
	return mErr.ErrorOrNil()
}

// SyncStatus reads our minor's status block. The device is degraded when
// the peer link is down or the local disk is not up to date; the local
// flag reports the disk alone.
func (d *DRBD8) SyncStatus(ctx context.Context) (SyncStatus, error) {
	if d.minor == nil {
		ok, err := d.Attach(ctx)
		if err != nil {
			return SyncStatus{}, err
		}
		if !ok {
			return SyncStatus{}, newDeviceError("drbd.status", "can't attach to device")
		}
	}
	lines, err := readProcDRBD(d.opts.procPath())
	if err != nil {
		return SyncStatus{}, err
	}
	line, ok := massageProcData(lines)[*d.minor]
	if !ok {
		return SyncStatus{}, newDeviceError("drbd.status", "minor %d missing from kernel status", *d.minor)
	}

	var status SyncStatus
	if m := drbdSyncRe.FindStringSubmatch(line); m != nil {
		percent, _ := strconv.ParseFloat(m[1], 64)
		hours, _ := strconv.Atoi(m[2])
		minutes, _ := strconv.Atoi(m[3])
		seconds, _ := strconv.Atoi(m[4])
		eta := hours*3600 + minutes*60 + seconds
		status.Percent = &percent
		status.EstimatedSeconds = &eta
	}

	m := drbdDiskStateRe.FindStringSubmatch(line)
	if m == nil {
		return SyncStatus{}, newDeviceError("drbd.status", "can't parse status line for minor %d: %q", *d.minor, line)
	}
	connState, localDiskState := m[1], m[2]
	status.LocalDiskDegraded = localDiskState != "UpToDate"
	status.IsDegraded = connState != drbdStateConnected || status.LocalDiskDegraded
	return status, nil
}

// Open switches the local device to the primary role. Force maps to the
// overwrite-peer option and should only be used right after creation.
func (d *DRBD8) Open(ctx context.Context, force bool) error {
	if d.minor == nil {
		ok, err := d.Attach(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return newDeviceError("drbd.open", "can't attach to device")
		}
	}
	args := []string{"drbdsetup", d.devPath, "primary"}
	if force {
		args = append(args, "-o")
	}
	if res := d.runner.Run(ctx, args...); res.Failed() {
		return newCmdError("drbd.open", "can't make device primary", res)
	}
	return nil
}

// Close switches the local device to the secondary role. This fails while
// the device is held open by upper layers.
func (d *DRBD8) Close(ctx context.Context) error {
	if d.minor == nil {
		ok, err := d.Attach(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return newDeviceError("drbd.close", "can't attach to device")
		}
	}
	if res := d.runner.Run(ctx, "drbdsetup", d.devPath, "secondary"); res.Failed() {
		return newCmdError("drbd.close", "can't make device secondary", res)
	}
	return nil
}

func (d *DRBD8) shutdownLocal(ctx context.Context, minor int) error {
	if res := d.runner.Run(ctx, "drbdsetup", drbdDevPath(minor), "detach"); res.Failed() {
		return newCmdError("drbd.shutdown", "can't detach local disk", res)
	}
	return nil
}

func (d *DRBD8) shutdownNet(ctx context.Context, minor int) error {
	if res := d.runner.Run(ctx, "drbdsetup", drbdDevPath(minor), "disconnect"); res.Failed() {
		return newCmdError("drbd.shutdown", "can't disconnect network", res)
	}
	return nil
}

func (d *DRBD8) shutdownAll(ctx context.Context, minor int) error {
	if res := d.runner.Run(ctx, "drbdsetup", drbdDevPath(minor), "down"); res.Failed() {
		return newCmdError("drbd.shutdown", "can't shut down device", res)
	}
	return nil
}

// Shutdown deconfigures the device entirely and clears the dynamic
// identity. Children stay assembled. Shutting down a device that is not
// configured succeeds.
func (d *DRBD8) Shutdown(ctx context.Context) error {
	if d.minor == nil {
		ok, err := d.Attach(ctx)
		if err != nil {
			return err
		}
		if !ok {
			d.logger.Info("device not attached, nothing to shut down")
			return nil
		}
	}
	if err := d.shutdownAll(ctx, *d.minor); err != nil {
		return err
	}
	d.setFromMinor(nil)
	return nil
}

// Remove deconfigures the device. Mirrors own no persistent state beyond
// the kernel configuration, so this is Shutdown.
func (d *DRBD8) Remove(ctx context.Context) error {
	return d.Shutdown(ctx)
}

// Rename is not supported for mirror devices.
func (d *DRBD8) Rename(ctx context.Context, id UniqueID) error {
	return newProgrammerError("can't rename a replicated mirror device")
}

// SetInfo forwards the tag to the children; the mirror itself has no
// backing store to tag.
func (d *DRBD8) SetInfo(ctx context.Context, text string) error {
	return setInfoChildren(ctx, d.children, text)
}
