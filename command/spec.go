// Copyright (c) Atta Project
// SPDX-License-Identifier: MPL-2.0

package command

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/atta/atta/storage"
)

// Device specs name a device on the command line:
//
//	thin-lv:vg0/lv1
//	file:loop:/var/lib/atta/disk0.img
//	replicated-mirror-v8:10.0.0.1:11000,10.0.0.2:11000
//
// For the mirror, either endpoint may be "-" when that half is not
// configured. The volume group may be left off a thin-lv spec when the
// defaults file names one.
func parseDeviceSpec(spec string, defaults *Defaults) (storage.DeviceType, storage.UniqueID, error) {
	typ, rest, ok := strings.Cut(spec, ":")
	if !ok {
		return "", nil, fmt.Errorf("malformed device spec %q", spec)
	}

	switch storage.DeviceType(typ) {
	case storage.DeviceTypeLogicalVolume:
		vg, lv, ok := strings.Cut(rest, "/")
		if !ok {
			vg, lv = defaults.VolumeGroup, rest
		}
		if vg == "" || lv == "" {
			return "", nil, fmt.Errorf("device spec %q names no volume group", spec)
		}
		return storage.DeviceTypeLogicalVolume,
			storage.LogicalVolumeID{VolumeGroup: vg, Volume: lv}, nil

	case storage.DeviceTypeFile:
		driver, path, ok := strings.Cut(rest, ":")
		if !ok || path == "" {
			return "", nil, fmt.Errorf("file device spec %q needs driver:path", spec)
		}
		return storage.DeviceTypeFile,
			storage.FileID{Driver: driver, Path: path}, nil

	case storage.DeviceTypeMirror:
		local, remote, ok := strings.Cut(rest, ",")
		if !ok {
			return "", nil, fmt.Errorf("mirror device spec %q needs local,remote endpoints", spec)
		}
		id := storage.MirrorID{}
		var err error
		if id.Local, err = parseEndpoint(local); err != nil {
			return "", nil, err
		}
		if id.Remote, err = parseEndpoint(remote); err != nil {
			return "", nil, err
		}
		return storage.DeviceTypeMirror, id, nil

	default:
		return "", nil, fmt.Errorf("unknown device type %q", typ)
	}
}

// parseEndpoint reads a host:port pair; "-" means not configured.
func parseEndpoint(s string) (*storage.HostPort, error) {
	if s == "-" || s == "" {
		return nil, nil
	}
	host, portStr, ok := strings.Cut(s, ":")
	if !ok || host == "" {
		return nil, fmt.Errorf("malformed endpoint %q", s)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("malformed port in endpoint %q", s)
	}
	return &storage.HostPort{Host: host, Port: port}, nil
}

// childSpecs is a repeatable -child flag.
type childSpecs []string

func (c *childSpecs) String() string {
	return strings.Join(*c, ", ")
}

func (c *childSpecs) Set(v string) error {
	*c = append(*c, v)
	return nil
}

// buildChildren turns -child specs into driver instances. With assemble
// set, children are assembled on the way (the path used when bringing a
// device up); otherwise they are only searched for, and a child that is not
// currently assembled comes back nil, which the mirror driver treats as
// running diskless.
func buildChildren(ctx context.Context, f *storage.Factory, defaults *Defaults, specs []string, assemble bool) ([]storage.BlockDev, error) {
	var children []storage.BlockDev
	for _, spec := range specs {
		typ, id, err := parseDeviceSpec(spec, defaults)
		if err != nil {
			return nil, err
		}
		var child storage.BlockDev
		if assemble {
			child, err = f.AttachOrAssemble(ctx, typ, id, nil)
		} else {
			child, err = f.FindDevice(ctx, typ, id, nil)
		}
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	return children, nil
}
