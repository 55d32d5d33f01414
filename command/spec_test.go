// Copyright (c) Atta Project
// SPDX-License-Identifier: MPL-2.0

package command

import (
	"testing"

	"github.com/shoenig/test/must"

	"github.com/atta/atta/storage"
)

func TestParseDeviceSpec(t *testing.T) {
	defaults := &Defaults{VolumeGroup: "xenvg"}

	t.Run("thin-lv with volume group", func(t *testing.T) {
		typ, id, err := parseDeviceSpec("thin-lv:vg0/lv1", defaults)
		must.NoError(t, err)
		must.Eq(t, storage.DeviceTypeLogicalVolume, typ)
		must.Eq(t, storage.UniqueID(storage.LogicalVolumeID{VolumeGroup: "vg0", Volume: "lv1"}), id)
	})

	t.Run("thin-lv with default volume group", func(t *testing.T) {
		_, id, err := parseDeviceSpec("thin-lv:lv1", defaults)
		must.NoError(t, err)
		must.Eq(t, storage.UniqueID(storage.LogicalVolumeID{VolumeGroup: "xenvg", Volume: "lv1"}), id)
	})

	t.Run("thin-lv without any volume group", func(t *testing.T) {
		_, _, err := parseDeviceSpec("thin-lv:lv1", &Defaults{})
		must.ErrorContains(t, err, "names no volume group")
	})

	t.Run("file", func(t *testing.T) {
		typ, id, err := parseDeviceSpec("file:loop:/var/lib/atta/disk0.img", defaults)
		must.NoError(t, err)
		must.Eq(t, storage.DeviceTypeFile, typ)
		must.Eq(t, storage.UniqueID(storage.FileID{Driver: "loop", Path: "/var/lib/atta/disk0.img"}), id)
	})

	t.Run("mirror", func(t *testing.T) {
		typ, id, err := parseDeviceSpec("replicated-mirror-v8:10.0.0.1:11000,10.0.0.2:11000", defaults)
		must.NoError(t, err)
		must.Eq(t, storage.DeviceTypeMirror, typ)
		must.Eq(t, storage.UniqueID(storage.MirrorID{
			Local:  &storage.HostPort{Host: "10.0.0.1", Port: 11000},
			Remote: &storage.HostPort{Host: "10.0.0.2", Port: 11000},
		}), id)
	})

	t.Run("mirror without endpoints", func(t *testing.T) {
		_, id, err := parseDeviceSpec("replicated-mirror-v8:-,-", defaults)
		must.NoError(t, err)
		must.Eq(t, storage.UniqueID(storage.MirrorID{}), id)
	})

	t.Run("bad specs", func(t *testing.T) {
		for _, spec := range []string{
			"thin-lv",
			"floppy:whatever",
			"file:justapath",
			"replicated-mirror-v8:10.0.0.1:11000",
			"replicated-mirror-v8:10.0.0.1:x,10.0.0.2:11000",
		} {
			_, _, err := parseDeviceSpec(spec, defaults)
			must.Error(t, err, must.Sprintf("expected error for spec %q", spec))
		}
	})
}

func TestChildSpecs(t *testing.T) {
	var c childSpecs
	must.NoError(t, c.Set("thin-lv:vg0/lv1"))
	must.NoError(t, c.Set("thin-lv:vg0/lv1meta"))
	must.Len(t, 2, c)
	must.Eq(t, "thin-lv:vg0/lv1, thin-lv:vg0/lv1meta", c.String())
}
