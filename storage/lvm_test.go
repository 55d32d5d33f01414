// Copyright (c) Atta Project
// SPDX-License-Identifier: MPL-2.0

package storage

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shoenig/test/must"
)

const lvdisplayOut = `  --- Logical volume ---
  LV Name                /dev/vg0/lv1
  VG Name                vg0
  LV Write Access        read/write
  LV Status              available
  # open                 1
  LV Size                1.00 GiB
  Block device           253:7
`

func TestLogicalVolumeCreate(t *testing.T) {
	ctx := context.Background()
	runner := newFakeRunner(t)
	runner.expect("pvs", okResult("  /dev/sda:vg0:2048:a-\n  /dev/sdb:vg0:512:a-\n"))
	runner.expect("lvcreate", okResult(""))
	runner.expect("lvdisplay", okResult(lvdisplayOut))

	lv, err := createLogicalVolume(ctx, testLogger(t), runner,
		LogicalVolumeID{VolumeGroup: "vg0", Volume: "lv1"}, nil, 1024)
	must.NoError(t, err)
	must.Eq(t, "/dev/vg0/lv1", lv.DevPath())
	must.Eq(t, 253, *lv.Major())
	must.Eq(t, 7, *lv.Minor())

	// physical volumes are passed largest free space first
	must.Eq(t, [][]string{
		{"pvs", "--noheadings", "--nosuffix", "--units=m",
			"-opv_name,vg_name,pv_free,pv_attr", "--unbuffered", "--separator=:"},
		{"lvcreate", "-L1024m", "-n", "lv1", "vg0", "/dev/sda", "/dev/sdb"},
		{"lvdisplay", "/dev/vg0/lv1"},
	}, runner.calls)
}

func TestLogicalVolumeCreate_insufficientSpace(t *testing.T) {
	runner := newFakeRunner(t)
	runner.expect("pvs", okResult("  /dev/sda:vg0:512:a-\n  /dev/sdb:vg0:256:a-\n"))

	_, err := createLogicalVolume(context.Background(), testLogger(t), runner,
		LogicalVolumeID{VolumeGroup: "vg0", Volume: "lv1"}, nil, 1024)
	must.ErrorContains(t, err, "not enough free space")
}

func TestGetPVInfo_filters(t *testing.T) {
	runner := newFakeRunner(t)
	runner.expect("pvs", okResult(strings.Join([]string{
		"  /dev/sda:vg0:2048:a-",
		"  /dev/sdb:other:4096:a-", // different volume group
		"  /dev/sdc:vg0:1024:--",   // not allocatable
		"  /dev/sdd:vg0:512.00:a-",
	}, "\n")+"\n"))

	pvs, err := getPVInfo(context.Background(), runner, "vg0")
	must.NoError(t, err)
	must.Len(t, 2, pvs)
	must.Eq(t, "/dev/sda", pvs[0].name)
	must.Eq(t, 2048.0, pvs[0].freeMiB)
	must.Eq(t, "/dev/sdd", pvs[1].name)
	must.Eq(t, 512.0, pvs[1].freeMiB)
}

func TestGetPVInfo_badRow(t *testing.T) {
	runner := newFakeRunner(t)
	runner.expect("pvs", okResult("not:enough\n"))

	_, err := getPVInfo(context.Background(), runner, "vg0")
	must.ErrorContains(t, err, "can't parse pvs output")
}

func TestLogicalVolumeAttach(t *testing.T) {
	ctx := context.Background()

	t.Run("active volume", func(t *testing.T) {
		runner := newFakeRunner(t)
		runner.expect("lvdisplay", okResult(lvdisplayOut))

		lv, err := newLogicalVolume(ctx, testLogger(t), runner,
			LogicalVolumeID{VolumeGroup: "vg0", Volume: "lv1"}, nil)
		must.NoError(t, err)
		must.Eq(t, 253, *lv.Major())
		must.Eq(t, 7, *lv.Minor())
	})

	t.Run("missing volume", func(t *testing.T) {
		runner := newFakeRunner(t)
		runner.expect("lvdisplay", failResult(5, "One or more specified logical volume(s) not found."))

		lv, err := newLogicalVolume(ctx, testLogger(t), runner,
			LogicalVolumeID{VolumeGroup: "vg0", Volume: "lv1"}, nil)
		must.NoError(t, err)
		must.Nil(t, lv.Minor())
	})

	t.Run("idempotent", func(t *testing.T) {
		runner := newFakeRunner(t)
		runner.expect("lvdisplay", okResult(lvdisplayOut))

		lv, err := newLogicalVolume(ctx, testLogger(t), runner,
			LogicalVolumeID{VolumeGroup: "vg0", Volume: "lv1"}, nil)
		must.NoError(t, err)

		ok, err := lv.Attach(ctx)
		must.NoError(t, err)
		must.True(t, ok)
		must.Eq(t, 7, *lv.Minor())
	})
}

func TestLogicalVolumeAssemble(t *testing.T) {
	ctx := context.Background()

	runner := newFakeRunner(t)
	runner.expect("lvdisplay", okResult(lvdisplayOut))
	runner.expect("lvchange -ay", okResult(""))

	lv, err := newLogicalVolume(ctx, testLogger(t), runner,
		LogicalVolumeID{VolumeGroup: "vg0", Volume: "lv1"}, nil)
	must.NoError(t, err)
	must.NoError(t, lv.Assemble(ctx))
	must.True(t, runner.called("lvchange -ay /dev/vg0/lv1"))

	// shutdown leaves the volume active
	must.NoError(t, lv.Shutdown(ctx))
}

func TestLogicalVolumeRemove(t *testing.T) {
	ctx := context.Background()

	t.Run("missing volume succeeds", func(t *testing.T) {
		runner := newFakeRunner(t)
		runner.expect("lvdisplay", failResult(5, "not found"))

		lv, err := newLogicalVolume(ctx, testLogger(t), runner,
			LogicalVolumeID{VolumeGroup: "vg0", Volume: "lv1"}, nil)
		must.NoError(t, err)
		must.NoError(t, lv.Remove(ctx))
		must.False(t, runner.called("lvremove"))
	})

	t.Run("active volume is removed", func(t *testing.T) {
		runner := newFakeRunner(t)
		runner.expect("lvdisplay", okResult(lvdisplayOut))
		runner.expect("lvremove", okResult(""))

		lv, err := newLogicalVolume(ctx, testLogger(t), runner,
			LogicalVolumeID{VolumeGroup: "vg0", Volume: "lv1"}, nil)
		must.NoError(t, err)
		must.NoError(t, lv.Remove(ctx))
		must.True(t, runner.called("lvremove -f vg0/lv1"))
	})

	t.Run("tool failure surfaces", func(t *testing.T) {
		runner := newFakeRunner(t)
		runner.expect("lvdisplay", okResult(lvdisplayOut))
		runner.expect("lvremove", failResult(5, "in use"))

		lv, err := newLogicalVolume(ctx, testLogger(t), runner,
			LogicalVolumeID{VolumeGroup: "vg0", Volume: "lv1"}, nil)
		must.NoError(t, err)
		must.ErrorContains(t, lv.Remove(ctx), "lvremove failed")
	})
}

func TestLogicalVolumeRename(t *testing.T) {
	ctx := context.Background()

	t.Run("across volume groups", func(t *testing.T) {
		runner := newFakeRunner(t)
		runner.expect("lvdisplay", okResult(lvdisplayOut))

		lv, err := newLogicalVolume(ctx, testLogger(t), runner,
			LogicalVolumeID{VolumeGroup: "vg0", Volume: "lv1"}, nil)
		must.NoError(t, err)

		err = lv.Rename(ctx, LogicalVolumeID{VolumeGroup: "vg1", Volume: "lv1"})
		var perr *ProgrammerError
		must.True(t, errors.As(err, &perr))
	})

	t.Run("within the volume group", func(t *testing.T) {
		runner := newFakeRunner(t)
		runner.expect("lvdisplay", okResult(lvdisplayOut))
		runner.expect("lvrename", okResult(""))

		lv, err := newLogicalVolume(ctx, testLogger(t), runner,
			LogicalVolumeID{VolumeGroup: "vg0", Volume: "lv1"}, nil)
		must.NoError(t, err)

		must.NoError(t, lv.Rename(ctx, LogicalVolumeID{VolumeGroup: "vg0", Volume: "lv2"}))
		must.Eq(t, "/dev/vg0/lv2", lv.DevPath())
		must.True(t, runner.called("lvrename vg0 lv1 lv2"))
	})
}

func TestLogicalVolumeSnapshot(t *testing.T) {
	ctx := context.Background()
	runner := newFakeRunner(t)
	// the stale snapshot probe finds nothing
	runner.expect("lvdisplay /dev/vg0/lv1.snap", failResult(5, "not found"))
	runner.expect("lvdisplay /dev/vg0/lv1", okResult(lvdisplayOut))
	runner.expect("pvs", okResult("  /dev/sda:vg0:256:a-\n  /dev/sdb:vg0:2048:a-\n"))
	runner.expect("lvcreate", okResult(""))

	lv, err := newLogicalVolume(ctx, testLogger(t), runner,
		LogicalVolumeID{VolumeGroup: "vg0", Volume: "lv1"}, nil)
	must.NoError(t, err)

	name, err := lv.Snapshot(ctx, 512)
	must.NoError(t, err)
	must.Eq(t, "lv1.snap", name)
	must.True(t, runner.called("lvcreate -L512m -s -n lv1.snap /dev/vg0/lv1"))
}

func TestLogicalVolumeSnapshot_insufficientSpace(t *testing.T) {
	ctx := context.Background()
	runner := newFakeRunner(t)
	runner.expect("lvdisplay /dev/vg0/lv1.snap", failResult(5, "not found"))
	runner.expect("lvdisplay /dev/vg0/lv1", okResult(lvdisplayOut))
	// plenty of space in total but not on any single physical volume
	runner.expect("pvs", okResult("  /dev/sda:vg0:300:a-\n  /dev/sdb:vg0:300:a-\n"))

	lv, err := newLogicalVolume(ctx, testLogger(t), runner,
		LogicalVolumeID{VolumeGroup: "vg0", Volume: "lv1"}, nil)
	must.NoError(t, err)

	_, err = lv.Snapshot(ctx, 512)
	must.ErrorContains(t, err, "not enough free space")
}

func TestLogicalVolumeSyncStatus(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name     string
		attr     string
		fail     bool
		degraded bool
	}{
		{name: "healthy", attr: "-wi-ao", degraded: false},
		{name: "virtual volume lost backing", attr: "vwi-ao", degraded: true},
		{name: "attribute string too short", attr: "-wi", degraded: true},
		{name: "attribute string too long", attr: "-wi-ao--", degraded: true},
		{name: "tool failure", fail: true, degraded: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			runner := newFakeRunner(t)
			runner.expect("lvdisplay", okResult(lvdisplayOut))
			if tc.fail {
				runner.expect("lvs", failResult(5, "boom"))
			} else {
				runner.expect("lvs", okResult("  "+tc.attr+"\n"))
			}

			lv, err := newLogicalVolume(ctx, testLogger(t), runner,
				LogicalVolumeID{VolumeGroup: "vg0", Volume: "lv1"}, nil)
			must.NoError(t, err)

			status, err := lv.SyncStatus(ctx)
			must.NoError(t, err)
			must.Nil(t, status.Percent)
			must.Nil(t, status.EstimatedSeconds)
			must.Eq(t, tc.degraded, status.IsDegraded)
			must.Eq(t, tc.degraded, status.LocalDiskDegraded)
		})
	}
}

func TestSanitizeTag(t *testing.T) {
	cases := []struct {
		in  string
		exp string
	}{
		{"foo bar", "foo_bar"},
		{" lead", "_lead"},
		{"instance1.example.com", "instance1.example.com"},
		{"a/b", "a_b"},
		{strings.Repeat("x", 200), strings.Repeat("x", 128)},
	}
	for _, tc := range cases {
		must.Eq(t, tc.exp, sanitizeTag(tc.in))
	}
}

func TestLogicalVolumeSetInfo(t *testing.T) {
	ctx := context.Background()
	runner := newFakeRunner(t)
	runner.expect("lvdisplay", okResult(lvdisplayOut))
	runner.expect("lvchange --addtag", okResult(""))

	lv, err := newLogicalVolume(ctx, testLogger(t), runner,
		LogicalVolumeID{VolumeGroup: "vg0", Volume: "lv1"}, nil)
	must.NoError(t, err)
	must.NoError(t, lv.SetInfo(ctx, "instance one"))
	must.True(t, runner.called("lvchange --addtag instance_one /dev/vg0/lv1"))
}
