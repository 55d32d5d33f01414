// Copyright (c) Atta Project
// SPDX-License-Identifier: MPL-2.0

package command

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shoenig/test/must"
)

func TestLoadDefaults(t *testing.T) {
	t.Run("no file", func(t *testing.T) {
		defaults, err := loadDefaults("")
		must.NoError(t, err)
		must.Eq(t, &Defaults{}, defaults)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := loadDefaults("/does/not/exist.hcl")
		must.ErrorContains(t, err, "reading defaults file")
	})

	t.Run("full file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "defaults.hcl")
		must.NoError(t, os.WriteFile(path, []byte(`
volume_group = "xenvg"

replication {
  protocol     = "B"
  dual_primary = true
  hmac         = "sha1"
  secret       = "s3cret"
}
`), 0o644))

		defaults, err := loadDefaults(path)
		must.NoError(t, err)
		must.Eq(t, "xenvg", defaults.VolumeGroup)
		must.Eq(t, "B", defaults.Replication.Protocol)
		must.True(t, defaults.Replication.DualPrimary)
		must.Eq(t, "sha1", defaults.Replication.HMAC)
		must.Eq(t, "s3cret", defaults.Replication.Secret)
	})

	t.Run("garbage file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "defaults.hcl")
		must.NoError(t, os.WriteFile(path, []byte(`volume_group = {{`), 0o644))
		_, err := loadDefaults(path)
		must.ErrorContains(t, err, "parsing defaults file")
	})
}

func TestCommands(t *testing.T) {
	commands := Commands(nil)
	for _, name := range []string{
		"assemble", "create", "remove", "set-sync-speed", "shutdown", "snapshot", "status",
	} {
		factory, ok := commands[name]
		must.True(t, ok, must.Sprintf("missing command %q", name))
		cmd, err := factory()
		must.NoError(t, err)
		must.NotEq(t, "", cmd.Help())
		must.NotEq(t, "", cmd.Synopsis())
	}
}
