// Copyright (c) Atta Project
// SPDX-License-Identifier: MPL-2.0

package command

import (
	"fmt"
	"os"

	"github.com/hashicorp/hcl"
)

// Defaults are node-local settings loaded from an HCL file, e.g.
//
//	volume_group = "xenvg"
//
//	replication {
//	  protocol     = "C"
//	  dual_primary = false
//	  hmac         = "sha1"
//	  secret       = "..."
//	}
type Defaults struct {
	// VolumeGroup is the volume group used when a device spec leaves it
	// out.
	VolumeGroup string `hcl:"volume_group"`

	Replication ReplicationDefaults `hcl:"replication"`
}

// ReplicationDefaults tune the replicated mirror driver.
type ReplicationDefaults struct {
	Protocol    string `hcl:"protocol"`
	DualPrimary bool   `hcl:"dual_primary"`
	HMAC        string `hcl:"hmac"`
	Secret      string `hcl:"secret"`
}

// loadDefaults reads the defaults file; an empty path yields the zero
// Defaults.
func loadDefaults(path string) (*Defaults, error) {
	defaults := &Defaults{}
	if path == "" {
		return defaults, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading defaults file: %w", err)
	}
	if err := hcl.Decode(defaults, string(data)); err != nil {
		return nil, fmt.Errorf("parsing defaults file %q: %w", path, err)
	}
	return defaults, nil
}
