// Copyright (c) Atta Project
// SPDX-License-Identifier: MPL-2.0

package storage

import (
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/hashicorp/go-set/v2"
	version "github.com/hashicorp/go-version"
)

// Connection states as reported in the kernel status file.
const (
	drbdStateUnconfigured = "Unconfigured"
	drbdStateConnected    = "Connected"
)

const (
	// drbdMajor is the fixed major number of replicated mirror devices.
	drbdMajor = 147

	// drbdMaxMinors caps the dynamically allocated minor space.
	drbdMaxMinors = 255
)

var (
	// drbdVersionRe matches the status file header, e.g.
	// "version: 8.0.12 (api:86/proto:86)" or proto "86-91".
	drbdVersionRe = regexp.MustCompile(`^version: (\d+\.\d+\.\d+) \(api:(\d+)/proto:(\d+)(?:-(\d+))?\)`)

	// drbdMinorRe matches the start of a per-minor status block.
	drbdMinorRe = regexp.MustCompile(`^ *([0-9]+):.*$`)

	// drbdStateRe extracts the connection state of a minor.
	drbdStateRe = regexp.MustCompile(`^ *([0-9]+): cs:([^ ]+).*$`)

	// drbdUnconfiguredRe matches a minor that exists but holds no device.
	drbdUnconfiguredRe = regexp.MustCompile(`^ *([0-9]+): cs:Unconfigured$`)
)

// drbdVersion is the parsed status file header.
type drbdVersion struct {
	kernel *version.Version
	api    int
	proto  int

	// protoMax is set when the module speaks a protocol range, e.g.
	// "proto:86-91".
	protoMax *int
}

// readProcDRBD reads the kernel status file and returns its lines.
func readProcDRBD(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, newDeviceError("drbd.proc", "can't read %s: %v", path, err)
	}
	if len(data) == 0 {
		return nil, newDeviceError("drbd.proc", "no data in %s", path)
	}
	return strings.Split(string(data), "\n"), nil
}

// parseDRBDVersion parses the header line of the status file.
func parseDRBDVersion(lines []string) (*drbdVersion, error) {
	if len(lines) == 0 {
		return nil, newDeviceError("drbd.version", "empty status data")
	}
	first := strings.TrimSpace(lines[0])
	m := drbdVersionRe.FindStringSubmatch(first)
	if m == nil {
		return nil, newDeviceError("drbd.version", "can't parse version from %q", first)
	}
	kernel, err := version.NewVersion(m[1])
	if err != nil {
		return nil, newDeviceError("drbd.version", "can't parse version %q: %v", m[1], err)
	}
	v := &drbdVersion{kernel: kernel}
	v.api, _ = strconv.Atoi(m[2])
	v.proto, _ = strconv.Atoi(m[3])
	if m[4] != "" {
		protoMax, _ := strconv.Atoi(m[4])
		v.protoMax = &protoMax
	}
	return v, nil
}

// massageProcData collates the status file into one line per minor:
// continuation lines (those not starting a new minor block) are joined onto
// the preceding minor's line with single spaces.
func massageProcData(lines []string) map[int]string {
	results := make(map[int]string)
	minor := -1
	for _, line := range lines {
		if m := drbdMinorRe.FindStringSubmatch(line); m != nil {
			n, _ := strconv.Atoi(m[1])
			minor = n
			results[minor] = line
		} else if minor >= 0 && strings.TrimSpace(line) != "" {
			results[minor] += " " + strings.TrimSpace(line)
		}
	}
	return results
}

// usedDRBDMinors returns the minors currently holding a configured device,
// in ascending order.
func usedDRBDMinors(lines []string) []int {
	used := set.New[int](8)
	for _, line := range lines {
		m := drbdStateRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if m[2] == drbdStateUnconfigured {
			continue
		}
		minor, _ := strconv.Atoi(m[1])
		used.Insert(minor)
	}
	minors := used.Slice()
	sort.Ints(minors)
	return minors
}

// findUnusedDRBDMinor picks a minor for a new device: the first minor the
// module reports as Unconfigured, otherwise one past the highest minor seen.
// Minors are allocated dynamically, so numbers never mentioned in the status
// file are free too.
func findUnusedDRBDMinor(lines []string) (int, error) {
	highest := -1
	for _, line := range lines {
		if m := drbdUnconfiguredRe.FindStringSubmatch(line); m != nil {
			minor, _ := strconv.Atoi(m[1])
			return minor, nil
		}
		if m := drbdStateRe.FindStringSubmatch(line); m != nil {
			minor, _ := strconv.Atoi(m[1])
			if minor > highest {
				highest = minor
			}
		}
	}
	if highest < 0 {
		// no minors in use at all
		return 0, nil
	}
	if highest >= drbdMaxMinors {
		return 0, newDeviceError("drbd.minor", "no free minors: highest in use is %d", highest)
	}
	return highest + 1, nil
}
