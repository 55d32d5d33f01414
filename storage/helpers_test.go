// Copyright (c) Atta Project
// SPDX-License-Identifier: MPL-2.0

package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hashicorp/go-hclog"

	"github.com/atta/atta/helper/invoke"
	"github.com/atta/atta/helper/testlog"
)

func testLogger(t *testing.T) hclog.Logger {
	return testlog.HCLogger(t)
}

// fakeRunner replays canned tool results, matched by the longest argv
// prefix registered, and records every command for later assertions.
type fakeRunner struct {
	t     *testing.T
	cmds  []*fakeCmd
	calls [][]string
}

type fakeCmd struct {
	prefix  []string
	results []*invoke.Result
}

func newFakeRunner(t *testing.T) *fakeRunner {
	return &fakeRunner{t: t}
}

// expect registers results for commands starting with the space-separated
// prefix. Results are consumed in order; the last one is sticky.
func (f *fakeRunner) expect(prefix string, results ...*invoke.Result) {
	f.cmds = append(f.cmds, &fakeCmd{prefix: strings.Fields(prefix), results: results})
}

func (f *fakeRunner) Run(ctx context.Context, args ...string) *invoke.Result {
	f.calls = append(f.calls, args)

	var best *fakeCmd
	for _, cmd := range f.cmds {
		if len(cmd.prefix) > len(args) {
			continue
		}
		match := true
		for i, p := range cmd.prefix {
			if args[i] != p {
				match = false
				break
			}
		}
		if match && (best == nil || len(cmd.prefix) > len(best.prefix)) {
			best = cmd
		}
	}
	if best == nil {
		f.t.Fatalf("unexpected command: %q", strings.Join(args, " "))
		return nil
	}

	res := best.results[0]
	if len(best.results) > 1 {
		best.results = best.results[1:]
	}
	out := *res
	out.Cmd = strings.Join(args, " ")
	return &out
}

// called reports whether any recorded command starts with prefix.
func (f *fakeRunner) called(prefix string) bool {
	want := strings.Fields(prefix)
	for _, call := range f.calls {
		if len(call) < len(want) {
			continue
		}
		match := true
		for i, p := range want {
			if call[i] != p {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func okResult(stdout string) *invoke.Result {
	return &invoke.Result{Stdout: stdout}
}

func failResult(code int, stderr string) *invoke.Result {
	return &invoke.Result{ExitCode: code, Stderr: stderr, FailReason: "exit status"}
}

// writeProcFile drops DRBD status content into a temp file standing in for
// /proc/drbd.
func writeProcFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "drbd")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing proc file: %v", err)
	}
	return path
}

const procHeader8 = `version: 8.0.12 (api:86/proto:86)
GIT-hash: 5c9f89594553e32adb87d9638dce591782f947e3 build by root@node1, 2009-05-22 12:47:52
`

// stubDev is a scriptable BlockDev for exercising the child recursion
// helpers and the mirror's tree logic.
type stubDev struct {
	devPath  string
	children []BlockDev

	status    SyncStatus
	statusErr error

	assembleErr error
	openErr     error
	closeErr    error

	assembles int
	opens     int
	closes    int
	shutdowns int

	// events, when shared between stubs, records the global order of
	// lifecycle calls as "<path>:<op>" strings.
	events *[]string
}

func (s *stubDev) record(op string) {
	if s.events != nil {
		*s.events = append(*s.events, s.devPath+":"+op)
	}
}

func (s *stubDev) Assemble(ctx context.Context) error {
	s.assembles++
	s.record("assemble")
	return s.assembleErr
}

func (s *stubDev) Attach(ctx context.Context) (bool, error) { return s.devPath != "", nil }

func (s *stubDev) Open(ctx context.Context, force bool) error {
	s.opens++
	s.record("open")
	return s.openErr
}

func (s *stubDev) Close(ctx context.Context) error {
	s.closes++
	s.record("close")
	return s.closeErr
}

func (s *stubDev) Shutdown(ctx context.Context) error {
	s.shutdowns++
	s.record("shutdown")
	return nil
}

func (s *stubDev) Remove(ctx context.Context) error                   { return nil }
func (s *stubDev) Rename(ctx context.Context, id UniqueID) error      { return nil }
func (s *stubDev) SetSyncSpeed(ctx context.Context, kbps int) error   { return nil }
func (s *stubDev) SetInfo(ctx context.Context, text string) error     { return nil }
func (s *stubDev) Children() []BlockDev                               { return s.children }
func (s *stubDev) DevPath() string                                    { return s.devPath }
func (s *stubDev) Major() *int                                        { return nil }
func (s *stubDev) Minor() *int                                        { return nil }

func (s *stubDev) SyncStatus(ctx context.Context) (SyncStatus, error) {
	return s.status, s.statusErr
}
