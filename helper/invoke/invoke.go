// Copyright (c) Atta Project
// SPDX-License-Identifier: MPL-2.0

// Package invoke runs external storage tools and captures their output.
//
// Everything the storage layer knows about the kernel it learns by running
// the userspace tools (lvm, drbd-utils, blockdev) and parsing what they
// print, so the whole layer is written against the narrow Runner interface
// and tests substitute a fake that replays canned tool output.
package invoke

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"

	"github.com/hashicorp/go-hclog"
)

// Result captures a finished tool invocation.
type Result struct {
	// Cmd is the full command line, for error reporting.
	Cmd string

	Stdout   string
	Stderr   string
	ExitCode int

	// FailReason describes how the process ended when it did not exit
	// zero, e.g. "exit status 5" or "signal: killed". Empty on success.
	// When the command could not be started at all it carries the start
	// error.
	FailReason string
}

// Failed reports whether the invocation must be treated as failed. Commands
// that could not be started at all carry exit code -1.
func (r *Result) Failed() bool {
	return r.ExitCode != 0
}

// Output returns stdout and stderr combined, for error reporting.
func (r *Result) Output() string {
	if r.Stdout == "" {
		return r.Stderr
	}
	if r.Stderr == "" {
		return r.Stdout
	}
	return r.Stdout + r.Stderr
}

// Runner runs a command given as an argv vector and captures the result.
type Runner interface {
	Run(ctx context.Context, args ...string) *Result
}

// ExecRunner is the Runner used outside of tests; it executes the argv
// directly via os/exec.
type ExecRunner struct {
	logger hclog.Logger
}

// NewExecRunner returns an ExecRunner logging through logger.
func NewExecRunner(logger hclog.Logger) *ExecRunner {
	return &ExecRunner{logger: logger.Named("invoke")}
}

func (r *ExecRunner) Run(ctx context.Context, args ...string) *Result {
	res := &Result{Cmd: strings.Join(args, " ")}
	if len(args) == 0 {
		res.ExitCode = -1
		res.FailReason = "empty command"
		return res
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()

	switch {
	case err == nil:
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			res.FailReason = exitErr.ProcessState.String()
		} else {
			res.ExitCode = -1
			res.FailReason = err.Error()
		}
	}

	r.logger.Debug("ran command", "cmd", res.Cmd, "exit_code", res.ExitCode)
	return res
}
