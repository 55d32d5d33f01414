// Copyright (c) Atta Project
// SPDX-License-Identifier: MPL-2.0

package storage

import (
	"fmt"

	"github.com/atta/atta/helper/invoke"
)

// DeviceError is a recoverable per-operation failure: a tool that exited
// non-zero, unparseable tool output, a timeout, insufficient space. It
// carries the failing command and its captured output so callers can log
// something an operator can act on.
type DeviceError struct {
	// Op names the operation that failed, e.g. "drbd.attach".
	Op string

	// Cmd is the external command line involved, if any.
	Cmd string

	// Output is the combined stdout/stderr of the failed command.
	Output string

	// Msg describes the failure.
	Msg string

	// Err is the underlying cause, if any.
	Err error
}

func (e *DeviceError) Error() string {
	s := e.Msg
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Cmd != "" {
		s += fmt.Sprintf(" (command: %s)", e.Cmd)
	}
	if e.Output != "" {
		s += fmt.Sprintf(": %s", e.Output)
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// newDeviceError builds a DeviceError without command context.
func newDeviceError(op, format string, args ...any) *DeviceError {
	return &DeviceError{Op: op, Msg: fmt.Sprintf(format, args...)}
}

// newCmdError builds a DeviceError from a failed tool invocation.
func newCmdError(op, msg string, res *invoke.Result) *DeviceError {
	return &DeviceError{
		Op:     op,
		Cmd:    res.Cmd,
		Output: res.Output(),
		Msg:    fmt.Sprintf("%s: %s", msg, res.FailReason),
	}
}

// ProgrammerError is a contract violation: unknown device type, malformed
// unique ID, a rename the driver forbids. These are caller bugs, not runtime
// conditions, and must not be handled.
type ProgrammerError struct {
	Msg string
}

func (e *ProgrammerError) Error() string {
	return e.Msg
}

// newProgrammerError builds a ProgrammerError.
func newProgrammerError(format string, args ...any) *ProgrammerError {
	return &ProgrammerError{Msg: fmt.Sprintf(format, args...)}
}
