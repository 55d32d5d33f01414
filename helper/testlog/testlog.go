// Copyright (c) Atta Project
// SPDX-License-Identifier: MPL-2.0

// Package testlog creates hclog.Logger instances for use in tests, so that
// logging output ends up attached to the test that produced it.
package testlog

import (
	"bytes"
	"io"

	"github.com/hashicorp/go-hclog"
)

// T is the minimal testing.T surface needed here.
type T interface {
	Logf(format string, args ...any)
	Name() string
}

type writer struct {
	t T
}

func (w *writer) Write(p []byte) (int, error) {
	w.t.Logf("%s", bytes.TrimRight(p, "\n"))
	return len(p), nil
}

// NewWriter returns an io.Writer that logs through t.
func NewWriter(t T) io.Writer {
	return &writer{t: t}
}

// HCLogger returns a debug-level hclog.Logger wired to t.
func HCLogger(t T) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:   t.Name(),
		Level:  hclog.Debug,
		Output: NewWriter(t),
	})
}
