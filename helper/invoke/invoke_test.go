// Copyright (c) Atta Project
// SPDX-License-Identifier: MPL-2.0

package invoke

import (
	"context"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/shoenig/test/must"
)

func TestExecRunner(t *testing.T) {
	ctx := context.Background()
	runner := NewExecRunner(hclog.NewNullLogger())

	t.Run("success", func(t *testing.T) {
		res := runner.Run(ctx, "sh", "-c", "echo out; echo err >&2")
		must.False(t, res.Failed())
		must.Eq(t, 0, res.ExitCode)
		must.Eq(t, "out\n", res.Stdout)
		must.Eq(t, "err\n", res.Stderr)
		must.Eq(t, "out\nerr\n", res.Output())
		must.Eq(t, "sh -c echo out; echo err >&2", res.Cmd)
	})

	t.Run("non-zero exit", func(t *testing.T) {
		res := runner.Run(ctx, "sh", "-c", "echo broken >&2; exit 5")
		must.True(t, res.Failed())
		must.Eq(t, 5, res.ExitCode)
		must.StrContains(t, res.FailReason, "exit status 5")
		must.Eq(t, "broken\n", res.Output())
	})

	t.Run("unstartable command", func(t *testing.T) {
		res := runner.Run(ctx, "/does/not/exist")
		must.True(t, res.Failed())
		must.Eq(t, -1, res.ExitCode)
		must.NotEq(t, "", res.FailReason)
	})

	t.Run("empty argv", func(t *testing.T) {
		res := runner.Run(ctx)
		must.True(t, res.Failed())
		must.Eq(t, "empty command", res.FailReason)
	})
}

func TestResultOutput(t *testing.T) {
	must.Eq(t, "only-stdout", (&Result{Stdout: "only-stdout"}).Output())
	must.Eq(t, "only-stderr", (&Result{Stderr: "only-stderr"}).Output())
	must.Eq(t, "", (&Result{}).Output())
}
