// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package main

import (
	"bytes"
	"testing"

	"github.com/gatehouse/gatehouse/pkg/errutil"
)

func TestServeCommand_RejectsIncompleteConfig(t *testing.T) {
	configFile = ""
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cmd := NewRootCmd()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"serve"})

	// No upstream or identity configured anywhere.
	err := cmd.Execute()
	errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
}
