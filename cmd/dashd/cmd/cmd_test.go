package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mowd/claude-dashboard/internal/core"
)

func TestVersionCommand(t *testing.T) {
	SetVersion("1.2.3", "abc123", "2026-01-01")

	var out bytes.Buffer
	versionCmd.SetOut(&out)
	versionCmd.Run(versionCmd, nil)

	assert.Contains(t, out.String(), "dashd 1.2.3")
	assert.Contains(t, out.String(), "abc123")
}

func TestRunCommandRequiresTask(t *testing.T) {
	err := runCmd.Args(runCmd, []string{})
	require.Error(t, err)

	err = runCmd.Args(runCmd, []string{"do the thing"})
	assert.NoError(t, err)
}

func TestRoleTagsCoverAllRoles(t *testing.T) {
	for _, role := range core.AllRoles {
		tag := roleTag(role)
		assert.Contains(t, tag, core.RoleConfigs[role].Label)
	}
}

func TestCommandsRegistered(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "run", "workflows", "version"} {
		assert.True(t, names[want], "missing command %s", want)
	}
}
