// File: cmd/root_test.go
package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCmd_VersionFlag(t *testing.T) {
	out, err := runCommand(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, Version)
}

func TestRootCmd_NoArgsPrintsHelp(t *testing.T) {
	out, err := runCommand(t)
	require.NoError(t, err)
	assert.Contains(t, out, "cartpilot walks a storefront")
	assert.Contains(t, out, "purchase")
	assert.Contains(t, out, "status")
}

func TestVersionCmd(t *testing.T) {
	// Runs without a valid configuration.
	out, err := runCommand(t, "version", "--config", writeConfig(t, "flow:\n  max_steps: 0\n"))
	require.NoError(t, err)
	assert.Contains(t, out, "cartpilot "+Version)
}

func TestRootCmd_Subcommands(t *testing.T) {
	root := NewRootCommand()
	for _, name := range []string{"purchase", "status", "version"} {
		assert.Equal(t, name, findCommand(t, root, name).Name())
	}
}

func TestRootCmd_ConfigErrors(t *testing.T) {
	t.Run("invalid values", func(t *testing.T) {
		cfgPath := writeConfig(t, staticConfigYAML+"flow:\n  max_steps: 0\n")
		_, err := runCommand(t, "status", "some-id", "--config", cfgPath)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid configuration")
		assert.Contains(t, err.Error(), "flow.max_steps")
	})

	t.Run("unparsable file", func(t *testing.T) {
		cfgPath := writeConfig(t, "logger: [unterminated\n")
		_, err := runCommand(t, "status", "some-id", "--config", cfgPath)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "error reading config file")
	})

	t.Run("missing explicit file", func(t *testing.T) {
		_, err := runCommand(t, "status", "some-id", "--config", "/nonexistent/cartpilot.yaml")
		require.Error(t, err)
	})
}
