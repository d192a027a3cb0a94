// File: cmd/helpers_test.go
package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cartpilot/internal/config"
	"github.com/xkilldash9x/cartpilot/internal/service"
)

// staticConfigYAML avoids any database requirement during config validation.
const staticConfigYAML = `
logger:
  level: error
credentials:
  source: static
`

// writeConfig writes a config file into a temp dir and returns its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// runCommand executes a fresh command tree and returns its combined output.
func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

// fakeFactory records the configuration it was asked to build from.
type fakeFactory struct {
	err error
	cfg config.Interface
}

func (f *fakeFactory) Create(_ context.Context, cfg config.Interface, _ *zap.Logger) (*service.Components, error) {
	f.cfg = cfg
	return nil, f.err
}

// withFactory swaps the component factory for the duration of the test.
func withFactory(t *testing.T, f service.ComponentFactory) {
	t.Helper()
	original := componentFactory
	componentFactory = f
	t.Cleanup(func() { componentFactory = original })
}

func findCommand(t *testing.T, root *cobra.Command, name string) *cobra.Command {
	t.Helper()
	c, _, err := root.Find([]string{name})
	require.NoError(t, err)
	return c
}
