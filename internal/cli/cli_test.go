package cli

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func TestNewApp(t *testing.T) {
	start := time.Now()
	app := NewApp("0.0.0", start)

	assert.Equal(t, "dora-exporter", app.Name)
	assert.Equal(t, "0.0.0", app.Version)
	assert.Equal(t, start, app.Metadata["startTime"])

	for _, name := range []string{"run", "validate", "sync", "compute", "monitor"} {
		assert.NotNil(t, app.Command(name), name)
	}

	compute := app.Command("compute")
	var names []string
	for _, f := range compute.Flags {
		names = append(names, f.Names()[0])
	}
	assert.Subset(t, names, []string{"config", "window", "start", "end", "sync", "output", "database-dsn"})
}

func TestValidateCommand(t *testing.T) {
	cfgFile := filepath.Join(t.TempDir(), "dora-exporter.yml")
	require.NoError(t, os.WriteFile(cfgFile, []byte(`
log:
  level: error
incidents:
  provider: pagerduty
  pagerduty:
    token: from-file
server:
  sync_trigger:
    enabled: true
    secret_token: from-file
`), 0o600))

	var out bytes.Buffer

	app := NewApp("0.0.0", time.Now())
	app.Writer = &out
	app.ExitErrHandler = func(*cli.Context, error) {}

	err := app.Run([]string{"dora-exporter", "validate", "--config", cfgFile, "--pagerduty-token", "from-flag", "--print"})

	var exitErr cli.ExitCoder
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 0, exitErr.ExitCode())
	assert.Contains(t, out.String(), "provider: pagerduty")
	assert.NotContains(t, out.String(), "from-file")
	assert.NotContains(t, out.String(), "from-flag")
}

func TestValidateCommandInvalidConfig(t *testing.T) {
	cfgFile := filepath.Join(t.TempDir(), "dora-exporter.yml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("log:\n  level: error\n"), 0o600))

	app := NewApp("0.0.0", time.Now())
	app.Writer = &bytes.Buffer{}
	app.ExitErrHandler = func(*cli.Context, error) {}

	err := app.Run([]string{"dora-exporter", "validate", "--config", cfgFile})

	var exitErr cli.ExitCoder
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 1, exitErr.ExitCode())
}
