package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/kardianos/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, raw string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(p, []byte(raw), 0o600))
	return p
}

const testConfig = `
logging:
  level: error
accelerators:
  - name: emu0
`

func TestProgram_StartStop(t *testing.T) {
	p := &program{configPath: writeConfig(t, testConfig), build: "test", log: service.ConsoleLogger}

	require.NoError(t, p.Start(nil))
	require.NotNil(t, p.control)
	devices := p.control.ListDevices()
	require.Len(t, devices, 1)
	assert.Equal(t, "emu0", devices[0].Accelerator)

	assert.Error(t, p.Start(nil), "already running")

	require.NoError(t, p.Stop(nil))
	assert.Nil(t, p.control)
	assert.NoError(t, p.Stop(nil))
}

func TestProgram_StartFailure(t *testing.T) {
	p := &program{configPath: filepath.Join(t.TempDir(), "missing.yml"), log: service.ConsoleLogger}
	assert.Error(t, p.Start(nil))
	assert.Nil(t, p.control)

	p.configPath = writeConfig(t, "accelerators:\n  - name: a\n    backend: mlx5\n")
	assert.Error(t, p.Start(nil))
	assert.Nil(t, p.control)
}

func TestLoadControl_ConfigTest(t *testing.T) {
	ctrl, l, err := loadControl(writeConfig(t, testConfig), true, "test")
	require.NoError(t, err)
	assert.Nil(t, ctrl)
	assert.NotNil(t, l)
}

func TestServiceConfig(t *testing.T) {
	c := serviceConfig("/etc/vdpad/config.yml")
	assert.Equal(t, "vdpad", c.Name)
	assert.Equal(t, []string{"-service", "run", "-config", "/etc/vdpad/config.yml"}, c.Arguments)
}
