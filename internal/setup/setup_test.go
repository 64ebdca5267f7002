package setup

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeBinary(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), BinaryName)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0o755))
	return path
}

func TestRegister_PreservesOtherEntries(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "client", "config.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(configPath), 0o755))
	require.NoError(t, os.WriteFile(configPath, []byte(`{
  "theme": "dark",
  "mcpServers": {"other": {"command": "/usr/bin/other"}}
}`), 0o600))

	binary := fakeBinary(t)
	written, err := Register(Options{
		ConfigPath: configPath,
		BinaryPath: binary,
		Env:        map[string]string{"TRIALMATCH_DATABASE_DRIVER": "sqlite"},
	})
	require.NoError(t, err)
	assert.Equal(t, configPath, written)

	data, err := os.ReadFile(configPath)
	require.NoError(t, err)
	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.JSONEq(t, `"dark"`, string(raw["theme"]))

	cfg, err := LoadClientConfig(configPath)
	require.NoError(t, err)
	assert.Equal(t, "/usr/bin/other", cfg.MCPServers["other"].Command)
	assert.Equal(t, binary, cfg.MCPServers[ServerName].Command)
	assert.Equal(t, "sqlite", cfg.MCPServers[ServerName].Env["TRIALMATCH_DATABASE_DRIVER"])
}

func TestLoadClientConfig_Missing(t *testing.T) {
	cfg, err := LoadClientConfig(filepath.Join(t.TempDir(), "none.json"))
	require.NoError(t, err)
	assert.Empty(t, cfg.MCPServers)
}

func TestLoadClientConfig_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))
	_, err := LoadClientConfig(path)
	assert.Error(t, err)
}

func TestCheck(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.json")

	status, err := Check(configPath)
	require.NoError(t, err)
	assert.False(t, status.Registered)

	_, err = Register(Options{
		ConfigPath: configPath,
		BinaryPath: fakeBinary(t),
		Env:        map[string]string{"TRIALMATCH_REASONING_API_KEY": "secret"},
	})
	require.NoError(t, err)

	status, err = Check(configPath)
	require.NoError(t, err)
	assert.True(t, status.Registered)
	assert.Empty(t, status.Issues)
	assert.Equal(t, []string{"TRIALMATCH_REASONING_API_KEY"}, status.EnvKeys)

	_, err = Register(Options{ConfigPath: configPath, BinaryPath: filepath.Join(t.TempDir(), "gone")})
	require.NoError(t, err)
	status, err = Check(configPath)
	require.NoError(t, err)
	require.Len(t, status.Issues, 1)
	assert.Contains(t, status.Issues[0], "not found")
}
