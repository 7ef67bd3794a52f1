package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aretw0/max/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

const yamlConfig = `
workspace: acme
installations:
  crm:
    options:
      connector: memory
      schedule: "@every 1m"
  docs:
    kind: subprocess
    options:
      profile: local
      connector: loam
autostart: [crm]
store:
  kind: sqlite
admin:
  addr: 127.0.0.1:7300
  metrics: true
`

const tomlConfig = `
workspace = "acme"
autostart = ["crm"]

[store]
kind = "redis"
url = "redis://localhost:6379/0"
ttl = "24h"

[installations.crm]
kind = "inprocess"

[installations.crm.options]
connector = "memory"
`

const jsonConfig = `{
  "installations": {"crm": {"kind": "remote", "options": {"url": "ws://host/rpc"}}},
  "store": {"kind": "file", "path": "data"}
}`

func TestLoad_YAML(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "max.yaml"), yamlConfig)

	cfg, err := Load(root)
	require.NoError(t, err)

	assert.Equal(t, "acme", cfg.Workspace)
	assert.Equal(t, domain.ProviderInProcess, cfg.Installations["crm"].Kind, "kind defaults to inprocess")
	assert.Equal(t, "@every 1m", cfg.Installations["crm"].Options[domain.KeySchedule])
	assert.Equal(t, domain.ProviderSubprocess, cfg.Installations["docs"].Kind)
	assert.Equal(t, []domain.InstallationID{"crm", "docs"}, cfg.InstallationIDs())
	assert.Equal(t, StoreSQLite, cfg.Store.Kind)
	assert.Equal(t, filepath.Join(root, ".max", "max.db"), cfg.Store.Path)
	assert.Equal(t, filepath.Join(root, ".max", "profiles.yaml"), cfg.Profiles)
	assert.True(t, cfg.Admin.Metrics)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_TOML(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "max.toml"), tomlConfig)

	cfg, err := Load(root)
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Installations["crm"].Options[domain.KeyConnector])
	assert.Equal(t, StoreRedis, cfg.Store.Kind)
	ttl, err := cfg.StoreTTL()
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, ttl)
}

func TestLoad_JSONDefaults(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "max.json"), jsonConfig)

	cfg, err := Load(root)
	require.NoError(t, err)
	assert.Equal(t, filepath.Base(root), cfg.Workspace)
	assert.Equal(t, domain.ProviderRemote, cfg.Installations["crm"].Kind)
	assert.Equal(t, filepath.Join(root, "data"), cfg.Store.Path)
}

func TestLoad_LookupOrder(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "max.json"), `{"workspace": "from-json"}`)
	writeFile(t, filepath.Join(root, "max.yaml"), "workspace: from-yaml\n")

	cfg, err := Load(root)
	require.NoError(t, err)
	assert.Equal(t, "from-yaml", cfg.Workspace)
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing", func(t *testing.T) {
		_, err := Load(t.TempDir())
		assert.ErrorIs(t, err, ErrNoConfig)
	})
	t.Run("syntax", func(t *testing.T) {
		root := t.TempDir()
		writeFile(t, filepath.Join(root, "max.json"), "{")
		_, err := Load(root)
		assert.ErrorContains(t, err, "config parse failed")
	})
	t.Run("invalid", func(t *testing.T) {
		root := t.TempDir()
		writeFile(t, filepath.Join(root, "max.yaml"), `
installations:
  crm: {kind: docker}
autostart: [ghost]
store: {kind: redis, ttl: soon}
`)
		_, err := Load(root)
		require.ErrorIs(t, err, domain.ErrInvalidArgs)
		assert.ErrorContains(t, err, `unknown provider "docker"`)
		assert.ErrorContains(t, err, `unknown installation "ghost"`)
		assert.ErrorContains(t, err, "redis needs a url")
		assert.ErrorContains(t, err, "store ttl")
	})
}

func TestParse_UnsupportedFormat(t *testing.T) {
	_, err := Parse(".ini", nil)
	assert.ErrorIs(t, err, domain.ErrInvalidArgs)
}

func TestDefault(t *testing.T) {
	cfg := Default("/srv/acme")
	assert.Equal(t, "acme", cfg.Workspace)
	assert.Equal(t, StoreMemory, cfg.Store.Kind)
	assert.NoError(t, cfg.Validate())
}
