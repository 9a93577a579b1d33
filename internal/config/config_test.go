package config

import (
	"os"
	"path/filepath"
	"testing"

	"signal-quota-service/internal/eviction"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestDefault(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	assert.Equal(t, int64(10240), c.Quota.SoftLimitBytes)
	assert.Equal(t, int64(15360), c.Quota.HardLimitBytes)
	assert.Equal(t, []string{eviction.OldestFirst}, c.Eviction.Policies)
	assert.Equal(t, 64, c.LockStripes)
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
node_id: node2
raft_addr: ":12000"
quota:
  soft_limit_bytes: 100
  hard_limit_bytes: 150
eviction:
  policies: [fifo]
`)

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, path, c.Path)
	assert.Equal(t, "node2", c.NodeID)
	assert.Equal(t, ":12000", c.RaftAddr)
	assert.Equal(t, eviction.Limits{Soft: 100, Hard: 150}, c.Quota.Limits())
	assert.Equal(t, []string{"fifo"}, c.Eviction.Policies)

	// Untouched fields keep their defaults.
	assert.Equal(t, ":8080", c.HTTPAddr)
	assert.Equal(t, 64, c.LockStripes)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "quota: [not, a, map]"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"inverted limits", func(c *Config) { c.Quota.SoftLimitBytes = 200; c.Quota.HardLimitBytes = 100 }},
		{"negative limit", func(c *Config) { c.Quota.SoftLimitBytes = -1 }},
		{"unknown policy", func(c *Config) { c.Eviction.Policies = []string{"lru"} }},
		{"no policies", func(c *Config) { c.Eviction.Policies = nil }},
		{"empty http addr", func(c *Config) { c.HTTPAddr = "" }},
		{"empty grpc addr", func(c *Config) { c.GRPCAddr = "" }},
		{"empty raft addr", func(c *Config) { c.RaftAddr = "" }},
		{"empty node id", func(c *Config) { c.NodeID = "" }},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }},
		{"no lock stripes", func(c *Config) { c.LockStripes = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestValidate_LimitsError(t *testing.T) {
	c := Default()
	c.Quota.SoftLimitBytes = 200
	c.Quota.HardLimitBytes = 100
	assert.ErrorIs(t, c.Validate(), eviction.ErrInvalidLimits)

	c = Default()
	c.Eviction.Policies = []string{"random"}
	assert.ErrorIs(t, c.Validate(), eviction.ErrUnknownPolicy)
}

func TestParse_FlagsOverrideFile(t *testing.T) {
	path := writeConfig(t, `
node_id: from-file
http_addr: ":9000"
quota:
  soft_limit_bytes: 100
  hard_limit_bytes: 150
`)

	c, err := Parse("test", []string{
		"--config", path,
		"--node_id", "from-flag",
		"--hard_limit_bytes", "300",
		"--eviction_policies", "oldest_first,fifo",
	})
	require.NoError(t, err)
	assert.Equal(t, "from-flag", c.NodeID)
	assert.Equal(t, ":9000", c.HTTPAddr)
	assert.Equal(t, eviction.Limits{Soft: 100, Hard: 300}, c.Quota.Limits())
	assert.Equal(t, []string{"oldest_first", "fifo"}, c.Eviction.Policies)
}

func TestParse_NoFile(t *testing.T) {
	c, err := Parse("test", []string{"--bootstrap", "--raft_dir", "/tmp/raft"})
	require.NoError(t, err)
	assert.True(t, c.Bootstrap)
	assert.Equal(t, "/tmp/raft", c.RaftDir)
	assert.Empty(t, c.Path)
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse("test", []string{"--soft_limit_bytes", "20000"})
	assert.ErrorIs(t, err, eviction.ErrInvalidLimits)

	_, err = Parse("test", []string{"--no-such-flag"})
	assert.Error(t, err)
}

func TestController(t *testing.T) {
	c := Default()
	c.Eviction.Policies = []string{"oldest_first", "fifo"}

	ctrl, err := c.Controller()
	require.NoError(t, err)
	assert.Equal(t, 2, ctrl.Len())
	assert.Equal(t, eviction.Limits{Soft: 10240, Hard: 15360}, ctrl.Limits())
}
