// Package config loads the server configuration from YAML and command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"

	"signal-quota-service/internal/eviction"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

const (
	DefaultSoftLimitBytes = 10240
	DefaultHardLimitBytes = 15360
	DefaultLockStripes    = 64
)

// Config is the top-level configuration for a server node.
type Config struct {
	// Path is the YAML file the config was loaded from, if any.
	Path string `yaml:"-"`

	NodeID string `yaml:"node_id"`

	HTTPAddr string `yaml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr"`

	// RaftAddr is the local bind address for raft traffic. RaftAdvertise is the
	// address peers dial and defaults to the bound address.
	RaftAddr      string `yaml:"raft_addr"`
	RaftAdvertise string `yaml:"raft_advertise"`
	RaftDir       string `yaml:"raft_dir"`

	// Bootstrap starts a new single-voter cluster. Only the first node sets it.
	Bootstrap bool `yaml:"bootstrap"`

	// Join is the HTTP address of an existing member to join through.
	Join string `yaml:"join"`

	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`

	Quota    QuotaConfig    `yaml:"quota"`
	Eviction EvictionConfig `yaml:"eviction"`

	// LockStripes is the number of per-owner update locks.
	LockStripes int `yaml:"lock_stripes"`
}

// QuotaConfig holds the per-owner storage limits.
type QuotaConfig struct {
	// SoftLimitBytes is the size an owner is trimmed down to.
	SoftLimitBytes int64 `yaml:"soft_limit_bytes"`

	// HardLimitBytes is the oversubscription ceiling; eviction only runs once an
	// owner's signals exceed it.
	HardLimitBytes int64 `yaml:"hard_limit_bytes"`
}

// Limits returns the quota as eviction limits.
func (q QuotaConfig) Limits() eviction.Limits {
	return eviction.Limits{Soft: q.SoftLimitBytes, Hard: q.HardLimitBytes}
}

// EvictionConfig selects the eviction chain.
type EvictionConfig struct {
	Policies []string `yaml:"policies"`
}

// Default returns a configuration with every field set to its default.
func Default() *Config {
	return &Config{
		NodeID:   "node1",
		HTTPAddr: ":8080",
		GRPCAddr: ":50051",
		RaftAddr: ":11000",
		RaftDir:  "raft_data",
		LogLevel: "info",
		Quota: QuotaConfig{
			SoftLimitBytes: DefaultSoftLimitBytes,
			HardLimitBytes: DefaultHardLimitBytes,
		},
		Eviction:    EvictionConfig{Policies: []string{eviction.OldestFirst}},
		LockStripes: DefaultLockStripes,
	}
}

// Load reads a YAML file on top of the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	config.Path = path
	return config, nil
}

// AddFlags registers one flag per field, bound to c.
func (c *Config) AddFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&c.Path, "config", c.Path, "path to a YAML config file")
	flagSet.StringVar(&c.NodeID, "node_id", c.NodeID, "raft server ID of this node")
	flagSet.StringVar(&c.HTTPAddr, "http_addr", c.HTTPAddr, "HTTP listen address")
	flagSet.StringVar(&c.GRPCAddr, "grpc_addr", c.GRPCAddr, "gRPC listen address")
	flagSet.StringVar(&c.RaftAddr, "raft_addr", c.RaftAddr, "raft bind address")
	flagSet.StringVar(&c.RaftAdvertise, "raft_advertise", c.RaftAdvertise, "raft address advertised to peers")
	flagSet.StringVar(&c.RaftDir, "raft_dir", c.RaftDir, "raft data directory")
	flagSet.BoolVar(&c.Bootstrap, "bootstrap", c.Bootstrap, "bootstrap the cluster (only for the first node)")
	flagSet.StringVar(&c.Join, "join", c.Join, "HTTP address of a cluster member to join")
	flagSet.StringVar(&c.LogLevel, "log_level", c.LogLevel, "log level (trace, debug, info, warn, error)")
	flagSet.BoolVar(&c.LogJSON, "log_json", c.LogJSON, "emit logs as JSON")
	flagSet.Int64Var(&c.Quota.SoftLimitBytes, "soft_limit_bytes", c.Quota.SoftLimitBytes, "per-owner size eviction trims down to")
	flagSet.Int64Var(&c.Quota.HardLimitBytes, "hard_limit_bytes", c.Quota.HardLimitBytes, "per-owner size that triggers eviction")
	flagSet.StringSliceVar(&c.Eviction.Policies, "eviction_policies", c.Eviction.Policies, "eviction policies, applied in order")
	flagSet.IntVar(&c.LockStripes, "lock_stripes", c.LockStripes, "number of per-owner update locks")
}

// Parse builds the configuration for a process. Values come from the defaults,
// then the file named by --config, then the remaining flags.
func Parse(name string, args []string) (*Config, error) {
	// The first pass only finds --config; the file must be loaded before the
	// flags are applied so that flags win.
	probe := Default()
	probeFlags := pflag.NewFlagSet(name, pflag.ContinueOnError)
	probe.AddFlags(probeFlags)
	if err := probeFlags.Parse(args); err != nil {
		return nil, err
	}

	config := Default()
	if probe.Path != "" {
		loaded, err := Load(probe.Path)
		if err != nil {
			return nil, err
		}
		config = loaded
	}

	flagSet := pflag.NewFlagSet(name, pflag.ContinueOnError)
	config.AddFlags(flagSet)
	if err := flagSet.Parse(args); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	var errs []error
	if c.NodeID == "" {
		errs = append(errs, errors.New("node_id is required"))
	}
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("http_addr is required"))
	}
	if c.GRPCAddr == "" {
		errs = append(errs, errors.New("grpc_addr is required"))
	}
	if c.RaftAddr == "" {
		errs = append(errs, errors.New("raft_addr is required"))
	}
	if c.RaftDir == "" {
		errs = append(errs, errors.New("raft_dir is required"))
	}
	if hclog.LevelFromString(c.LogLevel) == hclog.NoLevel {
		errs = append(errs, fmt.Errorf("log_level %q is not a valid level", c.LogLevel))
	}
	if err := c.Quota.Limits().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("quota: %w", err))
	}
	if len(c.Eviction.Policies) == 0 {
		errs = append(errs, errors.New("eviction.policies must name at least one policy"))
	} else if _, err := eviction.NewChain(c.Eviction.Policies); err != nil {
		errs = append(errs, err)
	}
	if c.LockStripes < 1 {
		errs = append(errs, fmt.Errorf("lock_stripes must be positive, got %d", c.LockStripes))
	}
	return errors.Join(errs...)
}

// Controller builds the eviction controller described by the config.
func (c *Config) Controller(opts ...eviction.Option) (*eviction.Controller, error) {
	chain, err := eviction.NewChain(c.Eviction.Policies, opts...)
	if err != nil {
		return nil, err
	}
	return eviction.NewController(chain, c.Quota.Limits())
}

// Logger builds the root logger described by the config.
func (c *Config) Logger() hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:       "signal-quota",
		Level:      hclog.LevelFromString(c.LogLevel),
		JSONFormat: c.LogJSON,
	})
}
