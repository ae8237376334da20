// Package config loads the manager process configuration.
//
// Configuration is resolved from, in increasing precedence: built-in
// defaults, a batchkeeper.yaml file (current directory, then
// ~/.batchkeeper/), and BATCHKEEPER_* environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// ServerConfig configures the optional HTTP status API.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Config is the resolved manager configuration.
type Config struct {
	// ManagerID uniquely identifies this manager process across every
	// machine sharing the data tree. Defaults to the local pid, which is
	// sufficient for a single-manager-host deployment; multi-host
	// deployments must assign disjoint ids explicitly.
	ManagerID int `mapstructure:"manager_id"`

	// RawDataRoot, ProcessedDataRoot, and UserWorkingRoot are the shared
	// directory roots on the remote server.
	RawDataRoot       string `mapstructure:"raw_data_root"`
	ProcessedDataRoot string `mapstructure:"processed_data_root"`
	UserWorkingRoot   string `mapstructure:"user_working_root"`

	// LocalWorkingDir is where pulled tracker snapshots are staged.
	LocalWorkingDir string `mapstructure:"local_working_dir"`

	// PollInterval is the cadence of the manager control loop's Advance
	// calls.
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// LockTimeout bounds every wait on a tracker's companion lock.
	LockTimeout time.Duration `mapstructure:"lock_timeout"`

	// KeepJobLogs retains remote job logs after successful runs.
	KeepJobLogs bool `mapstructure:"keep_job_logs"`

	Server ServerConfig `mapstructure:"server"`
}

// Validate checks cross-field constraints that defaults cannot guarantee.
func (c *Config) Validate() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval)
	}
	if c.LockTimeout <= 0 {
		return fmt.Errorf("lock_timeout must be positive, got %s", c.LockTimeout)
	}
	if c.LocalWorkingDir == "" {
		return errors.New("local_working_dir is required")
	}
	return nil
}

// Load resolves the manager configuration.
func Load(ctx context.Context) (*Config, error) {
	_ = ctx

	v := viper.New()
	v.SetDefault("manager_id", os.Getpid())
	v.SetDefault("raw_data_root", "/storage/raw_data")
	v.SetDefault("processed_data_root", "/workdir/processed_data")
	v.SetDefault("user_working_root", "/workdir/users")
	v.SetDefault("local_working_dir", defaultLocalWorkingDir())
	v.SetDefault("poll_interval", "5s")
	v.SetDefault("lock_timeout", "10s")
	v.SetDefault("keep_job_logs", false)
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8642)

	v.SetConfigName("batchkeeper")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".batchkeeper"))
	}

	v.SetEnvPrefix("BATCHKEEPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
	))); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func defaultLocalWorkingDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".batchkeeper", "staging")
	}
	return filepath.Join(os.TempDir(), "batchkeeper-staging")
}
