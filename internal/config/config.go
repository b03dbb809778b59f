// Package config loads pocketdo configuration from file, environment, and
// defaults via viper.
//
// Resolution order: explicit flags (handled by the CLI) > POCKETDO_*
// environment variables > ~/.pocketdo/config.yaml > built-in defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all runtime configuration.
type Config struct {
	// ServerURL is the base URL of the remote sync authority.
	ServerURL string `mapstructure:"server_url"`

	// OwnerID identifies the local user on task records.
	OwnerID string `mapstructure:"owner_id"`

	// DBPath is the SQLite record store location.
	DBPath string `mapstructure:"db_path"`

	// TokenPath is where the auth token is stored.
	TokenPath string `mapstructure:"token_path"`

	// InboxDir is the drop-folder watched for task imports.
	InboxDir string `mapstructure:"inbox_dir"`

	// SyncInterval is the periodic sync cycle interval.
	SyncInterval time.Duration `mapstructure:"sync_interval"`

	// RequestTimeout is the per-request network timeout.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	// ProbeInterval is how often connectivity is checked.
	ProbeInterval time.Duration `mapstructure:"probe_interval"`

	// DashboardPort is the WebSocket dashboard listen port.
	DashboardPort int `mapstructure:"dashboard_port"`

	// LogFile is where the daemon writes its rotating log.
	LogFile string `mapstructure:"log_file"`
}

// Dir returns the pocketdo config directory (~/.pocketdo).
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".pocketdo"
	}
	return filepath.Join(home, ".pocketdo")
}

// Load reads configuration from the optional config file and environment.
// cfgFile may be empty, in which case ~/.pocketdo/config.yaml is used when
// present.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	dir := Dir()
	v.SetDefault("server_url", "")
	v.SetDefault("owner_id", "")
	v.SetDefault("db_path", filepath.Join(dir, "tasks.db"))
	v.SetDefault("token_path", filepath.Join(dir, "token"))
	v.SetDefault("inbox_dir", filepath.Join(dir, "inbox"))
	v.SetDefault("sync_interval", 5*time.Minute)
	v.SetDefault("request_timeout", 15*time.Second)
	v.SetDefault("probe_interval", 30*time.Second)
	v.SetDefault("dashboard_port", 8099)
	v.SetDefault("log_file", filepath.Join(dir, "daemon.log"))

	v.SetEnvPrefix("POCKETDO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", cfgFile, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(dir)
		if err := v.ReadInConfig(); err != nil {
			// A missing default config file is fine; anything else is not.
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}
