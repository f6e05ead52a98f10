// Package config provides configuration management for couchup using Viper.
package config

import (
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/couchup/couchup/errors"
)

// Config holds all couchup configuration. It is loaded once per invocation
// and threaded explicitly through every component call.
type Config struct {
	// Source is the base URL of the single-node endpoint being migrated from.
	Source string `mapstructure:"source"`
	// Target is the base URL of the clustered endpoint being migrated to.
	Target string `mapstructure:"target"`

	Log LogConfig `mapstructure:",squash"`

	// Quiet suppresses diagnostic output. It never suppresses the non-zero
	// exit code of a fatal path.
	Quiet bool `mapstructure:"quiet"`

	// Login and Password form the basic-auth credentials for both endpoints.
	Login    string `mapstructure:"login"`
	Password string `mapstructure:"password"`

	// AllDBs applies the operation to every non-system database.
	AllDBs bool `mapstructure:"all-dbs"`

	// Timeout is an operation-specific bound in seconds: the stall timeout
	// for replicate (in poll ticks) and the view read timeout for rebuild.
	Timeout int `mapstructure:"timeout"`

	// FilterDeleted skips deleted documents during replication via a
	// deterministic filter design document on the source.
	FilterDeleted bool `mapstructure:"filter-deleted"`

	// Views are explicit "ddoc/view" names for rebuild. Only valid when
	// exactly one database is targeted.
	Views []string `mapstructure:"views"`

	// Force bypasses the parity check before deletion.
	Force bool `mapstructure:"force"`

	// IncludeSystem includes system databases in listings.
	IncludeSystem bool `mapstructure:"include-system-dbs"`
	// Clustered lists logical names on the target instead of the source.
	Clustered bool `mapstructure:"clustered"`

	// MetricsPort serves Prometheus metrics during a replicate run.
	// 0 disables the listener.
	MetricsPort int `mapstructure:"metrics-port"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level   string `mapstructure:"log-level"`
	JSON    bool   `mapstructure:"log-json"`
	NoColor bool   `mapstructure:"log-no-color"`
}

// Load initializes Viper and returns the Config for the executing command.
func Load(cmd *cobra.Command) (*Config, error) {
	viper.SetEnvPrefix("COUCHUP")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if cmd.PersistentFlags() != nil {
		_ = viper.BindPFlags(cmd.PersistentFlags())
	}

	if cmd.Flags() != nil {
		_ = viper.BindPFlags(cmd.Flags())
	}

	bindEnvVars()

	var cfg Config

	err := viper.Unmarshal(&cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	))
	if err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}

	if cfg.Source == "" {
		cfg.Source = DefaultSourceURL
	}

	if cfg.Target == "" {
		cfg.Target = DefaultTargetURL
	}

	return &cfg, nil
}

func bindEnvVars() {
	_ = viper.BindEnv("source", "COUCHUP_SOURCE_URL")
	_ = viper.BindEnv("target", "COUCHUP_TARGET_URL")

	_ = viper.BindEnv("log-level", "COUCHUP_LOG_LEVEL")
	_ = viper.BindEnv("log-json", "COUCHUP_LOG_JSON")
	_ = viper.BindEnv("log-no-color", "COUCHUP_LOG_NO_COLOR")

	_ = viper.BindEnv("login", "COUCHUP_LOGIN")
	_ = viper.BindEnv("password", "COUCHUP_PASSWORD")

	_ = viper.BindEnv("timeout", "COUCHUP_TIMEOUT")
	_ = viper.BindEnv("metrics-port", "COUCHUP_METRICS_PORT")
}
