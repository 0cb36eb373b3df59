// Package config loads cqlsync configuration from defaults, a YAML file,
// CQLSYNC_ environment variables and command line flags, in increasing
// order of precedence.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/koba/cqlsync/internal/database"
	"github.com/koba/cqlsync/internal/migrate"
	"github.com/koba/cqlsync/internal/snapshot"
)

// DefaultConfigFile is read when no file is given and it exists.
const DefaultConfigFile = "cqlsync.yaml"

// Config is the full configuration.
type Config struct {
	// Schema is the path of the table declaration file.
	Schema    string          `koanf:"schema"`
	Cassandra database.Config `koanf:"cassandra"`
	Snapshot  snapshot.Config `koanf:"snapshot"`

	Migration                      string `koanf:"migration"`
	Production                     bool   `koanf:"production"`
	DisableInteractiveConfirmation bool   `koanf:"disable_interactive_confirmation"`

	LogLevel string `koanf:"log_level"`
}

// flagKeys maps the flags that carry configuration to their keys. Other
// flags are command options and are ignored.
var flagKeys = map[string]string{
	"schema":          "schema",
	"hosts":           "cassandra.hosts",
	"port":            "cassandra.port",
	"keyspace":        "cassandra.keyspace",
	"username":        "cassandra.username",
	"password":        "cassandra.password",
	"consistency":     "cassandra.consistency",
	"snapshot-driver": "snapshot.driver",
	"snapshot-dsn":    "snapshot.dsn",
	"migration":       "migration",
	"production":      "production",
	"yes":             "disable_interactive_confirmation",
	"log-level":       "log_level",
}

func defaults() map[string]any {
	return map[string]any{
		"schema":                           "schema.yaml",
		"cassandra.hosts":                  []string{"127.0.0.1"},
		"cassandra.port":                   9042,
		"cassandra.consistency":            "QUORUM",
		"cassandra.timeout":                "10s",
		"snapshot.driver":                  "sqlite",
		"snapshot.dsn":                     "cqlsync.db",
		"migration":                        string(migrate.PolicySafe),
		"production":                       false,
		"disable_interactive_confirmation": false,
		"log_level":                        "info",
	}
}

// Load builds the configuration. cfgFile may be empty.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if cfgFile == "" {
		if _, err := os.Stat(DefaultConfigFile); err == nil {
			cfgFile = DefaultConfigFile
		}
	}
	if cfgFile != "" {
		if err := k.Load(file.Provider(cfgFile), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", cfgFile, err)
		}
	}

	// CQLSYNC_CASSANDRA__KEYSPACE -> cassandra.keyspace
	if err := k.Load(env.Provider("CQLSYNC_", ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, "CQLSYNC_"))
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !f.Changed || !ok {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if _, err := migrate.ParsePolicy(cfg.Migration); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Migrate returns the reconciliation settings.
func (c *Config) Migrate() migrate.Config {
	policy, _ := migrate.ParsePolicy(c.Migration)
	return migrate.Config{
		Policy:                         policy,
		Production:                     c.Production,
		DisableInteractiveConfirmation: c.DisableInteractiveConfirmation,
	}
}

// NewLogger builds a text logger at the configured level.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
