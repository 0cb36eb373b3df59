package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koba/cqlsync/internal/migrate"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cqlsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func testFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.StringSlice("hosts", nil, "")
	fs.String("keyspace", "", "")
	fs.String("migration", "", "")
	fs.Bool("yes", false, "")
	fs.String("snapshot-dsn", "", "")
	fs.String("log-level", "", "")
	fs.String("snapshot", "", "")
	return fs
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"127.0.0.1"}, cfg.Cassandra.Hosts)
	assert.Equal(t, 9042, cfg.Cassandra.Port)
	assert.Equal(t, 10*time.Second, cfg.Cassandra.Timeout)
	assert.Equal(t, "sqlite", cfg.Snapshot.Driver)
	assert.Equal(t, "safe", cfg.Migration)
	assert.Equal(t, migrate.Config{Policy: migrate.PolicySafe}, cfg.Migrate())
}

func TestLoad_Precedence(t *testing.T) {
	path := writeConfig(t, `
schema: tables.yaml
cassandra:
  hosts: [cass1, cass2]
  keyspace: from_file
  consistency: ONE
migration: alter
production: true
`)
	t.Setenv("CQLSYNC_CASSANDRA__KEYSPACE", "from_env")
	t.Setenv("CQLSYNC_LOG_LEVEL", "debug")

	fs := testFlags()
	require.NoError(t, fs.Parse([]string{"--keyspace", "from_flag", "--yes", "--snapshot-dsn", "postgres://x", "--snapshot", "latest"}))

	cfg, err := Load(path, fs)
	require.NoError(t, err)
	assert.Equal(t, "tables.yaml", cfg.Schema)
	assert.Equal(t, []string{"cass1", "cass2"}, cfg.Cassandra.Hosts)
	assert.Equal(t, "ONE", cfg.Cassandra.Consistency)
	assert.Equal(t, "from_flag", cfg.Cassandra.Keyspace)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "postgres://x", cfg.Snapshot.DSN)
	assert.Equal(t, "sqlite", cfg.Snapshot.Driver)
	assert.True(t, cfg.DisableInteractiveConfirmation)

	mc := cfg.Migrate()
	assert.Equal(t, migrate.PolicyAlter, mc.Policy)
	assert.Equal(t, migrate.PolicySafe, mc.EffectivePolicy())
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "cassandra:\n  keyspace: from_file\n")
	t.Setenv("CQLSYNC_CASSANDRA__KEYSPACE", "from_env")

	cfg, err := Load(path, testFlags())
	require.NoError(t, err)
	assert.Equal(t, "from_env", cfg.Cassandra.Keyspace)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "migration: sometimes\n"), nil)
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := &Config{LogLevel: "warn"}
	log := cfg.NewLogger(&buf)
	log.Info("hidden")
	log.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")

	buf.Reset()
	(&Config{LogLevel: "nonsense"}).NewLogger(&buf).Info("info")
	assert.Contains(t, buf.String(), "info")
}
