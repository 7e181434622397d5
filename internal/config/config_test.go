package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("driver", DefaultDriver, "")
	fs.String("db", DefaultDatabase, "")
	fs.String("listen", DefaultListen, "")
	fs.String("channel", DefaultNotifyChannel, "")
	fs.String("queries", DefaultQueriesDir, "")
	fs.Duration("poll-interval", time.Second, "")
	fs.Bool("watch", false, "")
	fs.BoolP("verbose", "v", false, "")
	fs.String("format", DefaultFormat, "")
	return fs
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, DriverSQLite, cfg.Driver)
	assert.Equal(t, DefaultDatabase, cfg.Database)
	assert.Equal(t, DefaultListen, cfg.Listen)
	assert.Equal(t, DefaultNotifyChannel, cfg.NotifyChannel)
	assert.Equal(t, DefaultQueriesDir, cfg.QueriesDir)
	assert.Equal(t, time.Second, cfg.PollInterval)
	assert.False(t, cfg.Watch)
	assert.Equal(t, "text", cfg.Format)
	assert.Empty(t, cfg.File)

	level, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, level)
}

func TestLoad_FileInWorkingDir(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	writeFile(t, filepath.Join(dir, "livesync.yaml"), `
driver: postgres
database: postgres://localhost/livesync
poll_interval: 250ms
watch: true
`)

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, DriverPostgres, cfg.Driver)
	assert.Equal(t, "postgres://localhost/livesync", cfg.Database)
	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval)
	assert.True(t, cfg.Watch)
	assert.Equal(t, "livesync.yaml", cfg.File)
}

func TestLoad_Precedence(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(t.TempDir())
	cfgPath := filepath.Join(dir, "custom.yaml")
	writeFile(t, cfgPath, `
database: from-file.db
listen: 0.0.0.0:9000
notify_channel: file_channel
`)

	t.Setenv("LIVESYNC_LISTEN", "127.0.0.1:9100")
	t.Setenv("LIVESYNC_NOTIFY_CHANNEL", "env_channel")

	flags := newFlags()
	require.NoError(t, flags.Parse([]string{"--channel", "flag_channel", "-v"}))

	cfg, err := Load(cfgPath, flags)
	require.NoError(t, err)

	assert.Equal(t, "from-file.db", cfg.Database, "file beats default")
	assert.Equal(t, "127.0.0.1:9100", cfg.Listen, "env beats file")
	assert.Equal(t, "flag_channel", cfg.NotifyChannel, "flag beats env")
	assert.Equal(t, "debug", cfg.LogLevel, "--verbose selects debug logging")
	assert.Equal(t, cfgPath, cfg.File)
}

func TestLoad_UnsetFlagsDoNotOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("LIVESYNC_DATABASE", "env.db")

	flags := newFlags()
	require.NoError(t, flags.Parse(nil))

	cfg, err := Load("", flags)
	require.NoError(t, err)
	assert.Equal(t, "env.db", cfg.Database)
}

func TestLoad_FlagMapping(t *testing.T) {
	t.Chdir(t.TempDir())

	flags := newFlags()
	require.NoError(t, flags.Parse([]string{
		"--db", "other.db", "--queries", "defs", "--poll-interval", "5s", "--watch",
	}))

	cfg, err := Load("", flags)
	require.NoError(t, err)
	assert.Equal(t, "other.db", cfg.Database)
	assert.Equal(t, "defs", cfg.QueriesDir)
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.True(t, cfg.Watch)
}

func TestLoad_Errors(t *testing.T) {
	t.Chdir(t.TempDir())

	_, err := Load("missing.yaml", nil)
	assert.ErrorContains(t, err, "missing.yaml")

	t.Setenv("LIVESYNC_DRIVER", "mysql")
	_, err = Load("", nil)
	assert.ErrorContains(t, err, "invalid driver")
}

func TestValidate(t *testing.T) {
	valid := Config{Driver: DriverSQLite, Database: "x.db", LogLevel: "warn", Format: "json"}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		substr string
	}{
		{"no database", func(c *Config) { c.Database = "" }, "database is required"},
		{"negative poll", func(c *Config) { c.PollInterval = -time.Second }, "poll_interval"},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"bad format", func(c *Config) { c.Format = "xml" }, "format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			assert.ErrorContains(t, c.Validate(), tt.substr)
		})
	}
}

func TestResolveQueriesDir(t *testing.T) {
	c := Config{QueriesDir: "queries"}
	assert.Equal(t, "queries", c.ResolveQueriesDir())

	c.File = filepath.Join("proj", "livesync.yaml")
	assert.Equal(t, filepath.Join("proj", "queries"), c.ResolveQueriesDir())

	c.QueriesDir = "/abs/queries"
	assert.Equal(t, "/abs/queries", c.ResolveQueriesDir())
}

func TestSampleParses(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	writeFile(t, filepath.Join(dir, "livesync.yaml"), Sample)

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, DriverSQLite, cfg.Driver)
	assert.Equal(t, time.Second, cfg.PollInterval)
}
