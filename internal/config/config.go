// Package config loads livesync settings from defaults, a YAML file,
// LIVESYNC_* environment variables and command-line flags.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// Supported backends.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Defaults.
const (
	DefaultDriver        = DriverSQLite
	DefaultDatabase      = "livesync.db"
	DefaultListen        = "127.0.0.1:8780"
	DefaultNotifyChannel = "livesync_changes"
	DefaultQueriesDir    = "queries"
	DefaultLogLevel      = "info"
	DefaultFormat        = "text"
)

// EnvPrefix prefixes every environment variable the loader reads.
const EnvPrefix = "LIVESYNC_"

// configNames are the file names searched in the working directory.
var configNames = []string{"livesync.yaml", "livesync.yml"}

// Config holds all livesync settings.
type Config struct {
	Driver        string        `koanf:"driver"`
	Database      string        `koanf:"database"`
	Listen        string        `koanf:"listen"`
	NotifyChannel string        `koanf:"notify_channel"`
	QueriesDir    string        `koanf:"queries_dir"`
	PollInterval  time.Duration `koanf:"poll_interval"`
	Watch         bool          `koanf:"watch"`
	LogLevel      string        `koanf:"log_level"`
	Format        string        `koanf:"format"`

	// File is the config file that was read, if any.
	File string `koanf:"-"`
}

// flagKeys maps flag names whose config key is not the snake_case form of
// the flag name.
var flagKeys = map[string]string{
	"db":      "database",
	"queries": "queries_dir",
	"channel": "notify_channel",
}

// Load builds a Config.
// Precedence (highest to lowest): flags > env vars > config file > defaults.
// Only flags the user actually set override other sources. cfgFile may be
// empty, in which case livesync.yaml or livesync.yml in the working
// directory is used when present. flags may be nil.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	// 1. Defaults
	if err := k.Load(confmap.Provider(map[string]interface{}{
		"driver":         DefaultDriver,
		"database":       DefaultDatabase,
		"listen":         DefaultListen,
		"notify_channel": DefaultNotifyChannel,
		"queries_dir":    DefaultQueriesDir,
		"poll_interval":  "1s",
		"watch":          false,
		"log_level":      DefaultLogLevel,
		"format":         DefaultFormat,
	}, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Config file
	used, err := findConfigFile(cfgFile)
	if err != nil {
		return nil, err
	}
	if used != "" {
		if err := k.Load(file.Provider(used), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", used, err)
		}
	}

	// 3. Environment: LIVESYNC_NOTIFY_CHANNEL -> notify_channel
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Flags
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed {
				return "", nil
			}
			if f.Name == "verbose" {
				if v, _ := flags.GetBool("verbose"); v {
					return "log_level", "debug"
				}
				return "", nil
			}
			key := strings.ReplaceAll(f.Name, "-", "_")
			if mapped, ok := flagKeys[key]; ok {
				key = mapped
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
	cfg.File = used

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// findConfigFile returns the file to read.
// Priority: explicit path > livesync.yaml > livesync.yml.
// An explicit path that does not exist is an error.
func findConfigFile(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file %s: %w", explicit, err)
		}
		return explicit, nil
	}
	for _, name := range configNames {
		if _, err := os.Stat(name); err == nil {
			return name, nil
		}
	}
	return "", nil
}

// Validate checks field values.
func (c *Config) Validate() error {
	switch c.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("invalid driver %q: must be %s or %s", c.Driver, DriverSQLite, DriverPostgres)
	}
	if c.Database == "" {
		return fmt.Errorf("database is required")
	}
	if c.PollInterval < 0 {
		return fmt.Errorf("poll_interval must not be negative, got %s", c.PollInterval)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	switch c.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid format %q: must be text or json", c.Format)
	}
	return nil
}

// Level returns the slog level named by LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log_level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

// ResolveQueriesDir returns QueriesDir, relative to the config file's
// directory when it is relative and a file was read.
func (c *Config) ResolveQueriesDir() string {
	if c.QueriesDir == "" || filepath.IsAbs(c.QueriesDir) || c.File == "" {
		return c.QueriesDir
	}
	return filepath.Join(filepath.Dir(c.File), c.QueriesDir)
}

// Sample is the config file written by "livesync init".
const Sample = `# livesync configuration
driver: sqlite            # sqlite | postgres
database: livesync.db     # file path, or a postgres DSN
listen: 127.0.0.1:8780
notify_channel: livesync_changes
queries_dir: queries
poll_interval: 1s         # sqlite: pick up writes from other processes
watch: false              # reload query definitions on change
log_level: info
`
