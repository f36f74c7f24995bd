package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/conduit-lang/autowire/internal/logging"
	"github.com/conduit-lang/autowire/internal/tooling/build"
	"github.com/conduit-lang/autowire/internal/watch"
)

// FileNames are the configuration files looked up in the working directory
var FileNames = []string{"autowire.yml", "autowire.yaml"}

// EnvPrefix prefixes environment overrides, e.g. AUTOWIRE_OUTPUT
const EnvPrefix = "AUTOWIRE"

// Config represents the autowire configuration
type Config struct {
	Root            string         `mapstructure:"root" yaml:"root"`
	Output          string         `mapstructure:"output" yaml:"output"`
	Package         string         `mapstructure:"package" yaml:"package,omitempty"`
	Suffixes        []string       `mapstructure:"suffixes" yaml:"suffixes"`
	Exclude         []string       `mapstructure:"exclude" yaml:"exclude"`
	AllowDuplicates bool           `mapstructure:"allow_duplicates" yaml:"allow_duplicates"`
	Comments        bool           `mapstructure:"comments" yaml:"comments"`
	Log             logging.Config `mapstructure:"log" yaml:"log"`
	Watch           WatchConfig    `mapstructure:"watch" yaml:"watch"`

	// File is the configuration file that was read, empty when defaults
	// were used.
	File string `mapstructure:"-" yaml:"-"`
}

// WatchConfig represents watch mode configuration
type WatchConfig struct {
	Debounce    time.Duration `mapstructure:"debounce" yaml:"debounce"`
	MetricsAddr string        `mapstructure:"metrics_addr" yaml:"metrics_addr,omitempty"`
}

// Default returns the configuration used when no file is present
func Default() *Config {
	defaults := build.DefaultOptions()
	return &Config{
		Root:     defaults.Root,
		Output:   defaults.Output,
		Suffixes: defaults.Suffixes,
		Exclude:  defaults.Exclude,
		Comments: defaults.Comments,
		Log:      logging.DefaultConfig(),
		Watch: WatchConfig{
			Debounce: watch.DefaultDebounce,
		},
	}
}

// Load loads the configuration from autowire.yml or autowire.yaml in the
// working directory, or from file when it is not empty. Environment
// variables prefixed with AUTOWIRE_ override file values.
func Load(file string) (*Config, error) {
	v := viper.New()

	// Set defaults
	defaults := Default()
	v.SetDefault("root", defaults.Root)
	v.SetDefault("output", defaults.Output)
	v.SetDefault("package", defaults.Package)
	v.SetDefault("suffixes", defaults.Suffixes)
	v.SetDefault("exclude", defaults.Exclude)
	v.SetDefault("allow_duplicates", defaults.AllowDuplicates)
	v.SetDefault("comments", defaults.Comments)
	v.SetDefault("log.level", defaults.Log.Level)
	v.SetDefault("log.format", defaults.Log.Format)
	v.SetDefault("watch.debounce", defaults.Watch.Debounce)
	v.SetDefault("watch.metrics_addr", defaults.Watch.MetricsAddr)

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("autowire")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// Enable environment variable support
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file if it exists
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found - use defaults
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	config.File = v.ConfigFileUsed()

	// Validate configuration
	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// BuildOptions converts the configuration into generation options
func (c *Config) BuildOptions() *build.Options {
	return &build.Options{
		Root:            c.Root,
		Output:          c.Output,
		Package:         c.Package,
		Suffixes:        append([]string(nil), c.Suffixes...),
		Exclude:         append([]string(nil), c.Exclude...),
		AllowDuplicates: c.AllowDuplicates,
		Comments:        c.Comments,
	}
}

// Save writes cfg as YAML, refusing to replace an existing file unless
// overwrite is set.
func Save(path string, cfg *Config, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := "# autowire configuration\n# See `autowire generate --help` for the meaning of each key.\n"
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, append([]byte(header), data...), 0o644)
}

// Find returns the configuration file in dir, or "" when there is none
func Find(dir string) string {
	for _, name := range FileNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	if cfg.Root == "" {
		return fmt.Errorf("root must not be empty")
	}
	if !strings.HasSuffix(cfg.Output, ".go") {
		return fmt.Errorf("output must be a .go file, got: %s", cfg.Output)
	}
	if len(cfg.Suffixes) == 0 {
		return fmt.Errorf("suffixes must list at least one source suffix")
	}
	for _, pattern := range cfg.Exclude {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("exclude pattern %q is not a valid glob", pattern)
		}
	}
	if cfg.Watch.Debounce < 0 {
		return fmt.Errorf("watch.debounce must not be negative, got: %s", cfg.Watch.Debounce)
	}
	if _, err := logging.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch strings.ToLower(cfg.Log.Format) {
	case "", "console", "json":
	default:
		return fmt.Errorf("log.format must be console or json, got: %s", cfg.Log.Format)
	}
	return nil
}
