package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/wippyai/ilweave/resolve"
)

const (
	envPrefix       = "ILWEAVE"
	defaultLogLevel = "warn"

	colorAuto   = "auto"
	colorAlways = "always"
	colorNever  = "never"
)

// Config holds the settings shared by all commands. Values come from, in
// increasing precedence: defaults, the --config file, ILWEAVE_* environment
// variables and command-line flags.
type Config struct {
	SearchPaths  []string `mapstructure:"search_paths" toml:"search_paths"`
	LogLevel     string   `mapstructure:"log_level" toml:"log_level"`
	ReadStrategy string   `mapstructure:"read_strategy" toml:"read_strategy"`
	Color        string   `mapstructure:"color" toml:"color"`
	Parallelism  int      `mapstructure:"parallelism" toml:"parallelism"`
}

// DefaultConfig returns the settings used when nothing overrides them.
func DefaultConfig() Config {
	return Config{
		SearchPaths:  []string{},
		LogLevel:     defaultLogLevel,
		ReadStrategy: resolve.StrategyFile,
		Color:        colorAuto,
	}
}

// flagKeys maps persistent flags to their config keys.
var flagKeys = map[string]string{
	"log-level":     "log_level",
	"search-path":   "search_paths",
	"read-strategy": "read_strategy",
	"color":         "color",
	"parallelism":   "parallelism",
}

func loadConfig(cmd *cobra.Command) (Config, error) {
	v := viper.New()

	defaults := DefaultConfig()
	v.SetDefault("search_paths", defaults.SearchPaths)
	v.SetDefault("log_level", defaults.LogLevel)
	v.SetDefault("read_strategy", defaults.ReadStrategy)
	v.SetDefault("color", defaults.Color)
	v.SetDefault("parallelism", defaults.Parallelism)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for name, key := range flagKeys {
		if f := cmd.Flags().Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return Config{}, fmt.Errorf("failed to bind flag %s: %w", name, err)
			}
		}
	}

	if configFile != "" {
		if _, err := os.Stat(configFile); err != nil {
			return Config{}, fmt.Errorf("config file not found: %s", configFile)
		}
		v.SetConfigFile(configFile)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config %s: %w", configFile, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate rejects settings no command can act on.
func (c Config) Validate() error {
	if _, err := resolve.Strategy(c.ReadStrategy); err != nil {
		return fmt.Errorf("invalid read_strategy: %w", err)
	}
	switch c.Color {
	case colorAuto, colorAlways, colorNever:
	default:
		return fmt.Errorf("invalid color %q: want auto, always or never", c.Color)
	}
	if c.Parallelism < 0 {
		return fmt.Errorf("invalid parallelism %d", c.Parallelism)
	}
	if _, err := zap.ParseAtomicLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level: %w", err)
	}
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewDevelopmentConfig()
	zc.Level = lvl
	zc.DisableStacktrace = true
	return zc.Build()
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect settings",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective settings as TOML",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := toml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
		_, err = output.Write(data)
		return err
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
}
