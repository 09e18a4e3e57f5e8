// Package config loads forest and CLI settings from defaults, an optional
// YAML file, IFOREST_* environment variables and command-line flags.
package config

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/hed1ad/goiforest/pkg/detectors/iforest"
)

// EnvPrefix is the prefix of environment variables read by Load.
const EnvPrefix = "IFOREST"

// Config holds forest and runtime settings.
type Config struct {
	Trees         int     `mapstructure:"trees"`
	SampleSize    int     `mapstructure:"sample-size"`
	Seed          int64   `mapstructure:"seed"`
	Contamination float64 `mapstructure:"contamination"`
	MissingRoute  string  `mapstructure:"missing-route"`
	Workers       int     `mapstructure:"workers"`
	LogLevel      string  `mapstructure:"log-level"`
	MetricsAddr   string  `mapstructure:"metrics-addr"`
}

// Default returns the settings used when nothing else is provided.
func Default() Config {
	return Config{
		Trees:         100,
		SampleSize:    256,
		Seed:          42,
		Contamination: 0,
		MissingRoute:  iforest.RouteRight.String(),
		Workers:       runtime.GOMAXPROCS(0),
		LogLevel:      "info",
	}
}

// SetDefaults registers the default values on v.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("trees", d.Trees)
	v.SetDefault("sample-size", d.SampleSize)
	v.SetDefault("seed", d.Seed)
	v.SetDefault("contamination", d.Contamination)
	v.SetDefault("missing-route", d.MissingRoute)
	v.SetDefault("workers", d.Workers)
	v.SetDefault("log-level", d.LogLevel)
	v.SetDefault("metrics-addr", d.MetricsAddr)
}

// Load resolves the configuration. path may be empty; flags may be nil.
// Flags that were set explicitly win over the environment, which wins over
// the file, which wins over defaults.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the forest cannot use.
func (c Config) Validate() error {
	if c.Trees < 1 {
		return fmt.Errorf("trees must be positive, got %d", c.Trees)
	}
	if c.SampleSize < 1 {
		return fmt.Errorf("sample-size must be positive, got %d", c.SampleSize)
	}
	if c.Contamination < 0 || c.Contamination > 0.5 {
		return fmt.Errorf("contamination must be in [0, 0.5], got %g", c.Contamination)
	}
	if _, err := iforest.ParseMissingRoute(c.MissingRoute); err != nil {
		return err
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// ForestOptions converts the settings into forest options.
func (c Config) ForestOptions() []iforest.Option {
	route, _ := iforest.ParseMissingRoute(c.MissingRoute)
	return []iforest.Option{
		iforest.WithTrees(c.Trees),
		iforest.WithSampleSize(c.SampleSize),
		iforest.WithSeed(c.Seed),
		iforest.WithContamination(c.Contamination),
		iforest.WithMissingRoute(route),
		iforest.WithWorkers(c.Workers),
	}
}

// Level returns the parsed log level, falling back to info.
func (c Config) Level() logrus.Level {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}
