package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes the environment variables that override settings,
// e.g. JOBSTARTER_STORE_PATH for store.path.
const EnvPrefix = "JOBSTARTER"

// Settings are the process-level settings of the CLI. They are read from the
// --config file (YAML, TOML or JSON), then overridden by the environment.
type Settings struct {
	Log     LogSettings     `mapstructure:"log"`
	Store   StoreSettings   `mapstructure:"store"`
	Metrics MetricsSettings `mapstructure:"metrics"`
	Trace   TraceSettings   `mapstructure:"trace"`
	Policy  PolicySettings  `mapstructure:"policy"`
	Engine  EngineSettings  `mapstructure:"engine"`
}

type LogSettings struct {
	Level  string `mapstructure:"level" validate:"oneof=trace debug info warn error fatal"`
	Format string `mapstructure:"format" validate:"oneof=console json"`
	// Output is stderr, stdout or a file path to append to.
	Output string `mapstructure:"output" validate:"required"`
}

type StoreSettings struct {
	// Path of the SQLite history database.
	Path string `mapstructure:"path" validate:"required"`
}

type MetricsSettings struct {
	// Addr serves Prometheus metrics while a command runs. Empty disables it.
	Addr string `mapstructure:"addr" validate:"omitempty,hostname_port"`
}

type TraceSettings struct {
	Exporter string `mapstructure:"exporter" validate:"oneof=none stdout otlp"`
	Endpoint string `mapstructure:"endpoint" validate:"required_if=Exporter otlp"`
}

type PolicySettings struct {
	// Paths are files or directories of user policies.
	Paths []string `mapstructure:"paths"`
}

type EngineSettings struct {
	Family string `mapstructure:"family" validate:"oneof=table session"`
}

var settingsValidator = validator.New()

// loadSettings reads the settings file at path, if any, and applies
// environment overrides on top of the defaults.
func loadSettings(path string) (*Settings, error) {
	v := viper.New()

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stderr")
	v.SetDefault("store.path", defaultStorePath())
	v.SetDefault("metrics.addr", "")
	v.SetDefault("trace.exporter", "none")
	v.SetDefault("trace.endpoint", "")
	v.SetDefault("policy.paths", []string{})
	v.SetDefault("engine.family", "table")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read settings file %s: %w", path, err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}
	if err := settingsValidator.Struct(&s); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return &s, nil
}

func defaultStorePath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(".jobstarter", "environments.db")
	}
	return filepath.Join(dir, "jobstarter", "environments.db")
}
