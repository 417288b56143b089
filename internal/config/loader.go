package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"eventsource/pkg/errors"
)

// Loader loads configuration from file
type Loader struct {
	path       string
	envEnabled bool
	overrides  []func(*Config)
}

// NewLoader creates a config loader
func NewLoader(path string) *Loader {
	return &Loader{
		path:       path,
		envEnabled: true,
	}
}

// WithEnvVars enables or disables environment variable overrides
func (l *Loader) WithEnvVars(enabled bool) *Loader {
	l.envEnabled = enabled
	return l
}

// WithOverrides registers a function applied after file and environment
// loading, before validation. Used for command-line flag overrides.
func (l *Loader) WithOverrides(fn func(*Config)) *Loader {
	l.overrides = append(l.overrides, fn)
	return l
}

// Load loads the configuration: embedded defaults, then the file, then
// environment variables, then registered overrides.
func (l *Loader) Load() (*Config, error) {
	cfg, err := LoadDefault()
	if err != nil {
		return nil, errors.NewError(errors.ErrorTypeInternal, "failed to load default config").WithCause(err)
	}

	if l.path != "" {
		data, err := os.ReadFile(l.path)
		if err != nil {
			return nil, errors.NewError(errors.ErrorTypeInternal, "failed to read config file").WithCause(err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.NewError(errors.ErrorTypeInternal, "failed to parse config").WithCause(err)
		}
	}

	if l.envEnabled {
		if err := LoadEnv(cfg); err != nil {
			return nil, errors.NewError(errors.ErrorTypeInternal, "failed to load env vars").WithCause(err)
		}
	}

	for _, fn := range l.overrides {
		fn(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	return cfg, nil
}
