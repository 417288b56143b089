package config

import (
	"net/url"
	"time"

	"eventsource/pkg/client"
	"eventsource/pkg/errors"
	"eventsource/pkg/tls"
)

// Config holds evtail configuration
type Config struct {
	Stream    Stream    `yaml:"stream"`
	Output    Output    `yaml:"output"`
	Metrics   Metrics   `yaml:"metrics"`
	Telemetry Telemetry `yaml:"telemetry"`
	Log       Log       `yaml:"log"`
}

// Stream describes the subscription
type Stream struct {
	URL string `yaml:"url"`
	// LastEventID optionally resumes the stream from a known position.
	LastEventID     string            `yaml:"lastEventID,omitempty"`
	Headers         map[string]string `yaml:"headers,omitempty"`
	WithCredentials bool              `yaml:"withCredentials"`

	// RetryDelay is the initial reconnection delay in milliseconds.
	RetryDelay int `yaml:"retryDelay"`
	// DialTimeout and ResponseHeaderTimeout are in seconds.
	DialTimeout           int `yaml:"dialTimeout"`
	ResponseHeaderTimeout int `yaml:"responseHeaderTimeout"`

	TLS *tls.Config `yaml:"tls,omitempty"`
}

// Output controls how received events are printed
type Output struct {
	// Format is "text" or "json".
	Format string `yaml:"format"`
	// DataOnly prints just the event payload, one event per line group.
	DataOnly bool `yaml:"dataOnly"`
}

// Metrics configuration
type Metrics struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

// Telemetry configuration for trace export
type Telemetry struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"serviceName"`
	// SampleRate is the fraction of connection attempts to trace, 0..1.
	SampleRate float64 `yaml:"sampleRate"`
}

// Log configuration
type Log struct {
	Level string `yaml:"level"`
}

// Validate checks the configuration for usability
func (c *Config) Validate() error {
	if c.Stream.URL == "" {
		return errors.NewError(errors.ErrorTypeInternal, "stream URL is required")
	}
	u, err := url.Parse(c.Stream.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return errors.NewError(errors.ErrorTypeInternal, "stream URL must be http or https").
			WithDetail("url", c.Stream.URL)
	}

	if c.Stream.RetryDelay < 0 {
		return errors.NewError(errors.ErrorTypeInternal, "retryDelay must not be negative")
	}

	switch c.Output.Format {
	case "", "text", "json":
	default:
		return errors.NewError(errors.ErrorTypeInternal, "output format must be text or json").
			WithDetail("format", c.Output.Format)
	}

	if c.Metrics.Enabled && c.Metrics.Address == "" {
		return errors.NewError(errors.ErrorTypeInternal, "metrics address is required when metrics are enabled")
	}
	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		return errors.NewError(errors.ErrorTypeInternal, "telemetry endpoint is required when telemetry is enabled")
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		return errors.NewError(errors.ErrorTypeInternal, "telemetry sampleRate must be between 0 and 1")
	}
	return nil
}

// ClientConfig converts the stream section into a client configuration
func (c *Config) ClientConfig() (*client.Config, error) {
	cfg := client.DefaultConfig()
	if c.Stream.RetryDelay > 0 {
		cfg.RetryDelay = time.Duration(c.Stream.RetryDelay) * time.Millisecond
	}
	if c.Stream.DialTimeout > 0 {
		cfg.DialTimeout = time.Duration(c.Stream.DialTimeout) * time.Second
	}
	if c.Stream.ResponseHeaderTimeout > 0 {
		cfg.ResponseHeaderTimeout = time.Duration(c.Stream.ResponseHeaderTimeout) * time.Second
	}
	if c.Stream.TLS != nil {
		tlsCfg, err := c.Stream.TLS.ClientConfig()
		if err != nil {
			return nil, errors.NewError(errors.ErrorTypeInternal, "invalid TLS configuration").WithCause(err)
		}
		cfg.TLSConfig = tlsCfg
	}
	return cfg, nil
}
