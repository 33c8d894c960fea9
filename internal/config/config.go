// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/specialistvlad/gridflow/internal/engineerr"
	"go.uber.org/multierr"
)

// Defaults.
const (
	DefaultWorkers         = 10
	DefaultProgressBuffer  = 64
	DefaultMonitorInterval = 500 * time.Millisecond
	DefaultEventsPerSecond = 10
	DefaultBurst           = 5
)

// Config is the root of an engine configuration file.
type Config struct {
	Engine    *Engine    `hcl:"engine,block"`
	Broadcast *Broadcast `hcl:"broadcast,block"`
	Server    *Server    `hcl:"server,block"`
}

// Engine configures the scheduler.
type Engine struct {
	Workers                int    `hcl:"workers,optional"`
	ProgressBuffer         int    `hcl:"progress_buffer,optional"`
	KeepResourcesOnFailure bool   `hcl:"keep_resources_on_failure,optional"`
	Partitions             int    `hcl:"partitions,optional"`
	MonitorInterval        string `hcl:"monitor_interval,optional"`

	interval time.Duration
}

// Interval returns the parsed monitor interval. Valid after Validate.
func (e *Engine) Interval() time.Duration { return e.interval }

// Broadcast configures the socket.io progress broadcaster.
type Broadcast struct {
	URL                string  `hcl:"url"`
	Namespace          string  `hcl:"namespace,optional"`
	InsecureSkipVerify bool    `hcl:"insecure_skip_verify,optional"`
	EventsPerSecond    float64 `hcl:"events_per_second,optional"`
	Burst              int     `hcl:"burst,optional"`
}

// Server configures the health and metrics HTTP server.
type Server struct {
	Port int `hcl:"port"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	c := &Config{}
	c.ApplyDefaults()
	c.Engine.interval = DefaultMonitorInterval
	return c
}

// Load decodes the HCL file at path, applies defaults and validates it.
func Load(path string) (*Config, error) {
	var c Config
	if err := hclsimple.DecodeFile(path, nil, &c); err != nil {
		return nil, fmt.Errorf("failed to decode config file %s: %w", path, err)
	}
	return c.finish()
}

// Parse decodes HCL source; filename only names the source in diagnostics
// and selects the syntax by extension.
func Parse(filename string, src []byte) (*Config, error) {
	var c Config
	if err := hclsimple.Decode(filename, src, nil, &c); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return c.finish()
}

func (c *Config) finish() (*Config, error) {
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// ApplyDefaults fills unset values.
func (c *Config) ApplyDefaults() {
	if c.Engine == nil {
		c.Engine = &Engine{}
	}
	e := c.Engine
	if e.Workers == 0 {
		e.Workers = DefaultWorkers
	}
	if e.ProgressBuffer == 0 {
		e.ProgressBuffer = DefaultProgressBuffer
	}
	if e.Partitions == 0 {
		e.Partitions = 1
	}
	if e.MonitorInterval == "" {
		e.MonitorInterval = DefaultMonitorInterval.String()
	}
	if b := c.Broadcast; b != nil {
		if b.EventsPerSecond == 0 {
			b.EventsPerSecond = DefaultEventsPerSecond
		}
		if b.Burst == 0 {
			b.Burst = DefaultBurst
		}
	}
}

// Validate checks value ranges and parses durations. It returns a
// ConfigError listing every problem.
func (c *Config) Validate() error {
	var errs error
	e := c.Engine
	if e == nil {
		return engineerr.NewConfigError("", "missing engine block")
	}
	if e.Workers < 1 {
		errs = multierr.Append(errs, fmt.Errorf("workers must be at least 1, got %d", e.Workers))
	}
	if e.ProgressBuffer < 1 {
		errs = multierr.Append(errs, fmt.Errorf("progress_buffer must be at least 1, got %d", e.ProgressBuffer))
	}
	if e.Partitions < 1 {
		errs = multierr.Append(errs, fmt.Errorf("partitions must be at least 1, got %d", e.Partitions))
	}
	d, err := time.ParseDuration(e.MonitorInterval)
	switch {
	case err != nil:
		errs = multierr.Append(errs, fmt.Errorf("monitor_interval: %w", err))
	case d <= 0:
		errs = multierr.Append(errs, fmt.Errorf("monitor_interval must be positive, got %s", d))
	default:
		e.interval = d
	}

	if b := c.Broadcast; b != nil {
		if u, err := url.Parse(b.URL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = multierr.Append(errs, fmt.Errorf("broadcast url '%s' must be absolute", b.URL))
		}
		if b.EventsPerSecond < 0 {
			errs = multierr.Append(errs, fmt.Errorf("events_per_second must not be negative, got %g", b.EventsPerSecond))
		}
		if b.Burst < 1 {
			errs = multierr.Append(errs, fmt.Errorf("burst must be at least 1, got %d", b.Burst))
		}
	}
	if s := c.Server; s != nil && (s.Port < 0 || s.Port > 65535) {
		errs = multierr.Append(errs, fmt.Errorf("server port %d out of range", s.Port))
	}

	if errs != nil {
		return &engineerr.ConfigError{Err: errs}
	}
	return nil
}
