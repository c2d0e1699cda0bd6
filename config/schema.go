// Package config loads the loader's YAML configuration and applies
// environment overrides.
package config

import (
	"time"

	"xbdm-loader/registry"
)

// Config is the on-disk configuration.
type Config struct {
	// Console names the default console, by name or address.
	Console string `yaml:"console,omitempty" env:"XBDM_CONSOLE"`
	// Consoles is the static console list.
	Consoles []registry.Console `yaml:"consoles,omitempty"`
	// Balancer picks a console when none is named: named, round_robin,
	// weighted or sticky.
	Balancer string `yaml:"balancer,omitempty" env:"XBDM_BALANCER"`

	Etcd     EtcdConfig    `yaml:"etcd,omitempty"`
	Timeouts TimeoutConfig `yaml:"timeouts"`
	Retry    RetryConfig   `yaml:"retry"`
	Rate     RateConfig    `yaml:"rate,omitempty"`
	Pool     PoolConfig    `yaml:"pool"`
	Log      LogConfig     `yaml:"log"`
}

// EtcdConfig points at a shared console registry. Empty endpoints disable it.
type EtcdConfig struct {
	Endpoints   []string      `yaml:"endpoints,omitempty" env:"XBDM_ETCD_ENDPOINTS"`
	DialTimeout time.Duration `yaml:"dial_timeout,omitempty"`
}

// TimeoutConfig bounds blocking work.
type TimeoutConfig struct {
	Step time.Duration `yaml:"step"` // One send or receive on a session
	Call time.Duration `yaml:"call"` // A whole remote call, retries included
}

// RetryConfig controls retries of transport failures.
type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"` // 1 disables retries
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// RateConfig throttles calls toward a console. Zero disables throttling.
type RateConfig struct {
	PerSecond float64 `yaml:"per_second,omitempty"`
	Burst     int     `yaml:"burst,omitempty"`
}

// PoolConfig bounds concurrent sessions per console.
type PoolConfig struct {
	MaxSessions int `yaml:"max_sessions"`
}

// LogConfig configures the CLI logger.
type LogConfig struct {
	Level  string `yaml:"level" env:"XBDM_LOG_LEVEL"`
	Pretty bool   `yaml:"pretty"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Balancer: "named",
		Etcd: EtcdConfig{
			DialTimeout: 5 * time.Second,
		},
		Timeouts: TimeoutConfig{
			Step: 5 * time.Second,
			Call: 30 * time.Second,
		},
		Retry: RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: 200 * time.Millisecond,
			MaxBackoff:     2 * time.Second,
		},
		Pool: PoolConfig{
			MaxSessions: 4,
		},
		Log: LogConfig{
			Level:  "info",
			Pretty: true,
		},
	}
}
