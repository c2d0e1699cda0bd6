package config

import (
	"fmt"
	"strings"

	"xbdm-loader/loadbalance"
	"xbdm-loader/logging"
)

// ValidationError represents a single validation error.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// MultiValidationError represents multiple validation errors.
type MultiValidationError struct {
	Errors []ValidationError
}

// Error implements the error interface.
func (e *MultiValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("validation failed with %d errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		builder.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return builder.String()
}

// Validate checks the configuration for values the loader cannot run with.
func (c *Config) Validate() error {
	var errors []ValidationError
	add := func(field, message string) {
		errors = append(errors, ValidationError{Field: field, Message: message})
	}

	seen := map[string]bool{}
	for i, console := range c.Consoles {
		field := fmt.Sprintf("consoles[%d]", i)
		if console.Name == "" {
			add(field+".name", "name is required")
		}
		if console.Addr == "" {
			add(field+".addr", "addr is required")
		}
		if console.Weight < 0 {
			add(field+".weight", "weight must not be negative")
		}
		key := strings.ToLower(console.Name)
		if console.Name != "" && seen[key] {
			add(field+".name", fmt.Sprintf("duplicate console %q", console.Name))
		}
		seen[key] = true
	}

	if _, err := loadbalance.New(c.Balancer, c.Console); err != nil {
		add("balancer", err.Error())
	}
	if c.Timeouts.Step <= 0 {
		add("timeouts.step", "must be positive")
	}
	if c.Timeouts.Call <= 0 {
		add("timeouts.call", "must be positive")
	}
	if len(c.Etcd.Endpoints) > 0 && c.Etcd.DialTimeout <= 0 {
		add("etcd.dial_timeout", "must be positive when endpoints are set")
	}
	if c.Retry.MaxAttempts < 1 {
		add("retry.max_attempts", "must be at least 1")
	}
	if c.Retry.MaxAttempts > 1 && c.Retry.InitialBackoff <= 0 {
		add("retry.initial_backoff", "must be positive when retries are enabled")
	}
	if c.Retry.MaxBackoff < 0 {
		add("retry.max_backoff", "must not be negative")
	}
	if c.Rate.PerSecond < 0 {
		add("rate.per_second", "must not be negative")
	}
	if c.Rate.PerSecond > 0 && c.Rate.Burst < 1 {
		add("rate.burst", "must be at least 1 when a rate is set")
	}
	if c.Pool.MaxSessions < 1 {
		add("pool.max_sessions", "must be at least 1")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		add("log.level", err.Error())
	}

	if len(errors) > 0 {
		return &MultiValidationError{Errors: errors}
	}
	return nil
}
