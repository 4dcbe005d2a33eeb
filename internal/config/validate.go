// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ValidationError represents a single configuration validation failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// HasErrors reports whether there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validate checks c for the conditions that must fail the process at
// startup rather than surface later as a runtime error.
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors

	if c.SchemaVersion == "" {
		errs = append(errs, ValidationError{Field: "schema_version", Message: "is required"})
	}

	if c.SyncIntervalSeconds < 1 {
		errs = append(errs, ValidationError{
			Field:   "sync_interval_seconds",
			Message: fmt.Sprintf("must be >= 1, got %d", c.SyncIntervalSeconds),
		})
	}

	errs = append(errs, c.validateLAPI()...)
	errs = append(errs, c.validateSIEM()...)
	errs = append(errs, c.validateClusterSink()...)

	return errs
}

func (c *Config) validateLAPI() ValidationErrors {
	var errs ValidationErrors
	if c.LAPI == nil {
		return errs
	}

	if c.LAPI.URL == "" {
		errs = append(errs, ValidationError{Field: "lapi.url", Message: "is required"})
	}
	if c.LAPI.APIKeyEnv == "" {
		errs = append(errs, ValidationError{Field: "lapi.api_key_env", Message: "is required"})
	}

	d, err := time.ParseDuration(c.LAPI.PollInterval)
	if err != nil {
		errs = append(errs, ValidationError{
			Field:   "lapi.poll_interval",
			Message: fmt.Sprintf("invalid duration %q: %v", c.LAPI.PollInterval, err),
		})
	} else if d < 10*time.Second {
		errs = append(errs, ValidationError{
			Field:   "lapi.poll_interval",
			Message: "must be at least 10s",
		})
	}

	return errs
}

func (c *Config) validateSIEM() ValidationErrors {
	var errs ValidationErrors
	if c.SIEM == nil {
		return errs
	}

	if c.SIEM.URL == "" {
		errs = append(errs, ValidationError{Field: "siem.url", Message: "is required"})
	}
	if c.SIEM.Username == "" {
		errs = append(errs, ValidationError{Field: "siem.username", Message: "is required"})
	}
	if c.SIEM.PasswordEnv == "" {
		errs = append(errs, ValidationError{Field: "siem.password_env", Message: "is required"})
	}

	return errs
}

func (c *Config) validateClusterSink() ValidationErrors {
	var errs ValidationErrors
	if c.ClusterSink == nil {
		return errs
	}

	if c.ClusterSink.BaseURL == "" {
		errs = append(errs, ValidationError{Field: "cluster_sink.base_url", Message: "is required"})
	}
	if c.ClusterSink.TokenID == "" {
		errs = append(errs, ValidationError{Field: "cluster_sink.token_id", Message: "is required"})
	}
	if c.ClusterSink.TokenSecretEnv == "" {
		errs = append(errs, ValidationError{Field: "cluster_sink.token_secret_env", Message: "is required"})
	}

	return errs
}

// isValidPort reports whether s is a decimal port number in 1-65535.
func isValidPort(s string) bool {
	n, err := strconv.Atoi(s)
	return err == nil && n > 0 && n <= 65535
}
