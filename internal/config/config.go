// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() to build a Config with defaults.
// - Load layers a YAML file and SWAPBRIDGE_* environment variables on top.
// - Validation failures wrap ErrInvalidConfig and name the offending key.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/okian/swapbridge/internal/address"
	"github.com/okian/swapbridge/internal/domain/model"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":5000".
	Addr string `koanf:"addr"`

	// Project names this bridge in the reduction service's extractor config.
	Project string `koanf:"project"`

	// Local* describe how the reduction service reaches this bridge.
	LocalHost   string `koanf:"local_host"`
	LocalPort   int    `koanf:"local_port"`
	LocalScheme string `koanf:"local_scheme"`

	// Remote* locate the reduction service.
	RemoteHost   string `koanf:"remote_host"`
	RemotePort   int    `koanf:"remote_port"`
	RemoteScheme string `koanf:"remote_scheme"`

	WorkflowID     int64  `koanf:"workflow_id"`
	ReducerName    string `koanf:"reducer_name"`
	ReductionField string `koanf:"reduction_field"`

	// InboundUser and InboundSecret are the basic credentials the reduction
	// service must present.
	InboundUser   string `koanf:"inbound_user"`
	InboundSecret string `koanf:"inbound_secret"`
	AuthRealm     string `koanf:"auth_realm"`

	// Auth* configure the outbound token login.
	AuthEndpoint    string `koanf:"auth_endpoint"`
	AuthClientID    string `koanf:"auth_client_id"`
	AuthUsername    string `koanf:"auth_username"`
	AuthPassword    string `koanf:"auth_password"`
	AuthInteractive bool   `koanf:"auth_interactive"`

	// QueueSize bounds the work queue in front of the scoring worker.
	QueueSize int `koanf:"queue_size"`

	NotifyEnabled   bool `koanf:"notify_enabled"`
	NotifyTimeoutMS int  `koanf:"notify_timeout_ms"`
	NotifyRetries   int  `koanf:"notify_retries"`
	NotifyBackoffMS int  `koanf:"notify_backoff_ms"`

	// ArchivePath is the SQLite classification archive; empty disables it.
	ArchivePath     string `koanf:"archive_path"`
	RegisterOnStart bool   `koanf:"register_on_start"`

	ScoringPrior float64 `koanf:"scoring_prior"`
	RetireLow    float64 `koanf:"retire_low"`
	RetireHigh   float64 `koanf:"retire_high"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:        "info",
		Addr:            ":5000",
		LocalHost:       "localhost",
		LocalPort:       5000,
		LocalScheme:     "https",
		RemoteHost:      "caesar.zooniverse.org",
		RemotePort:      443,
		RemoteScheme:    "https",
		ReducerName:     "swap",
		ReductionField:  "swap_score",
		InboundUser:     "caesar",
		AuthRealm:       "swap",
		AuthEndpoint:    "https://panoptes.zooniverse.org/oauth/token",
		QueueSize:       10_000,
		NotifyEnabled:   true,
		NotifyTimeoutMS: 10_000,
		NotifyRetries:   0,
		NotifyBackoffMS: 500,
		ScoringPrior:    0.12,
		RetireLow:       0.005,
		RetireHigh:      0.99,
	}
}

// Validate reports the first setting that would stop the bridge from running.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Project) == "":
		return fmt.Errorf("%w: project must not be empty", ErrInvalidConfig)
	case strings.TrimSpace(c.Addr) == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.QueueSize <= 0:
		return fmt.Errorf("%w: queue_size must be positive", ErrInvalidConfig)
	case c.NotifyRetries < 0:
		return fmt.Errorf("%w: notify_retries must not be negative", ErrInvalidConfig)
	case c.ScoringPrior <= 0 || c.ScoringPrior >= 1:
		return fmt.Errorf("%w: scoring_prior must be in (0, 1)", ErrInvalidConfig)
	case c.RetireLow <= 0 || c.RetireHigh >= 1 || c.RetireLow >= c.RetireHigh:
		return fmt.Errorf("%w: retire_low and retire_high must satisfy 0 < low < high < 1", ErrInvalidConfig)
	}
	if c.NotifyEnabled {
		switch {
		case c.WorkflowID <= 0:
			return fmt.Errorf("%w: workflow_id must be positive when notify_enabled", ErrInvalidConfig)
		case strings.TrimSpace(c.ReducerName) == "":
			return fmt.Errorf("%w: reducer_name must not be empty when notify_enabled", ErrInvalidConfig)
		case strings.TrimSpace(c.ReductionField) == "":
			return fmt.Errorf("%w: reduction_field must not be empty when notify_enabled", ErrInvalidConfig)
		}
	}
	return nil
}

// AddressParams maps the config onto the address resolver's inputs.
func (c *Config) AddressParams() address.Params {
	return address.Params{
		RemoteScheme: c.RemoteScheme,
		RemoteHost:   c.RemoteHost,
		RemotePort:   c.RemotePort,
		WorkflowID:   c.WorkflowID,
		ReducerName:  c.ReducerName,
		LocalScheme:  c.LocalScheme,
		LocalHost:    c.LocalHost,
		LocalPort:    c.LocalPort,
		LocalUser:    c.InboundUser,
		LocalSecret:  c.InboundSecret,
	}
}

// InboundCredential is the pair the credential gate accepts.
func (c *Config) InboundCredential() model.Credential {
	return model.Credential{Username: c.InboundUser, Secret: c.InboundSecret}
}

// OutboundCredential is the configured login for the token broker.
func (c *Config) OutboundCredential() model.Credential {
	return model.Credential{Username: c.AuthUsername, Secret: c.AuthPassword}
}

// NotifyTimeout returns NotifyTimeoutMS as a duration.
func (c *Config) NotifyTimeout() time.Duration {
	return time.Duration(c.NotifyTimeoutMS) * time.Millisecond
}

// NotifyBackoff returns NotifyBackoffMS as a duration.
func (c *Config) NotifyBackoff() time.Duration {
	return time.Duration(c.NotifyBackoffMS) * time.Millisecond
}
