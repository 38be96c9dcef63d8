// Package config provides server configuration loaded from environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const logPrefix = "config:LoadConfig"

// Config holds rpcmesh configuration.
type Config struct {
	// COMMS: connect to standalone NATS at COMMSURL.
	COMMSURL  string `envconfig:"COMMS_URL" default:"nats://127.0.0.1:4222"`
	COMMSName string `envconfig:"SERVICE_NAME" default:"rpcmesh"`

	// Call transport
	Subject           string        `envconfig:"RPC_SUBJECT" default:"rpc.default"`
	QueueGroup        string        `envconfig:"RPC_QUEUE_GROUP"`
	RequestTimeout    time.Duration `envconfig:"RPC_REQUEST_TIMEOUT" default:"25s"`
	CallTimeout       time.Duration `envconfig:"RPC_CALL_TIMEOUT" default:"30s"`
	MaxConcurrent     int           `envconfig:"RPC_MAX_CONCURRENT_CALLS" default:"64"`
	DrainTimeout      time.Duration `envconfig:"RPC_DRAIN_TIMEOUT" default:"0s"`
	DrainPollInterval time.Duration `envconfig:"RPC_DRAIN_POLL_INTERVAL" default:"1s"`

	// Call events; empty disables publishing over COMMS.
	EventSubject string `envconfig:"RPC_EVENT_SUBJECT" default:"rpc.calls"`

	// Database; empty DATABASE_URL disables the call journal.
	DatabaseURL      string        `envconfig:"DATABASE_URL"`
	EnsureDatabase   bool          `envconfig:"ENSURE_DATABASE" default:"false"`
	RunMigrations    bool          `envconfig:"RUN_MIGRATIONS" default:"false"`
	MigrationPath    string        `envconfig:"MIGRATION_PATH" default:"migrations"`
	JournalRetention time.Duration `envconfig:"RPC_JOURNAL_RETENTION" default:"0s"`

	// HTTP transport (HTTP_ADDR preferred, e.g. "0.0.0.0:8080"); HTTP_PORT 0 disables it.
	HTTPAddr string `envconfig:"HTTP_ADDR"`
	HTTPPort int    `envconfig:"HTTP_PORT" default:"8080"`

	// Logging
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// HTTPListenAddr returns the HTTP listen address, or "" when HTTP is disabled.
func (c *Config) HTTPListenAddr() string {
	if c.HTTPAddr != "" {
		return c.HTTPAddr
	}
	if c.HTTPPort <= 0 {
		return ""
	}
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// JournalEnabled reports whether calls are recorded in the database.
func (c *Config) JournalEnabled() bool {
	return c.DatabaseURL != ""
}

// ValidateForServe checks required config when running the server.
func (c *Config) ValidateForServe() error {
	if c.COMMSURL == "" {
		return fmt.Errorf("%s - COMMS_URL is required for serve", logPrefix)
	}
	if strings.TrimSpace(c.Subject) == "" || strings.ContainsAny(c.Subject, " *>") {
		return fmt.Errorf("%s - RPC_SUBJECT %q is not a literal subject", logPrefix, c.Subject)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("%s - RPC_REQUEST_TIMEOUT must be positive", logPrefix)
	}
	if c.CallTimeout <= 0 {
		return fmt.Errorf("%s - RPC_CALL_TIMEOUT must be positive", logPrefix)
	}
	if c.MaxConcurrent <= 0 {
		return fmt.Errorf("%s - RPC_MAX_CONCURRENT_CALLS must be positive", logPrefix)
	}
	if c.DrainTimeout < 0 {
		return fmt.Errorf("%s - RPC_DRAIN_TIMEOUT must not be negative", logPrefix)
	}
	if c.DrainPollInterval <= 0 {
		return fmt.Errorf("%s - RPC_DRAIN_POLL_INTERVAL must be positive", logPrefix)
	}
	if c.RunMigrations && !c.JournalEnabled() {
		return fmt.Errorf("%s - RUN_MIGRATIONS requires DATABASE_URL", logPrefix)
	}
	return nil
}

// ValidateForDB checks required config when running DB-dependent commands (migrate).
func (c *Config) ValidateForDB() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("%s - DATABASE_URL is required", logPrefix)
	}
	return nil
}
