package authflux

import (
	"errors"
	"time"
)

// Config defines a public type used by authflux APIs.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	Token   TokenConfig
	Audit   AuditConfig
	Metrics MetricsConfig
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig defines a public type used by authflux APIs.
//
// TokenConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type TokenConfig struct {
	// AccessTTL is the lifetime of issued access tokens.
	AccessTTL time.Duration
	// RefreshTTL is the lifetime of issued refresh tokens. Rotation issues the
	// successor with a fresh full TTL.
	RefreshTTL time.Duration
	// RetentionWindow controls how long rotated and revoked rows are kept past
	// their expiry for breach forensics. Zero keeps rows forever. Only the
	// Redis store enforces it; the Postgres table is append-mostly by design.
	RetentionWindow time.Duration
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig defines a public type used by authflux APIs.
//
// AuditConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	// DropIfFull drops events instead of blocking when the buffer is full.
	// Dropped counts are observable through Authority.AuditDropped.
	DropIfFull bool
}

/*
====================================
METRICS CONFIG
====================================
*/

// MetricsConfig defines a public type used by authflux APIs.
//
// MetricsConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns a Config with production-leaning defaults: one hour
// access tokens, seven day refresh tokens, audit and metrics enabled.
func DefaultConfig() Config {
	cfg := Config{
		Audit:   AuditConfig{Enabled: true, BufferSize: 256, DropIfFull: true},
		Metrics: MetricsConfig{Enabled: true},
	}
	cfg.Normalize()
	return cfg
}

// Normalize fills zero-valued fields with defaults. It is called by New and
// is safe to call repeatedly.
func (c *Config) Normalize() {
	if c.Token.AccessTTL == 0 {
		c.Token.AccessTTL = time.Hour
	}
	if c.Token.RefreshTTL == 0 {
		c.Token.RefreshTTL = 7 * 24 * time.Hour
	}
	if c.Token.RetentionWindow == 0 {
		c.Token.RetentionWindow = 30 * 24 * time.Hour
	}
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		c.Audit.BufferSize = 256
	}
}

func (c *Config) validate() error {
	if c.Token.AccessTTL <= 0 {
		return errors.New("Token AccessTTL must be > 0")
	}
	if c.Token.RefreshTTL <= 0 {
		return errors.New("Token RefreshTTL must be > 0")
	}
	if c.Token.RefreshTTL < c.Token.AccessTTL {
		return errors.New("Token RefreshTTL must be >= AccessTTL")
	}
	if c.Token.RetentionWindow < 0 {
		return errors.New("Token RetentionWindow must be >= 0")
	}
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when Audit is enabled")
	}
	return nil
}
