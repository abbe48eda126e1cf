package config

import (
	"fmt"
	"time"
)

// ServerConfig configures the public HTTP API server (SDK delivery routes
// plus the campaign management routes).
type ServerConfig struct {
	Port              string        `envconfig:"PORT" default:"8080"`
	Host              string        `envconfig:"HOST" default:"0.0.0.0"`
	ReadTimeout       time.Duration `envconfig:"READ_TIMEOUT" default:"10s"`
	WriteTimeout      time.Duration `envconfig:"WRITE_TIMEOUT" default:"10s"`
	ReadHeaderTimeout time.Duration `envconfig:"READ_HEADER_TIMEOUT" default:"5s"`
	IdleTimeout       time.Duration `envconfig:"IDLE_TIMEOUT" default:"60s"`
	MaxHeaderBytes    int           `envconfig:"MAX_HEADER_BYTES" default:"524288" validate:"min=1"` // 512KB

	// AuthCacheSize bounds the in-memory API-key lookup cache.
	AuthCacheSize int `envconfig:"AUTH_CACHE_SIZE" default:"1024" validate:"min=1"`

	// AuthCacheTTL bounds how long a key -> organization resolution may
	// be reused before hitting the store again (key revocation latency).
	AuthCacheTTL time.Duration `envconfig:"AUTH_CACHE_TTL" default:"1m"`
}

// Validate performs validation on the ServerConfig.
func (c *ServerConfig) Validate() error {
	if err := validatePort(c.Port, "server"); err != nil {
		return err
	}

	if err := validateHost(c.Host, "server"); err != nil {
		return err
	}

	if c.AuthCacheTTL <= 0 {
		return fmt.Errorf("auth cache TTL must be positive, got %s", c.AuthCacheTTL)
	}

	return nil
}

// Addr returns the host:port the server binds to.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}
