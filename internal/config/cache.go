package config

import (
	"fmt"
	"time"
)

// CacheConfig tunes the delivery engine's read path.
type CacheConfig struct {
	// CampaignTTL bounds how long a cached per-screen campaign list may
	// be served before a store refresh. The reference deployment uses 600s;
	// a deactivated campaign can keep being served for at most this long
	// unless the write path invalidates the key explicitly.
	CampaignTTL time.Duration `envconfig:"CAMPAIGN_TTL" default:"600s"`

	// SessionWindow is the fallback session length used by the session cap
	// when the user has no recorded session_start event.
	SessionWindow time.Duration `envconfig:"SESSION_WINDOW" default:"30m"`
}

// Validate checks CacheConfig fields for correctness.
func (c *CacheConfig) Validate() error {
	if c.CampaignTTL <= 0 {
		return fmt.Errorf("campaign cache TTL must be positive, got %s", c.CampaignTTL)
	}
	if c.SessionWindow <= 0 {
		return fmt.Errorf("session window must be positive, got %s", c.SessionWindow)
	}
	return nil
}
