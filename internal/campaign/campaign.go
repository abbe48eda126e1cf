// Package campaign defines the domain model for in-app nudge campaigns.
// These types mirror the 'campaigns' table in PostgreSQL and the JSON
// documents stored in the Redis cache, so they are shared by the store,
// the cache, and the delivery engine.
package campaign

import (
	"encoding/json"
	"time"
)

// ScreenAll is the sentinel trigger screen meaning "show on every screen".
const ScreenAll = "all"

// Status represents the lifecycle state of a campaign.
// Only StatusActive campaigns are eligible for delivery.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusDraft    Status = "draft"
	StatusArchived Status = "archived"
)

// Valid reports whether s is one of the known lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusDraft, StatusArchived:
		return true
	}
	return false
}

// Well-known event types recorded by the SDK.
// The delivery engine only interprets these two; everything else is an
// opaque custom event usable in 'event' targeting rules.
const (
	EventImpression   = "impression"
	EventClick        = "click"
	EventConversion   = "conversion"
	EventSessionStart = "session_start"
)

// SDKVersionRule restricts a campaign to SDK builds matching a version
// predicate. Versions are compared lexically, matching the SDK contract.
type SDKVersionRule struct {
	// Operator is one of "equals", "greater_than", "less_than".
	Operator string `json:"operator"`
	Version  string `json:"version"`
}

// Matches reports whether the caller-supplied SDK version satisfies the rule.
// An empty caller version means the filter does not apply (returns true):
// older SDKs that do not report a version must keep receiving campaigns.
func (r *SDKVersionRule) Matches(version string) bool {
	if r == nil || r.Version == "" || version == "" {
		return true
	}
	switch r.Operator {
	case "equals":
		return version == r.Version
	case "greater_than":
		return version > r.Version
	case "less_than":
		return version < r.Version
	}
	// Unknown operators never exclude a campaign.
	return true
}

// DisplayRules caps how often a single user may see a campaign.
// A zero cap means the corresponding limit is not configured.
type DisplayRules struct {
	// FrequencyCap is the maximum lifetime impressions per user.
	FrequencyCap int `json:"frequency_cap,omitempty"`

	// SessionCap is the maximum impressions per user within one session
	// window (delimited by session_start events).
	SessionCap int `json:"session_cap,omitempty"`
}

// Stats holds denormalized delivery counters, incremented by the track
// endpoint. They are informational only; suppression uses the event log.
type Stats struct {
	Impressions int64 `json:"impressions"`
	Clicks      int64 `json:"clicks"`
	Conversions int64 `json:"conversions"`
}

// Campaign is a configured piece of in-app content with targeting and
// priority. It is read-only to the delivery engine.
type Campaign struct {
	// ID is the public campaign identifier (server-generated UUID).
	ID string `json:"campaign_id"`

	// OrganizationID scopes the campaign to a single tenant.
	OrganizationID string `json:"organization_id"`

	// Name is the human-readable campaign label.
	Name string `json:"campaign_name"`

	Status Status `json:"status"`

	// TriggerScreen is the screen this campaign targets, or ScreenAll.
	TriggerScreen string `json:"trigger_screen"`

	// Priority orders candidates; higher wins.
	Priority int `json:"priority"`

	// TargetAudience lists allowed platforms (e.g. "ios", "android").
	// Empty means no platform restriction.
	TargetAudience []string `json:"target_audience,omitempty"`

	SDKVersionRule *SDKVersionRule `json:"sdk_version_rule,omitempty"`

	// Segments lists segment ids the user must intersect with.
	// Empty means no segment restriction.
	Segments []string `json:"segments,omitempty"`

	DisplayRules *DisplayRules `json:"display_rules,omitempty"`

	// Targeting is the ordered rule list, AND-combined at the top level.
	Targeting []Rule `json:"targeting,omitempty"`

	// Config carries the rendering payload (modal/banner layout, layers).
	// The engine never inspects it; it is passed through to the SDK.
	Config json.RawMessage `json:"config,omitempty"`

	Stats Stats `json:"stats"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MatchesScreen reports whether the campaign may appear on the given screen.
func (c *Campaign) MatchesScreen(screen string) bool {
	return c.TriggerScreen == screen || c.TriggerScreen == ScreenAll
}

// AllowsPlatform reports whether the caller platform passes the audience
// filter. An empty audience list imposes no restriction; an unrestricted
// campaign also matches callers that did not report a platform.
func (c *Campaign) AllowsPlatform(platform string) bool {
	if len(c.TargetAudience) == 0 {
		return true
	}
	if platform == "" {
		return false
	}
	for _, p := range c.TargetAudience {
		if p == platform {
			return true
		}
	}
	return false
}
