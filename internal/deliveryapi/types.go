// Package deliveryapi implements the REST surface of the nudge service: the
// SDK endpoints (fetch, track, identify, user) and the campaign management
// endpoints. It handles HTTP routing, request decoding, validation, and
// response formatting.
package deliveryapi

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/nudgekit/herald/internal/campaign"
)

// FetchResponse wraps the delivery decision. Data is null when no campaign
// matched; the status code is 200 either way.
type FetchResponse struct {
	Data *CampaignResponse `json:"data"`
}

// CampaignResponse is the campaign resource as returned to clients.
type CampaignResponse struct {
	CampaignID     string                   `json:"campaign_id"`
	Name           string                   `json:"campaign_name"`
	Status         string                   `json:"status"`
	TriggerScreen  string                   `json:"trigger_screen"`
	Priority       int                      `json:"priority"`
	TargetAudience []string                 `json:"target_audience"`
	SDKVersionRule *campaign.SDKVersionRule `json:"sdk_version_rule,omitempty"`
	Segments       []string                 `json:"segments"`
	DisplayRules   *campaign.DisplayRules   `json:"display_rules,omitempty"`
	Targeting      json.RawMessage          `json:"targeting"`
	Config         json.RawMessage          `json:"config,omitempty"`
	Stats          campaign.Stats           `json:"stats"`
	CreatedAt      time.Time                `json:"created_at"`
	UpdatedAt      time.Time                `json:"updated_at"`
}

// mapCampaignToResponse converts the domain model to the API response DTO.
func mapCampaignToResponse(c *campaign.Campaign) *CampaignResponse {
	var targeting json.RawMessage
	if len(c.Targeting) > 0 {
		b, _ := json.Marshal(c.Targeting)
		targeting = b
	} else {
		// Explicit "[]" instead of "null" for empty rule lists.
		targeting = json.RawMessage("[]")
	}

	audience := c.TargetAudience
	if audience == nil {
		audience = []string{}
	}
	segments := c.Segments
	if segments == nil {
		segments = []string{}
	}

	return &CampaignResponse{
		CampaignID:     c.ID,
		Name:           c.Name,
		Status:         string(c.Status),
		TriggerScreen:  c.TriggerScreen,
		Priority:       c.Priority,
		TargetAudience: audience,
		SDKVersionRule: c.SDKVersionRule,
		Segments:       segments,
		DisplayRules:   c.DisplayRules,
		Targeting:      targeting,
		Config:         c.Config,
		Stats:          c.Stats,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
}

// TrackRequest is the payload of POST /api/v1/nudge/track. The SDK has
// shipped both field spellings over time, so both are accepted.
type TrackRequest struct {
	UserID string `json:"userId"`

	// Action names the event; Event is the legacy alias.
	Action string `json:"action,omitempty"`
	Event  string `json:"event,omitempty"`

	// Metadata carries event context; Properties is the legacy alias.
	Metadata   map[string]any `json:"metadata,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
}

// ActionName resolves the event name, preferring the current field.
func (r *TrackRequest) ActionName() string {
	if r.Action != "" {
		return r.Action
	}
	return r.Event
}

// EventMetadata resolves the metadata map, preferring the current field.
func (r *TrackRequest) EventMetadata() map[string]any {
	if r.Metadata != nil {
		return r.Metadata
	}
	return r.Properties
}

// Sanitize trims identifier whitespace in-place.
func (r *TrackRequest) Sanitize() {
	r.UserID = strings.TrimSpace(r.UserID)
	r.Action = strings.TrimSpace(r.Action)
	r.Event = strings.TrimSpace(r.Event)
}

// Validate checks required fields, returning a structured error or nil.
func (r *TrackRequest) Validate() *ErrorResponse {
	if r.ActionName() == "" {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "Action is required",
		}
	}
	if r.UserID == "" {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "UserId is required",
		}
	}
	return nil
}

// IdentifyRequest is the payload of POST /api/v1/nudge/identify.
type IdentifyRequest struct {
	UserID   string         `json:"userId"`
	Name     string         `json:"name,omitempty"`
	Email    string         `json:"email,omitempty"`
	Platform string         `json:"platform,omitempty"`
	Traits   map[string]any `json:"traits,omitempty"`
	Segments []string       `json:"segments,omitempty"`
}

// Sanitize trims identifier whitespace in-place.
func (r *IdentifyRequest) Sanitize() {
	r.UserID = strings.TrimSpace(r.UserID)
	r.Name = strings.TrimSpace(r.Name)
	r.Email = strings.TrimSpace(r.Email)
	r.Platform = strings.TrimSpace(strings.ToLower(r.Platform))
}

// Validate checks required fields, returning a structured error or nil.
func (r *IdentifyRequest) Validate() *ErrorResponse {
	if r.UserID == "" {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "UserId is required",
		}
	}
	return nil
}

// UserResponse is the payload of GET /api/v1/nudge/user.
type UserResponse struct {
	UserID        string           `json:"userId"`
	Name          string           `json:"name,omitempty"`
	Email         string           `json:"email,omitempty"`
	Platform      string           `json:"platform,omitempty"`
	Traits        map[string]any   `json:"traits"`
	Segments      []string         `json:"segments"`
	SessionsCount int64            `json:"sessions_count"`
	FirstSeenAt   time.Time        `json:"first_seen_at"`
	LastSeenAt    time.Time        `json:"last_seen_at"`
	RecentEvents  []UserEventEntry `json:"recent_events"`
}

// UserEventEntry is one row of a user's recent activity.
type UserEventEntry struct {
	EventType  string         `json:"event_type"`
	CampaignID string         `json:"campaign_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// CreateCampaignRequest defines the payload for creating a campaign.
type CreateCampaignRequest struct {
	Name           string                   `json:"campaign_name"`
	Status         string                   `json:"status,omitempty"`
	TriggerScreen  string                   `json:"trigger_screen,omitempty"`
	Priority       int                      `json:"priority,omitempty"`
	TargetAudience []string                 `json:"target_audience,omitempty"`
	SDKVersionRule *campaign.SDKVersionRule `json:"sdk_version_rule,omitempty"`
	Segments       []string                 `json:"segments,omitempty"`
	DisplayRules   *campaign.DisplayRules   `json:"display_rules,omitempty"`
	Targeting      json.RawMessage          `json:"targeting,omitempty"`
	Config         json.RawMessage          `json:"config,omitempty"`
}

// Sanitize normalizes input data in-place and applies creation defaults.
func (r *CreateCampaignRequest) Sanitize() {
	r.Name = strings.TrimSpace(r.Name)
	r.TriggerScreen = strings.TrimSpace(r.TriggerScreen)
	if r.TriggerScreen == "" {
		r.TriggerScreen = campaign.ScreenAll
	}
	if r.Status == "" {
		r.Status = string(campaign.StatusDraft)
	}
}

// Validate checks the request against business rules.
func (r *CreateCampaignRequest) Validate() *ErrorResponse {
	if r.Name == "" {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "Campaign name is required",
		}
	}
	if len(r.Name) > 255 {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "Campaign name must be less than 255 characters",
		}
	}
	if !campaign.Status(r.Status).Valid() {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "Status must be one of: active, inactive, draft, archived",
		}
	}
	if err := validateTargeting(r.Targeting); err != nil {
		return err
	}
	return nil
}

// UpdateCampaignRequest defines the payload for partial updates (PATCH).
// Pointers distinguish "field omitted" (keep stored value) from an explicit
// update to a zero value.
type UpdateCampaignRequest struct {
	Name           *string                  `json:"campaign_name,omitempty"`
	Status         *string                  `json:"status,omitempty"`
	TriggerScreen  *string                  `json:"trigger_screen,omitempty"`
	Priority       *int                     `json:"priority,omitempty"`
	TargetAudience *[]string                `json:"target_audience,omitempty"`
	SDKVersionRule *campaign.SDKVersionRule `json:"sdk_version_rule,omitempty"`
	Segments       *[]string                `json:"segments,omitempty"`
	DisplayRules   *campaign.DisplayRules   `json:"display_rules,omitempty"`
	Targeting      *json.RawMessage         `json:"targeting,omitempty"`
	Config         *json.RawMessage         `json:"config,omitempty"`
}

// Validate checks the provided fields against business rules.
func (r *UpdateCampaignRequest) Validate() *ErrorResponse {
	if r.Name != nil && strings.TrimSpace(*r.Name) == "" {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "Campaign name cannot be empty",
		}
	}
	if r.Status != nil && !campaign.Status(*r.Status).Valid() {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "Status must be one of: active, inactive, draft, archived",
		}
	}
	if r.Targeting != nil {
		if err := validateTargeting(*r.Targeting); err != nil {
			return err
		}
	}
	return nil
}

// validateTargeting checks that a targeting payload decodes to a rule list.
func validateTargeting(raw json.RawMessage) *ErrorResponse {
	if len(raw) == 0 {
		return nil
	}
	var rules []campaign.Rule
	if err := json.Unmarshal(raw, &rules); err != nil {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "Targeting must be a valid JSON array of rules",
		}
	}
	return nil
}

// PaginatedResponse is a standard wrapper for list endpoints.
type PaginatedResponse struct {
	Data       interface{} `json:"data"`
	Pagination Pagination  `json:"pagination"`
}

// Pagination metadata for the frontend pager.
type Pagination struct {
	TotalItems  int64 `json:"total_items"`
	TotalPages  int   `json:"total_pages"`
	CurrentPage int   `json:"current_page"`
	PageSize    int   `json:"page_size"`
}

// ErrorResponse represents a standard structured API error.
type ErrorResponse struct {
	// Code is a machine-readable error code (e.g., "ERR_INVALID_INPUT").
	Code string `json:"code"`

	// Message is a human-readable description of the error.
	Message string `json:"message"`

	// Details provides optional granular validation errors.
	Details []ErrorDetail `json:"details,omitempty"`
}

// ErrorDetail provides context about specific field validation failures.
type ErrorDetail struct {
	Field string `json:"field"`
	Issue string `json:"issue"`
}
