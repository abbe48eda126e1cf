package deliveryapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/render"

	"github.com/nudgekit/herald/internal/campaign"
	"github.com/nudgekit/herald/internal/delivery"
	"github.com/nudgekit/herald/internal/logger"
	"github.com/nudgekit/herald/internal/observability"
	"github.com/nudgekit/herald/internal/store"
)

// handleFetch processes GET /api/v1/nudge/fetch, the SDK's delivery request.
//
// The SDK calls this on every screen view, so the contract is deliberately
// forgiving: the only client error is a missing screenName. Everything the
// engine cannot answer — including its own dependencies being down — comes
// back as a successful response with a null nudge.
func (a *API) handleFetch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	screen := strings.TrimSpace(q.Get("screenName"))
	if screen == "" {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "screenName is required",
		})
		return
	}

	org := orgFromContext(r.Context())
	match := a.engine.Deliver(r.Context(), delivery.Request{
		OrganizationID: org.ID,
		UserID:         strings.TrimSpace(q.Get("userId")),
		Screen:         screen,
		Platform:       strings.ToLower(strings.TrimSpace(q.Get("platform"))),
		SDKVersion:     strings.TrimSpace(q.Get("sdkVersion")),
	})

	resp := FetchResponse{}
	if match != nil {
		resp.Data = mapCampaignToResponse(match)
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, resp)
}

// handleTrack processes POST /api/v1/nudge/track: appends one event to the
// log and, for campaign-bound impression/click/conversion events, bumps the
// campaign's denormalized counters.
func (a *API) handleTrack(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req TrackRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		log.Warn("invalid json payload", slog.String("error", err.Error()))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_JSON",
			Message: "Invalid JSON payload: " + err.Error(),
		})
		return
	}

	req.Sanitize()
	if errResp := req.Validate(); errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	org := orgFromContext(r.Context())
	action := req.ActionName()
	metadata := req.EventMetadata()

	event := &store.Event{
		OrganizationID: org.ID,
		UserID:         req.UserID,
		CampaignID:     campaignIDFromMetadata(metadata),
		EventType:      action,
		Metadata:       metadata,
	}

	if err := a.events.Insert(r.Context(), event); err != nil {
		log.Error("failed to record event", slog.Any("error", err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INTERNAL",
			Message: "Failed to record event",
		})
		return
	}

	observability.EventsTrackedTotal.WithLabelValues(metricEventType(action)).Inc()

	// Stats counters are informational; a failed bump must not fail the
	// track call the SDK already fired and forgot.
	if event.CampaignID != "" && isStatEvent(action) {
		if err := a.campaigns.IncrementStat(r.Context(), org.ID, event.CampaignID, action); err != nil {
			log.Warn("failed to bump campaign stats",
				slog.String("campaign_id", event.CampaignID),
				slog.Any("error", err))
		}
	}

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, map[string]string{"status": "accepted"})
}

// handleIdentify processes POST /api/v1/nudge/identify: upserts the profile
// and counts the call as the start of a session.
func (a *API) handleIdentify(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req IdentifyRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		log.Warn("invalid json payload", slog.String("error", err.Error()))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_JSON",
			Message: "Invalid JSON payload: " + err.Error(),
		})
		return
	}

	req.Sanitize()
	if errResp := req.Validate(); errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	org := orgFromContext(r.Context())
	user := &store.EndUser{
		OrganizationID: org.ID,
		UserID:         req.UserID,
		Name:           req.Name,
		Email:          req.Email,
		Platform:       req.Platform,
		Traits:         req.Traits,
		Segments:       req.Segments,
	}

	if err := a.users.Upsert(r.Context(), user); err != nil {
		log.Error("failed to upsert user", slog.Any("error", err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INTERNAL",
			Message: "Failed to store user profile",
		})
		return
	}
	if err := a.users.BumpSessions(r.Context(), org.ID, req.UserID); err != nil {
		// The profile is stored; losing one session tick is not worth a 500.
		log.Warn("failed to bump session counter", slog.Any("error", err))
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, mapUserToResponse(user, nil))
}

// handleGetUser processes GET /api/v1/nudge/user: profile plus recent activity.
func (a *API) handleGetUser(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	userID := strings.TrimSpace(r.URL.Query().Get("userId"))
	if userID == "" {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "userId is required",
		})
		return
	}

	org := orgFromContext(r.Context())
	user, err := a.users.Get(r.Context(), org.ID, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, ErrorResponse{
				Code:    "ERR_NOT_FOUND",
				Message: "User not found",
			})
			return
		}
		log.Error("failed to load user", slog.Any("error", err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INTERNAL",
			Message: "Failed to load user",
		})
		return
	}

	events, err := a.events.ListRecent(r.Context(), org.ID, userID, 50)
	if err != nil {
		// The profile is the payload; activity history is best effort.
		log.Warn("failed to load recent events", slog.Any("error", err))
		events = nil
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, mapUserToResponse(user, events))
}

// --- Private helpers ---

// campaignIDFromMetadata extracts the campaign reference an SDK event may
// carry. Both spellings have shipped.
func campaignIDFromMetadata(metadata map[string]any) string {
	for _, key := range []string{"nudgeId", "campaignId"} {
		if v, ok := metadata[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// isStatEvent reports whether the action maps to a denormalized counter.
func isStatEvent(action string) bool {
	switch action {
	case campaign.EventImpression, campaign.EventClick, campaign.EventConversion:
		return true
	}
	return false
}

// metricEventType collapses arbitrary action names so the metric label set
// stays bounded.
func metricEventType(action string) string {
	switch action {
	case campaign.EventImpression, campaign.EventClick, campaign.EventConversion, campaign.EventSessionStart:
		return action
	}
	return "custom"
}

func mapUserToResponse(u *store.EndUser, events []*store.Event) UserResponse {
	traits := u.Traits
	if traits == nil {
		traits = map[string]any{}
	}
	segments := u.Segments
	if segments == nil {
		segments = []string{}
	}

	entries := make([]UserEventEntry, len(events))
	for i, e := range events {
		entries[i] = UserEventEntry{
			EventType:  e.EventType,
			CampaignID: e.CampaignID,
			Metadata:   e.Metadata,
			OccurredAt: e.OccurredAt,
		}
	}

	return UserResponse{
		UserID:        u.UserID,
		Name:          u.Name,
		Email:         u.Email,
		Platform:      u.Platform,
		Traits:        traits,
		Segments:      segments,
		SessionsCount: u.SessionsCount,
		FirstSeenAt:   u.FirstSeenAt,
		LastSeenAt:    u.LastSeenAt,
		RecentEvents:  entries,
	}
}
