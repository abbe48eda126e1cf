package deliveryapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/nudgekit/herald/internal/campaign"
	"github.com/nudgekit/herald/internal/logger"
	"github.com/nudgekit/herald/internal/store"
)

// handleCreateCampaign processes POST /api/v1/campaigns.
func (a *API) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req CreateCampaignRequest
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

	var targeting []campaign.Rule
	if len(req.Targeting) > 0 {
		// Validation already parsed this payload; decode into the domain type.
		if err := json.Unmarshal(req.Targeting, &targeting); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, ErrorResponse{
				Code:    "ERR_INVALID_INPUT",
				Message: "Failed to parse targeting rules",
			})
			return
		}
	}

	org := orgFromContext(r.Context())
	c := &campaign.Campaign{
		ID:             uuid.NewString(),
		OrganizationID: org.ID,
		Name:           req.Name,
		Status:         campaign.Status(req.Status),
		TriggerScreen:  req.TriggerScreen,
		Priority:       req.Priority,
		TargetAudience: req.TargetAudience,
		SDKVersionRule: req.SDKVersionRule,
		Segments:       req.Segments,
		DisplayRules:   req.DisplayRules,
		Targeting:      targeting,
		Config:         req.Config,
	}

	if err := a.campaigns.Create(r.Context(), c); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			render.Status(r, http.StatusConflict)
			render.JSON(w, r, ErrorResponse{
				Code:    "ERR_CONFLICT",
				Message: "A campaign with this id already exists",
			})
			return
		}
		log.Error("failed to create campaign in db", slog.Any("error", err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INTERNAL",
			Message: "Failed to create campaign",
		})
		return
	}

	a.invalidateScreens(r.Context(), org.ID, c.TriggerScreen)

	log.Info("campaign created",
		slog.String("campaign_id", c.ID),
		slog.String("screen", c.TriggerScreen))
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, mapCampaignToResponse(c))
}

// handleListCampaigns processes GET /api/v1/campaigns with offset pagination.
func (a *API) handleListCampaigns(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	page, err := parseOptionalInt(r, "page", 1)
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_QUERY_PARAM",
			Message: err.Error(),
		})
		return
	}
	pageSize, err := parseOptionalInt(r, "page_size", 10)
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_QUERY_PARAM",
			Message: err.Error(),
		})
		return
	}

	// Out-of-bounds values are clamped rather than rejected.
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}
	if pageSize > 100 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	org := orgFromContext(r.Context())
	campaigns, totalItems, err := a.campaigns.List(r.Context(), org.ID, pageSize, offset)
	if err != nil {
		log.Error("failed to list campaigns", slog.Any("error", err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INTERNAL",
			Message: "Failed to list campaigns",
		})
		return
	}

	dtos := make([]*CampaignResponse, len(campaigns))
	for i, c := range campaigns {
		dtos[i] = mapCampaignToResponse(c)
	}

	totalPages := 0
	if totalItems > 0 {
		totalPages = int(math.Ceil(float64(totalItems) / float64(pageSize)))
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, PaginatedResponse{
		Data: dtos,
		Pagination: Pagination{
			TotalItems:  totalItems,
			TotalPages:  totalPages,
			CurrentPage: page,
			PageSize:    pageSize,
		},
	})
}

// handleGetCampaign processes GET /api/v1/campaigns/{id}.
func (a *API) handleGetCampaign(w http.ResponseWriter, r *http.Request) {
	org := orgFromContext(r.Context())

	c, err := a.campaigns.GetByID(r.Context(), org.ID, chi.URLParam(r, "id"))
	if err != nil {
		a.renderCampaignLoadError(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, mapCampaignToResponse(c))
}

// handleUpdateCampaign processes PATCH /api/v1/campaigns/{id}. Only fields
// present in the payload change; the cache entries for both the previous and
// the new trigger screen are dropped.
func (a *API) handleUpdateCampaign(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req UpdateCampaignRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		log.Warn("invalid json payload", slog.String("error", err.Error()))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_JSON",
			Message: "Invalid JSON payload: " + err.Error(),
		})
		return
	}
	if errResp := req.Validate(); errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	org := orgFromContext(r.Context())
	c, err := a.campaigns.GetByID(r.Context(), org.ID, chi.URLParam(r, "id"))
	if err != nil {
		a.renderCampaignLoadError(w, r, err)
		return
	}

	previousScreen := c.TriggerScreen
	if errResp := applyCampaignUpdate(c, &req); errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	if err := a.campaigns.Update(r.Context(), c); err != nil {
		log.Error("failed to update campaign", slog.Any("error", err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INTERNAL",
			Message: "Failed to update campaign",
		})
		return
	}

	a.invalidateScreens(r.Context(), org.ID, previousScreen, c.TriggerScreen)

	log.Info("campaign updated", slog.String("campaign_id", c.ID))
	render.Status(r, http.StatusOK)
	render.JSON(w, r, mapCampaignToResponse(c))
}

// handleArchiveCampaign processes DELETE /api/v1/campaigns/{id}. Campaigns
// are archived, never hard-deleted: the event log keeps referencing them.
func (a *API) handleArchiveCampaign(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	org := orgFromContext(r.Context())

	c, err := a.campaigns.GetByID(r.Context(), org.ID, chi.URLParam(r, "id"))
	if err != nil {
		a.renderCampaignLoadError(w, r, err)
		return
	}

	c.Status = campaign.StatusArchived
	if err := a.campaigns.Update(r.Context(), c); err != nil {
		log.Error("failed to archive campaign", slog.Any("error", err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INTERNAL",
			Message: "Failed to archive campaign",
		})
		return
	}

	a.invalidateScreens(r.Context(), org.ID, c.TriggerScreen)

	log.Info("campaign archived", slog.String("campaign_id", c.ID))
	render.NoContent(w, r)
}

// --- Private helpers ---

func (a *API) renderCampaignLoadError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, store.ErrNotFound) {
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_NOT_FOUND",
			Message: "Campaign not found",
		})
		return
	}
	logger.FromContext(r.Context()).Error("failed to load campaign", slog.Any("error", err))
	render.Status(r, http.StatusInternalServerError)
	render.JSON(w, r, ErrorResponse{
		Code:    "ERR_INTERNAL",
		Message: "Failed to load campaign",
	})
}

// applyCampaignUpdate merges the PATCH payload into the stored campaign.
func applyCampaignUpdate(c *campaign.Campaign, req *UpdateCampaignRequest) *ErrorResponse {
	if req.Name != nil {
		c.Name = *req.Name
	}
	if req.Status != nil {
		c.Status = campaign.Status(*req.Status)
	}
	if req.TriggerScreen != nil {
		c.TriggerScreen = *req.TriggerScreen
	}
	if req.Priority != nil {
		c.Priority = *req.Priority
	}
	if req.TargetAudience != nil {
		c.TargetAudience = *req.TargetAudience
	}
	if req.SDKVersionRule != nil {
		c.SDKVersionRule = req.SDKVersionRule
	}
	if req.Segments != nil {
		c.Segments = *req.Segments
	}
	if req.DisplayRules != nil {
		c.DisplayRules = req.DisplayRules
	}
	if req.Targeting != nil {
		var rules []campaign.Rule
		if err := json.Unmarshal(*req.Targeting, &rules); err != nil {
			return &ErrorResponse{
				Code:    "ERR_INVALID_INPUT",
				Message: "Failed to parse targeting rules",
			}
		}
		c.Targeting = rules
	}
	if req.Config != nil {
		c.Config = *req.Config
	}
	return nil
}

// invalidateScreens drops the cached candidate lists touched by a campaign
// mutation. A campaign on ScreenAll is baked into every screen's cached
// list; those entries age out within the cache TTL instead.
func (a *API) invalidateScreens(ctx context.Context, orgID string, screens ...string) {
	seen := make(map[string]struct{}, len(screens))
	for _, screen := range screens {
		if _, dup := seen[screen]; dup || screen == "" {
			continue
		}
		seen[screen] = struct{}{}
		a.cache.Invalidate(ctx, orgID, screen)
	}
}

// parseOptionalInt extracts an integer query parameter, returning the
// default when absent and an error only when present but malformed.
func parseOptionalInt(r *http.Request, key string, defaultValue int) (int, error) {
	valStr := r.URL.Query().Get(key)
	if valStr == "" {
		return defaultValue, nil
	}
	val, err := strconv.Atoi(valStr)
	if err != nil {
		return 0, fmt.Errorf("parameter '%s' must be an integer", key)
	}
	return val, nil
}
