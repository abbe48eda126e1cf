// Package delivery implements the campaign delivery engine: given a tenant,
// a user, and the screen being rendered, it picks the single highest-priority
// campaign the user is eligible to see, or nothing.
//
// The engine sits behind a strict silent-fail contract: a broken cache, an
// unreachable database, or a panic anywhere below must never surface as an
// error to the SDK. The nudge is decoration on someone else's app; the
// degraded answer is always "no nudge".
package delivery

import (
	"context"
	"log/slog"
	"time"

	"github.com/nudgekit/herald/internal/cache"
	"github.com/nudgekit/herald/internal/campaign"
	"github.com/nudgekit/herald/internal/observability"
	"github.com/nudgekit/herald/internal/profile"
	"github.com/nudgekit/herald/internal/ruleengine"
	"github.com/nudgekit/herald/internal/store"
	"github.com/nudgekit/herald/internal/suppression"
	"github.com/nudgekit/herald/internal/validation"
)

// Request identifies one delivery decision.
type Request struct {
	OrganizationID string
	UserID         string
	// Screen is the screen the SDK is about to render. Required.
	Screen string
	// Platform and SDKVersion are optional caller hints used by the
	// audience and version filters.
	Platform   string
	SDKVersion string
}

// Delivery outcome labels exported on metrics.
const (
	outcomeMatch    = "match"
	outcomeNoMatch  = "no_match"
	outcomeDegraded = "degraded"
)

// CampaignFinder is the slice of the campaign repository the engine needs.
type CampaignFinder interface {
	FindActiveForScreen(ctx context.Context, orgID, screen string) ([]campaign.Campaign, error)
}

// ContextResolver builds the user's evaluation context.
type ContextResolver interface {
	Resolve(ctx context.Context, orgID, userID string) (*profile.Context, error)
}

// Suppressor applies display caps to a candidate.
type Suppressor interface {
	Suppressed(ctx context.Context, orgID, userID string, cmp *campaign.Campaign) (bool, string, error)
}

// RuleEvaluator runs a campaign's targeting rules against a user context.
type RuleEvaluator interface {
	EvaluateAll(ctx context.Context, rules []campaign.Rule, attrs map[string]any, countFn ruleengine.EventCountFunc) (bool, error)
}

// EventCounter supplies all-time event counts for 'event' targeting rules.
type EventCounter interface {
	CountByType(ctx context.Context, orgID, userID, eventType string, since *time.Time) (int64, error)
}

// Compile-time checks against the concrete implementations.
var (
	_ CampaignFinder  = (*store.CampaignStore)(nil)
	_ ContextResolver = (*profile.Resolver)(nil)
	_ RuleEvaluator   = (*ruleengine.Engine)(nil)
	_ Suppressor      = (*suppression.Checker)(nil)
	_ EventCounter    = (*store.EventStore)(nil)
)

// Engine is the delivery orchestrator.
type Engine struct {
	cache      cache.Service
	campaigns  CampaignFinder
	profiles   ContextResolver
	rules      RuleEvaluator
	suppressor Suppressor
	events     EventCounter

	cacheTTL time.Duration
	logger   *slog.Logger
}

// NewEngine wires the orchestrator. All dependencies are required; cacheTTL
// bounds how long a candidate list may serve after a campaign change.
func NewEngine(
	cacheSvc cache.Service,
	campaigns CampaignFinder,
	profiles ContextResolver,
	rules RuleEvaluator,
	suppressor Suppressor,
	events EventCounter,
	cacheTTL time.Duration,
	logger *slog.Logger,
) *Engine {
	validation.AssertNotNil(cacheSvc, "cache service")
	validation.AssertNotNil(campaigns, "campaign finder")
	validation.AssertNotNil(profiles, "context resolver")
	validation.AssertNotNil(rules, "rule evaluator")
	validation.AssertNotNil(suppressor, "suppressor")
	validation.AssertNotNil(events, "event counter")
	if cacheTTL <= 0 {
		panic("delivery: cache TTL must be positive")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cache:      cacheSvc,
		campaigns:  campaigns,
		profiles:   profiles,
		rules:      rules,
		suppressor: suppressor,
		events:     events,
		cacheTTL:   cacheTTL,
		logger:     logger,
	}
}

// Deliver picks the campaign to show, or nil for "show nothing". It never
// returns an error: every internal failure, including panics, degrades to a
// nil result.
func (e *Engine) Deliver(ctx context.Context, req Request) (result *campaign.Campaign) {
	start := time.Now()
	outcome := outcomeNoMatch

	defer func() {
		if r := recover(); r != nil {
			e.logger.ErrorContext(ctx, "panic during delivery, returning no nudge",
				slog.Any("panic", r),
				slog.String("screen", req.Screen))
			result = nil
			outcome = outcomeDegraded
		}
		observability.DeliveryDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
		observability.DeliveryTotal.WithLabelValues(outcome).Inc()
	}()

	candidates, degraded := e.candidates(ctx, req.OrganizationID, req.Screen)
	if degraded {
		outcome = outcomeDegraded
		return nil
	}
	if len(candidates) == 0 {
		return nil
	}

	userCtx, err := e.profiles.Resolve(ctx, req.OrganizationID, req.UserID)
	if err != nil {
		e.logger.WarnContext(ctx, "user context unavailable, returning no nudge",
			slog.String("user_id", req.UserID),
			slog.Any("error", err))
		outcome = outcomeDegraded
		return nil
	}

	countFn := func(ctx context.Context, eventType string) (int64, error) {
		return e.events.CountByType(ctx, req.OrganizationID, req.UserID, eventType, nil)
	}

	// Candidates arrive priority-descending; the first survivor of the
	// filter chain wins.
	for i := range candidates {
		cmp := &candidates[i]

		eligible, err := e.eligible(ctx, req, cmp, userCtx, countFn)
		if err != nil {
			e.logger.WarnContext(ctx, "eligibility check failed, returning no nudge",
				slog.String("campaign_id", cmp.ID),
				slog.Any("error", err))
			outcome = outcomeDegraded
			return nil
		}
		if eligible {
			outcome = outcomeMatch
			return cmp
		}
	}

	return nil
}

// candidates loads the active campaign list for (org, screen), cache-aside.
// A storage failure on a cache miss degrades to an empty list.
func (e *Engine) candidates(ctx context.Context, orgID, screen string) ([]campaign.Campaign, bool) {
	if cached, ok := e.cache.Get(ctx, orgID, screen); ok {
		return cached, false
	}

	fresh, err := e.campaigns.FindActiveForScreen(ctx, orgID, screen)
	if err != nil {
		e.logger.WarnContext(ctx, "campaign lookup failed, returning no nudge",
			slog.String("screen", screen),
			slog.Any("error", err))
		return nil, true
	}

	e.cache.Set(ctx, orgID, screen, fresh, e.cacheTTL)
	return fresh, false
}

// eligible runs the per-candidate filter chain in its fixed order: platform,
// SDK version, segments, display caps, targeting rules.
func (e *Engine) eligible(
	ctx context.Context,
	req Request,
	cmp *campaign.Campaign,
	userCtx *profile.Context,
	countFn ruleengine.EventCountFunc,
) (bool, error) {
	if !cmp.AllowsPlatform(req.Platform) {
		return false, nil
	}
	if !cmp.SDKVersionRule.Matches(req.SDKVersion) {
		return false, nil
	}
	if !inSegments(cmp.Segments, userCtx.Segments) {
		return false, nil
	}

	suppressed, _, err := e.suppressor.Suppressed(ctx, req.OrganizationID, req.UserID, cmp)
	if err != nil {
		return false, err
	}
	if suppressed {
		return false, nil
	}

	return e.rules.EvaluateAll(ctx, cmp.Targeting, userCtx.Attributes, countFn)
}

// inSegments reports whether the user belongs to at least one of the
// campaign's segments. A campaign without segments targets everyone.
func inSegments(required, memberships []string) bool {
	if len(required) == 0 {
		return true
	}
	for _, want := range required {
		for _, have := range memberships {
			if want == have {
				return true
			}
		}
	}
	return false
}
