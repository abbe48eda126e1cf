// Package suppression enforces per-campaign display caps: a lifetime
// frequency cap and a per-session cap, both counted over the impression
// event log.
package suppression

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nudgekit/herald/internal/campaign"
	"github.com/nudgekit/herald/internal/observability"
	"github.com/nudgekit/herald/internal/store"
)

// Cap names reported back to the delivery engine and exported on metrics.
const (
	CapFrequency = "frequency"
	CapSession   = "session"
)

// EventCounter is the slice of the event repository the checker needs.
type EventCounter interface {
	CountForCampaign(ctx context.Context, orgID, userID, campaignID, eventType string, since *time.Time) (int64, error)
	LastOccurrence(ctx context.Context, orgID, userID, eventType string) (*time.Time, error)
}

// Compile-time check to verify the store satisfies EventCounter.
var _ EventCounter = (*store.EventStore)(nil)

// Checker decides whether a campaign is suppressed for a user.
type Checker struct {
	events        EventCounter
	sessionWindow time.Duration
	logger        *slog.Logger

	// now is swappable in tests.
	now func() time.Time
}

// NewChecker wires a checker over the event log. sessionWindow is the
// fallback session length used when the user has no recorded session_start.
func NewChecker(events EventCounter, sessionWindow time.Duration, logger *slog.Logger) *Checker {
	if events == nil {
		panic("suppression: event repository cannot be nil")
	}
	if sessionWindow <= 0 {
		panic("suppression: session window must be positive")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{
		events:        events,
		sessionWindow: sessionWindow,
		logger:        logger,
		now:           time.Now,
	}
}

// Suppressed reports whether the campaign's display caps exclude it for the
// user. On suppression the returned cap names which limit fired. Campaigns
// without display rules, or with non-positive caps, are never suppressed.
func (c *Checker) Suppressed(ctx context.Context, orgID, userID string, cmp *campaign.Campaign) (bool, string, error) {
	rules := cmp.DisplayRules
	if rules == nil {
		return false, "", nil
	}

	if rules.FrequencyCap > 0 {
		total, err := c.events.CountForCampaign(ctx, orgID, userID, cmp.ID, campaign.EventImpression, nil)
		if err != nil {
			return false, "", fmt.Errorf("frequency cap check: %w", err)
		}
		if total >= int64(rules.FrequencyCap) {
			c.logger.DebugContext(ctx, "campaign suppressed by frequency cap",
				slog.String("campaign_id", cmp.ID),
				slog.Int64("impressions", total),
				slog.Int("cap", rules.FrequencyCap))
			observability.SuppressionTotal.WithLabelValues(CapFrequency).Inc()
			return true, CapFrequency, nil
		}
	}

	if rules.SessionCap > 0 {
		since, err := c.sessionStart(ctx, orgID, userID)
		if err != nil {
			return false, "", fmt.Errorf("session cap check: %w", err)
		}
		inSession, err := c.events.CountForCampaign(ctx, orgID, userID, cmp.ID, campaign.EventImpression, &since)
		if err != nil {
			return false, "", fmt.Errorf("session cap check: %w", err)
		}
		if inSession >= int64(rules.SessionCap) {
			c.logger.DebugContext(ctx, "campaign suppressed by session cap",
				slog.String("campaign_id", cmp.ID),
				slog.Int64("impressions", inSession),
				slog.Int("cap", rules.SessionCap))
			observability.SuppressionTotal.WithLabelValues(CapSession).Inc()
			return true, CapSession, nil
		}
	}

	return false, "", nil
}

// sessionStart finds the start of the user's current session: the most
// recent session_start event, or now minus the fallback window when the SDK
// never reported one.
func (c *Checker) sessionStart(ctx context.Context, orgID, userID string) (time.Time, error) {
	ts, err := c.events.LastOccurrence(ctx, orgID, userID, campaign.EventSessionStart)
	if err != nil {
		return time.Time{}, err
	}
	if ts == nil {
		return c.now().Add(-c.sessionWindow), nil
	}
	return *ts, nil
}
