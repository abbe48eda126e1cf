package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nudgekit/herald/internal/campaign"
)

// Compile-time check to verify that CampaignStore implements CampaignRepository.
// If the interface changes and the struct doesn't, the build fails here.
var _ CampaignRepository = (*CampaignStore)(nil)

// CampaignRepository defines the interface for campaign persistence.
// Using an interface allows for dependency injection and easier mocking
// in tests.
type CampaignRepository interface {
	// Create inserts a new campaign and populates the timestamps in the struct.
	Create(ctx context.Context, c *campaign.Campaign) error

	// GetByID retrieves a single campaign scoped to the organization.
	// Returns ErrNotFound when it does not exist.
	GetByID(ctx context.Context, orgID, id string) (*campaign.Campaign, error)

	// List retrieves a paginated list of campaigns for the organization and
	// the total count of records, ordered by creation time descending.
	List(ctx context.Context, orgID string, limit, offset int) ([]*campaign.Campaign, int64, error)

	// Update persists the full mutable state of a campaign.
	// Returns ErrNotFound when it does not exist.
	Update(ctx context.Context, c *campaign.Campaign) error

	// FindActiveForScreen returns active campaigns whose trigger screen is
	// either the given screen or the "all" sentinel, ordered by priority
	// descending. This is the delivery engine's candidate query.
	FindActiveForScreen(ctx context.Context, orgID, screen string) ([]campaign.Campaign, error)

	// IncrementStat bumps one of the denormalized delivery counters
	// (impressions, clicks, conversions).
	IncrementStat(ctx context.Context, orgID, campaignID, stat string) error
}

// CampaignStore is the implementation of CampaignRepository backed by PostgreSQL.
type CampaignStore struct {
	db *pgxpool.Pool
}

// NewCampaignStore creates a new repository instance with the given connection pool.
func NewCampaignStore(db *pgxpool.Pool) *CampaignStore {
	if db == nil {
		panic("store: database pool cannot be nil")
	}
	return &CampaignStore{db: db}
}

// campaignColumns is the select list shared by every read query, kept in one
// place so scanCampaign stays in sync with it.
const campaignColumns = `
	campaign_id, organization_id, name, status, trigger_screen, priority,
	target_audience, sdk_version_rule, segments, display_rules, targeting,
	config, stats_impressions, stats_clicks, stats_conversions,
	created_at, updated_at`

// Create inserts a new campaign.
// It uses the RETURNING clause to get the server-generated timestamps.
func (s *CampaignStore) Create(ctx context.Context, c *campaign.Campaign) error {
	sdkRule, displayRules, targeting, err := marshalCampaignDocs(c)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO campaigns (
			campaign_id, organization_id, name, status, trigger_screen, priority,
			target_audience, sdk_version_rule, segments, display_rules, targeting, config
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at
	`

	err = s.db.QueryRow(ctx, query,
		c.ID,
		c.OrganizationID,
		c.Name,
		string(c.Status),
		c.TriggerScreen,
		c.Priority,
		c.TargetAudience,
		sdkRule,
		c.Segments,
		displayRules,
		targeting,
		rawOrNull(c.Config),
	).Scan(&c.CreatedAt, &c.UpdatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return fmt.Errorf("campaign %q: %w", c.ID, ErrDuplicate)
		}
		return fmt.Errorf("failed to insert campaign: %w", err)
	}

	return nil
}

// GetByID retrieves a single campaign scoped to the organization.
func (s *CampaignStore) GetByID(ctx context.Context, orgID, id string) (*campaign.Campaign, error) {
	query := `SELECT ` + campaignColumns + `
		FROM campaigns
		WHERE organization_id = $1 AND campaign_id = $2`

	row := s.db.QueryRow(ctx, query, orgID, id)

	c, err := scanCampaign(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("campaign %q: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}
	return c, nil
}

// List retrieves a subset of campaigns based on pagination parameters.
// It executes two queries: one for the data and one for the total count.
func (s *CampaignStore) List(ctx context.Context, orgID string, limit, offset int) ([]*campaign.Campaign, int64, error) {
	var total int64
	countQuery := `SELECT count(*) FROM campaigns WHERE organization_id = $1`

	if err := s.db.QueryRow(ctx, countQuery, orgID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count campaigns: %w", err)
	}

	// If there are no campaigns, return early to save the second query.
	if total == 0 {
		return []*campaign.Campaign{}, 0, nil
	}

	query := `SELECT ` + campaignColumns + `
		FROM campaigns
		WHERE organization_id = $1
		ORDER BY created_at DESC, campaign_id
		LIMIT $2 OFFSET $3`

	rows, err := s.db.Query(ctx, query, orgID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list campaigns: %w", err)
	}
	defer rows.Close()

	campaigns := make([]*campaign.Campaign, 0, limit)
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan campaign row: %w", err)
		}
		campaigns = append(campaigns, c)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows iteration error: %w", err)
	}

	return campaigns, total, nil
}

// Update persists the full mutable state of a campaign.
func (s *CampaignStore) Update(ctx context.Context, c *campaign.Campaign) error {
	sdkRule, displayRules, targeting, err := marshalCampaignDocs(c)
	if err != nil {
		return err
	}

	query := `
		UPDATE campaigns SET
			name = $3, status = $4, trigger_screen = $5, priority = $6,
			target_audience = $7, sdk_version_rule = $8, segments = $9,
			display_rules = $10, targeting = $11, config = $12,
			updated_at = now()
		WHERE organization_id = $1 AND campaign_id = $2
		RETURNING updated_at
	`

	err = s.db.QueryRow(ctx, query,
		c.OrganizationID,
		c.ID,
		c.Name,
		string(c.Status),
		c.TriggerScreen,
		c.Priority,
		c.TargetAudience,
		sdkRule,
		c.Segments,
		displayRules,
		targeting,
		rawOrNull(c.Config),
	).Scan(&c.UpdatedAt)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("campaign %q: %w", c.ID, ErrNotFound)
		}
		return fmt.Errorf("failed to update campaign: %w", err)
	}
	return nil
}

// FindActiveForScreen runs the delivery candidate query.
// The compound index (organization_id, status, trigger_screen, priority DESC)
// makes this an index-only scan.
func (s *CampaignStore) FindActiveForScreen(ctx context.Context, orgID, screen string) ([]campaign.Campaign, error) {
	query := `SELECT ` + campaignColumns + `
		FROM campaigns
		WHERE organization_id = $1
		  AND status = $2
		  AND trigger_screen IN ($3, $4)
		ORDER BY priority DESC, campaign_id`

	rows, err := s.db.Query(ctx, query, orgID, string(campaign.StatusActive), screen, campaign.ScreenAll)
	if err != nil {
		return nil, fmt.Errorf("failed to query active campaigns: %w", err)
	}
	defer rows.Close()

	var campaigns []campaign.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan campaign row: %w", err)
		}
		campaigns = append(campaigns, *c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return campaigns, nil
}

// IncrementStat bumps a denormalized delivery counter. The stat name is
// validated here because it is interpolated into the column name.
func (s *CampaignStore) IncrementStat(ctx context.Context, orgID, campaignID, stat string) error {
	var column string
	switch stat {
	case campaign.EventImpression:
		column = "stats_impressions"
	case campaign.EventClick:
		column = "stats_clicks"
	case campaign.EventConversion:
		column = "stats_conversions"
	default:
		return fmt.Errorf("unknown stat %q", stat)
	}

	query := fmt.Sprintf(`
		UPDATE campaigns SET %s = %s + 1, updated_at = now()
		WHERE organization_id = $1 AND campaign_id = $2`, column, column)

	tag, err := s.db.Exec(ctx, query, orgID, campaignID)
	if err != nil {
		return fmt.Errorf("failed to increment %s: %w", stat, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("campaign %q: %w", campaignID, ErrNotFound)
	}
	return nil
}

// --- Private helpers ---

// marshalCampaignDocs serializes the JSONB columns.
func marshalCampaignDocs(c *campaign.Campaign) (sdkRule, displayRules, targeting []byte, err error) {
	if c.SDKVersionRule != nil {
		if sdkRule, err = json.Marshal(c.SDKVersionRule); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to marshal sdk_version_rule: %w", err)
		}
	}
	if c.DisplayRules != nil {
		if displayRules, err = json.Marshal(c.DisplayRules); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to marshal display_rules: %w", err)
		}
	}
	if c.Targeting != nil {
		if targeting, err = json.Marshal(c.Targeting); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to marshal targeting: %w", err)
		}
	}
	return sdkRule, displayRules, targeting, nil
}

// rawOrNull converts an empty RawMessage to nil so pgx stores SQL NULL
// instead of an empty string that would fail JSONB validation.
func rawOrNull(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

// scanCampaign maps one row onto the domain struct.
// It works for both QueryRow and Query results via the pgx.Row interface.
func scanCampaign(row pgx.Row) (*campaign.Campaign, error) {
	var (
		c            campaign.Campaign
		status       string
		sdkRule      []byte
		displayRules []byte
		targeting    []byte
		config       []byte
	)

	err := row.Scan(
		&c.ID,
		&c.OrganizationID,
		&c.Name,
		&status,
		&c.TriggerScreen,
		&c.Priority,
		&c.TargetAudience,
		&sdkRule,
		&c.Segments,
		&displayRules,
		&targeting,
		&config,
		&c.Stats.Impressions,
		&c.Stats.Clicks,
		&c.Stats.Conversions,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.Status = campaign.Status(status)

	if len(sdkRule) > 0 {
		c.SDKVersionRule = &campaign.SDKVersionRule{}
		if err := json.Unmarshal(sdkRule, c.SDKVersionRule); err != nil {
			return nil, fmt.Errorf("corrupt sdk_version_rule: %w", err)
		}
	}
	if len(displayRules) > 0 {
		c.DisplayRules = &campaign.DisplayRules{}
		if err := json.Unmarshal(displayRules, c.DisplayRules); err != nil {
			return nil, fmt.Errorf("corrupt display_rules: %w", err)
		}
	}
	if len(targeting) > 0 {
		if err := json.Unmarshal(targeting, &c.Targeting); err != nil {
			return nil, fmt.Errorf("corrupt targeting: %w", err)
		}
	}
	if len(config) > 0 {
		c.Config = json.RawMessage(config)
	}

	return &c, nil
}
