package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Compile-time check to verify that EventStore implements EventRepository.
var _ EventRepository = (*EventStore)(nil)

// Event is one row of the append-only behavioral log.
type Event struct {
	ID             int64          `db:"id"`
	OrganizationID string         `db:"organization_id"`
	UserID         string         `db:"user_id"`
	CampaignID     string         `db:"campaign_id"`
	EventType      string         `db:"event_type"`
	Metadata       map[string]any `db:"metadata"`
	OccurredAt     time.Time      `db:"occurred_at"`
}

// EventRepository defines the interface for the event log.
// The delivery engine only reads (counts and last-occurrence lookups);
// the track endpoint appends.
type EventRepository interface {
	// Insert appends an event and populates ID and OccurredAt.
	Insert(ctx context.Context, e *Event) error

	// CountByType counts events of the given type for (org, user).
	// A non-nil since restricts the count to events at or after it.
	CountByType(ctx context.Context, orgID, userID, eventType string, since *time.Time) (int64, error)

	// CountForCampaign counts events of the given type tied to a specific
	// campaign for (org, user). Used by the frequency and session caps.
	CountForCampaign(ctx context.Context, orgID, userID, campaignID, eventType string, since *time.Time) (int64, error)

	// LastOccurrence returns the timestamp of the most recent event of the
	// given type for (org, user), or nil when none exists.
	LastOccurrence(ctx context.Context, orgID, userID, eventType string) (*time.Time, error)

	// ListRecent returns the newest events for (org, user), newest first.
	ListRecent(ctx context.Context, orgID, userID string, limit int) ([]*Event, error)
}

// EventStore is the implementation of EventRepository backed by PostgreSQL.
type EventStore struct {
	db *pgxpool.Pool
}

// NewEventStore creates a new repository instance with the given connection pool.
func NewEventStore(db *pgxpool.Pool) *EventStore {
	if db == nil {
		panic("store: database pool cannot be nil")
	}
	return &EventStore{db: db}
}

// Insert appends one event to the log.
func (s *EventStore) Insert(ctx context.Context, e *Event) error {
	var metadata []byte
	if len(e.Metadata) > 0 {
		var err error
		if metadata, err = json.Marshal(e.Metadata); err != nil {
			return fmt.Errorf("failed to marshal event metadata: %w", err)
		}
	}

	query := `
		INSERT INTO events (organization_id, user_id, campaign_id, event_type, metadata)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, occurred_at
	`

	err := s.db.QueryRow(ctx, query,
		e.OrganizationID,
		e.UserID,
		nullIfEmpty(e.CampaignID),
		e.EventType,
		metadata,
	).Scan(&e.ID, &e.OccurredAt)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// CountByType counts events of a type for the user, optionally since a time.
func (s *EventStore) CountByType(ctx context.Context, orgID, userID, eventType string, since *time.Time) (int64, error) {
	query := `
		SELECT count(*) FROM events
		WHERE organization_id = $1 AND user_id = $2 AND event_type = $3
		  AND ($4::timestamptz IS NULL OR occurred_at >= $4)
	`

	var count int64
	if err := s.db.QueryRow(ctx, query, orgID, userID, eventType, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count %q events: %w", eventType, err)
	}
	return count, nil
}

// CountForCampaign counts campaign-scoped events, optionally since a time.
func (s *EventStore) CountForCampaign(ctx context.Context, orgID, userID, campaignID, eventType string, since *time.Time) (int64, error) {
	query := `
		SELECT count(*) FROM events
		WHERE organization_id = $1 AND user_id = $2 AND campaign_id = $3 AND event_type = $4
		  AND ($5::timestamptz IS NULL OR occurred_at >= $5)
	`

	var count int64
	if err := s.db.QueryRow(ctx, query, orgID, userID, campaignID, eventType, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count campaign %q events: %w", campaignID, err)
	}
	return count, nil
}

// LastOccurrence finds the newest event of a type for the user.
// The (org, user, type, occurred_at DESC) index turns this into a
// single-row index scan.
func (s *EventStore) LastOccurrence(ctx context.Context, orgID, userID, eventType string) (*time.Time, error) {
	query := `
		SELECT max(occurred_at) FROM events
		WHERE organization_id = $1 AND user_id = $2 AND event_type = $3
	`

	var ts *time.Time
	if err := s.db.QueryRow(ctx, query, orgID, userID, eventType).Scan(&ts); err != nil {
		return nil, fmt.Errorf("failed to find last %q event: %w", eventType, err)
	}
	return ts, nil
}

// ListRecent returns the newest events for the user.
func (s *EventStore) ListRecent(ctx context.Context, orgID, userID string, limit int) ([]*Event, error) {
	query := `
		SELECT id, organization_id, user_id, coalesce(campaign_id, ''), event_type, metadata, occurred_at
		FROM events
		WHERE organization_id = $1 AND user_id = $2
		ORDER BY occurred_at DESC, id DESC
		LIMIT $3
	`

	rows, err := s.db.Query(ctx, query, orgID, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	events := make([]*Event, 0, limit)
	for rows.Next() {
		var (
			e        Event
			metadata []byte
		)
		if err := rows.Scan(&e.ID, &e.OrganizationID, &e.UserID, &e.CampaignID, &e.EventType, &metadata, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
				return nil, fmt.Errorf("corrupt event metadata: %w", err)
			}
		}
		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return events, nil
}

// nullIfEmpty maps "" to SQL NULL for nullable text columns.
func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
