package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Compile-time check to verify that UserStore implements UserRepository.
var _ UserRepository = (*UserStore)(nil)

// EndUser is a user profile as assembled from identify calls.
type EndUser struct {
	OrganizationID string         `db:"organization_id"`
	UserID         string         `db:"user_id"`
	Name           string         `db:"name"`
	Email          string         `db:"email"`
	Platform       string         `db:"platform"`
	Traits         map[string]any `db:"traits"`
	Segments       []string       `db:"segments"`
	SessionsCount  int64          `db:"sessions_count"`
	FirstSeenAt    time.Time      `db:"first_seen_at"`
	LastSeenAt     time.Time      `db:"last_seen_at"`
}

// UserRepository defines the interface for end-user profile persistence.
type UserRepository interface {
	// Get returns the profile for (org, user), or ErrNotFound.
	Get(ctx context.Context, orgID, userID string) (*EndUser, error)

	// Upsert creates or updates the profile. Provided scalar fields and
	// traits are merged over the stored row; last_seen_at is refreshed.
	Upsert(ctx context.Context, u *EndUser) error

	// BumpSessions increments the session counter for (org, user).
	// Missing profiles are created implicitly.
	BumpSessions(ctx context.Context, orgID, userID string) error
}

// UserStore is the implementation of UserRepository backed by PostgreSQL.
type UserStore struct {
	db *pgxpool.Pool
}

// NewUserStore creates a new repository instance with the given connection pool.
func NewUserStore(db *pgxpool.Pool) *UserStore {
	if db == nil {
		panic("store: database pool cannot be nil")
	}
	return &UserStore{db: db}
}

// Get fetches the profile for (org, user).
func (s *UserStore) Get(ctx context.Context, orgID, userID string) (*EndUser, error) {
	query := `
		SELECT organization_id, user_id, coalesce(name, ''), coalesce(email, ''),
		       coalesce(platform, ''), traits, segments, sessions_count,
		       first_seen_at, last_seen_at
		FROM end_users
		WHERE organization_id = $1 AND user_id = $2
	`

	var (
		u        EndUser
		traits   []byte
		segments []byte
	)
	err := s.db.QueryRow(ctx, query, orgID, userID).Scan(
		&u.OrganizationID,
		&u.UserID,
		&u.Name,
		&u.Email,
		&u.Platform,
		&traits,
		&segments,
		&u.SessionsCount,
		&u.FirstSeenAt,
		&u.LastSeenAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user %q: %w", userID, err)
	}

	if len(traits) > 0 {
		if err := json.Unmarshal(traits, &u.Traits); err != nil {
			return nil, fmt.Errorf("corrupt traits for user %q: %w", userID, err)
		}
	}
	if len(segments) > 0 {
		if err := json.Unmarshal(segments, &u.Segments); err != nil {
			return nil, fmt.Errorf("corrupt segments for user %q: %w", userID, err)
		}
	}

	return &u, nil
}

// Upsert merges the given profile into the stored row. Empty scalar fields
// leave the stored values untouched; traits are merged key-by-key with the
// incoming values winning.
func (s *UserStore) Upsert(ctx context.Context, u *EndUser) error {
	traits, err := json.Marshal(emptyIfNilMap(u.Traits))
	if err != nil {
		return fmt.Errorf("failed to marshal traits: %w", err)
	}
	segments, err := json.Marshal(emptyIfNilSlice(u.Segments))
	if err != nil {
		return fmt.Errorf("failed to marshal segments: %w", err)
	}

	query := `
		INSERT INTO end_users (organization_id, user_id, name, email, platform, traits, segments)
		VALUES ($1, $2, nullif($3, ''), nullif($4, ''), nullif($5, ''), $6, $7)
		ON CONFLICT (organization_id, user_id) DO UPDATE SET
			name = coalesce(nullif(excluded.name, ''), end_users.name),
			email = coalesce(nullif(excluded.email, ''), end_users.email),
			platform = coalesce(nullif(excluded.platform, ''), end_users.platform),
			traits = end_users.traits || excluded.traits,
			segments = CASE WHEN excluded.segments = '[]'::jsonb THEN end_users.segments ELSE excluded.segments END,
			last_seen_at = now()
		RETURNING sessions_count, first_seen_at, last_seen_at
	`

	err = s.db.QueryRow(ctx, query,
		u.OrganizationID,
		u.UserID,
		u.Name,
		u.Email,
		u.Platform,
		traits,
		segments,
	).Scan(&u.SessionsCount, &u.FirstSeenAt, &u.LastSeenAt)
	if err != nil {
		return fmt.Errorf("failed to upsert user %q: %w", u.UserID, err)
	}
	return nil
}

// BumpSessions increments sessions_count, creating the row when needed.
func (s *UserStore) BumpSessions(ctx context.Context, orgID, userID string) error {
	query := `
		INSERT INTO end_users (organization_id, user_id, sessions_count)
		VALUES ($1, $2, 1)
		ON CONFLICT (organization_id, user_id) DO UPDATE SET
			sessions_count = end_users.sessions_count + 1,
			last_seen_at = now()
	`

	if _, err := s.db.Exec(ctx, query, orgID, userID); err != nil {
		return fmt.Errorf("failed to bump sessions for user %q: %w", userID, err)
	}
	return nil
}

func emptyIfNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func emptyIfNilSlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
