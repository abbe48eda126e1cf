package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Compile-time check to verify that OrganizationStore implements OrganizationRepository.
var _ OrganizationRepository = (*OrganizationStore)(nil)

// Organization is a tenant. APIKey authenticates SDK traffic, SecretKey
// authenticates the management endpoints.
type Organization struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	APIKey    string    `db:"api_key"`
	SecretKey string    `db:"secret_key"`
	CreatedAt time.Time `db:"created_at"`
}

// OrganizationRepository defines the interface for tenant persistence.
type OrganizationRepository interface {
	// Create inserts a new organization. Key collisions map to ErrDuplicate.
	Create(ctx context.Context, org *Organization) error

	// GetByAPIKey resolves the tenant for an SDK key, or ErrNotFound.
	GetByAPIKey(ctx context.Context, apiKey string) (*Organization, error)

	// GetBySecretKey resolves the tenant for a management key, or ErrNotFound.
	GetBySecretKey(ctx context.Context, secretKey string) (*Organization, error)
}

// OrganizationStore is the implementation of OrganizationRepository backed by PostgreSQL.
type OrganizationStore struct {
	db *pgxpool.Pool
}

// NewOrganizationStore creates a new repository instance with the given connection pool.
func NewOrganizationStore(db *pgxpool.Pool) *OrganizationStore {
	if db == nil {
		panic("store: database pool cannot be nil")
	}
	return &OrganizationStore{db: db}
}

// Create inserts a new organization.
func (s *OrganizationStore) Create(ctx context.Context, org *Organization) error {
	query := `
		INSERT INTO organizations (id, name, api_key, secret_key)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`

	err := s.db.QueryRow(ctx, query, org.ID, org.Name, org.APIKey, org.SecretKey).Scan(&org.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create organization %q: %w", org.Name, err)
	}
	return nil
}

// GetByAPIKey resolves the tenant owning an SDK key.
func (s *OrganizationStore) GetByAPIKey(ctx context.Context, apiKey string) (*Organization, error) {
	return s.getByKey(ctx, "api_key", apiKey)
}

// GetBySecretKey resolves the tenant owning a management key.
func (s *OrganizationStore) GetBySecretKey(ctx context.Context, secretKey string) (*Organization, error) {
	return s.getByKey(ctx, "secret_key", secretKey)
}

func (s *OrganizationStore) getByKey(ctx context.Context, column, key string) (*Organization, error) {
	// column is one of two constants above, never caller input.
	query := fmt.Sprintf(`
		SELECT id, name, api_key, secret_key, created_at
		FROM organizations
		WHERE %s = $1
	`, column)

	var org Organization
	err := s.db.QueryRow(ctx, query, key).Scan(
		&org.ID,
		&org.Name,
		&org.APIKey,
		&org.SecretKey,
		&org.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to look up organization: %w", err)
	}
	return &org, nil
}
