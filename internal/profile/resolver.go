// Package profile assembles the evaluation context for a user: the flat
// attribute map the rule engine matches user_property rules against, plus
// the segment memberships used by campaign segment targeting.
package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nudgekit/herald/internal/store"
)

// Context is the resolved view of an end user at delivery time.
type Context struct {
	// Attributes is the merged trait map. Custom traits sit alongside the
	// reserved profile fields; on a name collision the profile field wins.
	Attributes map[string]any

	// Segments the user belongs to.
	Segments []string

	// SessionsCount mirrors the profile counter, exposed separately so the
	// session cap does not have to dig through Attributes.
	SessionsCount int64
}

// UserGetter is the slice of the user repository the resolver needs.
type UserGetter interface {
	Get(ctx context.Context, orgID, userID string) (*store.EndUser, error)
}

// Compile-time check to verify the store satisfies UserGetter.
var _ UserGetter = (*store.UserStore)(nil)

// Resolver loads and flattens end-user profiles.
type Resolver struct {
	users  UserGetter
	logger *slog.Logger
}

// NewResolver wires a resolver over the user repository.
func NewResolver(users UserGetter, logger *slog.Logger) *Resolver {
	if users == nil {
		panic("profile: user repository cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{users: users, logger: logger}
}

// Resolve builds the evaluation context for (org, user). An unknown user is
// not an error: rules then evaluate against an empty attribute map, so
// absent-attribute semantics apply.
func (r *Resolver) Resolve(ctx context.Context, orgID, userID string) (*Context, error) {
	u, err := r.users.Get(ctx, orgID, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			r.logger.DebugContext(ctx, "no profile for user, using empty context",
				slog.String("user_id", userID))
			return &Context{Attributes: map[string]any{}}, nil
		}
		return nil, fmt.Errorf("failed to resolve user context: %w", err)
	}

	return &Context{
		Attributes:    flatten(u),
		Segments:      u.Segments,
		SessionsCount: u.SessionsCount,
	}, nil
}

// flatten merges custom traits and reserved profile fields into one map.
// Traits go in first so the reserved fields overwrite colliding names.
func flatten(u *store.EndUser) map[string]any {
	attrs := make(map[string]any, len(u.Traits)+4)
	for k, v := range u.Traits {
		attrs[k] = v
	}
	if u.Name != "" {
		attrs["name"] = u.Name
	}
	if u.Email != "" {
		attrs["email"] = u.Email
	}
	if u.Platform != "" {
		attrs["platform"] = u.Platform
	}
	attrs["sessions_count"] = u.SessionsCount
	return attrs
}
