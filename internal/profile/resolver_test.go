package profile

import (
	"context"
	"errors"
	"testing"

	"github.com/nudgekit/herald/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubUserGetter struct {
	user *store.EndUser
	err  error
}

func (s *stubUserGetter) Get(_ context.Context, _, _ string) (*store.EndUser, error) {
	return s.user, s.err
}

func TestResolver_Resolve(t *testing.T) {
	t.Parallel()

	t.Run("MergesTraitsUnderProfileFields", func(t *testing.T) {
		t.Parallel()

		r := NewResolver(&stubUserGetter{user: &store.EndUser{
			UserID:   "u1",
			Name:     "Ada",
			Email:    "ada@example.com",
			Platform: "ios",
			Traits: map[string]any{
				"plan": "pro",
				// Collides with the reserved field; the profile value must win.
				"email": "stale@example.com",
			},
			Segments:      []string{"beta"},
			SessionsCount: 7,
		}}, nil)

		got, err := r.Resolve(context.Background(), "org1", "u1")
		require.NoError(t, err)

		assert.Equal(t, "pro", got.Attributes["plan"])
		assert.Equal(t, "ada@example.com", got.Attributes["email"])
		assert.Equal(t, "Ada", got.Attributes["name"])
		assert.Equal(t, "ios", got.Attributes["platform"])
		assert.EqualValues(t, 7, got.Attributes["sessions_count"])
		assert.Equal(t, []string{"beta"}, got.Segments)
		assert.EqualValues(t, 7, got.SessionsCount)
	})

	t.Run("EmptyProfileFieldsOmitted", func(t *testing.T) {
		t.Parallel()

		r := NewResolver(&stubUserGetter{user: &store.EndUser{UserID: "u1"}}, nil)

		got, err := r.Resolve(context.Background(), "org1", "u1")
		require.NoError(t, err)

		_, hasName := got.Attributes["name"]
		assert.False(t, hasName)
		_, hasEmail := got.Attributes["email"]
		assert.False(t, hasEmail)
	})

	t.Run("UnknownUserYieldsEmptyContext", func(t *testing.T) {
		t.Parallel()

		r := NewResolver(&stubUserGetter{err: store.ErrNotFound}, nil)

		got, err := r.Resolve(context.Background(), "org1", "ghost")
		require.NoError(t, err)
		assert.Empty(t, got.Attributes)
		assert.Empty(t, got.Segments)
	})

	t.Run("StoreFailurePropagates", func(t *testing.T) {
		t.Parallel()

		r := NewResolver(&stubUserGetter{err: errors.New("connection refused")}, nil)

		_, err := r.Resolve(context.Background(), "org1", "u1")
		assert.Error(t, err)
	})
}
