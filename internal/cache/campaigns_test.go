package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nudgekit/herald/internal/campaign"
)

// newTestCache spins up a miniredis-backed RedisCache.
func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisCache(client, nil), mr
}

func sampleCampaigns() []campaign.Campaign {
	return []campaign.Campaign{
		{
			ID:             "c-1",
			OrganizationID: "org-1",
			Name:           "Welcome Modal",
			Status:         campaign.StatusActive,
			TriggerScreen:  "home",
			Priority:       10,
			Targeting: []campaign.Rule{
				{Kind: campaign.RuleKindUserProperty, Field: "plan", Operator: campaign.OpEquals, Value: "pro"},
			},
		},
		{
			ID:             "c-2",
			OrganizationID: "org-1",
			Name:           "Fallback Banner",
			Status:         campaign.StatusActive,
			TriggerScreen:  campaign.ScreenAll,
			Priority:       5,
		},
	}
}

func TestKey(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "nudge:org-1:home:active", Key("org-1", "home"))
}

func TestRedisCache_SetGet(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache(t)
	ctx := context.Background()

	campaigns := sampleCampaigns()
	c.Set(ctx, "org-1", "home", campaigns, 10*time.Minute)

	got, ok := c.Get(ctx, "org-1", "home")
	require.True(t, ok)
	require.Len(t, got, 2)
	assert.Equal(t, "c-1", got[0].ID)
	assert.Equal(t, 10, got[0].Priority)
	assert.Equal(t, campaign.OpEquals, got[0].Targeting[0].Operator)
	assert.Equal(t, "c-2", got[1].ID)
}

func TestRedisCache_GetMiss(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache(t)

	got, ok := c.Get(context.Background(), "org-1", "unknown-screen")
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestRedisCache_TTLExpiry(t *testing.T) {
	t.Parallel()

	c, mr := newTestCache(t)
	ctx := context.Background()

	c.Set(ctx, "org-1", "home", sampleCampaigns(), 600*time.Second)

	_, ok := c.Get(ctx, "org-1", "home")
	require.True(t, ok)

	mr.FastForward(601 * time.Second)

	_, ok = c.Get(ctx, "org-1", "home")
	assert.False(t, ok, "entry must expire with the TTL")
}

func TestRedisCache_SetReplacesWholeList(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache(t)
	ctx := context.Background()

	c.Set(ctx, "org-1", "home", sampleCampaigns(), time.Minute)
	c.Set(ctx, "org-1", "home", sampleCampaigns()[:1], time.Minute)

	got, ok := c.Get(ctx, "org-1", "home")
	require.True(t, ok)
	assert.Len(t, got, 1, "a write must supersede the previous list entirely")
}

func TestRedisCache_Invalidate(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache(t)
	ctx := context.Background()

	c.Set(ctx, "org-1", "home", sampleCampaigns(), time.Minute)
	c.Invalidate(ctx, "org-1", "home")

	_, ok := c.Get(ctx, "org-1", "home")
	assert.False(t, ok, "invalidated entry must be absent on the next read")
}

func TestRedisCache_EmptyListRoundTrip(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache(t)
	ctx := context.Background()

	// An empty result is still cached: it shields the store from repeated
	// lookups for screens with no campaigns.
	c.Set(ctx, "org-1", "empty-screen", []campaign.Campaign{}, time.Minute)

	got, ok := c.Get(ctx, "org-1", "empty-screen")
	assert.True(t, ok)
	assert.Empty(t, got)
}

func TestRedisCache_CorruptEntryReportsMiss(t *testing.T) {
	t.Parallel()

	c, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, mr.Set(Key("org-1", "home"), "{not json"))

	_, ok := c.Get(ctx, "org-1", "home")
	assert.False(t, ok)

	// The corrupt entry must have been dropped so a later write-back heals it.
	assert.False(t, mr.Exists(Key("org-1", "home")))
}

func TestRedisCache_FaultsAreSwallowed(t *testing.T) {
	t.Parallel()

	c, mr := newTestCache(t)
	ctx := context.Background()

	c.Set(ctx, "org-1", "home", sampleCampaigns(), time.Minute)

	// Simulated outage: every operation must degrade silently.
	mr.Close()

	assert.NotPanics(t, func() {
		got, ok := c.Get(ctx, "org-1", "home")
		assert.False(t, ok)
		assert.Nil(t, got)

		c.Set(ctx, "org-1", "home", sampleCampaigns(), time.Minute)
		c.Invalidate(ctx, "org-1", "home")
	})

	assert.Error(t, c.HealthCheck(ctx), "health check must still report the outage")
}
