package delivery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nudgekit/herald/internal/campaign"
	"github.com/nudgekit/herald/internal/profile"
	"github.com/nudgekit/herald/internal/ruleengine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCache is an in-memory cache.Service that can be told to lose writes.
type fakeCache struct {
	mu      sync.Mutex
	entries map[string][]campaign.Campaign
	broken  bool
	sets    int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string][]campaign.Campaign)}
}

func (f *fakeCache) Get(_ context.Context, orgID, screen string) ([]campaign.Campaign, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.broken {
		return nil, false
	}
	c, ok := f.entries[orgID+"/"+screen]
	return c, ok
}

func (f *fakeCache) Set(_ context.Context, orgID, screen string, campaigns []campaign.Campaign, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets++
	if f.broken {
		return
	}
	f.entries[orgID+"/"+screen] = campaigns
}

func (f *fakeCache) Invalidate(_ context.Context, orgID, screen string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, orgID+"/"+screen)
}

func (f *fakeCache) HealthCheck(context.Context) error { return nil }
func (f *fakeCache) Close() error                      { return nil }

type fakeFinder struct {
	campaigns []campaign.Campaign
	err       error
	calls     int
}

func (f *fakeFinder) FindActiveForScreen(context.Context, string, string) ([]campaign.Campaign, error) {
	f.calls++
	return f.campaigns, f.err
}

type fakeResolver struct {
	ctx   *profile.Context
	err   error
	panic bool
}

func (f *fakeResolver) Resolve(context.Context, string, string) (*profile.Context, error) {
	if f.panic {
		panic("boom")
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.ctx != nil {
		return f.ctx, nil
	}
	return &profile.Context{Attributes: map[string]any{}}, nil
}

// fakeSuppressor suppresses the campaign ids in its map.
type fakeSuppressor struct {
	suppressed map[string]string // campaignID -> cap name
	err        error
}

func (f *fakeSuppressor) Suppressed(_ context.Context, _, _ string, cmp *campaign.Campaign) (bool, string, error) {
	if f.err != nil {
		return false, "", f.err
	}
	capName, ok := f.suppressed[cmp.ID]
	return ok, capName, nil
}

type fakeCounter struct {
	counts map[string]int64
	err    error
}

func (f *fakeCounter) CountByType(_ context.Context, _, _, eventType string, _ *time.Time) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.counts[eventType], nil
}

// engineFixture bundles the fakes; zero fields get working defaults. The
// rule evaluator is always the real one so targeting is exercised end to end.
type engineFixture struct {
	cache      *fakeCache
	finder     *fakeFinder
	resolver   *fakeResolver
	suppressor *fakeSuppressor
	counter    *fakeCounter
}

func newEngine(t *testing.T, fx *engineFixture) *Engine {
	t.Helper()
	if fx.cache == nil {
		fx.cache = newFakeCache()
	}
	if fx.finder == nil {
		fx.finder = &fakeFinder{}
	}
	if fx.resolver == nil {
		fx.resolver = &fakeResolver{}
	}
	if fx.suppressor == nil {
		fx.suppressor = &fakeSuppressor{}
	}
	if fx.counter == nil {
		fx.counter = &fakeCounter{}
	}
	return NewEngine(fx.cache, fx.finder, fx.resolver, ruleengine.New(nil),
		fx.suppressor, fx.counter, 600*time.Second, nil)
}

func active(id, screen string, priority int) campaign.Campaign {
	return campaign.Campaign{
		ID:            id,
		Status:        campaign.StatusActive,
		TriggerScreen: screen,
		Priority:      priority,
	}
}

var req = Request{OrganizationID: "org1", UserID: "u1", Screen: "home"}

func TestEngine_Deliver_HighestPriorityWins(t *testing.T) {
	t.Parallel()

	fx := &engineFixture{
		finder: &fakeFinder{campaigns: []campaign.Campaign{
			active("high", "home", 10),
			active("low", "home", 5),
		}},
	}
	e := newEngine(t, fx)

	got := e.Deliver(context.Background(), req)
	require.NotNil(t, got)
	assert.Equal(t, "high", got.ID)
}

func TestEngine_Deliver_FallsThroughToNextCandidate(t *testing.T) {
	t.Parallel()

	// The priority-10 candidate fails its targeting rule; the priority-5
	// candidate wins even though a priority-1 candidate would also match.
	pro := active("needs-pro", "home", 10)
	pro.Targeting = []campaign.Rule{
		{Kind: campaign.RuleKindUserProperty, Field: "plan", Operator: campaign.OpEquals, Value: "pro"},
	}
	fx := &engineFixture{
		finder: &fakeFinder{campaigns: []campaign.Campaign{
			pro,
			active("fallback", "home", 5),
			active("never", "home", 1),
		}},
		resolver: &fakeResolver{ctx: &profile.Context{Attributes: map[string]any{"plan": "free"}}},
	}
	e := newEngine(t, fx)

	got := e.Deliver(context.Background(), req)
	require.NotNil(t, got)
	assert.Equal(t, "fallback", got.ID)
}

func TestEngine_Deliver_FilterChain(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*campaign.Campaign)
		req    Request
		fx     engineFixture
		want   bool
	}{
		{
			name:   "platform allowed",
			mutate: func(c *campaign.Campaign) { c.TargetAudience = []string{"ios"} },
			req:    Request{OrganizationID: "org1", UserID: "u1", Screen: "home", Platform: "ios"},
			want:   true,
		},
		{
			name:   "platform excluded",
			mutate: func(c *campaign.Campaign) { c.TargetAudience = []string{"ios"} },
			req:    Request{OrganizationID: "org1", UserID: "u1", Screen: "home", Platform: "android"},
			want:   false,
		},
		{
			name:   "platform absent with audience restriction",
			mutate: func(c *campaign.Campaign) { c.TargetAudience = []string{"ios"} },
			req:    req,
			want:   false,
		},
		{
			name: "sdk version too old",
			mutate: func(c *campaign.Campaign) {
				c.SDKVersionRule = &campaign.SDKVersionRule{Operator: "greater_than", Version: "2.0.0"}
			},
			req:  Request{OrganizationID: "org1", UserID: "u1", Screen: "home", SDKVersion: "1.9.0"},
			want: false,
		},
		{
			name: "sdk version absent skips filter",
			mutate: func(c *campaign.Campaign) {
				c.SDKVersionRule = &campaign.SDKVersionRule{Operator: "greater_than", Version: "2.0.0"}
			},
			req:  req,
			want: true,
		},
		{
			name:   "segment intersection",
			mutate: func(c *campaign.Campaign) { c.Segments = []string{"beta", "vip"} },
			req:    req,
			fx:     engineFixture{resolver: &fakeResolver{ctx: &profile.Context{Segments: []string{"vip"}}}},
			want:   true,
		},
		{
			name:   "segment mismatch",
			mutate: func(c *campaign.Campaign) { c.Segments = []string{"beta"} },
			req:    req,
			fx:     engineFixture{resolver: &fakeResolver{ctx: &profile.Context{Segments: []string{"vip"}}}},
			want:   false,
		},
		{
			name:   "suppressed by cap",
			mutate: func(*campaign.Campaign) {},
			req:    req,
			fx:     engineFixture{suppressor: &fakeSuppressor{suppressed: map[string]string{"c1": "frequency"}}},
			want:   false,
		},
		{
			name: "event rule satisfied",
			mutate: func(c *campaign.Campaign) {
				c.Targeting = []campaign.Rule{
					{Kind: campaign.RuleKindEvent, Field: "purchase", Operator: campaign.OpGreaterThanOrEqual, Value: 3},
				}
			},
			req:  req,
			fx:   engineFixture{counter: &fakeCounter{counts: map[string]int64{"purchase": 3}}},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := active("c1", "home", 1)
			tt.mutate(&c)
			fx := tt.fx
			fx.finder = &fakeFinder{campaigns: []campaign.Campaign{c}}
			e := newEngine(t, &fx)

			got := e.Deliver(context.Background(), tt.req)
			if tt.want {
				require.NotNil(t, got)
				assert.Equal(t, "c1", got.ID)
			} else {
				assert.Nil(t, got)
			}
		})
	}
}

func TestEngine_Deliver_CacheAside(t *testing.T) {
	t.Parallel()

	fx := &engineFixture{
		finder: &fakeFinder{campaigns: []campaign.Campaign{active("c1", "home", 1)}},
	}
	e := newEngine(t, fx)

	// First call misses the cache and hits the store.
	require.NotNil(t, e.Deliver(context.Background(), req))
	assert.Equal(t, 1, fx.finder.calls)
	assert.Equal(t, 1, fx.cache.sets)

	// Second call is served from the cache.
	require.NotNil(t, e.Deliver(context.Background(), req))
	assert.Equal(t, 1, fx.finder.calls)
}

func TestEngine_Deliver_SilentFail(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		fx   engineFixture
	}{
		{
			name: "store down",
			fx:   engineFixture{finder: &fakeFinder{err: errors.New("connection refused")}},
		},
		{
			name: "cache and store down",
			fx: engineFixture{
				cache:  &fakeCache{entries: map[string][]campaign.Campaign{}, broken: true},
				finder: &fakeFinder{err: errors.New("connection refused")},
			},
		},
		{
			name: "profile down",
			fx: engineFixture{
				finder:   &fakeFinder{campaigns: []campaign.Campaign{active("c1", "home", 1)}},
				resolver: &fakeResolver{err: errors.New("connection refused")},
			},
		},
		{
			name: "suppression down",
			fx: engineFixture{
				finder:     &fakeFinder{campaigns: []campaign.Campaign{active("c1", "home", 1)}},
				suppressor: &fakeSuppressor{err: errors.New("connection refused")},
			},
		},
		{
			name: "event store down during rules",
			fx: func() engineFixture {
				c := active("c1", "home", 1)
				c.Targeting = []campaign.Rule{
					{Kind: campaign.RuleKindEvent, Field: "purchase", Operator: campaign.OpGreaterThan, Value: 0},
				}
				return engineFixture{
					finder:  &fakeFinder{campaigns: []campaign.Campaign{c}},
					counter: &fakeCounter{err: errors.New("connection refused")},
				}
			}(),
		},
		{
			name: "panic below the engine",
			fx: engineFixture{
				finder:   &fakeFinder{campaigns: []campaign.Campaign{active("c1", "home", 1)}},
				resolver: &fakeResolver{panic: true},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			fx := tt.fx
			e := newEngine(t, &fx)

			var got *campaign.Campaign
			assert.NotPanics(t, func() { got = e.Deliver(context.Background(), req) })
			assert.Nil(t, got)
		})
	}
}

func TestEngine_Deliver_Idempotent(t *testing.T) {
	t.Parallel()

	fx := &engineFixture{
		finder: &fakeFinder{campaigns: []campaign.Campaign{
			active("a", "home", 3),
			active("b", "home", 3),
		}},
	}
	e := newEngine(t, fx)

	first := e.Deliver(context.Background(), req)
	require.NotNil(t, first)
	for i := 0; i < 5; i++ {
		again := e.Deliver(context.Background(), req)
		require.NotNil(t, again)
		assert.Equal(t, first.ID, again.ID)
	}
}

func TestEngine_Deliver_EmptyCandidates(t *testing.T) {
	t.Parallel()

	e := newEngine(t, &engineFixture{finder: &fakeFinder{}})
	assert.Nil(t, e.Deliver(context.Background(), req))
}
