package ruleengine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nudgekit/herald/internal/campaign"
)

// staticCounts builds an EventCountFunc backed by a fixed map.
func staticCounts(counts map[string]int64) EventCountFunc {
	return func(_ context.Context, eventType string) (int64, error) {
		return counts[eventType], nil
	}
}

func TestEngine_EvaluateAll(t *testing.T) {
	t.Parallel()

	userCtx := map[string]any{
		"plan":     "pro",
		"age":      float64(30), // JSON-decoded numbers are float64
		"email":    "ada@example.com",
		"verified": true,
	}

	tests := []struct {
		name   string
		rules  []campaign.Rule
		counts map[string]int64
		want   bool
	}{
		{
			name:  "empty rule list matches",
			rules: nil,
			want:  true,
		},
		{
			name: "equals passes on string match",
			rules: []campaign.Rule{
				{Kind: campaign.RuleKindUserProperty, Field: "plan", Operator: campaign.OpEquals, Value: "pro"},
			},
			want: true,
		},
		{
			name: "equals fails on mismatch",
			rules: []campaign.Rule{
				{Kind: campaign.RuleKindUserProperty, Field: "plan", Operator: campaign.OpEquals, Value: "free"},
			},
			want: false,
		},
		{
			name: "equals compares numerically across types",
			rules: []campaign.Rule{
				{Kind: campaign.RuleKindUserProperty, Field: "age", Operator: campaign.OpEquals, Value: "30"},
			},
			want: true,
		},
		{
			name: "not_equals passes when attribute is absent",
			rules: []campaign.Rule{
				{Kind: campaign.RuleKindUserProperty, Field: "missing", Operator: campaign.OpNotEquals, Value: "anything"},
			},
			want: true,
		},
		{
			name: "greater_than coerces both sides",
			rules: []campaign.Rule{
				{Kind: campaign.RuleKindUserProperty, Field: "age", Operator: campaign.OpGreaterThan, Value: "18"},
			},
			want: true,
		},
		{
			name: "greater_than fails on non-numeric attribute",
			rules: []campaign.Rule{
				{Kind: campaign.RuleKindUserProperty, Field: "plan", Operator: campaign.OpGreaterThan, Value: 1},
			},
			want: false,
		},
		{
			name: "less_than_or_equal boundary is inclusive",
			rules: []campaign.Rule{
				{Kind: campaign.RuleKindUserProperty, Field: "age", Operator: campaign.OpLessThanOrEqual, Value: 30},
			},
			want: true,
		},
		{
			name: "contains coerces to strings",
			rules: []campaign.Rule{
				{Kind: campaign.RuleKindUserProperty, Field: "email", Operator: campaign.OpContains, Value: "@example"},
			},
			want: true,
		},
		{
			name: "not_contains passes when attribute is absent",
			rules: []campaign.Rule{
				{Kind: campaign.RuleKindUserProperty, Field: "missing", Operator: campaign.OpNotContains, Value: "x"},
			},
			want: true,
		},
		{
			name: "set requires presence",
			rules: []campaign.Rule{
				{Kind: campaign.RuleKindUserProperty, Field: "missing", Operator: campaign.OpSet},
			},
			want: false,
		},
		{
			name: "not_set passes for absent attribute",
			rules: []campaign.Rule{
				{Kind: campaign.RuleKindUserProperty, Field: "missing", Operator: campaign.OpNotSet},
			},
			want: true,
		},
		{
			name: "unknown operator never excludes the candidate",
			rules: []campaign.Rule{
				{Kind: campaign.RuleKindUserProperty, Field: "plan", Operator: "foo", Value: "whatever"},
			},
			want: true,
		},
		{
			name: "group rules always pass",
			rules: []campaign.Rule{
				{Kind: campaign.RuleKindGroup},
				{Kind: campaign.RuleKindUserProperty, Field: "plan", Operator: campaign.OpEquals, Value: "pro"},
			},
			want: true,
		},
		{
			name: "unknown kind is skipped",
			rules: []campaign.Rule{
				{Kind: "geo_fence", Field: "country", Operator: campaign.OpEquals, Value: "BR"},
			},
			want: true,
		},
		{
			name: "legacy property alias wins over field",
			rules: []campaign.Rule{
				{Kind: campaign.RuleKindUserProperty, Field: "missing", Property: "plan", Operator: campaign.OpEquals, Value: "pro"},
			},
			want: true,
		},
		{
			name: "event count greater_than",
			rules: []campaign.Rule{
				{Kind: campaign.RuleKindEvent, Field: "add_to_cart", Operator: campaign.OpGreaterThan, Value: 3},
			},
			counts: map[string]int64{"add_to_cart": 5},
			want:   true,
		},
		{
			name: "event count fails below threshold",
			rules: []campaign.Rule{
				{Kind: campaign.RuleKindEvent, Field: "add_to_cart", Operator: campaign.OpGreaterThan, Value: 3},
			},
			counts: map[string]int64{"add_to_cart": 2},
			want:   false,
		},
		{
			name: "event count with non-numeric value fails",
			rules: []campaign.Rule{
				{Kind: campaign.RuleKindEvent, Field: "add_to_cart", Operator: campaign.OpEquals, Value: "many"},
			},
			counts: map[string]int64{"add_to_cart": 2},
			want:   false,
		},
		{
			name: "AND combination fails on any failing rule",
			rules: []campaign.Rule{
				{Kind: campaign.RuleKindUserProperty, Field: "plan", Operator: campaign.OpEquals, Value: "pro"},
				{Kind: campaign.RuleKindUserProperty, Field: "age", Operator: campaign.OpGreaterThan, Value: 40},
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			engine := New(nil)
			got, err := engine.EvaluateAll(context.Background(), tt.rules, userCtx, staticCounts(tt.counts))

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEngine_EvaluateAll_ShortCircuit(t *testing.T) {
	t.Parallel()

	calls := 0
	countFn := func(_ context.Context, _ string) (int64, error) {
		calls++
		return 0, nil
	}

	rules := []campaign.Rule{
		// Fails immediately; the event rule behind it must never run.
		{Kind: campaign.RuleKindUserProperty, Field: "plan", Operator: campaign.OpEquals, Value: "enterprise"},
		{Kind: campaign.RuleKindEvent, Field: "purchase", Operator: campaign.OpGreaterThan, Value: 0},
	}

	got, err := New(nil).EvaluateAll(context.Background(), rules, map[string]any{"plan": "free"}, countFn)

	require.NoError(t, err)
	assert.False(t, got)
	assert.Zero(t, calls, "event counts must not be fetched after a failing rule")
}

func TestEngine_EvaluateAll_EventStoreFailure(t *testing.T) {
	t.Parallel()

	countFn := func(_ context.Context, _ string) (int64, error) {
		return 0, errors.New("connection refused")
	}

	rules := []campaign.Rule{
		{Kind: campaign.RuleKindEvent, Field: "purchase", Operator: campaign.OpGreaterThan, Value: 0},
	}

	_, err := New(nil).EvaluateAll(context.Background(), rules, nil, countFn)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "purchase")
}
