package ruleengine

import (
	"github.com/nudgekit/herald/internal/campaign"
)

// evalEventCount applies an event rule against the user's historical count
// for the event type. Only relational comparisons are meaningful here; a
// rule value that is not numeric fails every comparison (mirroring a NaN
// operand), and unknown operators keep the permissive default.
func evalEventCount(rule campaign.Rule, count int64) bool {
	switch rule.Operator {
	case campaign.OpEquals, campaign.OpNotEquals,
		campaign.OpGreaterThan, campaign.OpGreaterThanOrEqual,
		campaign.OpLessThan, campaign.OpLessThanOrEqual:
	default:
		return true
	}

	target, ok := coerceNumber(rule.Value)
	if !ok {
		return false
	}
	c := float64(count)

	switch rule.Operator {
	case campaign.OpEquals:
		return c == target
	case campaign.OpNotEquals:
		return c != target
	case campaign.OpGreaterThan:
		return c > target
	case campaign.OpGreaterThanOrEqual:
		return c >= target
	case campaign.OpLessThan:
		return c < target
	case campaign.OpLessThanOrEqual:
		return c <= target
	}
	return true
}
