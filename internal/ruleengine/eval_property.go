package ruleengine

import (
	"strings"

	"github.com/nudgekit/herald/internal/campaign"
)

// evalUserProperty applies a user_property rule against the resolved
// user context.
//
// Operator semantics follow the SDK contract exactly:
//   - equals/not_equals compare loosely (numeric when both sides parse
//     as numbers, string comparison otherwise).
//   - relational operators coerce both sides to numbers and fail when
//     either side is not numeric.
//   - contains/not_contains coerce both sides to strings.
//   - set/not_set test presence and ignore the rule value.
//   - unknown operators never exclude a candidate (permissive default,
//     required for forward compatibility with newer dashboards).
//
// An absent attribute behaves like an absent value everywhere: it fails
// equals, passes not_equals, fails every relational operator, and makes
// not_set true.
func evalUserProperty(rule campaign.Rule, userCtx map[string]any) bool {
	val, exists := userCtx[rule.FieldName()]
	if val == nil {
		exists = false
	}

	switch rule.Operator {
	case campaign.OpEquals:
		return exists && looseEquals(val, rule.Value)
	case campaign.OpNotEquals:
		return !exists || !looseEquals(val, rule.Value)
	case campaign.OpGreaterThan, campaign.OpGreaterThanOrEqual,
		campaign.OpLessThan, campaign.OpLessThanOrEqual:
		return compareNumeric(val, rule.Value, rule.Operator)
	case campaign.OpContains:
		return exists && strings.Contains(coerceString(val), coerceString(rule.Value))
	case campaign.OpNotContains:
		return !exists || !strings.Contains(coerceString(val), coerceString(rule.Value))
	case campaign.OpSet:
		return exists
	case campaign.OpNotSet:
		return !exists
	default:
		return true
	}
}

// compareNumeric coerces both sides to numbers and applies op.
// Non-numeric operands fail the comparison outright.
func compareNumeric(left, right any, op campaign.Operator) bool {
	l, okL := coerceNumber(left)
	r, okR := coerceNumber(right)
	if !okL || !okR {
		return false
	}

	switch op {
	case campaign.OpGreaterThan:
		return l > r
	case campaign.OpGreaterThanOrEqual:
		return l >= r
	case campaign.OpLessThan:
		return l < r
	case campaign.OpLessThanOrEqual:
		return l <= r
	}
	return false
}

// looseEquals compares two values the way the SDK's loose equality does:
// numerically when both sides parse as numbers, as strings otherwise.
// This keeps `{"plan": "5"}` matching a rule with value 5.
func looseEquals(left, right any) bool {
	if l, ok := coerceNumber(left); ok {
		if r, ok := coerceNumber(right); ok {
			return l == r
		}
	}
	return coerceString(left) == coerceString(right)
}
