package campaign

// RuleKind is the discriminator for targeting rule payloads.
// It replaces the original SDK's duck-typed rule objects with a tagged
// union that the evaluator can dispatch over exhaustively.
type RuleKind string

const (
	// RuleKindUserProperty compares a user profile attribute with a value.
	RuleKindUserProperty RuleKind = "user_property"

	// RuleKindEvent compares the number of times the user performed an
	// event with a value (relational operators only).
	RuleKindEvent RuleKind = "event"

	// RuleKindGroup is a placeholder for recursive AND/OR composition.
	// It currently always passes; the SDK contract depends on that.
	RuleKindGroup RuleKind = "group"
)

// Operator names a comparison applied by a targeting rule.
type Operator string

const (
	OpEquals             Operator = "equals"
	OpNotEquals          Operator = "not_equals"
	OpGreaterThan        Operator = "greater_than"
	OpGreaterThanOrEqual Operator = "greater_than_or_equal"
	OpLessThan           Operator = "less_than"
	OpLessThanOrEqual    Operator = "less_than_or_equal"
	OpContains           Operator = "contains"
	OpNotContains        Operator = "not_contains"
	OpSet                Operator = "set"
	OpNotSet             Operator = "not_set"
)

// Rule is a single targeting predicate embedded in a campaign.
//
// The JSON shape keeps both "field" and the legacy "property" alias because
// existing dashboards emit either; FieldName resolves the precedence.
type Rule struct {
	Kind RuleKind `json:"type"`

	// Field is the profile attribute name (user_property) or the event
	// type name (event).
	Field string `json:"field,omitempty"`

	// Property is the legacy alias for Field, kept for stored documents
	// written by older dashboard versions.
	Property string `json:"property,omitempty"`

	Operator Operator `json:"operator,omitempty"`

	// Value is the comparison operand as supplied (string or number).
	Value any `json:"value,omitempty"`
}

// FieldName returns the attribute or event name this rule targets,
// preferring the legacy "property" key when both are present, matching
// the behavior of the previous backend.
func (r Rule) FieldName() string {
	if r.Property != "" {
		return r.Property
	}
	return r.Field
}
