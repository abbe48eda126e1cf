// Package ruleengine provides the core logic for campaign targeting
// evaluation. It is a pure decision layer: callers supply the user context
// and a callback for event counts, and the engine returns a boolean match.
package ruleengine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nudgekit/herald/internal/campaign"
)

// EventCountFunc returns how many times the user performed the named event.
// The delivery layer binds this to the event store for the requesting
// (organization, user) pair so the engine stays storage-agnostic.
type EventCountFunc func(ctx context.Context, eventType string) (int64, error)

// Engine evaluates campaign targeting rules against a user context.
type Engine struct {
	logger *slog.Logger
}

// New creates a new Engine.
// If logger is nil, it defaults to slog.Default().
func New(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{logger: logger}
}

// EvaluateAll checks every targeting rule of a campaign against the user
// context. The top-level combination is logical AND: the campaign matches
// only if all rules pass. Evaluation short-circuits on the first failing
// rule, so event counts are never fetched once the outcome is known.
//
// A non-nil error means a dependency (the event store) failed mid-flight;
// the caller decides how to degrade.
func (e *Engine) EvaluateAll(ctx context.Context, rules []campaign.Rule, userCtx map[string]any, countFn EventCountFunc) (bool, error) {
	for _, rule := range rules {
		ok, err := e.evaluate(ctx, rule, userCtx, countFn)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// evaluate dispatches a single rule by kind.
func (e *Engine) evaluate(ctx context.Context, rule campaign.Rule, userCtx map[string]any, countFn EventCountFunc) (bool, error) {
	switch rule.Kind {
	case campaign.RuleKindGroup:
		// Group composition is not implemented yet; groups always pass.
		e.logger.Debug("skipping group rule", slog.String("field", rule.FieldName()))
		return true, nil

	case campaign.RuleKindUserProperty:
		return evalUserProperty(rule, userCtx), nil

	case campaign.RuleKindEvent:
		if countFn == nil {
			return false, fmt.Errorf("event rule %q requires an event counter", rule.FieldName())
		}
		count, err := countFn(ctx, rule.FieldName())
		if err != nil {
			return false, fmt.Errorf("count events for rule %q: %w", rule.FieldName(), err)
		}
		return evalEventCount(rule, count), nil

	default:
		// Unknown kinds never exclude a candidate (same contract as
		// unknown operators); log so bad documents stay visible.
		e.logger.Warn("skipping unknown rule kind", slog.String("kind", string(rule.Kind)))
		return true, nil
	}
}
