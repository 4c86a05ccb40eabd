// Package plan implements the data-driven duration and quota policy
// keyed by subscription tier.
package plan

import (
	"errors"
	"fmt"
	"time"

	"github.com/castwrite/castwrite/internal/config"
	"github.com/castwrite/castwrite/pkg/models"
)

var (
	ErrUnknownPlan      = errors.New("unknown plan tier")
	ErrDurationExceeded = errors.New("media duration exceeds plan limit")
)

// Policy answers duration questions for plan tiers. It is a pure lookup
// table built once from config; safe for concurrent use.
type Policy struct {
	limits map[models.PlanTier]config.PlanLimits
}

// NewPolicy builds a Policy from the configured tier table.
func NewPolicy(plans map[string]config.PlanLimits) *Policy {
	limits := make(map[models.PlanTier]config.PlanLimits, len(plans))
	for tier, l := range plans {
		limits[models.PlanTier(tier)] = l
	}
	return &Policy{limits: limits}
}

// MaxDuration returns the longest media duration the tier admits.
func (p *Policy) MaxDuration(tier models.PlanTier) (time.Duration, error) {
	l, ok := p.limits[tier]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownPlan, tier)
	}
	return l.MaxDuration, nil
}

// PostsPerCycle returns the tier's post budget for one billing cycle.
func (p *Policy) PostsPerCycle(tier models.PlanTier) (int, error) {
	l, ok := p.limits[tier]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownPlan, tier)
	}
	return l.PostsPerCycle, nil
}

// Enforce rejects media longer than the tier allows.
func (p *Policy) Enforce(tier models.PlanTier, duration time.Duration) error {
	max, err := p.MaxDuration(tier)
	if err != nil {
		return err
	}
	if duration > max {
		return fmt.Errorf("%w: %s > %s for plan %q", ErrDurationExceeded, duration.Round(time.Second), max, tier)
	}
	return nil
}
