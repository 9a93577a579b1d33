package eviction

import (
	"errors"
	"fmt"
	"slices"

	"signal-quota-service/internal/signals"
)

var (
	ErrInvalidLimits = errors.New("eviction: invalid limits")
	ErrNoPolicies    = errors.New("eviction: empty policy chain")
)

// Limits holds the two byte thresholds applied to every owner.
type Limits struct {
	Soft int64 // size to trim down to once eviction runs
	Hard int64 // size that must be exceeded before eviction runs
}

// Validate checks 0 <= Soft <= Hard.
func (l Limits) Validate() error {
	if l.Soft < 0 || l.Hard < 0 {
		return fmt.Errorf("%w: negative limit (soft=%d, hard=%d)", ErrInvalidLimits, l.Soft, l.Hard)
	}
	if l.Soft > l.Hard {
		return fmt.Errorf("%w: soft limit %d exceeds hard limit %d", ErrInvalidLimits, l.Soft, l.Hard)
	}
	return nil
}

// Controller runs an ordered chain of policies as a waterfall: the first policy that
// reports no action ends the run.
//
// A Controller holds no per-call state and may be shared by goroutines, but each
// Enforce call needs exclusive access to its candidates and output.
type Controller struct {
	policies []Policy
	limits   Limits
}

// NewController creates a controller over the given chain.
func NewController(policies []Policy, limits Limits) (*Controller, error) {
	if len(policies) == 0 {
		return nil, ErrNoPolicies
	}
	if err := limits.Validate(); err != nil {
		return nil, err
	}
	return &Controller{
		policies: slices.Clone(policies),
		limits:   limits,
	}, nil
}

// DefaultController is a single oldest-first policy.
func DefaultController(limits Limits, opts ...Option) (*Controller, error) {
	return NewController([]Policy{NewOldestFirst(opts...)}, limits)
}

// Enforce brings candidates back within the configured limits for one owner.
func (c *Controller) Enforce(owner string, candidates *[]signals.Signal, out *signals.UpdateOutput) {
	for _, p := range c.policies {
		if !p.Evict(owner, candidates, out, c.limits.Soft, c.limits.Hard) {
			return
		}
	}
}

// Limits returns the configured thresholds.
func (c *Controller) Limits() Limits { return c.limits }

// Len returns the number of policies in the chain.
func (c *Controller) Len() int { return len(c.policies) }
