package eviction

import (
	"errors"
	"fmt"
	"strings"

	"signal-quota-service/internal/signals"
)

// Policy is a single eviction strategy. Implementations allow the controller to
// chain strategies without knowing how each one picks its victims.
type Policy interface {
	// Evict removes entries from candidates until their total size is at or under soft,
	// but only when the total is strictly over hard. Every removed entry is appended
	// to out.ToRemove.
	//
	// It returns false when no removal was necessary, in which case neither candidates
	// nor out has been touched (not even reordered).
	Evict(owner string, candidates *[]signals.Signal, out *signals.UpdateOutput, soft, hard int64) bool
}

// PolicyFunc adapts an ordinary function to the Policy interface.
type PolicyFunc func(owner string, candidates *[]signals.Signal, out *signals.UpdateOutput, soft, hard int64) bool

func (f PolicyFunc) Evict(owner string, candidates *[]signals.Signal, out *signals.UpdateOutput, soft, hard int64) bool {
	return f(owner, candidates, out, soft, hard)
}

// Stats describes a single eviction run for telemetry.
type Stats struct {
	Evicted       int
	ResultingSize int64
	MaxEntrySize  int64
	MinEntrySize  int64
}

// Reporter receives per-run eviction stats. Reporting is best-effort.
type Reporter interface {
	ReportEviction(owner string, stats Stats)
}

type options struct {
	reporter Reporter
}

// Option configures a policy built by this package.
type Option func(*options)

// WithReporter attaches a telemetry reporter to the policy.
func WithReporter(r Reporter) Option {
	return func(o *options) {
		o.reporter = r
	}
}

// Policy names accepted by NewPolicy.
const (
	OldestFirst = "oldest_first"
	fifoAlias   = "fifo"
)

var ErrUnknownPolicy = errors.New("eviction: unknown policy")

// NewPolicy builds a policy by its configured name.
func NewPolicy(name string, opts ...Option) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case OldestFirst, fifoAlias:
		return NewOldestFirst(opts...), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPolicy, name)
	}
}

// NewChain builds policies for each name, preserving order.
func NewChain(names []string, opts ...Option) ([]Policy, error) {
	chain := make([]Policy, 0, len(names))
	for _, name := range names {
		p, err := NewPolicy(name, opts...)
		if err != nil {
			return nil, err
		}
		chain = append(chain, p)
	}
	return chain, nil
}

// mustValidate panics on caller contract violations. It runs before any mutation.
func mustValidate(candidates *[]signals.Signal, out *signals.UpdateOutput, soft, hard int64) {
	if candidates == nil {
		panic("eviction: nil candidates")
	}
	if out == nil {
		panic("eviction: nil update output")
	}
	if soft < 0 || hard < 0 {
		panic(fmt.Sprintf("eviction: negative limits (soft=%d, hard=%d)", soft, hard))
	}
	if soft > hard {
		panic(fmt.Sprintf("eviction: soft limit %d exceeds hard limit %d", soft, hard))
	}
}
