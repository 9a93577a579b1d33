package eviction

import (
	"cmp"
	"math"
	"slices"

	"signal-quota-service/internal/signals"
)

// OldestFirstPolicy evicts signals in creation-time order, oldest first.
//
// Once the collection goes over the hard limit it is trimmed all the way down to the
// soft limit, so an owner sitting near the ceiling does not pay for eviction on every
// update.
type OldestFirstPolicy struct {
	reporter Reporter
}

// NewOldestFirst creates a new oldest-first policy instance.
func NewOldestFirst(opts ...Option) *OldestFirstPolicy {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return &OldestFirstPolicy{reporter: o.reporter}
}

func (p *OldestFirstPolicy) Evict(owner string, candidates *[]signals.Signal, out *signals.UpdateOutput, soft, hard int64) bool {
	mustValidate(candidates, out, soft, hard)

	xs := *candidates
	cur := signals.TotalSize(xs)
	if cur <= hard {
		return false
	}

	slices.SortStableFunc(xs, newestFirst)
	maxEntry, minEntry := signals.MaxSize(xs), signals.MinSize(xs)

	evicted := 0
	for cur > soft && len(xs) > 0 {
		last := len(xs) - 1
		victim := xs[last]
		xs[last] = signals.Signal{}
		xs = xs[:last]

		out.ToRemove = append(out.ToRemove, victim)
		cur -= signals.Size(victim)
		evicted++
	}
	*candidates = xs

	if p.reporter != nil {
		p.reporter.ReportEviction(owner, Stats{
			Evicted:       evicted,
			ResultingSize: cur,
			MaxEntrySize:  maxEntry,
			MinEntrySize:  minEntry,
		})
	}
	return true
}

// newestFirst orders by creation time descending, then by ID descending.
// An unpersisted signal (ID 0) ranks above every stored ID since the store will
// give it the next one. Entries equal in both keep their relative order under a
// stable sort.
func newestFirst(a, b signals.Signal) int {
	if c := b.CreationTime.Compare(a.CreationTime); c != 0 {
		return c
	}
	return cmp.Compare(idRank(b.ID), idRank(a.ID))
}

func idRank(id int64) int64 {
	if id == 0 {
		return math.MaxInt64
	}
	return id
}
