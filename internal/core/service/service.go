package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"signal-quota-service/internal/core/ports"
	"signal-quota-service/internal/eviction"
	"signal-quota-service/internal/observability"
	"signal-quota-service/internal/sharding"
	"signal-quota-service/internal/signals"
	"signal-quota-service/internal/updates"

	"github.com/hashicorp/go-hclog"
)

// ensure implementation
var _ ports.SignalService = (*ServiceImpl)(nil)

var (
	ErrNotLeader    = errors.New("not the leader")
	ErrInvalidOwner = errors.New("owner is required")
)

const defaultLockStripes = 64

type ServiceImpl struct {
	store      ports.SignalStore
	consensus  ports.Consensus
	controller *eviction.Controller
	pipeline   *updates.Pipeline
	locks      *sharding.Striped
	clock      ports.Clock
	logger     hclog.Logger
}

// Option configures a ServiceImpl.
type Option func(*ServiceImpl)

func WithClock(clock ports.Clock) Option {
	return func(s *ServiceImpl) { s.clock = clock }
}

func WithLogger(logger hclog.Logger) Option {
	return func(s *ServiceImpl) { s.logger = logger }
}

func WithPipeline(p *updates.Pipeline) Option {
	return func(s *ServiceImpl) { s.pipeline = p }
}

func WithLockStripes(n int) Option {
	return func(s *ServiceImpl) { s.locks = sharding.NewStriped(n) }
}

func New(store ports.SignalStore, consensus ports.Consensus, controller *eviction.Controller, opts ...Option) *ServiceImpl {
	s := &ServiceImpl{
		store:      store,
		consensus:  consensus,
		controller: controller,
		pipeline:   updates.New(),
		locks:      sharding.NewStriped(defaultLockStripes),
		clock:      time.Now,
		logger:     hclog.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Command definitions shared with Raft FSM
type CommandType string

const (
	InsertAndDeleteOp CommandType = "INSERT_AND_DELETE"
	DeleteOwnerOp     CommandType = "DELETE_OWNER"
)

type Command struct {
	Op     CommandType      `json:"op"`
	Owner  string           `json:"owner"`
	Now    time.Time        `json:"now"`
	Add    []signals.Signal `json:"add,omitempty"`
	Remove []signals.Signal `json:"remove,omitempty"`
}

// ProcessUpdates applies a raw update payload for one owner, enforces the owner's
// quota and commits the result through consensus.
func (s *ServiceImpl) ProcessUpdates(ctx context.Context, owner, pkg string, raw []byte) (res *ports.UpdateResult, err error) {
	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
		}
		observability.SignalUpdatesTotal.WithLabelValues(status).Inc()
		observability.SignalUpdateDurationSeconds.Observe(time.Since(start).Seconds())
	}()

	if owner == "" {
		return nil, ErrInvalidOwner
	}
	if !s.consensus.IsLeader() {
		return nil, ErrNotLeader
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(owner)
	defer unlock()

	// A new leader may still be applying entries from the previous term.
	if err := s.consensus.Barrier(); err != nil {
		return nil, fmt.Errorf("wait for applied state: %w", err)
	}

	current := s.store.SignalsByOwner(owner)
	out, err := s.pipeline.Process(raw, updates.GroupByKey(current))
	if err != nil {
		s.logger.Warn("rejected signal update", "owner", owner, "package", pkg, "error", err)
		return nil, fmt.Errorf("process updates for %s: %w", owner, err)
	}

	now := s.clock()
	candidates := mergeCandidates(current, out, owner, pkg, now)
	queued := len(out.ToRemove)
	s.controller.Enforce(owner, &candidates, out)
	evicted := len(out.ToRemove) - queued

	// New signals evicted in the same cycle are never inserted, so only
	// persisted rows need deleting.
	var add, remove []signals.Signal
	for _, c := range candidates {
		if c.ID == 0 {
			add = append(add, c)
		}
	}
	for _, r := range out.ToRemove {
		if r.ID != 0 {
			remove = append(remove, r)
		}
	}

	if len(add) > 0 || len(remove) > 0 {
		data, err := json.Marshal(Command{
			Op:     InsertAndDeleteOp,
			Owner:  owner,
			Now:    now,
			Add:    add,
			Remove: remove,
		})
		if err != nil {
			return nil, err
		}
		if err := s.consensus.Apply(data); err != nil {
			return nil, fmt.Errorf("commit updates for %s: %w", owner, err)
		}
	}

	if out.EncoderEvent != nil {
		s.logger.Info("encoder registration requested", "owner", owner, "endpoint", out.EncoderEvent.Endpoint)
	}
	s.logger.Debug("signal update committed",
		"owner", owner, "added", len(add), "removed", len(remove), "evicted", evicted)

	return &ports.UpdateResult{
		Kept:       len(candidates),
		Evicted:    evicted,
		TotalBytes: signals.TotalSize(candidates),
	}, nil
}

// mergeCandidates returns current minus out.ToRemove plus out.ToAdd, with new
// signals stamped for this owner.
func mergeCandidates(current []signals.Signal, out *signals.UpdateOutput, owner, pkg string, now time.Time) []signals.Signal {
	removed := make(map[int64]struct{}, len(out.ToRemove))
	for _, r := range out.ToRemove {
		removed[r.ID] = struct{}{}
	}

	candidates := make([]signals.Signal, 0, len(current)+len(out.ToAdd))
	for _, c := range current {
		if _, ok := removed[c.ID]; !ok {
			candidates = append(candidates, c)
		}
	}
	for _, a := range out.ToAdd {
		a.Owner = owner
		a.Package = pkg
		a.CreationTime = now
		candidates = append(candidates, a)
	}
	return candidates
}

func (s *ServiceImpl) Signals(ctx context.Context, owner string) ([]signals.Signal, error) {
	if owner == "" {
		return nil, ErrInvalidOwner
	}
	// Reads are served from the local store (eventual consistency on followers).
	return s.store.SignalsByOwner(owner), nil
}

func (s *ServiceImpl) DeleteOwner(ctx context.Context, owner string) error {
	if owner == "" {
		return ErrInvalidOwner
	}
	if !s.consensus.IsLeader() {
		return ErrNotLeader
	}

	unlock := s.locks.Lock(owner)
	defer unlock()

	data, err := json.Marshal(Command{Op: DeleteOwnerOp, Owner: owner})
	if err != nil {
		return err
	}
	return s.consensus.Apply(data)
}

func (s *ServiceImpl) Join(ctx context.Context, nodeID, addr string) error {
	return s.consensus.AddVoter(nodeID, addr)
}
