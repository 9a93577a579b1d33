package ports

import (
	"context"
	"time"

	"signal-quota-service/internal/signals"
)

// UpdateResult summarizes one committed update for an owner
type UpdateResult struct {
	Kept       int   `json:"kept"`        // signals stored for the owner after the update
	Evicted    int   `json:"evicted"`     // signals removed by quota enforcement
	TotalBytes int64 `json:"total_bytes"` // aggregate size of the kept signals
}

// SignalService maps incoming requests to business logic
type SignalService interface {
	ProcessUpdates(ctx context.Context, owner, pkg string, raw []byte) (*UpdateResult, error)
	Signals(ctx context.Context, owner string) ([]signals.Signal, error)
	DeleteOwner(ctx context.Context, owner string) error
	Join(ctx context.Context, nodeID, addr string) error
}

// SignalStore defines the read side of signal persistence.
// Writes go through Consensus so every replica applies them in the same order.
type SignalStore interface {
	SignalsByOwner(owner string) []signals.Signal
}

// Consensus defines the interface for distributed agreement
type Consensus interface {
	Apply(cmd []byte) error
	AddVoter(id, addr string) error
	IsLeader() bool
	// Barrier blocks until every committed command has been applied locally.
	Barrier() error
}

// Clock returns the current time
type Clock func() time.Time
