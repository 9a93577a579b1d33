package consensus

import (
	"encoding/json"
	"fmt"
	"io"

	"signal-quota-service/internal/core/service"
	"signal-quota-service/internal/store"

	"github.com/hashicorp/raft"
)

// FSM (Finite State Machine) implements the raft.FSM interface.
// It applies committed signal commands to the underlying store
// and manages snapshots of the state.
type FSM struct {
	store *store.Store
}

// NewFSM creates a new FSM instance backed by the provided store.
func NewFSM(s *store.Store) *FSM {
	return &FSM{
		store: s,
	}
}

// Apply applies a committed Raft log entry to the signal store.
// Every replica inserts with the leader's timestamp so IDs and creation
// times stay identical across the cluster.
func (f *FSM) Apply(log *raft.Log) interface{} {
	var c service.Command
	if err := json.Unmarshal(log.Data, &c); err != nil {
		return fmt.Errorf("failed to unmarshal command: %w", err)
	}

	switch c.Op {
	case service.InsertAndDeleteOp:
		f.store.InsertAndDelete(c.Owner, c.Now, c.Add, c.Remove)
	case service.DeleteOwnerOp:
		f.store.DeleteOwner(c.Owner)
	default:
		return fmt.Errorf("unknown command op: %s", c.Op)
	}
	return nil
}

// Snapshot returns a snapshot object
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	return &Snapshot{store: f.store}, nil
}

// Restore restores the signal store from a snapshot.
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	return f.store.Restore(rc)
}

// Snapshot implementation
type Snapshot struct {
	store *store.Store
}

func (s *Snapshot) Persist(sink raft.SnapshotSink) error {
	if err := s.store.Snapshot(sink); err != nil {
		_ = sink.Cancel()
		return err
	}
	return sink.Close()
}

func (s *Snapshot) Release() {}
