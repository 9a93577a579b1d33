package store

import (
	"encoding/json"
	"io"
	"sort"
	"sync"
	"time"

	"signal-quota-service/internal/signals"
)

// Store is a thread-safe in-memory signal store partitioned by owner
type Store struct {
	mu     sync.RWMutex
	nextID int64
	owners map[string]map[int64]signals.Signal
}

// snapshot is the serialized form of the store
type snapshot struct {
	NextID  int64                       `json:"next_id"`
	Signals map[string][]signals.Signal `json:"signals"`
}

// New creates a new Store
func New() *Store {
	return &Store{
		owners: make(map[string]map[int64]signals.Signal),
	}
}

// SignalsByOwner returns a copy of the owner's signals ordered by ID
func (s *Store) SignalsByOwner(owner string) []signals.Signal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedByID(s.owners[owner])
}

// InsertAndDelete inserts add and deletes remove for one owner in a single step.
// Inserted signals get a fresh ID, the owner, and creationTime = now.
// Signals in remove are matched by ID; unknown IDs are ignored.
func (s *Store) InsertAndDelete(owner string, now time.Time, add, remove []signals.Signal) []signals.Signal {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.owners[owner]
	for _, r := range remove {
		delete(rows, r.ID)
	}

	inserted := make([]signals.Signal, 0, len(add))
	if len(add) > 0 && rows == nil {
		rows = make(map[int64]signals.Signal)
		s.owners[owner] = rows
	}
	for _, a := range add {
		s.nextID++
		a.ID = s.nextID
		a.Owner = owner
		a.CreationTime = now
		rows[a.ID] = a
		inserted = append(inserted, a)
	}

	if len(rows) == 0 {
		delete(s.owners, owner)
	}
	return inserted
}

// DeleteOwner removes every signal for an owner
func (s *Store) DeleteOwner(owner string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.owners, owner)
}

// Owners lists owners with at least one signal
func (s *Store) Owners() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	owners := make([]string, 0, len(s.owners))
	for o := range s.owners {
		owners = append(owners, o)
	}
	sort.Strings(owners)
	return owners
}

// Snapshot writes the entire store to w
func (s *Store) Snapshot(w io.Writer) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := snapshot{
		NextID:  s.nextID,
		Signals: make(map[string][]signals.Signal, len(s.owners)),
	}
	for owner, rows := range s.owners {
		snap.Signals[owner] = sortedByID(rows)
	}
	return json.NewEncoder(w).Encode(snap)
}

// Restore reads the store from r, replacing its contents
func (s *Store) Restore(r io.Reader) error {
	var snap snapshot
	if err := json.NewDecoder(r).Decode(&snap); err != nil {
		return err
	}

	owners := make(map[string]map[int64]signals.Signal, len(snap.Signals))
	for owner, xs := range snap.Signals {
		rows := make(map[int64]signals.Signal, len(xs))
		for _, x := range xs {
			rows[x.ID] = x
		}
		owners[owner] = rows
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID = snap.NextID
	s.owners = owners
	return nil
}

func sortedByID(rows map[int64]signals.Signal) []signals.Signal {
	out := make([]signals.Signal, 0, len(rows))
	for _, r := range rows {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
