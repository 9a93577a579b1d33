package sharding

import (
	"hash/crc32"
	"sort"
	"strconv"
	"sync"
)

// Hash maps bytes to uint32
type Hash func(data []byte) uint32

// Map contains all hashed keys
type Map struct {
	hash         Hash
	virtualNodes int
	keys         []int // Sorted
	hashMap      map[int]string
	mu           sync.RWMutex
}

// New creates a new Map object
func New(virtualNodes int, fn Hash) *Map {
	m := &Map{
		virtualNodes: virtualNodes,
		hash:         fn,
		hashMap:      make(map[int]string),
	}
	if m.hash == nil {
		m.hash = crc32.ChecksumIEEE
	}
	return m
}

// Add adds some keys to the hash.
func (m *Map) Add(keys ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		for i := 0; i < m.virtualNodes; i++ {
			hash := int(m.hash([]byte(strconv.Itoa(i) + key)))
			m.keys = append(m.keys, hash)
			m.hashMap[hash] = key
		}
	}
	sort.Ints(m.keys)
}

// Get gets the closest item in the hash to the provided key.
func (m *Map) Get(key string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.keys) == 0 {
		return ""
	}

	hash := int(m.hash([]byte(key)))

	// Binary search for appropriate replica
	idx := sort.Search(len(m.keys), func(i int) bool {
		return m.keys[i] >= hash
	})

	// If we have gone past the end, go back to the start
	if idx == len(m.keys) {
		idx = 0
	}

	return m.hashMap[m.keys[idx]]
}

// Striped serializes work per owner with a fixed pool of mutexes placed on a ring.
// Work for one owner always lands on the same stripe; different owners usually don't.
type Striped struct {
	ring  *Map
	locks map[string]*sync.Mutex
}

const stripeVirtualNodes = 16

// NewStriped creates a lock pool with n stripes (at least one).
func NewStriped(n int) *Striped {
	if n < 1 {
		n = 1
	}
	s := &Striped{
		ring:  New(stripeVirtualNodes, nil),
		locks: make(map[string]*sync.Mutex, n),
	}
	names := make([]string, 0, n)
	for i := 0; i < n; i++ {
		name := "stripe-" + strconv.Itoa(i)
		names = append(names, name)
		s.locks[name] = &sync.Mutex{}
	}
	s.ring.Add(names...)
	return s
}

// Stripe returns the stripe name owning key.
func (s *Striped) Stripe(key string) string {
	return s.ring.Get(key)
}

// Lock acquires key's stripe and returns the matching unlock func.
func (s *Striped) Lock(key string) func() {
	mu := s.locks[s.ring.Get(key)]
	mu.Lock()
	return mu.Unlock
}
