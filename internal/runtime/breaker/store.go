package breaker

import (
	"sync"
	"time"
)

// Key identifies the breaker guarding one (service, operation) pair.
type Key struct {
	Service   string
	Operation string
}

// Record is the persisted state of one breaker. Counters are int64 so
// implementations can map them onto atomic or database-backed counters.
// A zero Record is a closed breaker that has never seen traffic.
type Record struct {
	State            State
	WindowStart      time.Time
	Requests         int64
	Failures         int64
	Successes        int64
	Rejected         int64
	TimedCalls       int64
	TotalDurationNs  int64
	OpenedAt         time.Time
	RecoveryOverride time.Duration
	LastFailure      time.Time
	LastTransition   time.Time
	Probing          bool
}

// StateStore persists breaker records. Update must apply fn as one atomic
// read-modify-write for the key, creating a zero Record when none exists;
// that is what keeps the state machine correct under concurrent calls.
type StateStore interface {
	// Get returns a copy of the record for key, and whether one exists.
	Get(key Key) (Record, bool)
	// Update applies fn to the record for key under the store's write lock.
	Update(key Key, fn func(*Record))
	// Keys lists every key with a record, in no particular order.
	Keys() []Key
	// Delete removes the record for key, if any.
	Delete(key Key)
}

// MemoryStore keeps breaker records in process memory. It is the default
// store and safe for concurrent use.
type MemoryStore struct {
	mu      sync.Mutex
	records map[Key]*Record
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[Key]*Record{}}
}

func (s *MemoryStore) Get(key Key) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

func (s *MemoryStore) Update(key Key, fn func(*Record)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		rec = &Record{}
		s.records[key] = rec
	}
	fn(rec)
}

func (s *MemoryStore) Keys() []Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]Key, 0, len(s.records))
	for k := range s.records {
		keys = append(keys, k)
	}
	return keys
}

func (s *MemoryStore) Delete(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
}
