// Package keystore owns the in-memory pool of key records.
//
// Records live in a fixed set of shards chosen by hashing the identifier. Each
// shard guards its map with an RWMutex and each entry carries its own mutex, so
// writers on different keys never contend on a single lock. Callers only ever
// receive copies.
package keystore

import (
	"sync"

	"github.com/zeebo/xxh3"

	"github.com/keyrotor/keyrotor/internal/core"
)

// DefaultShards is the shard count used by New.
const DefaultShards = 32

type entry struct {
	mu     sync.Mutex
	record core.KeyRecord
}

type shard struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// Store is a concurrency-safe identifier -> KeyRecord mapping.
type Store struct {
	shards []*shard
}

// New creates an empty store with DefaultShards shards.
func New() *Store {
	return NewWithShards(DefaultShards)
}

// NewWithShards creates an empty store with n shards (minimum 1).
func NewWithShards(n int) *Store {
	if n < 1 {
		n = 1
	}
	s := &Store{shards: make([]*shard, n)}
	for i := range s.shards {
		s.shards[i] = &shard{entries: make(map[string]*entry)}
	}
	return s
}

func (s *Store) shardFor(id string) *shard {
	return s.shards[xxh3.HashString(id)%uint64(len(s.shards))]
}

// Insert stores record under its identifier, replacing any existing entry.
func (s *Store) Insert(record core.KeyRecord) {
	sh := s.shardFor(record.Key)
	sh.mu.Lock()
	sh.entries[record.Key] = &entry{record: record.Clone()}
	sh.mu.Unlock()
}

// InsertIfAbsent stores record only when its identifier is not already
// present and reports whether it did.
func (s *Store) InsertIfAbsent(record core.KeyRecord) bool {
	sh := s.shardFor(record.Key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.entries[record.Key]; ok {
		return false
	}
	sh.entries[record.Key] = &entry{record: record.Clone()}
	return true
}

// Replace discards all entries and loads records in their place.
func (s *Store) Replace(records []core.KeyRecord) {
	for _, sh := range s.shards {
		sh.mu.Lock()
		sh.entries = make(map[string]*entry)
		sh.mu.Unlock()
	}
	for _, record := range records {
		s.Insert(record)
	}
}

// Remove deletes id and reports whether it existed.
func (s *Store) Remove(id string) bool {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.entries[id]; !ok {
		return false
	}
	delete(sh.entries, id)
	return true
}

// Mutate applies fn to the record stored under id while holding its lock.
// It returns false without calling fn when id is absent.
//
// The shard read lock stays held until fn returns, so a concurrent Remove
// waits rather than leaving the write on a detached entry.
func (s *Store) Mutate(id string, fn func(*core.KeyRecord)) bool {
	sh := s.shardFor(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	e, ok := sh.entries[id]
	if !ok {
		return false
	}
	e.mu.Lock()
	fn(&e.record)
	e.mu.Unlock()
	return true
}

// MutateAll applies fn to every record, one entry lock at a time.
// fn reports whether it changed the record; the count of changes is returned.
func (s *Store) MutateAll(fn func(*core.KeyRecord) bool) int {
	changed := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, e := range sh.entries {
			e.mu.Lock()
			if fn(&e.record) {
				changed++
			}
			e.mu.Unlock()
		}
		sh.mu.RUnlock()
	}
	return changed
}

// Get returns a copy of the record stored under id.
func (s *Store) Get(id string) (core.KeyRecord, bool) {
	sh := s.shardFor(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	e, ok := sh.entries[id]
	if !ok {
		return core.KeyRecord{}, false
	}
	e.mu.Lock()
	record := e.record.Clone()
	e.mu.Unlock()
	return record, true
}

// Snapshot copies every record. Each copy is taken under that entry's lock;
// the set as a whole is not frozen against concurrent writers.
func (s *Store) Snapshot() []core.KeyRecord {
	records := make([]core.KeyRecord, 0, s.Len())
	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, e := range sh.entries {
			e.mu.Lock()
			records = append(records, e.record.Clone())
			e.mu.Unlock()
		}
		sh.mu.RUnlock()
	}
	return records
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	total := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		total += len(sh.entries)
		sh.mu.RUnlock()
	}
	return total
}

// CountByStatus returns how many records currently have status.
func (s *Store) CountByStatus(status core.KeyStatus) int {
	count := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, e := range sh.entries {
			e.mu.Lock()
			if e.record.Status == status {
				count++
			}
			e.mu.Unlock()
		}
		sh.mu.RUnlock()
	}
	return count
}

// Stats summarizes the pool by status.
func (s *Store) Stats() core.PoolStats {
	var stats core.PoolStats
	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, e := range sh.entries {
			e.mu.Lock()
			if e.record.Status == core.KeyStatusActive {
				stats.ActiveKeys++
			}
			e.mu.Unlock()
			stats.TotalKeys++
		}
		sh.mu.RUnlock()
	}
	stats.InactiveKeys = stats.TotalKeys - stats.ActiveKeys
	return stats
}
