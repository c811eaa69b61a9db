package lockmgr

import (
	"hash/fnv"
	"sync"

	"github.com/bridgefs/bridgefs/pkg/utils"
)

const tableShards = 32

// lockTable is a striped concurrent map from canonical path key to lock.
// Allocation and reclamation both run under the key's shard mutex, which
// gives the compute-if-absent / conditional-remove atomicity the reclamation
// protocol depends on.
type lockTable struct {
	name   string
	log    *utils.StructuredLogger
	shards [tableShards]tableShard
}

type tableShard struct {
	mu    sync.Mutex
	locks map[string]*fairRWMutex
}

func newLockTable(name string, log *utils.StructuredLogger) *lockTable {
	t := &lockTable{name: name, log: log}
	for i := range t.shards {
		t.shards[i].locks = make(map[string]*fairRWMutex)
	}
	return t
}

func (t *lockTable) shard(key string) *tableShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &t.shards[h.Sum32()%tableShards]
}

// get returns the lock for key, inserting a fresh one if absent.
func (t *lockTable) get(key string) *fairRWMutex {
	s := t.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &fairRWMutex{}
		s.locks[key] = l
		t.log.Trace("creating lock", map[string]interface{}{"table": t.name, "path": key})
	}
	return l
}

// removeIfUnused drops the entry for key when its lock is provably idle:
// the write side can be taken without blocking and nobody is queued. The
// whole check-and-remove runs under the shard mutex, so a concurrent
// acquirer either observed the entry before removal (and is counted as a
// waiter) or will insert a fresh entry afterwards.
func (t *lockTable) removeIfUnused(key string) {
	s := t.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		return
	}
	if l.TryLock() {
		if !l.HasWaiters() {
			delete(s.locks, key)
			t.log.Trace("removing lock", map[string]interface{}{"table": t.name, "path": key})
		}
		l.Unlock()
	}
}

// contains reports whether an entry exists for key.
func (t *lockTable) contains(key string) bool {
	s := t.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.locks[key]
	return ok
}

// size returns the total number of entries across all shards.
func (t *lockTable) size() int {
	n := 0
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.Lock()
		n += len(s.locks)
		s.mu.Unlock()
	}
	return n
}
