// Package lockmgr provides path-based read/write locking over a virtual
// file system tree. It coordinates arbitrarily many concurrent operations
// touching overlapping path prefixes without deadlock, allocating locks
// lazily and reclaiming them eagerly once they fall idle.
package lockmgr

import (
	"github.com/bridgefs/bridgefs/pkg/utils"
)

// Manager provides hierarchical path-based locking for a virtual file system
// tree. Two independent lock namespaces are maintained per path: the path
// lock guards the name-space relationship at that path (existence, the
// parent-child edge), the data lock guards the file content behind it.
//
// Acquiring a path lock read-locks every ancestor first, root to leaf, so a
// writer at /a/b excludes operations underneath /a/b while leaving disjoint
// subtrees fully concurrent. Locks are allocated on demand and reclaimed as
// soon as they fall idle.
//
//	pathLock := mgr.LockPathForReading("/foo/bar/baz")
//	defer pathLock.Unlock()
//	dataLock := pathLock.LockDataForWriting()
//	defer dataLock.Unlock()
type Manager struct {
	pathLocks *lockTable
	dataLocks *lockTable
	log       *utils.StructuredLogger
}

// New creates an empty lock manager.
func New() *Manager {
	log := utils.DefaultLogger().WithComponent("lockmgr")
	return &Manager{
		pathLocks: newLockTable("path", log),
		dataLocks: newLockTable("data", log),
		log:       log,
	}
}

type lockedKey struct {
	key   string
	write bool
}

// LockPathForReading acquires a read lock on the path and read locks on all
// of its ancestors. It blocks until the locks are granted and never fails.
func (m *Manager) LockPathForReading(path string) *PathLock {
	return m.lockPath(path, false)
}

// LockPathForWriting acquires a write lock on the path and read locks on all
// of its ancestors.
func (m *Manager) LockPathForWriting(path string) *PathLock {
	return m.lockPath(path, true)
}

func (m *Manager) lockPath(path string, write bool) *PathLock {
	if path == "" {
		panic("lockmgr: path must not be empty")
	}
	components := utils.SplitPath(path)
	keys := make([]lockedKey, 0, len(components)+1)
	for i := 0; i < len(components); i++ {
		keys = append(keys, lockedKey{key: utils.JoinPath(components[:i])})
	}
	keys = append(keys, lockedKey{key: utils.JoinPath(components), write: write})
	m.acquire(keys)
	return &PathLock{mgr: m, path: keys[len(keys)-1].key, keys: keys}
}

// LockPathPairForWriting write-locks two paths at once, together with read
// locks on the union of their ancestors. All locks are acquired in
// lexicographic component-sequence order, the same global order every other
// acquisition follows, so two concurrent pair acquisitions over crossing
// paths cannot deadlock. Shared ancestors are locked exactly once.
func (m *Manager) LockPathPairForWriting(a, b string) *PairLock {
	if a == "" || b == "" {
		panic("lockmgr: path must not be empty")
	}
	modes := make(map[string]bool)
	collect := func(path string) string {
		components := utils.SplitPath(path)
		for i := 0; i < len(components); i++ {
			key := utils.JoinPath(components[:i])
			if _, ok := modes[key]; !ok {
				modes[key] = false
			}
		}
		target := utils.JoinPath(components)
		modes[target] = true
		return target
	}
	ka := collect(a)
	kb := collect(b)

	keys := make([]lockedKey, 0, len(modes))
	for key, write := range modes {
		keys = append(keys, lockedKey{key: key, write: write})
	}
	sortKeys(keys)
	m.acquire(keys)
	return &PairLock{mgr: m, a: ka, b: kb, keys: keys}
}

// acquire locks every key in slice order against the path-lock table.
func (m *Manager) acquire(keys []lockedKey) {
	for _, k := range keys {
		l := m.pathLocks.get(k.key)
		if k.write {
			l.Lock()
		} else {
			l.RLock()
		}
	}
}

// release unlocks in reverse acquisition order, attempting reclamation after
// each unlock.
func (m *Manager) release(keys []lockedKey) {
	for i := len(keys) - 1; i >= 0; i-- {
		k := keys[i]
		l := m.pathLocks.get(k.key)
		if k.write {
			l.Unlock()
		} else {
			l.RUnlock()
		}
		m.pathLocks.removeIfUnused(k.key)
	}
}

func (m *Manager) lockData(path string, write bool) *DataLock {
	l := m.dataLocks.get(path)
	if write {
		l.Lock()
	} else {
		l.RLock()
	}
	return &DataLock{mgr: m, path: path, write: write}
}

func (m *Manager) unlockData(path string, write bool) {
	l := m.dataLocks.get(path)
	if write {
		l.Unlock()
	} else {
		l.RUnlock()
	}
	m.dataLocks.removeIfUnused(path)
}

// IsPathLocked reports whether a path-lock entry currently exists for the
// path. Exposed for tests.
func (m *Manager) IsPathLocked(path string) bool {
	return m.pathLocks.contains(utils.CanonicalPath(path))
}

// PathLockCount returns the number of live path-lock entries.
func (m *Manager) PathLockCount() int {
	return m.pathLocks.size()
}

// DataLockCount returns the number of live data-lock entries.
func (m *Manager) DataLockCount() int {
	return m.dataLocks.size()
}

// PathLock is the scope handle for a held path lock. Release is LIFO: a
// PathLock must not be unlocked while a child lock or data lock obtained
// from it is still held.
type PathLock struct {
	mgr      *Manager
	path     string
	keys     []lockedKey
	released bool
}

// Unlock releases the path lock and its ancestor chain, leaf to root.
func (p *PathLock) Unlock() {
	if p.released {
		panic("lockmgr: PathLock unlocked twice")
	}
	p.released = true
	p.mgr.release(p.keys)
}

// LockChildForReading read-locks the immediate child of this path without
// re-acquiring the ancestor chain: this lock already covers it. Used when a
// caller holds the parent for writing and needs the child as well; the locks
// here are not reentrant, so re-walking the chain would self-deadlock.
func (p *PathLock) LockChildForReading(name string) *PathLock {
	return p.lockChild(name, false)
}

// LockChildForWriting write-locks the immediate child of this path.
func (p *PathLock) LockChildForWriting(name string) *PathLock {
	return p.lockChild(name, true)
}

func (p *PathLock) lockChild(name string, write bool) *PathLock {
	if name == "" {
		panic("lockmgr: child name must not be empty")
	}
	key := name
	if p.path != "" {
		key = p.path + utils.PathSeparator + name
	}
	keys := []lockedKey{{key: key, write: write}}
	p.mgr.acquire(keys)
	return &PathLock{mgr: p.mgr, path: key, keys: keys}
}

// LockDataForReading read-locks the data behind the locked path.
func (p *PathLock) LockDataForReading() *DataLock {
	return p.mgr.lockData(p.path, false)
}

// LockDataForWriting write-locks the data behind the locked path.
func (p *PathLock) LockDataForWriting() *DataLock {
	return p.mgr.lockData(p.path, true)
}

// PairLock is the scope handle for a pair of write-locked paths, as taken by
// rename.
type PairLock struct {
	mgr      *Manager
	a, b     string
	keys     []lockedKey
	released bool
}

// Unlock releases both paths and the ancestor union, in reverse acquisition
// order.
func (p *PairLock) Unlock() {
	if p.released {
		panic("lockmgr: PairLock unlocked twice")
	}
	p.released = true
	p.mgr.release(p.keys)
}

// LockDataForWriting write-locks the data behind one of the two paths held
// by this pair.
func (p *PairLock) LockDataForWriting(path string) *DataLock {
	key := utils.CanonicalPath(path)
	if key != p.a && key != p.b {
		panic("lockmgr: data lock requested for a path not held by this pair")
	}
	return p.mgr.lockData(key, true)
}

// DataLock is the scope handle for a held data lock.
type DataLock struct {
	mgr      *Manager
	path     string
	write    bool
	released bool
}

// Unlock releases the data lock.
func (d *DataLock) Unlock() {
	if d.released {
		panic("lockmgr: DataLock unlocked twice")
	}
	d.released = true
	d.mgr.unlockData(d.path, d.write)
}

// sortKeys orders keys by lexicographic component-sequence comparison.
func sortKeys(keys []lockedKey) {
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && utils.ComparePaths(keys[j].key, keys[j-1].key) < 0; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
}
