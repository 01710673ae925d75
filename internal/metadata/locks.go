package metadata

import "sync"

// parentLocks is a per-parent-directory mutex set guarding the
// read-resolve-propose critical sections in create/delete/init_upload, so
// two concurrent clients can never both observe a name as free and both
// propose CREATE_INODE/ADD_CHILD for it. Grounded on the reference
// implementation's DistributedLockManager (a refcounted per-key lock map),
// adapted to a Go sync.Mutex-per-key map guarded by its own mutex instead of
// Python's threading.Lock.
type parentLocks struct {
	mu    sync.Mutex
	locks map[uint64]*refcountedMutex
}

type refcountedMutex struct {
	mu  sync.Mutex
	ref int
}

func newParentLocks() *parentLocks {
	return &parentLocks{locks: make(map[uint64]*refcountedMutex)}
}

// Lock acquires the mutex for parentID, creating it on first use. The
// returned unlock function must be called exactly once to release the lock
// and, once unreferenced, free its entry.
func (p *parentLocks) Lock(parentID uint64) func() {
	p.mu.Lock()
	rm, ok := p.locks[parentID]
	if !ok {
		rm = &refcountedMutex{}
		p.locks[parentID] = rm
	}
	rm.ref++
	p.mu.Unlock()

	rm.mu.Lock()

	return func() {
		rm.mu.Unlock()

		p.mu.Lock()
		rm.ref--
		if rm.ref == 0 {
			delete(p.locks, parentID)
		}
		p.mu.Unlock()
	}
}
