package values

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/ha1tch/olu-graph/pkg/models"
)

// entityLocks serializes writers per entity. Entries are dropped once no
// goroutine holds or waits for them.
type entityLocks struct {
	mu    sync.Mutex
	locks map[models.IRI]*entityLock
}

type entityLock struct {
	ch   chan struct{}
	refs int
}

func newEntityLocks() *entityLocks {
	return &entityLocks{locks: make(map[models.IRI]*entityLock)}
}

// acquire blocks until the lock for id is held or ctx is done
func (l *entityLocks) acquire(ctx context.Context, id models.IRI) (func(), error) {
	l.mu.Lock()
	lock, ok := l.locks[id]
	if !ok {
		lock = &entityLock{ch: make(chan struct{}, 1)}
		l.locks[id] = lock
	}
	lock.refs++
	l.mu.Unlock()

	select {
	case lock.ch <- struct{}{}:
		return func() {
			<-lock.ch
			l.release(id, lock)
		}, nil
	case <-ctx.Done():
		l.release(id, lock)
		return nil, errors.Wrapf(ctx.Err(), "waiting for lock on <%s>", id)
	}
}

func (l *entityLocks) release(id models.IRI, lock *entityLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock.refs--
	if lock.refs == 0 {
		delete(l.locks, id)
	}
}

func (l *entityLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
