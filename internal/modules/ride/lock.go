// README: Per-ride mutual exclusion. One in-flight mutation per ride id, none across ids.
package ride

import (
	"context"
	"sync"

	"bora/internal/types"
)

// Locker serialises work on a single ride id. Lock blocks until the id is free or
// ctx is done; the returned unlock must be called exactly once.
type Locker interface {
	Lock(ctx context.Context, id types.ID) (func(), error)
}

type lockEntry struct {
	sem  chan struct{}
	refs int
}

// KeyedMutex is the in-process Locker. Entries are reference counted so the map
// only holds ids that somebody is holding or waiting on.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[types.ID]*lockEntry
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[types.ID]*lockEntry)}
}

func (k *KeyedMutex) Lock(ctx context.Context, id types.ID) (func(), error) {
	k.mu.Lock()
	e, ok := k.locks[id]
	if !ok {
		e = &lockEntry{sem: make(chan struct{}, 1)}
		k.locks[id] = e
	}
	e.refs++
	k.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		k.release(id, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			k.release(id, e)
		})
	}, nil
}

func (k *KeyedMutex) release(id types.ID, e *lockEntry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(k.locks, id)
	}
}

// held returns how many ids currently have holders or waiters.
func (k *KeyedMutex) held() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
