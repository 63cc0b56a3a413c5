package bot

import "sync"

// threadLocker serialises turns on the same (bot, thread) pair.
// Entries are reference counted and dropped once no turn holds them.
type threadLocker struct {
	mu    sync.Mutex
	locks map[string]*threadLock
}

type threadLock struct {
	mu   sync.Mutex
	refs int
}

func newThreadLocker() *threadLocker {
	return &threadLocker{locks: make(map[string]*threadLock)}
}

// Lock blocks until the key is free and returns the matching unlock func.
func (l *threadLocker) Lock(key string) func() {
	l.mu.Lock()
	tl, ok := l.locks[key]
	if !ok {
		tl = &threadLock{}
		l.locks[key] = tl
	}
	tl.refs++
	l.mu.Unlock()

	tl.mu.Lock()
	return func() {
		tl.mu.Unlock()
		l.mu.Lock()
		tl.refs--
		if tl.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}

func (l *threadLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
