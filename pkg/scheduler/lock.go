package scheduler

import "sync"

// keyedMutex serialises work per key. Entries are dropped once no goroutine
// holds or waits for them.
type keyedMutex struct {
	mutex sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mutex sync.Mutex
	refs  int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedEntry)}
}

// Lock blocks until key is free and returns the matching unlock function
func (k *keyedMutex) Lock(key string) func() {
	k.mutex.Lock()
	entry, ok := k.locks[key]
	if !ok {
		entry = &keyedEntry{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mutex.Unlock()

	entry.mutex.Lock()

	return func() {
		entry.mutex.Unlock()

		k.mutex.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, key)
		}
		k.mutex.Unlock()
	}
}

func (k *keyedMutex) size() int {
	k.mutex.Lock()
	defer k.mutex.Unlock()
	return len(k.locks)
}
