package scheduler

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeyedMutexSerialisesKey(t *testing.T) {
	k := newKeyedMutex()

	var (
		wg      sync.WaitGroup
		active  atomic.Int32
		overlap atomic.Bool
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("web")
			defer unlock()
			if active.Add(1) > 1 {
				overlap.Store(true)
			}
			time.Sleep(time.Millisecond)
			active.Add(-1)
		}()
	}
	wg.Wait()

	assert.False(t, overlap.Load())
	assert.Equal(t, 0, k.size(), "released keys are dropped")
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	k := newKeyedMutex()
	unlockWeb := k.Lock("web")
	defer unlockWeb()

	done := make(chan struct{})
	go func() {
		unlock := k.Lock("db")
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("a held key blocked another key")
	}
	assert.Equal(t, 1, k.size())
}
