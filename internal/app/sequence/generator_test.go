package sequence

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerator_NextGlobal(t *testing.T) {
	g := New()

	assert.Equal(t, uint64(0), g.CurrentGlobal())
	assert.Equal(t, uint64(1), g.NextGlobal())
	assert.Equal(t, uint64(2), g.NextGlobal())
	assert.Equal(t, uint64(2), g.CurrentGlobal(),
		"CurrentGlobal must not advance the counter")
}

func TestGenerator_ScopesAreIndependent(t *testing.T) {
	g := New()

	assert.Equal(t, uint64(1), g.NextForScope(1))
	assert.Equal(t, uint64(2), g.NextForScope(1))
	assert.Equal(t, uint64(1), g.NextForScope(2),
		"a fresh scope starts from 1 regardless of other scopes")
	assert.Equal(t, uint64(0), g.CurrentForScope(3))
	assert.Equal(t, uint64(0), g.CurrentGlobal(),
		"scope allocation must not touch the global counter")
}

func TestGenerator_ConcurrentAllocationIsStrictlyIncreasing(t *testing.T) {
	const workers = 16
	const perWorker = 200

	g := New()

	var mu sync.Mutex
	seen := make(map[uint64]bool)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			prev := uint64(0)
			for j := 0; j < perWorker; j++ {
				n := g.NextGlobal()
				assert.Greater(t, n, prev,
					"values observed by a single caller must increase")
				prev = n

				mu.Lock()
				assert.False(t, seen[n], "duplicate sequence number %d", n)
				seen[n] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, uint64(workers*perWorker), g.CurrentGlobal(),
		"no allocation may be lost or skipped")
}

func TestGenerator_ConcurrentScopeAllocation(t *testing.T) {
	const workers = 8
	const perWorker = 100

	g := New()

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				g.NextForScope(42)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, uint64(workers*perWorker), g.CurrentForScope(42))
}

func TestGenerator_Reset(t *testing.T) {
	g := New()
	g.NextGlobal()
	g.NextForScope(7)

	g.ResetGlobal()
	g.ResetScope(7)

	assert.Equal(t, uint64(0), g.CurrentGlobal())
	assert.Equal(t, uint64(0), g.CurrentForScope(7))
	assert.Equal(t, uint64(1), g.NextGlobal())
}
