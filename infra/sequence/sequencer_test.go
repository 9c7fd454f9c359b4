package sequence

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNextIsMonotonic(t *testing.T) {
	s := New(41)
	assert.Equal(t, uint64(42), s.Next())
	assert.Equal(t, uint64(43), s.Next())
	assert.Equal(t, uint64(43), s.Current())
}

func TestObserveOnlyMovesForward(t *testing.T) {
	s := New(10)
	s.Observe(5)
	assert.Equal(t, uint64(10), s.Current())
	s.Observe(20)
	assert.Equal(t, uint64(20), s.Current())
	assert.Equal(t, uint64(21), s.Next())
}

func TestConcurrentNextIsUnique(t *testing.T) {
	s := New(0)
	const workers, each = 8, 1000
	seen := make(chan uint64, workers*each)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < each; i++ {
				seen <- s.Next()
			}
		}()
	}
	wg.Wait()
	close(seen)

	uniq := make(map[uint64]struct{}, workers*each)
	for v := range seen {
		uniq[v] = struct{}{}
	}
	assert.Len(t, uniq, workers*each)
	assert.Equal(t, uint64(workers*each), s.Current())
}
