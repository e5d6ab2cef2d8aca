package rpc

import (
	"sync"
	"testing"
)

func TestIDGenerator_Monotonic(t *testing.T) {
	var g IDGenerator

	prev := g.Next()
	if prev != 1 {
		t.Errorf("first id = %d, want 1", prev)
	}
	for i := 0; i < 1000; i++ {
		id := g.Next()
		if id <= prev {
			t.Fatalf("id %d not greater than %d", id, prev)
		}
		prev = id
	}
}

func TestIDGenerator_Concurrent(t *testing.T) {
	var (
		g    IDGenerator
		mu   sync.Mutex
		seen = make(map[uint64]bool)
		wg   sync.WaitGroup
	)

	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]uint64, 0, 500)
			for i := 0; i < 500; i++ {
				local = append(local, g.Next())
			}
			mu.Lock()
			defer mu.Unlock()
			for _, id := range local {
				if seen[id] {
					t.Errorf("duplicate id %d", id)
				}
				seen[id] = true
			}
		}()
	}
	wg.Wait()

	if len(seen) != 4000 {
		t.Errorf("unique ids = %d, want 4000", len(seen))
	}
}
