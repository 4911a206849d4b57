package game

import (
	"runtime"
	"sync"
	"testing"
)

// TestLockFreeQueueCapacity tests rounding up to a power of two
func TestLockFreeQueueCapacity(t *testing.T) {
	tests := []struct {
		requested, want int
	}{
		{1, 1},
		{2, 2},
		{3, 4},
		{1000, 1024},
	}
	for _, tt := range tests {
		if got := NewLockFreeQueue[int](tt.requested).Cap(); got != tt.want {
			t.Errorf("NewLockFreeQueue(%d).Cap() = %d, expected %d", tt.requested, got, tt.want)
		}
	}
}

// TestLockFreeQueueFIFO tests ordering, fullness and wraparound
func TestLockFreeQueueFIFO(t *testing.T) {
	q := NewLockFreeQueue[int](4)

	for lap := 0; lap < 3; lap++ {
		for i := 0; i < 4; i++ {
			if !q.TryPush(lap*10 + i) {
				t.Fatalf("Lap %d: push %d failed", lap, i)
			}
		}
		if q.TryPush(99) {
			t.Fatalf("Lap %d: push into full queue succeeded", lap)
		}
		if q.Len() != 4 {
			t.Errorf("Lap %d: expected len 4, got %d", lap, q.Len())
		}
		for i := 0; i < 4; i++ {
			v, ok := q.TryPop()
			if !ok || v != lap*10+i {
				t.Errorf("Lap %d: expected %d, got %d (ok=%v)", lap, lap*10+i, v, ok)
			}
		}
		if _, ok := q.TryPop(); ok {
			t.Errorf("Lap %d: pop from empty queue succeeded", lap)
		}
	}
}

// TestLockFreeQueueDrainTo tests bounded draining into a buffer
func TestLockFreeQueueDrainTo(t *testing.T) {
	q := NewLockFreeQueue[int](8)
	for i := 0; i < 5; i++ {
		q.TryPush(i)
	}

	buf := make([]int, 3)
	if n := q.DrainTo(buf); n != 3 {
		t.Errorf("Expected 3 drained, got %d", n)
	}
	if buf[0] != 0 || buf[2] != 2 {
		t.Errorf("Unexpected drain order: %v", buf)
	}
	if n := q.DrainTo(buf); n != 2 {
		t.Errorf("Expected 2 drained, got %d", n)
	}
}

// TestLockFreeQueueConcurrentProducers tests that no item is lost or
// duplicated with many producers and one consumer
func TestLockFreeQueueConcurrentProducers(t *testing.T) {
	const producers = 8
	const perProducer = 2000

	q := NewLockFreeQueue[int](256)
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				for !q.TryPush(p*perProducer + i) {
					runtime.Gosched()
				}
			}
		}(p)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	seen := make([]bool, producers*perProducer)
	lastPerProducer := make([]int, producers)
	for i := range lastPerProducer {
		lastPerProducer[i] = -1
	}

	received := 0
	for received < producers*perProducer {
		v, ok := q.TryPop()
		if !ok {
			select {
			case <-done:
				if q.Len() == 0 {
					t.Fatalf("Producers finished but only %d items received", received)
				}
			default:
			}
			continue
		}
		if seen[v] {
			t.Fatalf("Item %d received twice", v)
		}
		seen[v] = true

		// Per-producer order is preserved
		p, i := v/perProducer, v%perProducer
		if i <= lastPerProducer[p] {
			t.Fatalf("Producer %d: item %d after %d", p, i, lastPerProducer[p])
		}
		lastPerProducer[p] = i
		received++
	}
}
