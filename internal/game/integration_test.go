package game

import (
	"math"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"flowfield-rts/internal/config"
	"flowfield-rts/internal/game/spatial"

	"github.com/go-gl/mathgl/mgl32"
)

// =============================================================================
// INTEGRATION TESTS: FULL LOOP UNDER CONCURRENT CLIENT LOAD
// =============================================================================

// TestIntegration_LoopWithReaders runs the real tick loop while readers copy
// snapshots and writers queue commands and edit the grid
func TestIntegration_LoopWithReaders(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	cfg := config.Default()
	cfg.Grid = config.GridConfig{Width: 48, Height: 32, CellSize: 16}
	engine := NewEngine(cfg, nil, nil)

	for i := 0; i < 60; i++ {
		if _, err := engine.Spawn(cellCenter(2+i%10, 2+i/10), ""); err != nil {
			t.Fatalf("Spawn failed: %v", err)
		}
	}

	var (
		snapshots   int64
		outOfOrder  int64
		badUnits    int64
		rejectedCmd int64
	)

	engine.Start()

	var wg sync.WaitGroup
	stopChan := make(chan struct{})

	// Readers
	for r := 0; r < 3; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var snap WorldSnapshot
			var last uint64
			for {
				select {
				case <-stopChan:
					return
				default:
				}
				if !engine.SnapshotInto(&snap) {
					runtime.Gosched()
					continue
				}
				atomic.AddInt64(&snapshots, 1)
				if snap.Sequence < last {
					atomic.AddInt64(&outOfOrder, 1)
				}
				last = snap.Sequence
				for _, u := range snap.Units {
					if math.IsNaN(float64(u.X)) || math.IsNaN(float64(u.Y)) {
						atomic.AddInt64(&badUnits, 1)
					}
				}
				time.Sleep(time.Millisecond)
			}
		}()
	}

	// Commands
	wg.Add(1)
	go func() {
		defer wg.Done()
		targets := []mgl32.Vec2{cellCenter(40, 25), cellCenter(5, 25), cellCenter(40, 4)}
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		i := 0
		for {
			select {
			case <-stopChan:
				return
			case <-ticker.C:
				if err := engine.SelectBox(mgl32.Vec2{0, 0}, mgl32.Vec2{768, 512}); err != nil {
					atomic.AddInt64(&rejectedCmd, 1)
				}
				if err := engine.CommandSelected(targets[i%len(targets)]); err != nil {
					atomic.AddInt64(&rejectedCmd, 1)
				}
				i++
			}
		}
	}()

	// Grid edits
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(250 * time.Millisecond)
		defer ticker.Stop()
		toggle := false
		for {
			select {
			case <-stopChan:
				return
			case <-ticker.C:
				cost := byte(spatial.CostNominal)
				if toggle {
					cost = spatial.CostImpassable
				}
				engine.SetCost(spatial.Cell{X: 24, Y: 16}, cost)
				toggle = !toggle
			}
		}
	}()

	time.Sleep(2 * time.Second)
	close(stopChan)
	wg.Wait()
	engine.Stop()

	stats := engine.Stats()
	t.Logf("Integration Test Results:")
	t.Logf("  Ticks: %d", stats.TickNumber)
	t.Logf("  Snapshots read: %d", atomic.LoadInt64(&snapshots))
	t.Logf("  Fields: %d computed, %d dropped", stats.Cache.Computed, stats.Cache.Dropped)
	t.Logf("  Rejected commands: %d", atomic.LoadInt64(&rejectedCmd))

	if stats.TickNumber == 0 {
		t.Fatal("Loop never ticked")
	}
	if n := atomic.LoadInt64(&outOfOrder); n > 0 {
		t.Errorf("Readers saw %d snapshots go backwards", n)
	}
	if n := atomic.LoadInt64(&badUnits); n > 0 {
		t.Errorf("Readers saw %d NaN positions", n)
	}
	if stats.Cache.Computed == 0 {
		t.Error("Expected at least one field computed")
	}
}
