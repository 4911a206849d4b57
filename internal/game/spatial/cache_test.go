package spatial

import (
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/zap/zaptest"
)

// fakeClock is a manually advanced wall clock.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestCache(t *testing.T, w, h int) (*FieldCache, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Unix(1000, 0)}
	c := NewFieldCache(NewCostGrid(w, h, Cell{}, 1), DefaultCacheConfig(), zaptest.NewLogger(t))
	c.SetClock(clock.Now)
	return c, clock
}

// TestCreateQueuesOneJob tests Create enqueues a single recompute job
func TestCreateQueuesOneJob(t *testing.T) {
	c, _ := newTestCache(t, 8, 8)

	c.Create(Cell{3, 3}, false)
	f, ok := c.Get(Cell{3, 3})
	if !ok {
		t.Fatal("Expected field to exist after Create")
	}
	if f.State() != FieldQueued {
		t.Errorf("Expected state queued, got %s", f.State())
	}
	if c.QueueLen() != 1 {
		t.Errorf("Expected 1 queued job, got %d", c.QueueLen())
	}

	// Ensure-exists semantics
	c.Create(Cell{3, 3}, false)
	if c.QueueLen() != 1 {
		t.Errorf("Create without overwrite should not enqueue, queue=%d", c.QueueLen())
	}

	// Overwrite of a queued field does not add a second job
	c.Create(Cell{3, 3}, true)
	if c.QueueLen() != 1 {
		t.Errorf("Overwrite of queued field should not enqueue, queue=%d", c.QueueLen())
	}
}

// TestCreateOutOfGrid tests targets outside the grid are ignored
func TestCreateOutOfGrid(t *testing.T) {
	c, _ := newTestCache(t, 4, 4)

	c.Create(Cell{-1, 0}, true)
	c.Create(Cell{4, 4}, true)

	if c.Len() != 0 {
		t.Errorf("Expected no fields, got %d", c.Len())
	}
	if c.QueueLen() != 0 {
		t.Errorf("Expected no jobs, got %d", c.QueueLen())
	}
}

// TestCreateOverwriteRequeues tests overwrite resets an up-to-date field
func TestCreateOverwriteRequeues(t *testing.T) {
	c, _ := newTestCache(t, 6, 6)
	target := Cell{2, 2}

	c.Create(target, false)
	c.ProcessOneTask()
	f, _ := c.Get(target)
	if f.State() != FieldUpToDate {
		t.Fatalf("Expected up_to_date, got %s", f.State())
	}

	c.Create(target, true)
	if f.State() != FieldQueued {
		t.Errorf("Expected queued after overwrite, got %s", f.State())
	}
	if v := f.IntegrationAt(5, 5, 6); v != Unreachable {
		t.Errorf("Expected reset integration, got %f", v)
	}
	if v := f.IntegrationAt(2, 2, 6); v != 0 {
		t.Errorf("Expected target 0 after reset, got %f", v)
	}
}

// TestProcessOneTaskDrainsOne tests each call drains exactly one job
func TestProcessOneTaskDrainsOne(t *testing.T) {
	c, _ := newTestCache(t, 8, 8)

	if c.ProcessOneTask() {
		t.Error("Expected false on empty queue")
	}

	c.Create(Cell{1, 1}, false)
	c.Create(Cell{6, 6}, false)
	if s := c.Stats(); s.Queued != 2 {
		t.Fatalf("Expected 2 queued, got %d", s.Queued)
	}

	c.ProcessOneTask()
	s := c.Stats()
	if s.Queued != 1 || s.UpToDate != 1 {
		t.Errorf("Expected 1 queued and 1 up_to_date, got %+v", s)
	}
	if c.QueueLen() != 1 {
		t.Errorf("Expected 1 job left, got %d", c.QueueLen())
	}

	// FIFO: the first created target is computed first
	if f, _ := c.Get(Cell{1, 1}); f.State() != FieldUpToDate {
		t.Errorf("Expected first target computed first, got %s", f.State())
	}
}

// TestProcessDropsRemovedTarget tests a job for a removed field is dropped
func TestProcessDropsRemovedTarget(t *testing.T) {
	c, _ := newTestCache(t, 8, 8)

	c.Create(Cell{2, 2}, false)
	c.Remove(Cell{2, 2})

	if !c.ProcessOneTask() {
		t.Fatal("Expected job to be dequeued")
	}
	if c.Len() != 0 {
		t.Errorf("Dropped job must not recreate the field, got %d fields", c.Len())
	}
	if s := c.Stats(); s.Dropped != 1 || s.Computed != 0 {
		t.Errorf("Expected 1 dropped 0 computed, got %+v", s)
	}
}

// TestProcessDropsReplacedTarget tests a job for a replaced field instance is dropped
func TestProcessDropsReplacedTarget(t *testing.T) {
	c, _ := newTestCache(t, 8, 8)
	target := Cell{2, 2}

	c.Create(target, false)
	c.Remove(target)
	c.Create(target, false)

	if c.QueueLen() != 2 {
		t.Fatalf("Expected 2 jobs, got %d", c.QueueLen())
	}

	c.ProcessOneTask()
	f, _ := c.Get(target)
	if f.State() != FieldQueued {
		t.Errorf("Stale job must not complete the new field, got %s", f.State())
	}

	c.ProcessOneTask()
	if f.State() != FieldUpToDate {
		t.Errorf("Expected up_to_date after own job, got %s", f.State())
	}
}

// TestSetCostMarksStale tests cost mutations invalidate without recomputing
func TestSetCostMarksStale(t *testing.T) {
	c, _ := newTestCache(t, 8, 8)

	c.Create(Cell{1, 1}, false)
	c.Create(Cell{5, 5}, false)
	c.ProcessOneTask()

	c.SetCost(Cell{3, 3}, CostImpassable)

	a, _ := c.Get(Cell{1, 1})
	b, _ := c.Get(Cell{5, 5})
	if a.State() != FieldStale {
		t.Errorf("Expected computed field stale, got %s", a.State())
	}
	if b.State() != FieldQueued {
		t.Errorf("Expected queued field to stay queued, got %s", b.State())
	}
	if c.QueueLen() != 1 {
		t.Errorf("SetCost must not enqueue, queue=%d", c.QueueLen())
	}

	// Query is the lazy trigger
	c.Integration(mgl32.Vec2{0, 0}, mgl32.Vec2{1, 1})
	if a.State() != FieldQueued {
		t.Errorf("Expected query to queue stale field, got %s", a.State())
	}
	if c.QueueLen() != 2 {
		t.Errorf("Expected 2 jobs after query, got %d", c.QueueLen())
	}

	// A second query does not enqueue again
	c.FlowDirection(mgl32.Vec2{0, 0}, mgl32.Vec2{1, 1})
	if c.QueueLen() != 2 {
		t.Errorf("Expected no duplicate job, got %d", c.QueueLen())
	}
}

// TestSetCostOutOfBounds tests out-of-range writes change nothing
func TestSetCostOutOfBounds(t *testing.T) {
	c, _ := newTestCache(t, 4, 4)
	c.Create(Cell{0, 0}, false)
	c.ProcessOneTask()

	out := Cell{10, -3}
	before := c.Grid().Cost(out)
	c.SetCost(out, 7)

	if after := c.Grid().Cost(out); after != before {
		t.Errorf("Expected cost %d unchanged, got %d", before, after)
	}
	if f, _ := c.Get(Cell{0, 0}); f.State() != FieldUpToDate {
		t.Errorf("Out-of-bounds write must not invalidate, got %s", f.State())
	}
}

// TestSweepNeverEvictsQueued tests queued fields survive any age
func TestSweepNeverEvictsQueued(t *testing.T) {
	c, clock := newTestCache(t, 8, 8)

	c.Create(Cell{1, 1}, false)
	c.Create(Cell{2, 2}, false)
	c.Create(Cell{3, 3}, false) // stays queued
	c.ProcessOneTask() // (1,1) done
	c.ProcessOneTask() // (2,2) done

	clock.Advance(time.Hour)
	// (1,1) is touched now, (2,2) is old, (3,3) is old but queued
	c.IntegrationToward(mgl32.Vec2{0, 0}, Cell{1, 1})

	n := c.SweepExpired(clock.Now(), 10*time.Second)
	if n != 1 {
		t.Errorf("Expected 1 eviction, got %d", n)
	}
	if _, ok := c.Get(Cell{2, 2}); ok {
		t.Error("Expected unused field to be evicted")
	}
	if _, ok := c.Get(Cell{3, 3}); !ok {
		t.Error("Queued field must never be evicted")
	}
	if _, ok := c.Get(Cell{1, 1}); !ok {
		t.Error("Recently used field must not be evicted")
	}
}

// TestUpdateRunsSweepOnInterval tests the sweep only runs once the interval elapses
func TestUpdateRunsSweepOnInterval(t *testing.T) {
	c, clock := newTestCache(t, 8, 8)

	c.Create(Cell{4, 4}, false)
	c.Update(time.Second) // computes the field
	clock.Advance(time.Minute)

	if n := c.Update(500 * time.Millisecond); n != 0 || c.Len() != 1 {
		t.Fatalf("Sweep ran before interval, evicted=%d fields=%d", n, c.Len())
	}

	if n := c.Update(600 * time.Millisecond); n != 1 {
		t.Errorf("Expected Update to report 1 eviction, got %d", n)
	}
	if c.Len() != 0 {
		t.Errorf("Expected eviction after interval, fields=%d", c.Len())
	}
	if ev := c.Stats().Evicted; ev != 1 {
		t.Errorf("Expected Evicted stat 1, got %d", ev)
	}
}

// TestQuerySentinels tests off-grid and missing-field queries
func TestQuerySentinels(t *testing.T) {
	c, _ := newTestCache(t, 4, 4)

	if v := c.Integration(mgl32.Vec2{1, 1}, mgl32.Vec2{2, 2}); v != -1 {
		t.Errorf("Expected -1 without field, got %f", v)
	}

	c.Create(Cell{2, 2}, false)
	c.ProcessOneTask()

	if v := c.Integration(mgl32.Vec2{-3, 1}, mgl32.Vec2{2, 2}); v != -1 {
		t.Errorf("Expected -1 off grid, got %f", v)
	}
	if d := c.FlowDirection(mgl32.Vec2{9, 9}, mgl32.Vec2{2, 2}); d != (mgl32.Vec2{}) {
		t.Errorf("Expected zero direction off grid, got %v", d)
	}
	if d := c.FlowDirection(mgl32.Vec2{1, 1}, mgl32.Vec2{0, 3}); d != (mgl32.Vec2{}) {
		t.Errorf("Expected zero direction without field, got %v", d)
	}
}

// TestClear tests all entries are dropped
func TestClear(t *testing.T) {
	c, _ := newTestCache(t, 4, 4)
	c.Create(Cell{0, 0}, false)
	c.Create(Cell{1, 1}, false)

	c.Clear()
	if c.Len() != 0 {
		t.Errorf("Expected empty cache, got %d", c.Len())
	}
	c.ProcessOneTask()
	c.ProcessOneTask()
	if s := c.Stats(); s.Dropped != 2 {
		t.Errorf("Expected both jobs dropped, got %d", s.Dropped)
	}
}
