package spatial

import (
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/zap"
	"gopkg.in/eapache/queue.v1"
)

// CacheConfig controls how often unused fields are swept.
type CacheConfig struct {
	CleanupInterval time.Duration // Time between eviction sweeps
	UnusedThreshold time.Duration // Fields idle longer than this are evicted
}

// DefaultCacheConfig returns the sweep cadence used by the simulation.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		CleanupInterval: 2 * time.Second,
		UnusedThreshold: 10 * time.Second,
	}
}

// recomputeJob references the field instance it was queued for. A job whose
// field was removed or replaced by the time it is dequeued is dropped.
type recomputeJob struct {
	target Cell
	field  *FlowField
}

// FieldCache owns the cost grid and every cached flow field keyed by target
// cell. Recomputation is deferred: mutations and queries only enqueue jobs,
// and ProcessOneTask drains at most one per call, bounding per-tick cost to a
// single Dijkstra pass.
//
// Not safe for concurrent use; the engine tick is the only caller.
type FieldCache struct {
	grid   *CostGrid
	fields map[Cell]*FlowField
	jobs   *queue.Queue

	cfg          CacheConfig
	cleanupTimer time.Duration
	now          func() time.Time
	logger       *zap.Logger

	// Counters for metrics
	computed uint64
	dropped  uint64
	evicted  uint64
}

// NewFieldCache creates an empty cache over grid.
func NewFieldCache(grid *CostGrid, cfg CacheConfig, logger *zap.Logger) *FieldCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultCacheConfig().CleanupInterval
	}
	if cfg.UnusedThreshold <= 0 {
		cfg.UnusedThreshold = DefaultCacheConfig().UnusedThreshold
	}
	return &FieldCache{
		grid:   grid,
		fields: make(map[Cell]*FlowField),
		jobs:   queue.New(),
		cfg:    cfg,
		now:    time.Now,
		logger: logger,
	}
}

// SetClock replaces the wall clock used for lastUsed and eviction.
func (c *FieldCache) SetClock(now func() time.Time) {
	c.now = now
}

// Grid returns the underlying cost grid.
func (c *FieldCache) Grid() *CostGrid { return c.grid }

// Len returns the number of cached fields.
func (c *FieldCache) Len() int { return len(c.fields) }

// QueueLen returns the number of pending recompute jobs, including jobs that
// will be dropped on dequeue.
func (c *FieldCache) QueueLen() int { return c.jobs.Length() }

// Get returns the cached field for target without touching it.
func (c *FieldCache) Get(target Cell) (*FlowField, bool) {
	f, ok := c.fields[target]
	return f, ok
}

// Create ensures a field exists for target. Targets outside the grid are
// ignored. An existing entry is left alone unless overwrite is set, in which
// case it is reinitialized and queued. A field already Queued is not queued a
// second time.
func (c *FieldCache) Create(target Cell, overwrite bool) {
	if !c.grid.InBounds(target) {
		return
	}

	f, exists := c.fields[target]
	if exists && !overwrite {
		return
	}

	if !exists {
		f = newFlowField(target, c.grid.Size())
		c.fields[target] = f
	}
	f.reset(c.grid)
	f.lastUsed = c.now()

	if f.state == FieldQueued {
		return
	}
	c.enqueue(f)
}

// Remove drops the field for target. A pending job for it is dropped when
// dequeued.
func (c *FieldCache) Remove(target Cell) {
	delete(c.fields, target)
}

// Clear drops every field.
func (c *FieldCache) Clear() {
	for k := range c.fields {
		delete(c.fields, k)
	}
}

func (c *FieldCache) enqueue(f *FlowField) {
	f.state = FieldQueued
	c.jobs.Add(recomputeJob{target: f.Target, field: f})
}

// touch is the lazy recompute trigger every query goes through. It refreshes
// lastUsed and queues a Stale field. Returns nil if no field exists.
func (c *FieldCache) touch(target Cell) *FlowField {
	f, ok := c.fields[target]
	if !ok {
		return nil
	}
	f.lastUsed = c.now()
	if f.state == FieldStale {
		c.enqueue(f)
	}
	return f
}

// ProcessOneTask dequeues exactly one job and, if its field is still the
// cached entry for that target, recomputes it. Returns false if the queue
// was empty.
func (c *FieldCache) ProcessOneTask() bool {
	if c.jobs.Length() == 0 {
		return false
	}
	job := c.jobs.Remove().(recomputeJob)

	f, ok := c.fields[job.target]
	if !ok || f != job.field {
		c.dropped++
		return true
	}

	ComputeIntegration(f, c.grid)
	ComputeDirections(f, c.grid)
	f.state = FieldUpToDate
	c.computed++
	return true
}

// SweepExpired removes every field that is not Queued and has not been used
// for longer than threshold. Returns the number of fields evicted.
func (c *FieldCache) SweepExpired(now time.Time, threshold time.Duration) int {
	n := 0
	for target, f := range c.fields {
		if f.state == FieldQueued {
			continue
		}
		if now.Sub(f.lastUsed) > threshold {
			delete(c.fields, target)
			n++
		}
	}
	c.evicted += uint64(n)
	return n
}

// Update drains one recompute job and runs the eviction sweep whenever the
// cleanup interval has elapsed. Returns the number of fields evicted.
func (c *FieldCache) Update(dt time.Duration) int {
	c.ProcessOneTask()

	c.cleanupTimer += dt
	if c.cleanupTimer < c.cfg.CleanupInterval {
		return 0
	}
	c.cleanupTimer = 0

	n := c.SweepExpired(c.now(), c.cfg.UnusedThreshold)
	if n > 0 {
		c.logger.Debug("evicted unused flow fields",
			zap.Int("count", n),
			zap.Int("remaining", len(c.fields)))
	}
	return n
}

// SetCost writes a cell's cost and marks every field stale. Out-of-bounds
// cells are ignored and invalidate nothing.
func (c *FieldCache) SetCost(cell Cell, cost byte) {
	if !c.grid.SetCost(cell, cost) {
		return
	}
	c.MarkAllDirty()
}

// MarkAllDirty flips every up-to-date field to Stale. Queued fields already
// recompute against the current grid when drained.
func (c *FieldCache) MarkAllDirty() {
	for _, f := range c.fields {
		if f.state == FieldUpToDate {
			f.state = FieldStale
		}
	}
}

// ============================================================================
// Queries
// ============================================================================

// Integration returns the path distance from pos to the field targeting
// targetPos. Returns -1 if pos is off the grid or no field exists for the
// target. Sentinel data is returned while the field is still queued.
func (c *FieldCache) Integration(pos, targetPos mgl32.Vec2) float32 {
	return c.IntegrationToward(pos, c.grid.WorldToGrid(targetPos))
}

// FlowDirection returns the unit flow vector at pos toward targetPos, or the
// zero vector if pos is off the grid or no field exists.
func (c *FieldCache) FlowDirection(pos, targetPos mgl32.Vec2) mgl32.Vec2 {
	return c.DirectionToward(pos, c.grid.WorldToGrid(targetPos))
}

// DirectionToward is FlowDirection for an already resolved target cell.
func (c *FieldCache) DirectionToward(pos mgl32.Vec2, target Cell) mgl32.Vec2 {
	cell := c.grid.WorldToGrid(pos)
	if !c.grid.InBounds(cell) {
		return mgl32.Vec2{}
	}
	f := c.touch(target)
	if f == nil {
		return mgl32.Vec2{}
	}
	rel := c.grid.GridToRelative(cell)
	return f.DirectionAt(rel.X, rel.Y, c.grid.Width)
}

// IntegrationToward is Integration for an already resolved target cell.
func (c *FieldCache) IntegrationToward(pos mgl32.Vec2, target Cell) float32 {
	cell := c.grid.WorldToGrid(pos)
	if !c.grid.InBounds(cell) {
		return -1
	}
	f := c.touch(target)
	if f == nil {
		return -1
	}
	rel := c.grid.GridToRelative(cell)
	return f.IntegrationAt(rel.X, rel.Y, c.grid.Width)
}

// ============================================================================
// Stats
// ============================================================================

// CacheStats summarizes cache contents for metrics and the stats endpoint.
type CacheStats struct {
	Fields   int    `json:"fields"`
	Stale    int    `json:"stale"`
	Queued   int    `json:"queued"`
	UpToDate int    `json:"up_to_date"`
	QueueLen int    `json:"queue_len"`
	Computed uint64 `json:"computed"`
	Dropped  uint64 `json:"dropped"`
	Evicted  uint64 `json:"evicted"`
}

// Stats returns current cache statistics.
func (c *FieldCache) Stats() CacheStats {
	s := CacheStats{
		Fields:   len(c.fields),
		QueueLen: c.jobs.Length(),
		Computed: c.computed,
		Dropped:  c.dropped,
		Evicted:  c.evicted,
	}
	for _, f := range c.fields {
		switch f.state {
		case FieldStale:
			s.Stale++
		case FieldQueued:
			s.Queued++
		case FieldUpToDate:
			s.UpToDate++
		}
	}
	return s
}

// FieldInfo describes one cached field.
type FieldInfo struct {
	Target   Cell      `json:"target"`
	State    string    `json:"state"`
	LastUsed time.Time `json:"last_used"`
}

// Fields lists every cached field.
func (c *FieldCache) Fields() []FieldInfo {
	out := make([]FieldInfo, 0, len(c.fields))
	for _, f := range c.fields {
		out = append(out, FieldInfo{Target: f.Target, State: f.state.String(), LastUsed: f.lastUsed})
	}
	return out
}
