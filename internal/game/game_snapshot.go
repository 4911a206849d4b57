package game

import (
	"sync"
	"sync/atomic"
	"time"

	"flowfield-rts/internal/game/spatial"
)

// UnitSnapshot is an immutable copy of unit state for clients.
// Uses value types (not pointers) to ensure immutability
type UnitSnapshot struct {
	ID        int     `json:"id"`
	Type      string  `json:"type"`
	X         float32 `json:"x"`
	Y         float32 `json:"y"`
	VX        float32 `json:"vx"`
	VY        float32 `json:"vy"`
	TargetX   float32 `json:"targetX"`
	TargetY   float32 `json:"targetY"`
	Radius    float32 `json:"radius"`
	Moving    bool    `json:"moving"`
	Selected  bool    `json:"selected"`
	MouseOver bool    `json:"mouseOver"`
}

// WorldSnapshot is the complete published state after one tick.
// Units is capped at MaxSnapshotUnits; UnitCount is the true total.
type WorldSnapshot struct {
	Sequence   uint64    `json:"sequence"`   // Monotonic sequence for ordering
	Timestamp  time.Time `json:"timestamp"`  // When snapshot was created
	TickNumber uint64    `json:"tickNumber"` // Tick this represents

	Units []UnitSnapshot `json:"units"`

	UnitCount     int                `json:"unitCount"`
	MovingCount   int                `json:"movingCount"`
	SelectedCount int                `json:"selectedCount"`
	BuildingCount int                `json:"buildingCount"`
	Cache         spatial.CacheStats `json:"cache"`
}

// copyInto deep-copies s into dst, reusing dst's unit slice.
func (s *WorldSnapshot) copyInto(dst *WorldSnapshot) {
	units := append(dst.Units[:0], s.Units...)
	*dst = *s
	dst.Units = units
}

// SnapshotPool pre-allocates snapshots to avoid GC pressure.
// Uses triple buffering: the tick writes one slot while readers copy the
// last published one. Each slot carries its own lock so a slow reader can
// never observe a slot being rewritten.
type SnapshotPool struct {
	snapshots [3]WorldSnapshot
	slotMu    [3]sync.RWMutex
	maxUnits  int
	writeIdx  atomic.Uint32 // producer index
	readIdx   atomic.Uint32 // last published index
	sequence  atomic.Uint64 // monotonic sequence
	published atomic.Bool
}

// NewSnapshotPool creates a pool with pre-allocated unit slices
func NewSnapshotPool(maxUnits int) *SnapshotPool {
	pool := &SnapshotPool{maxUnits: maxUnits}
	for i := range pool.snapshots {
		pool.snapshots[i].Units = make([]UnitSnapshot, 0, maxUnits)
	}
	return pool
}

// acquireWrite locks and resets the next slot that is not the published one.
// Producer only, called from the tick.
func (p *SnapshotPool) acquireWrite() (*WorldSnapshot, uint32) {
	idx := (p.writeIdx.Load() + 1) % 3
	if p.published.Load() && idx == p.readIdx.Load() {
		idx = (idx + 1) % 3
	}
	p.writeIdx.Store(idx)

	p.slotMu[idx].Lock()
	snap := &p.snapshots[idx]
	units := snap.Units[:0]
	*snap = WorldSnapshot{
		Units:     units,
		Sequence:  p.sequence.Add(1),
		Timestamp: time.Now(),
	}
	return snap, idx
}

// publish unlocks slot idx and makes it the one readers see.
func (p *SnapshotPool) publish(idx uint32) {
	p.slotMu[idx].Unlock()
	p.readIdx.Store(idx)
	p.published.Store(true)
}

// ReadInto copies the latest published snapshot into dst. Returns false if
// nothing has been published yet.
func (p *SnapshotPool) ReadInto(dst *WorldSnapshot) bool {
	if !p.published.Load() {
		return false
	}
	idx := p.readIdx.Load()
	p.slotMu[idx].RLock()
	p.snapshots[idx].copyInto(dst)
	p.slotMu[idx].RUnlock()
	return true
}

// MaxUnits returns the per-snapshot unit cap
func (p *SnapshotPool) MaxUnits() int {
	return p.maxUnits
}

// produceSnapshot publishes the current state. Called with the engine lock
// held at the end of a tick.
func (e *Engine) produceSnapshot() *WorldSnapshot {
	snap, idx := e.snapshotPool.acquireWrite()
	defer e.snapshotPool.publish(idx)

	snap.TickNumber = e.tickCount
	snap.BuildingCount = len(e.buildings)
	snap.Cache = e.cache.Stats()

	units := e.registry.Units()
	snap.UnitCount = len(units)
	for i := range units {
		u := &units[i]
		if u.State == UnitMoving {
			snap.MovingCount++
		}
		if u.Selected {
			snap.SelectedCount++
		}
		if len(snap.Units) >= e.snapshotPool.MaxUnits() {
			continue
		}
		snap.Units = append(snap.Units, UnitSnapshot{
			ID:        u.ID,
			Type:      u.Type,
			X:         u.Position[0],
			Y:         u.Position[1],
			VX:        u.Velocity[0],
			VY:        u.Velocity[1],
			TargetX:   u.TargetPos[0],
			TargetY:   u.TargetPos[1],
			Radius:    u.Radius,
			Moving:    u.State == UnitMoving,
			Selected:  u.Selected,
			MouseOver: u.MouseOver,
		})
	}
	return snap
}
