package spatial

import (
	"container/heap"
	"math"
	"time"

	"github.com/go-gl/mathgl/mgl32"
)

// Unreachable is the integration value of cells no path reaches.
const Unreachable float32 = 65535

// FieldState tracks a cached field's freshness relative to the cost grid.
//
//	Stale    -> Queued   on query or explicit Create
//	Queued   -> UpToDate when its recompute job is drained
//	UpToDate -> Stale    on any cost grid mutation
type FieldState uint8

const (
	FieldStale FieldState = iota
	FieldQueued
	FieldUpToDate
)

func (s FieldState) String() string {
	switch s {
	case FieldStale:
		return "stale"
	case FieldQueued:
		return "queued"
	case FieldUpToDate:
		return "up_to_date"
	default:
		return "unknown"
	}
}

// FlowField provides O(1) per-agent navigation via precomputed vector fields.
// Instead of running A* for each agent, we compute a single field that all
// agents heading for the same cell share.
//
// Origin: Treuille, Cooper, Popović. "Continuum Crowds." SIGGRAPH 2006.
type FlowField struct {
	Target      Cell
	integration []float32    // Path distance to Target, Unreachable if none
	direction   []mgl32.Vec2 // Unit vector toward the best neighbor, or zero
	state       FieldState
	lastUsed    time.Time
}

// newFlowField allocates a field for a grid of the given size. Callers reset
// it before use.
func newFlowField(target Cell, size int) *FlowField {
	f := &FlowField{
		Target:      target,
		integration: make([]float32, size),
		direction:   make([]mgl32.Vec2, size),
	}
	return f
}

// reset fills integration with Unreachable except the target (0) and zeroes
// every direction.
func (f *FlowField) reset(g *CostGrid) {
	if len(f.integration) != g.Size() {
		f.integration = make([]float32, g.Size())
		f.direction = make([]mgl32.Vec2, g.Size())
	}
	for i := range f.integration {
		f.integration[i] = Unreachable
	}
	for i := range f.direction {
		f.direction[i] = mgl32.Vec2{}
	}
	if idx := g.index(f.Target); idx >= 0 {
		f.integration[idx] = 0
	}
}

// State returns the field's current lifecycle state.
func (f *FlowField) State() FieldState { return f.state }

// LastUsed returns the time of the last query against this field.
func (f *FlowField) LastUsed() time.Time { return f.lastUsed }

// IntegrationAt returns the integration value at a relative cell.
// Returns Unreachable if the cell is outside the field.
func (f *FlowField) IntegrationAt(rx, ry, width int) float32 {
	idx := ry*width + rx
	if rx < 0 || rx >= width || ry < 0 || idx >= len(f.integration) {
		return Unreachable
	}
	return f.integration[idx]
}

// DirectionAt returns the flow direction at a relative cell, zero if outside.
func (f *FlowField) DirectionAt(rx, ry, width int) mgl32.Vec2 {
	idx := ry*width + rx
	if rx < 0 || rx >= width || ry < 0 || idx >= len(f.direction) {
		return mgl32.Vec2{}
	}
	return f.direction[idx]
}

// ============================================================================
// Field computation
// ============================================================================

// Neighbor offsets in the fixed scan order: x-offset outer, y-offset inner,
// both -1..1, (0,0) skipped. Gradient tie-breaking depends on this order.
var neighborOffsets = [8]Cell{
	{-1, -1}, {-1, 0}, {-1, 1},
	{0, -1}, {0, 1},
	{1, -1}, {1, 0}, {1, 1},
}

// Octile step lengths
const (
	orthogonalStep float32 = 1.0
	diagonalStep   float32 = math.Sqrt2
)

// pqItem is a tentative (distance, cell index) pair.
type pqItem struct {
	dist float32
	idx  int
}

// distanceQueue is a binary min-heap on dist.
type distanceQueue []pqItem

func (q distanceQueue) Len() int { return len(q) }

func (q distanceQueue) Less(i, j int) bool { return q[i].dist < q[j].dist }

func (q distanceQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *distanceQueue) Push(x interface{}) { *q = append(*q, x.(pqItem)) }

func (q *distanceQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// ComputeIntegration runs Dijkstra from the field's target over the
// 8-connected cost grid. Edge weight to neighbor B is the octile step length
// times cost(B); impassable neighbors are never relaxed. Popped entries worse
// than the best known distance are skipped (lazy deletion).
//
// Time complexity: O(cells · log(cells))
func ComputeIntegration(f *FlowField, g *CostGrid) {
	for i := range f.integration {
		f.integration[i] = Unreachable
	}

	targetIdx := g.index(f.Target)
	if targetIdx < 0 {
		return
	}
	f.integration[targetIdx] = 0

	pq := make(distanceQueue, 0, g.Width+g.Height)
	heap.Push(&pq, pqItem{dist: 0, idx: targetIdx})

	for pq.Len() > 0 {
		cur := heap.Pop(&pq).(pqItem)
		if cur.dist > f.integration[cur.idx] {
			continue
		}

		cx := cur.idx % g.Width
		cy := cur.idx / g.Width

		for _, off := range neighborOffsets {
			nx := cx + off.X
			ny := cy + off.Y
			if nx < 0 || nx >= g.Width || ny < 0 || ny >= g.Height {
				continue
			}

			cost := g.costAt(nx, ny)
			if cost == CostImpassable {
				continue
			}

			step := orthogonalStep
			if off.X != 0 && off.Y != 0 {
				step = diagonalStep
			}

			nidx := ny*g.Width + nx
			newDist := cur.dist + step*float32(cost)
			if newDist < f.integration[nidx] {
				f.integration[nidx] = newDist
				heap.Push(&pq, pqItem{dist: newDist, idx: nidx})
			}
		}
	}
}

// ComputeDirections derives the per-cell flow direction from the integration
// field. Each passable cell points at its eligible neighbor with the strictly
// smallest integration value. A diagonal neighbor is eligible only if both
// flanking orthogonal cells are passable, so units never squeeze through a
// diagonal gap between two walls.
func ComputeDirections(f *FlowField, g *CostGrid) {
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			idx := y*g.Width + x

			if g.costAt(x, y) == CostImpassable {
				f.direction[idx] = mgl32.Vec2{}
				continue
			}

			best := f.integration[idx]
			var bestOff Cell
			found := false

			for _, off := range neighborOffsets {
				nx := x + off.X
				ny := y + off.Y
				if nx < 0 || nx >= g.Width || ny < 0 || ny >= g.Height {
					continue
				}
				if g.costAt(nx, ny) == CostImpassable {
					continue
				}

				// Corner cutting: both sides of a diagonal must be open
				if off.X != 0 && off.Y != 0 {
					if g.costAt(x+off.X, y) == CostImpassable ||
						g.costAt(x, y+off.Y) == CostImpassable {
						continue
					}
				}

				if v := f.integration[ny*g.Width+nx]; v < best {
					best = v
					bestOff = off
					found = true
				}
			}

			if !found {
				f.direction[idx] = mgl32.Vec2{}
				continue
			}
			f.direction[idx] = mgl32.Vec2{float32(bestOff.X), float32(bestOff.Y)}.Normalize()
		}
	}
}
