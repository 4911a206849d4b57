package game

import (
	"errors"
	"fmt"
	"sort"

	"flowfield-rts/internal/game/spatial"

	"github.com/go-gl/mathgl/mgl32"
)

var (
	// ErrAreaBlocked is returned when a footprint leaves the grid, overlaps an
	// impassable cell or covers a unit.
	ErrAreaBlocked = errors.New("area blocked")

	// ErrBuildingLimit is returned once MaxBuildings are placed.
	ErrBuildingLimit = errors.New("building limit reached")
)

// Building is a rectangular obstacle stamped into the cost grid.
type Building struct {
	ID   int          `json:"id"`
	Cell spatial.Cell `json:"cell"` // Top-left cell
	Size spatial.Cell `json:"size"` // Footprint in cells
	Type int          `json:"type"`
}

// footprint calls fn for every cell the building covers until fn returns
// false. Reports whether every cell was visited.
func footprint(origin, size spatial.Cell, fn func(spatial.Cell) bool) bool {
	for x := 0; x < size.X; x++ {
		for y := 0; y < size.Y; y++ {
			if !fn(origin.Add(spatial.Cell{X: x, Y: y})) {
				return false
			}
		}
	}
	return true
}

// footprintInGrid reports whether the whole size footprint at cell lies
// inside the grid. Sizes are compared to the grid first so the far corner
// never overflows.
func (e *Engine) footprintInGrid(cell, size spatial.Cell) bool {
	if size.X <= 0 || size.Y <= 0 || size.X > e.grid.Width || size.Y > e.grid.Height {
		return false
	}
	if !e.grid.InBounds(cell) {
		return false
	}
	return e.grid.InBounds(cell.Add(size).Sub(spatial.Cell{X: 1, Y: 1}))
}

// IsAreaClear reports whether a size footprint at cell could be placed:
// every covered cell is inside the grid and passable, and no unit stands in
// the footprint's world rectangle.
func (e *Engine) IsAreaClear(cell, size spatial.Cell) bool {
	e.mu.Lock() // rebuilds the spatial hash
	defer e.mu.Unlock()
	return e.isAreaClear(cell, size)
}

func (e *Engine) isAreaClear(cell, size spatial.Cell) bool {
	if !e.footprintInGrid(cell, size) {
		return false
	}

	clear := footprint(cell, size, func(c spatial.Cell) bool {
		return e.grid.Cost(c) != spatial.CostImpassable
	})
	if !clear {
		return false
	}

	// Units inside the rectangle. The spatial hash may lag behind positions
	// changed since the last tick, so rebuild it first.
	cs := e.grid.CellSize
	lo := mgl32.Vec2{float32(cell.X) * cs, float32(cell.Y) * cs}
	ext := mgl32.Vec2{float32(size.X) * cs, float32(size.Y) * cs}
	hi := lo.Add(ext)
	center := lo.Add(ext.Mul(0.5))

	e.rebuildSpatial()
	units := e.registry.Units()
	for _, idx := range e.hash.QueryRadius(center, ext.Len()*0.5) {
		p := units[idx].Position
		if p[0] >= lo[0] && p[0] < hi[0] && p[1] >= lo[1] && p[1] < hi[1] {
			return false
		}
	}
	return true
}

// PlaceBuilding marks the footprint impassable and invalidates every flow
// field. Returns the new building id.
func (e *Engine) PlaceBuilding(cell, size spatial.Cell, buildingType int) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.buildings) >= e.limits.MaxBuildings {
		return -1, ErrBuildingLimit
	}
	if !e.isAreaClear(cell, size) {
		return -1, fmt.Errorf("place %dx%d at (%d,%d): %w", size.X, size.Y, cell.X, cell.Y, ErrAreaBlocked)
	}

	id := e.nextBuildingID
	e.nextBuildingID++
	b := Building{ID: id, Cell: cell, Size: size, Type: buildingType}
	e.buildings[id] = b

	footprint(cell, size, func(c spatial.Cell) bool {
		return e.grid.SetCost(c, spatial.CostImpassable)
	})
	e.cache.MarkAllDirty()

	e.eventLog.EmitSimple(EventTypeBuildingPlace, e.tickCount, BuildingPayload{
		BuildingID: id, Cell: cell, Size: size, Type: buildingType,
	})
	return id, nil
}

// RemoveBuilding restores the footprint to nominal cost and invalidates every
// flow field. Returns false for unknown ids.
func (e *Engine) RemoveBuilding(id int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	b, ok := e.buildings[id]
	if !ok {
		return false
	}
	footprint(b.Cell, b.Size, func(c spatial.Cell) bool {
		return e.grid.SetCost(c, spatial.CostNominal)
	})
	delete(e.buildings, id)
	e.cache.MarkAllDirty()

	e.eventLog.EmitSimple(EventTypeBuildingRemove, e.tickCount, BuildingPayload{
		BuildingID: id, Cell: b.Cell, Size: b.Size, Type: b.Type,
	})
	return true
}

// BuildingCell returns a building's top-left cell, or (-1,-1) if unknown.
func (e *Engine) BuildingCell(id int) spatial.Cell {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if b, ok := e.buildings[id]; ok {
		return b.Cell
	}
	return spatial.Cell{X: -1, Y: -1}
}

// Buildings returns every placed building ordered by id.
func (e *Engine) Buildings() []Building {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Building, 0, len(e.buildings))
	for _, b := range e.buildings {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
