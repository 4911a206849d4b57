// Package spatial provides the navigation data structures shared by every
// unit: the terrain cost grid, per-target flow fields and their cache, and
// the coarse spatial hash used for neighbor queries.
//
// All structures use preallocated slices with integer indices (not pointers)
// to minimize GC pressure and maximize cache locality.
package spatial

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

const (
	CostNominal    byte = 1   // Flat ground
	CostImpassable byte = 255 // Wall or structure, never relaxed
)

// Cell is an absolute grid coordinate. The grid origin is itself a Cell,
// so a Cell is only meaningful relative to a CostGrid's Origin.
type Cell struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Add returns the component-wise sum.
func (c Cell) Add(o Cell) Cell { return Cell{c.X + o.X, c.Y + o.Y} }

// Sub returns the component-wise difference.
func (c Cell) Sub(o Cell) Cell { return Cell{c.X - o.X, c.Y - o.Y} }

// CostGrid is the authoritative per-cell traversal cost over a fixed
// rectangular region. Memory layout is row-major: costs[y*Width+x].
type CostGrid struct {
	Origin   Cell
	Width    int
	Height   int
	CellSize float32
	costs    []byte
}

// NewCostGrid creates a grid filled with CostNominal.
// Width and height are clamped to at least 1x1.
func NewCostGrid(width, height int, origin Cell, cellSize float32) *CostGrid {
	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}
	if cellSize <= 0 {
		cellSize = 1
	}

	costs := make([]byte, width*height)
	for i := range costs {
		costs[i] = CostNominal
	}

	return &CostGrid{
		Origin:   origin,
		Width:    width,
		Height:   height,
		CellSize: cellSize,
		costs:    costs,
	}
}

// Size returns the number of cells.
func (g *CostGrid) Size() int {
	return len(g.costs)
}

// InBounds reports whether an absolute cell lies inside the grid.
func (g *CostGrid) InBounds(c Cell) bool {
	rx := c.X - g.Origin.X
	ry := c.Y - g.Origin.Y
	return rx >= 0 && rx < g.Width && ry >= 0 && ry < g.Height
}

// index maps an absolute cell to its array index, or -1 when out of bounds.
func (g *CostGrid) index(c Cell) int {
	rx := c.X - g.Origin.X
	ry := c.Y - g.Origin.Y
	if rx < 0 || rx >= g.Width || ry < 0 || ry >= g.Height {
		return -1
	}
	return ry*g.Width + rx
}

// Cost returns the stored cost, or CostImpassable outside the grid.
func (g *CostGrid) Cost(c Cell) byte {
	idx := g.index(c)
	if idx < 0 {
		return CostImpassable
	}
	return g.costs[idx]
}

// SetCost writes a cell's cost. Out-of-bounds writes are silently ignored.
// Returns true if the cell was inside the grid.
func (g *CostGrid) SetCost(c Cell, cost byte) bool {
	idx := g.index(c)
	if idx < 0 {
		return false
	}
	g.costs[idx] = cost
	return true
}

// costAt is the relative-coordinate accessor used by the field computer.
// Callers guarantee bounds.
func (g *CostGrid) costAt(rx, ry int) byte {
	return g.costs[ry*g.Width+rx]
}

// WorldToGrid converts a world position to an absolute cell by floor
// division. The origin is not subtracted.
func (g *CostGrid) WorldToGrid(p mgl32.Vec2) Cell {
	return Cell{
		X: int(math.Floor(float64(p[0] / g.CellSize))),
		Y: int(math.Floor(float64(p[1] / g.CellSize))),
	}
}

// GridToRelative offsets an absolute cell by the grid origin.
func (g *CostGrid) GridToRelative(c Cell) Cell {
	return c.Sub(g.Origin)
}

// WorldToRelative is WorldToGrid followed by GridToRelative.
func (g *CostGrid) WorldToRelative(p mgl32.Vec2) Cell {
	return g.GridToRelative(g.WorldToGrid(p))
}

// CellToWorld returns the world position of a cell's top-left corner.
func (g *CostGrid) CellToWorld(c Cell) mgl32.Vec2 {
	return mgl32.Vec2{float32(c.X) * g.CellSize, float32(c.Y) * g.CellSize}
}

// CellCenter returns the world position of a cell's center.
func (g *CostGrid) CellCenter(c Cell) mgl32.Vec2 {
	half := g.CellSize * 0.5
	return mgl32.Vec2{float32(c.X)*g.CellSize + half, float32(c.Y)*g.CellSize + half}
}

// CountImpassable returns how many cells are currently blocked.
func (g *CostGrid) CountImpassable() int {
	n := 0
	for _, c := range g.costs {
		if c == CostImpassable {
			n++
		}
	}
	return n
}
