package spatial

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// BucketScale is the spatial hash bucket size in path-grid cells.
const BucketScale = 2

// SpatialGrid is a coarse uniform hash over the same region as a CostGrid,
// used for neighbor queries. It holds dense unit indices, not ids, and is
// rebuilt from scratch every tick.
//
// Memory layout: buckets are stored in row-major order (buckets[row*cols+col])
type SpatialGrid struct {
	origin     mgl32.Vec2 // World position of the grid origin
	bucketSize float32
	invBucket  float32 // 1/bucketSize for faster division
	cols, rows int
	buckets    [][]int
	scratch    []int // reusable buffer for query results
}

// NewSpatialGrid creates a hash covering the cost grid's region with buckets
// BucketScale times the path cell size. maxEntities is used to preallocate
// bucket capacity.
func NewSpatialGrid(g *CostGrid, maxEntities int) *SpatialGrid {
	cols := int(math.Ceil(float64(g.Width) / BucketScale))
	rows := int(math.Ceil(float64(g.Height) / BucketScale))

	// Ensure at least 1x1 grid
	if cols < 1 {
		cols = 1
	}
	if rows < 1 {
		rows = 1
	}

	buckets := make([][]int, cols*rows)
	avgPerBucket := maxEntities / len(buckets)
	if avgPerBucket < 4 {
		avgPerBucket = 4
	}
	for i := range buckets {
		buckets[i] = make([]int, 0, avgPerBucket)
	}

	bucketSize := g.CellSize * BucketScale
	return &SpatialGrid{
		origin:     g.CellToWorld(g.Origin),
		bucketSize: bucketSize,
		invBucket:  1 / bucketSize,
		cols:       cols,
		rows:       rows,
		buckets:    buckets,
		scratch:    make([]int, 0, 64),
	}
}

// Clear resets all buckets without deallocating underlying memory.
func (s *SpatialGrid) Clear() {
	for i := range s.buckets {
		s.buckets[i] = s.buckets[i][:0] // Keep capacity, reset length
	}
}

// bucketOf maps a world position to (col, row) by floor division after
// subtracting the origin. The result may be out of range.
func (s *SpatialGrid) bucketOf(p mgl32.Vec2) (col, row int) {
	col = int(math.Floor(float64((p[0] - s.origin[0]) * s.invBucket)))
	row = int(math.Floor(float64((p[1] - s.origin[1]) * s.invBucket)))
	return col, row
}

// Insert adds a dense index at position p. Positions outside the grid are
// skipped. Returns false if skipped.
func (s *SpatialGrid) Insert(index int, p mgl32.Vec2) bool {
	col, row := s.bucketOf(p)
	if col < 0 || col >= s.cols || row < 0 || row >= s.rows {
		return false
	}
	idx := row*s.cols + col
	s.buckets[idx] = append(s.buckets[idx], index)
	return true
}

// Rebuild clears the grid and inserts every position under its slice index.
func (s *SpatialGrid) Rebuild(positions []mgl32.Vec2) {
	s.Clear()
	for i, p := range positions {
		s.Insert(i, p)
	}
}

// QueryRadius returns the indices in the buckets around p. The window spans
// int(radius/bucketSize)+1 buckets on each side of p's bucket, so at least
// 3x3 buckets are scanned.
//
// IMPORTANT: The returned slice is reused on subsequent calls.
// Copy the results if you need to persist them.
//
// The returned candidates may include entities outside the radius;
// the caller must perform a precise distance check.
func (s *SpatialGrid) QueryRadius(p mgl32.Vec2, radius float32) []int {
	s.scratch = s.scratch[:0]

	span := int(radius*s.invBucket) + 1
	col, row := s.bucketOf(p)

	minCol, maxCol := col-span, col+span
	minRow, maxRow := row-span, row+span

	// Clamp to grid bounds
	if minCol < 0 {
		minCol = 0
	}
	if maxCol >= s.cols {
		maxCol = s.cols - 1
	}
	if minRow < 0 {
		minRow = 0
	}
	if maxRow >= s.rows {
		maxRow = s.rows - 1
	}

	for r := minRow; r <= maxRow; r++ {
		for c := minCol; c <= maxCol; c++ {
			s.scratch = append(s.scratch, s.buckets[r*s.cols+c]...)
		}
	}

	return s.scratch
}

// QueryBucket returns the indices in the bucket containing p, or nil if p is
// outside the grid.
func (s *SpatialGrid) QueryBucket(p mgl32.Vec2) []int {
	col, row := s.bucketOf(p)
	if col < 0 || col >= s.cols || row < 0 || row >= s.rows {
		return nil
	}
	return s.buckets[row*s.cols+col]
}

// Stats returns grid statistics for debugging/profiling.
func (s *SpatialGrid) Stats() GridStats {
	var totalEntities, maxInBucket, nonEmpty int
	for _, b := range s.buckets {
		count := len(b)
		totalEntities += count
		if count > maxInBucket {
			maxInBucket = count
		}
		if count > 0 {
			nonEmpty++
		}
	}

	avgPerBucket := 0.0
	if nonEmpty > 0 {
		avgPerBucket = float64(totalEntities) / float64(nonEmpty)
	}

	return GridStats{
		TotalBuckets:    len(s.buckets),
		NonEmptyBuckets: nonEmpty,
		TotalEntities:   totalEntities,
		MaxInBucket:     maxInBucket,
		AvgPerNonEmpty:  avgPerBucket,
	}
}

// GridStats contains spatial hash statistics for debugging.
type GridStats struct {
	TotalBuckets    int     `json:"total_buckets"`
	NonEmptyBuckets int     `json:"non_empty_buckets"`
	TotalEntities   int     `json:"total_entities"`
	MaxInBucket     int     `json:"max_in_bucket"`
	AvgPerNonEmpty  float64 `json:"avg_per_non_empty"`
}

// Dimensions returns the grid dimensions.
func (s *SpatialGrid) Dimensions() (cols, rows int, bucketSize float32) {
	return s.cols, s.rows, s.bucketSize
}
