package game

import "github.com/go-gl/mathgl/mgl32"

// UnitRegistry stores units densely with a stable id → index map.
// Spawn appends and Despawn swap-removes, both O(1). Dense indices change on
// Despawn and must not be held across ticks.
type UnitRegistry struct {
	units  []Unit
	index  map[int]int
	nextID int
}

// NewUnitRegistry creates an empty registry with room for capacity units.
func NewUnitRegistry(capacity int) *UnitRegistry {
	return &UnitRegistry{
		units: make([]Unit, 0, capacity),
		index: make(map[int]int, capacity),
	}
}

// Spawn stores u under the next id and returns that id. Ids are never reused.
func (r *UnitRegistry) Spawn(u Unit) int {
	u.ID = r.nextID
	r.nextID++

	r.units = append(r.units, u)
	r.index[u.ID] = len(r.units) - 1
	return u.ID
}

// Despawn removes a unit by moving the last unit into its slot.
// Returns false if the id is unknown.
func (r *UnitRegistry) Despawn(id int) bool {
	idx, ok := r.index[id]
	if !ok {
		return false
	}

	last := len(r.units) - 1
	if idx != last {
		r.units[idx] = r.units[last]
		r.index[r.units[idx].ID] = idx
	}
	r.units[last] = Unit{}
	r.units = r.units[:last]
	delete(r.index, id)
	return true
}

// Get returns a pointer to the unit, valid until the next Spawn or Despawn.
func (r *UnitRegistry) Get(id int) (*Unit, bool) {
	idx, ok := r.index[id]
	if !ok {
		return nil, false
	}
	return &r.units[idx], true
}

// Index returns the dense index of id.
func (r *UnitRegistry) Index(id int) (int, bool) {
	idx, ok := r.index[id]
	return idx, ok
}

// PositionOf returns the unit's position, or the zero vector for unknown ids.
func (r *UnitRegistry) PositionOf(id int) mgl32.Vec2 {
	if u, ok := r.Get(id); ok {
		return u.Position
	}
	return mgl32.Vec2{}
}

// StateOf returns the unit's state, or UnitIdle for unknown ids.
func (r *UnitRegistry) StateOf(id int) UnitState {
	if u, ok := r.Get(id); ok {
		return u.State
	}
	return UnitIdle
}

// Len returns the number of live units.
func (r *UnitRegistry) Len() int { return len(r.units) }

// Units returns the dense slice. It is only valid for the current tick.
func (r *UnitRegistry) Units() []Unit { return r.units }

// Positions writes every unit position into dst (reused) in dense order.
func (r *UnitRegistry) Positions(dst []mgl32.Vec2) []mgl32.Vec2 {
	dst = dst[:0]
	for i := range r.units {
		dst = append(dst, r.units[i].Position)
	}
	return dst
}
