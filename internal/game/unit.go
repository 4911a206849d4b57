package game

import (
	"flowfield-rts/internal/game/spatial"

	"github.com/go-gl/mathgl/mgl32"
)

// UnitState is the movement state machine of a unit
type UnitState uint8

const (
	UnitIdle UnitState = iota
	UnitMoving
)

func (s UnitState) String() string {
	switch s {
	case UnitIdle:
		return "idle"
	case UnitMoving:
		return "moving"
	default:
		return "unknown"
	}
}

// Unit is one agent. Units live only inside the UnitRegistry's dense slice;
// everything else refers to them by ID, or by dense index within a single tick.
type Unit struct {
	ID   int
	Type string

	Position mgl32.Vec2
	Velocity mgl32.Vec2

	// Movement target. TargetCell is always inside the grid while Moving.
	TargetPos  mgl32.Vec2
	TargetCell spatial.Cell

	MaxSpeed        float32
	Radius          float32 // Collision radius, drives separation range
	SelectionRadius float32

	State UnitState

	// Transient UI flags, never read by the simulation
	Selected  bool
	MouseOver bool
}

// moveTo points the unit at a new target and enters Moving.
func (u *Unit) moveTo(pos mgl32.Vec2, cell spatial.Cell) {
	u.TargetPos = pos
	u.TargetCell = cell
	u.State = UnitMoving
}
