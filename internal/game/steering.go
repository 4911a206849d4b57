package game

import (
	"math"

	"flowfield-rts/internal/game/spatial"

	"github.com/go-gl/mathgl/mgl32"
)

// separationEpsilon skips coincident pairs instead of dividing by ~0.
const separationEpsilon = 1e-11

// SteeringConfig holds the force model weights.
type SteeringConfig struct {
	FlowFactor             float32
	SeparationFactor       float32
	SeparationLimit        float32 // Max magnitude of the summed separation
	FrictionFactor         float32
	SeparationRadiusFactor float32 // Neighbor range as a multiple of unit radius

	ForceThresholdSq    float32 // Composite forces below this snap to zero
	VelocityThresholdSq float32 // Velocities below this snap to zero

	// Moving units stop once the integration at their position is at most this
	DesiredIntegration float32
}

// DefaultSteeringConfig returns the tuned defaults.
func DefaultSteeringConfig() SteeringConfig {
	return SteeringConfig{
		FlowFactor:             2000,
		SeparationFactor:       10000,
		SeparationLimit:        1000,
		FrictionFactor:         100,
		SeparationRadiusFactor: 3,
		ForceThresholdSq:       1.0,
		VelocityThresholdSq:    1.0,
		DesiredIntegration:     1.5,
	}
}

// Steering evaluates flow attraction, separation and friction for every unit
// and integrates the result. A step runs in three passes (state transitions,
// forces, integration) so that every force in a tick sees the same positions
// and states regardless of unit order.
type Steering struct {
	cfg   SteeringConfig
	cache *spatial.FieldCache
	grid  *spatial.SpatialGrid

	forces []mgl32.Vec2 // reused per tick, parallel to the unit slice
}

// NewSteering creates a steering engine reading fields from cache and
// neighbors from grid.
func NewSteering(cfg SteeringConfig, cache *spatial.FieldCache, grid *spatial.SpatialGrid) *Steering {
	return &Steering{
		cfg:   cfg,
		cache: cache,
		grid:  grid,
	}
}

// Config returns the active configuration.
func (s *Steering) Config() SteeringConfig { return s.cfg }

// Step advances all units by dt seconds. The spatial grid must already hold
// the current positions.
func (s *Steering) Step(units []Unit, dt float32) {
	s.UpdateStates(units)
	s.ComputeForces(units)
	s.Integrate(units, dt)
}

// UpdateStates stops every Moving unit whose path distance to its target is
// within DesiredIntegration. A unit off the grid reads -1 and stops as well.
func (s *Steering) UpdateStates(units []Unit) {
	for i := range units {
		u := &units[i]
		if u.State != UnitMoving {
			continue
		}
		if s.cache.IntegrationToward(u.Position, u.TargetCell) <= s.cfg.DesiredIntegration {
			u.State = UnitIdle
			u.Velocity = mgl32.Vec2{}
		}
	}
}

// ComputeForces fills the per-unit force buffer.
func (s *Steering) ComputeForces(units []Unit) {
	if cap(s.forces) < len(units) {
		s.forces = make([]mgl32.Vec2, len(units))
	}
	s.forces = s.forces[:len(units)]

	for i := range units {
		s.forces[i] = s.force(units, i)
	}
}

// Integrate applies the buffered forces: v += F·dt, clamp to MaxSpeed, snap
// small velocities to zero, then p += v·dt.
func (s *Steering) Integrate(units []Unit, dt float32) {
	for i := range units {
		u := &units[i]
		var f mgl32.Vec2
		if i < len(s.forces) {
			f = s.forces[i]
		}

		u.Velocity = limitLength(u.Velocity.Add(f.Mul(dt)), u.MaxSpeed)
		if u.Velocity.Dot(u.Velocity) < s.cfg.VelocityThresholdSq {
			u.Velocity = mgl32.Vec2{}
		}
		u.Position = u.Position.Add(u.Velocity.Mul(dt))
	}
}

// force is the composite force on units[i].
func (s *Steering) force(units []Unit, i int) mgl32.Vec2 {
	u := &units[i]
	sep := s.Separation(units, i).Mul(s.cfg.SeparationFactor)

	var f mgl32.Vec2
	switch u.State {
	case UnitIdle:
		f = u.Velocity.Mul(-s.cfg.FrictionFactor).Add(sep)
	case UnitMoving:
		f = s.Flow(u).Mul(s.cfg.FlowFactor).Add(sep)
	}

	if f.Dot(f) < s.cfg.ForceThresholdSq {
		return mgl32.Vec2{}
	}
	return f
}

// Flow samples the unit's field at its current cell. Zero if no field exists
// yet or the unit is off the grid.
func (s *Steering) Flow(u *Unit) mgl32.Vec2 {
	return s.cache.DirectionToward(u.Position, u.TargetCell)
}

// Separation sums -Δ/|Δ|² over neighbors within Radius·SeparationRadiusFactor.
// Idle units push back harder against Moving neighbors (2) than Idle ones (1);
// Moving units yield less to Idle neighbors (0.5) than to Moving ones (1).
func (s *Steering) Separation(units []Unit, i int) mgl32.Vec2 {
	u := &units[i]
	radius := u.Radius * s.cfg.SeparationRadiusFactor
	radiusSq := radius * radius

	var sum mgl32.Vec2
	for _, j := range s.grid.QueryRadius(u.Position, radius) {
		if j == i || j >= len(units) {
			continue
		}
		other := &units[j]

		delta := other.Position.Sub(u.Position)
		distSq := delta.Dot(delta)
		if distSq < separationEpsilon || distSq >= radiusSq {
			continue
		}

		sum = sum.Sub(delta.Mul(separationWeight(u.State, other.State) / distSq))
	}

	return limitLength(sum, s.cfg.SeparationLimit)
}

func separationWeight(self, other UnitState) float32 {
	if self == UnitIdle {
		if other == UnitIdle {
			return 1
		}
		return 2
	}
	if other == UnitIdle {
		return 0.5
	}
	return 1
}

// limitLength scales v down to length limit, leaving shorter vectors alone.
func limitLength(v mgl32.Vec2, limit float32) mgl32.Vec2 {
	lsq := v.Dot(v)
	if lsq <= limit*limit || lsq == 0 {
		return v
	}
	return v.Mul(limit / float32(math.Sqrt(float64(lsq))))
}
