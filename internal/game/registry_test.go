package game

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

// checkBijection verifies every live unit is indexed at its own slot.
func checkBijection(t *testing.T, r *UnitRegistry) {
	t.Helper()
	if len(r.index) != len(r.units) {
		t.Fatalf("Index has %d entries for %d units", len(r.index), len(r.units))
	}
	for i, u := range r.units {
		idx, ok := r.Index(u.ID)
		if !ok || idx != i {
			t.Errorf("Unit %d at slot %d indexed at %d (ok=%v)", u.ID, i, idx, ok)
		}
	}
}

// TestRegistrySpawnAssignsIDs tests that ids are sequential and never reused
func TestRegistrySpawnAssignsIDs(t *testing.T) {
	r := NewUnitRegistry(4)

	for want := 0; want < 3; want++ {
		if got := r.Spawn(Unit{}); got != want {
			t.Errorf("Expected id %d, got %d", want, got)
		}
	}
	r.Despawn(1)
	if got := r.Spawn(Unit{}); got != 3 {
		t.Errorf("Expected id 3 after despawn, got %d", got)
	}
	checkBijection(t, r)
}

// TestRegistryDespawnSwapRemove tests the id/index map after removing a
// non-tail unit
func TestRegistryDespawnSwapRemove(t *testing.T) {
	r := NewUnitRegistry(4)
	for i := 0; i < 4; i++ {
		r.Spawn(Unit{Position: mgl32.Vec2{float32(i), 0}})
	}

	if !r.Despawn(1) {
		t.Fatal("Despawn returned false for live unit")
	}
	if r.Len() != 3 {
		t.Errorf("Expected 3 units, got %d", r.Len())
	}
	checkBijection(t, r)

	// The tail unit moved into slot 1
	if idx, _ := r.Index(3); idx != 1 {
		t.Errorf("Expected unit 3 at slot 1, got %d", idx)
	}
	if got := r.PositionOf(3); got != (mgl32.Vec2{3, 0}) {
		t.Errorf("Expected unit 3 to keep its position, got %v", got)
	}

	// Tail removal
	if !r.Despawn(2) {
		t.Fatal("Despawn of tail returned false")
	}
	checkBijection(t, r)
}

// TestRegistryUnknownIDs tests the sentinels for ids that are not live
func TestRegistryUnknownIDs(t *testing.T) {
	r := NewUnitRegistry(1)
	id := r.Spawn(Unit{Position: mgl32.Vec2{5, 5}, State: UnitMoving})
	r.Despawn(id)

	if r.Despawn(id) {
		t.Error("Despawn of removed id should return false")
	}
	if _, ok := r.Get(id); ok {
		t.Error("Get of removed id should fail")
	}
	if got := r.PositionOf(id); got != (mgl32.Vec2{}) {
		t.Errorf("Expected zero position, got %v", got)
	}
	if got := r.StateOf(42); got != UnitIdle {
		t.Errorf("Expected idle for unknown id, got %s", got)
	}
}

// TestRegistryPositions tests dense position export with a reused buffer
func TestRegistryPositions(t *testing.T) {
	r := NewUnitRegistry(3)
	for i := 0; i < 3; i++ {
		r.Spawn(Unit{Position: mgl32.Vec2{float32(i), float32(i * 2)}})
	}

	buf := make([]mgl32.Vec2, 0, 8)
	buf = r.Positions(buf)
	if len(buf) != 3 {
		t.Fatalf("Expected 3 positions, got %d", len(buf))
	}
	if buf[2] != (mgl32.Vec2{2, 4}) {
		t.Errorf("Expected (2,4), got %v", buf[2])
	}

	r.Despawn(0)
	buf = r.Positions(buf)
	if len(buf) != 2 {
		t.Errorf("Expected 2 positions after despawn, got %d", len(buf))
	}
}
