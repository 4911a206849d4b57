package game

import (
	"github.com/go-gl/mathgl/mgl32"
)

// Selection and hover only flip the transient UI flags on units. The
// simulation never reads them except to resolve "move the selected units".
// All helpers below run with the engine lock held.

// unitAt returns the dense index of the unit whose selection radius contains
// p, preferring the most recently stored one, or -1.
func (e *Engine) unitAt(p mgl32.Vec2) int {
	units := e.registry.Units()
	for i := len(units) - 1; i >= 0; i-- {
		d := units[i].Position.Sub(p)
		r := units[i].SelectionRadius
		if d.Dot(d) < r*r {
			return i
		}
	}
	return -1
}

// hover sets MouseOver on every unit whose selection radius contains p.
func (e *Engine) hover(p mgl32.Vec2) {
	units := e.registry.Units()
	for i := range units {
		d := units[i].Position.Sub(p)
		r := units[i].SelectionRadius
		units[i].MouseOver = d.Dot(d) < r*r
	}
}

// selectUnit toggles id and deselects every other unit. Unknown ids change
// nothing.
func (e *Engine) selectUnit(id int) {
	if _, ok := e.registry.Index(id); !ok {
		return
	}
	units := e.registry.Units()
	for i := range units {
		if units[i].ID == id {
			units[i].Selected = !units[i].Selected
		} else {
			units[i].Selected = false
		}
	}
}

// selectAt is selectUnit for the unit under p. Clicking empty ground keeps
// the current selection.
func (e *Engine) selectAt(p mgl32.Vec2) {
	if idx := e.unitAt(p); idx >= 0 {
		e.selectUnit(e.registry.Units()[idx].ID)
	}
}

// selectType selects exactly the units of the given type.
func (e *Engine) selectType(typeName string) {
	units := e.registry.Units()
	for i := range units {
		units[i].Selected = units[i].Type == typeName
	}
}

// selectTypeAt is selectType for the type of the unit under p.
func (e *Engine) selectTypeAt(p mgl32.Vec2) {
	if idx := e.unitAt(p); idx >= 0 {
		e.selectType(e.registry.Units()[idx].Type)
	}
}

// selectBox selects exactly the units inside the rectangle spanned by a and
// b. The min edges are inclusive and the max edges exclusive.
func (e *Engine) selectBox(a, b mgl32.Vec2) {
	lo := mgl32.Vec2{min(a[0], b[0]), min(a[1], b[1])}
	hi := mgl32.Vec2{max(a[0], b[0]), max(a[1], b[1])}

	units := e.registry.Units()
	for i := range units {
		p := units[i].Position
		units[i].Selected = p[0] >= lo[0] && p[0] < hi[0] && p[1] >= lo[1] && p[1] < hi[1]
	}
}

func (e *Engine) clearSelection() {
	units := e.registry.Units()
	for i := range units {
		units[i].Selected = false
	}
}

// selectedIDs returns the ids of every selected unit.
func (e *Engine) selectedIDs() []int {
	var ids []int
	for _, u := range e.registry.Units() {
		if u.Selected {
			ids = append(ids, u.ID)
		}
	}
	return ids
}

// moveSelected issues a move for every selected unit.
func (e *Engine) moveSelected(target mgl32.Vec2) {
	if ids := e.selectedIDs(); len(ids) > 0 {
		e.moveUnits(ids, target)
	}
}

// SelectedIDs returns the ids of every selected unit.
func (e *Engine) SelectedIDs() []int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.selectedIDs()
}

// The exported selection calls queue a command for the next tick, so they
// are safe from any goroutine and never contend with a running tick.

// Hover updates mouse-over flags for the pointer at p.
func (e *Engine) Hover(p mgl32.Vec2) error {
	return e.Submit(Command{Kind: CmdHover, Point: p})
}

// SelectUnit toggles one unit and deselects the rest.
func (e *Engine) SelectUnit(id int) error {
	return e.Submit(Command{Kind: CmdSelectUnit, UnitIDs: []int{id}})
}

// SelectAt toggles the unit under p.
func (e *Engine) SelectAt(p mgl32.Vec2) error {
	return e.Submit(Command{Kind: CmdSelectAt, Point: p})
}

// SelectTypeAt selects every unit sharing the type of the unit under p.
func (e *Engine) SelectTypeAt(p mgl32.Vec2) error {
	return e.Submit(Command{Kind: CmdSelectTypeAt, Point: p})
}

// SelectType selects every unit of the named type.
func (e *Engine) SelectType(typeName string) error {
	return e.Submit(Command{Kind: CmdSelectType, TypeName: typeName})
}

// SelectBox selects the units inside the rectangle with corners a and b.
func (e *Engine) SelectBox(a, b mgl32.Vec2) error {
	return e.Submit(Command{Kind: CmdSelectBox, Point: a, Corner: b})
}

// ClearSelection deselects every unit.
func (e *Engine) ClearSelection() error {
	return e.Submit(Command{Kind: CmdClearSelection})
}

// CommandSelected moves every selected unit toward target.
func (e *Engine) CommandSelected(target mgl32.Vec2) error {
	return e.Submit(Command{Kind: CmdMoveSelected, Point: target})
}
