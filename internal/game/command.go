package game

import (
	"errors"

	"github.com/go-gl/mathgl/mgl32"
)

// ErrInboxFull is returned when the command inbox cannot take more commands
// before the next tick drains it.
var ErrInboxFull = errors.New("command inbox full")

// CommandKind identifies an input command applied at the start of a tick.
type CommandKind uint8

const (
	CmdMove            CommandKind = iota // Move UnitIDs toward Point
	CmdMoveSelected                       // Move every selected unit toward Point
	CmdHover                              // Mouse-over flags at Point
	CmdSelectUnit                         // Toggle UnitIDs[0], deselect the rest
	CmdSelectAt                           // Toggle the unit under Point
	CmdSelectTypeAt                       // Select every unit sharing the type under Point
	CmdSelectType                         // Select every unit of TypeName
	CmdSelectBox                          // Select units inside the Point/Corner rectangle
	CmdClearSelection
)

func (k CommandKind) String() string {
	switch k {
	case CmdMove:
		return "move"
	case CmdMoveSelected:
		return "move_selected"
	case CmdHover:
		return "hover"
	case CmdSelectUnit:
		return "select_unit"
	case CmdSelectAt:
		return "select_at"
	case CmdSelectTypeAt:
		return "select_type_at"
	case CmdSelectType:
		return "select_type"
	case CmdSelectBox:
		return "select_box"
	case CmdClearSelection:
		return "clear_selection"
	default:
		return "unknown"
	}
}

// Command is one queued input. Fields beyond Kind are used per kind.
type Command struct {
	Kind     CommandKind
	UnitIDs  []int
	Point    mgl32.Vec2
	Corner   mgl32.Vec2
	TypeName string
}

// Submit queues cmd for the next tick without blocking. Safe for concurrent
// use by any number of goroutines.
func (e *Engine) Submit(cmd Command) error {
	if !e.inbox.TryPush(cmd) {
		return ErrInboxFull
	}
	return nil
}

// drainInbox applies every queued command in arrival order. Called with the
// engine lock held at the start of a tick.
func (e *Engine) drainInbox() int {
	n := e.inbox.DrainTo(e.cmdBuf)
	for i := 0; i < n; i++ {
		e.apply(e.cmdBuf[i])
		e.cmdBuf[i] = Command{}
	}
	return n
}

func (e *Engine) apply(cmd Command) {
	switch cmd.Kind {
	case CmdMove:
		e.moveUnits(cmd.UnitIDs, cmd.Point)
	case CmdMoveSelected:
		e.moveSelected(cmd.Point)
	case CmdHover:
		e.hover(cmd.Point)
	case CmdSelectUnit:
		if len(cmd.UnitIDs) > 0 {
			e.selectUnit(cmd.UnitIDs[0])
		}
	case CmdSelectAt:
		e.selectAt(cmd.Point)
	case CmdSelectTypeAt:
		e.selectTypeAt(cmd.Point)
	case CmdSelectType:
		e.selectType(cmd.TypeName)
	case CmdSelectBox:
		e.selectBox(cmd.Point, cmd.Corner)
	case CmdClearSelection:
		e.clearSelection()
	}
}
