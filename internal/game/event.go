package game

import (
	"encoding/json"
	"time"

	"flowfield-rts/internal/game/spatial"
)

// EventType enum for event classification
type EventType uint8

const (
	EventTypeUnknown EventType = iota
	EventTypeUnitSpawn
	EventTypeUnitDespawn
	EventTypeMoveCommand
	EventTypeBuildingPlace
	EventTypeBuildingRemove
	EventTypeCostChange
	EventTypeFieldsEvicted
	EventTypeFieldsCleared
)

// EventVersion for backwards compatibility in replay
const EventVersion uint8 = 1

// Event is the core event structure for the event log
type Event struct {
	Version   uint8           `json:"version"`   // Schema version
	Type      EventType       `json:"type"`      // Event type
	Timestamp int64           `json:"timestamp"` // Unix nano
	Sequence  uint64          `json:"sequence"`  // Monotonic sequence
	TickNum   uint64          `json:"tickNum"`   // Tick this occurred in
	Payload   json.RawMessage `json:"payload"`
}

// String returns human-readable event type
func (t EventType) String() string {
	switch t {
	case EventTypeUnitSpawn:
		return "unit_spawn"
	case EventTypeUnitDespawn:
		return "unit_despawn"
	case EventTypeMoveCommand:
		return "move_command"
	case EventTypeBuildingPlace:
		return "building_place"
	case EventTypeBuildingRemove:
		return "building_remove"
	case EventTypeCostChange:
		return "cost_change"
	case EventTypeFieldsEvicted:
		return "fields_evicted"
	case EventTypeFieldsCleared:
		return "fields_cleared"
	default:
		return "unknown"
	}
}

// MarshalText encodes the type by name so JSONL logs stay readable.
func (t EventType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Typed payloads for different event types

// UnitSpawnPayload contains spawn details
type UnitSpawnPayload struct {
	UnitID int     `json:"unitId"`
	Type   string  `json:"type"`
	X      float32 `json:"x"`
	Y      float32 `json:"y"`
}

// UnitDespawnPayload contains despawn details
type UnitDespawnPayload struct {
	UnitID int `json:"unitId"`
}

// MoveCommandPayload contains a move order
type MoveCommandPayload struct {
	UnitIDs []int        `json:"unitIds"`
	Target  spatial.Cell `json:"target"`
}

// BuildingPayload contains building placement or removal details
type BuildingPayload struct {
	BuildingID int          `json:"buildingId"`
	Cell       spatial.Cell `json:"cell"`
	Size       spatial.Cell `json:"size"`
	Type       int          `json:"type"`
}

// CostChangePayload contains a single cost write
type CostChangePayload struct {
	Cell spatial.Cell `json:"cell"`
	Cost byte         `json:"cost"`
}

// FieldsPayload contains a field count for cache lifecycle events
type FieldsPayload struct {
	Count int `json:"count"`
}

// EncodePayload marshals a payload to JSON bytes
func EncodePayload(payload interface{}) json.RawMessage {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	return data
}

// NewEvent creates a new event with the current timestamp
func NewEvent(eventType EventType, tickNum uint64, payload interface{}) Event {
	return Event{
		Version:   EventVersion,
		Type:      eventType,
		Timestamp: time.Now().UnixNano(),
		TickNum:   tickNum,
		Payload:   EncodePayload(payload),
	}
}
