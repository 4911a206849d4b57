// Package data loads static game tables from YAML.
package data

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// DefaultUnitType is the type spawned when a request names none.
const DefaultUnitType = "square"

// ErrUnknownUnitType is returned when a spawn names a type not in the table.
var ErrUnknownUnitType = errors.New("unknown unit type")

// UnitType holds the static per-type parameters consumed at spawn time.
type UnitType struct {
	Name            string  `yaml:"name" json:"name"`
	MoveSpeed       float32 `yaml:"move_speed" json:"move_speed"`
	CollisionRadius float32 `yaml:"collision_radius" json:"collision_radius"`
	SelectionRadius float32 `yaml:"selection_radius" json:"selection_radius"`
}

// withDefaults fills unset fields with the square's parameters.
func (u UnitType) withDefaults() UnitType {
	if u.MoveSpeed <= 0 {
		u.MoveSpeed = 200
	}
	if u.CollisionRadius <= 0 {
		u.CollisionRadius = 6
	}
	if u.SelectionRadius <= 0 {
		u.SelectionRadius = 8
	}
	return u
}

// UnitTypeTable provides lookup of unit types by name.
type UnitTypeTable struct {
	types map[string]*UnitType
}

// DefaultUnitTypes returns a table holding only the built-in square.
func DefaultUnitTypes() *UnitTypeTable {
	sq := UnitType{Name: DefaultUnitType}.withDefaults()
	return &UnitTypeTable{types: map[string]*UnitType{sq.Name: &sq}}
}

// LoadUnitTypeTable loads unit_types.yaml.
func LoadUnitTypeTable(path string) (*UnitTypeTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read unit types: %w", err)
	}
	return ParseUnitTypes(raw)
}

// ParseUnitTypes decodes a YAML list of unit types. Entries without a name
// are rejected; zero parameters fall back to the square's values.
func ParseUnitTypes(raw []byte) (*UnitTypeTable, error) {
	var entries []UnitType
	if err := yaml.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse unit types: %w", err)
	}
	t := &UnitTypeTable{
		types: make(map[string]*UnitType, len(entries)),
	}
	for i := range entries {
		e := entries[i].withDefaults()
		if e.Name == "" {
			return nil, fmt.Errorf("parse unit types: entry %d has no name", i)
		}
		if _, dup := t.types[e.Name]; dup {
			return nil, fmt.Errorf("parse unit types: duplicate name %q", e.Name)
		}
		t.types[e.Name] = &e
	}
	return t, nil
}

// Get returns the named type, or nil if none.
func (t *UnitTypeTable) Get(name string) *UnitType {
	return t.types[name]
}

// Lookup resolves a type name, treating "" as DefaultUnitType.
func (t *UnitTypeTable) Lookup(name string) (UnitType, error) {
	if name == "" {
		name = DefaultUnitType
	}
	u := t.types[name]
	if u == nil {
		return UnitType{}, fmt.Errorf("%w: %q", ErrUnknownUnitType, name)
	}
	return *u, nil
}

// Names returns every type name, sorted.
func (t *UnitTypeTable) Names() []string {
	names := make([]string, 0, len(t.types))
	for n := range t.types {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Count returns the total number of unit types loaded.
func (t *UnitTypeTable) Count() int {
	return len(t.types)
}
