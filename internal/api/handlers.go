package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"flowfield-rts/internal/data"
	"flowfield-rts/internal/game"
	"flowfield-rts/internal/game/spatial"

	"github.com/go-chi/chi/v5"
	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/zap"
)

// Handler methods for routerHandlers
// These are used by both the standalone router (for testing) and the full Server.

// point is a world position on the wire.
type point struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
}

func (p point) vec() mgl32.Vec2 { return mgl32.Vec2{p.X, p.Y} }

// ============================================================================
// World state
// ============================================================================

func (h *routerHandlers) handleGetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.engine.GetSnapshot())
}

func (h *routerHandlers) handleGetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.engine.Stats())
}

func (h *routerHandlers) handleGetUnitTypes(w http.ResponseWriter, r *http.Request) {
	table := h.engine.UnitTypes()
	names := table.Names()
	types := make([]data.UnitType, 0, len(names))
	for _, n := range names {
		types = append(types, *table.Get(n))
	}
	writeJSON(w, types)
}

// ============================================================================
// Units
// ============================================================================

// unitView is the JSON form of a single unit.
type unitView struct {
	ID       int     `json:"id"`
	Type     string  `json:"type"`
	Position point   `json:"position"`
	Velocity point   `json:"velocity"`
	Target   point   `json:"target"`
	State    string  `json:"state"`
	Radius   float32 `json:"radius"`
	MaxSpeed float32 `json:"maxSpeed"`
	Selected bool    `json:"selected"`
}

func newUnitView(u game.Unit) unitView {
	return unitView{
		ID:       u.ID,
		Type:     u.Type,
		Position: point{u.Position.X(), u.Position.Y()},
		Velocity: point{u.Velocity.X(), u.Velocity.Y()},
		Target:   point{u.TargetPos.X(), u.TargetPos.Y()},
		State:    u.State.String(),
		Radius:   u.Radius,
		MaxSpeed: u.MaxSpeed,
		Selected: u.Selected,
	}
}

func (h *routerHandlers) handleSpawnUnit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		X    float32 `json:"x"`
		Y    float32 `json:"y"`
		Type string  `json:"type"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	id, err := h.engine.Spawn(mgl32.Vec2{req.X, req.Y}, req.Type)
	switch {
	case errors.Is(err, data.ErrUnknownUnitType):
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, game.ErrUnitLimit):
		writeError(w, err.Error(), http.StatusServiceUnavailable)
		return
	case err != nil:
		h.logger.Error("spawn failed", zap.Error(err))
		writeError(w, "spawn failed", http.StatusInternalServerError)
		return
	}

	writeJSONStatus(w, http.StatusCreated, map[string]int{"id": id})
}

func (h *routerHandlers) handleGetUnit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	u, found := h.engine.Unit(id)
	if !found {
		writeError(w, "unit not found", http.StatusNotFound)
		return
	}
	writeJSON(w, newUnitView(u))
}

func (h *routerHandlers) handleDespawnUnit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if !h.engine.Despawn(id) {
		writeError(w, "unit not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleMoveUnits queues a move. An empty id list moves the current selection.
func (h *routerHandlers) handleMoveUnits(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs    []int `json:"ids"`
		Target point `json:"target"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	target := req.Target.vec()
	if !h.engine.IsInGrid(h.engine.WorldToGrid(target)) {
		writeError(w, "target outside grid", http.StatusBadRequest)
		return
	}
	if max := h.engine.Limits().MaxMoveBatch; max > 0 && len(req.IDs) > max {
		writeError(w, fmt.Sprintf("at most %d ids per move", max), http.StatusBadRequest)
		return
	}

	cmd := game.Command{Kind: game.CmdMove, UnitIDs: req.IDs, Point: target}
	if len(req.IDs) == 0 {
		cmd = game.Command{Kind: game.CmdMoveSelected, Point: target}
	}
	h.submit(w, cmd)
}

// ============================================================================
// Selection
// ============================================================================

func (h *routerHandlers) handleGetSelection(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string][]int{"ids": h.engine.SelectedIDs()})
}

func (h *routerHandlers) handleSelectBox(w http.ResponseWriter, r *http.Request) {
	var req struct {
		From point `json:"from"`
		To   point `json:"to"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	h.submit(w, game.Command{Kind: game.CmdSelectBox, Point: req.From.vec(), Corner: req.To.vec()})
}

func (h *routerHandlers) handleSelectUnit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID int `json:"id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	h.submit(w, game.Command{Kind: game.CmdSelectUnit, UnitIDs: []int{req.ID}})
}

// handleSelectType selects by type name, or by the type of the unit under
// the given point when no name is sent.
func (h *routerHandlers) handleSelectType(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type string `json:"type"`
		At   *point `json:"at"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	switch {
	case req.Type != "":
		if h.engine.UnitTypes().Get(req.Type) == nil {
			writeError(w, fmt.Sprintf("unknown unit type %q", req.Type), http.StatusBadRequest)
			return
		}
		h.submit(w, game.Command{Kind: game.CmdSelectType, TypeName: req.Type})
	case req.At != nil:
		h.submit(w, game.Command{Kind: game.CmdSelectTypeAt, Point: req.At.vec()})
	default:
		writeError(w, "type or at is required", http.StatusBadRequest)
	}
}

func (h *routerHandlers) handleSelectPoint(w http.ResponseWriter, r *http.Request) {
	var req point
	if !decodeBody(w, r, &req) {
		return
	}
	h.submit(w, game.Command{Kind: game.CmdSelectAt, Point: req.vec()})
}

func (h *routerHandlers) handleClearSelection(w http.ResponseWriter, r *http.Request) {
	h.submit(w, game.Command{Kind: game.CmdClearSelection})
}

func (h *routerHandlers) handleHover(w http.ResponseWriter, r *http.Request) {
	var req point
	if !decodeBody(w, r, &req) {
		return
	}
	h.submit(w, game.Command{Kind: game.CmdHover, Point: req.vec()})
}

// submit queues cmd and answers 202, or 503 when the inbox is full.
func (h *routerHandlers) submit(w http.ResponseWriter, cmd game.Command) {
	if err := h.engine.Submit(cmd); err != nil {
		writeError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSONStatus(w, http.StatusAccepted, map[string]string{"queued": cmd.Kind.String()})
}

// ============================================================================
// Grid
// ============================================================================

func (h *routerHandlers) handleGetGrid(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.engine.GridInfo())
}

func (h *routerHandlers) handleGetCell(w http.ResponseWriter, r *http.Request) {
	c, ok := queryCell(w, r, "x", "y")
	if !ok {
		return
	}
	writeJSON(w, map[string]interface{}{
		"cell":   c,
		"inGrid": h.engine.IsInGrid(c),
		"cost":   h.engine.Cost(c),
	})
}

func (h *routerHandlers) handleSetCost(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Cell spatial.Cell `json:"cell"`
		Cost int          `json:"cost"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Cost < int(spatial.CostNominal) || req.Cost > int(spatial.CostImpassable) {
		writeError(w, "cost must be in [1, 255]", http.StatusBadRequest)
		return
	}
	if !h.engine.SetCost(req.Cell, byte(req.Cost)) {
		writeError(w, "cell outside grid", http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ============================================================================
// Buildings
// ============================================================================

type buildingRequest struct {
	Cell spatial.Cell `json:"cell"`
	Size spatial.Cell `json:"size"`
	Type int          `json:"type"`
}

func (h *routerHandlers) handleGetBuildings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.engine.Buildings())
}

func (h *routerHandlers) handleCheckArea(w http.ResponseWriter, r *http.Request) {
	cell, ok := queryCell(w, r, "x", "y")
	if !ok {
		return
	}
	size, ok := queryCell(w, r, "w", "h")
	if !ok {
		return
	}
	if size.X <= 0 || size.Y <= 0 {
		writeError(w, "size must be positive", http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]bool{"clear": h.engine.IsAreaClear(cell, size)})
}

func (h *routerHandlers) handlePlaceBuilding(w http.ResponseWriter, r *http.Request) {
	var req buildingRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Size.X <= 0 || req.Size.Y <= 0 {
		writeError(w, "size must be positive", http.StatusBadRequest)
		return
	}

	id, err := h.engine.PlaceBuilding(req.Cell, req.Size, req.Type)
	switch {
	case errors.Is(err, game.ErrAreaBlocked):
		writeError(w, err.Error(), http.StatusConflict)
		return
	case errors.Is(err, game.ErrBuildingLimit):
		writeError(w, err.Error(), http.StatusServiceUnavailable)
		return
	case err != nil:
		h.logger.Error("place building failed", zap.Error(err))
		writeError(w, "place building failed", http.StatusInternalServerError)
		return
	}

	writeJSONStatus(w, http.StatusCreated, map[string]int{"id": id})
}

func (h *routerHandlers) handleRemoveBuilding(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if !h.engine.RemoveBuilding(id) {
		writeError(w, "building not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ============================================================================
// Flow fields
// ============================================================================

func (h *routerHandlers) handleGetFields(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.engine.Fields())
}

func (h *routerHandlers) handleCreateField(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Target    spatial.Cell `json:"target"`
		Overwrite bool         `json:"overwrite"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if !h.engine.CreateField(req.Target, req.Overwrite) {
		writeError(w, "target outside grid", http.StatusBadRequest)
		return
	}
	writeJSONStatus(w, http.StatusAccepted, map[string]spatial.Cell{"target": req.Target})
}

// handleDeleteFields removes one field when x and y are given, otherwise
// clears the whole cache.
func (h *routerHandlers) handleDeleteFields(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("x") == "" && q.Get("y") == "" {
		h.engine.ClearFields()
		w.WriteHeader(http.StatusNoContent)
		return
	}
	c, ok := queryCell(w, r, "x", "y")
	if !ok {
		return
	}
	h.engine.RemoveField(c)
	w.WriteHeader(http.StatusNoContent)
}

// navQuery parses a world position (x, y) and a world target (tx, ty).
func navQuery(w http.ResponseWriter, r *http.Request) (pos, target mgl32.Vec2, ok bool) {
	vals, ok := queryFloats(w, r, "x", "y", "tx", "ty")
	if !ok {
		return pos, target, false
	}
	return mgl32.Vec2{vals[0], vals[1]}, mgl32.Vec2{vals[2], vals[3]}, true
}

func (h *routerHandlers) handleIntegration(w http.ResponseWriter, r *http.Request) {
	pos, target, ok := navQuery(w, r)
	if !ok {
		return
	}
	v := h.engine.Integration(pos, target)
	writeJSON(w, map[string]interface{}{
		"distance":  v,
		"found":     v >= 0,
		"reachable": v >= 0 && v < spatial.Unreachable,
	})
}

func (h *routerHandlers) handleDirection(w http.ResponseWriter, r *http.Request) {
	pos, target, ok := navQuery(w, r)
	if !ok {
		return
	}
	d := h.engine.FlowDirection(pos, target)
	writeJSON(w, point{d.X(), d.Y()})
}

// ============================================================================
// Helpers (package-level for reuse)
// ============================================================================

// decodeBody reads a bounded JSON body into dst, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, "invalid request: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id < 0 {
		writeError(w, "invalid id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func queryCell(w http.ResponseWriter, r *http.Request, xKey, yKey string) (spatial.Cell, bool) {
	q := r.URL.Query()
	x, errX := strconv.Atoi(q.Get(xKey))
	y, errY := strconv.Atoi(q.Get(yKey))
	if errX != nil || errY != nil {
		writeError(w, fmt.Sprintf("integer %s and %s are required", xKey, yKey), http.StatusBadRequest)
		return spatial.Cell{}, false
	}
	return spatial.Cell{X: x, Y: y}, true
}

func queryFloats(w http.ResponseWriter, r *http.Request, keys ...string) ([]float32, bool) {
	q := r.URL.Query()
	out := make([]float32, len(keys))
	for i, k := range keys {
		v, err := strconv.ParseFloat(q.Get(k), 32)
		if err != nil {
			writeError(w, fmt.Sprintf("numeric %s is required", k), http.StatusBadRequest)
			return nil, false
		}
		out[i] = float32(v)
	}
	return out, true
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	writeJSONStatus(w, http.StatusOK, data)
}

func writeJSONStatus(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
