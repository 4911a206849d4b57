package game

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"flowfield-rts/internal/config"
	"flowfield-rts/internal/data"
	"flowfield-rts/internal/game/spatial"

	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/zap"
)

// ErrUnitLimit is returned by Spawn once MaxUnits are alive.
var ErrUnitLimit = errors.New("unit limit reached")

// TickStats summarizes one tick for observers.
type TickStats struct {
	TickNumber uint64
	Duration   time.Duration
	Commands   int
	Units      int
	Moving     int
	Cache      spatial.CacheStats
	Grid       spatial.GridStats
	Events     EventLogStats
}

// TickObserver is notified at the end of every tick with the engine lock
// held. Implementations must not call back into the engine.
type TickObserver interface {
	ObserveTick(TickStats)
}

// Engine owns the navigation state and runs the fixed-rate simulation loop.
// All mutation happens on the tick goroutine or under the engine lock;
// concurrent callers either queue a Command or take the lock briefly.
type Engine struct {
	mu sync.RWMutex

	grid     *spatial.CostGrid
	cache    *spatial.FieldCache
	hash     *spatial.SpatialGrid
	steering *Steering
	registry *UnitRegistry
	types    *data.UnitTypeTable

	buildings      map[int]Building
	nextBuildingID int

	// Input commands queued between ticks
	inbox  *LockFreeQueue[Command]
	cmdBuf []Command

	positions []mgl32.Vec2 // reused per tick for the spatial hash rebuild

	tickRate  int
	tickCount uint64
	running   bool
	ticker    *time.Ticker
	stopChan  chan struct{}
	doneChan  chan struct{}

	limits config.ResourceLimits

	// Snapshot system for lock-free reads
	snapshotPool *SnapshotPool

	// Event sourcing for replay and debugging
	eventLog *EventLog

	observer TickObserver
	logger   *zap.Logger
}

// NewEngine builds an engine from cfg. A nil types table uses the built-in
// unit types; a nil logger discards output.
func NewEngine(cfg config.AppConfig, types *data.UnitTypeTable, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if types == nil {
		types = data.DefaultUnitTypes()
	}
	logger = logger.Named("engine")

	grid := spatial.NewCostGrid(cfg.Grid.Width, cfg.Grid.Height,
		spatial.Cell{X: cfg.Grid.OriginX, Y: cfg.Grid.OriginY}, float32(cfg.Grid.CellSize))
	cache := spatial.NewFieldCache(grid, spatial.CacheConfig{
		CleanupInterval: cfg.Cache.CleanupInterval,
		UnusedThreshold: cfg.Cache.UnusedThreshold,
	}, logger.Named("flowfield"))
	hash := spatial.NewSpatialGrid(grid, cfg.Limits.MaxUnits)

	e := &Engine{
		grid:         grid,
		cache:        cache,
		hash:         hash,
		steering:     NewSteering(steeringFromConfig(cfg.Steering), cache, hash),
		registry:     NewUnitRegistry(cfg.Limits.MaxUnits),
		types:        types,
		buildings:    make(map[int]Building),
		inbox:        NewLockFreeQueue[Command](cfg.Limits.CommandQueueSize),
		positions:    make([]mgl32.Vec2, 0, cfg.Limits.MaxUnits),
		tickRate:     cfg.Simulation.TickRate,
		limits:       cfg.Limits,
		snapshotPool: NewSnapshotPool(cfg.Limits.MaxSnapshotUnits),
		eventLog:     NewEventLog(logger.Named("eventlog")),
		logger:       logger,
	}
	e.cmdBuf = make([]Command, e.inbox.Cap())
	return e
}

func steeringFromConfig(c config.SteeringConfig) SteeringConfig {
	return SteeringConfig{
		FlowFactor:             float32(c.FlowFactor),
		SeparationFactor:       float32(c.SeparationFactor),
		SeparationLimit:        float32(c.SeparationLimit),
		FrictionFactor:         float32(c.FrictionFactor),
		SeparationRadiusFactor: float32(c.SeparationRadiusFactor),
		ForceThresholdSq:       float32(c.ForceThresholdSq),
		VelocityThresholdSq:    float32(c.VelocityThresholdSq),
		DesiredIntegration:     float32(c.DesiredIntegration),
	}
}

// SetObserver installs a tick observer. Call before Start.
func (e *Engine) SetObserver(o TickObserver) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observer = o
}

// Start begins the game loop
func (e *Engine) Start() {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.stopChan = make(chan struct{})
	e.doneChan = make(chan struct{})
	e.ticker = time.NewTicker(time.Second / time.Duration(e.tickRate))
	ticker, stop, done := e.ticker, e.stopChan, e.doneChan
	e.mu.Unlock()

	dt := time.Second / time.Duration(e.tickRate)
	go func() {
		defer close(done)
		for {
			select {
			case <-ticker.C:
				e.Tick(dt)
			case <-stop:
				return
			}
		}
	}()

	e.logger.Info("engine started", zap.Int("tick_rate", e.tickRate))
}

// Stop stops the game loop and waits for the in-flight tick to finish.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.ticker.Stop()
	close(e.stopChan)
	done := e.doneChan
	e.mu.Unlock()

	<-done
	e.logger.Info("engine stopped", zap.Uint64("ticks", e.TickCount()))
}

// Running reports whether the loop is active.
func (e *Engine) Running() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// Tick advances the simulation by dt. The loop calls it at the configured
// rate; tests call it directly.
//
// Order: queued commands, one field recompute and the eviction sweep,
// spatial hash rebuild, steering, snapshot.
func (e *Engine) Tick(dt time.Duration) {
	start := time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	e.tickCount++
	commands := e.drainInbox()

	if n := e.cache.Update(dt); n > 0 {
		e.eventLog.EmitSimple(EventTypeFieldsEvicted, e.tickCount, FieldsPayload{Count: n})
	}

	e.rebuildSpatial()
	e.steering.Step(e.registry.Units(), float32(dt.Seconds()))

	snap := e.produceSnapshot()

	if e.observer != nil {
		e.observer.ObserveTick(TickStats{
			TickNumber: e.tickCount,
			Duration:   time.Since(start),
			Commands:   commands,
			Units:      snap.UnitCount,
			Moving:     snap.MovingCount,
			Cache:      snap.Cache,
			Grid:       e.hash.Stats(),
			Events:     e.eventLog.GetStats(),
		})
	}
}

// rebuildSpatial reloads the spatial hash from current positions.
func (e *Engine) rebuildSpatial() {
	e.positions = e.registry.Positions(e.positions)
	e.hash.Rebuild(e.positions)
}

// TickCount returns the number of ticks run so far.
func (e *Engine) TickCount() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.tickCount
}

// ============================================================================
// Grid
// ============================================================================

// WorldToGrid converts a world position to its absolute cell.
func (e *Engine) WorldToGrid(p mgl32.Vec2) spatial.Cell {
	return e.grid.WorldToGrid(p)
}

// GridToRelative converts an absolute cell to grid-relative indices.
func (e *Engine) GridToRelative(c spatial.Cell) spatial.Cell {
	return e.grid.GridToRelative(c)
}

// IsInGrid reports whether the absolute cell lies inside the grid.
func (e *Engine) IsInGrid(c spatial.Cell) bool {
	return e.grid.InBounds(c)
}

// GridInfo describes the grid geometry.
type GridInfo struct {
	Width      int          `json:"width"`
	Height     int          `json:"height"`
	Origin     spatial.Cell `json:"origin"`
	CellSize   float32      `json:"cellSize"`
	Impassable int          `json:"impassable"`
}

// GridInfo returns the grid geometry and the number of impassable cells.
func (e *Engine) GridInfo() GridInfo {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return GridInfo{
		Width:      e.grid.Width,
		Height:     e.grid.Height,
		Origin:     e.grid.Origin,
		CellSize:   e.grid.CellSize,
		Impassable: e.grid.CountImpassable(),
	}
}

// Cost returns the cost of an absolute cell (255 outside the grid).
func (e *Engine) Cost(c spatial.Cell) byte {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.grid.Cost(c)
}

// SetCost writes a cell cost and invalidates every field. Returns false for
// cells outside the grid.
func (e *Engine) SetCost(c spatial.Cell, cost byte) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.grid.InBounds(c) {
		return false
	}
	e.cache.SetCost(c, cost)
	e.eventLog.EmitSimple(EventTypeCostChange, e.tickCount, CostChangePayload{Cell: c, Cost: cost})
	return true
}

// Integration returns the path distance from pos to the field targeting
// targetPos, or -1 if pos is off the grid or no field exists.
func (e *Engine) Integration(pos, targetPos mgl32.Vec2) float32 {
	e.mu.Lock() // queries refresh lastUsed and may queue a stale field
	defer e.mu.Unlock()
	return e.cache.Integration(pos, targetPos)
}

// FlowDirection returns the unit direction from pos toward targetPos, or the
// zero vector if pos is off the grid or no field exists.
func (e *Engine) FlowDirection(pos, targetPos mgl32.Vec2) mgl32.Vec2 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cache.FlowDirection(pos, targetPos)
}

// ============================================================================
// Flow fields
// ============================================================================

// CreateField ensures a field exists for target. Returns false for targets
// outside the grid.
func (e *Engine) CreateField(target spatial.Cell, overwrite bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.grid.InBounds(target) {
		return false
	}
	e.cache.Create(target, overwrite)
	return true
}

// RemoveField drops the field for target. A pending job for it is dropped
// when dequeued.
func (e *Engine) RemoveField(target spatial.Cell) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache.Remove(target)
}

// ClearFields drops every field. Pending jobs are dropped when dequeued.
func (e *Engine) ClearFields() {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := e.cache.Len()
	e.cache.Clear()
	e.eventLog.EmitSimple(EventTypeFieldsCleared, e.tickCount, FieldsPayload{Count: n})
}

// Fields lists every cached field.
func (e *Engine) Fields() []spatial.FieldInfo {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cache.Fields()
}

// ============================================================================
// Units
// ============================================================================

// Spawn adds an idle unit of the named type at pos. An empty name uses the
// default type.
func (e *Engine) Spawn(pos mgl32.Vec2, typeName string) (int, error) {
	ut, err := e.types.Lookup(typeName)
	if err != nil {
		return -1, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.registry.Len() >= e.limits.MaxUnits {
		return -1, fmt.Errorf("spawn %q: %w", ut.Name, ErrUnitLimit)
	}

	id := e.registry.Spawn(Unit{
		Type:            ut.Name,
		Position:        pos,
		TargetPos:       pos,
		MaxSpeed:        ut.MoveSpeed,
		Radius:          ut.CollisionRadius,
		SelectionRadius: ut.SelectionRadius,
		State:           UnitIdle,
	})
	e.eventLog.EmitSimple(EventTypeUnitSpawn, e.tickCount, UnitSpawnPayload{
		UnitID: id, Type: ut.Name, X: pos[0], Y: pos[1],
	})
	return id, nil
}

// Despawn removes a unit. Returns false for unknown ids.
func (e *Engine) Despawn(id int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.registry.Despawn(id) {
		return false
	}
	e.eventLog.EmitSimple(EventTypeUnitDespawn, e.tickCount, UnitDespawnPayload{UnitID: id})
	return true
}

// Unit returns a copy of the unit with the given id.
func (e *Engine) Unit(id int) (Unit, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	u, ok := e.registry.Get(id)
	if !ok {
		return Unit{}, false
	}
	return *u, true
}

// UnitCount returns the number of live units.
func (e *Engine) UnitCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.registry.Len()
}

// CommandMove moves the given units toward target immediately. Targets
// outside the grid are ignored, as are unknown ids.
func (e *Engine) CommandMove(ids []int, target mgl32.Vec2) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.moveUnits(ids, target)
}

// moveUnits makes sure a field exists for the target cell, then points every
// known unit at it. Called with the engine lock held.
func (e *Engine) moveUnits(ids []int, target mgl32.Vec2) bool {
	cell := e.grid.WorldToGrid(target)
	if !e.grid.InBounds(cell) {
		return false
	}
	e.cache.Create(cell, false)

	moved := make([]int, 0, len(ids))
	for _, id := range ids {
		if u, ok := e.registry.Get(id); ok {
			u.moveTo(target, cell)
			moved = append(moved, id)
		}
	}
	e.eventLog.EmitSimple(EventTypeMoveCommand, e.tickCount, MoveCommandPayload{
		UnitIDs: moved, Target: cell,
	})
	return true
}

// UnitTypes returns the unit type table.
func (e *Engine) UnitTypes() *data.UnitTypeTable {
	return e.types
}

// ============================================================================
// Reads
// ============================================================================

// GetSnapshot returns a copy of the latest published snapshot. Before the
// first tick it returns an empty snapshot.
func (e *Engine) GetSnapshot() WorldSnapshot {
	var snap WorldSnapshot
	e.snapshotPool.ReadInto(&snap)
	return snap
}

// SnapshotInto copies the latest snapshot into dst, reusing its storage.
func (e *Engine) SnapshotInto(dst *WorldSnapshot) bool {
	return e.snapshotPool.ReadInto(dst)
}

// EngineStats is a point-in-time summary for the API.
type EngineStats struct {
	TickNumber  uint64             `json:"tickNumber"`
	TickRate    int                `json:"tickRate"`
	Running     bool               `json:"running"`
	Units       int                `json:"units"`
	Buildings   int                `json:"buildings"`
	InboxLen    int                `json:"inboxLen"`
	Cache       spatial.CacheStats `json:"cache"`
	SpatialHash spatial.GridStats  `json:"spatialHash"`
	EventLog    EventLogStats      `json:"eventLog"`
}

// Stats returns current engine counters.
func (e *Engine) Stats() EngineStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return EngineStats{
		TickNumber:  e.tickCount,
		TickRate:    e.tickRate,
		Running:     e.running,
		Units:       e.registry.Len(),
		Buildings:   len(e.buildings),
		InboxLen:    e.inbox.Len(),
		Cache:       e.cache.Stats(),
		SpatialHash: e.hash.Stats(),
		EventLog:    e.eventLog.GetStats(),
	}
}

// Limits returns the configured resource limits.
func (e *Engine) Limits() config.ResourceLimits {
	return e.limits
}

// StartEventLog starts the event log writer
func (e *Engine) StartEventLog(filePath string) error {
	return e.eventLog.Start(filePath)
}

// StopEventLog stops the event log writer and flushes
func (e *Engine) StopEventLog() {
	e.eventLog.Stop()
}
