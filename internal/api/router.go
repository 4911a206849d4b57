package api

import (
	"net/http"
	"time"

	"flowfield-rts/internal/config"
	"flowfield-rts/internal/data"
	"flowfield-rts/internal/game"
	"flowfield-rts/internal/game/spatial"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/zap"
)

// EngineInterface defines the engine methods used by the API.
// This interface enables mocking for tests without spinning up the full loop.
// Keep this minimal - only include methods the API layer actually calls.
type EngineInterface interface {
	// Snapshots and counters
	GetSnapshot() game.WorldSnapshot
	SnapshotInto(dst *game.WorldSnapshot) bool
	Stats() game.EngineStats
	Limits() config.ResourceLimits
	UnitTypes() *data.UnitTypeTable

	// Units and queued input
	Spawn(pos mgl32.Vec2, typeName string) (int, error)
	Despawn(id int) bool
	Unit(id int) (game.Unit, bool)
	SelectedIDs() []int
	Submit(cmd game.Command) error

	// Grid
	WorldToGrid(p mgl32.Vec2) spatial.Cell
	IsInGrid(c spatial.Cell) bool
	GridInfo() game.GridInfo
	Cost(c spatial.Cell) byte
	SetCost(c spatial.Cell, cost byte) bool

	// Buildings
	PlaceBuilding(cell, size spatial.Cell, buildingType int) (int, error)
	RemoveBuilding(id int) bool
	Buildings() []game.Building
	IsAreaClear(cell, size spatial.Cell) bool

	// Flow fields
	CreateField(target spatial.Cell, overwrite bool) bool
	RemoveField(target spatial.Cell)
	ClearFields()
	Fields() []spatial.FieldInfo
	Integration(pos, targetPos mgl32.Vec2) float32
	FlowDirection(pos, targetPos mgl32.Vec2) mgl32.Vec2
}

// RouterConfig contains all dependencies needed to construct the HTTP router.
//
// Example usage in tests:
//
//	cfg := api.RouterConfig{
//	    Engine: engine,
//	    RateLimitConfig: config.RateLimitConfig{
//	        RequestsPerSecond: 1000, // High limit for tests
//	        Burst:             1000,
//	    },
//	}
//	router := api.NewRouter(cfg)
//	ts := httptest.NewServer(router)
type RouterConfig struct {
	// Engine is the simulation engine (required)
	Engine EngineInterface

	// RateLimiter is an optional pre-configured rate limiter.
	// If nil, a new one will be created from RateLimitConfig.
	RateLimiter *IPRateLimiter

	// RateLimitConfig is used only when RateLimiter is nil. A zero value
	// falls back to config.DefaultRateLimit.
	RateLimitConfig config.RateLimitConfig

	// CORSOrigins is the list of allowed CORS origins. If nil, only
	// localhost origins are allowed.
	CORSOrigins []string

	// AdminToken guards grid, building and field mutations. Empty disables it.
	AdminToken string

	// Logger receives request logs. Nil uses a no-op logger.
	Logger *zap.Logger

	// DisableLogging disables the request logger middleware (useful for benchmarks).
	DisableLogging bool

	// WebSocket is mounted at /ws when set.
	WebSocket http.Handler
}

// routerHandlers holds the handler functions for the router.
type routerHandlers struct {
	engine EngineInterface
	logger *zap.Logger
}

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 64 << 10

// NewRouter constructs the HTTP router with all middleware and routes.
//
// IMPORTANT: This function is PURE apart from the rate limiter's cleanup
// goroutine when RateLimiter is nil:
//   - No network listeners are opened
//   - The engine loop is not started
//
// This makes it safe to use in tests with httptest.NewServer.
func NewRouter(cfg RouterConfig) *chi.Mux {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	// Middleware - Order matters!
	r.Use(middleware.RequestID)
	if !cfg.DisableLogging {
		r.Use(requestLogger(logger))
	}
	r.Use(middleware.Recoverer)

	// Rate limiting (BEFORE CORS to reject early and save CPU)
	rateLimiter := cfg.RateLimiter
	if rateLimiter == nil {
		rlCfg := cfg.RateLimitConfig
		if rlCfg.RequestsPerSecond <= 0 {
			rlCfg = config.DefaultRateLimit()
		}
		rateLimiter = NewIPRateLimiter(rlCfg)
	}
	r.Use(rateLimiter.Middleware)

	corsOrigins := cfg.CORSOrigins
	if corsOrigins == nil {
		corsOrigins = []string{
			"http://localhost:*",
			"http://127.0.0.1:*",
		}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", AdminTokenHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	h := &routerHandlers{
		engine: cfg.Engine,
		logger: logger,
	}
	admin := AdminAuthMiddleware(cfg.AdminToken, logger)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		// World state
		r.Get("/state", h.handleGetState)
		r.Get("/stats", h.handleGetStats)
		r.Get("/unit-types", h.handleGetUnitTypes)

		// Units
		r.Post("/units", h.handleSpawnUnit)
		r.Get("/units/{id}", h.handleGetUnit)
		r.Delete("/units/{id}", h.handleDespawnUnit)
		r.Post("/units/move", h.handleMoveUnits)

		// Selection (queued, applied next tick)
		r.Get("/select", h.handleGetSelection)
		r.Post("/select/box", h.handleSelectBox)
		r.Post("/select/unit", h.handleSelectUnit)
		r.Post("/select/type", h.handleSelectType)
		r.Post("/select/point", h.handleSelectPoint)
		r.Delete("/select", h.handleClearSelection)
		r.Post("/hover", h.handleHover)

		// Read-only navigation queries
		r.Get("/grid", h.handleGetGrid)
		r.Get("/grid/cell", h.handleGetCell)
		r.Get("/buildings", h.handleGetBuildings)
		r.Get("/buildings/check", h.handleCheckArea)
		r.Get("/fields", h.handleGetFields)
		r.Get("/nav/integration", h.handleIntegration)
		r.Get("/nav/direction", h.handleDirection)

		// World edits
		r.Group(func(r chi.Router) {
			r.Use(admin)
			r.Put("/grid/cost", h.handleSetCost)
			r.Post("/buildings", h.handlePlaceBuilding)
			r.Delete("/buildings/{id}", h.handleRemoveBuilding)
			r.Post("/fields", h.handleCreateField)
			r.Delete("/fields", h.handleDeleteFields)
		})
	})

	if cfg.WebSocket != nil {
		r.Handle("/ws", cfg.WebSocket)
	}

	return r
}

// requestLogger logs each request with zap and records Prometheus metrics
// keyed by the chi route pattern so path parameters do not explode label
// cardinality.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			pattern := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if p := rctx.RoutePattern(); p != "" {
					pattern = p
				}
			}
			elapsed := time.Since(start)
			RecordRequest(r.Method, pattern, status, elapsed)

			logger.Debug("http request",
				zap.String("method", r.Method),
				zap.String("route", pattern),
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("elapsed", elapsed),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("ip", GetClientIP(r)))
		})
	}
}
