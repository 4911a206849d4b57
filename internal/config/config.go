// Package config provides centralized configuration management.
// This is the SINGLE SOURCE OF TRUTH for simulation and server settings.
//
// Precedence: built-in defaults, then the optional TOML file, then
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// =============================================================================
// SERVER CONFIGURATION
// =============================================================================

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port           int      `toml:"port"`
	DebugPort      int      `toml:"debug_port"` // pprof + /metrics, 0 disables
	AllowedOrigins []string `toml:"allowed_origins"`
	AdminToken     string   `toml:"admin_token"` // Guards mutating endpoints when set
}

// DefaultServer returns the default server configuration.
func DefaultServer() ServerConfig {
	return ServerConfig{
		Port:      3000,
		DebugPort: 6060,
		AllowedOrigins: []string{
			"http://localhost:3000",
			"http://localhost:5173",
		},
	}
}

// ServerFromEnv applies environment overrides to cfg.
func ServerFromEnv(cfg ServerConfig) ServerConfig {
	if p := getEnvInt("PORT", 0); p > 0 {
		cfg.Port = p
	}
	if p := getEnvInt("DEBUG_PORT", -1); p >= 0 {
		cfg.DebugPort = p
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = strings.Split(origins, ",")
	}
	if tok := os.Getenv("ADMIN_TOKEN"); tok != "" {
		cfg.AdminToken = tok
	}
	return cfg
}

// =============================================================================
// GRID & SIMULATION CONFIGURATION
// =============================================================================

// GridConfig describes the navigation grid.
type GridConfig struct {
	Width    int     `toml:"width"`     // Cells
	Height   int     `toml:"height"`    // Cells
	OriginX  int     `toml:"origin_x"`  // Cell coordinate of the top-left cell
	OriginY  int     `toml:"origin_y"`  // Cell coordinate of the top-left cell
	CellSize float64 `toml:"cell_size"` // World units per cell
}

// DefaultGrid returns the default grid configuration.
func DefaultGrid() GridConfig {
	return GridConfig{
		Width:    128,
		Height:   72,
		CellSize: 16,
	}
}

// GridFromEnv applies environment overrides to cfg.
func GridFromEnv(cfg GridConfig) GridConfig {
	if w := getEnvInt("GRID_WIDTH", 0); w > 0 {
		cfg.Width = w
	}
	if h := getEnvInt("GRID_HEIGHT", 0); h > 0 {
		cfg.Height = h
	}
	if cs := getEnvFloat("GRID_CELL_SIZE", 0); cs > 0 {
		cfg.CellSize = cs
	}
	return cfg
}

// SimulationConfig holds tick loop settings.
type SimulationConfig struct {
	TickRate     int    `toml:"tick_rate"`      // Ticks per second
	EventLogPath string `toml:"event_log_path"` // JSONL audit log, empty disables
}

// DefaultSimulation returns the default simulation configuration.
func DefaultSimulation() SimulationConfig {
	return SimulationConfig{
		TickRate: 60,
	}
}

// SimulationFromEnv applies environment overrides to cfg.
func SimulationFromEnv(cfg SimulationConfig) SimulationConfig {
	if tr := getEnvInt("TICK_RATE", 0); tr > 0 {
		cfg.TickRate = tr
	}
	if p := os.Getenv("EVENT_LOG_PATH"); p != "" {
		cfg.EventLogPath = p
	}
	return cfg
}

// =============================================================================
// STEERING CONFIGURATION
// =============================================================================

// SteeringConfig holds the force model weights.
type SteeringConfig struct {
	FlowFactor             float64 `toml:"flow_factor"`
	SeparationFactor       float64 `toml:"separation_factor"`
	SeparationLimit        float64 `toml:"separation_limit"`
	FrictionFactor         float64 `toml:"friction_factor"`
	SeparationRadiusFactor float64 `toml:"separation_radius_factor"`
	ForceThresholdSq       float64 `toml:"force_threshold_squared"`
	VelocityThresholdSq    float64 `toml:"velocity_threshold_squared"`
	DesiredIntegration     float64 `toml:"desired_integration"`
}

// DefaultSteering returns the tuned steering weights.
func DefaultSteering() SteeringConfig {
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

// =============================================================================
// FLOW FIELD CACHE CONFIGURATION
// =============================================================================

// CacheConfig controls flow field eviction.
type CacheConfig struct {
	CleanupInterval time.Duration `toml:"cleanup_interval"`
	UnusedThreshold time.Duration `toml:"unused_threshold"`
}

// DefaultCache returns the default eviction cadence.
func DefaultCache() CacheConfig {
	return CacheConfig{
		CleanupInterval: 2 * time.Second,
		UnusedThreshold: 10 * time.Second,
	}
}

// =============================================================================
// RESOURCE LIMITS
// =============================================================================

// ResourceLimits controls DoS protection and performance limits.
type ResourceLimits struct {
	MaxUnits         int `toml:"max_units"`          // Hard cap on live units
	MaxSnapshotUnits int `toml:"max_snapshot_units"` // Units copied into each snapshot
	MaxBuildings     int `toml:"max_buildings"`
	CommandQueueSize int `toml:"command_queue_size"` // Inbox capacity between ticks
	MaxMoveBatch     int `toml:"max_move_batch"`     // Unit ids per API move request, 0 = no cap
}

// DefaultLimits returns the default resource limits.
func DefaultLimits() ResourceLimits {
	return ResourceLimits{
		MaxUnits:         5000,
		MaxSnapshotUnits: 2000,
		MaxBuildings:     500,
		CommandQueueSize: 1024,
		MaxMoveBatch:     1000,
	}
}

// LimitsFromEnv applies environment overrides to cfg.
func LimitsFromEnv(cfg ResourceLimits) ResourceLimits {
	if n := getEnvInt("MAX_UNITS", 0); n > 0 {
		cfg.MaxUnits = n
	}
	return cfg
}

// =============================================================================
// LOGGING CONFIGURATION
// =============================================================================

// LoggingConfig controls zap output.
type LoggingConfig struct {
	Level      string `toml:"level"`  // debug, info, warn, error
	Format     string `toml:"format"` // console or json
	File       string `toml:"file"`   // Rotated log file, empty for stderr only
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// DefaultLogging returns the default logging configuration.
func DefaultLogging() LoggingConfig {
	return LoggingConfig{
		Level:      "info",
		Format:     "console",
		MaxSizeMB:  100,
		MaxBackups: 3,
		MaxAgeDays: 7,
	}
}

// LoggingFromEnv applies environment overrides to cfg.
func LoggingFromEnv(cfg LoggingConfig) LoggingConfig {
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		cfg.Level = lvl
	}
	if f := os.Getenv("LOG_FORMAT"); f != "" {
		cfg.Format = f
	}
	if f := os.Getenv("LOG_FILE"); f != "" {
		cfg.File = f
	}
	return cfg
}

// =============================================================================
// RATE LIMIT CONFIGURATION
// =============================================================================

// RateLimitConfig controls per-IP HTTP and WebSocket limits.
type RateLimitConfig struct {
	RequestsPerSecond  float64 `toml:"requests_per_second"`
	Burst              int     `toml:"burst"`
	WSConnectionsPerIP int     `toml:"ws_connections_per_ip"`
}

// DefaultRateLimit returns the default rate limits.
func DefaultRateLimit() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond:  50,
		Burst:              100,
		WSConnectionsPerIP: 5,
	}
}

// =============================================================================
// DATA CONFIGURATION
// =============================================================================

// DataConfig locates static data tables.
type DataConfig struct {
	UnitTypesPath string `toml:"unit_types_path"` // Empty uses the built-in table
}

// =============================================================================
// COMPLETE APP CONFIGURATION
// =============================================================================

// AppConfig holds the complete application configuration.
type AppConfig struct {
	Server     ServerConfig     `toml:"server"`
	Grid       GridConfig       `toml:"grid"`
	Simulation SimulationConfig `toml:"simulation"`
	Steering   SteeringConfig   `toml:"steering"`
	Cache      CacheConfig      `toml:"cache"`
	Limits     ResourceLimits   `toml:"limits"`
	Logging    LoggingConfig    `toml:"logging"`
	RateLimit  RateLimitConfig  `toml:"rate_limit"`
	Data       DataConfig       `toml:"data"`
}

// Default returns the complete built-in configuration.
func Default() AppConfig {
	return AppConfig{
		Server:     DefaultServer(),
		Grid:       DefaultGrid(),
		Simulation: DefaultSimulation(),
		Steering:   DefaultSteering(),
		Cache:      DefaultCache(),
		Limits:     DefaultLimits(),
		Logging:    DefaultLogging(),
		RateLimit:  DefaultRateLimit(),
	}
}

// Load returns the configuration from path (optional) with environment
// overrides applied on top, and validates the result.
func Load(path string) (AppConfig, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := toml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.Server = ServerFromEnv(cfg.Server)
	cfg.Grid = GridFromEnv(cfg.Grid)
	cfg.Simulation = SimulationFromEnv(cfg.Simulation)
	cfg.Limits = LimitsFromEnv(cfg.Limits)
	cfg.Logging = LoggingFromEnv(cfg.Logging)
	if p := os.Getenv("UNIT_TYPES_PATH"); p != "" {
		cfg.Data.UnitTypesPath = p
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations the simulation cannot run with.
func (c AppConfig) Validate() error {
	var errs []error
	if c.Grid.Width <= 0 || c.Grid.Height <= 0 {
		errs = append(errs, fmt.Errorf("grid: size must be positive, got %dx%d", c.Grid.Width, c.Grid.Height))
	}
	if c.Grid.CellSize <= 0 {
		errs = append(errs, fmt.Errorf("grid: cell_size must be positive, got %g", c.Grid.CellSize))
	}
	if c.Simulation.TickRate <= 0 {
		errs = append(errs, fmt.Errorf("simulation: tick_rate must be positive, got %d", c.Simulation.TickRate))
	}
	if c.Cache.CleanupInterval <= 0 || c.Cache.UnusedThreshold <= 0 {
		errs = append(errs, errors.New("cache: cleanup_interval and unused_threshold must be positive"))
	}
	if c.Limits.MaxUnits <= 0 {
		errs = append(errs, fmt.Errorf("limits: max_units must be positive, got %d", c.Limits.MaxUnits))
	}
	if c.Limits.CommandQueueSize <= 0 {
		errs = append(errs, fmt.Errorf("limits: command_queue_size must be positive, got %d", c.Limits.CommandQueueSize))
	}
	return errors.Join(errs...)
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}
