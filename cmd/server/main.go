package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"flowfield-rts/internal/api"
	"flowfield-rts/internal/config"
	"flowfield-rts/internal/data"
	"flowfield-rts/internal/game"
	"flowfield-rts/internal/logging"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to a TOML config file (optional)")
	envFile := flag.String("env", ".env", "dotenv file loaded before reading the environment")
	flag.Parse()

	// A missing .env is normal in production
	envLoaded := godotenv.Load(*envFile) == nil

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	if envLoaded {
		logger.Debug("loaded environment file", zap.String("path", *envFile))
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

func run(cfg config.AppConfig, logger *zap.Logger) error {
	types := data.DefaultUnitTypes()
	if p := cfg.Data.UnitTypesPath; p != "" {
		t, err := data.LoadUnitTypeTable(p)
		if err != nil {
			return err
		}
		types = t
	}

	logger.Info("starting navsim",
		zap.Int("grid_width", cfg.Grid.Width),
		zap.Int("grid_height", cfg.Grid.Height),
		zap.Float64("cell_size", cfg.Grid.CellSize),
		zap.Int("tick_rate", cfg.Simulation.TickRate),
		zap.Strings("unit_types", types.Names()),
		zap.Int("max_units", cfg.Limits.MaxUnits))

	engine := game.NewEngine(cfg, types, logger)
	engine.SetObserver(api.NewMetricsObserver())

	if p := cfg.Simulation.EventLogPath; p != "" {
		if err := engine.StartEventLog(p); err != nil {
			logger.Warn("event log disabled", zap.Error(err))
		} else {
			logger.Info("event log enabled", zap.String("path", p))
			defer engine.StopEventLog()
		}
	}

	debugSrv := api.StartDebugServer(api.DebugConfig{
		Port:          cfg.Server.DebugPort,
		BasicAuthUser: os.Getenv("DEBUG_USER"),
		BasicAuthPass: os.Getenv("DEBUG_PASS"),
	}, logger.Named("debug"))

	server := api.NewServer(engine, cfg, logger)

	engine.Start()
	defer engine.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Start(fmt.Sprintf(":%d", cfg.Server.Port))
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api shutdown", zap.Error(err))
	}
	if debugSrv != nil {
		debugSrv.Shutdown(shutdownCtx)
	}

	stats := engine.Stats()
	logger.Info("stopped",
		zap.Uint64("ticks", stats.TickNumber),
		zap.Int("units", stats.Units),
		zap.Uint64("fields_computed", stats.Cache.Computed))
	return nil
}
