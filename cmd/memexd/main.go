// Command memexd runs the memory engine as a standalone process: it
// assembles the engine, brings up the health HTTP server before starting the
// engine's background loops, then keeps the engine alive until it receives
// SIGINT/SIGTERM.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	memcfg "github.com/opencortex/memex/internal/config"
	"github.com/opencortex/memex/internal/health"
	"github.com/opencortex/memex/internal/memex"
)

func main() {
	ctx := context.Background()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	appCfg := memcfg.Load()

	dim := getEnvOrDefaultInt("MEMEX_EMBED_DIM", 384)
	engineCfg := memex.Config{
		Dimension: dim,
		DataDir:   appCfg.DataDir,
		SkillsDir: getEnvOrDefault("MEMEX_SKILLS_DIR", ""),
	}

	engine, err := memex.New(engineCfg, logger)
	if err != nil {
		logger.Fatal("failed to assemble memory engine", zap.Error(err))
	}

	// Bring up health HTTP endpoints before engine.Start so probes answer
	// while the promotion cycle and health loops start. Store opening and the
	// skill directory scan have already finished inside memex.New.
	healthPort := getEnvOrDefaultInt("MEMEX_HEALTH_PORT", 8088)
	mux := http.NewServeMux()
	health.NewHTTPHandler(engine.HealthManager(), logger).RegisterRoutes(mux)

	go func() {
		server := &http.Server{
			Addr:         ":" + strconv.Itoa(healthPort),
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		logger.Info("health server listening", zap.Int("port", healthPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("health server failed", zap.Error(err))
		}
	}()

	if err := engine.Start(ctx); err != nil {
		logger.Fatal("failed to start memory engine", zap.Error(err))
	}
	logger.Info("memory engine started",
		zap.Int("dimension", dim),
		zap.String("data_dir", appCfg.DataDir),
		zap.String("performance_mode", string(appCfg.PerformanceMode)),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutting down memory engine")

	if err := engine.Stop(); err != nil {
		logger.Error("error during shutdown", zap.Error(err))
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
