package main

import (
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/benbeisheim/chesssync-backend/internal/batch"
	"github.com/benbeisheim/chesssync-backend/internal/config"
	"github.com/benbeisheim/chesssync-backend/internal/controller"
	"github.com/benbeisheim/chesssync-backend/internal/service"
	"github.com/benbeisheim/chesssync-backend/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := cfg.Logger()
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	// Initialize storage
	gameStore, err := store.OpenBadger(cfg.DataDir, logger)
	if err != nil {
		return err
	}
	if cfg.DataDir == "" {
		logger.Warn("CHESS_DATA_DIR not set, games are kept in memory only")
	}

	// Initialize services
	batcher := batch.New(gameStore, logger)
	gameManager := service.NewGameManager(gameStore, logger)
	gameService := service.NewGameService(gameStore, batcher, gameManager, logger, cfg.WriteTimeout)

	app := fiber.New(fiber.Config{DisableStartupMessage: cfg.Production()})
	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(cfg.AllowedOrigins, ", "),
		AllowHeaders:     "Origin, Content-Type, Accept, X-Player-ID",
		AllowMethods:     "GET, POST, OPTIONS",
		AllowCredentials: true,
	}))
	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		logger.Debug("request",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", c.Response().StatusCode()),
			zap.Duration("took", time.Since(start)))
		return err
	})
	controller.SetupRoutes(app, gameService, cfg.AllowedOrigins, logger)

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		logger.Info("shutting down")
		if err := app.Shutdown(); err != nil {
			logger.Error("shutdown", zap.Error(err))
		}
	}()

	logger.Info("listening", zap.String("addr", cfg.Addr))
	var errs error
	if err := app.Listen(cfg.Addr); err != nil {
		errs = multierror.Append(errs, err)
	}

	// let in-flight move writes land before the store goes away
	batcher.Wait()
	if err := gameManager.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}
	if err := gameStore.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}
	return errs
}
