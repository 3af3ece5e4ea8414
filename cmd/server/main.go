package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/voicelab/voicegate/adapters/mongo"
	"github.com/voicelab/voicegate/adapters/providers"
	"github.com/voicelab/voicegate/adapters/stt"
	"github.com/voicelab/voicegate/domain/repositories"
	"github.com/voicelab/voicegate/internal/api"
	"github.com/voicelab/voicegate/internal/auth"
	"github.com/voicelab/voicegate/internal/config"
	"github.com/voicelab/voicegate/internal/gateway"
)

func main() {
	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// .env is optional; real deployments set the environment directly.
	if err := godotenv.Load(); err != nil {
		logger.Debug("no .env file loaded", zap.Error(err))
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	// Create Echo instance
	e := echo.New()

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Session outcome persistence is optional.
	var outcomes repositories.SessionOutcomeRepository
	if cfg.Mongo.URI != "" {
		client, err := mongo.NewClient(cfg.Mongo, logger)
		if err != nil {
			logger.Fatal("mongodb connection failed", zap.Error(err))
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			client.Close(ctx)
		}()
		outcomes = mongo.NewOutcomeRepository(client.Database)
	} else {
		logger.Info("no MONGODB_URI configured, session outcomes will not be persisted")
	}

	registry := providers.NewRegistry(providers.Dependencies{
		Logger:      logger,
		Credentials: cfg.Providers,
		Turn:        cfg.Turn,
		Transcriber: stt.NewGoogleTranscriber(""),
	})

	hub := gateway.NewHub(logger)
	go hub.Run()

	api.InitRoutes(e, api.Deps{
		Hub:       hub,
		Registry:  registry,
		Limits:    cfg.Limits,
		Outcomes:  outcomes,
		Validator: auth.NewValidator(cfg.Auth.JWTSecret),
		Logger:    logger,
	})

	// Graceful shutdown
	go func() {
		if err := e.Start(":" + cfg.Server.Port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("shutting down the server", zap.Error(err))
		}
	}()

	logger.Info("voice session gateway started", zap.String("port", cfg.Server.Port))

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Server is shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
