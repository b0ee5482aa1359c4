package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/devasignhq/contributor-app/internal/app"
	"github.com/devasignhq/contributor-app/internal/config"
	apihttp "github.com/devasignhq/contributor-app/internal/http"
	"github.com/devasignhq/contributor-app/internal/service"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	svcs, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("build services", zap.Error(err))
	}
	defer svcs.Close()

	jwtSvc := service.NewJWTService(cfg.JWTSecret, cfg.JWTAccessTTL())
	if cfg.JWTSecret == "" {
		logger.Warn("jwt secret not configured")
	}

	var negotiator apihttp.TimelineNegotiator
	if svcs.TaskAPI != nil {
		negotiator = svcs.TaskAPI
	}
	convHandler := apihttp.NewConversationHandler(logger, svcs.Registry, svcs.Board, svcs.Unread, svcs.Limiter, negotiator)
	router := apihttp.NewRouter(logger, jwtSvc, convHandler)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		svcs.Registry.CloseAll()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown", zap.Error(err))
		}
	}()

	logger.Info("starting server",
		zap.String("port", cfg.HTTPPort),
		zap.String("backend", cfg.MessageBackend),
	)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server error", zap.Error(err))
	}
}
