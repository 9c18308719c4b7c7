package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"play-rewards/internal/auth"
	"play-rewards/internal/config"
	"play-rewards/internal/database"
	"play-rewards/internal/handlers"
	"play-rewards/internal/middleware"
	"play-rewards/internal/reward"
	"play-rewards/internal/services/rewards"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	logger.Info("database ready", "dialect", store.Dialect())

	resolver := reward.NewResolver(store, cfg.ScratchDefault, cfg.SpinUnitValue, nil)
	rewardSvc := rewards.NewService(store, resolver, logger, rewards.Options{
		Location:           cfg.Location,
		Threshold:          cfg.WeeklyBonusThreshold,
		DefaultContestType: cfg.ScratchDefaultContestType,
		DefaultLimit:       cfg.TransactionsDefaultLimit,
		MaxLimit:           cfg.TransactionsMaxLimit,
	})

	var jwtMgr *auth.Manager
	if cfg.AdminEnabled() {
		jwtMgr = auth.NewManager(cfg.JWTSecret, cfg.JWTIssuer)
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(logger))

	handler := handlers.NewHandler(cfg, store, rewardSvc, jwtMgr, logger)
	handlers.RegisterRoutes(r, handler, jwtMgr, cfg.AdminAllowedIPs)

	srv := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: r,
	}

	go func() {
		logger.Info("server starting", "port", cfg.HTTPPort, "timezone", cfg.Timezone)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}

	logger.Info("shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	logger.Info("server stopped")
}
