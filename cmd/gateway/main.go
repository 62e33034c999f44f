package main // Entry point of the auth gateway service

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"                               // Echo web framework
	echomw "github.com/labstack/echo/v4/middleware"             // recover and request id
	"github.com/prometheus/client_golang/prometheus"            // metrics registry
	"github.com/prometheus/client_golang/prometheus/collectors" // runtime collectors

	"github.com/iliyamo/marketplace-auth/internal/config"     // environment configuration
	"github.com/iliyamo/marketplace-auth/internal/database"   // MySQL pool and migrations
	"github.com/iliyamo/marketplace-auth/internal/handler"    // HTTP handlers
	"github.com/iliyamo/marketplace-auth/internal/logger"     // structured logging
	"github.com/iliyamo/marketplace-auth/internal/middleware" // rate limit and metrics
	"github.com/iliyamo/marketplace-auth/internal/repository" // data access
	"github.com/iliyamo/marketplace-auth/internal/router"     // route registration
	"github.com/iliyamo/marketplace-auth/internal/service"    // auth event publisher
)

func main() {
	cfg := config.Load()                      // Load environment config
	log := logger.New(config.LoadLogConfig()) // Structured logger
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(ctx, cfg)
	if err != nil {
		log.Error("database unavailable", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	if cfg.MigrateOnStart {
		applied, err := database.NewMigrator(db).Migrate(ctx)
		if err != nil {
			log.Error("migrations failed", "err", err)
			os.Exit(1)
		}
		if len(applied) > 0 {
			log.Info("migrations applied", "versions", applied)
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := middleware.NewMetrics(reg)

	// Rate limiting degrades to pass-through when Redis is unreachable.
	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Warn("redis unavailable, rate limiting disabled")
	} else {
		defer rdb.Close()
	}
	limiter := middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb, log, metrics)

	authH := &handler.AuthHandler{
		Cfg:      cfg,
		Accounts: repository.NewAccountRepo(db),
		Tokens:   repository.NewTokenRepo(db),
		Metrics:  metrics,
		Log:      log,
	}
	if cfg.EventsEnabled {
		pub := service.NewPublisher(cfg.AMQPURL, log)
		defer pub.Close()
		authH.Events = pub
	}
	if cfg.OIDCIssuer != "" {
		v, err := handler.DiscoverOIDC(ctx, cfg.OIDCIssuer, cfg.OIDCClientID)
		if err != nil {
			log.Warn("oidc discovery failed, federated sign-in disabled", "issuer", cfg.OIDCIssuer, "err", err)
		} else {
			authH.OIDC = v
		}
	}
	profileH := &handler.ProfileHandler{Profiles: repository.NewProfileRepo(db), Log: log}

	e := echo.New() // Create Echo instance
	e.HideBanner = true
	e.Use(echomw.Recover(), echomw.RequestID(), metrics.Middleware())
	router.RegisterRoutes(e, db, metrics)
	router.RegisterAuth(e, authH, cfg.JWTSecret, limiter)
	router.RegisterProfiles(e, profileH, cfg.JWTSecret,
		middleware.NewProfileCache(config.LoadProfileCacheConfig(), rdb, log))

	addr := ":" + cfg.Port
	go func() {
		log.Info("listening", "addr", addr, "env", cfg.Env)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown failed", "err", err)
	}
	log.Info("stopped")
}
