package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	echoSwagger "github.com/swaggo/echo-swagger"

	_ "tenantcore/docs"
	"tenantcore/internal/app"
	"tenantcore/internal/config"
	"tenantcore/internal/handlers"
	"tenantcore/internal/jobs"
	"tenantcore/internal/logger"
	"tenantcore/internal/metrics"
	"tenantcore/internal/middleware"
	"tenantcore/internal/services"
)

const version = "1.0.0"

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to the YAML config file")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("WARNING: failed to load .env: %v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	appLog, err := logger.NewLogger(cfg.Environment, cfg.Logger.Level, "tenantcore")
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = appLog.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(prometheus.NewRegistry())
	core, err := app.Build(ctx, cfg, appLog, m)
	if err != nil {
		appLog.Error("Failed to start", logger.Error(err))
		os.Exit(1)
	}
	defer func() { _ = core.Close() }()

	scheduler, err := jobs.NewJobScheduler(core.Tenants, m, appLog, cfg.Jobs.TrialSweepInterval)
	if err != nil {
		appLog.Error("Failed to create job scheduler", logger.Error(err))
		os.Exit(1)
	}
	scheduler.Start()
	defer func() { _ = scheduler.Stop() }()

	newSession := func() *services.SessionManager { return core.NewSession(false) }

	checks := []handlers.HealthCheck{
		{Name: "database", Critical: true, Check: core.Pool.Ping},
		{Name: "redis", Critical: true, Check: core.Cache.Ping},
	}
	if core.Storage != nil {
		checks = append(checks, handlers.HealthCheck{Name: "storage", Check: core.Storage.EnsureBucketExists})
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(echoMiddleware.Recover())
	e.Use(echoMiddleware.CORS())
	e.Pre(echoMiddleware.RemoveTrailingSlash())
	e.Use(echoMiddleware.RequestID())
	e.Use(m.Middleware())

	versions := middleware.NewVersionMiddleware(middleware.APIVersion{Version: "v1", Status: "active", Message: "Current stable API version"})
	e.Use(versions.RejectUnknownVersions())
	e.Use(middleware.NewAuditMiddleware(appLog).AuditRequest())

	handlers.Routes{
		Auth:          handlers.NewAuthHandlers(newSession, core.Provider, core.Provider, core.Directory, appLog),
		Users:         handlers.NewUserHandlers(core.Directory),
		Tenants:       handlers.NewTenantHandlers(core.Tenants),
		Health:        handlers.NewHealthHandlers(version, checks...),
		Authenticator: middleware.NewAuthenticator(core.Verifier, newSession, appLog),
		RBAC:          middleware.NewRBACMiddleware(services.NewRBACService(m)),
		Versions:      versions,
		LoginLimiter:  middleware.RateLimit(core.Cache, "auth", cfg.Server.LoginRateLimit, cfg.Server.LoginRateWindow, appLog),
	}.Register(e)
	e.GET("/metrics", echo.WrapHandler(m.Handler()))
	e.GET("/swagger/*", echoSwagger.WrapHandler)

	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		appLog.Info("Server starting", logger.String("addr", addr), logger.String("version", version))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Error("Server stopped", logger.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		appLog.Error("Graceful shutdown failed", logger.Error(err))
	}
	appLog.Info("Server stopped")
}
