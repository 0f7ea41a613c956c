// Command castellan runs the authorization context and audit trail service.
package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/castellanhq/castellan/pkg/audit"
	"github.com/castellanhq/castellan/pkg/authz"
	"github.com/castellanhq/castellan/pkg/config"
	"github.com/castellanhq/castellan/pkg/middleware"
	"github.com/castellanhq/castellan/pkg/observability"
	"github.com/castellanhq/castellan/pkg/token"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	// Operational channel for audit plumbing failures. Kept separate from
	// the application logger so a broken pipeline cannot hide its own
	// breakage.
	ops := logrus.New()
	ops.SetFormatter(&logrus.JSONFormatter{})
	ops.SetOutput(os.Stderr)

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		logger.WithError(err).Error("failed to open database")
		os.Exit(1)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		logger.WithError(err).Error("database unreachable")
		os.Exit(1)
	}
	if err := authz.RunMigrations(ctx, db); err != nil {
		logger.WithError(err).Error("authz migrations failed")
		os.Exit(1)
	}
	if err := audit.EnsureSchema(ctx, db); err != nil {
		logger.WithError(err).Error("audit schema setup failed")
		os.Exit(1)
	}

	store, err := authz.NewPostgresStore(db)
	if err != nil {
		logger.WithError(err).Error("failed to create authz store")
		os.Exit(1)
	}
	if err := authz.InitializeSystemRoles(ctx, store); err != nil {
		logger.WithError(err).Error("failed to seed system roles")
		os.Exit(1)
	}

	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(prometheus.NewRegistry())
	}

	resolver := authz.NewResolver(store, metrics)
	includeStack := !cfg.IsProduction()

	var (
		auditWriter *audit.Writer
		dispatcher  *audit.Dispatcher
	)
	if cfg.Audit.Enabled {
		auditWriter = audit.NewWriter(db, ops, metrics,
			cfg.Audit.ServiceName, cfg.Audit.NodeID, audit.Environment(cfg.Audit.Environment))
		dispatcher = audit.NewDispatcher(auditWriter, ops, 0, 0)
	}

	extract := middleware.ExtractOnly()
	if cfg.Auth.VerifyTokens {
		extract = middleware.VerifyWith(token.NewVerifier(cfg.Auth.IssuerBaseURL, cfg.Auth.ClientID))
	}
	authMW := middleware.NewAuthMiddleware(extract, resolver, false)

	router := mux.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logging(logger, metrics))
	if dispatcher != nil {
		bridge := middleware.NewAuditBridge(dispatcher, ops, metrics)
		router.Use(bridge.Handler)
	}
	// Recovery sits inside the bridge: the 500 it writes for a panic goes
	// through the trail like any other server error.
	router.Use(middleware.Recovery(logger, includeStack))
	router.Use(authMW.Handler)

	authz.NewHandlers(store, logger, metrics, includeStack).RegisterRoutes(router)
	if cfg.Audit.Enabled {
		audit.NewHandlers(audit.NewSearcher(db), auditWriter, logger).RegisterRoutes(router)
	}

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Probes and metrics on their own port so they stay reachable without
	// credentials.
	healthRouter := mux.NewRouter()
	health := observability.NewHealthChecker(db)
	healthRouter.HandleFunc("/healthz", health.Liveness).Methods(http.MethodGet)
	healthRouter.HandleFunc("/readyz", health.Readiness).Methods(http.MethodGet)
	if metrics != nil {
		healthRouter.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthRouter,
	}

	go func() {
		logger.Infof("health server listening on %s", healthServer.Addr)
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("health server failed")
		}
	}()

	go func() {
		logger.Infof("castellan listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("server failed")
			os.Exit(1)
		}
	}()

	if metrics != nil {
		go reportDBStats(db, metrics)
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, server, healthServer)
	if dispatcher != nil {
		shutdown.Register(func(ctx context.Context) error {
			return dispatcher.Close(cfg.Server.ShutdownTimeout / 2)
		})
	}
	shutdown.Register(func(context.Context) error { return db.Close() })
	if err := shutdown.Wait(); err != nil {
		logger.WithError(err).Error("shutdown finished with errors")
		os.Exit(1)
	}
}

func reportDBStats(db *sql.DB, metrics *observability.Metrics) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		stats := db.Stats()
		metrics.DBConnectionsActive.Set(float64(stats.InUse))
		metrics.DBConnectionsIdle.Set(float64(stats.Idle))
	}
}
