// Package main provides the ledger server: the HTTP API, the workflow
// definitions watcher and the escalation worker in a single process.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"

	"github.com/arti-ci/sygfp-ledger/pkg/api"
	"github.com/arti-ci/sygfp-ledger/pkg/audit"
	"github.com/arti-ci/sygfp-ledger/pkg/authz"
	"github.com/arti-ci/sygfp-ledger/pkg/cache"
	"github.com/arti-ci/sygfp-ledger/pkg/config"
	"github.com/arti-ci/sygfp-ledger/pkg/escalation"
	"github.com/arti-ci/sygfp-ledger/pkg/ledger"
	"github.com/arti-ci/sygfp-ledger/pkg/logging"
	"github.com/arti-ci/sygfp-ledger/pkg/metrics"
	"github.com/arti-ci/sygfp-ledger/pkg/sequence"
	"github.com/arti-ci/sygfp-ledger/pkg/store"
	"github.com/arti-ci/sygfp-ledger/pkg/txn"
	"github.com/arti-ci/sygfp-ledger/pkg/workflow"
)

func main() {
	config.RegisterFlags(pflag.CommandLine)
	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)
	pflag.Parse()

	// Initialize glog for startup failures
	_ = flag.Set("logtostderr", "true")

	// A local .env is a development convenience; deployments set the
	// environment directly.
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			glog.Fatalf("Failed to load .env: %v", err)
		}
	}

	cfg, err := config.Load(pflag.CommandLine)
	if err != nil {
		glog.Fatalf("Failed to load config: %v", err)
	}

	logger, flush, err := logging.New(cfg.Log)
	if err != nil {
		glog.Fatalf("Failed to build logger: %v", err)
	}
	defer flush()
	slog.SetDefault(logger)

	logger.Info("starting ledger server",
		"listen", cfg.HTTP.Listen,
		"database", cfg.Database.Type,
		"workflows", cfg.Workflow.File,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Setup database
	db, err := store.Open(&cfg.Database)
	if err != nil {
		glog.Fatalf("Failed to connect to database: %v", err)
	}
	if err := store.Migrate(ctx, db, &cfg.Database, &cfg.MigrationLock, logger); err != nil {
		glog.Fatalf("Failed to migrate database: %v", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	snapshots, err := cache.New(&cfg.Cache)
	if err != nil {
		glog.Fatalf("Failed to create cache: %v", err)
	}
	var ready func(context.Context) error
	if rs, ok := snapshots.(*cache.RedisStore); ok {
		ready = rs.Ping
	}

	runner := txn.NewRunner(db, &cfg.Tx, logger, m)

	threshold := cfg.Ledger.DGThreshold
	adjust := func(r *workflow.Registry) *workflow.Registry {
		return r.WithMinAmount(workflow.StageVerification, "DG", threshold)
	}
	defs, err := workflow.LoadDefinitions(cfg.Workflow.File)
	if err != nil {
		glog.Fatalf("Failed to load workflow definitions: %v", err)
	}

	var engine *workflow.Engine
	roles := authz.NewRoleAuthorizer(func() map[string][]string {
		return mergeDelegations(engine.Registry().Delegations(), cfg.Workflow.Delegations)
	})
	engine = workflow.NewEngine(adjust(defs), roles, workflow.NewVisaStore(db), logger)

	if cfg.Workflow.Watch {
		if err := workflow.Watch(ctx, cfg.Workflow.File, engine, logger, adjust); err != nil {
			glog.Fatalf("Failed to watch workflow definitions: %v", err)
		}
	}

	auditStore := audit.NewStore(db)
	svc, err := ledger.NewService(ledger.Options{
		Engine:                   engine,
		Runner:                   runner,
		Numbers:                  sequence.NewIssuer(db),
		Audit:                    auditStore,
		Cache:                    snapshots,
		Metrics:                  m,
		Logger:                   logger,
		CommitmentDocuments:      cfg.Ledger.CommitmentDocuments,
		VerificationDocuments:    cfg.Ledger.VerificationDocuments,
		CountersignatureRequired: cfg.Ledger.CountersignatureRequired,
	})
	if err != nil {
		glog.Fatalf("Failed to create ledger service: %v", err)
	}

	worker := escalation.NewWorker(runner, engine.Steps(), escalation.LogNotifier{Logger: logger}, auditStore, m, &cfg.Escalation, logger)
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		worker.Run(ctx)
	}()

	var requests authz.Authorizer
	switch authz.ModeFromEnv() {
	case authz.AuthzModeNone:
		logger.Warn("request authorization disabled, visa steps still check roles")
	default:
		requests = authz.NewPolicyAuthorizer(nil)
	}

	router := api.NewRouter(api.Options{
		Service:       svc,
		Engine:        engine,
		DB:            db,
		AuditStore:    auditStore,
		AuditConfig:   &cfg.Audit,
		ResponseCache: snapshots,
		Authorizer:    requests,
		FiscalMode:    cfg.Ledger.FiscalMode,
		Metrics:       m,
		Gatherer:      reg,
		BasePath:      cfg.HTTP.BasePath,
		CORSOrigins:   cfg.HTTP.CORSOrigins,
		Logger:        logger,
		Ready:         ready,
	})

	// Create HTTP server with graceful shutdown
	httpServer := &http.Server{
		Addr:              cfg.HTTP.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			glog.Fatalf("HTTP server error: %v", err)
		}
	}()

	logger.Info("ledger server ready", "listen", cfg.HTTP.Listen, "basePath", cfg.HTTP.BasePath)

	// Wait for shutdown signal
	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	select {
	case <-workerDone:
	case <-shutdownCtx.Done():
		logger.Warn("escalation worker did not stop in time")
	}

	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}

	logger.Info("ledger server stopped")
}

// mergeDelegations returns the union of the delegations of the workflow
// file and those of the server configuration.
func mergeDelegations(sets ...map[string][]string) map[string][]string {
	out := make(map[string][]string)
	for _, set := range sets {
		for role, delegates := range set {
			for _, d := range delegates {
				if !containsString(out[role], d) {
					out[role] = append(out[role], d)
				}
			}
		}
	}
	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
