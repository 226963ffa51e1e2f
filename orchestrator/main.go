package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/forgeline-labs/forgeline-go/internal/execution/engine"
	"github.com/forgeline-labs/forgeline-go/internal/execution/executor/builtin"
	"github.com/forgeline-labs/forgeline-go/internal/execution/graph"
	"github.com/forgeline-labs/forgeline-go/internal/platform/auditlog"
	"github.com/forgeline-labs/forgeline-go/internal/platform/auth"
	"github.com/forgeline-labs/forgeline-go/internal/platform/env"
	"github.com/forgeline-labs/forgeline-go/internal/platform/httpserver"
	platformstore "github.com/forgeline-labs/forgeline-go/internal/platform/objectstore"
	"github.com/forgeline-labs/forgeline-go/internal/platform/postgres"
	pgrepo "github.com/forgeline-labs/forgeline-go/internal/repo/postgres"
	"github.com/forgeline-labs/forgeline-go/internal/scheduler"
	"github.com/forgeline-labs/forgeline-go/internal/storage/objectstore"
)

const service = "orchestrator"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := env.String("ORCHESTRATOR_HTTP_ADDR", ":8080")
	shutdownTimeout, err := env.Duration("ORCHESTRATOR_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}

	dbCfg, err := postgres.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid database config", "error", err)
		os.Exit(2)
	}
	db, err := postgres.Open(dbCfg)
	if err != nil {
		logger.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	storeCfg, err := platformstore.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid object store config", "error", err)
		os.Exit(2)
	}
	storeClient, err := platformstore.NewClient(storeCfg)
	if err != nil {
		logger.Error("object store client init failed", "error", err)
		os.Exit(2)
	}
	startupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := platformstore.EnsureBuckets(startupCtx, storeClient, storeCfg); err != nil {
		cancel()
		logger.Error("object store unavailable", "error", err)
		os.Exit(1)
	}
	cancel()

	def, err := loadGraphDefinition()
	if err != nil {
		logger.Error("invalid graph spec", "error", err)
		os.Exit(2)
	}

	releaseStore, err := objectstore.NewBucketStore(storeClient, storeCfg.ReleasesBucket)
	if err != nil {
		logger.Error("release store init failed", "error", err)
		os.Exit(2)
	}
	publisher, err := objectstore.NewReleaseBundlePublisher(releaseStore)
	if err != nil {
		logger.Error("release publisher init failed", "error", err)
		os.Exit(2)
	}
	registry, err := builtin.DefaultRegistry(publisher)
	if err != nil {
		logger.Error("executor registry init failed", "error", err)
		os.Exit(2)
	}

	runs := pgrepo.NewRunStore(db)
	attempts := pgrepo.NewStepAttemptStore(db)
	queue := pgrepo.NewSchedulerQueueStore(db)
	auditStore := auditlog.NewStore(db)

	eng, err := engine.New(engine.Config{
		Runs:       runs,
		Attempts:   attempts,
		Registry:   registry,
		Definition: def,
		Logger:     logger,
	})
	if err != nil {
		logger.Error("engine init failed", "error", err)
		os.Exit(2)
	}

	policy, err := scheduler.PolicyFromEnv()
	if err != nil {
		logger.Error("invalid scheduler policy", "error", err)
		os.Exit(2)
	}
	policyManager, err := scheduler.NewPolicyManager(policy)
	if err != nil {
		logger.Error("invalid scheduler policy", "error", err)
		os.Exit(2)
	}

	schedulerAudit := func(ctx context.Context, action, entityID string, payload map[string]any) {
		insertAudit(ctx, logger, auditStore, "scheduler", action, entityID, payload)
	}
	coordinator, err := scheduler.NewCoordinator(scheduler.CoordinatorConfig{
		Queue:  queue,
		Runs:   runs,
		Engine: eng,
		Policy: policyManager,
		Logger: logger,
		Audit:  schedulerAudit,
	})
	if err != nil {
		logger.Error("scheduler init failed", "error", err)
		os.Exit(2)
	}

	authCfg, err := auth.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid auth config", "error", err)
		os.Exit(2)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", httpserver.Healthz(service))
	mux.HandleFunc(
		"/readyz",
		httpserver.ReadyzWithChecks(
			service,
			httpserver.ReadinessCheck{
				Name: "postgres",
				Check: func(ctx context.Context) error {
					checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
					defer cancel()
					return db.PingContext(checkCtx)
				},
			},
			httpserver.ReadinessCheck{
				Name: "minio",
				Check: func(ctx context.Context) error {
					checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
					defer cancel()
					return platformstore.CheckBuckets(checkCtx, storeClient, storeCfg)
				},
			},
		),
	)

	api := &orchestratorAPI{
		logger:      logger,
		runs:        runs,
		eng:         eng,
		coordinator: coordinator,
		def:         def,
		releases:    releaseStore,
		audit: func(ctx context.Context, actor, action, entityID string, payload map[string]any) {
			insertAudit(ctx, logger, auditStore, actor, action, entityID, payload)
		},
	}
	api.register(mux)

	handler, err := wrapAuth(ctx, logger, authCfg, auditStore, mux)
	if err != nil {
		logger.Error("auth init failed", "error", err)
		os.Exit(2)
	}

	cfg := httpserver.Config{
		Service:         service,
		Addr:            addr,
		ShutdownTimeout: shutdownTimeout,
	}
	if err := httpserver.Run(ctx, logger, cfg, httpserver.Wrap(logger, service, handler)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

// loadGraphDefinition layers an optional YAML spec over the built-in
// pipeline.
func loadGraphDefinition() (graph.Definition, error) {
	path := env.String("FORGELINE_GRAPH_SPEC", "")
	if path == "" {
		return graph.Default(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return graph.Definition{}, fmt.Errorf("read graph spec: %w", err)
	}
	spec, err := graph.ParseSpec(raw)
	if err != nil {
		return graph.Definition{}, err
	}
	return spec.Apply()
}

// wrapAuth builds the authenticator for the configured mode and mounts the
// OIDC session endpoints when that mode is active. Disabled mode serves
// the mux bare.
func wrapAuth(ctx context.Context, logger *slog.Logger, cfg auth.Config, auditStore *auditlog.Store, mux *http.ServeMux) (http.Handler, error) {
	if cfg.Mode == auth.ModeDisabled {
		return mux, nil
	}

	skipPrefixes := []string{"/healthz", "/readyz"}
	var authenticator auth.Authenticator
	switch cfg.Mode {
	case auth.ModeDev:
		authenticator = auth.NewDevAuthenticator(cfg)
	case auth.ModeHeaders:
		headersAuth, err := auth.NewInternalHeadersAuthenticator(cfg.InternalAuthSecret)
		if err != nil {
			return nil, err
		}
		authenticator = headersAuth
	case auth.ModeOIDC:
		oidcService, err := auth.NewOIDCService(ctx, cfg)
		if err != nil {
			return nil, err
		}
		login, err := oidcService.LoginHandler()
		if err != nil {
			return nil, err
		}
		callback, err := oidcService.CallbackHandler()
		if err != nil {
			return nil, err
		}
		mux.HandleFunc("GET /auth/login", login)
		mux.HandleFunc("GET /auth/callback", callback)
		mux.HandleFunc("POST /auth/logout", oidcService.LogoutHandler())
		mux.HandleFunc("GET /auth/session", oidcService.SessionHandler())
		skipPrefixes = append(skipPrefixes, "/auth/")
		authenticator = oidcService
	default:
		return nil, fmt.Errorf("unsupported auth mode: %q", cfg.Mode)
	}

	return auth.Middleware{
		Logger:        logger,
		Authenticator: authenticator,
		Authorize:     auth.MethodRoleAuthorizer(),
		Audit: func(ctx context.Context, event auth.DenyEvent) error {
			auditCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
			defer cancel()
			return auditlog.InsertAuthDeny(auditCtx, auditStore, service, event)
		},
		SkipPrefixes: skipPrefixes,
	}.Wrap(mux), nil
}

func insertAudit(ctx context.Context, logger *slog.Logger, store *auditlog.Store, actor, action, entityID string, payload map[string]any) {
	auditCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
	defer cancel()
	_, err := store.Insert(auditCtx, auditlog.Event{
		Actor:      actor,
		Action:     action,
		EntityType: "run",
		EntityID:   entityID,
		Payload:    payload,
	})
	if err != nil {
		logger.Warn("audit insert failed", "action", action, "entity_id", entityID, "error", err)
	}
}
