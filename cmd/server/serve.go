package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	accesshandler "assessgate/internal/access/handler"
	accessservice "assessgate/internal/access/service"
	accessstore "assessgate/internal/access/store"
	"assessgate/internal/backend"
	"assessgate/internal/identifier"
	idhandler "assessgate/internal/identifier/handler"
	jwttoken "assessgate/internal/jwt_token"
	"assessgate/internal/notify"
	"assessgate/internal/platform/config"
	"assessgate/internal/platform/httpserver"
	"assessgate/internal/platform/logger"
	"assessgate/internal/platform/metrics"
	"assessgate/internal/platform/redis"
	"assessgate/internal/platform/sweeper"
	progresshandler "assessgate/internal/progress/handler"
	progressservice "assessgate/internal/progress/service"
	progressstore "assessgate/internal/progress/store"
	ratelimitmw "assessgate/internal/ratelimit/middleware"
	ratelimitmodels "assessgate/internal/ratelimit/models"
	"assessgate/internal/ratelimit/store/bucket"
	submissionhandler "assessgate/internal/submission/handler"
	submissionservice "assessgate/internal/submission/service"
	httptransport "assessgate/internal/transport/http"
	auditpublisher "assessgate/pkg/platform/audit/publisher"
	auditmemory "assessgate/pkg/platform/audit/store/memory"
	auditworker "assessgate/pkg/platform/audit/worker"
	"assessgate/pkg/platform/middleware/metadata"
)

const (
	grantIssuer   = "assessgate"
	grantAudience = "report-access"
)

func serveCmd() *cobra.Command {
	var envFile string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadDotEnv(envFile); err != nil {
				return fmt.Errorf("load %s: %w", envFile, err)
			}
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	return cmd
}

type shareStore interface {
	progressservice.Store
	Close()
}

// runServer wires high-level dependencies and owns their lifecycle. Business
// logic lives in the internal service packages.
func runServer(ctx context.Context, cfg config.Server) error {
	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	m := metrics.New()

	rdb, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer func() { _ = rdb.Close() }()

	auditPub := auditpublisher.New(log)
	auditStore := auditmemory.NewInMemoryStore(0)
	worker := auditworker.NewWorker(auditStore, auditPub.Events(), log)

	connector, err := backend.New(backend.EndpointsFromConfig(cfg.Backend.Endpoints),
		backend.WithAttemptTimeout(cfg.Backend.AttemptTimeout),
		backend.WithTotalBudget(cfg.Backend.TotalBudget),
		backend.WithLogger(log),
		backend.WithMetrics(m),
	)
	if err != nil {
		return err
	}

	grants := jwttoken.NewJWTService(cfg.Access.SigningKey, grantIssuer, grantAudience)
	codes := accessstore.New(
		accessstore.WithSweepInterval(cfg.Access.SweepInterval),
		accessstore.WithSweepObserver(m.AddAccessCodesSwept),
	)
	defer codes.Close()

	var notifier accessservice.Notifier = notify.NewBackendNotifier(connector)
	if cfg.Access.Notifier == "log" {
		notifier = notify.NewLogNotifier(log)
	}
	access := accessservice.New(codes, notifier, grants, accessservice.Config{
		CodeTTL:     cfg.Access.CodeTTL,
		MaxAttempts: cfg.Access.MaxAttempts,
		GrantTTL:    cfg.Access.GrantTTL,
		BcryptCost:  cfg.Access.BcryptCost,
	},
		accessservice.WithAuditor(auditPub),
		accessservice.WithMetrics(m),
		accessservice.WithLogger(log),
	)

	buckets := bucket.New()
	bucketSweep := sweeper.Start(cfg.RateLimit.Window, time.Now, func(now time.Time) { buckets.Sweep(now) })
	defer bucketSweep.Close()
	limiter := ratelimitmw.New(buckets, log,
		ratelimitmw.WithPolicy(ratelimitmodels.ClassAccessRequest, ratelimitmodels.Policy{
			Limit: cfg.RateLimit.RequestLimit, Window: cfg.RateLimit.Window,
		}),
		ratelimitmw.WithPolicy(ratelimitmodels.ClassAccessVerify, ratelimitmodels.Policy{
			Limit: cfg.RateLimit.VerifyLimit, Window: cfg.RateLimit.Window,
		}),
		ratelimitmw.WithMetrics(m),
	)

	shares, err := newShareStore(cfg, rdb, m)
	if err != nil {
		return err
	}
	defer shares.Close()
	progress := progressservice.New(shares, progressservice.Config{
		TTL:       cfg.Share.TTL,
		Debounce:  cfg.Share.Debounce,
		OwnerSalt: cfg.Share.OwnerSalt,
	},
		progressservice.WithAuditor(auditPub),
		progressservice.WithMetrics(m),
		progressservice.WithLogger(log),
	)

	ids := identifier.New()
	submissions := submissionservice.New(connector, ids,
		submissionservice.WithMetrics(m),
		submissionservice.WithLogger(log),
	)

	clientIP, err := metadata.NewClientIPResolver(cfg.TrustedProxies)
	if err != nil {
		return err
	}

	routerCfg := httptransport.RouterConfig{
		Logger: log,
		Modules: []httptransport.Module{
			submissionhandler.New(submissions, log),
			accesshandler.New(access, jwttoken.NewJWTServiceAdapter(grants), log,
				accesshandler.WithRequestThrottle(limiter.PerIP(ratelimitmodels.ClassAccessRequest)),
				accesshandler.WithVerifyThrottle(limiter.PerIP(ratelimitmodels.ClassAccessVerify)),
			),
			progresshandler.New(progress, cfg.Share.PublicBase, log),
			idhandler.New(ids, log),
		},
		Health:   rdb,
		Metrics:  promhttp.Handler(),
		ClientIP: clientIP,
	}
	if !cfg.Production() || cfg.AdminToken != "" {
		routerCfg.AuditLog = auditStore
		routerCfg.AdminToken = cfg.AdminToken
	}

	// Submissions are detached from the client, so writes must outlast a full failover.
	srv := httpserver.New(cfg.Addr, httptransport.NewRouter(routerCfg), connector.MaxDuration()+10*time.Second)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting assessgate",
			"addr", cfg.Addr,
			"environment", cfg.Environment,
			"endpoints", len(connector.Endpoints()),
			"progress_store", cfg.Share.Store,
			"notifier", cfg.Access.Notifier,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		// Runs until the publisher is closed so events from in-flight requests are kept.
		return worker.Run(context.WithoutCancel(gctx))
	})
	g.Go(func() error {
		<-gctx.Done()
		defer auditPub.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down", "timeout", cfg.ShutdownTimeout.String())
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	})

	err = g.Wait()
	if dropped := auditPub.Dropped(); dropped > 0 {
		log.Warn("audit events dropped", "count", dropped)
	}
	return err
}

func newShareStore(cfg config.Server, rdb *redis.Client, m *metrics.Metrics) (shareStore, error) {
	if cfg.Share.Store == "redis" {
		if rdb == nil {
			return nil, errors.New("PROGRESS_STORE=redis requires REDIS_URL")
		}
		return progressstore.NewRedis(rdb.Client), nil
	}
	return progressstore.New(progressstore.WithExpiryObserver(func(string) {
		m.DecrementSharesActive()
	})), nil
}
