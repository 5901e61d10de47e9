// main wires the defense services, their stores and the HTTP surface, and
// keeps the server lifecycle small. Business logic lives in the internal
// services packages.
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

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"aegis/internal/bruteforce"
	"aegis/internal/bruteforce/anomaly"
	bfmetrics "aegis/internal/bruteforce/metrics"
	"aegis/internal/bruteforce/store/attempts"
	"aegis/internal/platform/config"
	"aegis/internal/platform/health"
	"aegis/internal/platform/logger"
	redisplatform "aegis/internal/platform/redis"
	rlmetrics "aegis/internal/ratelimit/metrics"
	ratelimitmw "aegis/internal/ratelimit/middleware"
	"aegis/internal/ratelimit/service/requestlimit"
	"aegis/internal/ratelimit/store/allowlist"
	"aegis/internal/ratelimit/store/window"
	"aegis/internal/ratelimit/workers/cleanup"
	"aegis/internal/resilience/monitor"
	monmetrics "aegis/internal/resilience/monitor/metrics"
	"aegis/internal/resilience/recovery"
	"aegis/internal/resilience/retry"
	"aegis/internal/securitymonitor"
	smmetrics "aegis/internal/securitymonitor/metrics"
	securitymw "aegis/internal/securitymonitor/middleware"
	smmodels "aegis/internal/securitymonitor/models"
	"aegis/internal/securitymonitor/store/events"
	httptransport "aegis/internal/transport/http"
	"aegis/internal/webhook"
	"aegis/pkg/audit"
	auditpublisher "aegis/pkg/audit/publisher"
	metadatamw "aegis/pkg/platform/middleware/metadata"
)

func main() {
	// Missing .env is fine; the environment may be set directly.
	_ = godotenv.Load()

	cfg := config.FromEnv()
	log := logger.New()

	log.Info("initializing aegis",
		"addr", cfg.Addr,
		"environment", cfg.Environment,
		"redis_configured", cfg.RedisURL != "",
	)

	if err := run(cfg, log); err != nil {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

func run(cfg config.Server, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	auditPub := auditpublisher.NewOps(log)

	redisClient, err := redisplatform.New(cfg.RedisURL)
	if err != nil {
		return err
	}

	// Stores: redis-backed window counters when configured, in-memory otherwise.
	var windowStore requestlimit.WindowStore
	memoryWindows := window.NewInMemoryStore()
	if redisClient != nil {
		windowStore = window.NewRedisStore(redisClient.Client)
	} else {
		windowStore = memoryWindows
	}
	allowlistStore := allowlist.New()
	attemptStore := attempts.New(attempts.DefaultHorizon)
	eventStore := events.New(events.DefaultMaxEvents, events.DefaultRetention)

	limiter, err := requestlimit.New(windowStore, allowlistStore,
		requestlimit.WithLogger(log),
		requestlimit.WithAuditPublisher(auditPub),
		requestlimit.WithMetrics(rlmetrics.New()),
	)
	if err != nil {
		return err
	}

	guard, err := bruteforce.New(attemptStore,
		bruteforce.WithLogger(log),
		bruteforce.WithAuditPublisher(auditPub),
		bruteforce.WithMetrics(bfmetrics.New()),
	)
	if err != nil {
		return err
	}

	detector := anomaly.New(anomaly.DefaultConfig())

	monCfg := monitor.DefaultConfig()
	monCfg.CheckInterval = cfg.HealthInterval
	resilienceMon := monitor.New(
		monitor.WithConfig(monCfg),
		monitor.WithLogger(log),
		monitor.WithMetrics(monmetrics.New()),
		monitor.WithAuditPublisher(auditPub),
	)

	// High-risk security events surface as resilience alerts so the
	// operational dashboard sees both in one place.
	securityMon, err := securitymonitor.New(eventStore,
		securitymonitor.WithLogger(log),
		securitymonitor.WithMetrics(smmetrics.New()),
		securitymonitor.WithAuditPublisher(auditPub),
		securitymonitor.WithAlertFunc(func(ctx context.Context, event smmodels.SecurityEvent) {
			resilienceMon.RaiseAlert(ctx, monitor.AlertSecurityEvent, event.Severity,
				fmt.Sprintf("%s from %s (risk %d)", event.Type, event.IP, event.RiskScore))
		}),
	)
	if err != nil {
		return err
	}

	chain := recovery.NewChain(log,
		recovery.AcknowledgeDuplicate{},
		recovery.BackoffWait{Cooldown: 2 * time.Second},
	)
	if redisClient != nil {
		chain.Register(recovery.NewReconnect(redisHealthProber{redisClient}, 5*time.Second))
	}

	apiExecutor := retry.New(retry.ExternalAPIConfig(),
		retry.WithLogger(log),
		retry.WithRecoverer(chain),
	)

	processor, err := webhook.New(apiExecutor,
		webhook.WithLogger(log),
		webhook.WithTracker(resilienceMon),
	)
	if err != nil {
		return err
	}
	processor.Register("events", func(ctx context.Context, d webhook.Delivery) error {
		audit.Log(ctx, log, auditPub, "webhook_event_ingested",
			"source", d.Source,
			"delivery_id", d.ID.String(),
			"payload_bytes", len(d.Payload),
		)
		return nil
	})

	healthHandler := health.New(cfg.Environment, resilienceMon.HealthCheck)
	if redisClient != nil {
		healthHandler.RegisterCheck("redis", func() error {
			checkCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return redisClient.HealthCheck(checkCtx)
		})
	}

	handler := httptransport.NewHandler(guard, detector, securityMon, resilienceMon, limiter, allowlistStore, processor, log)
	router := httptransport.NewRouter(httptransport.RouterConfig{
		Handler:   handler,
		Health:    healthHandler,
		RateLimit: ratelimitmw.New(limiter, log),
		Security:  securitymw.New(securityMon, log),
		Metadata:  metadatamw.NewMiddleware(&metadatamw.Config{TrustedProxies: cfg.TrustedProxies}),
		Logger:    log,
	})

	sweeper := cleanup.New(
		[]cleanup.Target{
			{Name: "rate_limit_windows", Sweeper: memoryWindows},
			{Name: "login_attempts", Sweeper: attemptStore},
			{Name: "security_events", Sweeper: eventStore},
		},
		cleanup.WithLogger(log),
		cleanup.WithInterval(cfg.CleanupInterval),
	)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("starting http server", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down server gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		err := sweeper.Start(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		resilienceMon.Start(ctx)
		return nil
	})

	if redisClient != nil {
		g.Go(func() error {
			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					redisClient.CollectPoolStats()
				}
			}
		})
	}

	return g.Wait()
}

// redisHealthProber adapts the redis client to the recovery prober interface.
type redisHealthProber struct {
	client *redisplatform.Client
}

func (p redisHealthProber) Ping(ctx context.Context) error {
	return p.client.HealthCheck(ctx)
}
