package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/kozaktomas/face-attendance/internal/archive"
	"github.com/kozaktomas/face-attendance/internal/audit"
	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/database/memory"
	"github.com/kozaktomas/face-attendance/internal/database/postgres"
	"github.com/kozaktomas/face-attendance/internal/events"
	"github.com/kozaktomas/face-attendance/internal/extractor"
	"github.com/kozaktomas/face-attendance/internal/logging"
	"github.com/kozaktomas/face-attendance/internal/metrics"
	"github.com/kozaktomas/face-attendance/internal/service"
)

// app holds everything a command needs. Build it with newApp and always
// Close it: Close drains the audit queue.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	registry  *prometheus.Registry
	backend   *database.Backend
	publisher events.Publisher
	hub       *events.Hub // set when NATS is not configured
	auditor   *audit.Auditor
	svc       *service.Service

	cancelAudit context.CancelFunc
	auditDone   sync.WaitGroup
}

// newApp loads configuration, opens the backend and wires the service.
func newApp(ctx context.Context) (*app, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, fmt.Errorf("configuring logging: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	a := &app{cfg: cfg, logger: logger, registry: registry}

	a.backend, err = openBackend(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	if cfg.NATS.URL != "" {
		pub, err := events.NewNATSPublisher(cfg.NATS.URL)
		if err != nil {
			a.backend.Close()
			return nil, fmt.Errorf("connecting to NATS: %w", err)
		}
		a.publisher = pub
	} else {
		a.hub = events.NewHub()
		a.publisher = a.hub
	}

	ext, err := extractor.FromConfig(cfg.Extractor, cfg.Matcher.Dim, m, logger.With("component", "extractor"))
	if err != nil {
		a.Close()
		return nil, err
	}

	arch, err := archive.FromConfig(ctx, cfg.Archive)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("configuring frame archive: %w", err)
	}

	a.auditor = audit.New(a.backend.Audit,
		audit.WithBuffer(cfg.Audit.Buffer),
		audit.WithMetrics(m),
		audit.WithLogger(logger.With("component", "audit")),
	)
	auditCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.cancelAudit = cancel
	a.auditDone.Add(1)
	go func() {
		defer a.auditDone.Done()
		a.auditor.Run(auditCtx)
	}()

	a.svc, err = service.New(cfg, a.backend, ext, service.Options{
		Publisher: a.publisher,
		Auditor:   a.auditor,
		Archive:   arch,
		Metrics:   m,
		Logger:    logger,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// openBackend returns the PostgreSQL backend when DATABASE_URL is set and the
// in-memory store otherwise.
func openBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*database.Backend, error) {
	if cfg.Database.URL == "" {
		logger.Warn("DATABASE_URL not set, using the in-memory store; nothing survives this process")
		return memory.New().Backend(), nil
	}
	backend, err := postgres.Open(ctx, &cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}
	return backend, nil
}

// subscriber returns the event source for SSE and cache invalidation.
func (a *app) subscriber() (events.Subscriber, error) {
	if a.hub != nil {
		return a.hub, nil
	}
	sub, err := events.NewNATSSubscriber(a.cfg.NATS.URL)
	if err != nil {
		return nil, fmt.Errorf("subscribing to NATS: %w", err)
	}
	return sub, nil
}

// Close drains pending audit entries, then releases the bus and backend.
func (a *app) Close() error {
	if a.cancelAudit != nil {
		a.cancelAudit()
		a.auditDone.Wait()
	}
	var errs []error
	if a.publisher != nil {
		errs = append(errs, a.publisher.Close())
	}
	if a.backend != nil {
		errs = append(errs, a.backend.Close())
	}
	return errors.Join(errs...)
}

// requireDatabase rejects commands whose effect would vanish with the
// in-memory store.
func requireDatabase() error {
	if os.Getenv("DATABASE_URL") == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}
	return nil
}
