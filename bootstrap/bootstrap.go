// Package bootstrap wires every control-plane component into one running
// process: storage, the metrics registry, the incident manager and its
// alert transport, the invariant/security/performance engines, the health
// scorer and safe mode, deployment gates and auto-rollback, the cron
// scheduler, and the HTTP surface, per spec section 6.
package bootstrap

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/nexus-retail/opsplane/controlmiddleware"
	"github.com/nexus-retail/opsplane/deploygate"
	"github.com/nexus-retail/opsplane/health"
	"github.com/nexus-retail/opsplane/incident"
	"github.com/nexus-retail/opsplane/infrastructure/alert"
	"github.com/nexus-retail/opsplane/infrastructure/config"
	"github.com/nexus-retail/opsplane/infrastructure/logging"
	ctlmw "github.com/nexus-retail/opsplane/infrastructure/middleware"
	"github.com/nexus-retail/opsplane/invariant"
	"github.com/nexus-retail/opsplane/metrics"
	"github.com/nexus-retail/opsplane/perf"
	"github.com/nexus-retail/opsplane/scheduler"
	"github.com/nexus-retail/opsplane/security"
	"github.com/nexus-retail/opsplane/selfheal"
	"github.com/nexus-retail/opsplane/storage"
)

// largeTxThresholdMinorUnits is the large-transaction scan threshold
// ($500.00 in minor units); no environment variable overrides it.
const largeTxThresholdMinorUnits = 50000

// App is the fully wired control plane: every domain engine plus the
// router and scheduler that drive them.
type App struct {
	Store   *storage.Store
	Metrics *metrics.Registry
	Logger  *logging.Logger

	Incidents  *incident.Manager
	Invariant  *invariant.Engine
	Security   *security.Scanner
	BlockList  *security.BlockList
	RateLimit  *security.RateLimiter
	BruteForce *security.BruteForceDetector
	Audit      *security.AuditChain

	Latency    *perf.LatencyTracker
	Memory     *perf.MemoryTracker
	Predictor  *perf.Predictor
	Saturation *perf.SaturationGauge
	Advisor    *perf.Advisor

	Health   *health.Scorer
	SafeMode *health.SafeMode

	Gates    *deploygate.GateRunner
	Rollback *deploygate.Watcher

	Idempotency     *selfheal.Idempotency
	BackupValidator *selfheal.BackupValidator

	Scheduler *scheduler.Scheduler
	Router    *mux.Router

	dispatcher   *alert.Dispatcher
	jwtPublicKey *rsa.PublicKey
}

// New wires every component against an already-open store. Callers own
// the store's lifecycle (Open/Close) and the background context passed
// to Start.
func New(ctx context.Context, store *storage.Store, logger *logging.Logger) *App {
	reg := metrics.New()

	dispatcher := alert.NewDispatcher(logger,
		webhookTransportFromEnv(config.GetEnv("ALERT_WEBHOOK_URL", "")),
		slackTransportFromEnv(config.GetEnv("SLACK_WEBHOOK_URL", "")),
		pagerDutyTransportFromEnv(config.GetEnv("PAGERDUTY_ROUTING_KEY", "")),
	)

	incidents := incident.New(store.Incidents(), incident.NewForensicSnapshotter(store, time.Now()), dispatcher, logger, reg)

	invariantEngine := invariant.NewEngine(store.Business(), store.Invariants(), incidents, logger, reg)

	blocklist := security.NewBlockList(store.Security())
	rateLimit := security.NewRateLimiter(config.GetEnvInt("RATE_LIMIT_PER_MINUTE", 100))
	bruteForce := security.NewBruteForceDetector()
	auditChain := security.NewAuditChain(store.Security(), incidents)
	scanner := security.NewScanner(store.Business(), store.Security(), blocklist, incidents, logger, reg, largeTxThresholdMinorUnits)

	latency := perf.NewLatencyTracker(reg)
	memory := perf.NewMemoryTracker()
	predictor := perf.NewPredictor(latency, memory, reg, incidents)
	saturation := perf.NewSaturationGauge(store.Perf(), reg)
	advisor := perf.NewAdvisor(store.Perf())

	safeMode := health.NewSafeMode(store.Health())
	scorer := health.NewScorer(store.Health(), safeMode, dispatcher, reg)

	coverage := deploygate.NewCommandCoverageReporter(
		config.GetEnv("COVERAGE_COMMAND", "go"),
		config.SplitAndTrimCSV(config.GetEnv("COVERAGE_COMMAND_ARGS", "test,-cover,./..."))...,
	)
	gates := deploygate.NewGateRunner(incidents, dispatcher, store.Invariants(), store.Backups(), store, reg,
		store.Deploy(), coverage, config.GetEnvBool("SKIP_COVERAGE_GATE", false), logger)
	rollback := deploygate.NewWatcher(latency, reg, incidents, dispatcher, logger)

	idempotency := selfheal.NewIdempotency(store.Idempotency())
	backupValidator := selfheal.NewBackupValidator(store.Backups(), incidents,
		config.GetEnv("BACKUP_VALIDATION_COMMAND", "backup-validate"),
		config.SplitAndTrimCSV(config.GetEnv("BACKUP_VALIDATION_COMMAND_ARGS", ""))...,
	)

	app := &App{
		Store: store, Metrics: reg, Logger: logger,
		Incidents: incidents, Invariant: invariantEngine,
		Security: scanner, BlockList: blocklist, RateLimit: rateLimit, BruteForce: bruteForce, Audit: auditChain,
		Latency: latency, Memory: memory, Predictor: predictor, Saturation: saturation, Advisor: advisor,
		Health: scorer, SafeMode: safeMode,
		Gates: gates, Rollback: rollback,
		Idempotency:     idempotency,
		BackupValidator: backupValidator,
		dispatcher:      dispatcher,
		jwtPublicKey:    jwtPublicKeyFromEnv(logger),
	}

	app.Scheduler = app.buildScheduler(ctx, reg, logger)
	app.Router = app.buildRouter()
	return app
}

func webhookTransportFromEnv(url string) *alert.Transport {
	if url == "" {
		return nil
	}
	return alert.NewGenericWebhook(url)
}

func slackTransportFromEnv(url string) *alert.Transport {
	if url == "" {
		return nil
	}
	return alert.NewSlackWebhook(url)
}

func pagerDutyTransportFromEnv(routingKey string) *alert.Transport {
	if routingKey == "" {
		return nil
	}
	return alert.NewPagerDutyEventsV2(routingKey)
}

// jwtPublicKeyFromEnv loads the RSA public key used to decode the bearer
// subject claim (JWT_PUBLIC_KEY_PEM). Admin auth itself is out of scope,
// so an unset or unparsable key simply leaves requests anonymous for
// blocking/rate-limit keying rather than failing startup.
func jwtPublicKeyFromEnv(logger *logging.Logger) *rsa.PublicKey {
	pem := config.GetEnv("JWT_PUBLIC_KEY_PEM", "")
	if pem == "" {
		return nil
	}
	key, err := ctlmw.ParseRSAPublicKeyFromPEM([]byte(pem))
	if err != nil {
		logger.WithError(err).Warn("JWT_PUBLIC_KEY_PEM set but unparsable; per-user blocking keys off authenticated identity")
		return nil
	}
	return key
}

// buildScheduler registers the eight default cadence jobs from
// config.DefaultServicesConfig, skipping any a hand-edited services.yaml
// disables.
func (a *App) buildScheduler(ctx context.Context, reg *metrics.Registry, logger *logging.Logger) *scheduler.Scheduler {
	svc := config.LoadServicesConfigOrDefault()
	cadence, err := config.LoadSchedulerConfig()
	if err != nil {
		logger.WithError(err).Error("decode scheduler cadence config; falling back to defaults")
		cadence = config.DefaultSchedulerConfig()
	}
	s := scheduler.New(ctx, reg, logger)

	register := func(name string, interval time.Duration, runOnStart bool, fn func(context.Context) error) {
		settings, ok := svc.Services[name]
		if ok && !settings.Enabled {
			return
		}
		s.Register(scheduler.Job{Name: name, Interval: interval, RunOnStart: runOnStart, Fn: fn})
	}

	register("invariant-engine", cadence.InvariantEngineInterval(), true,
		func(ctx context.Context) error {
			results, _, err := a.Invariant.RunCycle(ctx)
			if err != nil {
				return err
			}
			for _, r := range results {
				priority := storage.PriorityP2
				if len(r.Violations) > 3 {
					priority = storage.PriorityP1
				}
				if err := a.Incidents.CreateOrUpdateFromInvariant(ctx, incident.InvariantResult{
					Name: r.Name, Passed: r.Passed, AutoCorrected: r.AutoCorrected,
					ViolationCount: len(r.Violations), Priority: priority,
				}); err != nil {
					a.Logger.WithError(err).Error("reconcile invariant result: " + r.Name)
				}
			}
			return nil
		})

	register("performance-engine", cadence.PerformanceEngineInterval(), true,
		func(ctx context.Context) error {
			a.Memory.Sample(ctx)
			if _, err := a.Saturation.Sample(ctx); err != nil {
				return err
			}
			for _, endpoint := range a.Latency.Endpoints() {
				if _, err := a.Predictor.Evaluate(ctx, endpoint); err != nil {
					a.Logger.WithError(err).Error("evaluate overload risk: " + endpoint)
				}
			}
			return nil
		})

	register("security-engine", cadence.SecurityEngineInterval(), true,
		func(ctx context.Context) error { return a.Security.Scan(ctx) })

	register("health-scorer", cadence.HealthScorerInterval(), true,
		func(ctx context.Context) error {
			inputs, err := a.collectHealthInputs(ctx)
			if err != nil {
				return err
			}
			_, err = a.Health.Compute(ctx, inputs)
			return err
		})

	register("backup-validation", cadence.BackupValidationInterval(), false,
		func(ctx context.Context) error {
			_, err := a.BackupValidator.Run(ctx)
			return err
		})

	register("executive-report", cadence.ExecutiveReportInterval(), false,
		func(ctx context.Context) error {
			_, err := a.GenerateExecutiveReport(ctx)
			return err
		})

	register("idempotency-cleanup", cadence.IdempotencyCleanupInterval(), false,
		func(ctx context.Context) error {
			_, err := a.Idempotency.GC(ctx)
			return err
		})

	register("ratelimiter-cleanup", cadence.RatelimiterCleanupInterval(), false,
		func(ctx context.Context) error {
			a.RateLimit.Cleanup()
			return nil
		})

	return s
}

func (a *App) collectHealthInputs(ctx context.Context) (health.Inputs, error) {
	drift, err := a.Store.Invariants().LatestDriftScore(ctx)
	if err != nil {
		return health.Inputs{}, err
	}
	driftScore := 100
	if drift != nil {
		driftScore = drift.Score
	}

	summary, err := a.Incidents.GetIncidentSummary(ctx)
	if err != nil {
		return health.Inputs{}, err
	}

	backup, err := a.Store.Backups().LatestPassed(ctx)
	if err != nil {
		return health.Inputs{}, err
	}
	hasBackup := backup != nil
	var backupAge time.Duration
	if hasBackup {
		backupAge = time.Since(backup.ValidatedAt)
	}

	pending, err := a.Store.PendingMigrationCount(ctx)
	if err != nil {
		return health.Inputs{}, err
	}

	var p95 float64
	for _, endpoint := range a.Latency.Endpoints() {
		if v := a.Latency.P95(endpoint); v > p95 {
			p95 = v
		}
	}

	return health.Inputs{
		DriftScore: driftScore, ErrorRate: a.Metrics.Gauge("http.error_rate"), LatencyP95Ms: p95,
		OpenP1: summary.Summary.OpenP1, OpenP2: summary.Summary.OpenP2,
		OpenP3: summary.Summary.OpenP3, OpenP4: summary.Summary.OpenP4,
		LastBackupAge: backupAge, HasPassedBackup: hasBackup,
		MigrationsErr: false, PendingMigrations: pending,
	}, nil
}

// GenerateExecutiveReport assembles and persists the daily digest: current
// health grade, open incidents by priority, and latest drift score. Shared
// by the on-demand HTTP endpoint and the executive-report cron job.
func (a *App) GenerateExecutiveReport(ctx context.Context) (*storage.ExecutiveReport, error) {
	summary, err := a.Incidents.GetIncidentSummary(ctx)
	if err != nil {
		return nil, fmt.Errorf("load incident summary: %w", err)
	}
	drift, err := a.Store.Invariants().LatestDriftScore(ctx)
	if err != nil {
		return nil, fmt.Errorf("load drift score: %w", err)
	}
	latestHealth, err := a.Store.Health().LatestScore(ctx)
	if err != nil {
		return nil, fmt.Errorf("load health score: %w", err)
	}

	report := storage.JSONMap{
		"incidentSummary": summary.Summary,
		"generatedAt":     time.Now(),
	}
	if drift != nil {
		report["driftScore"] = drift.Score
	}
	if latestHealth != nil {
		report["healthScore"] = latestHealth.Score
		report["healthGrade"] = string(health.GradeFor(latestHealth.Score))
	}

	now := time.Now()
	periodDate := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	rep := &storage.ExecutiveReport{ID: uuid.NewString(), PeriodDate: periodDate, Report: report}
	if err := a.Store.Reports().Upsert(ctx, rep); err != nil {
		return nil, fmt.Errorf("persist executive report: %w", err)
	}
	return rep, nil
}

// Start launches the cron scheduler and, when rollbackFn is non-nil, the
// auto-rollback watcher. Both run until ctx is cancelled.
func (a *App) Start(ctx context.Context, rollbackFn func() error) error {
	if err := a.Scheduler.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	if rollbackFn != nil {
		go a.Rollback.Start(ctx, rollbackFn)
	}
	return nil
}

// Stop drains the scheduler. Call after the HTTP server has stopped
// accepting new requests.
func (a *App) Stop() {
	a.Scheduler.Stop()
}

func (a *App) buildRouter() *mux.Router {
	r := mux.NewRouter()
	r.Use(ctlmw.NewRecoveryMiddleware(a.Logger).Handler)
	r.Use(ctlmw.LoggingMiddleware(a.Logger))
	r.Use(ctlmw.NewSecurityHeadersMiddleware(nil).Handler)
	r.Use(ctlmw.NewValidationMiddleware(ctlmw.DefaultValidationConfig()).Handler)
	r.Use(ctlmw.NewBodyLimitMiddleware(0).Handler)
	r.Use(ctlmw.NewTimeoutMiddleware(0).Handler)
	r.Use(controlmiddleware.SafeMode(a.SafeMode))
	r.Use(ctlmw.UserContext(a.jwtPublicKey))
	r.Use(controlmiddleware.Security(a.RateLimit, a.BlockList, a.BruteForce))
	r.Use(controlmiddleware.Accounting(a.Metrics, a.Latency))

	h := &handlers{app: a}
	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	r.HandleFunc("/system-health", h.systemHealth).Methods(http.MethodGet)
	r.HandleFunc("/incidents", h.incidents).Methods(http.MethodGet)
	r.HandleFunc("/invariants/status", h.invariantStatus).Methods(http.MethodGet)
	r.HandleFunc("/cron/status", h.cronStatus).Methods(http.MethodGet)
	r.Handle("/metrics", a.Metrics.PrometheusHandler()).Methods(http.MethodGet)
	r.HandleFunc("/metrics/json", h.metricsJSON).Methods(http.MethodGet)
	r.HandleFunc("/system-mode/safe", h.enableSafeMode).Methods(http.MethodPost)
	r.HandleFunc("/system-mode/safe", h.disableSafeMode).Methods(http.MethodDelete)
	r.HandleFunc("/reports/executive", h.generateExecutiveReport).Methods(http.MethodPost)
	return r
}
