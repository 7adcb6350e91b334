package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/parity/pkg/api"
	"github.com/openfroyo/parity/pkg/compare"
	"github.com/openfroyo/parity/pkg/config"
	"github.com/openfroyo/parity/pkg/engine"
	"github.com/openfroyo/parity/pkg/policy"
	"github.com/openfroyo/parity/pkg/report"
	"github.com/openfroyo/parity/pkg/sessions"
	"github.com/openfroyo/parity/pkg/simulator"
	"github.com/openfroyo/parity/pkg/stores"
	"github.com/openfroyo/parity/pkg/telemetry"
)

// app is the fully wired runtime shared by the commands.
type app struct {
	settings  *config.Settings
	telemetry *telemetry.Telemetry
	logger    zerolog.Logger

	registry  *stores.SQLiteStore
	progress  engine.ProgressStore
	checks    []api.ReadinessCheck
	hierarchy *config.Hierarchy
	sessions  *sessions.Manager
	scheduler *engine.Scheduler
	service   *engine.Service
	policies  *policy.Engine
	loader    *policy.Loader
	gate      *policy.Gate
	reports   *report.Generator

	unsubscribe []func()
}

// loadSettings reads the settings named by --config.
func loadSettings() (*config.Settings, error) {
	return config.LoadSettings(configPath)
}

// telemetryConfig maps settings onto the telemetry configuration.
func telemetryConfig(s *config.Settings, version string) *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceName = s.Telemetry.ServiceName
	cfg.ServiceVersion = version
	cfg.Environment = s.Engine.TargetEnvironment
	cfg.Logging.Level = s.Telemetry.LogLevel
	cfg.Logging.Format = s.Telemetry.LogFormat
	if verbose {
		cfg.Logging.Level = "debug"
	}
	cfg.Tracing.Enabled = s.Telemetry.TracingEnabled
	cfg.Tracing.Exporter = s.Telemetry.TracingExporter
	cfg.Tracing.Endpoint = s.Telemetry.TracingEndpoint
	cfg.Tracing.SamplingRate = s.Telemetry.SamplingRate
	cfg.Metrics.Enabled = s.Telemetry.MetricsEnabled
	if s.Telemetry.MetricsPath != "" {
		cfg.Metrics.Path = s.Telemetry.MetricsPath
	}
	return cfg
}

// newApp wires every component described by the settings. Close must be
// called to release it.
func newApp(ctx context.Context, s *config.Settings, version string) (_ *app, err error) {
	tel, err := telemetry.NewTelemetry(telemetryConfig(s, version))
	if err != nil {
		return nil, err
	}
	a := &app{settings: s, telemetry: tel, logger: tel.Logger.Zerolog()}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	if err := os.MkdirAll(s.Storage.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	if err := a.openStores(ctx); err != nil {
		return nil, err
	}

	a.hierarchy, err = config.LoadHierarchy(ctx, s.Hierarchy.Path)
	if err != nil {
		return nil, err
	}

	a.sessions = sessions.NewManager(a.registry, a.progress,
		sessions.Config{
			MaxSessions:             s.Sessions.MaxSessions,
			MaxExecutionsPerSession: s.Sessions.MaxExecutionsPerSession,
		},
		sessions.WithEventPublisher(tel.Events),
		sessions.WithMetrics(tel.Metrics),
		sessions.WithLogger(a.logger),
	)

	sim, err := newSimulator(s, a.logger)
	if err != nil {
		return nil, err
	}

	orch := engine.NewOrchestrator(sim.Executor(), a.progress, s.OrchestratorConfig(),
		engine.WithNormalizer(compare.NewNormalizer(compare.WithMaxDepth(s.Engine.NormalizeMaxDepth))),
		engine.WithEventPublisher(tel.Events),
		engine.WithMetrics(tel.Metrics),
		engine.WithLogger(a.logger),
	)
	master := engine.NewMaster(orch, a.sessions, a.logger)
	a.scheduler = engine.NewScheduler(s.Engine.Workers, s.Engine.QueueSize,
		engine.WithSchedulerMetrics(tel.Metrics),
		engine.WithSchedulerLogger(a.logger),
	)
	a.service = engine.NewService(a.sessions, config.NewExpander(a.hierarchy, a.logger), master, a.scheduler, a.progress,
		engine.ServiceConfig{
			TargetEnvironment: s.Engine.TargetEnvironment,
			ExecutionTimeout:  s.Engine.ExecutionTimeout,
		}, a.logger)

	if err := a.wirePolicies(ctx); err != nil {
		return nil, err
	}
	a.reports = report.NewGenerator(report.WithPolicies(a.policies), report.WithLogger(a.logger))

	return a, nil
}

func (a *app) openStores(ctx context.Context) error {
	s := a.settings

	registry, err := stores.NewSQLiteStore(stores.Config{Path: s.RegistryPath()})
	if err != nil {
		return err
	}
	if err := registry.Init(ctx); err != nil {
		return fmt.Errorf("failed to open session registry: %w", err)
	}
	a.registry = registry
	if err := a.registry.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate session registry: %w", err)
	}
	a.checks = append(a.checks, api.ReadinessCheck{Name: "registry", Check: a.registry.HealthCheck})

	switch s.Storage.ProgressBackend {
	case "s3":
		obj, err := stores.NewObjectProgressStore(stores.ObjectConfig{
			Endpoint:  s.Storage.S3.Endpoint,
			AccessKey: s.Storage.S3.AccessKey,
			SecretKey: s.Storage.S3.SecretKey,
			Bucket:    s.Storage.S3.Bucket,
			Region:    s.Storage.S3.Region,
			UseSSL:    s.Storage.S3.UseSSL,
			Prefix:    s.Storage.S3.Prefix,
		})
		if err != nil {
			return err
		}
		if err := obj.EnsureBucket(ctx, s.Storage.S3.Region); err != nil {
			return err
		}
		a.progress = obj
		a.checks = append(a.checks, api.ReadinessCheck{Name: "progress", Check: obj.HealthCheck})
	default:
		fs, err := stores.NewFileProgressStore(filepath.Join(s.Storage.DataDir, "progress"))
		if err != nil {
			return err
		}
		a.progress = fs
	}
	return nil
}

func newSimulator(s *config.Settings, logger zerolog.Logger) (*simulator.Simulator, error) {
	rule := simulator.NoFaults
	switch {
	case s.Simulator.FaultScript != "":
		script, err := simulator.LoadFaultScript(s.Simulator.FaultScript, 0)
		if err != nil {
			return nil, err
		}
		rule = script
	case s.Simulator.DefaultFaults:
		rule = simulator.DefaultFaults
	}
	return simulator.New(simulator.WithFaultRule(rule), simulator.WithLogger(logger)), nil
}

// wirePolicies loads the gate policies, subscribes the gate to execution
// events and, when configured, reloads policies on file changes.
func (a *app) wirePolicies(ctx context.Context) error {
	var err error
	a.policies, err = policy.NewEngine(a.logger)
	if err != nil {
		return err
	}

	dir := a.settings.Policies.Dir
	if dir != "" {
		a.loader = policy.NewLoader(a.logger)
		loaded, err := a.loader.LoadFromPaths(ctx, []string{dir})
		if err != nil {
			return err
		}
		if err := a.policies.ReplaceFilePolicies(ctx, loaded); err != nil {
			return err
		}
	}

	a.gate = policy.NewGate(a.policies, a.progress,
		policy.WithGateEvents(a.telemetry.Events),
		policy.WithGateMetrics(a.telemetry.Metrics),
		policy.WithGateLogger(a.logger),
	)
	a.unsubscribe = append(a.unsubscribe, a.telemetry.Events.Subscribe(a.gate.HandleEvent, telemetry.FilterByType(
		engine.EventTypeExecutionCompleted,
		engine.EventTypeExecutionEvicted,
		engine.EventTypeSessionEvicted,
	)))

	if dir != "" && a.settings.Policies.Watch {
		reload := func(policies []policy.Policy) error {
			return a.policies.ReplaceFilePolicies(context.Background(), policies)
		}
		if err := a.loader.Watch(ctx, []string{dir}, reload); err != nil {
			return err
		}
	}
	return nil
}

// server builds the HTTP API over the app.
func (a *app) server() *api.Server {
	s := a.settings
	opts := []api.Option{
		api.WithLogger(a.logger),
		api.WithReadinessChecks(a.checks...),
	}
	if s.Telemetry.MetricsEnabled {
		opts = append(opts, api.WithMetricsHandler(a.telemetry.Metrics.Handler()))
	}
	return api.NewServer(api.Config{
		Service:         s.Telemetry.ServiceName,
		Addr:            s.Server.Addr,
		ShutdownTimeout: s.Server.ShutdownTimeout,
		MetricsPath:     s.Telemetry.MetricsPath,
	}, a.sessions, a.service, a.hierarchy, a.reports, opts...)
}

// Close stops the workers, the watcher and the stores, then flushes telemetry.
func (a *app) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var errs []error
	if a.service != nil {
		errs = append(errs, a.service.Shutdown(ctx))
	}
	if a.loader != nil {
		errs = append(errs, a.loader.StopWatching())
	}
	for _, unsubscribe := range a.unsubscribe {
		unsubscribe()
	}
	if a.registry != nil {
		errs = append(errs, a.registry.Close())
	}
	if a.telemetry != nil {
		errs = append(errs, a.telemetry.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
