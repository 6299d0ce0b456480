// Package daemon wires configuration, storage, the tool catalog and the
// execution pipeline into one long-running service.
package daemon

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/pohlai88/lynx/internal/config"
	"github.com/pohlai88/lynx/internal/logger"
	"github.com/pohlai88/lynx/internal/observability"
	"github.com/pohlai88/lynx/pkg/agent"
	"github.com/pohlai88/lynx/pkg/audit"
	"github.com/pohlai88/lynx/pkg/executor"
	"github.com/pohlai88/lynx/pkg/kernel"
	"github.com/pohlai88/lynx/pkg/mcp/cell"
	"github.com/pohlai88/lynx/pkg/mcp/cluster"
	"github.com/pohlai88/lynx/pkg/mcp/domain"
	"github.com/pohlai88/lynx/pkg/permissions"
	"github.com/pohlai88/lynx/pkg/registry"
	"github.com/pohlai88/lynx/pkg/session"
	"github.com/pohlai88/lynx/pkg/settlement"
	"github.com/pohlai88/lynx/pkg/store"
)

// Daemon is the lynx service instance.
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	// Storage
	store     store.Store
	auditSink *audit.SQLiteSink
	auditor   *audit.Logger

	// Pipeline
	registry  *registry.Registry
	checker   *permissions.Checker
	executor  *executor.Executor
	sessions  *session.Manager
	directory *domain.StaticDirectory

	// Services
	kernelClient     *kernel.Client
	agentRunner      *agent.Runner
	settlementWorker *settlement.Worker
	metricsServer    *http.Server
	configWatcher    *config.Watcher

	startTime time.Time
	running   bool
	mu        sync.RWMutex
}

const sessionTimeout = 30 * time.Minute

// New creates a daemon instance with every module initialized but nothing
// running yet.
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	observability.EnsureRegistered()

	d := &Daemon{
		config: cfg,
		logger: log,
	}

	if err := d.initializeStorage(); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	if err := d.initializePipeline(); err != nil {
		d.closeStorage()
		return nil, fmt.Errorf("failed to initialize pipeline: %w", err)
	}
	if err := d.initializeServices(); err != nil {
		d.closeStorage()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	return d, nil
}

func (d *Daemon) initializeStorage() error {
	st, err := store.NewSQLiteStore(d.config.Storage.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	d.store = st
	d.logger.Info().Str("path", d.config.Storage.DatabasePath).Msg("Store initialized")

	sink, err := audit.NewSQLiteSink(d.config.Storage.AuditPath)
	if err != nil {
		return fmt.Errorf("failed to open audit database: %w", err)
	}
	d.auditSink = sink
	d.auditor = audit.NewLogger(observability.NewMetricsSink(sink))
	d.logger.Info().Str("path", d.config.Storage.AuditPath).Msg("Audit sink initialized")
	return nil
}

func (d *Daemon) initializePipeline() error {
	d.registry = registry.New()
	d.sessions = session.NewManager(sessionTimeout)
	d.directory = domain.NewStaticDirectory()

	var checkerOpts []permissions.Option
	if d.config.Kernel.Enabled() {
		d.kernelClient = kernel.NewClient(
			d.config.Kernel.URL,
			d.config.Kernel.APIKey,
			d.config.Kernel.TenantID,
		)
		checkerOpts = append(checkerOpts, permissions.WithPolicyClient(d.kernelClient))
		if d.config.Permissions.FailClosed {
			checkerOpts = append(checkerOpts, permissions.WithFailClosed(true))
		}
		d.logger.Info().Str("url", d.config.Kernel.URL).
			Bool("fail_closed", d.config.Permissions.FailClosed).
			Msg("Kernel policy service configured")
	}
	d.checker = permissions.NewChecker(checkerOpts...)

	d.executor = executor.New(d.registry, d.checker, d.auditor,
		executor.WithProductionMode(d.config.ProductionMode()),
		executor.WithMetrics(observability.ExecutorMetrics{}),
	)

	domainOpts := []domain.Option{domain.WithAuditReader(d.auditSink)}
	if d.kernelClient != nil {
		domainOpts = append(domainOpts, domain.WithHealthProber(d.kernelClient))
	}
	domain.NewService(d.directory, d.store, domainOpts...).Register(d.registry)
	cluster.NewService(d.store, d.directory).Register(d.registry)
	cell.NewService(d.store, d.store, d.store).Register(d.registry)

	d.logger.Info().Int("tools", d.registry.Count()).Msg("Tool catalog registered")
	return nil
}

func (d *Daemon) initializeServices() error {
	if d.config.Settlement.Enabled {
		d.settlementWorker = settlement.NewWorker(d.store,
			settlement.WithSchedule(d.config.Settlement.Schedule),
			settlement.WithBatchSize(d.config.Settlement.BatchSize),
			settlement.WithMetrics(observability.SettlementMetrics{}),
		)
	}

	if d.config.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", observability.MetricsHandler())
		d.metricsServer = &http.Server{
			Addr:              net.JoinHostPort(d.config.Metrics.Host, fmt.Sprintf("%d", d.config.Metrics.Port)),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	if d.config.Agent.Enabled() {
		provider, err := agent.NewProvider(d.config.Agent.Provider, d.config.Agent.APIKey)
		if err != nil {
			return fmt.Errorf("failed to create agent provider: %w", err)
		}
		runner, err := agent.NewRunner(agent.Config{
			Provider:      provider,
			Executor:      d.executor,
			Registry:      d.registry,
			Auditor:       d.auditor,
			Model:         d.config.Agent.Model,
			SystemPrompt:  d.config.Agent.SystemPrompt,
			Temperature:   d.config.Agent.Temperature,
			MaxTokens:     d.config.Agent.MaxTokens,
			MaxIterations: d.config.Agent.MaxIterations,
		})
		if err != nil {
			return fmt.Errorf("failed to create agent runner: %w", err)
		}
		d.agentRunner = runner
		d.logger.Info().Str("provider", d.config.Agent.Provider).
			Str("model", d.config.Agent.Model).Msg("Agent runner configured")
	}

	return nil
}

// Start starts the background services.
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	d.logger.Info().Str("mode", d.config.Mode).Msg("Starting lynx daemon")

	if !d.config.ProductionMode() {
		d.logger.Warn().Str("mode", d.config.Mode).
			Msg("High-risk actions do not require explicit approval outside production mode")
	}

	if d.settlementWorker != nil {
		if err := d.settlementWorker.Start(); err != nil {
			return fmt.Errorf("failed to start settlement worker: %w", err)
		}
		d.logger.Info().Msg("Settlement worker started")
	}

	if d.metricsServer != nil {
		go func() {
			if err := d.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				d.logger.Error().Err(err).Msg("Metrics server failed")
			}
		}()
		d.logger.Info().Str("addr", d.metricsServer.Addr).Msg("Metrics server started")
	}

	watcher, err := config.NewWatcher(config.NewLoader(""), d.applyConfigReload)
	if err != nil {
		d.logger.Warn().Err(err).Msg("Config watcher unavailable")
	} else if err := watcher.Start(); err != nil {
		d.logger.Warn().Err(err).Msg("Config watcher could not start")
	} else {
		d.configWatcher = watcher
	}

	d.logger.Info().Int("tools", d.registry.Count()).Msg("Daemon started")
	return nil
}

// applyConfigReload applies the mutable configuration subset. Mode, storage
// and catalog changes require a restart.
func (d *Daemon) applyConfigReload(cfg *config.Config) {
	if cfg.Logging.Level != d.config.Logging.Level {
		d.logger.Info().
			Str("from", d.config.Logging.Level).
			Str("to", cfg.Logging.Level).
			Msg("Log level change requested, applies on restart")
	}
	if cfg.Mode != d.config.Mode {
		d.logger.Warn().Str("configured", cfg.Mode).Str("running", d.config.Mode).
			Msg("Mode change requires a restart")
	}
}

// Stop stops the daemon gracefully.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	d.logger.Info().Msg("Stopping lynx daemon")

	if d.configWatcher != nil {
		if err := d.configWatcher.Stop(); err != nil {
			d.logger.Error().Err(err).Msg("Failed to stop config watcher")
		}
	}

	if d.settlementWorker != nil {
		d.settlementWorker.Stop()
	}

	if d.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.metricsServer.Shutdown(ctx); err != nil {
			d.logger.Error().Err(err).Msg("Failed to stop metrics server")
		}
	}

	d.closeStorage()

	d.logger.Info().Msg("Daemon stopped")
	return nil
}

func (d *Daemon) closeStorage() {
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			d.logger.Error().Err(err).Msg("Failed to close store")
		}
	}
	if d.auditSink != nil {
		if err := d.auditSink.Close(); err != nil {
			d.logger.Error().Err(err).Msg("Failed to close audit sink")
		}
	}
}

// Status describes the running daemon for the CLI.
type Status struct {
	Running        bool          `json:"running"`
	Mode           string        `json:"mode"`
	Uptime         time.Duration `json:"uptime"`
	Tools          int           `json:"tools"`
	ActiveSessions int           `json:"active_sessions"`
	ApprovalGate   bool          `json:"approval_gate"`
	KernelEnabled  bool          `json:"kernel_enabled"`
	AgentEnabled   bool          `json:"agent_enabled"`
}

// Status reports the daemon state.
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var uptime time.Duration
	if d.running {
		uptime = time.Since(d.startTime)
	}
	return Status{
		Running:        d.running,
		Mode:           d.config.Mode,
		Uptime:         uptime,
		Tools:          d.registry.Count(),
		ActiveSessions: d.sessions.Count(),
		ApprovalGate:   d.config.ProductionMode(),
		KernelEnabled:  d.config.Kernel.Enabled(),
		AgentEnabled:   d.agentRunner != nil,
	}
}

// GetConfig returns the daemon configuration.
func (d *Daemon) GetConfig() *config.Config {
	return d.config
}

// GetRegistry returns the tool registry.
func (d *Daemon) GetRegistry() *registry.Registry {
	return d.registry
}

// GetExecutor returns the tool executor.
func (d *Daemon) GetExecutor() *executor.Executor {
	return d.executor
}

// GetSessionManager returns the session manager.
func (d *Daemon) GetSessionManager() *session.Manager {
	return d.sessions
}

// GetDirectory returns the tenant directory backing the domain tools.
func (d *Daemon) GetDirectory() *domain.StaticDirectory {
	return d.directory
}

// GetAgentRunner returns the agent runner, nil when no provider is
// configured.
func (d *Daemon) GetAgentRunner() *agent.Runner {
	return d.agentRunner
}

// GetStore returns the backing store.
func (d *Daemon) GetStore() store.Store {
	return d.store
}
