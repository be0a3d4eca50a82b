package daemon

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/shelldone/agentd/internal/ack"
	"github.com/shelldone/agentd/internal/capability"
	"github.com/shelldone/agentd/internal/config"
	"github.com/shelldone/agentd/internal/journal"
	"github.com/shelldone/agentd/internal/logger"
	"github.com/shelldone/agentd/internal/policy"
	"github.com/shelldone/agentd/internal/sandbox"
	"github.com/shelldone/agentd/internal/snapshot"
	"github.com/shelldone/agentd/internal/store"
	"github.com/shelldone/agentd/internal/telemetry"
	"github.com/shelldone/agentd/internal/termbridge"
	"github.com/shelldone/agentd/internal/transport"
)

// Daemon holds the long-lived pieces a running agentd process needs to
// shut down cleanly: the registries that outlive any single request.
type Daemon struct {
	Config  *config.Config
	Agentd  *config.AgentdConfig
	Store   *store.Store
	Journal *journal.Journal
}

// Run wires every subsystem together and blocks until the process
// receives a termination signal or a listener fails.
func Run(cfg *config.Config, agentdCfg *config.AgentdConfig) error {
	s, err := store.Open(defaultDBPath(agentdCfg.StateDir))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer s.Close()

	recoverInterrupted(s)

	j, err := journal.Open(agentdCfg.StateDir, 64<<20)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer j.Close()
	if j.Truncated() {
		logger.Warn("journal recovered with a truncated tail segment, last record discarded")
	}

	snap, err := snapshot.Open(agentdCfg.StateDir, j)
	if err != nil {
		return fmt.Errorf("open snapshot store: %w", err)
	}

	pol := policy.NewEngine()
	pol.OnLog(func(kind string, args ...any) { logger.Info(kind, args...) })
	if agentdCfg.PolicyPath != "" {
		if err := pol.LoadFile(agentdCfg.PolicyPath); err != nil {
			return fmt.Errorf("load policy: %w", err)
		}
	}

	stopWatch := make(chan struct{})
	defer close(stopWatch)
	if agentdCfg.PolicyPath != "" {
		go func() {
			if err := pol.Watch(agentdCfg.PolicyPath, stopWatch); err != nil {
				logger.Error("policy watch stopped", "error", err)
			}
		}()
	}
	recordPolicyGeneration(s, pol, agentdCfg.PolicyPath)

	denyPaths := defaultDenyPaths()
	execer := ack.NewExecutor(denyPaths)
	kernel := ack.NewKernel(j, pol, snap, execer)

	signingKey, err := loadOrCreateSigningKey(agentdCfg.StateDir)
	if err != nil {
		return fmt.Errorf("signing key: %w", err)
	}
	issuer := capability.NewTokenIssuer(signingKey, time.Hour)

	personas := agentdCfg.Personas
	if personas == nil {
		personas = capability.DefaultProfileSet()
	}
	negotiator := capability.NewNegotiator(capability.DefaultServerManifest(), personas)

	adapters := map[string]termbridge.Adapter{
		"kitty":   termbridge.NewLocalAdapter("kitty", sandbox.Strict, nil),
		"wezterm": termbridge.NewLocalAdapter("wezterm", sandbox.Strict, nil),
	}
	bridge := termbridge.NewOrchestrator(pol, j, adapters)
	reconcileBindings(bridge)

	telemetryProvider := newTelemetryProvider(cfg)
	defer telemetryProvider.Shutdown()

	execLatency := telemetryProvider.NewHistogram(telemetry.HistogramOpts{
		CommonOpts: telemetry.CommonOpts{Namespace: "agentd", Subsystem: "ack", Name: "exec_latency_seconds", Labels: []string{"command"}},
	})
	kernel.OnLatency(func(command string, d time.Duration) {
		logger.Debug("ack latency", "command", command, "duration_ms", d.Milliseconds())
		execLatency.Observe(d.Seconds(), command)
	})

	sessionEvents := telemetryProvider.NewCounter(telemetry.CounterOpts{
		CommonOpts: telemetry.CommonOpts{Namespace: "agentd", Subsystem: "capability", Name: "negotiation_events_total", Labels: []string{"kind"}},
	})
	negotiator.OnEvent(func(kind string, payload map[string]any) {
		logger.Info(kind, "payload", payload)
		sessionEvents.Inc(1, kind)
	})

	srv := transport.NewServer(negotiator, issuer, kernel, bridge, j, cfg.SocketPath, cfg.ListenAddr, cfg.RequireAuth)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("transport listening", "socket", cfg.SocketPath, "addr", cfg.ListenAddr)
		errCh <- srv.ListenAndServe(ctx)
	}()

	logger.Info("agentd daemon started", "state_dir", agentdCfg.StateDir)

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", "signal", sig.String())
		cancel()
		time.Sleep(time.Second)
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			cancel()
			return fmt.Errorf("daemon error: %w", err)
		}
	}

	closeOpenSessions(s)
	return nil
}

func defaultDBPath(stateDir string) string {
	return filepath.Join(stateDir, "agentd.db")
}

// defaultDenyPaths masks the credential locations every sandboxed exec
// should never read, regardless of the persona's isolation level.
func defaultDenyPaths() []string {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	return []string{
		filepath.Join(home, ".ssh"),
		filepath.Join(home, ".aws"),
		filepath.Join(home, ".config", "gcloud"),
	}
}

// recoverInterrupted closes out sessions and terminal bindings a prior
// crash left open, the SQLite analogue of the teacher's
// running-task recovery pass but scoped to sessions and bindings
// instead of queued tasks.
func recoverInterrupted(s *store.Store) {
	now := time.Now().UTC()
	sessions, err := s.ListOpenSessions()
	if err != nil {
		logger.Warn("recover: list open sessions failed", "error", err)
		return
	}
	for _, sess := range sessions {
		if err := s.CloseSession(sess.ID, now); err != nil {
			logger.Warn("recover: close session failed", "id", sess.ID, "error", err)
			continue
		}
		logger.Info("recovered session abandoned by prior crash", "id", sess.ID)
	}

	bindings, err := s.ListActiveBindings()
	if err != nil {
		logger.Warn("recover: list active bindings failed", "error", err)
		return
	}
	for _, b := range bindings {
		if err := s.CloseBinding(b.BindingID, "terminated", now); err != nil {
			logger.Warn("recover: close binding failed", "id", b.BindingID, "error", err)
			continue
		}
		logger.Info("recovered terminal binding abandoned by prior crash", "id", b.BindingID)
	}
}

// reconcileBindings runs a Discover pass at startup so the orchestrator's
// capability map reflects what terminal adapters this host actually has,
// independent of whatever the database recorded before a restart.
func reconcileBindings(bridge *termbridge.Orchestrator) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, _, err := bridge.Discover(ctx); err != nil {
		logger.Warn("termbridge discover at startup failed", "error", err)
	}
}

// closeOpenSessions stamps every still-open session row at a clean
// shutdown, so a restart's recoverInterrupted pass has nothing stale
// to find unless the process actually crashed.
func closeOpenSessions(s *store.Store) {
	now := time.Now().UTC()
	sessions, err := s.ListOpenSessions()
	if err != nil {
		return
	}
	for _, sess := range sessions {
		s.CloseSession(sess.ID, now)
	}
}

func recordPolicyGeneration(s *store.Store, pol *policy.Engine, sourcePath string) {
	var src *string
	if sourcePath != "" {
		src = &sourcePath
	}
	if err := s.RecordPolicyGeneration(pol.Generation(), pol.RuleCount(), src, time.Now().UTC()); err != nil {
		logger.Warn("record policy generation failed", "error", err)
	}
}

// newTelemetryProvider dials the configured OTLP collector, falling back
// to a no-op provider when no endpoint is configured or the dial fails,
// so telemetry never blocks daemon startup.
func newTelemetryProvider(cfg *config.Config) telemetry.Provider {
	if cfg.OTLPEndpoint == "" {
		return telemetry.NoopProvider()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	flush := time.Duration(cfg.OTLPFlushIntervalSecs) * time.Second
	p, err := telemetry.NewOTelProvider(ctx, telemetry.OTelOptions{Endpoint: cfg.OTLPEndpoint, FlushInterval: flush})
	if err != nil {
		logger.Warn("otlp provider unavailable, falling back to noop", "error", err)
		return telemetry.NoopProvider()
	}
	return p
}

// loadOrCreateSigningKey persists the bearer-token ECDSA key under the
// state dir so sessions survive a daemon restart; a fresh key is only
// generated the first time a given state dir is used.
func loadOrCreateSigningKey(stateDir string) (*ecdsa.PrivateKey, error) {
	path := filepath.Join(stateDir, "signing_key.pem")
	if data, err := os.ReadFile(path); err == nil {
		return capability.ParseSigningKeyPEM(data)
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	key, err := capability.GenerateSigningKey()
	if err != nil {
		return nil, err
	}
	pemBytes, err := capability.MarshalSigningKeyPEM(key)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, pemBytes, 0600); err != nil {
		return nil, fmt.Errorf("persist signing key: %w", err)
	}
	return key, nil
}
