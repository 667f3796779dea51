package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"fleetalert/internal/clock"
	"fleetalert/internal/config"
	"fleetalert/internal/ingest"
	"fleetalert/internal/logging"
	"fleetalert/internal/metrics"
	"fleetalert/internal/notify"
	"fleetalert/internal/rules"
	"fleetalert/internal/store"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Service composes runtime dependencies and process lifecycle.
// Params: config snapshot and shared runtime components.
// Returns: runnable fleet alert service.
type Service struct {
	cfg       config.Config
	logger    *slog.Logger
	closeLog  func()
	alerts    store.AlertStore
	history   store.HistoryStore
	rules     *rules.Provider
	manager   *Manager
	sweeper   *Sweeper
	retention *RetentionSweeper
	httpSrv   *http.Server
	natsSub   interface{ Close() error }
	readyFlag atomic.Bool
	clock     clock.Clock
}

// NewService builds the service instance from a loaded config.
// Params: config snapshot and clock implementation.
// Returns: initialized service or setup error.
func NewService(cfg config.Config, clk clock.Clock) (*Service, error) {
	logger, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	alerts, history, err := buildStores(cfg)
	if err != nil {
		closeLog()
		return nil, err
	}

	ruleSet, err := rules.Load(cfg.Rules.Path, logger)
	if err != nil {
		_ = alerts.Close()
		closeLog()
		return nil, fmt.Errorf("load rules: %w", err)
	}
	provider := rules.NewProvider(ruleSet)

	var notifier Notifier
	dispatcher := notify.NewDispatcher(cfg.Notify, logger)
	if len(dispatcher.Channels()) > 0 {
		notifier = dispatcher
	}

	manager := NewManager(alerts, history, provider, clk, notifier, logger)
	service := &Service{
		cfg:       cfg,
		logger:    logger,
		closeLog:  closeLog,
		alerts:    alerts,
		history:   history,
		rules:     provider,
		manager:   manager,
		sweeper:   NewSweeper(manager, cfg.AutoClose.BatchSize, clk, logger),
		retention: NewRetentionSweeper(manager, cfg.Retention.Days, clk, logger),
		clock:     clk,
	}

	service.buildHTTPServer()
	if err := service.buildNATSSubscriber(); err != nil {
		service.cleanupInitResources()
		return nil, err
	}

	return service, nil
}

// Run starts the service lifecycle and blocks until a shutdown signal.
// Params: root context for the service runtime.
// Returns: terminal run error.
func (s *Service) Run(ctx context.Context) error {
	shutdownCtx, shutdownCancel := context.WithCancel(ctx)
	defer shutdownCancel()

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("http server starting", "listen", s.cfg.HTTP.Listen)
		err := s.httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	if s.cfg.AutoClose.Enabled {
		sweepInterval := time.Duration(s.cfg.AutoClose.IntervalSec) * time.Second
		sweepTicker := time.NewTicker(sweepInterval)
		defer sweepTicker.Stop()
		go func() {
			for {
				select {
				case <-shutdownCtx.Done():
					return
				case <-sweepTicker.C:
					s.sweeper.Sweep(shutdownCtx)
				}
			}
		}()
	}

	if s.cfg.Retention.Enabled {
		retentionInterval := time.Duration(s.cfg.Retention.IntervalSec) * time.Second
		retentionTicker := time.NewTicker(retentionInterval)
		defer retentionTicker.Stop()
		go func() {
			for {
				select {
				case <-shutdownCtx.Done():
					return
				case <-retentionTicker.C:
					s.retention.Sweep(shutdownCtx)
				}
			}
		}()
	}

	if s.cfg.Rules.ReloadEnabled {
		reloadInterval := time.Duration(s.cfg.Rules.ReloadIntervalSec) * time.Second
		reloadTicker := time.NewTicker(reloadInterval)
		defer reloadTicker.Stop()
		go func() {
			for {
				select {
				case <-shutdownCtx.Done():
					return
				case <-reloadTicker.C:
					s.reloadRules()
				}
			}
		}()
	}

	s.readyFlag.Store(true)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		return s.shutdown()
	case err := <-errChan:
		_ = s.shutdown()
		return fmt.Errorf("http server failed: %w", err)
	case <-sigChan:
		return s.shutdown()
	}
}

// reloadRules swaps in a fresh rule snapshot. A failing load keeps the
// previous snapshot active.
// Params: none.
// Returns: none; outcome is logged and counted.
func (s *Service) reloadRules() {
	nextSet, err := rules.Load(s.cfg.Rules.Path, s.logger)
	if err != nil {
		metrics.RuleReloads.WithLabelValues("error").Inc()
		s.logger.Error("rule reload failed, keeping previous snapshot", "path", s.cfg.Rules.Path, "error", err.Error())
		return
	}
	s.rules.Replace(nextSet)
	metrics.RuleReloads.WithLabelValues("ok").Inc()
}

// shutdown closes runtime resources in dependency order.
// Params: none.
// Returns: first close error.
func (s *Service) shutdown() error {
	s.readyFlag.Store(false)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var firstErr error
	markErr := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("http shutdown failed", "error", err.Error())
		markErr(fmt.Errorf("http shutdown: %w", err))
	}
	if s.natsSub != nil {
		if err := s.natsSub.Close(); err != nil {
			s.logger.Error("nats subscriber close failed", "error", err.Error())
			markErr(fmt.Errorf("nats subscriber close: %w", err))
		}
	}
	if err := s.alerts.Close(); err != nil {
		s.logger.Error("store close failed", "error", err.Error())
		markErr(fmt.Errorf("store close: %w", err))
	}
	if s.closeLog != nil {
		s.closeLog()
	}
	return firstErr
}

// cleanupInitResources closes partially initialized resources on startup failures.
// Params: none.
// Returns: all acquired resources closed best-effort.
func (s *Service) cleanupInitResources() {
	if s.natsSub != nil {
		_ = s.natsSub.Close()
		s.natsSub = nil
	}
	if s.httpSrv != nil {
		_ = s.httpSrv.Close()
		s.httpSrv = nil
	}
	if s.alerts != nil {
		_ = s.alerts.Close()
		s.alerts = nil
	}
	if s.closeLog != nil {
		s.closeLog()
		s.closeLog = nil
	}
}

// buildHTTPServer wires the router with API, metrics, and health endpoints.
// Params: none.
// Returns: server stored on the service.
func (s *Service) buildHTTPServer() {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.HTTP.HealthPath, func(writer http.ResponseWriter, _ *http.Request) {
		writer.WriteHeader(http.StatusOK)
		_, _ = writer.Write([]byte("ok"))
	})
	mux.HandleFunc(s.cfg.HTTP.ReadyPath, func(writer http.ResponseWriter, _ *http.Request) {
		if !s.readyFlag.Load() {
			writer.WriteHeader(http.StatusServiceUnavailable)
			_, _ = writer.Write([]byte("not-ready"))
			return
		}
		writer.WriteHeader(http.StatusOK)
		_, _ = writer.Write([]byte("ready"))
	})
	mux.Handle(s.cfg.HTTP.MetricsPath, promhttp.Handler())
	mux.Handle("/api/v1/", ingest.NewAPIHandler(s.manager, s.cfg.HTTP.MaxBodyBytes, s.logger))

	s.httpSrv = &http.Server{
		Addr:              s.cfg.HTTP.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// buildNATSSubscriber starts NATS ingest when enabled.
// Params: none.
// Returns: initialization error.
func (s *Service) buildNATSSubscriber() error {
	if !s.cfg.Ingest.NATS.Enabled {
		return nil
	}
	subscriber, err := ingest.NewNATSSubscriber(s.cfg.Ingest.NATS, s.manager, s.logger)
	if err != nil {
		return err
	}
	s.natsSub = subscriber
	return nil
}

// buildStores creates the persistence backends from config.
// Params: root config snapshot.
// Returns: alert and history stores backed by the selected backend.
func buildStores(cfg config.Config) (store.AlertStore, store.HistoryStore, error) {
	switch cfg.Store.Backend {
	case config.StoreBackendPostgres:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		pg, err := store.OpenPostgres(ctx, cfg.Store.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres store: %w", err)
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			_ = pg.Close()
			return nil, nil, fmt.Errorf("ensure postgres schema: %w", err)
		}
		return pg, pg, nil
	default:
		mem := store.NewMemoryStore()
		return mem, mem, nil
	}
}
