package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"veriflow/internal/config"
	"veriflow/internal/market"
	"veriflow/internal/workflow"
)

// Daemon coordinates the background settlement services and the HTTP API, and
// enforces single-instance execution through a lock file.
type Daemon struct {
	cfg      *config.Config
	logger   *zap.Logger
	store    *market.Store
	workflow *workflow.Manager
	handler  http.Handler

	lockPath string
	lock     *flock.Flock

	listener net.Listener
	server   *http.Server

	running atomic.Bool
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running         bool
	WorkflowRunning bool
	WorkflowError   string
	MarketDBPath    string
	LockFilePath    string
	APIAddress      string
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *market.Store, logger *zap.Logger, wf *workflow.Manager, handler http.Handler) (*Daemon, error) {
	if cfg == nil || store == nil || logger == nil || wf == nil || handler == nil {
		return nil, errors.New("daemon requires config, store, logger, workflow manager, and api handler")
	}

	lockPath := filepath.Join(cfg.Paths.LogDir, "veriflowd.lock")
	return &Daemon{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		workflow: wf,
		handler:  handler,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the daemon lock, launches the workflow manager, and begins
// serving the API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another veriflow daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.workflow.Start(runCtx); err != nil {
		_ = d.lock.Unlock()
		cancel()
		return fmt.Errorf("start workflow: %w", err)
	}

	if err := d.startAPI(runCtx); err != nil {
		d.workflow.Stop()
		_ = d.lock.Unlock()
		cancel()
		return err
	}

	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("veriflow daemon started",
		zap.String("lock", d.lockPath),
		zap.String("api", d.APIAddress()))
	return nil
}

func (d *Daemon) startAPI(ctx context.Context) error {
	listener, err := net.Listen("tcp", d.cfg.Paths.APIBind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	d.listener = listener
	server := &http.Server{
		Handler:           d.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	d.server = server

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.logger.Error("api server error", zap.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	d.logger.Info("api server listening", zap.String("address", listener.Addr().String()))
	return nil
}

// Stop stops background processing, shuts the API down, and releases the lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = d.server.Shutdown(shutdownCtx)
		cancel()
		d.server = nil
	}
	if d.listener != nil {
		_ = d.listener.Close()
		d.listener = nil
	}
	d.workflow.Stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", zap.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("veriflow daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// APIAddress returns the bound API address, or the configured bind when the
// daemon is not listening.
func (d *Daemon) APIAddress() string {
	if d.listener != nil {
		return d.listener.Addr().String()
	}
	return d.cfg.Paths.APIBind
}

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	status := Status{
		Running:         d.running.Load(),
		WorkflowRunning: d.workflow.Running(),
		MarketDBPath:    d.store.Path(),
		LockFilePath:    d.lockPath,
		APIAddress:      d.APIAddress(),
	}
	if err := d.workflow.LastError(); err != nil {
		status.WorkflowError = err.Error()
	}
	return status
}
