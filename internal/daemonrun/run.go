// Package daemonrun bootstraps the veriflow daemon process: configuration,
// logging, storage, the chain gateway, and the workflow manager.
package daemonrun

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"go.uber.org/zap"

	"veriflow/internal/api"
	"veriflow/internal/config"
	"veriflow/internal/daemon"
	"veriflow/internal/escrow"
	"veriflow/internal/lease"
	"veriflow/internal/logging"
	"veriflow/internal/market"
	"veriflow/internal/notifications"
	"veriflow/internal/payout"
	"veriflow/internal/services/chain"
	"veriflow/internal/submission"
	"veriflow/internal/workflow"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel string
	Version  string
}

// Run starts the veriflow daemon runtime loop and blocks until SIGINT or
// SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("create directories: %w", err)
	}

	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	pidPath := filepath.Join(cfg.Paths.LogDir, "veriflow.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	store, err := market.Open(cfg)
	if err != nil {
		logger.Error("open market store", zap.Error(err))
		return err
	}
	defer store.Close()

	engine, err := payout.NewEngine(cfg, payout.FlatRate(cfg.Payout.RatePence))
	if err != nil {
		return fmt.Errorf("init payout engine: %w", err)
	}

	gateway, err := buildGateway(cfg, logger)
	if err != nil {
		return err
	}

	notifier := notifications.NewService(cfg)
	leases := lease.NewManager(store, cfg, logger)
	processor := submission.NewProcessor(store, engine, notifier, cfg, logger)
	settler := escrow.NewSettler(store, gateway, engine, notifier, cfg, logger)
	manager := workflow.NewManager(cfg, store, leases, settler, notifier, logger)
	server := api.NewServer(cfg, store, leases, processor, settler, engine, manager, opts.Version, logger)

	d, err := daemon.New(cfg, store, logger, manager, server.Router())
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logger.Error("daemon start failed", zap.Error(err))
		return err
	}

	<-signalCtx.Done()
	logger.Info("veriflow daemon shutting down")
	return nil
}

// buildGateway returns the JSON-RPC escrow gateway when chain settlement is
// enabled, or the disabled stand-in otherwise.
func buildGateway(cfg *config.Config, logger *zap.Logger) (chain.Gateway, error) {
	if !cfg.Chain.Enabled {
		logger.Warn("chain settlement disabled; escrow and payout operations will be rejected")
		return chain.Disabled{}, nil
	}
	client, err := chain.NewClient(cfg.Chain, cfg.Payout.StableDecimals)
	if err != nil {
		return nil, fmt.Errorf("init chain gateway: %w", err)
	}
	return client, nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
