package daemon_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"go.uber.org/zap"

	"veriflow/internal/api"
	"veriflow/internal/daemon"
	"veriflow/internal/escrow"
	"veriflow/internal/lease"
	"veriflow/internal/notifications"
	"veriflow/internal/payout"
	"veriflow/internal/services/chain"
	"veriflow/internal/submission"
	"veriflow/internal/testsupport"
	"veriflow/internal/workflow"
)

func newDaemon(t *testing.T) *daemon.Daemon {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	store := testsupport.MustOpenStore(t, cfg)
	logger := zap.NewNop()

	engine, err := payout.NewEngine(cfg, payout.FlatRate(cfg.Payout.RatePence))
	if err != nil {
		t.Fatalf("payout.NewEngine: %v", err)
	}
	notifier := notifications.NewService(cfg)
	leases := lease.NewManager(store, cfg, logger)
	processor := submission.NewProcessor(store, engine, notifier, cfg, logger)
	settler := escrow.NewSettler(store, chain.NewFake(), engine, notifier, cfg, logger)
	manager := workflow.NewManager(cfg, store, leases, settler, notifier, logger)
	server := api.NewServer(cfg, store, leases, processor, settler, engine, manager, "test", logger)

	d, err := daemon.New(cfg, store, logger, manager, server.Router())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	return d
}

func TestDaemonStartStop(t *testing.T) {
	d := newDaemon(t)
	t.Cleanup(func() {
		d.Stop()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	status := d.Status()
	if !status.Running || !status.WorkflowRunning {
		t.Fatalf("status = %+v, want running", status)
	}

	// Second start should fail.
	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	resp, err := http.Get("http://" + d.APIAddress() + "/api/status")
	if err != nil {
		t.Fatalf("api request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("api status = %d", resp.StatusCode)
	}

	d.Stop()
	time.Sleep(50 * time.Millisecond)
	if d.Status().Running {
		t.Fatal("expected daemon to be stopped")
	}
}

func TestDaemonStopWithoutStart(t *testing.T) {
	d := newDaemon(t)
	d.Stop()
	if d.Status().Running {
		t.Fatal("daemon should not report running")
	}
}
