package workflow_test

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"veriflow/internal/config"
	"veriflow/internal/escrow"
	"veriflow/internal/lease"
	"veriflow/internal/market"
	"veriflow/internal/payout"
	"veriflow/internal/services/chain"
	"veriflow/internal/testsupport"
	"veriflow/internal/workflow"
)

type fixture struct {
	cfg     *config.Config
	store   *market.Store
	gateway *chain.Fake
	manager *workflow.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	cfg.Workflow.SweepInterval = 1
	cfg.Workflow.SettleInterval = 1
	cfg.Workflow.ErrorRetryInterval = 1
	store := testsupport.MustOpenStore(t, cfg)
	engine, err := payout.NewEngine(cfg, nil)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	gateway := chain.NewFake()
	leases := lease.NewManager(store, cfg, nil)
	settler := escrow.NewSettler(store, gateway, engine, nil, cfg, nil)
	return &fixture{
		cfg:     cfg,
		store:   store,
		gateway: gateway,
		manager: workflow.NewManager(cfg, store, leases, settler, nil, nil),
	}
}

func waitFor(t *testing.T, timeout time.Duration, check func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not reached before timeout")
}

func TestStartStopLifecycle(t *testing.T) {
	f := newFixture(t)

	if err := f.manager.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !f.manager.Running() {
		t.Fatal("manager should report running")
	}
	if err := f.manager.Start(context.Background()); err == nil {
		t.Fatal("second Start must fail")
	}
	f.manager.Stop()
	if f.manager.Running() {
		t.Fatal("manager should report stopped")
	}
	// Stop again is a noop.
	f.manager.Stop()
}

func TestSweepLoopReclaimsExpiredLeases(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	lot := testsupport.NewLot(t, f.store, "0x01", 1)
	checker := testsupport.NewChecker(t, f.store, "0xc1")
	chunks, _ := f.store.ChunksByLot(ctx, lot.ID)
	if ok, err := f.store.ClaimChunk(ctx, chunks[0].ID, checker.ID, time.Now().Add(-30*time.Minute)); err != nil || !ok {
		t.Fatalf("plant stale lease: ok=%v err=%v", ok, err)
	}

	if err := f.manager.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer f.manager.Stop()

	waitFor(t, 5*time.Second, func() bool {
		chunk, err := f.store.GetChunk(ctx, chunks[0].ID)
		return err == nil && chunk.Status == market.ChunkOpen
	})
}

func TestSettleLoopPaysAndClosesLot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	userWallet := "0x00000000000000000000000000000000000000a1"
	lot := testsupport.NewLot(t, f.store, userWallet, 1)
	checker := testsupport.NewChecker(t, f.store, "0x00000000000000000000000000000000000000c1")
	funded := testsupport.FundLot(t, f.store, lot.ID, decimal.RequireFromString("10"))
	f.gateway.SetBalance(common.HexToAddress(userWallet), decimal.RequireFromString("100"))

	chunks, _ := f.store.ChunksByLot(ctx, lot.ID)
	if ok, err := f.store.ClaimChunk(ctx, chunks[0].ID, checker.ID, time.Now()); err != nil || !ok {
		t.Fatalf("claim: ok=%v err=%v", ok, err)
	}
	outcome, err := f.store.RecordSubmission(ctx, market.SubmissionParams{
		ChunkID:      chunks[0].ID,
		CheckerID:    checker.ID,
		Approved:     true,
		AmountPence:  18,
		AmountStable: decimal.RequireFromString("0.2286"),
	})
	if err != nil {
		t.Fatalf("record submission: %v", err)
	}
	if !outcome.LotAdvanced {
		t.Fatal("lot should need approval")
	}
	if ok, err := f.store.ApproveLot(ctx, lot.ID); err != nil || !ok {
		t.Fatalf("approve lot: ok=%v err=%v", ok, err)
	}

	if err := f.manager.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer f.manager.Stop()

	waitFor(t, 10*time.Second, func() bool {
		row, err := f.store.PayoutByChunk(ctx, chunks[0].ID)
		if err != nil || row == nil || row.Status != market.PayoutPaid {
			return false
		}
		stored, err := f.store.GetEscrow(ctx, funded.ID)
		return err == nil && stored.Status == market.EscrowReleased
	})
}
