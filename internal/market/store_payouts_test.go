package market_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"veriflow/internal/market"
	"veriflow/internal/testsupport"
)

func acceptChunk(t *testing.T, store *market.Store, chunkID, checkerID int64) *market.Payout {
	t.Helper()
	ctx := context.Background()
	if _, err := store.ClaimChunk(ctx, chunkID, checkerID, time.Now()); err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if _, err := store.RecordSubmission(ctx, submitParams(chunkID, checkerID, true)); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	payout, err := store.PayoutByChunk(ctx, chunkID)
	if err != nil || payout == nil {
		t.Fatalf("payout lookup failed: payout=%v err=%v", payout, err)
	}
	return payout
}

func TestPayoutStatusTransitions(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	lot := testsupport.NewLot(t, store, "0x01", 1)
	checker := testsupport.NewChecker(t, store, "0xc1")
	testsupport.FundLot(t, store, lot.ID, decimal.RequireFromString("10"))
	chunks, _ := store.ChunksByLot(ctx, lot.ID)
	payout := acceptChunk(t, store, chunks[0].ID, checker.ID)

	ok, err := store.MarkPayoutFailed(ctx, payout.ID, "rpc timeout")
	if err != nil || !ok {
		t.Fatalf("MarkPayoutFailed: ok=%v err=%v", ok, err)
	}
	failed, _ := store.GetPayout(ctx, payout.ID)
	if failed.Status != market.PayoutFailed || failed.ErrorMessage != "rpc timeout" {
		t.Fatalf("unexpected failed payout %+v", failed)
	}

	// Paid requires pending; a failed payout must go through retry first.
	ok, err = store.MarkPayoutPaid(ctx, payout.ID, "0xtx1")
	if err != nil {
		t.Fatalf("MarkPayoutPaid failed: %v", err)
	}
	if ok {
		t.Fatal("failed payout must not move straight to paid")
	}

	ok, err = store.RetryPayout(ctx, payout.ID)
	if err != nil || !ok {
		t.Fatalf("RetryPayout: ok=%v err=%v", ok, err)
	}
	ok, err = store.MarkPayoutPaid(ctx, payout.ID, "0xtx1")
	if err != nil || !ok {
		t.Fatalf("MarkPayoutPaid: ok=%v err=%v", ok, err)
	}

	paid, _ := store.GetPayout(ctx, payout.ID)
	if paid.Status != market.PayoutPaid {
		t.Fatalf("expected paid, got %s", paid.Status)
	}
	if paid.TxHash != "0xtx1" {
		t.Fatalf("expected tx hash recorded, got %q", paid.TxHash)
	}
	if paid.PaidAt == nil {
		t.Fatal("expected paid timestamp")
	}

	// Terminal: no retry, no second payment.
	if ok, _ := store.RetryPayout(ctx, payout.ID); ok {
		t.Fatal("paid payout must not retry")
	}
	if ok, _ := store.MarkPayoutPaid(ctx, payout.ID, "0xtx2"); ok {
		t.Fatal("paid payout must not pay twice")
	}
}

func TestPendingPayoutsBatch(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	lot := testsupport.NewLot(t, store, "0x01", 3)
	checker := testsupport.NewChecker(t, store, "0xc1")
	testsupport.FundLot(t, store, lot.ID, decimal.RequireFromString("10"))
	chunks, _ := store.ChunksByLot(ctx, lot.ID)
	for _, chunk := range chunks {
		acceptChunk(t, store, chunk.ID, checker.ID)
	}

	batch, err := store.PendingPayoutsBatch(ctx, 2)
	if err != nil {
		t.Fatalf("PendingPayoutsBatch failed: %v", err)
	}
	if len(batch) != 2 {
		t.Fatalf("expected batch of 2, got %d", len(batch))
	}

	byLot, err := store.PendingPayoutsByLot(ctx, lot.ID)
	if err != nil {
		t.Fatalf("PendingPayoutsByLot failed: %v", err)
	}
	if len(byLot) != 3 {
		t.Fatalf("expected 3 pending payouts, got %d", len(byLot))
	}
}

func TestEarningsForChecker(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	lot := testsupport.NewLot(t, store, "0x01", 3)
	checker := testsupport.NewChecker(t, store, "0xc1")
	testsupport.FundLot(t, store, lot.ID, decimal.RequireFromString("10"))
	chunks, _ := store.ChunksByLot(ctx, lot.ID)

	paid := acceptChunk(t, store, chunks[0].ID, checker.ID)
	failed := acceptChunk(t, store, chunks[1].ID, checker.ID)
	acceptChunk(t, store, chunks[2].ID, checker.ID)

	if ok, _ := store.MarkPayoutPaid(ctx, paid.ID, "0xtx1"); !ok {
		t.Fatal("MarkPayoutPaid should succeed")
	}
	if ok, _ := store.MarkPayoutFailed(ctx, failed.ID, "gas spike"); !ok {
		t.Fatal("MarkPayoutFailed should succeed")
	}

	earnings, err := store.EarningsForChecker(ctx, checker.ID)
	if err != nil {
		t.Fatalf("EarningsForChecker failed: %v", err)
	}
	if !earnings.TotalPaidStable.Equal(decimal.RequireFromString("0.228600")) {
		t.Fatalf("unexpected paid total %s", earnings.TotalPaidStable)
	}
	if earnings.PendingPayoutCount != 1 {
		t.Fatalf("expected 1 pending, got %d", earnings.PendingPayoutCount)
	}
	if earnings.FailedPayoutCount != 1 {
		t.Fatalf("expected 1 failed, got %d", earnings.FailedPayoutCount)
	}
}

func TestEscrowLifecycle(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	lot := testsupport.NewLot(t, store, "0x01", 1)
	escrow := &market.Escrow{
		ID:              "escrow-attempt-1",
		LotID:           lot.ID,
		UserWallet:      "0x01",
		AmountStable:    decimal.RequireFromString("1.50"),
		ContractAddress: "0xcontract",
		Status:          market.EscrowCreated,
		CreatedAt:       time.Now().UTC(),
	}
	if err := store.CreateEscrowRecord(ctx, escrow); err != nil {
		t.Fatalf("CreateEscrowRecord failed: %v", err)
	}

	// The attempt row exists before any transaction hash does, and the
	// funds are not spendable yet.
	got, err := store.GetEscrow(ctx, escrow.ID)
	if err != nil || got == nil {
		t.Fatalf("GetEscrow: got=%v err=%v", got, err)
	}
	if got.TxHash != "" {
		t.Fatalf("expected no tx hash before broadcast, got %q", got.TxHash)
	}
	total, err := store.LockedEscrowTotal(ctx, lot.ID)
	if err != nil {
		t.Fatalf("LockedEscrowTotal failed: %v", err)
	}
	if !total.IsZero() {
		t.Fatalf("expected zero locked total before confirmation, got %s", total)
	}

	if err := store.RecordEscrowAttemptError(ctx, escrow.ID, "receipt not yet available"); err != nil {
		t.Fatalf("RecordEscrowAttemptError failed: %v", err)
	}

	// The hash lands at broadcast and is write-once.
	ok, err := store.MarkEscrowBroadcast(ctx, escrow.ID, "0xescrow1")
	if err != nil || !ok {
		t.Fatalf("MarkEscrowBroadcast: ok=%v err=%v", ok, err)
	}
	if ok, _ := store.MarkEscrowBroadcast(ctx, escrow.ID, "0xother"); ok {
		t.Fatal("broadcast hash must not be overwritten")
	}
	byHash, err := store.GetEscrowByTxHash(ctx, "0xescrow1")
	if err != nil || byHash == nil || byHash.ID != escrow.ID {
		t.Fatalf("GetEscrowByTxHash: got=%v err=%v", byHash, err)
	}
	if byHash.LastError != "receipt not yet available" {
		t.Fatalf("expected recorded attempt error, got %q", byHash.LastError)
	}

	ok, err = store.MarkEscrowLocked(ctx, escrow.ID, time.Now())
	if err != nil || !ok {
		t.Fatalf("MarkEscrowLocked: ok=%v err=%v", ok, err)
	}
	total, _ = store.LockedEscrowTotal(ctx, lot.ID)
	if !total.Equal(decimal.RequireFromString("1.50")) {
		t.Fatalf("expected 1.50 locked, got %s", total)
	}
	got, _ = store.GetEscrow(ctx, escrow.ID)
	if got.LastError != "" {
		t.Fatalf("locking must clear the attempt error, got %q", got.LastError)
	}

	// Locking again is a no-op, as is releasing twice.
	if ok, _ := store.MarkEscrowLocked(ctx, escrow.ID, time.Now()); ok {
		t.Fatal("locked escrow must not lock again")
	}
	ok, err = store.MarkEscrowReleased(ctx, escrow.ID)
	if err != nil || !ok {
		t.Fatalf("MarkEscrowReleased: ok=%v err=%v", ok, err)
	}
	if ok, _ := store.MarkEscrowReleased(ctx, escrow.ID); ok {
		t.Fatal("released escrow must not release again")
	}

	got, err = store.GetEscrow(ctx, escrow.ID)
	if err != nil {
		t.Fatalf("GetEscrow failed: %v", err)
	}
	if got.Status != market.EscrowReleased {
		t.Fatalf("expected released, got %s", got.Status)
	}
}

func TestRateLotCheckers(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	lot := testsupport.NewLot(t, store, "0x01", 2)
	first := testsupport.NewChecker(t, store, "0xc1")
	second := testsupport.NewChecker(t, store, "0xc2")
	testsupport.FundLot(t, store, lot.ID, decimal.RequireFromString("10"))
	chunks, _ := store.ChunksByLot(ctx, lot.ID)

	acceptChunk(t, store, chunks[0].ID, first.ID)
	acceptChunk(t, store, chunks[1].ID, second.ID)

	rated, err := store.RateLotCheckers(ctx, lot.ID, 4)
	if err != nil {
		t.Fatalf("RateLotCheckers failed: %v", err)
	}
	if rated != 2 {
		t.Fatalf("expected 2 checkers rated, got %d", rated)
	}

	got, _ := store.GetChecker(ctx, first.ID)
	if got.RatingCount != 1 || got.AverageRating() != 4 {
		t.Fatalf("unexpected rating state %+v", got)
	}

	// A second approval pass folds into the running average.
	if _, err := store.RateLotCheckers(ctx, lot.ID, 5); err != nil {
		t.Fatalf("second RateLotCheckers failed: %v", err)
	}
	got, _ = store.GetChecker(ctx, first.ID)
	if got.RatingCount != 2 || got.AverageRating() != 4.5 {
		t.Fatalf("unexpected rating state %+v", got)
	}

	// A lot with no payouts rates nobody.
	empty := testsupport.NewLot(t, store, "0x02", 1)
	rated, err = store.RateLotCheckers(ctx, empty.ID, 3)
	if err != nil || rated != 0 {
		t.Fatalf("expected 0 rated for empty lot, got %d err=%v", rated, err)
	}
}

func TestHealthSummary(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	lot := testsupport.NewLot(t, store, "0x01", 3)
	checker := testsupport.NewChecker(t, store, "0xc1")
	testsupport.FundLot(t, store, lot.ID, decimal.RequireFromString("10"))
	chunks, _ := store.ChunksByLot(ctx, lot.ID)

	acceptChunk(t, store, chunks[0].ID, checker.ID)
	if _, err := store.ClaimChunk(ctx, chunks[1].ID, checker.ID, time.Now()); err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	health, err := store.Health(ctx)
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if health.TotalChunks != 3 || health.Open != 1 || health.Checking != 1 || health.Done != 1 {
		t.Fatalf("unexpected health %+v", health)
	}
	if health.PendingPay != 1 {
		t.Fatalf("expected 1 pending payout, got %d", health.PendingPay)
	}
}
