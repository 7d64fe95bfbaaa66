package testsupport

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"veriflow/internal/market"
)

// FundLot records a confirmed locked escrow for a lot so payouts have headroom.
func FundLot(t testing.TB, store *market.Store, lotID int64, amount decimal.Decimal) *market.Escrow {
	t.Helper()

	escrow := &market.Escrow{
		ID:              fmt.Sprintf("escrow-%d", lotID),
		TxHash:          fmt.Sprintf("0xescrow%d", lotID),
		LotID:           lotID,
		UserWallet:      "0x00000000000000000000000000000000000000aa",
		AmountStable:    amount,
		ContractAddress: "0x00000000000000000000000000000000000000bb",
	}
	ctx := context.Background()
	if err := store.CreateEscrowRecord(ctx, escrow); err != nil {
		t.Fatalf("store.CreateEscrowRecord: %v", err)
	}
	locked, err := store.MarkEscrowLocked(ctx, escrow.ID, time.Now())
	if err != nil || !locked {
		t.Fatalf("store.MarkEscrowLocked: locked=%v err=%v", locked, err)
	}
	escrow.Status = market.EscrowLocked
	return escrow
}
