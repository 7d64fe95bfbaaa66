package chain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Receipt is the confirmation state of a broadcast transaction.
type Receipt struct {
	TxHash      common.Hash
	BlockNumber uint64
	Success     bool
}

// Gateway defines the on-chain operations the settlement workflow needs.
// Amounts are stable-token units as decimals; implementations handle the
// conversion to the token's integer representation.
type Gateway interface {
	// BalanceOf returns the stable-token balance of a wallet.
	BalanceOf(ctx context.Context, wallet common.Address) (decimal.Decimal, error)
	// LockEscrow moves amount from the user's wallet into the escrow
	// contract for a lot and returns the transaction hash. The transaction
	// is broadcast, not confirmed.
	LockEscrow(ctx context.Context, userWallet common.Address, lotID int64, amount decimal.Decimal) (common.Hash, error)
	// ReleaseEscrow returns unspent locked funds for a lot to the user.
	ReleaseEscrow(ctx context.Context, lotID int64) (common.Hash, error)
	// Transfer pays amount from the operator wallet to a checker wallet.
	Transfer(ctx context.Context, to common.Address, amount decimal.Decimal) (common.Hash, error)
	// WaitReceipt polls until the transaction is mined or ctx expires.
	WaitReceipt(ctx context.Context, tx common.Hash) (*Receipt, error)
}

// Disabled is the gateway used when chain settlement is turned off. Every
// call reports that the chain is unavailable.
type Disabled struct{}

func (Disabled) BalanceOf(context.Context, common.Address) (decimal.Decimal, error) {
	return decimal.Zero, ErrDisabled
}

func (Disabled) LockEscrow(context.Context, common.Address, int64, decimal.Decimal) (common.Hash, error) {
	return common.Hash{}, ErrDisabled
}

func (Disabled) ReleaseEscrow(context.Context, int64) (common.Hash, error) {
	return common.Hash{}, ErrDisabled
}

func (Disabled) Transfer(context.Context, common.Address, decimal.Decimal) (common.Hash, error) {
	return common.Hash{}, ErrDisabled
}

func (Disabled) WaitReceipt(context.Context, common.Hash) (*Receipt, error) {
	return nil, ErrDisabled
}

const defaultConfirmInterval = 2 * time.Second
