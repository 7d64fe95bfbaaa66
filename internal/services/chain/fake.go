package chain

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// FakeCall records one gateway invocation for assertions.
type FakeCall struct {
	Method string
	To     common.Address
	LotID  int64
	Amount decimal.Decimal
}

// Fake is an in-memory Gateway for tests. Every broadcast succeeds and is
// immediately minable unless an error is queued for the method.
type Fake struct {
	mu       sync.Mutex
	balances map[common.Address]decimal.Decimal
	receipts map[common.Hash]*Receipt
	failures map[string]error
	calls    []FakeCall
}

// NewFake returns an empty fake gateway.
func NewFake() *Fake {
	return &Fake{
		balances: make(map[common.Address]decimal.Decimal),
		receipts: make(map[common.Hash]*Receipt),
		failures: make(map[string]error),
	}
}

// SetBalance seeds a wallet balance.
func (f *Fake) SetBalance(wallet common.Address, amount decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[wallet] = amount
}

// FailNext makes the named method ("LockEscrow", "Transfer", ...) return err
// until cleared with a nil err.
func (f *Fake) FailNext(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failures, method)
		return
	}
	f.failures[method] = err
}

// Calls returns a copy of the recorded invocations.
func (f *Fake) Calls() []FakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]FakeCall, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *Fake) BalanceOf(_ context.Context, wallet common.Address) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failures["BalanceOf"]; err != nil {
		return decimal.Zero, err
	}
	return f.balances[wallet], nil
}

func (f *Fake) LockEscrow(_ context.Context, userWallet common.Address, lotID int64, amount decimal.Decimal) (common.Hash, error) {
	return f.broadcast("LockEscrow", FakeCall{Method: "LockEscrow", To: userWallet, LotID: lotID, Amount: amount})
}

func (f *Fake) ReleaseEscrow(_ context.Context, lotID int64) (common.Hash, error) {
	return f.broadcast("ReleaseEscrow", FakeCall{Method: "ReleaseEscrow", LotID: lotID})
}

func (f *Fake) Transfer(_ context.Context, to common.Address, amount decimal.Decimal) (common.Hash, error) {
	return f.broadcast("Transfer", FakeCall{Method: "Transfer", To: to, Amount: amount})
}

func (f *Fake) WaitReceipt(ctx context.Context, tx common.Hash) (*Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failures["WaitReceipt"]; err != nil {
		return nil, err
	}
	receipt, ok := f.receipts[tx]
	if !ok {
		return nil, fmt.Errorf("fake gateway: unknown transaction %s", tx.Hex())
	}
	if !receipt.Success {
		return receipt, ErrReverted
	}
	return receipt, nil
}

// RevertTx marks a broadcast transaction as reverted.
func (f *Fake) RevertTx(tx common.Hash) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if receipt, ok := f.receipts[tx]; ok {
		receipt.Success = false
	}
}

func (f *Fake) broadcast(method string, call FakeCall) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failures[method]; err != nil {
		return common.Hash{}, err
	}
	var hash common.Hash
	if _, err := rand.Read(hash[:]); err != nil {
		return common.Hash{}, err
	}
	f.calls = append(f.calls, call)
	f.receipts[hash] = &Receipt{TxHash: hash, BlockNumber: uint64(len(f.calls)), Success: true}
	return hash, nil
}
