package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"veriflow/internal/config"
	"veriflow/internal/market"
	"veriflow/internal/notifications"
	"veriflow/internal/payout"
	"veriflow/internal/services"
	"veriflow/internal/services/chain"
)

// Settler executes on-chain settlement: locking user escrow before chunks go
// on the market, paying checkers for accepted work, and returning unspent
// funds when a lot closes. Balances are decremented only by confirmed,
// receipted transfers.
type Settler struct {
	store          *market.Store
	gateway        chain.Gateway
	engine         *payout.Engine
	notifier       notifications.Service
	logger         *zap.Logger
	contract       string
	confirmTimeout time.Duration
}

// NewSettler wires a settler from configuration.
func NewSettler(store *market.Store, gateway chain.Gateway, engine *payout.Engine, notifier notifications.Service, cfg *config.Config, logger *zap.Logger) *Settler {
	if logger == nil {
		logger = zap.NewNop()
	}
	confirmTimeout := cfg.Chain.ConfirmTimeoutDuration()
	if confirmTimeout <= 0 {
		confirmTimeout = 2 * time.Minute
	}
	return &Settler{
		store:          store,
		gateway:        gateway,
		engine:         engine,
		notifier:       notifier,
		logger:         logger.Named("escrow"),
		contract:       cfg.Chain.EscrowContract,
		confirmTimeout: confirmTimeout,
	}
}

// CreateEscrow locks funds for a lot. The wallet balance is checked before
// any chain call; the escrow row is persisted before the transaction is
// broadcast and only marked locked once the receipt confirms, so a crash in
// between leaves an auditable created row rather than orphaned funds.
func (s *Settler) CreateEscrow(ctx context.Context, userWallet string, lotID int64) (*market.Escrow, error) {
	if !common.IsHexAddress(userWallet) {
		return nil, services.Wrap(services.ErrValidation, "escrow", "create", fmt.Sprintf("wallet %q is not a hex address", userWallet), nil)
	}
	lot, err := s.store.GetLot(ctx, lotID)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "escrow", "create", "load lot", err)
	}
	if lot == nil {
		return nil, services.Wrap(services.ErrNotFound, "escrow", "create", fmt.Sprintf("lot %d", lotID), nil)
	}

	words, err := s.lotWordCount(ctx, lotID)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "escrow", "create", "sum lot words", err)
	}
	quote, err := s.engine.QuoteEscrow(words)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "escrow", "create", "quote escrow", err)
	}

	wallet := common.HexToAddress(userWallet)
	balance, err := s.gateway.BalanceOf(ctx, wallet)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "escrow", "create", "read wallet balance", err)
	}
	if balance.LessThan(quote.EscrowAmount) {
		return nil, services.Wrap(services.ErrInsufficientFunds, "escrow", "create",
			fmt.Sprintf("wallet holds %s, escrow requires %s", balance, quote.EscrowAmount), nil)
	}

	record := &market.Escrow{
		ID:              uuid.New().String(),
		LotID:           lotID,
		UserWallet:      userWallet,
		AmountStable:    quote.EscrowAmount,
		ContractAddress: s.contract,
		Status:          market.EscrowCreated,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.store.CreateEscrowRecord(ctx, record); err != nil {
		return nil, services.Wrap(services.ErrTransient, "escrow", "create", "persist escrow attempt", err)
	}

	txHash, err := s.gateway.LockEscrow(ctx, wallet, lotID, quote.EscrowAmount)
	if err != nil {
		if markErr := s.store.RecordEscrowAttemptError(ctx, record.ID, err.Error()); markErr != nil {
			s.logger.Error("record broadcast error failed", zap.String("escrow_id", record.ID), zap.Error(markErr))
		}
		return nil, services.Wrap(services.ErrChain, "escrow", "create", "broadcast lock", err)
	}
	record.TxHash = txHash.Hex()
	if _, err := s.store.MarkEscrowBroadcast(ctx, record.ID, record.TxHash); err != nil {
		// The transaction is already on the wire; the row has no hash yet,
		// so return the record for the caller and leave the rest to
		// reconciliation.
		return record, services.Wrap(services.ErrTransient, "escrow", "create",
			fmt.Sprintf("record broadcast tx %s", record.TxHash), err)
	}

	if err := s.confirmEscrow(ctx, record); err != nil {
		return record, err
	}
	return record, nil
}

// ConfirmPending drives broadcast-but-unconfirmed escrows to their terminal
// state. Called from the settlement loop so a crash between broadcast and
// receipt is recovered.
func (s *Settler) ConfirmPending(ctx context.Context, lotID int64) error {
	escrows, err := s.store.EscrowsByLot(ctx, lotID)
	if err != nil {
		return services.Wrap(services.ErrTransient, "escrow", "confirm", "list escrows", err)
	}
	for _, record := range escrows {
		// Attempts that never made it to the wire have nothing to confirm.
		if record.Status != market.EscrowCreated || record.TxHash == "" {
			continue
		}
		if err := s.confirmEscrow(ctx, record); err != nil {
			s.logger.Warn("escrow confirmation failed",
				zap.String("tx_hash", record.TxHash),
				zap.Error(err))
		}
	}
	return nil
}

func (s *Settler) confirmEscrow(ctx context.Context, record *market.Escrow) error {
	waitCtx, cancel := context.WithTimeout(ctx, s.confirmTimeout)
	defer cancel()
	receipt, err := s.gateway.WaitReceipt(waitCtx, common.HexToHash(record.TxHash))
	if err != nil {
		if markErr := s.store.RecordEscrowAttemptError(ctx, record.ID, err.Error()); markErr != nil {
			s.logger.Error("record escrow attempt error failed", zap.String("escrow_id", record.ID), zap.Error(markErr))
		}
		if errors.Is(err, chain.ErrReverted) {
			return services.Wrap(services.ErrChain, "escrow", "confirm", "lock reverted", err)
		}
		return services.Wrap(services.ErrTransient, "escrow", "confirm", "await receipt", err)
	}
	locked, err := s.store.MarkEscrowLocked(ctx, record.ID, time.Now().UTC())
	if err != nil {
		return services.Wrap(services.ErrTransient, "escrow", "confirm", "mark locked", err)
	}
	if locked {
		record.Status = market.EscrowLocked
		s.logger.Info("escrow locked",
			zap.String("tx_hash", record.TxHash),
			zap.Int64("lot_id", record.LotID),
			zap.Uint64("block", receipt.BlockNumber),
			zap.String("amount", record.AmountStable.String()))
	}
	return nil
}

// ReleasePayments pays every pending payout for a lot. Each payout settles in
// isolation: one failure is recorded on that payout and never blocks or
// corrupts its siblings.
func (s *Settler) ReleasePayments(ctx context.Context, lotID int64) (paid, failed int, err error) {
	payouts, err := s.store.PendingPayoutsByLot(ctx, lotID)
	if err != nil {
		return 0, 0, services.Wrap(services.ErrTransient, "escrow", "release", "list pending payouts", err)
	}
	return s.settle(ctx, payouts)
}

// ProcessPayoutBatch pays up to max pending payouts across all lots.
func (s *Settler) ProcessPayoutBatch(ctx context.Context, max int) (paid, failed int, err error) {
	payouts, err := s.store.PendingPayoutsBatch(ctx, max)
	if err != nil {
		return 0, 0, services.Wrap(services.ErrTransient, "escrow", "batch", "list pending payouts", err)
	}
	return s.settle(ctx, payouts)
}

func (s *Settler) settle(ctx context.Context, payouts []*market.Payout) (paid, failed int, err error) {
	for _, row := range payouts {
		if err := ctx.Err(); err != nil {
			return paid, failed, err
		}
		if payErr := s.settleOne(ctx, row); payErr != nil {
			failed++
			s.logger.Warn("payout failed",
				zap.Int64("payout_id", row.ID),
				zap.Int64("chunk_id", row.ChunkID),
				zap.Error(payErr))
			if s.notifier != nil {
				if notifyErr := s.notifier.NotifyError(ctx, payErr, fmt.Sprintf("payout %d", row.ID)); notifyErr != nil {
					s.logger.Warn("payout failure callback failed", zap.Error(notifyErr))
				}
			}
			continue
		}
		paid++
	}
	return paid, failed, nil
}

// settleOne transfers one payout and records the terminal state. The payout
// is marked failed on any chain error; retry is an explicit operator action.
func (s *Settler) settleOne(ctx context.Context, row *market.Payout) error {
	checker, err := s.store.GetChecker(ctx, row.CheckerID)
	if err != nil {
		return services.Wrap(services.ErrTransient, "escrow", "settle", "load checker", err)
	}
	if checker == nil {
		return s.failPayout(ctx, row, services.Wrap(services.ErrNotFound, "escrow", "settle",
			fmt.Sprintf("checker %d", row.CheckerID), nil))
	}
	if !common.IsHexAddress(checker.Wallet) {
		return s.failPayout(ctx, row, services.Wrap(services.ErrValidation, "escrow", "settle",
			fmt.Sprintf("checker wallet %q is not a hex address", checker.Wallet), nil))
	}

	txHash, err := s.gateway.Transfer(ctx, common.HexToAddress(checker.Wallet), row.AmountStable)
	if err != nil {
		return s.failPayout(ctx, row, services.Wrap(services.ErrChain, "escrow", "settle", "broadcast transfer", err))
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.confirmTimeout)
	defer cancel()
	if _, err := s.gateway.WaitReceipt(waitCtx, txHash); err != nil {
		return s.failPayout(ctx, row, services.Wrap(services.ErrChain, "escrow", "settle",
			fmt.Sprintf("transfer %s", txHash.Hex()), err))
	}

	marked, err := s.store.MarkPayoutPaid(ctx, row.ID, txHash.Hex())
	if err != nil {
		return services.Wrap(services.ErrTransient, "escrow", "settle", "mark paid", err)
	}
	if !marked {
		// Someone else settled it between our read and write. The
		// transfer still happened; flag loudly for reconciliation.
		s.logger.Error("payout no longer pending after confirmed transfer",
			zap.Int64("payout_id", row.ID),
			zap.String("tx_hash", txHash.Hex()))
		return nil
	}
	s.logger.Info("payout paid",
		zap.Int64("payout_id", row.ID),
		zap.Int64("checker_id", row.CheckerID),
		zap.String("tx_hash", txHash.Hex()),
		zap.String("amount", row.AmountStable.String()))
	return nil
}

func (s *Settler) failPayout(ctx context.Context, row *market.Payout, cause error) error {
	if _, err := s.store.MarkPayoutFailed(ctx, row.ID, cause.Error()); err != nil {
		s.logger.Error("mark payout failed errored", zap.Int64("payout_id", row.ID), zap.Error(err))
	}
	return cause
}

// CloseLot returns unspent escrow for a completed lot to the user. Pending
// payouts must settle first. A lot that never paid anything out gets its lock
// recorded as a refund rather than a release.
func (s *Settler) CloseLot(ctx context.Context, lotID int64) error {
	pending, err := s.store.PendingPayoutsByLot(ctx, lotID)
	if err != nil {
		return services.Wrap(services.ErrTransient, "escrow", "close", "list pending payouts", err)
	}
	if len(pending) > 0 {
		return services.Wrap(services.ErrConflict, "escrow", "close",
			fmt.Sprintf("%d payouts still pending", len(pending)), nil)
	}

	escrows, err := s.store.EscrowsByLot(ctx, lotID)
	if err != nil {
		return services.Wrap(services.ErrTransient, "escrow", "close", "list escrows", err)
	}
	var locked []*market.Escrow
	for _, record := range escrows {
		if record.Status == market.EscrowLocked {
			locked = append(locked, record)
		}
	}
	if len(locked) == 0 {
		return nil
	}

	anyPaid, err := s.store.HasPaidPayouts(ctx, lotID)
	if err != nil {
		return services.Wrap(services.ErrTransient, "escrow", "close", "count paid payouts", err)
	}

	txHash, err := s.gateway.ReleaseEscrow(ctx, lotID)
	if err != nil {
		return services.Wrap(services.ErrChain, "escrow", "close", "broadcast release", err)
	}
	waitCtx, cancel := context.WithTimeout(ctx, s.confirmTimeout)
	defer cancel()
	if _, err := s.gateway.WaitReceipt(waitCtx, txHash); err != nil {
		return services.Wrap(services.ErrChain, "escrow", "close", fmt.Sprintf("release %s", txHash.Hex()), err)
	}

	for _, record := range locked {
		if anyPaid {
			if _, err := s.store.MarkEscrowReleased(ctx, record.ID); err != nil {
				return services.Wrap(services.ErrTransient, "escrow", "close", "mark released", err)
			}
		} else {
			if _, err := s.store.MarkEscrowRefunded(ctx, record.ID); err != nil {
				return services.Wrap(services.ErrTransient, "escrow", "close", "mark refunded", err)
			}
		}
	}
	s.logger.Info("lot escrow closed",
		zap.Int64("lot_id", lotID),
		zap.String("tx_hash", txHash.Hex()),
		zap.Bool("refunded", !anyPaid))
	return nil
}

// Quote estimates the escrow needed for a document of the given word count.
func (s *Settler) Quote(wordCount int) (payout.Quote, error) {
	return s.engine.QuoteEscrow(wordCount)
}

func (s *Settler) lotWordCount(ctx context.Context, lotID int64) (int, error) {
	chunks, err := s.store.ChunksByLot(ctx, lotID)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, chunk := range chunks {
		total += chunk.WordCount
	}
	if total == 0 {
		return 0, errors.New("lot has no chunk content")
	}
	return total, nil
}
