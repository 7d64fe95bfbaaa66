package market

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// GetPayout fetches a payout by identifier. Returns nil when not found.
func (s *Store) GetPayout(ctx context.Context, id int64) (*Payout, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+payoutColumns+` FROM checker_payouts WHERE id = ?`, id)
	payout, err := scanPayout(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get payout: %w", err)
	}
	return payout, nil
}

// PayoutByChunk fetches the payout for a chunk, or nil.
func (s *Store) PayoutByChunk(ctx context.Context, chunkID int64) (*Payout, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+payoutColumns+` FROM checker_payouts WHERE chunk_id = ?`, chunkID)
	payout, err := scanPayout(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("payout by chunk: %w", err)
	}
	return payout, nil
}

// PendingPayoutsByLot returns every pending payout tied to a lot, oldest first.
func (s *Store) PendingPayoutsByLot(ctx context.Context, lotID int64) ([]*Payout, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+payoutColumns+` FROM checker_payouts WHERE lot_id = ? AND status = ? ORDER BY created_at`,
		lotID, PayoutPending,
	)
	if err != nil {
		return nil, fmt.Errorf("pending payouts by lot: %w", err)
	}
	defer rows.Close()
	return collectPayouts(rows)
}

// PendingPayoutsBatch returns pending payouts across lots, bounded by max so
// the processing transaction stays short.
func (s *Store) PendingPayoutsBatch(ctx context.Context, max int) ([]*Payout, error) {
	if max <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+payoutColumns+` FROM checker_payouts WHERE status = ? ORDER BY created_at LIMIT ?`,
		PayoutPending, max,
	)
	if err != nil {
		return nil, fmt.Errorf("pending payouts batch: %w", err)
	}
	defer rows.Close()
	return collectPayouts(rows)
}

// ListPayouts returns payouts filtered by status set (or all when none given).
func (s *Store) ListPayouts(ctx context.Context, statuses ...PayoutStatus) ([]*Payout, error) {
	baseQuery := `SELECT ` + payoutColumns + ` FROM checker_payouts`
	orderClause := ` ORDER BY created_at`

	var (
		rows *sql.Rows
		err  error
	)
	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		rows, err = s.db.QueryContext(ctx, baseQuery+` WHERE status IN (`+placeholders+`)`+orderClause, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list payouts: %w", err)
	}
	defer rows.Close()
	return collectPayouts(rows)
}

// MarkPayoutPaid settles a payout. Conditional on pending so a duplicate
// release pass cannot double-record.
func (s *Store) MarkPayoutPaid(ctx context.Context, id int64, txHash string) (bool, error) {
	now := timestamp(time.Now())
	res, err := s.execWithRetry(ctx,
		`UPDATE checker_payouts SET status = ?, tx_hash = ?, error_message = NULL, paid_at = ?
         WHERE id = ? AND status = ?`,
		PayoutPaid, txHash, now, id, PayoutPending,
	)
	if err != nil {
		return false, fmt.Errorf("mark payout paid: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// MarkPayoutFailed records a settlement failure with its error. No automatic
// retry follows; a failed payout waits for an explicit re-drive.
func (s *Store) MarkPayoutFailed(ctx context.Context, id int64, message string) (bool, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE checker_payouts SET status = ?, error_message = ? WHERE id = ? AND status = ?`,
		PayoutFailed, message, id, PayoutPending,
	)
	if err != nil {
		return false, fmt.Errorf("mark payout failed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// RetryPayout re-drives a failed payout back to pending.
func (s *Store) RetryPayout(ctx context.Context, id int64) (bool, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE checker_payouts SET status = ?, error_message = NULL WHERE id = ? AND status = ?`,
		PayoutPending, id, PayoutFailed,
	)
	if err != nil {
		return false, fmt.Errorf("retry payout: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// HasPaidPayouts reports whether any payout for the lot settled on-chain.
func (s *Store) HasPaidPayouts(ctx context.Context, lotID int64) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM checker_payouts WHERE lot_id = ? AND status = ?`,
		lotID, PayoutPaid,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("count paid payouts: %w", err)
	}
	return count > 0, nil
}

// CheckerEarnings aggregates settlement totals for one checker.
type CheckerEarnings struct {
	TotalPaidStable    decimal.Decimal
	PendingPayoutCount int
	FailedPayoutCount  int
}

// EarningsForChecker sums paid amounts and counts outstanding payouts.
func (s *Store) EarningsForChecker(ctx context.Context, checkerID int64) (*CheckerEarnings, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT amount_stable FROM checker_payouts WHERE checker_id = ? AND status = ?`,
		checkerID, PayoutPaid,
	)
	if err != nil {
		return nil, fmt.Errorf("query paid payouts: %w", err)
	}
	paid, err := sumAmounts(rows)
	if err != nil {
		return nil, err
	}

	earnings := &CheckerEarnings{TotalPaidStable: paid}
	err = s.db.QueryRowContext(ctx,
		`SELECT
            COUNT(CASE WHEN status = ? THEN 1 END),
            COUNT(CASE WHEN status = ? THEN 1 END)
         FROM checker_payouts WHERE checker_id = ?`,
		PayoutPending, PayoutFailed, checkerID,
	).Scan(&earnings.PendingPayoutCount, &earnings.FailedPayoutCount)
	if err != nil {
		return nil, fmt.Errorf("count payouts: %w", err)
	}
	return earnings, nil
}

func collectPayouts(rows *sql.Rows) ([]*Payout, error) {
	var payouts []*Payout
	for rows.Next() {
		payout, err := scanPayout(rows)
		if err != nil {
			return nil, err
		}
		payouts = append(payouts, payout)
	}
	return payouts, rows.Err()
}

const payoutColumns = "id, checker_id, chunk_id, lot_id, amount_pence, amount_stable, status, tx_hash, error_message, created_at, paid_at"

func scanPayout(scanner interface{ Scan(dest ...any) error }) (*Payout, error) {
	var (
		id          int64
		checkerID   int64
		chunkID     int64
		lotID       int64
		amountPence int64
		amountRaw   string
		statusStr   string
		txHash      sql.NullString
		errMessage  sql.NullString
		createdRaw  string
		paidRaw     sql.NullString
	)

	if err := scanner.Scan(
		&id, &checkerID, &chunkID, &lotID, &amountPence, &amountRaw,
		&statusStr, &txHash, &errMessage, &createdRaw, &paidRaw,
	); err != nil {
		return nil, err
	}

	amount, err := decimal.NewFromString(amountRaw)
	if err != nil {
		return nil, fmt.Errorf("parse payout amount %q: %w", amountRaw, err)
	}

	payout := &Payout{
		ID:           id,
		CheckerID:    checkerID,
		ChunkID:      chunkID,
		LotID:        lotID,
		AmountPence:  amountPence,
		AmountStable: amount,
		Status:       PayoutStatus(statusStr),
		TxHash:       txHash.String,
		ErrorMessage: errMessage.String,
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		payout.CreatedAt = created
	}
	if paidRaw.Valid {
		if paid, err := parseTimeString(paidRaw.String); err == nil {
			payout.PaidAt = &paid
		}
	}
	return payout, nil
}
