package market

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// CreateEscrowRecord persists an escrow attempt, keyed by a client-generated
// id. The row is written before the lock transaction is broadcast; the hash
// lands later via MarkEscrowBroadcast, and the row stays created until a
// successful receipt promotes it to locked.
func (s *Store) CreateEscrowRecord(ctx context.Context, e *Escrow) error {
	if e == nil {
		return errors.New("escrow is nil")
	}
	if e.ID == "" {
		return errors.New("escrow id is required")
	}
	_, err := s.execWithRetry(ctx,
		`INSERT INTO wallet_escrows (
            id, tx_hash, lot_id, user_wallet, amount_stable, contract_address, status, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, nullableString(e.TxHash), e.LotID, e.UserWallet, e.AmountStable.String(),
		e.ContractAddress, EscrowCreated, timestamp(time.Now()),
	)
	if err != nil {
		if IsConstraint(err) {
			return fmt.Errorf("escrow %s already recorded", e.ID)
		}
		return fmt.Errorf("insert escrow: %w", err)
	}
	return nil
}

// MarkEscrowBroadcast records the transaction hash on a created attempt once
// the lock is on the wire. Conditional on the hash being unset so a replay
// cannot overwrite it.
func (s *Store) MarkEscrowBroadcast(ctx context.Context, id, txHash string) (bool, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE wallet_escrows SET tx_hash = ?
         WHERE id = ? AND status = ? AND tx_hash IS NULL`,
		txHash, id, EscrowCreated,
	)
	if err != nil {
		return false, fmt.Errorf("mark escrow broadcast: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// MarkEscrowLocked promotes a created escrow to locked after on-chain
// confirmation. Conditional on created so a replayed confirmation is a no-op.
func (s *Store) MarkEscrowLocked(ctx context.Context, id string, lockedAt time.Time) (bool, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE wallet_escrows SET status = ?, locked_at = ?, last_error = NULL
         WHERE id = ? AND status = ?`,
		EscrowLocked, timestamp(lockedAt), id, EscrowCreated,
	)
	if err != nil {
		return false, fmt.Errorf("mark escrow locked: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// RecordEscrowAttemptError notes a broadcast or confirmation failure on the
// attempt without touching its status, so a retry can supersede it without
// leaving an orphan locked row.
func (s *Store) RecordEscrowAttemptError(ctx context.Context, id, message string) error {
	if _, err := s.execWithRetry(ctx,
		`UPDATE wallet_escrows SET last_error = ? WHERE id = ?`,
		message, id,
	); err != nil {
		return fmt.Errorf("record escrow error: %w", err)
	}
	return nil
}

// MarkEscrowReleased transitions a locked escrow to released once the lot's
// payouts have all settled.
func (s *Store) MarkEscrowReleased(ctx context.Context, id string) (bool, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE wallet_escrows SET status = ?, released_at = ? WHERE id = ? AND status = ?`,
		EscrowReleased, timestamp(time.Now()), id, EscrowLocked,
	)
	if err != nil {
		return false, fmt.Errorf("mark escrow released: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// MarkEscrowRefunded transitions a locked escrow to refunded when the lock
// returns to the user untouched.
func (s *Store) MarkEscrowRefunded(ctx context.Context, id string) (bool, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE wallet_escrows SET status = ?, released_at = ? WHERE id = ? AND status = ?`,
		EscrowRefunded, timestamp(time.Now()), id, EscrowLocked,
	)
	if err != nil {
		return false, fmt.Errorf("mark escrow refunded: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// GetEscrow fetches an escrow record by attempt id. Returns nil when not found.
func (s *Store) GetEscrow(ctx context.Context, id string) (*Escrow, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+escrowColumns+` FROM wallet_escrows WHERE id = ?`, id)
	escrow, err := scanEscrow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get escrow: %w", err)
	}
	return escrow, nil
}

// GetEscrowByTxHash fetches an escrow record by transaction hash. Returns nil
// when not found.
func (s *Store) GetEscrowByTxHash(ctx context.Context, txHash string) (*Escrow, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+escrowColumns+` FROM wallet_escrows WHERE tx_hash = ?`, txHash)
	escrow, err := scanEscrow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get escrow by tx hash: %w", err)
	}
	return escrow, nil
}

// EscrowsByLot returns every escrow record for a lot, oldest first.
func (s *Store) EscrowsByLot(ctx context.Context, lotID int64) ([]*Escrow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+escrowColumns+` FROM wallet_escrows WHERE lot_id = ? ORDER BY created_at`, lotID)
	if err != nil {
		return nil, fmt.Errorf("escrows by lot: %w", err)
	}
	defer rows.Close()

	var escrows []*Escrow
	for rows.Next() {
		escrow, err := scanEscrow(rows)
		if err != nil {
			return nil, err
		}
		escrows = append(escrows, escrow)
	}
	return escrows, rows.Err()
}

// EscrowsByStatus returns every escrow record in the given status, oldest
// first. The settlement loop uses this to find broadcast-but-unconfirmed
// locks after a restart.
func (s *Store) EscrowsByStatus(ctx context.Context, status EscrowStatus) ([]*Escrow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+escrowColumns+` FROM wallet_escrows WHERE status = ? ORDER BY created_at`, status)
	if err != nil {
		return nil, fmt.Errorf("escrows by status: %w", err)
	}
	defer rows.Close()

	var escrows []*Escrow
	for rows.Next() {
		escrow, err := scanEscrow(rows)
		if err != nil {
			return nil, err
		}
		escrows = append(escrows, escrow)
	}
	return escrows, rows.Err()
}

// LockedEscrowTotal sums confirmed locked escrow for a lot.
func (s *Store) LockedEscrowTotal(ctx context.Context, lotID int64) (decimal.Decimal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT amount_stable FROM wallet_escrows WHERE lot_id = ? AND status = ?`,
		lotID, EscrowLocked,
	)
	if err != nil {
		return decimal.Zero, fmt.Errorf("query locked escrow: %w", err)
	}
	return sumAmounts(rows)
}

const escrowColumns = "id, tx_hash, lot_id, user_wallet, amount_stable, contract_address, status, locked_at, released_at, last_error, created_at"

func scanEscrow(scanner interface{ Scan(dest ...any) error }) (*Escrow, error) {
	var (
		id          string
		txHash      sql.NullString
		lotID       int64
		userWallet  string
		amountRaw   string
		contract    string
		statusStr   string
		lockedRaw   sql.NullString
		releasedRaw sql.NullString
		lastError   sql.NullString
		createdRaw  string
	)

	if err := scanner.Scan(
		&id, &txHash, &lotID, &userWallet, &amountRaw, &contract, &statusStr,
		&lockedRaw, &releasedRaw, &lastError, &createdRaw,
	); err != nil {
		return nil, err
	}

	amount, err := decimal.NewFromString(amountRaw)
	if err != nil {
		return nil, fmt.Errorf("parse escrow amount %q: %w", amountRaw, err)
	}

	escrow := &Escrow{
		ID:              id,
		TxHash:          txHash.String,
		LotID:           lotID,
		UserWallet:      userWallet,
		AmountStable:    amount,
		ContractAddress: contract,
		Status:          EscrowStatus(statusStr),
		LastError:       lastError.String,
	}
	if lockedRaw.Valid {
		if locked, err := parseTimeString(lockedRaw.String); err == nil {
			escrow.LockedAt = &locked
		}
	}
	if releasedRaw.Valid {
		if released, err := parseTimeString(releasedRaw.String); err == nil {
			escrow.ReleasedAt = &released
		}
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		escrow.CreatedAt = created
	}
	return escrow, nil
}
