package market

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ChunkSeed carries the splitter output needed to persist a new chunk.
type ChunkSeed struct {
	Ordinal     int
	Content     string
	WordCount   int
	TargetWords int
	HasCitation bool
	Quality     float64
}

// CreateLot inserts a lot and its chunks in one transaction. All chunks start
// open; the lot starts processing.
func (s *Store) CreateLot(ctx context.Context, userWallet, title string, seeds []ChunkSeed) (*Lot, error) {
	if userWallet == "" {
		return nil, errors.New("user wallet is required")
	}
	if len(seeds) == 0 {
		return nil, errors.New("lot requires at least one chunk")
	}

	now := timestamp(time.Now())
	var lotID int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO doc_lots (user_wallet, title, total_chunks, status, created_at, updated_at)
             VALUES (?, ?, ?, ?, ?, ?)`,
			userWallet, title, len(seeds), LotProcessing, now, now,
		)
		if err != nil {
			return fmt.Errorf("insert lot: %w", err)
		}
		lotID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("last insert id: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO doc_chunks (
                lot_id, ordinal, content, word_count, target_words,
                has_citation, quality, status, created_at, updated_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		)
		if err != nil {
			return fmt.Errorf("prepare chunk insert: %w", err)
		}
		defer stmt.Close()

		for _, seed := range seeds {
			if _, err := stmt.ExecContext(ctx,
				lotID, seed.Ordinal, seed.Content, seed.WordCount, seed.TargetWords,
				boolToInt(seed.HasCitation), seed.Quality, ChunkOpen, now, now,
			); err != nil {
				return fmt.Errorf("insert chunk %d: %w", seed.Ordinal, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetLot(ctx, lotID)
}

// GetLot fetches a lot by identifier. Returns nil when not found.
func (s *Store) GetLot(ctx context.Context, id int64) (*Lot, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+lotColumns+` FROM doc_lots WHERE id = ?`, id)
	lot, err := scanLot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get lot: %w", err)
	}
	return lot, nil
}

// ListLots returns lots filtered by status set (or all lots when no status is provided).
func (s *Store) ListLots(ctx context.Context, statuses ...LotStatus) ([]*Lot, error) {
	baseQuery := `SELECT ` + lotColumns + ` FROM doc_lots`
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
		return nil, fmt.Errorf("list lots: %w", err)
	}
	defer rows.Close()

	var lots []*Lot
	for rows.Next() {
		lot, err := scanLot(rows)
		if err != nil {
			return nil, err
		}
		lots = append(lots, lot)
	}
	return lots, rows.Err()
}

// ApproveLot transitions a lot from needs_approval to completed. Returns false
// when the lot was not awaiting approval.
func (s *Store) ApproveLot(ctx context.Context, id int64) (bool, error) {
	now := timestamp(time.Now())
	res, err := s.execWithRetry(ctx,
		`UPDATE doc_lots SET status = ?, completed_at = ?, updated_at = ? WHERE id = ? AND status = ?`,
		LotCompleted, now, now, id, LotNeedsApproval,
	)
	if err != nil {
		return false, fmt.Errorf("approve lot: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// advanceLotIfComplete promotes a lot to needs_approval once every chunk is
// done. Runs inside the submission transaction so the aggregate can never skip
// ahead of the chunk transition that triggered it.
func advanceLotIfComplete(ctx context.Context, tx *sql.Tx, lotID int64, now string) (bool, error) {
	var remaining int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM doc_chunks WHERE lot_id = ? AND status != ?`,
		lotID, ChunkDone,
	).Scan(&remaining)
	if err != nil {
		return false, fmt.Errorf("count unfinished chunks: %w", err)
	}
	if remaining > 0 {
		return false, nil
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE doc_lots SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		LotNeedsApproval, now, lotID, LotProcessing,
	)
	if err != nil {
		return false, fmt.Errorf("advance lot: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

const lotColumns = "id, user_wallet, title, total_chunks, status, created_at, updated_at, completed_at"

func scanLot(scanner interface{ Scan(dest ...any) error }) (*Lot, error) {
	var (
		id           int64
		userWallet   string
		title        string
		totalChunks  int
		statusStr    string
		createdRaw   string
		updatedRaw   string
		completedRaw sql.NullString
	)

	if err := scanner.Scan(&id, &userWallet, &title, &totalChunks, &statusStr, &createdRaw, &updatedRaw, &completedRaw); err != nil {
		return nil, err
	}

	lot := &Lot{
		ID:          id,
		UserWallet:  userWallet,
		Title:       title,
		TotalChunks: totalChunks,
		Status:      LotStatus(statusStr),
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		lot.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		lot.UpdatedAt = updated
	}
	if completedRaw.Valid {
		if completed, err := parseTimeString(completedRaw.String); err == nil {
			lot.CompletedAt = &completed
		}
	}
	return lot, nil
}
