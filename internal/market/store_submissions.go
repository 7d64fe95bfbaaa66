package market

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrChunkNotFound indicates the chunk does not exist.
	ErrChunkNotFound = errors.New("chunk not found")
	// ErrNotLeased indicates the chunk is not currently leased by the caller.
	ErrNotLeased = errors.New("chunk not leased by checker")
	// ErrChunkFinal indicates the chunk is done and accepts no further submissions.
	ErrChunkFinal = errors.New("chunk already done")
	// ErrPayoutExists indicates a payout already exists for the chunk.
	ErrPayoutExists = errors.New("payout already exists for chunk")
	// ErrEscrowExhausted indicates accepting the submission would push pending
	// payouts past the lot's locked escrow balance.
	ErrEscrowExhausted = errors.New("pending payouts would exceed locked escrow")
)

// SubmissionParams carries one validated checker result into the store.
type SubmissionParams struct {
	ChunkID             int64
	CheckerID           int64
	SimilarityScore     float64
	AIScore             float64
	FlaggedSpans        []Span
	Notes               string
	SimilarityReportURL string
	AIReportURL         string

	// Approved is the acceptance decision made by the submission processor.
	Approved bool
	// AmountPence/AmountStable are the payout amounts when Approved.
	AmountPence  int64
	AmountStable decimal.Decimal
}

// SubmissionOutcome reports what the submission transaction did.
type SubmissionOutcome struct {
	SubmissionID int64
	Version      int
	LotID        int64
	LotAdvanced  bool
	PayoutID     int64
}

// RecordSubmission runs the whole submit path in one transaction: ownership
// check, versioned submission insert, the chunk's terminal transition, payout
// creation with checker stat updates on acceptance, and the lot aggregate
// advance. The terminal transition is a conditional UPDATE on (status,
// lease_holder), so a sweeper eviction racing this call loses or wins whole.
func (s *Store) RecordSubmission(ctx context.Context, p SubmissionParams) (*SubmissionOutcome, error) {
	spansJSON, err := json.Marshal(p.FlaggedSpans)
	if err != nil {
		return nil, fmt.Errorf("marshal flagged spans: %w", err)
	}

	now := time.Now()
	ts := timestamp(now)
	outcome := &SubmissionOutcome{}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var (
			statusStr string
			holder    sql.NullInt64
			version   int
			lotID     int64
		)
		err := tx.QueryRowContext(ctx,
			`SELECT status, lease_holder, submission_version, lot_id FROM doc_chunks WHERE id = ?`,
			p.ChunkID,
		).Scan(&statusStr, &holder, &version, &lotID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrChunkNotFound
		}
		if err != nil {
			return fmt.Errorf("load chunk: %w", err)
		}
		if ChunkStatus(statusStr) == ChunkDone {
			return ErrChunkFinal
		}
		if ChunkStatus(statusStr) != ChunkChecking || !holder.Valid || holder.Int64 != p.CheckerID {
			return ErrNotLeased
		}

		newVersion := version + 1
		nextStatus := ChunkNeedsEdit
		if p.Approved {
			nextStatus = ChunkDone
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE doc_chunks
             SET status = ?, lease_holder = NULL, leased_at = NULL,
                 submission_version = ?, similarity_report_url = ?, ai_report_url = ?,
                 completed_at = CASE WHEN ? THEN ? ELSE completed_at END,
                 updated_at = ?
             WHERE id = ? AND status = ? AND lease_holder = ?`,
			nextStatus, newVersion,
			nullableString(p.SimilarityReportURL), nullableString(p.AIReportURL),
			boolToInt(p.Approved), ts, ts,
			p.ChunkID, ChunkChecking, p.CheckerID,
		)
		if err != nil {
			return fmt.Errorf("transition chunk: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			// Lease was swept or taken over between the read and the update.
			return ErrNotLeased
		}

		subRes, err := tx.ExecContext(ctx,
			`INSERT INTO submissions (
                chunk_id, checker_id, version, similarity_score, ai_score,
                flagged_spans, notes, similarity_report_url, ai_report_url,
                approved, created_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ChunkID, p.CheckerID, newVersion, p.SimilarityScore, p.AIScore,
			string(spansJSON), nullableString(p.Notes),
			nullableString(p.SimilarityReportURL), nullableString(p.AIReportURL),
			boolToInt(p.Approved), ts,
		)
		if err != nil {
			return fmt.Errorf("insert submission: %w", err)
		}
		outcome.SubmissionID, err = subRes.LastInsertId()
		if err != nil {
			return fmt.Errorf("submission id: %w", err)
		}
		outcome.Version = newVersion
		outcome.LotID = lotID

		if !p.Approved {
			return nil
		}

		if err := checkEscrowHeadroom(ctx, tx, lotID, p.AmountStable); err != nil {
			return err
		}

		payoutRes, err := tx.ExecContext(ctx,
			`INSERT INTO checker_payouts (
                checker_id, chunk_id, lot_id, amount_pence, amount_stable, status, created_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			p.CheckerID, p.ChunkID, lotID, p.AmountPence, p.AmountStable.String(),
			PayoutPending, ts,
		)
		if err != nil {
			if IsConstraint(err) {
				return ErrPayoutExists
			}
			return fmt.Errorf("insert payout: %w", err)
		}
		outcome.PayoutID, err = payoutRes.LastInsertId()
		if err != nil {
			return fmt.Errorf("payout id: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE checkers
             SET chunks_completed = chunks_completed + 1,
                 total_earned_pence = total_earned_pence + ?
             WHERE id = ?`,
			p.AmountPence, p.CheckerID,
		); err != nil {
			return fmt.Errorf("update checker stats: %w", err)
		}

		advanced, err := advanceLotIfComplete(ctx, tx, lotID, ts)
		if err != nil {
			return err
		}
		outcome.LotAdvanced = advanced
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

// checkEscrowHeadroom enforces the financial invariant: pending payouts for a
// lot never exceed the lot's locked escrow. Escrow balances only count once
// receipted as locked, never optimistically.
func checkEscrowHeadroom(ctx context.Context, tx *sql.Tx, lotID int64, amount decimal.Decimal) error {
	rows, err := tx.QueryContext(ctx,
		`SELECT amount_stable FROM wallet_escrows WHERE lot_id = ? AND status = ?`,
		lotID, EscrowLocked,
	)
	if err != nil {
		return fmt.Errorf("query locked escrow: %w", err)
	}
	locked, err := sumAmounts(rows)
	if err != nil {
		return err
	}

	rows, err = tx.QueryContext(ctx,
		`SELECT amount_stable FROM checker_payouts WHERE lot_id = ? AND status = ?`,
		lotID, PayoutPending,
	)
	if err != nil {
		return fmt.Errorf("query pending payouts: %w", err)
	}
	pending, err := sumAmounts(rows)
	if err != nil {
		return err
	}

	if pending.Add(amount).GreaterThan(locked) {
		return ErrEscrowExhausted
	}
	return nil
}

func sumAmounts(rows *sql.Rows) (decimal.Decimal, error) {
	defer rows.Close()
	total := decimal.Zero
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return decimal.Zero, fmt.Errorf("scan amount: %w", err)
		}
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			return decimal.Zero, fmt.Errorf("parse amount %q: %w", raw, err)
		}
		total = total.Add(amount)
	}
	return total, rows.Err()
}

// LatestSubmission returns the most recent submission for a chunk, or nil.
func (s *Store) LatestSubmission(ctx context.Context, chunkID int64) (*Submission, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE chunk_id = ? ORDER BY version DESC LIMIT 1`,
		chunkID,
	)
	sub, err := scanSubmission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest submission: %w", err)
	}
	return sub, nil
}

// SubmissionsByChunk returns every submission version for a chunk in order.
func (s *Store) SubmissionsByChunk(ctx context.Context, chunkID int64) ([]*Submission, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE chunk_id = ? ORDER BY version`,
		chunkID,
	)
	if err != nil {
		return nil, fmt.Errorf("submissions by chunk: %w", err)
	}
	defer rows.Close()

	var subs []*Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

const submissionColumns = "id, chunk_id, checker_id, version, similarity_score, ai_score, flagged_spans, notes, similarity_report_url, ai_report_url, approved, created_at"

func scanSubmission(scanner interface{ Scan(dest ...any) error }) (*Submission, error) {
	var (
		id            int64
		chunkID       int64
		checkerID     int64
		version       int
		similarity    float64
		aiScore       float64
		spansRaw      sql.NullString
		notes         sql.NullString
		similarityURL sql.NullString
		aiURL         sql.NullString
		approved      int
		createdRaw    string
	)

	if err := scanner.Scan(
		&id, &chunkID, &checkerID, &version, &similarity, &aiScore,
		&spansRaw, &notes, &similarityURL, &aiURL, &approved, &createdRaw,
	); err != nil {
		return nil, err
	}

	sub := &Submission{
		ID:                  id,
		ChunkID:             chunkID,
		CheckerID:           checkerID,
		Version:             version,
		SimilarityScore:     similarity,
		AIScore:             aiScore,
		Notes:               notes.String,
		SimilarityReportURL: similarityURL.String,
		AIReportURL:         aiURL.String,
		Approved:            approved != 0,
	}
	if spansRaw.Valid && spansRaw.String != "" {
		if err := json.Unmarshal([]byte(spansRaw.String), &sub.FlaggedSpans); err != nil {
			return nil, fmt.Errorf("unmarshal flagged spans: %w", err)
		}
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		sub.CreatedAt = created
	}
	return sub, nil
}
