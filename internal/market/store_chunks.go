package market

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GetChunk fetches a chunk by identifier. Returns nil when not found.
func (s *Store) GetChunk(ctx context.Context, id int64) (*Chunk, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+chunkColumns+` FROM doc_chunks WHERE id = ?`, id)
	chunk, err := scanChunk(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get chunk: %w", err)
	}
	return chunk, nil
}

// ChunksByLot returns every chunk of a lot ordered by ordinal.
func (s *Store) ChunksByLot(ctx context.Context, lotID int64) ([]*Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chunkColumns+` FROM doc_chunks WHERE lot_id = ? ORDER BY ordinal`, lotID)
	if err != nil {
		return nil, fmt.Errorf("chunks by lot: %w", err)
	}
	defer rows.Close()
	return collectChunks(rows)
}

// ChunksByStatus returns chunks matching a status ordered by creation time,
// bounded by limit when positive.
func (s *Store) ChunksByStatus(ctx context.Context, status ChunkStatus, limit int) ([]*Chunk, error) {
	query := `SELECT ` + chunkColumns + ` FROM doc_chunks WHERE status = ? ORDER BY created_at`
	args := []any{status}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("chunks by status: %w", err)
	}
	defer rows.Close()
	return collectChunks(rows)
}

// ClaimChunk atomically transitions an open or needs_edit chunk to checking
// under the given checker. The single conditional UPDATE is the claim race's
// serialization point: of any number of concurrent claims exactly one sees
// RowsAffected == 1.
func (s *Store) ClaimChunk(ctx context.Context, chunkID, checkerID int64, now time.Time) (bool, error) {
	ts := timestamp(now)
	res, err := s.execWithRetry(ctx,
		`UPDATE doc_chunks
         SET status = ?, lease_holder = ?, leased_at = ?, updated_at = ?
         WHERE id = ? AND status IN (?, ?)`,
		ChunkChecking, checkerID, ts, ts, chunkID, ChunkOpen, ChunkNeedsEdit,
	)
	if err != nil {
		return false, fmt.Errorf("claim chunk: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// ReleaseChunk voluntarily returns a checking chunk to open. Conditional on the
// caller still holding the lease so a sweeper eviction in the same instant
// cannot be double-applied.
func (s *Store) ReleaseChunk(ctx context.Context, chunkID, checkerID int64) (bool, error) {
	ts := timestamp(time.Now())
	res, err := s.execWithRetry(ctx,
		`UPDATE doc_chunks
         SET status = ?, lease_holder = NULL, leased_at = NULL, updated_at = ?
         WHERE id = ? AND status = ? AND lease_holder = ?`,
		ChunkOpen, ts, chunkID, ChunkChecking, checkerID,
	)
	if err != nil {
		return false, fmt.Errorf("release chunk: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// CountActiveClaims returns how many chunks a checker currently holds in
// checking, system-wide.
func (s *Store) CountActiveClaims(ctx context.Context, checkerID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM doc_chunks WHERE status = ? AND lease_holder = ?`,
		ChunkChecking, checkerID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active claims: %w", err)
	}
	return count, nil
}

// SweepExpiredLeases returns every checking chunk whose lease predates the
// cutoff back to open. Each row is matched on status and lease age in the same
// statement, so a submission landing in the same instant wins or loses cleanly
// rather than being half-evicted.
func (s *Store) SweepExpiredLeases(ctx context.Context, cutoff time.Time) (int64, error) {
	ts := timestamp(time.Now())
	res, err := s.execWithRetry(ctx,
		`UPDATE doc_chunks
         SET status = ?, lease_holder = NULL, leased_at = NULL, updated_at = ?
         WHERE status = ? AND leased_at IS NOT NULL AND leased_at < ?`,
		ChunkOpen, ts, ChunkChecking, timestamp(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("sweep expired leases: %w", err)
	}
	return res.RowsAffected()
}

// ReopenChunk returns a needs_edit chunk to open after the owner edits it.
func (s *Store) ReopenChunk(ctx context.Context, chunkID int64) (bool, error) {
	ts := timestamp(time.Now())
	res, err := s.execWithRetry(ctx,
		`UPDATE doc_chunks SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		ChunkOpen, ts, chunkID, ChunkNeedsEdit,
	)
	if err != nil {
		return false, fmt.Errorf("reopen chunk: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

func collectChunks(rows *sql.Rows) ([]*Chunk, error) {
	var chunks []*Chunk
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

const chunkColumns = "id, lot_id, ordinal, content, word_count, target_words, has_citation, quality, status, lease_holder, leased_at, submission_version, similarity_report_url, ai_report_url, created_at, updated_at, completed_at"

func scanChunk(scanner interface{ Scan(dest ...any) error }) (*Chunk, error) {
	var (
		id            int64
		lotID         int64
		ordinal       int
		content       string
		wordCount     int
		targetWords   int
		hasCitation   int
		quality       float64
		statusStr     string
		leaseHolder   sql.NullInt64
		leasedRaw     sql.NullString
		version       int
		similarityURL sql.NullString
		aiURL         sql.NullString
		createdRaw    string
		updatedRaw    string
		completedRaw  sql.NullString
	)

	if err := scanner.Scan(
		&id, &lotID, &ordinal, &content, &wordCount, &targetWords, &hasCitation,
		&quality, &statusStr, &leaseHolder, &leasedRaw, &version,
		&similarityURL, &aiURL, &createdRaw, &updatedRaw, &completedRaw,
	); err != nil {
		return nil, err
	}

	chunk := &Chunk{
		ID:                  id,
		LotID:               lotID,
		Ordinal:             ordinal,
		Content:             content,
		WordCount:           wordCount,
		TargetWords:         targetWords,
		HasCitation:         hasCitation != 0,
		Quality:             quality,
		Status:              ChunkStatus(statusStr),
		SubmissionVersion:   version,
		SimilarityReportURL: similarityURL.String,
		AIReportURL:         aiURL.String,
	}
	if leaseHolder.Valid {
		holder := leaseHolder.Int64
		chunk.LeaseHolder = &holder
	}
	if leasedRaw.Valid {
		if leased, err := parseTimeString(leasedRaw.String); err == nil {
			chunk.LeasedAt = &leased
		}
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		chunk.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		chunk.UpdatedAt = updated
	}
	if completedRaw.Valid {
		if completed, err := parseTimeString(completedRaw.String); err == nil {
			chunk.CompletedAt = &completed
		}
	}
	return chunk, nil
}
