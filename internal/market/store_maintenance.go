package market

import (
	"context"
	"fmt"
)

// ChunkStats returns a count of chunks grouped by status.
func (s *Store) ChunkStats(ctx context.Context) (map[ChunkStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM doc_chunks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("chunk stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[ChunkStatus]int)
	for rows.Next() {
		var status ChunkStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Health aggregates marketplace state for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.ChunkStats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for status, count := range stats {
		health.TotalChunks += count
		switch status {
		case ChunkOpen:
			health.Open += count
		case ChunkChecking:
			health.Checking += count
		case ChunkNeedsEdit:
			health.NeedsEdit += count
		case ChunkDone:
			health.Done += count
		}
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM doc_lots`).Scan(&health.Lots); err != nil {
		return health, fmt.Errorf("count lots: %w", err)
	}
	err = s.db.QueryRowContext(ctx,
		`SELECT
            COUNT(CASE WHEN status = ? THEN 1 END),
            COUNT(CASE WHEN status = ? THEN 1 END)
         FROM checker_payouts`,
		PayoutPending, PayoutFailed,
	).Scan(&health.PendingPay, &health.FailedPay)
	if err != nil {
		return health, fmt.Errorf("count payouts: %w", err)
	}
	return health, nil
}

// IntegrityCheck runs SQLite's integrity check and reports the result.
func (s *Store) IntegrityCheck(ctx context.Context) (bool, error) {
	var result string
	if err := s.db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return false, fmt.Errorf("integrity check: %w", err)
	}
	return result == "ok", nil
}
