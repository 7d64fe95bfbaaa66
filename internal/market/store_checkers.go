package market

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrWalletTaken indicates a registration attempt with an already registered wallet.
var ErrWalletTaken = errors.New("wallet already registered")

// RegisterChecker creates a checker. The wallet is the checker's financial
// identity and is unique; a duplicate registration returns ErrWalletTaken.
func (s *Store) RegisterChecker(ctx context.Context, wallet, name, contact, country string, specialties []string) (*Checker, error) {
	if wallet == "" {
		return nil, errors.New("wallet is required")
	}
	specialtiesJSON, err := json.Marshal(specialties)
	if err != nil {
		return nil, fmt.Errorf("marshal specialties: %w", err)
	}

	res, err := s.execWithRetry(ctx,
		`INSERT INTO checkers (wallet, name, contact, country, active, specialties, created_at)
         VALUES (?, ?, ?, ?, 1, ?, ?)`,
		wallet, name, nullableString(contact), nullableString(country),
		string(specialtiesJSON), timestamp(time.Now()),
	)
	if err != nil {
		if IsConstraint(err) {
			return nil, ErrWalletTaken
		}
		return nil, fmt.Errorf("insert checker: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetChecker(ctx, id)
}

// GetChecker fetches a checker by identifier. Returns nil when not found.
func (s *Store) GetChecker(ctx context.Context, id int64) (*Checker, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+checkerColumns+` FROM checkers WHERE id = ?`, id)
	checker, err := scanChecker(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get checker: %w", err)
	}
	return checker, nil
}

// GetCheckerByWallet fetches a checker by wallet address. Returns nil when not found.
func (s *Store) GetCheckerByWallet(ctx context.Context, wallet string) (*Checker, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+checkerColumns+` FROM checkers WHERE wallet = ?`, wallet)
	checker, err := scanChecker(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get checker by wallet: %w", err)
	}
	return checker, nil
}

// SetCheckerActive flips the active flag. Inactive checkers cannot claim.
func (s *Store) SetCheckerActive(ctx context.Context, id int64, active bool) error {
	if _, err := s.execWithRetry(ctx,
		`UPDATE checkers SET active = ? WHERE id = ?`, boolToInt(active), id,
	); err != nil {
		return fmt.Errorf("set checker active: %w", err)
	}
	return nil
}

// AddCheckerRating folds one rating into the running average.
func (s *Store) AddCheckerRating(ctx context.Context, id int64, rating float64) error {
	if rating < 0 || rating > 5 {
		return errors.New("rating must be between 0 and 5")
	}
	if _, err := s.execWithRetry(ctx,
		`UPDATE checkers SET rating_sum = rating_sum + ?, rating_count = rating_count + 1 WHERE id = ?`,
		rating, id,
	); err != nil {
		return fmt.Errorf("add checker rating: %w", err)
	}
	return nil
}

// RateLotCheckers applies one rating to every checker who earned a payout on
// the lot. Returns the number of checkers rated.
func (s *Store) RateLotCheckers(ctx context.Context, lotID int64, rating float64) (int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT checker_id FROM checker_payouts WHERE lot_id = ?`, lotID)
	if err != nil {
		return 0, fmt.Errorf("query lot checkers: %w", err)
	}
	defer rows.Close()

	var checkerIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return 0, fmt.Errorf("scan checker id: %w", err)
		}
		checkerIDs = append(checkerIDs, id)
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate lot checkers: %w", err)
	}

	for _, id := range checkerIDs {
		if err := s.AddCheckerRating(ctx, id, rating); err != nil {
			return 0, err
		}
	}
	return len(checkerIDs), nil
}

const checkerColumns = "id, wallet, name, contact, country, active, specialties, chunks_completed, total_earned_pence, rating_sum, rating_count, created_at"

func scanChecker(scanner interface{ Scan(dest ...any) error }) (*Checker, error) {
	var (
		id              int64
		wallet          string
		name            string
		contact         sql.NullString
		country         sql.NullString
		active          int
		specialtiesRaw  sql.NullString
		chunksCompleted int
		totalEarned     int64
		ratingSum       float64
		ratingCount     int
		createdRaw      string
	)

	if err := scanner.Scan(
		&id, &wallet, &name, &contact, &country, &active, &specialtiesRaw,
		&chunksCompleted, &totalEarned, &ratingSum, &ratingCount, &createdRaw,
	); err != nil {
		return nil, err
	}

	checker := &Checker{
		ID:               id,
		Wallet:           wallet,
		Name:             name,
		Contact:          contact.String,
		Country:          country.String,
		Active:           active != 0,
		ChunksCompleted:  chunksCompleted,
		TotalEarnedPence: totalEarned,
		RatingSum:        ratingSum,
		RatingCount:      ratingCount,
	}
	if specialtiesRaw.Valid && specialtiesRaw.String != "" {
		if err := json.Unmarshal([]byte(specialtiesRaw.String), &checker.Specialties); err != nil {
			return nil, fmt.Errorf("unmarshal specialties: %w", err)
		}
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		checker.CreatedAt = created
	}
	return checker, nil
}
