package api

import (
	"time"

	"veriflow/internal/market"
)

type ingestRequest struct {
	UserWallet string `json:"user_wallet"`
	Title      string `json:"title"`
	Content    string `json:"content"`
	Strategy   string `json:"strategy,omitempty"`
}

// LotView is the API shape of a document lot.
type LotView struct {
	ID          int64     `json:"id"`
	UserWallet  string    `json:"user_wallet"`
	Title       string    `json:"title"`
	Status      string    `json:"status"`
	TotalChunks int       `json:"total_chunks"`
	CreatedAt   time.Time `json:"created_at"`
}

// LotDetail pairs a lot with its chunk listing.
type LotDetail struct {
	Lot    LotView        `json:"lot"`
	Chunks []ChunkSummary `json:"chunks"`
}

// ChunkSummary is the listing shape of a chunk, without content.
type ChunkSummary struct {
	ID           int64     `json:"id"`
	LotID        int64     `json:"lot_id"`
	Ordinal      int       `json:"ordinal"`
	WordCount    int       `json:"word_count"`
	Status       string    `json:"status"`
	BountyPence  int64     `json:"bounty_pence"`
	BountyStable string    `json:"bounty_stable"`
	CreatedAt    time.Time `json:"created_at"`
}

// ChunkDetail adds verification state to a chunk summary.
type ChunkDetail struct {
	ChunkSummary
	Content             string          `json:"content,omitempty"`
	SubmissionVersion   int             `json:"submission_version"`
	SimilarityReportURL string          `json:"similarity_report_url,omitempty"`
	AIReportURL         string          `json:"ai_report_url,omitempty"`
	LatestSubmission    *SubmissionView `json:"latest_submission,omitempty"`
}

// SubmissionView summarizes one recorded submission.
type SubmissionView struct {
	ID              int64     `json:"id"`
	CheckerID       int64     `json:"checker_id"`
	Version         int       `json:"version"`
	SimilarityScore float64   `json:"similarity_score"`
	AIScore         float64   `json:"ai_score"`
	Approved        bool      `json:"approved"`
	CreatedAt       time.Time `json:"created_at"`
}

type claimRequest struct {
	ChunkID   int64 `json:"chunk_id"`
	CheckerID int64 `json:"checker_id"`
}

// ClaimResponse is returned to a checker who won a chunk lease.
type ClaimResponse struct {
	ChunkID        int64     `json:"chunk_id"`
	Content        string    `json:"content"`
	BountyPence    int64     `json:"bounty_pence"`
	BountyStable   string    `json:"bounty_stable"`
	ClaimedAt      time.Time `json:"claimed_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	TimeoutMinutes int       `json:"timeout_minutes"`
}

type releaseRequest struct {
	ChunkID   int64 `json:"chunk_id"`
	CheckerID int64 `json:"checker_id"`
}

type submitRequest struct {
	ChunkID          int64         `json:"chunk_id"`
	CheckerID        int64         `json:"checker_id"`
	SimilarityScore  float64       `json:"similarity_score"`
	AIScore          float64       `json:"ai_score"`
	FlaggedSpans     []market.Span `json:"flagged_spans,omitempty"`
	CheckerNotes     string        `json:"checker_notes,omitempty"`
	SimilarityReport string        `json:"similarity_report,omitempty"`
	AIReport         string        `json:"ai_report,omitempty"`
}

// SubmitResponse reports the outcome of a recorded submission.
type SubmitResponse struct {
	Success      bool  `json:"success"`
	SubmissionID int64 `json:"submission_id"`
	Version      int   `json:"version"`
	NeedsRewrite bool  `json:"needs_rewrite"`
	LotCompleted bool  `json:"lot_completed"`
}

type registerRequest struct {
	Wallet      string   `json:"wallet"`
	Name        string   `json:"name"`
	Contact     string   `json:"contact,omitempty"`
	Country     string   `json:"country,omitempty"`
	Specialties []string `json:"specialties,omitempty"`
}

// CheckerView is the API shape of a checker profile.
type CheckerView struct {
	ID              int64    `json:"id"`
	Wallet          string   `json:"wallet"`
	Name            string   `json:"name"`
	Active          bool     `json:"active"`
	Specialties     []string `json:"specialties,omitempty"`
	ChunksCompleted int      `json:"chunks_completed"`
	AverageRating   float64  `json:"average_rating"`
}

// EarningsResponse summarizes a checker's settled and outstanding payouts.
type EarningsResponse struct {
	Wallet             string  `json:"wallet"`
	TotalPaidStable    string  `json:"total_paid_stable"`
	PendingPayoutCount int     `json:"pending_payout_count"`
	FailedPayoutCount  int     `json:"failed_payout_count"`
	CompletedChunks    int     `json:"completed_chunks"`
	AverageRating      float64 `json:"average_rating"`
}

type quoteRequest struct {
	WordCount int `json:"word_count"`
}

// approveRequest carries the owner's optional rating of the lot's checkers.
type approveRequest struct {
	Rating *float64 `json:"rating"`
}

// QuoteResponse is the escrow cost estimate for a document.
type QuoteResponse struct {
	EstimatedChunks  int    `json:"estimated_chunks"`
	CostPerChunk     string `json:"cost_per_chunk"`
	TotalCost        string `json:"total_cost"`
	EscrowWithBuffer string `json:"escrow_amount_with_buffer"`
}

type escrowRequest struct {
	UserWallet string `json:"user_wallet"`
	LotID      int64  `json:"lot_id"`
}

// EscrowView is the API shape of an escrow record.
type EscrowView struct {
	ID           string     `json:"escrow_id"`
	TxHash       string     `json:"tx_hash,omitempty"`
	LotID        int64      `json:"lot_id"`
	UserWallet   string     `json:"user_wallet"`
	AmountStable string     `json:"amount_stable"`
	Status       string     `json:"status"`
	LockedAt     *time.Time `json:"locked_at,omitempty"`
	ReleasedAt   *time.Time `json:"released_at,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
}

// PayoutView is the API shape of a checker payout.
type PayoutView struct {
	ID           int64      `json:"id"`
	CheckerID    int64      `json:"checker_id"`
	ChunkID      int64      `json:"chunk_id"`
	AmountPence  int64      `json:"amount_pence"`
	AmountStable string     `json:"amount_stable"`
	Status       string     `json:"status"`
	TxHash       string     `json:"tx_hash,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	PaidAt       *time.Time `json:"paid_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// StatusResponse is the daemon health and chunk census report.
type StatusResponse struct {
	Version         string `json:"version"`
	WorkflowRunning bool   `json:"workflow_running"`
	TotalChunks     int    `json:"total_chunks"`
	OpenChunks      int    `json:"open_chunks"`
	CheckingChunks  int    `json:"checking_chunks"`
	NeedsEditChunks int    `json:"needs_edit_chunks"`
	DoneChunks      int    `json:"done_chunks"`
	Lots            int    `json:"lots"`
	PendingPayouts  int    `json:"pending_payouts"`
	FailedPayouts   int    `json:"failed_payouts"`
	LastError       string `json:"last_error,omitempty"`
}
