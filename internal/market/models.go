package market

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ChunkStatus represents the lifecycle of a document chunk.
type ChunkStatus string

const (
	ChunkOpen      ChunkStatus = "open"
	ChunkChecking  ChunkStatus = "checking"
	ChunkNeedsEdit ChunkStatus = "needs_edit"
	ChunkDone      ChunkStatus = "done"
)

var allChunkStatuses = []ChunkStatus{ChunkOpen, ChunkChecking, ChunkNeedsEdit, ChunkDone}

// chunkTransitions is the closed set of legal chunk state changes. Every
// mutation of (status, lease_holder) goes through a conditional UPDATE that
// encodes one of these edges; no caller sets the fields independently.
var chunkTransitions = map[ChunkStatus][]ChunkStatus{
	ChunkOpen:      {ChunkChecking},
	ChunkChecking:  {ChunkOpen, ChunkNeedsEdit, ChunkDone},
	ChunkNeedsEdit: {ChunkOpen, ChunkChecking},
	ChunkDone:      {},
}

// CanTransition reports whether moving a chunk from one status to another is legal.
func CanTransition(from, to ChunkStatus) bool {
	for _, next := range chunkTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ParseChunkStatus converts a string into a known ChunkStatus.
func ParseChunkStatus(value string) (ChunkStatus, bool) {
	normalized := ChunkStatus(strings.ToLower(strings.TrimSpace(value)))
	for _, status := range allChunkStatuses {
		if status == normalized {
			return status, true
		}
	}
	return "", false
}

// AllChunkStatuses returns the ordered list of known chunk statuses.
func AllChunkStatuses() []ChunkStatus {
	cp := make([]ChunkStatus, len(allChunkStatuses))
	copy(cp, allChunkStatuses)
	return cp
}

// LotStatus represents the aggregate lifecycle of a document lot.
type LotStatus string

const (
	LotProcessing    LotStatus = "processing"
	LotNeedsApproval LotStatus = "needs_approval"
	LotCompleted     LotStatus = "completed"
)

// PayoutStatus represents the settlement state of a payout.
type PayoutStatus string

const (
	PayoutPending PayoutStatus = "pending"
	PayoutPaid    PayoutStatus = "paid"
	PayoutFailed  PayoutStatus = "failed"
)

// ParsePayoutStatus converts a string into a known PayoutStatus.
func ParsePayoutStatus(value string) (PayoutStatus, bool) {
	switch PayoutStatus(strings.ToLower(strings.TrimSpace(value))) {
	case PayoutPending:
		return PayoutPending, true
	case PayoutPaid:
		return PayoutPaid, true
	case PayoutFailed:
		return PayoutFailed, true
	}
	return "", false
}

// EscrowStatus represents the on-chain lock state of escrowed funds.
type EscrowStatus string

const (
	// EscrowCreated is the persisted-before-broadcast state. The row exists so
	// a crash between broadcast and confirmation leaves an auditable record,
	// but the funds are not counted as locked until the receipt confirms.
	EscrowCreated  EscrowStatus = "created"
	EscrowLocked   EscrowStatus = "locked"
	EscrowReleased EscrowStatus = "released"
	EscrowRefunded EscrowStatus = "refunded"
)

// Lot is one document submitted for chunk-based verification.
type Lot struct {
	ID          int64
	UserWallet  string
	Title       string
	TotalChunks int
	Status      LotStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// Chunk is a word-bounded slice of a lot plus its mutable verification state.
//
// Invariant: LeaseHolder is non-nil iff Status == ChunkChecking.
type Chunk struct {
	ID                  int64
	LotID               int64
	Ordinal             int
	Content             string
	WordCount           int
	TargetWords         int
	HasCitation         bool
	Quality             float64
	Status              ChunkStatus
	LeaseHolder         *int64
	LeasedAt            *time.Time
	SubmissionVersion   int
	SimilarityReportURL string
	AIReportURL         string
	CreatedAt           time.Time
	UpdatedAt           time.Time
	CompletedAt         *time.Time
}

// Checker is a verified human worker.
type Checker struct {
	ID               int64
	Wallet           string
	Name             string
	Contact          string
	Country          string
	Active           bool
	Specialties      []string
	ChunksCompleted  int
	TotalEarnedPence int64
	RatingSum        float64
	RatingCount      int
	CreatedAt        time.Time
}

// AverageRating returns the running average rating, or 0 with no ratings.
func (c *Checker) AverageRating() float64 {
	if c.RatingCount == 0 {
		return 0
	}
	return c.RatingSum / float64(c.RatingCount)
}

// Span marks a flagged region of chunk text, in word offsets.
type Span struct {
	Start  int    `json:"start"`
	End    int    `json:"end"`
	Reason string `json:"reason,omitempty"`
}

// Submission is one checker's reported result for one chunk attempt. Rows are
// immutable once created; resubmissions get a fresh row with a higher version.
type Submission struct {
	ID                  int64
	ChunkID             int64
	CheckerID           int64
	Version             int
	SimilarityScore     float64
	AIScore             float64
	FlaggedSpans        []Span
	Notes               string
	SimilarityReportURL string
	AIReportURL         string
	Approved            bool
	CreatedAt           time.Time
}

// Payout is money owed for one accepted chunk. At most one payout exists per
// chunk; the schema enforces the uniqueness.
type Payout struct {
	ID           int64
	CheckerID    int64
	ChunkID      int64
	LotID        int64
	AmountPence  int64
	AmountStable decimal.Decimal
	Status       PayoutStatus
	TxHash       string
	ErrorMessage string
	CreatedAt    time.Time
	PaidAt       *time.Time
}

// Escrow records funds locked on-chain against a lot. Rows are keyed by a
// client-generated attempt id so the record exists before the lock transaction
// is broadcast; the transaction hash is filled in at broadcast time.
type Escrow struct {
	ID              string
	TxHash          string
	LotID           int64
	UserWallet      string
	AmountStable    decimal.Decimal
	ContractAddress string
	Status          EscrowStatus
	LockedAt        *time.Time
	ReleasedAt      *time.Time
	LastError       string
	CreatedAt       time.Time
}

// HealthSummary describes aggregated chunk counts per key lifecycle states.
type HealthSummary struct {
	TotalChunks int
	Open        int
	Checking    int
	NeedsEdit   int
	Done        int
	Lots        int
	PendingPay  int
	FailedPay   int
}
