package submission

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"veriflow/internal/config"
	"veriflow/internal/market"
	"veriflow/internal/notifications"
	"veriflow/internal/payout"
	"veriflow/internal/services"
)

// Request is one checker result for a claimed chunk.
type Request struct {
	ChunkID             int64
	CheckerID           int64
	SimilarityScore     float64
	AIScore             float64
	FlaggedSpans        []market.Span
	Notes               string
	SimilarityReportURL string
	AIReportURL         string
}

// Result reports the outcome of processing a submission.
type Result struct {
	SubmissionID int64
	Version      int
	NeedsRewrite bool
	LotCompleted bool
	PayoutID     int64
}

// Policy holds the acceptance thresholds. A submission needs rewrite when
// similarity exceeds SimilarityMaxPercent or the AI score exceeds
// AIMaxPercent.
type Policy struct {
	SimilarityMaxPercent float64
	AIMaxPercent         float64
}

// Accepts reports whether the scores pass the policy.
func (p Policy) Accepts(similarity, aiScore float64) bool {
	return similarity <= p.SimilarityMaxPercent && aiScore <= p.AIMaxPercent
}

// Processor validates and records checker submissions. Acceptance, payout
// creation, and the lot aggregate advance happen inside one store
// transaction; callbacks fire after commit.
type Processor struct {
	store    *market.Store
	engine   *payout.Engine
	notifier notifications.Service
	logger   *zap.Logger
	policy   Policy
}

// NewProcessor wires a submission processor from configuration.
func NewProcessor(store *market.Store, engine *payout.Engine, notifier notifications.Service, cfg *config.Config, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		store:    store,
		engine:   engine,
		notifier: notifier,
		logger:   logger.Named("submission"),
		policy: Policy{
			SimilarityMaxPercent: cfg.Market.SimilarityMaxPercent,
			AIMaxPercent:         cfg.Market.AIMaxPercent,
		},
	}
}

// Submit records one checker result. The chunk must be leased by the calling
// checker; the lease is cleared whatever the outcome.
func (p *Processor) Submit(ctx context.Context, req Request) (*Result, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	chunk, err := p.store.GetChunk(ctx, req.ChunkID)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "submission", "submit", "load chunk", err)
	}
	if chunk == nil {
		return nil, services.Wrap(services.ErrNotFound, "submission", "submit", fmt.Sprintf("chunk %d", req.ChunkID), nil)
	}

	approved := p.policy.Accepts(req.SimilarityScore, req.AIScore)
	params := market.SubmissionParams{
		ChunkID:             req.ChunkID,
		CheckerID:           req.CheckerID,
		SimilarityScore:     req.SimilarityScore,
		AIScore:             req.AIScore,
		FlaggedSpans:        req.FlaggedSpans,
		Notes:               strings.TrimSpace(req.Notes),
		SimilarityReportURL: req.SimilarityReportURL,
		AIReportURL:         req.AIReportURL,
		Approved:            approved,
	}
	if approved {
		amount := p.engine.Compute(chunk.WordCount, "")
		params.AmountPence = amount.Pence
		params.AmountStable = amount.Stable
	}

	outcome, err := p.store.RecordSubmission(ctx, params)
	switch {
	case errors.Is(err, market.ErrChunkNotFound):
		return nil, services.Wrap(services.ErrNotFound, "submission", "submit", fmt.Sprintf("chunk %d", req.ChunkID), nil)
	case errors.Is(err, market.ErrNotLeased):
		return nil, services.Wrap(services.ErrNotOwned, "submission", "submit", "chunk not leased by caller", nil)
	case errors.Is(err, market.ErrChunkFinal):
		return nil, services.Wrap(services.ErrConflict, "submission", "submit", "chunk already verified", nil)
	case errors.Is(err, market.ErrPayoutExists):
		return nil, services.Wrap(services.ErrConflict, "submission", "submit", "payout already recorded", nil)
	case errors.Is(err, market.ErrEscrowExhausted):
		return nil, services.Wrap(services.ErrInsufficientFunds, "submission", "submit", "locked escrow cannot cover payout", nil)
	case err != nil:
		return nil, services.Wrap(services.ErrTransient, "submission", "submit", "record submission", err)
	}

	p.logger.Info("submission recorded",
		zap.Int64("chunk_id", req.ChunkID),
		zap.Int64("checker_id", req.CheckerID),
		zap.Int("version", outcome.Version),
		zap.Bool("approved", approved))

	p.dispatchCallbacks(ctx, chunk, req, approved, outcome)

	return &Result{
		SubmissionID: outcome.SubmissionID,
		Version:      outcome.Version,
		NeedsRewrite: !approved,
		LotCompleted: outcome.LotAdvanced,
		PayoutID:     outcome.PayoutID,
	}, nil
}

// dispatchCallbacks reports the outcome to the gateway. Callback failures are
// logged, never surfaced: the submission already committed.
func (p *Processor) dispatchCallbacks(ctx context.Context, chunk *market.Chunk, req Request, approved bool, outcome *market.SubmissionOutcome) {
	if p.notifier == nil {
		return
	}
	var err error
	if approved {
		err = p.notifier.NotifyChunkDone(ctx, chunk.LotID, chunk.ID, req.CheckerID, req.SimilarityReportURL)
	} else {
		err = p.notifier.NotifyChunkNeedsEdit(ctx, chunk.LotID, chunk.ID, req.SimilarityScore, req.AIScore)
	}
	if err != nil {
		p.logger.Warn("chunk callback failed", zap.Int64("chunk_id", chunk.ID), zap.Error(err))
	}
	if outcome.LotAdvanced {
		lot, lotErr := p.store.GetLot(ctx, chunk.LotID)
		if lotErr != nil || lot == nil {
			p.logger.Warn("lot lookup for callback failed", zap.Int64("lot_id", chunk.LotID), zap.Error(lotErr))
			return
		}
		if err := p.notifier.NotifyLotCompleted(ctx, lot.ID, lot.TotalChunks); err != nil {
			p.logger.Warn("lot callback failed", zap.Int64("lot_id", lot.ID), zap.Error(err))
		}
	}
}

func validate(req Request) error {
	if req.SimilarityScore < 0 || req.SimilarityScore > 100 {
		return services.Wrap(services.ErrValidation, "submission", "validate",
			fmt.Sprintf("similarity score %.2f outside [0, 100]", req.SimilarityScore), nil)
	}
	if req.AIScore < 0 || req.AIScore > 100 {
		return services.Wrap(services.ErrValidation, "submission", "validate",
			fmt.Sprintf("ai score %.2f outside [0, 100]", req.AIScore), nil)
	}
	for i, span := range req.FlaggedSpans {
		if span.Start < 0 || span.End <= span.Start {
			return services.Wrap(services.ErrValidation, "submission", "validate",
				fmt.Sprintf("flagged span %d has invalid bounds [%d, %d)", i, span.Start, span.End), nil)
		}
	}
	for _, link := range []string{req.SimilarityReportURL, req.AIReportURL} {
		if link == "" {
			continue
		}
		parsed, err := url.Parse(link)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
			return services.Wrap(services.ErrValidation, "submission", "validate",
				fmt.Sprintf("report url %q is not an http(s) link", link), nil)
		}
	}
	return nil
}
