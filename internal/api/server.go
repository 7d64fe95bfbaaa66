package api

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"veriflow/internal/config"
	"veriflow/internal/escrow"
	"veriflow/internal/lease"
	"veriflow/internal/market"
	"veriflow/internal/payout"
	"veriflow/internal/services"
	"veriflow/internal/splitter"
	"veriflow/internal/submission"
)

// WorkflowStatus is the slice of the workflow manager the API reports on.
type WorkflowStatus interface {
	Running() bool
	LastError() error
}

// Server exposes the market over HTTP. The external gateway is the only
// intended caller; it authenticates with the configured bearer token.
type Server struct {
	store     *market.Store
	leases    *lease.Manager
	processor *submission.Processor
	settler   *escrow.Settler
	engine    *payout.Engine
	workflow  WorkflowStatus
	logger    *zap.Logger
	splitOpts splitter.Options
	token     string
	version   string
}

// NewServer wires the HTTP surface.
func NewServer(cfg *config.Config, store *market.Store, leases *lease.Manager, processor *submission.Processor, settler *escrow.Settler, engine *payout.Engine, workflow WorkflowStatus, version string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := splitter.DefaultOptions()
	opts.TargetWords = cfg.Market.TargetWords
	opts.MinWords = cfg.Market.MinWords
	opts.MaxWords = cfg.Market.MaxWords
	opts.OverlapWords = cfg.Market.OverlapWords
	return &Server{
		store:     store,
		leases:    leases,
		processor: processor,
		settler:   settler,
		engine:    engine,
		workflow:  workflow,
		logger:    logger.Named("api"),
		splitOpts: opts,
		token:     strings.TrimSpace(cfg.Paths.APIToken),
		version:   version,
	}
}

// Router builds the chi handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requireToken)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)

		r.Route("/lots", func(r chi.Router) {
			r.Post("/", s.handleIngest)
			r.Get("/", s.handleListLots)
			r.Get("/{lotID}", s.handleGetLot)
			r.Post("/{lotID}/approve", s.handleApproveLot)
			r.Post("/{lotID}/chunks/{chunkID}/reopen", s.handleReopenChunk)
		})

		r.Route("/checker", func(r chi.Router) {
			r.Post("/register", s.handleRegister)
			r.Get("/chunks", s.handleListChunks)
			r.Post("/claim", s.handleClaim)
			r.Post("/release", s.handleRelease)
			r.Post("/submit", s.handleSubmit)
			r.Get("/earnings", s.handleEarnings)
			r.Get("/status/{chunkID}", s.handleChunkStatus)
		})

		r.Route("/payments", func(r chi.Router) {
			r.Post("/quote", s.handleQuote)
			r.Post("/escrow", s.handleCreateEscrow)
			r.Get("/escrow/{escrowID}", s.handleGetEscrow)
			r.Get("/payouts", s.handleListPayouts)
			r.Post("/payouts/{payoutID}/retry", s.handleRetryPayout)
		})
	})
	return r
}

// requireToken enforces bearer auth when a token is configured.
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			next.ServeHTTP(w, r)
			return
		}
		header := r.Header.Get("Authorization")
		presented, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(presented), []byte(s.token)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	health, err := s.store.Health(r.Context())
	if err != nil {
		writeServiceError(w, services.Wrap(services.ErrTransient, "api", "status", "health query", err))
		return
	}
	resp := StatusResponse{
		Version:         s.version,
		TotalChunks:     health.TotalChunks,
		OpenChunks:      health.Open,
		CheckingChunks:  health.Checking,
		NeedsEditChunks: health.NeedsEdit,
		DoneChunks:      health.Done,
		Lots:            health.Lots,
		PendingPayouts:  health.PendingPay,
		FailedPayouts:   health.FailedPay,
	}
	if s.workflow != nil {
		resp.WorkflowRunning = s.workflow.Running()
		if err := s.workflow.LastError(); err != nil {
			resp.LastError = err.Error()
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "malformed json body")
		return
	}
	opts := s.splitOpts
	if req.Strategy != "" {
		opts.Strategy = splitter.Strategy(req.Strategy)
	}
	drafts, err := splitter.Split(req.Content, opts)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "validation", err.Error())
		return
	}
	seeds := make([]market.ChunkSeed, len(drafts))
	for i, draft := range drafts {
		seeds[i] = market.ChunkSeed{
			Ordinal:     draft.Ordinal,
			Content:     draft.Content,
			WordCount:   draft.WordCount,
			TargetWords: opts.TargetWords,
			HasCitation: draft.HasCitation,
			Quality:     draft.QualityScore,
		}
	}
	lot, err := s.store.CreateLot(r.Context(), req.UserWallet, req.Title, seeds)
	if err != nil {
		writeServiceError(w, services.Wrap(services.ErrValidation, "api", "ingest", "create lot", err))
		return
	}
	s.logger.Info("lot ingested", zap.Int64("lot_id", lot.ID), zap.Int("chunks", lot.TotalChunks))
	writeJSON(w, http.StatusCreated, lotView(lot))
}

func (s *Server) handleListLots(w http.ResponseWriter, r *http.Request) {
	lots, err := s.store.ListLots(r.Context())
	if err != nil {
		writeServiceError(w, services.Wrap(services.ErrTransient, "api", "lots", "list lots", err))
		return
	}
	views := make([]LotView, len(lots))
	for i, lot := range lots {
		views[i] = lotView(lot)
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetLot(w http.ResponseWriter, r *http.Request) {
	lotID, ok := pathID(w, r, "lotID")
	if !ok {
		return
	}
	lot, err := s.store.GetLot(r.Context(), lotID)
	if err != nil {
		writeServiceError(w, services.Wrap(services.ErrTransient, "api", "lots", "load lot", err))
		return
	}
	if lot == nil {
		writeError(w, http.StatusNotFound, "not_found", "lot not found")
		return
	}
	chunks, err := s.store.ChunksByLot(r.Context(), lotID)
	if err != nil {
		writeServiceError(w, services.Wrap(services.ErrTransient, "api", "lots", "load chunks", err))
		return
	}
	summaries := make([]ChunkSummary, len(chunks))
	for i, chunk := range chunks {
		summaries[i] = s.chunkSummary(chunk)
	}
	writeJSON(w, http.StatusOK, LotDetail{Lot: lotView(lot), Chunks: summaries})
}

func (s *Server) handleApproveLot(w http.ResponseWriter, r *http.Request) {
	lotID, ok := pathID(w, r, "lotID")
	if !ok {
		return
	}
	var req approveRequest
	if r.ContentLength > 0 {
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "malformed json body")
			return
		}
	}
	if req.Rating != nil && (*req.Rating < 0 || *req.Rating > 5) {
		writeError(w, http.StatusUnprocessableEntity, "validation", "rating must be between 0 and 5")
		return
	}
	approved, err := s.store.ApproveLot(r.Context(), lotID)
	if err != nil {
		writeServiceError(w, services.Wrap(services.ErrTransient, "api", "lots", "approve lot", err))
		return
	}
	if !approved {
		writeError(w, http.StatusConflict, "conflict", "lot is not awaiting approval")
		return
	}
	if req.Rating != nil {
		rated, err := s.store.RateLotCheckers(r.Context(), lotID, *req.Rating)
		if err != nil {
			writeServiceError(w, services.Wrap(services.ErrTransient, "api", "lots", "rate checkers", err))
			return
		}
		s.logger.Info("lot checkers rated",
			zap.Int64("lot_id", lotID),
			zap.Float64("rating", *req.Rating),
			zap.Int("checkers", rated))
	}
	lot, err := s.store.GetLot(r.Context(), lotID)
	if err != nil || lot == nil {
		writeServiceError(w, services.Wrap(services.ErrTransient, "api", "lots", "reload lot", err))
		return
	}
	writeJSON(w, http.StatusOK, lotView(lot))
}

// handleReopenChunk puts an edited needs_edit chunk back on the market.
func (s *Server) handleReopenChunk(w http.ResponseWriter, r *http.Request) {
	lotID, ok := pathID(w, r, "lotID")
	if !ok {
		return
	}
	chunkID, ok := pathID(w, r, "chunkID")
	if !ok {
		return
	}
	chunk, err := s.store.GetChunk(r.Context(), chunkID)
	if err != nil {
		writeServiceError(w, services.Wrap(services.ErrTransient, "api", "lots", "load chunk", err))
		return
	}
	if chunk == nil || chunk.LotID != lotID {
		writeError(w, http.StatusNotFound, "not_found", "chunk not found in lot")
		return
	}
	reopened, err := s.store.ReopenChunk(r.Context(), chunkID)
	if err != nil {
		writeServiceError(w, services.Wrap(services.ErrTransient, "api", "lots", "reopen chunk", err))
		return
	}
	if !reopened {
		writeError(w, http.StatusConflict, "conflict", "chunk is not awaiting an edit")
		return
	}
	chunk, err = s.store.GetChunk(r.Context(), chunkID)
	if err != nil || chunk == nil {
		writeServiceError(w, services.Wrap(services.ErrTransient, "api", "lots", "reload chunk", err))
		return
	}
	writeJSON(w, http.StatusOK, s.chunkSummary(chunk))
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "malformed json body")
		return
	}
	checker, err := s.store.RegisterChecker(r.Context(), req.Wallet, req.Name, req.Contact, req.Country, req.Specialties)
	if err == market.ErrWalletTaken {
		writeError(w, http.StatusConflict, "conflict", "wallet already registered")
		return
	}
	if err != nil {
		writeServiceError(w, services.Wrap(services.ErrValidation, "api", "register", "register checker", err))
		return
	}
	writeJSON(w, http.StatusCreated, checkerView(checker))
}

func (s *Server) handleListChunks(w http.ResponseWriter, r *http.Request) {
	status := market.ChunkOpen
	if raw := r.URL.Query().Get("status"); raw != "" {
		parsed, ok := market.ParseChunkStatus(raw)
		if !ok {
			writeError(w, http.StatusUnprocessableEntity, "validation",
				fmt.Sprintf("status must be one of %s", statusNames(market.AllChunkStatuses())))
			return
		}
		status = parsed
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "bad_request", "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	chunks, err := s.store.ChunksByStatus(r.Context(), status, limit)
	if err != nil {
		writeServiceError(w, services.Wrap(services.ErrTransient, "api", "chunks", "list chunks", err))
		return
	}
	summaries := make([]ChunkSummary, len(chunks))
	for i, chunk := range chunks {
		summaries[i] = s.chunkSummary(chunk)
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "malformed json body")
		return
	}
	granted, err := s.leases.Claim(r.Context(), req.ChunkID, req.CheckerID)
	if err != nil {
		// A lost claim race reads as "no longer available", not a
		// conflict the caller can resolve.
		if errors.Is(err, services.ErrConflict) {
			writeError(w, http.StatusNotFound, "not_open", "chunk no longer available, claim another")
			return
		}
		writeServiceError(w, err)
		return
	}
	chunk, err := s.store.GetChunk(r.Context(), req.ChunkID)
	if err != nil || chunk == nil {
		writeServiceError(w, services.Wrap(services.ErrTransient, "api", "claim", "reload chunk", err))
		return
	}
	amount := s.engine.Compute(chunk.WordCount, "")
	writeJSON(w, http.StatusOK, ClaimResponse{
		ChunkID:        chunk.ID,
		Content:        chunk.Content,
		BountyPence:    amount.Pence,
		BountyStable:   amount.Stable.String(),
		ClaimedAt:      granted.ClaimedAt,
		ExpiresAt:      granted.ExpiresAt,
		TimeoutMinutes: int(s.leases.Duration() / time.Minute),
	})
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	var req releaseRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "malformed json body")
		return
	}
	if err := s.leases.Release(r.Context(), req.ChunkID, req.CheckerID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"released": true})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "malformed json body")
		return
	}
	result, err := s.processor.Submit(r.Context(), submission.Request{
		ChunkID:             req.ChunkID,
		CheckerID:           req.CheckerID,
		SimilarityScore:     req.SimilarityScore,
		AIScore:             req.AIScore,
		FlaggedSpans:        req.FlaggedSpans,
		Notes:               req.CheckerNotes,
		SimilarityReportURL: req.SimilarityReport,
		AIReportURL:         req.AIReport,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SubmitResponse{
		Success:      true,
		SubmissionID: result.SubmissionID,
		Version:      result.Version,
		NeedsRewrite: result.NeedsRewrite,
		LotCompleted: result.LotCompleted,
	})
}

func (s *Server) handleEarnings(w http.ResponseWriter, r *http.Request) {
	wallet := strings.TrimSpace(r.URL.Query().Get("wallet"))
	if wallet == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "wallet query parameter required")
		return
	}
	checker, err := s.store.GetCheckerByWallet(r.Context(), wallet)
	if err != nil {
		writeServiceError(w, services.Wrap(services.ErrTransient, "api", "earnings", "load checker", err))
		return
	}
	if checker == nil {
		writeError(w, http.StatusNotFound, "not_found", "no checker with that wallet")
		return
	}
	earnings, err := s.store.EarningsForChecker(r.Context(), checker.ID)
	if err != nil {
		writeServiceError(w, services.Wrap(services.ErrTransient, "api", "earnings", "sum earnings", err))
		return
	}
	writeJSON(w, http.StatusOK, EarningsResponse{
		Wallet:             checker.Wallet,
		TotalPaidStable:    earnings.TotalPaidStable.String(),
		PendingPayoutCount: earnings.PendingPayoutCount,
		FailedPayoutCount:  earnings.FailedPayoutCount,
		CompletedChunks:    checker.ChunksCompleted,
		AverageRating:      checker.AverageRating(),
	})
}

func (s *Server) handleChunkStatus(w http.ResponseWriter, r *http.Request) {
	chunkID, ok := pathID(w, r, "chunkID")
	if !ok {
		return
	}
	chunk, err := s.store.GetChunk(r.Context(), chunkID)
	if err != nil {
		writeServiceError(w, services.Wrap(services.ErrTransient, "api", "chunk", "load chunk", err))
		return
	}
	if chunk == nil {
		writeError(w, http.StatusNotFound, "not_found", "chunk not found")
		return
	}
	detail := ChunkDetail{
		ChunkSummary:        s.chunkSummary(chunk),
		SubmissionVersion:   chunk.SubmissionVersion,
		SimilarityReportURL: chunk.SimilarityReportURL,
		AIReportURL:         chunk.AIReportURL,
	}
	latest, err := s.store.LatestSubmission(r.Context(), chunkID)
	if err != nil {
		writeServiceError(w, services.Wrap(services.ErrTransient, "api", "chunk", "load submission", err))
		return
	}
	if latest != nil {
		detail.LatestSubmission = &SubmissionView{
			ID:              latest.ID,
			CheckerID:       latest.CheckerID,
			Version:         latest.Version,
			SimilarityScore: latest.SimilarityScore,
			AIScore:         latest.AIScore,
			Approved:        latest.Approved,
			CreatedAt:       latest.CreatedAt,
		}
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "malformed json body")
		return
	}
	quote, err := s.engine.QuoteEscrow(req.WordCount)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "validation", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, QuoteResponse{
		EstimatedChunks:  quote.EstimatedChunks,
		CostPerChunk:     quote.CostPerChunk.String(),
		TotalCost:        quote.TotalCost.String(),
		EscrowWithBuffer: quote.EscrowAmount.String(),
	})
}

func (s *Server) handleCreateEscrow(w http.ResponseWriter, r *http.Request) {
	var req escrowRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "malformed json body")
		return
	}
	record, err := s.settler.CreateEscrow(r.Context(), req.UserWallet, req.LotID)
	if err != nil && record == nil {
		writeServiceError(w, err)
		return
	}
	// A broadcast that has not confirmed yet still returns the record; the
	// settlement loop finishes the job.
	status := http.StatusCreated
	if err != nil {
		status = http.StatusAccepted
	}
	writeJSON(w, status, escrowView(record))
}

func (s *Server) handleGetEscrow(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "escrowID")
	record, err := s.store.GetEscrow(r.Context(), ref)
	if err != nil {
		writeServiceError(w, services.Wrap(services.ErrTransient, "api", "escrow", "load escrow", err))
		return
	}
	// Callers holding only the on-chain hash may look up by it too.
	if record == nil && strings.HasPrefix(ref, "0x") {
		record, err = s.store.GetEscrowByTxHash(r.Context(), ref)
		if err != nil {
			writeServiceError(w, services.Wrap(services.ErrTransient, "api", "escrow", "load escrow", err))
			return
		}
	}
	if record == nil {
		writeError(w, http.StatusNotFound, "not_found", "escrow not found")
		return
	}
	writeJSON(w, http.StatusOK, escrowView(record))
}

func (s *Server) handleListPayouts(w http.ResponseWriter, r *http.Request) {
	var statuses []market.PayoutStatus
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		parsed, ok := market.ParsePayoutStatus(raw)
		if !ok {
			writeError(w, http.StatusUnprocessableEntity, "validation",
				"status must be one of pending, paid, failed")
			return
		}
		statuses = append(statuses, parsed)
	}
	payouts, err := s.store.ListPayouts(r.Context(), statuses...)
	if err != nil {
		writeServiceError(w, services.Wrap(services.ErrTransient, "api", "payouts", "list payouts", err))
		return
	}
	views := make([]PayoutView, len(payouts))
	for i, row := range payouts {
		views[i] = payoutView(row)
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleRetryPayout(w http.ResponseWriter, r *http.Request) {
	payoutID, ok := pathID(w, r, "payoutID")
	if !ok {
		return
	}
	retried, err := s.store.RetryPayout(r.Context(), payoutID)
	if err != nil {
		writeServiceError(w, services.Wrap(services.ErrTransient, "api", "payouts", "retry payout", err))
		return
	}
	if !retried {
		writeError(w, http.StatusConflict, "conflict", "payout is not in a failed state")
		return
	}
	row, err := s.store.GetPayout(r.Context(), payoutID)
	if err != nil || row == nil {
		writeServiceError(w, services.Wrap(services.ErrTransient, "api", "payouts", "reload payout", err))
		return
	}
	writeJSON(w, http.StatusOK, payoutView(row))
}

func (s *Server) chunkSummary(chunk *market.Chunk) ChunkSummary {
	amount := s.engine.Compute(chunk.WordCount, "")
	return ChunkSummary{
		ID:           chunk.ID,
		LotID:        chunk.LotID,
		Ordinal:      chunk.Ordinal,
		WordCount:    chunk.WordCount,
		Status:       string(chunk.Status),
		BountyPence:  amount.Pence,
		BountyStable: amount.Stable.String(),
		CreatedAt:    chunk.CreatedAt,
	}
}

func statusNames(statuses []market.ChunkStatus) string {
	names := make([]string, len(statuses))
	for i, status := range statuses {
		names[i] = string(status)
	}
	return strings.Join(names, ", ")
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "bad_request", name+" must be a positive integer")
		return 0, false
	}
	return id, true
}

func lotView(lot *market.Lot) LotView {
	return LotView{
		ID:          lot.ID,
		UserWallet:  lot.UserWallet,
		Title:       lot.Title,
		Status:      string(lot.Status),
		TotalChunks: lot.TotalChunks,
		CreatedAt:   lot.CreatedAt,
	}
}

func checkerView(checker *market.Checker) CheckerView {
	return CheckerView{
		ID:              checker.ID,
		Wallet:          checker.Wallet,
		Name:            checker.Name,
		Active:          checker.Active,
		Specialties:     checker.Specialties,
		ChunksCompleted: checker.ChunksCompleted,
		AverageRating:   checker.AverageRating(),
	}
}

func escrowView(record *market.Escrow) EscrowView {
	return EscrowView{
		ID:           record.ID,
		TxHash:       record.TxHash,
		LotID:        record.LotID,
		UserWallet:   record.UserWallet,
		AmountStable: record.AmountStable.String(),
		Status:       string(record.Status),
		LockedAt:     record.LockedAt,
		ReleasedAt:   record.ReleasedAt,
		LastError:    record.LastError,
	}
}

func payoutView(row *market.Payout) PayoutView {
	view := PayoutView{
		ID:           row.ID,
		CheckerID:    row.CheckerID,
		ChunkID:      row.ChunkID,
		AmountPence:  row.AmountPence,
		AmountStable: row.AmountStable.String(),
		Status:       string(row.Status),
		TxHash:       row.TxHash,
		PaidAt:       row.PaidAt,
		CreatedAt:    row.CreatedAt,
	}
	view.ErrorMessage = row.ErrorMessage
	return view
}
