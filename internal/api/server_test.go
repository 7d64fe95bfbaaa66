package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"veriflow/internal/config"
	"veriflow/internal/escrow"
	"veriflow/internal/lease"
	"veriflow/internal/market"
	"veriflow/internal/notifications"
	"veriflow/internal/payout"
	"veriflow/internal/services/chain"
	"veriflow/internal/submission"
	"veriflow/internal/testsupport"
)

type testHarness struct {
	cfg     *config.Config
	store   *market.Store
	gateway *chain.Fake
	server  *httptest.Server
}

func newHarness(t *testing.T, opts ...testsupport.ConfigOption) *testHarness {
	t.Helper()

	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenStore(t, cfg)
	engine, err := payout.NewEngine(cfg, payout.FlatRate(cfg.Payout.RatePence))
	if err != nil {
		t.Fatalf("payout.NewEngine: %v", err)
	}
	gateway := chain.NewFake()
	notifier := notifications.NewService(cfg)
	leases := lease.NewManager(store, cfg, zap.NewNop())
	processor := submission.NewProcessor(store, engine, notifier, cfg, zap.NewNop())
	settler := escrow.NewSettler(store, gateway, engine, notifier, cfg, zap.NewNop())

	srv := NewServer(cfg, store, leases, processor, settler, engine, nil, "test", zap.NewNop())
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	return &testHarness{cfg: cfg, store: store, gateway: gateway, server: ts}
}

func (h *testHarness) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, h.server.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, buf.Bytes()
}

func decodeInto(t *testing.T, raw []byte, dst any) {
	t.Helper()
	if err := json.Unmarshal(raw, dst); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
}

func sampleDocument(words int) string {
	parts := make([]string, words)
	for i := range parts {
		parts[i] = fmt.Sprintf("word%d", i)
	}
	return strings.Join(parts, " ")
}

func TestStatusEndpoint(t *testing.T) {
	h := newHarness(t)
	testsupport.NewLot(t, h.store, "0x00000000000000000000000000000000000000aa", 2)

	resp, raw := h.do(t, http.MethodGet, "/api/status", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body StatusResponse
	decodeInto(t, raw, &body)
	if body.Version != "test" {
		t.Errorf("version = %q", body.Version)
	}
	if body.TotalChunks != 2 || body.OpenChunks != 2 || body.Lots != 1 {
		t.Errorf("counts = %+v", body)
	}
	if body.WorkflowRunning {
		t.Error("workflow should read as stopped with no manager wired")
	}
}

func TestIngestCreatesLotAndChunks(t *testing.T) {
	h := newHarness(t)

	resp, raw := h.do(t, http.MethodPost, "/api/lots", ingestRequest{
		UserWallet: "0x00000000000000000000000000000000000000aa",
		Title:      "Dissertation chapter 3",
		Content:    sampleDocument(680),
		Strategy:   "simple",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d: %s", resp.StatusCode, raw)
	}
	var lot LotView
	decodeInto(t, raw, &lot)
	if lot.TotalChunks != 2 {
		t.Fatalf("total chunks = %d, want 2", lot.TotalChunks)
	}
	if lot.Status != string(market.LotProcessing) {
		t.Errorf("lot status = %q", lot.Status)
	}

	resp, raw = h.do(t, http.MethodGet, fmt.Sprintf("/api/lots/%d", lot.ID), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get lot status = %d", resp.StatusCode)
	}
	var detail LotDetail
	decodeInto(t, raw, &detail)
	if len(detail.Chunks) != 2 {
		t.Fatalf("chunk count = %d", len(detail.Chunks))
	}
	for _, chunk := range detail.Chunks {
		if chunk.Status != string(market.ChunkOpen) {
			t.Errorf("chunk %d status = %q", chunk.ID, chunk.Status)
		}
		if chunk.BountyPence != 18 || chunk.BountyStable != "0.2286" {
			t.Errorf("chunk %d bounty = %d/%s", chunk.ID, chunk.BountyPence, chunk.BountyStable)
		}
	}
}

func TestIngestRejectsEmptyContent(t *testing.T) {
	h := newHarness(t)

	resp, _ := h.do(t, http.MethodPost, "/api/lots", ingestRequest{
		UserWallet: "0x00000000000000000000000000000000000000aa",
		Title:      "Empty",
		Content:    "   ",
	})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}
}

func TestClaimSubmitLifecycle(t *testing.T) {
	h := newHarness(t)
	lot := testsupport.NewLot(t, h.store, "0x00000000000000000000000000000000000000aa", 1)
	testsupport.FundLot(t, h.store, lot.ID, decimal.RequireFromString("1.00"))
	chunks, err := h.store.ChunksByLot(context.Background(), lot.ID)
	if err != nil {
		t.Fatalf("ChunksByLot: %v", err)
	}
	chunkID := chunks[0].ID

	resp, raw := h.do(t, http.MethodPost, "/api/checker/register", registerRequest{
		Wallet: "0x00000000000000000000000000000000000000cc",
		Name:   "Priya",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status = %d: %s", resp.StatusCode, raw)
	}
	var checker CheckerView
	decodeInto(t, raw, &checker)

	resp, raw = h.do(t, http.MethodPost, "/api/checker/claim", claimRequest{ChunkID: chunkID, CheckerID: checker.ID})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("claim status = %d: %s", resp.StatusCode, raw)
	}
	var claim ClaimResponse
	decodeInto(t, raw, &claim)
	if claim.ChunkID != chunkID || claim.Content == "" {
		t.Fatalf("claim = %+v", claim)
	}
	if claim.BountyPence != 18 || claim.BountyStable != "0.2286" {
		t.Errorf("bounty = %d/%s", claim.BountyPence, claim.BountyStable)
	}
	if claim.TimeoutMinutes != h.cfg.Market.LeaseMinutes {
		t.Errorf("timeout = %d, want %d", claim.TimeoutMinutes, h.cfg.Market.LeaseMinutes)
	}

	// A rival arriving after the claim sees the chunk as gone, not as a
	// conflict to retry.
	rival := testsupport.NewChecker(t, h.store, "0x00000000000000000000000000000000000000dd")
	resp, raw = h.do(t, http.MethodPost, "/api/checker/claim", claimRequest{ChunkID: chunkID, CheckerID: rival.ID})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("rival claim status = %d: %s", resp.StatusCode, raw)
	}

	resp, raw = h.do(t, http.MethodPost, "/api/checker/submit", submitRequest{
		ChunkID:          chunkID,
		CheckerID:        checker.ID,
		SimilarityScore:  8.5,
		AIScore:          0,
		SimilarityReport: "https://reports.example.org/sim/1",
		AIReport:         "https://reports.example.org/ai/1",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("submit status = %d: %s", resp.StatusCode, raw)
	}
	var result SubmitResponse
	decodeInto(t, raw, &result)
	if !result.Success || result.NeedsRewrite {
		t.Fatalf("submit result = %+v", result)
	}
	if !result.LotCompleted {
		t.Error("single-chunk lot should complete on acceptance")
	}

	resp, raw = h.do(t, http.MethodGet, fmt.Sprintf("/api/checker/status/%d", chunkID), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("chunk status = %d", resp.StatusCode)
	}
	var detail ChunkDetail
	decodeInto(t, raw, &detail)
	if detail.Status != string(market.ChunkDone) {
		t.Errorf("chunk status = %q, want done", detail.Status)
	}
	if detail.LatestSubmission == nil || !detail.LatestSubmission.Approved {
		t.Errorf("latest submission = %+v", detail.LatestSubmission)
	}

	resp, raw = h.do(t, http.MethodGet, "/api/payments/payouts?status=pending", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("payouts status = %d", resp.StatusCode)
	}
	var payouts []PayoutView
	decodeInto(t, raw, &payouts)
	if len(payouts) != 1 || payouts[0].AmountStable != "0.2286" {
		t.Fatalf("payouts = %+v", payouts)
	}
}

func TestReopenChunkAfterRejection(t *testing.T) {
	h := newHarness(t)
	lot := testsupport.NewLot(t, h.store, "0x00000000000000000000000000000000000000aa", 1)
	testsupport.FundLot(t, h.store, lot.ID, decimal.RequireFromString("1.00"))
	chunks, _ := h.store.ChunksByLot(context.Background(), lot.ID)
	checker := testsupport.NewChecker(t, h.store, "0x00000000000000000000000000000000000000cc")

	resp, raw := h.do(t, http.MethodPost, "/api/checker/claim", claimRequest{ChunkID: chunks[0].ID, CheckerID: checker.ID})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("claim status = %d: %s", resp.StatusCode, raw)
	}
	resp, raw = h.do(t, http.MethodPost, "/api/checker/submit", submitRequest{
		ChunkID:         chunks[0].ID,
		CheckerID:       checker.ID,
		SimilarityScore: 40,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("submit status = %d: %s", resp.StatusCode, raw)
	}
	var result SubmitResponse
	decodeInto(t, raw, &result)
	if !result.NeedsRewrite {
		t.Fatalf("high similarity should flag a rewrite: %+v", result)
	}

	// The owner edits the text and puts the chunk back on the market.
	path := fmt.Sprintf("/api/lots/%d/chunks/%d/reopen", lot.ID, chunks[0].ID)
	resp, raw = h.do(t, http.MethodPost, path, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reopen status = %d: %s", resp.StatusCode, raw)
	}
	var summary ChunkSummary
	decodeInto(t, raw, &summary)
	if summary.Status != string(market.ChunkOpen) {
		t.Errorf("reopened chunk status = %q, want open", summary.Status)
	}

	// An already-open chunk has nothing to reopen.
	resp, _ = h.do(t, http.MethodPost, path, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second reopen status = %d, want 409", resp.StatusCode)
	}

	// The chunk must belong to the lot in the path.
	resp, _ = h.do(t, http.MethodPost, fmt.Sprintf("/api/lots/%d/chunks/%d/reopen", lot.ID+1, chunks[0].ID), nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("wrong-lot reopen status = %d, want 404", resp.StatusCode)
	}
}

func TestApproveLotAppliesRating(t *testing.T) {
	h := newHarness(t)
	wallet := "0x00000000000000000000000000000000000000cc"
	lot := testsupport.NewLot(t, h.store, "0x00000000000000000000000000000000000000aa", 1)
	testsupport.FundLot(t, h.store, lot.ID, decimal.RequireFromString("1.00"))
	chunks, _ := h.store.ChunksByLot(context.Background(), lot.ID)
	checker := testsupport.NewChecker(t, h.store, wallet)

	resp, raw := h.do(t, http.MethodPost, "/api/checker/claim", claimRequest{ChunkID: chunks[0].ID, CheckerID: checker.ID})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("claim status = %d: %s", resp.StatusCode, raw)
	}
	resp, raw = h.do(t, http.MethodPost, "/api/checker/submit", submitRequest{
		ChunkID:         chunks[0].ID,
		CheckerID:       checker.ID,
		SimilarityScore: 8.5,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("submit status = %d: %s", resp.StatusCode, raw)
	}

	approvePath := fmt.Sprintf("/api/lots/%d/approve", lot.ID)
	resp, _ = h.do(t, http.MethodPost, approvePath, map[string]float64{"rating": 6})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("out-of-range rating status = %d, want 422", resp.StatusCode)
	}

	resp, raw = h.do(t, http.MethodPost, approvePath, map[string]float64{"rating": 4.5})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("approve status = %d: %s", resp.StatusCode, raw)
	}
	var view LotView
	decodeInto(t, raw, &view)
	if view.Status != string(market.LotCompleted) {
		t.Errorf("lot status = %q, want completed", view.Status)
	}

	resp, raw = h.do(t, http.MethodGet, "/api/checker/earnings?wallet="+wallet, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("earnings status = %d", resp.StatusCode)
	}
	var earnings EarningsResponse
	decodeInto(t, raw, &earnings)
	if earnings.AverageRating != 4.5 {
		t.Errorf("average rating = %v, want 4.5", earnings.AverageRating)
	}
}

func TestListFiltersRejectUnknownStatus(t *testing.T) {
	h := newHarness(t)

	resp, _ := h.do(t, http.MethodGet, "/api/checker/chunks?status=zigzag", nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("chunk filter status = %d, want 422", resp.StatusCode)
	}
	resp, _ = h.do(t, http.MethodGet, "/api/payments/payouts?status=zigzag", nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("payout filter status = %d, want 422", resp.StatusCode)
	}
}

func TestClaimCapReturnsTooManyRequests(t *testing.T) {
	h := newHarness(t, testsupport.WithMaxActiveClaims(1))
	lot := testsupport.NewLot(t, h.store, "0x00000000000000000000000000000000000000aa", 2)
	chunks, err := h.store.ChunksByLot(context.Background(), lot.ID)
	if err != nil {
		t.Fatalf("ChunksByLot: %v", err)
	}
	checker := testsupport.NewChecker(t, h.store, "0x00000000000000000000000000000000000000cc")

	resp, raw := h.do(t, http.MethodPost, "/api/checker/claim", claimRequest{ChunkID: chunks[0].ID, CheckerID: checker.ID})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first claim status = %d: %s", resp.StatusCode, raw)
	}
	resp, raw = h.do(t, http.MethodPost, "/api/checker/claim", claimRequest{ChunkID: chunks[1].ID, CheckerID: checker.ID})
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second claim status = %d: %s", resp.StatusCode, raw)
	}
}

func TestReleaseByNonHolder(t *testing.T) {
	h := newHarness(t)
	lot := testsupport.NewLot(t, h.store, "0x00000000000000000000000000000000000000aa", 1)
	chunks, _ := h.store.ChunksByLot(context.Background(), lot.ID)
	holder := testsupport.NewChecker(t, h.store, "0x00000000000000000000000000000000000000cc")
	other := testsupport.NewChecker(t, h.store, "0x00000000000000000000000000000000000000dd")

	if _, err := h.store.ClaimChunk(context.Background(), chunks[0].ID, holder.ID, chunks[0].CreatedAt); err != nil {
		t.Fatalf("ClaimChunk: %v", err)
	}
	resp, _ := h.do(t, http.MethodPost, "/api/checker/release", releaseRequest{ChunkID: chunks[0].ID, CheckerID: other.ID})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("release status = %d, want 404", resp.StatusCode)
	}
	resp, _ = h.do(t, http.MethodPost, "/api/checker/release", releaseRequest{ChunkID: chunks[0].ID, CheckerID: holder.ID})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("holder release status = %d", resp.StatusCode)
	}
}

func TestQuoteEndpoint(t *testing.T) {
	h := newHarness(t)

	resp, raw := h.do(t, http.MethodPost, "/api/payments/quote", quoteRequest{WordCount: 1000})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var quote QuoteResponse
	decodeInto(t, raw, &quote)
	if quote.EstimatedChunks != 3 {
		t.Errorf("chunks = %d", quote.EstimatedChunks)
	}
	if quote.TotalCost != "0.6858" || quote.EscrowWithBuffer != "0.75438" {
		t.Errorf("quote = %+v", quote)
	}

	resp, _ = h.do(t, http.MethodPost, "/api/payments/quote", quoteRequest{WordCount: 0})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("zero word count status = %d", resp.StatusCode)
	}
}

func TestEscrowEndpoint(t *testing.T) {
	h := newHarness(t)
	wallet := "0x00000000000000000000000000000000000000aa"
	lot := testsupport.NewLot(t, h.store, wallet, 2)
	h.gateway.SetBalance(common.HexToAddress(wallet), decimal.RequireFromString("10"))

	resp, raw := h.do(t, http.MethodPost, "/api/payments/escrow", escrowRequest{UserWallet: wallet, LotID: lot.ID})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d: %s", resp.StatusCode, raw)
	}
	var view EscrowView
	decodeInto(t, raw, &view)
	if view.Status != string(market.EscrowLocked) {
		t.Errorf("escrow status = %q, want locked", view.Status)
	}
	if view.AmountStable != "0.50292" {
		t.Errorf("amount = %s", view.AmountStable)
	}

	if view.ID == "" {
		t.Error("escrow response missing id")
	}
	resp, raw = h.do(t, http.MethodGet, "/api/payments/escrow/"+view.ID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get escrow status = %d: %s", resp.StatusCode, raw)
	}

	// The on-chain hash works as a lookup key too.
	resp, raw = h.do(t, http.MethodGet, "/api/payments/escrow/"+view.TxHash, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get escrow by hash status = %d: %s", resp.StatusCode, raw)
	}

	// Empty wallet cannot fund a second lot.
	broke := "0x00000000000000000000000000000000000000ee"
	lot2 := testsupport.NewLot(t, h.store, broke, 1)
	resp, _ = h.do(t, http.MethodPost, "/api/payments/escrow", escrowRequest{UserWallet: broke, LotID: lot2.ID})
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("underfunded status = %d, want 402", resp.StatusCode)
	}
}

func TestEarningsEndpoint(t *testing.T) {
	h := newHarness(t)
	checker := testsupport.NewChecker(t, h.store, "0x00000000000000000000000000000000000000cc")

	resp, raw := h.do(t, http.MethodGet, "/api/checker/earnings?wallet="+checker.Wallet, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var earnings EarningsResponse
	decodeInto(t, raw, &earnings)
	if earnings.Wallet != checker.Wallet || earnings.TotalPaidStable != "0" {
		t.Errorf("earnings = %+v", earnings)
	}

	resp, _ = h.do(t, http.MethodGet, "/api/checker/earnings?wallet=0xnobody", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown wallet status = %d", resp.StatusCode)
	}
}

func TestBearerTokenAuth(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Paths.APIToken = "secret-token"
	store := testsupport.MustOpenStore(t, cfg)
	engine, err := payout.NewEngine(cfg, payout.FlatRate(cfg.Payout.RatePence))
	if err != nil {
		t.Fatalf("payout.NewEngine: %v", err)
	}
	notifier := notifications.NewService(cfg)
	leases := lease.NewManager(store, cfg, zap.NewNop())
	processor := submission.NewProcessor(store, engine, notifier, cfg, zap.NewNop())
	settler := escrow.NewSettler(store, chain.NewFake(), engine, notifier, cfg, zap.NewNop())
	srv := NewServer(cfg, store, leases, processor, settler, engine, nil, "test", zap.NewNop())
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/status")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no token status = %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/status", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get with token: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("token status = %d, want 200", resp.StatusCode)
	}
}

func TestMalformedBody(t *testing.T) {
	h := newHarness(t)

	req, _ := http.NewRequest(http.MethodPost, h.server.URL+"/api/checker/claim", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}
