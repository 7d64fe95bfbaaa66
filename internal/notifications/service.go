package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"veriflow/internal/config"
)

const userAgent = "Veriflow/0.1.0"

// Service delivers chunk and lot status callbacks to the checking gateway.
type Service interface {
	NotifyChunkDone(ctx context.Context, lotID, chunkID, checkerID int64, reportURL string) error
	NotifyChunkNeedsEdit(ctx context.Context, lotID, chunkID int64, similarity, aiScore float64) error
	NotifyLotCompleted(ctx context.Context, lotID int64, totalChunks int) error
	NotifyError(ctx context.Context, err error, context string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a callback service backed by the configured gateway.
// When no gateway URL is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	endpoint := strings.TrimSpace(cfg.Callbacks.GatewayURL)
	if endpoint == "" {
		return noopService{}
	}

	timeout := cfg.Callbacks.RequestTimeoutDuration()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &gatewayService{
		endpoint:       strings.TrimRight(endpoint, "/"),
		client:         &http.Client{Timeout: timeout},
		chunkDone:      cfg.Callbacks.ChunkDone,
		chunkNeedsEdit: cfg.Callbacks.ChunkNeedsEdit,
		lotCompleted:   cfg.Callbacks.LotCompleted,
		errors:         cfg.Callbacks.Errors,
	}
}

type gatewayService struct {
	endpoint       string
	client         *http.Client
	chunkDone      bool
	chunkNeedsEdit bool
	lotCompleted   bool
	errors         bool
}

type event struct {
	Event      string  `json:"event"`
	LotID      int64   `json:"lot_id,omitempty"`
	ChunkID    int64   `json:"chunk_id,omitempty"`
	CheckerID  int64   `json:"checker_id,omitempty"`
	ReportURL  string  `json:"report_url,omitempty"`
	Similarity float64 `json:"similarity_score,omitempty"`
	AIScore    float64 `json:"ai_score,omitempty"`
	Chunks     int     `json:"total_chunks,omitempty"`
	Message    string  `json:"message,omitempty"`
}

func (g *gatewayService) NotifyChunkDone(ctx context.Context, lotID, chunkID, checkerID int64, reportURL string) error {
	if !g.chunkDone {
		return nil
	}
	return g.send(ctx, event{
		Event:     "chunk_done",
		LotID:     lotID,
		ChunkID:   chunkID,
		CheckerID: checkerID,
		ReportURL: reportURL,
	})
}

func (g *gatewayService) NotifyChunkNeedsEdit(ctx context.Context, lotID, chunkID int64, similarity, aiScore float64) error {
	if !g.chunkNeedsEdit {
		return nil
	}
	return g.send(ctx, event{
		Event:      "chunk_needs_edit",
		LotID:      lotID,
		ChunkID:    chunkID,
		Similarity: similarity,
		AIScore:    aiScore,
	})
}

func (g *gatewayService) NotifyLotCompleted(ctx context.Context, lotID int64, totalChunks int) error {
	if !g.lotCompleted {
		return nil
	}
	return g.send(ctx, event{
		Event:  "lot_completed",
		LotID:  lotID,
		Chunks: totalChunks,
	})
}

func (g *gatewayService) NotifyError(ctx context.Context, err error, contextLabel string) error {
	if !g.errors {
		return nil
	}
	message := "unknown"
	if err != nil {
		message = strings.TrimSpace(err.Error())
	}
	if contextLabel = strings.TrimSpace(contextLabel); contextLabel != "" {
		message = contextLabel + ": " + message
	}
	return g.send(ctx, event{Event: "error", Message: message})
}

func (g *gatewayService) TestNotification(ctx context.Context) error {
	return g.send(ctx, event{Event: "test", Message: "callback channel test"})
}

func (g *gatewayService) send(ctx context.Context, data event) error {
	if g == nil || g.client == nil {
		return nil
	}

	encoded, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode callback: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint+"/callbacks", bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("build callback request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("send callback: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyChunkDone(context.Context, int64, int64, int64, string) error { return nil }
func (noopService) NotifyChunkNeedsEdit(context.Context, int64, int64, float64, float64) error {
	return nil
}
func (noopService) NotifyLotCompleted(context.Context, int64, int) error { return nil }
func (noopService) NotifyError(context.Context, error, string) error    { return nil }
func (noopService) TestNotification(context.Context) error              { return nil }
