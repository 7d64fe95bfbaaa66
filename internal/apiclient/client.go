// Package apiclient is the HTTP client the CLI uses to talk to a running
// veriflow daemon.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"veriflow/internal/api"
)

// ErrUnavailable indicates the daemon API could not be reached.
var ErrUnavailable = errors.New("daemon API unavailable")

// Client talks to the daemon's HTTP API.
type Client struct {
	base  *url.URL
	token string
	http  *http.Client
}

// New builds a client for the given bind address ("host:port" or a full URL).
func New(bind, token string) (*Client, error) {
	bind = strings.TrimSpace(bind)
	if bind == "" {
		return nil, errors.New("api bind address is required")
	}
	if !strings.Contains(bind, "://") {
		bind = "http://" + bind
	}
	base, err := url.Parse(bind)
	if err != nil {
		return nil, fmt.Errorf("parse api address: %w", err)
	}
	base.Path = ""
	base.RawQuery = ""
	base.Fragment = ""

	return &Client{
		base:  base,
		token: strings.TrimSpace(token),
		http:  &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Status fetches the daemon status report.
func (c *Client) Status(ctx context.Context) (api.StatusResponse, error) {
	var out api.StatusResponse
	err := c.do(ctx, http.MethodGet, "/api/status", nil, &out)
	return out, err
}

// Lots lists every lot.
func (c *Client) Lots(ctx context.Context) ([]api.LotView, error) {
	var out []api.LotView
	err := c.do(ctx, http.MethodGet, "/api/lots", nil, &out)
	return out, err
}

// Lot fetches one lot with its chunks.
func (c *Client) Lot(ctx context.Context, id int64) (api.LotDetail, error) {
	var out api.LotDetail
	err := c.do(ctx, http.MethodGet, "/api/lots/"+strconv.FormatInt(id, 10), nil, &out)
	return out, err
}

// IngestLot submits a document for splitting.
func (c *Client) IngestLot(ctx context.Context, userWallet, title, content, strategy string) (api.LotView, error) {
	body := map[string]string{
		"user_wallet": userWallet,
		"title":       title,
		"content":     content,
	}
	if strategy != "" {
		body["strategy"] = strategy
	}
	var out api.LotView
	err := c.do(ctx, http.MethodPost, "/api/lots", body, &out)
	return out, err
}

// ApproveLot marks a lot's verified output as accepted by the document owner.
// A non-nil rating is applied to every checker the lot paid.
func (c *Client) ApproveLot(ctx context.Context, id int64, rating *float64) (api.LotView, error) {
	var body any
	if rating != nil {
		body = map[string]float64{"rating": *rating}
	}
	var out api.LotView
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/lots/%d/approve", id), body, &out)
	return out, err
}

// Payouts lists payouts, optionally filtered by status.
func (c *Client) Payouts(ctx context.Context, status string) ([]api.PayoutView, error) {
	path := "/api/payments/payouts"
	if strings.TrimSpace(status) != "" {
		path += "?status=" + url.QueryEscape(status)
	}
	var out []api.PayoutView
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// RetryPayout requeues a failed payout for settlement.
func (c *Client) RetryPayout(ctx context.Context, id int64) (api.PayoutView, error) {
	var out api.PayoutView
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/payments/payouts/%d/retry", id), nil, &out)
	return out, err
}

// Quote estimates the escrow cost for a document of the given length.
func (c *Client) Quote(ctx context.Context, wordCount int) (api.QuoteResponse, error) {
	var out api.QuoteResponse
	err := c.do(ctx, http.MethodPost, "/api/payments/quote", map[string]int{"word_count": wordCount}, &out)
	return out, err
}

// Earnings fetches a checker's earnings by wallet.
func (c *Client) Earnings(ctx context.Context, wallet string) (api.EarningsResponse, error) {
	var out api.EarningsResponse
	err := c.do(ctx, http.MethodGet, "/api/checker/earnings?wallet="+url.QueryEscape(wallet), nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	endpoint := c.base.String() + path
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var failure struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if decodeErr := json.NewDecoder(resp.Body).Decode(&failure); decodeErr == nil && failure.Error.Message != "" {
			return fmt.Errorf("daemon returned %d: %s", resp.StatusCode, failure.Error.Message)
		}
		return fmt.Errorf("daemon returned status %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// IsUnavailable reports whether err looks like a failure to reach the daemon
// rather than an API-level error.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		err = urlErr.Err
	}
	var opErr *net.OpError
	return errors.Is(err, ErrUnavailable) || errors.As(err, &opErr)
}
