package apiclient_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"veriflow/internal/api"
	"veriflow/internal/apiclient"
)

func TestNewRequiresBind(t *testing.T) {
	if _, err := apiclient.New("", ""); err == nil {
		t.Fatal("expected error for empty bind")
	}
}

func TestStatusDecodesAndSendsToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Path != "/api/status" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(api.StatusResponse{
			Version:     "1.2.3",
			TotalChunks: 7,
			OpenChunks:  3,
		})
	}))
	defer srv.Close()

	client, err := apiclient.New(srv.URL, "secret")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	status, err := client.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Version != "1.2.3" || status.TotalChunks != 7 {
		t.Fatalf("status = %+v", status)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("auth header = %q", gotAuth)
	}
}

func TestErrorBodySurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"request_id":"req_x","error":{"code":"conflict","message":"lot is not awaiting approval"}}`))
	}))
	defer srv.Close()

	client, err := apiclient.New(srv.URL, "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = client.ApproveLot(context.Background(), 4, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if got := err.Error(); got != "daemon returned 409: lot is not awaiting approval" {
		t.Fatalf("error = %q", got)
	}
}

func TestPayoutsStatusFilter(t *testing.T) {
	var gotStatus string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotStatus = r.URL.Query().Get("status")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	client, err := apiclient.New(srv.URL, "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := client.Payouts(context.Background(), "failed"); err != nil {
		t.Fatalf("Payouts: %v", err)
	}
	if gotStatus != "failed" {
		t.Fatalf("status filter = %q", gotStatus)
	}
}

func TestIsUnavailable(t *testing.T) {
	if !apiclient.IsUnavailable(apiclient.ErrUnavailable) {
		t.Fatal("expected ErrUnavailable to read as unavailable")
	}
	if apiclient.IsUnavailable(errors.New("other")) {
		t.Fatal("did not expect generic error to read as unavailable")
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	client, err := apiclient.New(srv.URL, "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	srv.Close()
	_, err = client.Status(context.Background())
	if err == nil || !apiclient.IsUnavailable(err) {
		t.Fatalf("expected connection refusal to read as unavailable, got %v", err)
	}
}
