package main

import (
	"bytes"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"veriflow/internal/api"
	"veriflow/internal/escrow"
	"veriflow/internal/lease"
	"veriflow/internal/market"
	"veriflow/internal/notifications"
	"veriflow/internal/payout"
	"veriflow/internal/services/chain"
	"veriflow/internal/submission"
	"veriflow/internal/testsupport"
)

type cliTestEnv struct {
	store      *market.Store
	server     *httptest.Server
	configPath string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	engine, err := payout.NewEngine(cfg, payout.FlatRate(cfg.Payout.RatePence))
	if err != nil {
		t.Fatalf("payout.NewEngine: %v", err)
	}
	notifier := notifications.NewService(cfg)
	leases := lease.NewManager(store, cfg, zap.NewNop())
	processor := submission.NewProcessor(store, engine, notifier, cfg, zap.NewNop())
	settler := escrow.NewSettler(store, chain.NewFake(), engine, notifier, cfg, zap.NewNop())
	apiServer := api.NewServer(cfg, store, leases, processor, settler, engine, nil, "test", zap.NewNop())

	server := httptest.NewServer(apiServer.Router())
	t.Cleanup(server.Close)

	bind := strings.TrimPrefix(server.URL, "http://")
	base := t.TempDir()
	configPath := filepath.Join(base, "config.toml")
	content := fmt.Sprintf(`[paths]
data_dir = %q
log_dir = %q
api_bind = %q
`, cfg.Paths.DataDir, cfg.Paths.LogDir, bind)
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	return &cliTestEnv{store: store, server: server, configPath: configPath}
}

func runCLI(t *testing.T, env *cliTestEnv, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", env.configPath}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestStatusCommand(t *testing.T) {
	env := setupCLITestEnv(t)
	testsupport.NewLot(t, env.store, "0x00000000000000000000000000000000000000aa", 3)

	output, err := runCLI(t, env, "status")
	if err != nil {
		t.Fatalf("status: %v\n%s", err, output)
	}
	if !strings.Contains(output, "Veriflow") || !strings.Contains(output, "stopped") {
		t.Fatalf("unexpected output:\n%s", output)
	}
	if !strings.Contains(output, "3") {
		t.Fatalf("expected chunk count in output:\n%s", output)
	}
}

func TestLotsListCommand(t *testing.T) {
	env := setupCLITestEnv(t)

	output, err := runCLI(t, env, "lots", "list")
	if err != nil {
		t.Fatalf("lots list: %v\n%s", err, output)
	}
	if !strings.Contains(output, "No lots found.") {
		t.Fatalf("unexpected output:\n%s", output)
	}

	testsupport.NewLot(t, env.store, "0x00000000000000000000000000000000000000aa", 2)
	output, err = runCLI(t, env, "lots", "list")
	if err != nil {
		t.Fatalf("lots list: %v\n%s", err, output)
	}
	if !strings.Contains(output, "processing") {
		t.Fatalf("expected lot status in output:\n%s", output)
	}
}

func TestQuoteCommand(t *testing.T) {
	env := setupCLITestEnv(t)

	output, err := runCLI(t, env, "quote", "1000")
	if err != nil {
		t.Fatalf("quote: %v\n%s", err, output)
	}
	if !strings.Contains(output, "0.75438") {
		t.Fatalf("expected buffered escrow amount:\n%s", output)
	}

	if _, err := runCLI(t, env, "quote", "zero"); err == nil {
		t.Fatal("expected error for non-numeric word count")
	}
}

func TestSplitCommandLocal(t *testing.T) {
	env := setupCLITestEnv(t)

	words := make([]string, 680)
	for i := range words {
		words[i] = fmt.Sprintf("word%d", i)
	}
	docPath := filepath.Join(t.TempDir(), "doc.txt")
	if err := os.WriteFile(docPath, []byte(strings.Join(words, " ")), 0o644); err != nil {
		t.Fatalf("write doc: %v", err)
	}

	output, err := runCLI(t, env, "split", docPath, "--strategy", "simple")
	if err != nil {
		t.Fatalf("split: %v\n%s", err, output)
	}
	if !strings.Contains(output, "2 chunks, 700 words total") {
		t.Fatalf("unexpected split summary:\n%s", output)
	}
}

func TestConfigInitCommand(t *testing.T) {
	env := setupCLITestEnv(t)
	target := filepath.Join(t.TempDir(), "veriflow.toml")

	output, err := runCLI(t, env, "config", "init", "--path", target)
	if err != nil {
		t.Fatalf("config init: %v\n%s", err, output)
	}
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file: %v", err)
	}

	if _, err := runCLI(t, env, "config", "init", "--path", target); err == nil {
		t.Fatal("expected error without --overwrite")
	}
}

func TestPayoutsRetryRejectsBadID(t *testing.T) {
	env := setupCLITestEnv(t)

	if _, err := runCLI(t, env, "payouts", "retry", "abc"); err == nil {
		t.Fatal("expected error for invalid payout id")
	}
}
