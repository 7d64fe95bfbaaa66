package logging_test

import (
	"os"
	"path/filepath"
	"testing"

	"veriflow/internal/config"
	"veriflow/internal/logging"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, err := logging.New(logging.Options{Level: "verbose"}); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestNewFromConfigCreatesLogFile(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = filepath.Join(t.TempDir(), "logs")

	logger, err := logging.NewFromConfig(&cfg)
	if err != nil {
		t.Fatalf("NewFromConfig failed: %v", err)
	}
	logger.Info("probe")
	_ = logger.Sync()

	if _, err := os.Stat(filepath.Join(cfg.Paths.LogDir, "veriflow.log")); err != nil {
		t.Fatalf("expected log file: %v", err)
	}
}
