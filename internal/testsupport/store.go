package testsupport

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"veriflow/internal/config"
	"veriflow/internal/market"
)

// MustOpenStore opens a market.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *market.Store {
	t.Helper()

	store, err := market.Open(cfg)
	if err != nil {
		t.Fatalf("market.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewLot creates a lot with the requested number of single-target chunks.
func NewLot(t testing.TB, store *market.Store, wallet string, chunkCount int) *market.Lot {
	t.Helper()

	seeds := make([]market.ChunkSeed, 0, chunkCount)
	for i := 0; i < chunkCount; i++ {
		words := make([]string, 350)
		for w := range words {
			words[w] = fmt.Sprintf("word%d", w)
		}
		seeds = append(seeds, market.ChunkSeed{
			Ordinal:     i,
			Content:     strings.Join(words, " "),
			WordCount:   len(words),
			TargetWords: 350,
			Quality:     0.8,
		})
	}

	lot, err := store.CreateLot(context.Background(), wallet, fmt.Sprintf("Lot for %s", wallet), seeds)
	if err != nil {
		t.Fatalf("store.CreateLot: %v", err)
	}
	return lot
}

// NewChecker registers a checker for tests with a unique wallet.
func NewChecker(t testing.TB, store *market.Store, wallet string) *market.Checker {
	t.Helper()

	checker, err := store.RegisterChecker(context.Background(), wallet, "Test Checker", "checker@example.org", "GBR", nil)
	if err != nil {
		t.Fatalf("store.RegisterChecker: %v", err)
	}
	return checker
}
