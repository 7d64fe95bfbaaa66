package payout

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"veriflow/internal/config"
)

// RateTable resolves the bounty for a chunk. The base policy is flat-rate;
// regional or field-specific tables can be substituted without touching the
// lease or submission logic.
type RateTable interface {
	// RatePence returns the bounty in pence for a chunk of the given word
	// count and specialty.
	RatePence(wordCount int, specialty string) int64
}

// FlatRate pays the same bounty for every chunk.
type FlatRate int64

func (r FlatRate) RatePence(int, string) int64 { return int64(r) }

// RateTableFunc adapts a function to the RateTable interface.
type RateTableFunc func(wordCount int, specialty string) int64

func (f RateTableFunc) RatePence(wordCount int, specialty string) int64 {
	return f(wordCount, specialty)
}

// Amount is one computed bounty in both settlement representations.
type Amount struct {
	Pence  int64
	Stable decimal.Decimal
}

// Quote is the escrow estimate for a document of a given size.
type Quote struct {
	EstimatedChunks int
	CostPerChunk    decimal.Decimal
	TotalCost       decimal.Decimal
	EscrowAmount    decimal.Decimal
}

// Engine converts chunk work into money. It is pure; persistence and chain
// interaction live elsewhere.
type Engine struct {
	rates          RateTable
	fxRate         decimal.Decimal
	stableDecimals int32
	bufferPercent  int64
	targetWords    int
}

// NewEngine builds an engine from validated configuration.
func NewEngine(cfg *config.Config, rates RateTable) (*Engine, error) {
	fx, err := decimal.NewFromString(cfg.Payout.GBPToStableRate)
	if err != nil {
		return nil, fmt.Errorf("payout engine: parse fx rate %q: %w", cfg.Payout.GBPToStableRate, err)
	}
	if fx.LessThanOrEqual(decimal.Zero) {
		return nil, errors.New("payout engine: fx rate must be positive")
	}
	if rates == nil {
		rates = FlatRate(cfg.Payout.RatePence)
	}
	targetWords := cfg.Market.TargetWords
	if targetWords <= 0 {
		return nil, errors.New("payout engine: target words must be positive")
	}
	return &Engine{
		rates:          rates,
		fxRate:         fx,
		stableDecimals: cfg.Payout.StableDecimals,
		bufferPercent:  cfg.Payout.EscrowBufferPercent,
		targetWords:    targetWords,
	}, nil
}

// Compute returns the bounty for one accepted chunk.
func (e *Engine) Compute(wordCount int, specialty string) Amount {
	pence := e.rates.RatePence(wordCount, specialty)
	return Amount{
		Pence:  pence,
		Stable: e.toStable(pence),
	}
}

// QuoteEscrow estimates the escrow a user must lock for a document. Chunk
// count is the ceiling division of word count by the target chunk size; the
// buffer absorbs gas and FX drift.
func (e *Engine) QuoteEscrow(wordCount int) (Quote, error) {
	if wordCount <= 0 {
		return Quote{}, errors.New("payout engine: word count must be positive")
	}
	chunks := (wordCount + e.targetWords - 1) / e.targetWords
	perChunk := e.toStable(e.rates.RatePence(e.targetWords, ""))
	total := perChunk.Mul(decimal.NewFromInt(int64(chunks)))
	buffer := decimal.NewFromInt(100 + e.bufferPercent).Div(decimal.NewFromInt(100))
	return Quote{
		EstimatedChunks: chunks,
		CostPerChunk:    perChunk,
		TotalCost:       total.Round(e.stableDecimals),
		EscrowAmount:    total.Mul(buffer).Round(e.stableDecimals),
	}, nil
}

// toStable converts pence to the stable token amount at the configured FX
// rate, rounded to the token precision.
func (e *Engine) toStable(pence int64) decimal.Decimal {
	gbp := decimal.New(pence, -2)
	return gbp.Mul(e.fxRate).Round(e.stableDecimals)
}
