package config

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateMarket(); err != nil {
		return err
	}
	if err := c.validatePayout(); err != nil {
		return err
	}
	if err := c.validateChain(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateMarket() error {
	if c.Market.MinWords <= 0 {
		return errors.New("market.min_words must be positive")
	}
	if c.Market.MaxWords < c.Market.MinWords {
		return errors.New("market.max_words must be at least market.min_words")
	}
	if c.Market.TargetWords < c.Market.MinWords || c.Market.TargetWords > c.Market.MaxWords {
		return errors.New("market.target_words must lie between market.min_words and market.max_words")
	}
	if c.Market.OverlapWords < 0 || c.Market.OverlapWords >= c.Market.MinWords {
		return errors.New("market.overlap_words must be non-negative and smaller than market.min_words")
	}
	if c.Market.LeaseMinutes <= 0 {
		return errors.New("market.lease_minutes must be positive")
	}
	if c.Market.MaxActiveClaims <= 0 {
		return errors.New("market.max_active_claims must be positive")
	}
	if c.Market.SimilarityMaxPercent < 0 || c.Market.SimilarityMaxPercent > 100 {
		return errors.New("market.similarity_max_percent must be between 0 and 100")
	}
	if c.Market.AIMaxPercent < 0 || c.Market.AIMaxPercent > 100 {
		return errors.New("market.ai_max_percent must be between 0 and 100")
	}
	return nil
}

func (c *Config) validatePayout() error {
	if c.Payout.RatePence <= 0 {
		return errors.New("payout.rate_pence must be positive")
	}
	rate, err := decimal.NewFromString(c.Payout.GBPToStableRate)
	if err != nil {
		return fmt.Errorf("payout.gbp_to_stable_rate: %w", err)
	}
	if rate.Sign() <= 0 {
		return errors.New("payout.gbp_to_stable_rate must be positive")
	}
	if c.Payout.StableDecimals < 0 || c.Payout.StableDecimals > 18 {
		return errors.New("payout.stable_decimals must be between 0 and 18")
	}
	if c.Payout.EscrowBufferPercent < 0 {
		return errors.New("payout.escrow_buffer_percent must be non-negative")
	}
	return nil
}

func (c *Config) validateChain() error {
	if !c.Chain.Enabled {
		return nil
	}
	if c.Chain.RPCURL == "" {
		return errors.New("chain.rpc_url must be set when chain.enabled is true")
	}
	for name, addr := range map[string]string{
		"chain.escrow_contract": c.Chain.EscrowContract,
		"chain.token_contract":  c.Chain.TokenContract,
		"chain.operator_wallet": c.Chain.OperatorWallet,
	} {
		if addr == "" {
			return fmt.Errorf("%s must be set when chain.enabled is true", name)
		}
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("%s is not a valid address: %q", name, addr)
		}
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	return ensurePositiveMap(map[string]int{
		"workflow.sweep_interval":       c.Workflow.SweepInterval,
		"workflow.settle_interval":      c.Workflow.SettleInterval,
		"workflow.error_retry_interval": c.Workflow.ErrorRetryInterval,
		"workflow.payout_batch_size":    c.Workflow.PayoutBatchSize,
	})
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for name, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	return nil
}
