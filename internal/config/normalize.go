package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeChain()
	c.normalizeCallbacks()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	return nil
}

func (c *Config) normalizeChain() {
	c.Chain.RPCURL = strings.TrimRight(strings.TrimSpace(c.Chain.RPCURL), "/")
	c.Chain.EscrowContract = strings.TrimSpace(c.Chain.EscrowContract)
	c.Chain.TokenContract = strings.TrimSpace(c.Chain.TokenContract)
	c.Chain.OperatorWallet = strings.TrimSpace(c.Chain.OperatorWallet)
	if c.Chain.RequestTimeout <= 0 {
		c.Chain.RequestTimeout = defaultChainRequestTimeout
	}
	if c.Chain.ConfirmTimeout <= 0 {
		c.Chain.ConfirmTimeout = defaultChainConfirmTimeout
	}
	if c.Chain.ConfirmInterval <= 0 {
		c.Chain.ConfirmInterval = defaultConfirmInterval
	}
}

func (c *Config) normalizeCallbacks() {
	c.Callbacks.GatewayURL = strings.TrimRight(strings.TrimSpace(c.Callbacks.GatewayURL), "/")
	if c.Callbacks.RequestTimeout <= 0 {
		c.Callbacks.RequestTimeout = defaultCallbackTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
