package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir  string `toml:"data_dir"`
	LogDir   string `toml:"log_dir"`
	APIBind  string `toml:"api_bind"`
	APIToken string `toml:"api_token"`
}

// Market contains chunk sizing and claim policy settings.
type Market struct {
	TargetWords     int `toml:"target_words"`
	MinWords        int `toml:"min_words"`
	MaxWords        int `toml:"max_words"`
	OverlapWords    int `toml:"overlap_words"`
	LeaseMinutes    int `toml:"lease_minutes"`
	MaxActiveClaims int `toml:"max_active_claims"`

	// Acceptance thresholds. A submission needs rewrite when the similarity
	// score exceeds SimilarityMaxPercent or the AI score exceeds AIMaxPercent.
	SimilarityMaxPercent float64 `toml:"similarity_max_percent"`
	AIMaxPercent         float64 `toml:"ai_max_percent"`
}

// Payout contains bounty rate and currency conversion settings.
type Payout struct {
	RatePence           int64  `toml:"rate_pence"`
	GBPToStableRate     string `toml:"gbp_to_stable_rate"`
	StableDecimals      int32  `toml:"stable_decimals"`
	EscrowBufferPercent int64  `toml:"escrow_buffer_percent"`
}

// Chain contains configuration for the on-chain escrow gateway.
type Chain struct {
	Enabled         bool   `toml:"enabled"`
	RPCURL          string `toml:"rpc_url"`
	EscrowContract  string `toml:"escrow_contract"`
	TokenContract   string `toml:"token_contract"`
	OperatorWallet  string `toml:"operator_wallet"`
	RequestTimeout  int    `toml:"request_timeout"`
	ConfirmTimeout  int    `toml:"confirm_timeout"`
	ConfirmInterval int    `toml:"confirm_interval"`
}

// Callbacks contains configuration for status callbacks to the checking gateway.
type Callbacks struct {
	GatewayURL     string `toml:"gateway_url"`
	RequestTimeout int    `toml:"request_timeout"`
	ChunkDone      bool   `toml:"chunk_done"`
	ChunkNeedsEdit bool   `toml:"chunk_needs_edit"`
	LotCompleted   bool   `toml:"lot_completed"`
	Errors         bool   `toml:"errors"`
}

// Workflow contains daemon timing and batch sizing configuration.
type Workflow struct {
	SweepInterval      int `toml:"sweep_interval"`
	SettleInterval     int `toml:"settle_interval"`
	ErrorRetryInterval int `toml:"error_retry_interval"`
	PayoutBatchSize    int `toml:"payout_batch_size"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for veriflow.
//
// Configuration sections by subsystem:
//   - Paths: data/log directories and API bind address
//   - Market: chunk sizing, lease duration, claim limits, acceptance thresholds
//   - Payout: per-chunk bounty rate and stablecoin conversion
//   - Chain: escrow gateway RPC connection and contract addresses
//   - Callbacks: status callbacks posted to the checking gateway
//   - Workflow: daemon polling intervals and batch sizes
//   - Logging: log format and level
type Config struct {
	Paths     Paths     `toml:"paths"`
	Market    Market    `toml:"market"`
	Payout    Payout    `toml:"payout"`
	Chain     Chain     `toml:"chain"`
	Callbacks Callbacks `toml:"callbacks"`
	Workflow  Workflow  `toml:"workflow"`
	Logging   Logging   `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/veriflow/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config
// has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("veriflow.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the SQLite database location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "market.db")
}

// LockFilePath returns the daemon single-instance lock file location.
func (c *Config) LockFilePath() string {
	return filepath.Join(c.Paths.DataDir, "veriflowd.lock")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
