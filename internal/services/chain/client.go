package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"veriflow/internal/config"
)

var (
	// ErrDisabled indicates chain settlement is switched off in config.
	ErrDisabled = errors.New("chain gateway disabled")
	// ErrReverted indicates the node mined the transaction but it failed.
	ErrReverted = errors.New("transaction reverted")
)

const defaultHTTPTimeout = 15 * time.Second

// Function selectors for the token and escrow contracts.
var (
	selBalanceOf    = selector("balanceOf(address)")
	selTransfer     = selector("transfer(address,uint256)")
	selLockFunds    = selector("lockFunds(uint256,address,uint256)")
	selReleaseFunds = selector("releaseFunds(uint256)")
)

func selector(signature string) []byte {
	return crypto.Keccak256([]byte(signature))[:4]
}

// HTTPDoer abstracts the HTTP transport so tests can intercept RPC traffic.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks JSON-RPC to an Ethereum-compatible node. Transactions are sent
// with eth_sendTransaction, so the operator wallet must be unlocked on the
// node or fronted by a signing proxy.
type Client struct {
	rpcURL          string
	tokenContract   common.Address
	escrowContract  common.Address
	operatorWallet  common.Address
	tokenDecimals   int32
	confirmInterval time.Duration
	httpClient      HTTPDoer
	nextID          atomic.Uint64
}

// Option customizes the chain client.
type Option func(*Client)

// WithHTTPDoer overrides the HTTP transport (useful for tests).
func WithHTTPDoer(doer HTTPDoer) Option {
	return func(c *Client) {
		if doer != nil {
			c.httpClient = doer
		}
	}
}

// WithConfirmInterval overrides the receipt polling interval.
func WithConfirmInterval(interval time.Duration) Option {
	return func(c *Client) {
		if interval > 0 {
			c.confirmInterval = interval
		}
	}
}

// NewClient constructs a gateway from validated configuration.
func NewClient(cfg config.Chain, tokenDecimals int32, opts ...Option) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("chain client: rpc_url required")
	}
	client := &Client{
		rpcURL:          rpcURL,
		tokenContract:   common.HexToAddress(cfg.TokenContract),
		escrowContract:  common.HexToAddress(cfg.EscrowContract),
		operatorWallet:  common.HexToAddress(cfg.OperatorWallet),
		tokenDecimals:   tokenDecimals,
		confirmInterval: cfg.ConfirmIntervalDuration(),
		httpClient:      &http.Client{Timeout: cfg.RequestTimeoutDuration()},
	}
	if client.confirmInterval <= 0 {
		client.confirmInterval = defaultConfirmInterval
	}
	if cfg.RequestTimeoutDuration() <= 0 {
		client.httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// BalanceOf reads the stable-token balance of a wallet via eth_call.
func (c *Client) BalanceOf(ctx context.Context, wallet common.Address) (decimal.Decimal, error) {
	data := append(append([]byte{}, selBalanceOf...), common.LeftPadBytes(wallet.Bytes(), 32)...)
	var result string
	err := c.call(ctx, "eth_call", []any{
		map[string]string{
			"to":   c.tokenContract.Hex(),
			"data": hexutil.Encode(data),
		},
		"latest",
	}, &result)
	if err != nil {
		return decimal.Zero, fmt.Errorf("chain balance: %w", err)
	}
	decoded, err := hexutil.Decode(result)
	if err != nil {
		return decimal.Zero, fmt.Errorf("chain balance: decode %q: %w", result, err)
	}
	return decimal.NewFromBigInt(new(big.Int).SetBytes(decoded), -c.tokenDecimals), nil
}

// LockEscrow broadcasts a lockFunds call moving user funds into escrow.
func (c *Client) LockEscrow(ctx context.Context, userWallet common.Address, lotID int64, amount decimal.Decimal) (common.Hash, error) {
	data := append([]byte{}, selLockFunds...)
	data = append(data, common.LeftPadBytes(big.NewInt(lotID).Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(userWallet.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(c.toTokenUnits(amount).Bytes(), 32)...)
	hash, err := c.sendTransaction(ctx, c.escrowContract, data)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain lock escrow: %w", err)
	}
	return hash, nil
}

// ReleaseEscrow broadcasts a releaseFunds call returning unspent escrow.
func (c *Client) ReleaseEscrow(ctx context.Context, lotID int64) (common.Hash, error) {
	data := append([]byte{}, selReleaseFunds...)
	data = append(data, common.LeftPadBytes(big.NewInt(lotID).Bytes(), 32)...)
	hash, err := c.sendTransaction(ctx, c.escrowContract, data)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain release escrow: %w", err)
	}
	return hash, nil
}

// Transfer broadcasts a stable-token transfer from the operator wallet.
func (c *Client) Transfer(ctx context.Context, to common.Address, amount decimal.Decimal) (common.Hash, error) {
	data := append([]byte{}, selTransfer...)
	data = append(data, common.LeftPadBytes(to.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(c.toTokenUnits(amount).Bytes(), 32)...)
	hash, err := c.sendTransaction(ctx, c.tokenContract, data)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain transfer: %w", err)
	}
	return hash, nil
}

// WaitReceipt polls the node until the transaction is mined or ctx expires.
func (c *Client) WaitReceipt(ctx context.Context, tx common.Hash) (*Receipt, error) {
	ticker := time.NewTicker(c.confirmInterval)
	defer ticker.Stop()
	for {
		receipt, err := c.fetchReceipt(ctx, tx)
		if err != nil {
			return nil, err
		}
		if receipt != nil {
			if !receipt.Success {
				return receipt, fmt.Errorf("chain receipt %s: %w", tx.Hex(), ErrReverted)
			}
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("chain receipt %s: %w", tx.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *Client) fetchReceipt(ctx context.Context, tx common.Hash) (*Receipt, error) {
	var raw *struct {
		Status      string `json:"status"`
		BlockNumber string `json:"blockNumber"`
	}
	if err := c.call(ctx, "eth_getTransactionReceipt", []any{tx.Hex()}, &raw); err != nil {
		return nil, fmt.Errorf("chain receipt: %w", err)
	}
	if raw == nil {
		return nil, nil
	}
	block, err := hexutil.DecodeUint64(raw.BlockNumber)
	if err != nil {
		return nil, fmt.Errorf("chain receipt: decode block %q: %w", raw.BlockNumber, err)
	}
	return &Receipt{
		TxHash:      tx,
		BlockNumber: block,
		Success:     raw.Status == "0x1",
	}, nil
}

func (c *Client) sendTransaction(ctx context.Context, to common.Address, data []byte) (common.Hash, error) {
	var result string
	err := c.call(ctx, "eth_sendTransaction", []any{
		map[string]string{
			"from": c.operatorWallet.Hex(),
			"to":   to.Hex(),
			"data": hexutil.Encode(data),
		},
	}, &result)
	if err != nil {
		return common.Hash{}, err
	}
	return common.HexToHash(result), nil
}

func (c *Client) toTokenUnits(amount decimal.Decimal) *big.Int {
	return amount.Shift(c.tokenDecimals).Truncate(0).BigInt()
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func (c *Client) call(ctx context.Context, method string, params []any, result any) error {
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("encode %s: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", method, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s read body: %w", method, err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("%s http %d: %s", method, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var decoded rpcResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return fmt.Errorf("%s decode response: %w", method, err)
	}
	if decoded.Error != nil {
		return fmt.Errorf("%s: %w", method, decoded.Error)
	}
	if result == nil || len(decoded.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(decoded.Result, result); err != nil {
		return fmt.Errorf("%s decode result: %w", method, err)
	}
	return nil
}
