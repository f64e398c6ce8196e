// Package solana implements the contract and holder sources for Solana SPL
// mints using the Solana JSON-RPC API.
package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Default configuration values.
const (
	DefaultEndpoint   = "https://api.mainnet-beta.solana.com"
	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 3
	DefaultRetryDelay = 500 * time.Millisecond
	DefaultMaxDelay   = 5 * time.Second
)

// RPCClient is the subset of the Solana JSON-RPC API the mint source needs.
type RPCClient interface {
	GetMintAccount(ctx context.Context, mint string) (*MintAccount, error)
	GetSignaturesForAddress(ctx context.Context, address string, opts *SignaturesOpts) ([]SignatureInfo, error)
}

// HTTPClient implements RPCClient over HTTP JSON-RPC 2.0.
type HTTPClient struct {
	endpoint   string
	client     *http.Client
	maxRetries uint64
	retryDelay time.Duration
	maxDelay   time.Duration
	requestID  atomic.Uint64
}

// ClientOption configures HTTPClient.
type ClientOption func(*HTTPClient)

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *HTTPClient) {
		c.client = client
	}
}

// WithRetry sets the retry budget and the initial backoff delay.
func WithRetry(maxRetries int, delay time.Duration) ClientOption {
	return func(c *HTTPClient) {
		if maxRetries < 0 {
			maxRetries = 0
		}
		c.maxRetries = uint64(maxRetries)
		c.retryDelay = delay
	}
}

// NewHTTPClient creates a Solana RPC client.
func NewHTTPClient(endpoint string, opts ...ClientOption) *HTTPClient {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	c := &HTTPClient{
		endpoint:   endpoint,
		client:     &http.Client{Timeout: DefaultTimeout},
		maxRetries: DefaultMaxRetries,
		retryDelay: DefaultRetryDelay,
		maxDelay:   DefaultMaxDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC error object. It is never retried.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

func (c *HTTPClient) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryDelay
	b.MaxInterval = c.maxDelay
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, c.maxRetries), ctx)
}

// call performs a JSON-RPC call, retrying transport failures, 429s and 5xx.
func (c *HTTPClient) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	var raw json.RawMessage
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("rate limited (429)")
		case resp.StatusCode >= 500:
			return fmt.Errorf("unexpected status %d", resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			return backoff.Permanent(fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody)))
		}

		var rpcResp rpcResponse
		if err := json.Unmarshal(respBody, &rpcResp); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
		if rpcResp.Error != nil {
			return backoff.Permanent(rpcResp.Error)
		}
		raw = rpcResp.Result
		return nil
	}

	if err := backoff.Retry(op, c.newBackOff(ctx)); err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) || ctx.Err() != nil {
			return err
		}
		return fmt.Errorf("%s: %w", method, err)
	}

	if result != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, result); err != nil {
			return fmt.Errorf("unmarshal result: %w", err)
		}
	}
	return nil
}

// MintAccount is the parsed SPL mint state.
type MintAccount struct {
	Owner           string // token program id
	Supply          string // raw units
	Decimals        int
	MintAuthority   *string
	FreezeAuthority *string
	IsInitialized   bool
}

type getAccountInfoResult struct {
	Value *struct {
		Owner string `json:"owner"`
		Data  struct {
			Program string `json:"program"`
			Parsed  struct {
				Type string `json:"type"`
				Info struct {
					Supply          string  `json:"supply"`
					Decimals        int     `json:"decimals"`
					MintAuthority   *string `json:"mintAuthority"`
					FreezeAuthority *string `json:"freezeAuthority"`
					IsInitialized   bool    `json:"isInitialized"`
				} `json:"info"`
			} `json:"parsed"`
		} `json:"data"`
	} `json:"value"`
}

// ErrNotMint is returned when the account exists but is not an SPL mint.
var ErrNotMint = errors.New("account is not a token mint")

// GetMintAccount reads a mint account with jsonParsed encoding.
// It returns (nil, nil) when the account does not exist.
func (c *HTTPClient) GetMintAccount(ctx context.Context, mint string) (*MintAccount, error) {
	params := []interface{}{
		mint,
		map[string]interface{}{"encoding": "jsonParsed"},
	}

	var result getAccountInfoResult
	if err := c.call(ctx, "getAccountInfo", params, &result); err != nil {
		return nil, err
	}
	if result.Value == nil {
		return nil, nil
	}
	if result.Value.Data.Parsed.Type != "mint" {
		return nil, ErrNotMint
	}

	info := result.Value.Data.Parsed.Info
	return &MintAccount{
		Owner:           result.Value.Owner,
		Supply:          info.Supply,
		Decimals:        info.Decimals,
		MintAuthority:   info.MintAuthority,
		FreezeAuthority: info.FreezeAuthority,
		IsInitialized:   info.IsInitialized,
	}, nil
}

// SignatureInfo from getSignaturesForAddress.
type SignatureInfo struct {
	Signature string      `json:"signature"`
	Slot      int64       `json:"slot"`
	BlockTime *int64      `json:"blockTime"`
	Err       interface{} `json:"err"`
}

// SignaturesOpts defines optional pagination parameters for getSignaturesForAddress.
type SignaturesOpts struct {
	Before string // Start searching backwards from this signature
	Limit  int    // Maximum number of signatures to return
}

// GetSignaturesForAddress returns signatures newest first.
func (c *HTTPClient) GetSignaturesForAddress(ctx context.Context, address string, opts *SignaturesOpts) ([]SignatureInfo, error) {
	config := make(map[string]interface{})
	if opts != nil {
		if opts.Before != "" {
			config["before"] = opts.Before
		}
		if opts.Limit > 0 {
			config["limit"] = opts.Limit
		}
	}

	params := []interface{}{address}
	if len(config) > 0 {
		params = append(params, config)
	}

	var result []SignatureInfo
	if err := c.call(ctx, "getSignaturesForAddress", params, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// HolderRPC is the subset of the Solana JSON-RPC API the holder source needs.
type HolderRPC interface {
	GetTokenLargestAccounts(ctx context.Context, mint string) ([]TokenAmount, error)
	GetTokenSupply(ctx context.Context, mint string) (*TokenAmount, error)
	GetTokenAccountOwners(ctx context.Context, accounts []string) ([]string, error)
	CountTokenAccounts(ctx context.Context, programID, mint string, dataSize int) (int, error)
}

// TokenAmount is an SPL balance in raw units. Address is the token account
// and is empty for the supply.
type TokenAmount struct {
	Address  string `json:"address"`
	Amount   string `json:"amount"`
	Decimals int    `json:"decimals"`
}

// Raw parses the raw amount; malformed values count as zero.
func (a TokenAmount) Raw() float64 {
	v, err := strconv.ParseFloat(a.Amount, 64)
	if err != nil {
		return 0
	}
	return v
}

// GetTokenLargestAccounts returns up to 20 token accounts of a mint, largest first.
func (c *HTTPClient) GetTokenLargestAccounts(ctx context.Context, mint string) ([]TokenAmount, error) {
	var result struct {
		Value []TokenAmount `json:"value"`
	}
	if err := c.call(ctx, "getTokenLargestAccounts", []interface{}{mint}, &result); err != nil {
		return nil, err
	}
	return result.Value, nil
}

// GetTokenSupply returns the total supply of a mint.
func (c *HTTPClient) GetTokenSupply(ctx context.Context, mint string) (*TokenAmount, error) {
	var result struct {
		Value *TokenAmount `json:"value"`
	}
	if err := c.call(ctx, "getTokenSupply", []interface{}{mint}, &result); err != nil {
		return nil, err
	}
	if result.Value == nil {
		return nil, ErrNotMint
	}
	return result.Value, nil
}

// GetTokenAccountOwners resolves token accounts to the wallets that own them.
// The result is index-aligned with accounts; unknown accounts map to "".
func (c *HTTPClient) GetTokenAccountOwners(ctx context.Context, accounts []string) ([]string, error) {
	if len(accounts) == 0 {
		return nil, nil
	}
	params := []interface{}{
		accounts,
		map[string]interface{}{"encoding": "jsonParsed"},
	}

	var result struct {
		Value []*struct {
			Data struct {
				Parsed struct {
					Info struct {
						Owner string `json:"owner"`
					} `json:"info"`
				} `json:"parsed"`
			} `json:"data"`
		} `json:"value"`
	}
	if err := c.call(ctx, "getMultipleAccounts", params, &result); err != nil {
		return nil, err
	}

	owners := make([]string, len(accounts))
	for i, acct := range result.Value {
		if i < len(owners) && acct != nil {
			owners[i] = acct.Data.Parsed.Info.Owner
		}
	}
	return owners, nil
}

// CountTokenAccounts counts the token accounts of mint under programID. The
// mint is the first 32 bytes of an SPL token account. dataSize filters the
// fixed layout of the classic program; 0 disables that filter.
func (c *HTTPClient) CountTokenAccounts(ctx context.Context, programID, mint string, dataSize int) (int, error) {
	filters := []interface{}{
		map[string]interface{}{"memcmp": map[string]interface{}{"offset": 0, "bytes": mint}},
	}
	if dataSize > 0 {
		filters = append(filters, map[string]interface{}{"dataSize": dataSize})
	}
	params := []interface{}{
		programID,
		map[string]interface{}{
			"encoding":  "base64",
			"dataSlice": map[string]interface{}{"offset": 0, "length": 0},
			"filters":   filters,
		},
	}

	var result []struct {
		Pubkey string `json:"pubkey"`
	}
	if err := c.call(ctx, "getProgramAccounts", params, &result); err != nil {
		return 0, err
	}
	return len(result), nil
}
