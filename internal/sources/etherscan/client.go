// Package etherscan implements the contract and holder sources on top of the
// Etherscan v2 multichain API (one key serves every EVM chain).
package etherscan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"token-risk-lab/internal/domain"
	"token-risk-lab/internal/sources"
)

// DefaultBaseURL is the Etherscan v2 endpoint.
const DefaultBaseURL = "https://api.etherscan.io/v2/api"

// ErrMissingAPIKey is returned when a call is attempted without a key.
var ErrMissingAPIKey = errors.New("etherscan api key not configured")

// Client is a minimal Etherscan v2 client.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient creates a Client. httpClient may be nil.
func NewClient(baseURL, apiKey string, httpClient *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = sources.NewHTTPClient()
	}
	return &Client{baseURL: baseURL, apiKey: apiKey, http: httpClient}
}

// Configured reports whether an API key is set.
func (c *Client) Configured() bool { return c.apiKey != "" }

// SupportsChain reports whether the explorer covers the chain.
func (c *Client) SupportsChain(chainID int64) bool {
	return c.Configured() && domain.IsEVM(chainID)
}

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// call performs module/action with params for chainID and decodes the result field into out.
func (c *Client) call(ctx context.Context, chainID int64, module, action string, params url.Values, out interface{}) error {
	if !c.Configured() {
		return ErrMissingAPIKey
	}

	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	q.Set("chainid", strconv.FormatInt(chainID, 10))
	q.Set("module", module)
	q.Set("action", action)
	q.Set("apikey", c.apiKey)

	var env envelope
	if err := sources.GetJSON(ctx, c.http, c.baseURL+"?"+q.Encode(), nil, &env); err != nil {
		return err
	}

	if env.Status != "1" {
		msg := env.Message
		var detail string
		if json.Unmarshal(env.Result, &detail) == nil && detail != "" {
			msg = msg + ": " + detail
		}
		lower := strings.ToLower(msg)
		if strings.Contains(lower, "no data") || strings.Contains(lower, "no records") {
			return fmt.Errorf("%s/%s: %w", module, action, sources.ErrNoData)
		}
		return fmt.Errorf("%s/%s: %s", module, action, msg)
	}

	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("%s/%s: decode result: %w", module, action, err)
	}
	return nil
}

// TokenSupply returns the raw (undecimalized) total supply.
func (c *Client) TokenSupply(ctx context.Context, chainID int64, address string) (float64, error) {
	var raw string
	err := c.call(ctx, chainID, "stats", "tokensupply", url.Values{"contractaddress": {address}}, &raw)
	if err != nil {
		return 0, err
	}
	supply, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("parse token supply %q: %w", raw, err)
	}
	return supply, nil
}

// SourceCode is the getsourcecode result for one contract.
type SourceCode struct {
	SourceCode     string `json:"SourceCode"`
	ContractName   string `json:"ContractName"`
	Proxy          string `json:"Proxy"`
	Implementation string `json:"Implementation"`
}

// GetSourceCode returns verified source metadata; SourceCode is empty when unverified.
func (c *Client) GetSourceCode(ctx context.Context, chainID int64, address string) (*SourceCode, error) {
	var results []SourceCode
	if err := c.call(ctx, chainID, "contract", "getsourcecode", url.Values{"address": {address}}, &results); err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, sources.ErrNoData
	}
	return &results[0], nil
}

type contractCreation struct {
	ContractAddress string `json:"contractAddress"`
	TxHash          string `json:"txHash"`
	Timestamp       string `json:"timestamp"`
}

// ContractCreationUnix returns the creation block timestamp in unix seconds.
func (c *Client) ContractCreationUnix(ctx context.Context, chainID int64, address string) (int64, error) {
	var results []contractCreation
	params := url.Values{"contractaddresses": {address}}
	if err := c.call(ctx, chainID, "contract", "getcontractcreation", params, &results); err != nil {
		return 0, err
	}
	if len(results) == 0 || results[0].Timestamp == "" {
		return 0, sources.ErrNoData
	}
	ts, err := strconv.ParseInt(results[0].Timestamp, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse creation timestamp %q: %w", results[0].Timestamp, err)
	}
	return ts, nil
}

// Holder is one entry of the holder list.
type Holder struct {
	Address  string `json:"TokenHolderAddress"`
	Quantity string `json:"TokenHolderQuantity"`
}

// TokenHolderList returns the first page of holders.
func (c *Client) TokenHolderList(ctx context.Context, chainID int64, address string, offset int) ([]Holder, error) {
	params := url.Values{
		"contractaddress": {address},
		"page":            {"1"},
		"offset":          {strconv.Itoa(offset)},
	}
	var holders []Holder
	if err := c.call(ctx, chainID, "token", "tokenholderlist", params, &holders); err != nil {
		return nil, err
	}
	return holders, nil
}

// TokenHolderCount returns the total number of holders.
func (c *Client) TokenHolderCount(ctx context.Context, chainID int64, address string) (int, error) {
	var raw string
	if err := c.call(ctx, chainID, "token", "tokenholdercount", url.Values{"contractaddress": {address}}, &raw); err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse holder count %q: %w", raw, err)
	}
	return n, nil
}
