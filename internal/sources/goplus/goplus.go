// Package goplus implements the security source on top of the GoPlus token
// security API.
package goplus

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"token-risk-lab/internal/domain"
	"token-risk-lab/internal/sources"
)

// SourceName identifies the security source.
const SourceName = "security"

// DefaultBaseURL is the GoPlus public API.
const DefaultBaseURL = "https://api.gopluslabs.io/api/v1"

// Security fetches honeypot, tax and permission flags for a token.
// On any failure the collector substitutes the maximally pessimistic default.
type Security struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// New creates the security source. apiKey may be empty; GoPlus serves
// unauthenticated requests at a lower rate. client may be nil.
func New(baseURL, apiKey string, client *http.Client) *Security {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if client == nil {
		client = sources.NewHTTPClient()
	}
	return &Security{baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, client: client}
}

// Compile-time interface check.
var _ sources.Source = (*Security)(nil)

func (s *Security) Name() string { return SourceName }

func (s *Security) Default() domain.Fragment { return domain.DefaultSecurityData() }

func (s *Security) SupportsChain(chainID int64) bool {
	return domain.IsEVM(chainID) || chainID == domain.ChainSolana
}

type envelope[T any] struct {
	Code    int          `json:"code"`
	Message string       `json:"message"`
	Result  map[string]T `json:"result"`
}

type evmResult struct {
	IsHoneypot    string `json:"is_honeypot"`
	BuyTax        string `json:"buy_tax"`
	SellTax       string `json:"sell_tax"`
	CannotSellAll string `json:"cannot_sell_all"`
	IsOpenSource  string `json:"is_open_source"`
	IsProxy       string `json:"is_proxy"`
	IsMintable    string `json:"is_mintable"`
	OwnerAddress  string `json:"owner_address"`
}

type flag struct {
	Status string `json:"status"`
}

type solanaResult struct {
	Mintable  flag `json:"mintable"`
	Freezable flag `json:"freezable"`
	Closable  flag `json:"closable"`
}

func (s *Security) headers() map[string]string {
	if s.apiKey == "" {
		return nil
	}
	return map[string]string{"Authorization": s.apiKey}
}

func (s *Security) Fetch(ctx context.Context, address string, chainID int64) (domain.Fragment, error) {
	if chainID == domain.ChainSolana {
		return s.fetchSolana(ctx, address)
	}
	if !domain.IsEVM(chainID) {
		return nil, sources.ErrUnsupportedChain
	}

	endpoint := fmt.Sprintf("%s/token_security/%d?contract_addresses=%s", s.baseURL, chainID, url.QueryEscape(address))
	var env envelope[evmResult]
	if err := sources.GetJSON(ctx, s.client, endpoint, s.headers(), &env); err != nil {
		return nil, err
	}
	if env.Code != 1 {
		return nil, fmt.Errorf("goplus code %d: %s", env.Code, env.Message)
	}

	res, ok := env.Result[strings.ToLower(address)]
	if !ok {
		return nil, sources.ErrNoData
	}
	return parseEVM(res), nil
}

func (s *Security) fetchSolana(ctx context.Context, address string) (domain.Fragment, error) {
	endpoint := fmt.Sprintf("%s/solana/token_security?contract_addresses=%s", s.baseURL, url.QueryEscape(address))
	var env envelope[solanaResult]
	if err := sources.GetJSON(ctx, s.client, endpoint, s.headers(), &env); err != nil {
		return nil, err
	}
	if env.Code != 1 {
		return nil, fmt.Errorf("goplus code %d: %s", env.Code, env.Message)
	}

	res, ok := env.Result[address]
	if !ok {
		return nil, sources.ErrNoData
	}
	return &domain.SecurityData{
		IsMintable: res.Mintable.Status == "1",
		Available:  true,
	}, nil
}

// parseEVM maps GoPlus flags ("1" = set) to a fragment. Taxes are reported as
// fractions and converted to percent; an empty tax means GoPlus could not
// simulate a trade and is treated as no evidence.
func parseEVM(r evmResult) *domain.SecurityData {
	return &domain.SecurityData{
		IsHoneypot:    r.IsHoneypot == "1",
		BuyTax:        parseTax(r.BuyTax),
		SellTax:       parseTax(r.SellTax),
		CannotSellAll: r.CannotSellAll == "1",
		IsOpenSource:  r.IsOpenSource == "1",
		IsProxy:       r.IsProxy == "1",
		IsMintable:    r.IsMintable == "1",
		OwnerAddress:  r.OwnerAddress,
		Available:     true,
	}
}

func parseTax(raw string) float64 {
	if raw == "" {
		return 0
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < 0 {
		return 100
	}
	return v * 100
}
