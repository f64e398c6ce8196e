package dex

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"token-risk-lab/internal/domain"
	"token-risk-lab/internal/sources"
)

// DefaultDEXToolsURL is the DEXTools public API (trial plan).
const DefaultDEXToolsURL = "https://public-api.dextools.io/trial/v2"

var dexToolsChains = map[int64]string{
	domain.ChainEthereum: "ether",
	domain.ChainBSC:      "bsc",
	domain.ChainPolygon:  "polygon",
	domain.ChainArbitrum: "arbitrum",
	domain.ChainOptimism: "optimism",
	domain.ChainBase:     "base",
	domain.ChainSolana:   "solana",
}

// DEXTools reads token price and info from the DEXTools API. It only
// supports chains when an API key is configured.
type DEXTools struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewDEXTools creates a DEXTools integration. client may be nil.
func NewDEXTools(baseURL, apiKey string, client *http.Client) *DEXTools {
	if baseURL == "" {
		baseURL = DefaultDEXToolsURL
	}
	if client == nil {
		client = sources.NewHTTPClient()
	}
	return &DEXTools{baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, client: client}
}

func (d *DEXTools) Name() string { return "dextools" }

func (d *DEXTools) SupportsChain(chainID int64) bool {
	_, ok := dexToolsChains[chainID]
	return ok && d.apiKey != ""
}

type dexToolsPriceResponse struct {
	Data *struct {
		Price        float64 `json:"price"`
		Variation24h float64 `json:"variation24h"`
	} `json:"data"`
}

type dexToolsInfoResponse struct {
	Data *struct {
		Mcap    float64 `json:"mcap"`
		FDV     float64 `json:"fdv"`
		Holders int     `json:"holders"`
	} `json:"data"`
}

// TokenData reads price and market cap. DEXTools does not expose aggregate
// liquidity on this plan, so the quote carries none and never becomes primary
// over a source that does.
func (d *DEXTools) TokenData(ctx context.Context, address string, chainID int64) (*Quote, error) {
	chain, ok := dexToolsChains[chainID]
	if !ok || d.apiKey == "" {
		return nil, sources.ErrUnsupportedChain
	}

	headers := map[string]string{"X-API-Key": d.apiKey}
	base := fmt.Sprintf("%s/token/%s/%s", d.baseURL, chain, url.PathEscape(address))

	var price dexToolsPriceResponse
	if err := sources.GetJSON(ctx, d.client, base+"/price", headers, &price); err != nil {
		return nil, err
	}
	if price.Data == nil {
		return nil, sources.ErrNoData
	}

	q := &Quote{
		Integration:    d.Name(),
		PriceUSD:       price.Data.Price,
		PriceChange24h: price.Data.Variation24h,
	}

	// Market cap is optional.
	var info dexToolsInfoResponse
	if err := sources.GetJSON(ctx, d.client, base+"/info", headers, &info); err == nil && info.Data != nil {
		q.MarketCap = info.Data.Mcap
		if q.MarketCap == 0 {
			q.MarketCap = info.Data.FDV
		}
	}
	return q, nil
}
