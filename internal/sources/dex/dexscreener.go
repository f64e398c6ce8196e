package dex

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"token-risk-lab/internal/domain"
	"token-risk-lab/internal/sources"
)

// DefaultDexScreenerURL is the public DexScreener API.
const DefaultDexScreenerURL = "https://api.dexscreener.com"

var dexScreenerChains = map[int64]string{
	domain.ChainEthereum: "ethereum",
	domain.ChainBSC:      "bsc",
	domain.ChainPolygon:  "polygon",
	domain.ChainArbitrum: "arbitrum",
	domain.ChainOptimism: "optimism",
	domain.ChainBase:     "base",
	domain.ChainSolana:   "solana",
}

// DexScreener reads pair data from the DexScreener public API.
type DexScreener struct {
	baseURL string
	client  *http.Client
}

// NewDexScreener creates a DexScreener integration. client may be nil.
func NewDexScreener(baseURL string, client *http.Client) *DexScreener {
	if baseURL == "" {
		baseURL = DefaultDexScreenerURL
	}
	if client == nil {
		client = sources.NewHTTPClient()
	}
	return &DexScreener{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (d *DexScreener) Name() string { return "dexscreener" }

func (d *DexScreener) SupportsChain(chainID int64) bool {
	_, ok := dexScreenerChains[chainID]
	return ok
}

type dexScreenerPair struct {
	ChainID     string  `json:"chainId"`
	DexID       string  `json:"dexId"`
	PairAddress string  `json:"pairAddress"`
	PriceUSD    string  `json:"priceUsd"`
	MarketCap   float64 `json:"marketCap"`
	FDV         float64 `json:"fdv"`
	PriceChange struct {
		H24 float64 `json:"h24"`
	} `json:"priceChange"`
	Liquidity struct {
		USD float64 `json:"usd"`
	} `json:"liquidity"`
	Volume struct {
		H24 float64 `json:"h24"`
	} `json:"volume"`
}

type dexScreenerTokensResponse struct {
	Pairs []dexScreenerPair `json:"pairs"`
}

// TokenData sums liquidity and volume over the token's pairs on the chain and
// takes price, price change and market cap from the most liquid pair.
func (d *DexScreener) TokenData(ctx context.Context, address string, chainID int64) (*Quote, error) {
	chain, ok := dexScreenerChains[chainID]
	if !ok {
		return nil, sources.ErrUnsupportedChain
	}

	var resp dexScreenerTokensResponse
	endpoint := fmt.Sprintf("%s/latest/dex/tokens/%s", d.baseURL, url.PathEscape(address))
	if err := sources.GetJSON(ctx, d.client, endpoint, nil, &resp); err != nil {
		return nil, err
	}

	var pairs []dexScreenerPair
	for _, p := range resp.Pairs {
		if p.ChainID == "" || p.ChainID == chain {
			pairs = append(pairs, p)
		}
	}
	if len(pairs) == 0 {
		return nil, sources.ErrNoData
	}

	sort.SliceStable(pairs, func(i, j int) bool {
		return pairs[i].Liquidity.USD > pairs[j].Liquidity.USD
	})

	q := &Quote{Integration: d.Name(), PoolCount: len(pairs)}
	for _, p := range pairs {
		q.LiquidityUSD += p.Liquidity.USD
		q.Volume24h += p.Volume.H24
	}

	main := pairs[0]
	q.PriceUSD, _ = strconv.ParseFloat(main.PriceUSD, 64)
	q.PriceChange24h = main.PriceChange.H24
	q.MarketCap = main.MarketCap
	if q.MarketCap == 0 {
		q.MarketCap = main.FDV
	}
	return q, nil
}

// Listing is a token surfaced by a trending feed.
type Listing struct {
	Address string
	ChainID int64
}

type dexScreenerBoost struct {
	ChainID      string  `json:"chainId"`
	TokenAddress string  `json:"tokenAddress"`
	TotalAmount  float64 `json:"totalAmount"`
}

// TopBoosted returns the most boosted tokens on supported chains, at most limit.
func (d *DexScreener) TopBoosted(ctx context.Context, limit int) ([]Listing, error) {
	var boosts []dexScreenerBoost
	if err := sources.GetJSON(ctx, d.client, d.baseURL+"/token-boosts/top/v1", nil, &boosts); err != nil {
		return nil, err
	}

	ids := make(map[string]int64, len(dexScreenerChains))
	for id, name := range dexScreenerChains {
		ids[name] = id
	}

	seen := make(map[Listing]bool)
	var out []Listing
	for _, b := range boosts {
		chainID, ok := ids[b.ChainID]
		if !ok || b.TokenAddress == "" {
			continue
		}
		l := Listing{Address: b.TokenAddress, ChainID: chainID}
		if seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, l)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
