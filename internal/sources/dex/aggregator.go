// Package dex implements the DEX market-data source as an aggregator over a
// registry of DEX integrations selected by chain id.
package dex

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"token-risk-lab/internal/domain"
	"token-risk-lab/internal/sources"
)

// SourceName identifies the aggregated DEX source.
const SourceName = "dex"

// Quote is what one integration reports for a token.
type Quote struct {
	Integration    string
	PriceUSD       float64
	LiquidityUSD   float64
	Volume24h      float64
	PriceChange24h float64
	MarketCap      float64
	PoolCount      int
}

// Integration is one DEX data provider.
type Integration interface {
	Name() string
	SupportsChain(chainID int64) bool
	TokenData(ctx context.Context, address string, chainID int64) (*Quote, error)
}

// Aggregator merges quotes from every integration that supports the chain.
// The highest-liquidity quote supplies price, market cap and price change;
// liquidity, volume and pool counts are summed.
type Aggregator struct {
	integrations []Integration
	log          zerolog.Logger
}

// NewAggregator creates an Aggregator over the given integrations.
func NewAggregator(log zerolog.Logger, integrations ...Integration) *Aggregator {
	return &Aggregator{integrations: integrations, log: log}
}

// Compile-time interface check.
var _ sources.Source = (*Aggregator)(nil)

func (a *Aggregator) Name() string { return SourceName }

func (a *Aggregator) Default() domain.Fragment { return domain.DefaultMarketData() }

func (a *Aggregator) SupportsChain(chainID int64) bool {
	for _, in := range a.integrations {
		if in.SupportsChain(chainID) {
			return true
		}
	}
	return false
}

// Fetch queries integrations in registration order. Individual integration
// failures are tolerated as long as one quote is obtained.
func (a *Aggregator) Fetch(ctx context.Context, address string, chainID int64) (domain.Fragment, error) {
	var (
		quotes []*Quote
		errs   []error
	)
	for _, in := range a.integrations {
		if !in.SupportsChain(chainID) {
			continue
		}
		q, err := in.TokenData(ctx, address, chainID)
		if err == nil && q == nil {
			err = sources.ErrNoData
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			a.log.Debug().Err(err).Str("integration", in.Name()).Str("address", address).Msg("dex integration failed")
			errs = append(errs, fmt.Errorf("%s: %w", in.Name(), err))
			continue
		}
		quotes = append(quotes, q)
	}

	if len(quotes) == 0 {
		if len(errs) == 0 {
			return nil, sources.ErrUnsupportedChain
		}
		return nil, errors.Join(errs...)
	}
	return Merge(quotes), nil
}

// Merge combines quotes into one market fragment.
func Merge(quotes []*Quote) *domain.MarketData {
	md := domain.DefaultMarketData()
	if len(quotes) == 0 {
		return md
	}

	primary := quotes[0]
	for _, q := range quotes {
		if q.LiquidityUSD > primary.LiquidityUSD {
			primary = q
		}
		md.LiquidityUSD += q.LiquidityUSD
		md.Volume24h += q.Volume24h
		md.PoolCount += q.PoolCount
		md.Sources = append(md.Sources, q.Integration)
	}
	md.PriceUSD = primary.PriceUSD
	md.PriceChange24hPercent = primary.PriceChange24h
	md.MarketCap = primary.MarketCap
	return md
}
