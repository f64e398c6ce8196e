package domain

import (
	"fmt"
	"math"
	"time"
)

// TokenSnapshot is the merged, defaulted view of a token's signals at a point in time.
// Immutable once published to the cache; a refresh produces a new snapshot.
//
// Every field's zero value is its documented default. Source fragments that
// fail are replaced by their own defaults (see the *Data types below), which
// may be more pessimistic than the zero value.
type TokenSnapshot struct {
	Address     string    `json:"address"`
	ChainID     int64     `json:"chain_id"`
	CollectedAt time.Time `json:"collected_at"`

	// Market (dex source). Default: all zero, no sources.
	PriceUSD              float64  `json:"price_usd"`
	LiquidityUSD          float64  `json:"liquidity_usd"`
	Volume24h             float64  `json:"volume_24h"`
	PriceChange24hPercent float64  `json:"price_change_24h_percent"`
	MarketCap             float64  `json:"market_cap"` // 0 = not reported
	PoolCount             int      `json:"pool_count"`
	DexSources            []string `json:"dex_sources,omitempty"`

	// Holders (holders source). Default: zero holders, no addresses.
	HolderCount         int      `json:"holder_count"`
	TopHolderPercent    float64  `json:"top_holder_percent"`
	Top10HoldersPercent float64  `json:"top10_holders_percent"`
	HolderAddresses     []string `json:"holder_addresses,omitempty"`

	// Contract (explorer / solana sources). Default: unverified, nothing renounced, age unknown.
	ContractVerified   bool      `json:"contract_verified"`
	ContractName       string    `json:"contract_name,omitempty"`
	HasMintFunction    bool      `json:"has_mint_function"`
	MintDisabled       bool      `json:"mint_disabled"`
	HasPauseFunction   bool      `json:"has_pause_function"`
	IsProxy            bool      `json:"is_proxy"`
	OwnershipRenounced bool      `json:"ownership_renounced"`
	TotalSupply        float64   `json:"total_supply"`
	ContractCreatedAt  time.Time `json:"contract_created_at"` // zero = unknown

	// Security (security source). Default: zero values; the source's own
	// failure default is maximally pessimistic (see SecurityData).
	IsHoneypot            bool    `json:"is_honeypot"`
	BuyTax                float64 `json:"buy_tax"`
	SellTax               float64 `json:"sell_tax"`
	CannotSellAll         bool    `json:"cannot_sell_all"`
	IsOpenSource          bool    `json:"is_open_source"`
	IsMintable            bool    `json:"is_mintable"`
	OwnerAddress          string  `json:"owner_address,omitempty"`
	SecurityDataAvailable bool    `json:"security_data_available"`

	// Derived by Finalize.
	CanSell                 bool     `json:"can_sell"`
	VolumeLiquidityRatio    float64  `json:"volume_liquidity_ratio"`
	LiquidityMarketCapRatio float64  `json:"liquidity_market_cap_ratio"`
	FailedSources           []string `json:"failed_sources,omitempty"`
}

// Finalize computes derived fields after all fragments have been applied.
func (s *TokenSnapshot) Finalize() {
	s.CanSell = !(s.CannotSellAll || s.IsHoneypot)
	s.VolumeLiquidityRatio = safeRatio(s.Volume24h, s.LiquidityUSD)
	s.LiquidityMarketCapRatio = safeRatio(s.LiquidityUSD, s.MarketCap)
}

// ContractAge returns the contract age at collection time; ok is false when unknown.
func (s *TokenSnapshot) ContractAge() (time.Duration, bool) {
	if s.ContractCreatedAt.IsZero() || s.CollectedAt.IsZero() {
		return 0, false
	}
	age := s.CollectedAt.Sub(s.ContractCreatedAt)
	if age < 0 {
		age = 0
	}
	return age, true
}

// Validate rejects snapshots that cannot be scored (non-finite or negative magnitudes).
func (s *TokenSnapshot) Validate() error {
	fields := []struct {
		name string
		v    float64
	}{
		{"liquidity_usd", s.LiquidityUSD},
		{"volume_24h", s.Volume24h},
		{"market_cap", s.MarketCap},
		{"total_supply", s.TotalSupply},
		{"top10_holders_percent", s.Top10HoldersPercent},
		{"buy_tax", s.BuyTax},
		{"sell_tax", s.SellTax},
	}
	for _, f := range fields {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) || f.v < 0 {
			return fmt.Errorf("malformed snapshot: %s=%v", f.name, f.v)
		}
	}
	if s.HolderCount < 0 {
		return fmt.Errorf("malformed snapshot: holder_count=%d", s.HolderCount)
	}
	if math.IsNaN(s.PriceChange24hPercent) || math.IsInf(s.PriceChange24hPercent, 0) {
		return fmt.Errorf("malformed snapshot: price_change_24h_percent=%v", s.PriceChange24hPercent)
	}
	return nil
}

// Clone returns a deep copy so cached snapshots are never shared mutably.
func (s *TokenSnapshot) Clone() *TokenSnapshot {
	if s == nil {
		return nil
	}
	c := *s
	c.DexSources = append([]string(nil), s.DexSources...)
	c.HolderAddresses = append([]string(nil), s.HolderAddresses...)
	c.FailedSources = append([]string(nil), s.FailedSources...)
	return &c
}

func safeRatio(num, den float64) float64 {
	if den <= 0 {
		return 0
	}
	return num / den
}

// Fragment is a partial snapshot produced by one source.
type Fragment interface {
	Apply(s *TokenSnapshot)
}

// MarketData is the DEX aggregator fragment.
// Default (DefaultMarketData): all zero.
type MarketData struct {
	PriceUSD              float64
	LiquidityUSD          float64
	Volume24h             float64
	PriceChange24hPercent float64
	MarketCap             float64
	PoolCount             int
	Sources               []string
}

// DefaultMarketData is used when the DEX source fails.
func DefaultMarketData() *MarketData { return &MarketData{} }

func (m *MarketData) Apply(s *TokenSnapshot) {
	s.PriceUSD = m.PriceUSD
	s.LiquidityUSD = m.LiquidityUSD
	s.Volume24h = m.Volume24h
	s.PriceChange24hPercent = m.PriceChange24hPercent
	s.MarketCap = m.MarketCap
	s.PoolCount = m.PoolCount
	s.DexSources = append([]string(nil), m.Sources...)
}

// HolderData is the holder-list fragment.
// Default (DefaultHolderData): 0 holders, 100% concentration, no addresses.
type HolderData struct {
	HolderCount         int
	TopHolderPercent    float64
	Top10HoldersPercent float64
	HolderAddresses     []string
}

// DefaultHolderData is used when the holder source fails.
func DefaultHolderData() *HolderData {
	return &HolderData{TopHolderPercent: 100, Top10HoldersPercent: 100}
}

func (h *HolderData) Apply(s *TokenSnapshot) {
	s.HolderCount = h.HolderCount
	s.TopHolderPercent = h.TopHolderPercent
	s.Top10HoldersPercent = h.Top10HoldersPercent
	s.HolderAddresses = append([]string(nil), h.HolderAddresses...)
}

// ContractData is the contract-metadata fragment. Only fields the source
// actually reported are applied, so two contract sources can coexist.
// Default (DefaultContractData): unverified, age unknown.
type ContractData struct {
	Verified           *bool
	Name               string
	HasMintFunction    *bool
	MintDisabled       *bool
	HasPauseFunction   *bool
	IsProxy            *bool
	OwnershipRenounced *bool
	TotalSupply        float64
	CreatedAt          time.Time
}

// DefaultContractData is used when a contract source fails.
func DefaultContractData() *ContractData {
	unverified := false
	return &ContractData{Verified: &unverified}
}

func (c *ContractData) Apply(s *TokenSnapshot) {
	if c.Verified != nil {
		s.ContractVerified = *c.Verified
	}
	if c.Name != "" {
		s.ContractName = c.Name
	}
	if c.HasMintFunction != nil {
		s.HasMintFunction = *c.HasMintFunction
	}
	if c.MintDisabled != nil {
		s.MintDisabled = *c.MintDisabled
	}
	if c.HasPauseFunction != nil {
		s.HasPauseFunction = *c.HasPauseFunction
	}
	if c.IsProxy != nil {
		s.IsProxy = *c.IsProxy
	}
	if c.OwnershipRenounced != nil {
		s.OwnershipRenounced = *c.OwnershipRenounced
	}
	if c.TotalSupply > 0 {
		s.TotalSupply = c.TotalSupply
	}
	if !c.CreatedAt.IsZero() {
		s.ContractCreatedAt = c.CreatedAt
	}
}

// SecurityData is the security-scanner fragment.
// Default (DefaultSecurityData): honeypot, 100% taxes, cannot sell.
type SecurityData struct {
	IsHoneypot    bool
	BuyTax        float64
	SellTax       float64
	CannotSellAll bool
	IsOpenSource  bool
	IsProxy       bool
	IsMintable    bool
	OwnerAddress  string
	Available     bool
}

// DefaultSecurityData is the maximally pessimistic fragment used when the
// security source fails, so downstream checks fail closed.
func DefaultSecurityData() *SecurityData {
	return &SecurityData{
		IsHoneypot:    true,
		BuyTax:        100,
		SellTax:       100,
		CannotSellAll: true,
	}
}

func (d *SecurityData) Apply(s *TokenSnapshot) {
	s.IsHoneypot = d.IsHoneypot
	s.BuyTax = d.BuyTax
	s.SellTax = d.SellTax
	s.CannotSellAll = d.CannotSellAll
	s.IsOpenSource = d.IsOpenSource
	s.IsMintable = d.IsMintable
	s.OwnerAddress = d.OwnerAddress
	s.SecurityDataAvailable = d.Available
	if d.IsProxy {
		s.IsProxy = true
	}
}
