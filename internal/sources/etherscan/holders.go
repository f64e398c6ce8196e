package etherscan

import (
	"context"
	"sort"
	"strconv"

	"github.com/rs/zerolog"

	"token-risk-lab/internal/domain"
	"token-risk-lab/internal/sources"
)

// HoldersSourceName identifies the holder-data source.
const HoldersSourceName = "holders"

const (
	holderPageSize     = 100
	maxHolderAddresses = 20
)

// Holders reports holder count, concentration and the largest holder addresses.
type Holders struct {
	client *Client
	log    zerolog.Logger
}

// NewHolders creates the holder source.
func NewHolders(client *Client, log zerolog.Logger) *Holders {
	return &Holders{client: client, log: log}
}

// Compile-time interface check.
var _ sources.Source = (*Holders)(nil)

func (h *Holders) Name() string { return HoldersSourceName }

func (h *Holders) SupportsChain(chainID int64) bool { return h.client.SupportsChain(chainID) }

func (h *Holders) Default() domain.Fragment { return domain.DefaultHolderData() }

// Fetch reads the first holder page. Concentration is measured against the
// balance held by that page. The total count comes from tokenholdercount when
// available and falls back to the page length.
func (h *Holders) Fetch(ctx context.Context, address string, chainID int64) (domain.Fragment, error) {
	list, err := h.client.TokenHolderList(ctx, chainID, address, holderPageSize)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, sources.ErrNoData
	}

	data := HolderDataFromList(list)

	if n, err := h.client.TokenHolderCount(ctx, chainID, address); err == nil && n > data.HolderCount {
		data.HolderCount = n
	} else if err != nil {
		h.log.Debug().Err(err).Str("address", address).Msg("holder count unavailable")
	}

	return data, nil
}

// HolderDataFromList computes concentration from a holder page.
func HolderDataFromList(list []Holder) *domain.HolderData {
	type balance struct {
		address string
		qty     float64
	}

	balances := make([]balance, 0, len(list))
	var total float64
	for _, hl := range list {
		qty, _ := strconv.ParseFloat(hl.Quantity, 64)
		balances = append(balances, balance{address: hl.Address, qty: qty})
		total += qty
	}
	sort.SliceStable(balances, func(i, j int) bool { return balances[i].qty > balances[j].qty })

	data := &domain.HolderData{HolderCount: len(balances)}
	if total > 0 {
		data.TopHolderPercent = balances[0].qty / total * 100
		var top10 float64
		for i := 0; i < len(balances) && i < 10; i++ {
			top10 += balances[i].qty
		}
		data.Top10HoldersPercent = top10 / total * 100
	}

	for i := 0; i < len(balances) && i < maxHolderAddresses; i++ {
		data.HolderAddresses = append(data.HolderAddresses, balances[i].address)
	}
	return data
}
