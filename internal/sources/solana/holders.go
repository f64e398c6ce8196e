package solana

import (
	"context"

	"github.com/rs/zerolog"

	"token-risk-lab/internal/domain"
	"token-risk-lab/internal/sources"
)

// HoldersSourceName identifies the Solana holder source.
const HoldersSourceName = "solana_holders"

const (
	// tokenAccountSize is the fixed account layout of the classic token program.
	tokenAccountSize   = 165
	maxHolderAddresses = 20
)

// HolderSource reports holder count, concentration and the largest holder
// wallets of an SPL mint.
type HolderSource struct {
	rpc HolderRPC
	log zerolog.Logger
}

// NewHolderSource creates the source.
func NewHolderSource(rpc HolderRPC, log zerolog.Logger) *HolderSource {
	return &HolderSource{rpc: rpc, log: log}
}

// Compile-time interface check.
var _ sources.Source = (*HolderSource)(nil)

func (h *HolderSource) Name() string { return HoldersSourceName }

func (h *HolderSource) SupportsChain(chainID int64) bool { return chainID == domain.ChainSolana }

func (h *HolderSource) Default() domain.Fragment { return domain.DefaultHolderData() }

// Fetch measures concentration against the total supply. Owner wallets and the
// holder count are best effort: many public RPC nodes refuse getProgramAccounts,
// in which case the count falls back to the non-empty largest accounts.
func (h *HolderSource) Fetch(ctx context.Context, address string, chainID int64) (domain.Fragment, error) {
	if chainID != domain.ChainSolana {
		return nil, sources.ErrUnsupportedChain
	}

	largest, err := h.rpc.GetTokenLargestAccounts(ctx, address)
	if err != nil {
		return nil, err
	}
	if len(largest) == 0 {
		return nil, sources.ErrNoData
	}
	supply, err := h.rpc.GetTokenSupply(ctx, address)
	if err != nil {
		return nil, err
	}

	data := HolderDataFromLargest(largest, supply.Raw())

	if n, err := h.countHolders(ctx, address); err != nil {
		h.log.Debug().Err(err).Str("address", address).Msg("holder count unavailable")
	} else if n > data.HolderCount {
		data.HolderCount = n
	}

	accounts := make([]string, 0, len(largest))
	for _, a := range largest {
		accounts = append(accounts, a.Address)
	}
	owners, err := h.rpc.GetTokenAccountOwners(ctx, accounts)
	if err != nil {
		h.log.Debug().Err(err).Str("address", address).Msg("holder owners unavailable")
		return data, nil
	}
	data.HolderAddresses = ownerAddresses(largest, owners)
	return data, nil
}

// countHolders counts token accounts under the classic program first and
// under Token-2022 when the classic program has none.
func (h *HolderSource) countHolders(ctx context.Context, mint string) (int, error) {
	n, err := h.rpc.CountTokenAccounts(ctx, TokenProgramID, mint, tokenAccountSize)
	if err != nil || n > 0 {
		return n, err
	}
	return h.rpc.CountTokenAccounts(ctx, Token2022ProgramID, mint, 0)
}

// HolderDataFromLargest computes concentration from the largest accounts.
// When the supply is unknown the accounts' own total is the denominator.
func HolderDataFromLargest(largest []TokenAmount, supply float64) *domain.HolderData {
	var held, top10 float64
	data := &domain.HolderData{}
	for i, a := range largest {
		raw := a.Raw()
		if raw > 0 {
			data.HolderCount++
		}
		held += raw
		if i < 10 {
			top10 += raw
		}
	}

	total := supply
	if total <= 0 {
		total = held
	}
	if total <= 0 {
		return domain.DefaultHolderData()
	}
	data.TopHolderPercent = largest[0].Raw() / total * 100
	data.Top10HoldersPercent = top10 / total * 100
	return data
}

// ownerAddresses lists distinct owner wallets of non-empty accounts, largest first.
func ownerAddresses(largest []TokenAmount, owners []string) []string {
	seen := make(map[string]bool, len(owners))
	var out []string
	for i, owner := range owners {
		if owner == "" || seen[owner] || i >= len(largest) || largest[i].Raw() <= 0 {
			continue
		}
		seen[owner] = true
		out = append(out, owner)
		if len(out) == maxHolderAddresses {
			break
		}
	}
	return out
}
