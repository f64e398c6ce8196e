package solana

import (
	"context"
	"math"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"token-risk-lab/internal/domain"
	"token-risk-lab/internal/sources"
)

// SourceName identifies the Solana contract source.
const SourceName = "solana"

// SPL token program ids. Mints owned by either have audited program code.
const (
	TokenProgramID     = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	Token2022ProgramID = "TokenzQdBNbLqP5VEhdkAS6EHFLC1PHnBqCXEpPxuEb"
)

const (
	signaturePageSize = 1000
	// maxSignaturePages bounds the walk back to the first signature.
	maxSignaturePages = 5
)

// MintSource reports the contract fragment for an SPL mint: authorities,
// supply and creation time.
type MintSource struct {
	rpc RPCClient
	log zerolog.Logger
}

// NewMintSource creates the source.
func NewMintSource(rpc RPCClient, log zerolog.Logger) *MintSource {
	return &MintSource{rpc: rpc, log: log}
}

// Compile-time interface check.
var _ sources.Source = (*MintSource)(nil)

func (m *MintSource) Name() string { return SourceName }

func (m *MintSource) SupportsChain(chainID int64) bool { return chainID == domain.ChainSolana }

func (m *MintSource) Default() domain.Fragment { return domain.DefaultContractData() }

// Fetch reads the mint account. A mint with no mint authority can never be
// minted again; with neither mint nor freeze authority nobody controls it.
func (m *MintSource) Fetch(ctx context.Context, address string, chainID int64) (domain.Fragment, error) {
	if chainID != domain.ChainSolana {
		return nil, sources.ErrUnsupportedChain
	}

	acct, err := m.rpc.GetMintAccount(ctx, address)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return nil, sources.ErrNoData
	}

	data := ContractDataFromMint(acct)

	if created, ok, err := m.oldestBlockTime(ctx, address); err != nil {
		m.log.Debug().Err(err).Str("address", address).Msg("mint creation time unavailable")
	} else if ok {
		data.CreatedAt = created
	}

	return data, nil
}

// ContractDataFromMint maps a parsed mint account to the contract fragment.
func ContractDataFromMint(acct *MintAccount) *domain.ContractData {
	verified := acct.Owner == TokenProgramID || acct.Owner == Token2022ProgramID
	hasMint := acct.MintAuthority != nil
	mintDisabled := !hasMint
	freezable := acct.FreezeAuthority != nil
	renounced := !hasMint && !freezable
	isProxy := false

	data := &domain.ContractData{
		Verified:           &verified,
		HasMintFunction:    &hasMint,
		MintDisabled:       &mintDisabled,
		HasPauseFunction:   &freezable,
		IsProxy:            &isProxy,
		OwnershipRenounced: &renounced,
	}

	if raw, err := strconv.ParseFloat(acct.Supply, 64); err == nil {
		data.TotalSupply = raw / math.Pow10(acct.Decimals)
	}
	return data
}

// oldestBlockTime walks signatures backwards until the first one. ok is false
// when the history is longer than the walk allows.
func (m *MintSource) oldestBlockTime(ctx context.Context, address string) (time.Time, bool, error) {
	opts := &SignaturesOpts{Limit: signaturePageSize}
	for page := 0; page < maxSignaturePages; page++ {
		sigs, err := m.rpc.GetSignaturesForAddress(ctx, address, opts)
		if err != nil {
			return time.Time{}, false, err
		}
		if len(sigs) == 0 {
			return time.Time{}, false, nil
		}
		if len(sigs) < signaturePageSize {
			oldest := sigs[len(sigs)-1]
			if oldest.BlockTime == nil {
				return time.Time{}, false, nil
			}
			return time.Unix(*oldest.BlockTime, 0).UTC(), true, nil
		}
		opts = &SignaturesOpts{Before: sigs[len(sigs)-1].Signature, Limit: signaturePageSize}
	}
	return time.Time{}, false, nil
}
