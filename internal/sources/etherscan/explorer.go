package etherscan

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"token-risk-lab/internal/domain"
	"token-risk-lab/internal/sources"
)

// ExplorerSourceName identifies the contract-metadata source.
const ExplorerSourceName = "explorer"

var renounceIndicators = []string{
	"renounceOwnership",
	"owner = address(0)",
	"owner = 0x0000000000000000000000000000000000000000",
}

// Explorer reports contract verification, capability indicators, supply and
// creation time for EVM tokens.
type Explorer struct {
	client *Client
	log    zerolog.Logger
}

// NewExplorer creates the contract source.
func NewExplorer(client *Client, log zerolog.Logger) *Explorer {
	return &Explorer{client: client, log: log}
}

// Compile-time interface check.
var _ sources.Source = (*Explorer)(nil)

func (e *Explorer) Name() string { return ExplorerSourceName }

func (e *Explorer) SupportsChain(chainID int64) bool { return e.client.SupportsChain(chainID) }

func (e *Explorer) Default() domain.Fragment { return domain.DefaultContractData() }

// Fetch requires getsourcecode to succeed; supply and creation time are best effort.
func (e *Explorer) Fetch(ctx context.Context, address string, chainID int64) (domain.Fragment, error) {
	src, err := e.client.GetSourceCode(ctx, chainID, address)
	if err != nil {
		return nil, err
	}

	data := ContractDataFromSource(src)

	if supply, err := e.client.TokenSupply(ctx, chainID, address); err == nil {
		data.TotalSupply = supply
	} else {
		e.log.Debug().Err(err).Str("address", address).Msg("token supply unavailable")
	}

	if ts, err := e.client.ContractCreationUnix(ctx, chainID, address); err == nil {
		data.CreatedAt = time.Unix(ts, 0).UTC()
	} else {
		e.log.Debug().Err(err).Str("address", address).Msg("contract creation time unavailable")
	}

	return data, nil
}

// ContractDataFromSource derives contract indicators from verified source text.
// Capability flags are only reported for verified contracts.
func ContractDataFromSource(src *SourceCode) *domain.ContractData {
	verified := src.SourceCode != ""
	data := &domain.ContractData{Verified: &verified, Name: src.ContractName}
	if !verified {
		return data
	}

	lower := strings.ToLower(src.SourceCode)
	isProxy := src.Proxy == "1" || strings.Contains(lower, "proxy")
	hasMint := strings.Contains(lower, "mint")
	hasPause := strings.Contains(lower, "pause")
	renounced := false
	for _, ind := range renounceIndicators {
		if strings.Contains(src.SourceCode, ind) {
			renounced = true
			break
		}
	}

	data.IsProxy = &isProxy
	data.HasMintFunction = &hasMint
	data.HasPauseFunction = &hasPause
	data.OwnershipRenounced = &renounced
	return data
}
