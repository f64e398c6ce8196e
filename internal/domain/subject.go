package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mr-tron/base58"
)

// Supported chain identifiers.
const (
	ChainEthereum int64 = 1
	ChainOptimism int64 = 10
	ChainBSC      int64 = 56
	ChainPolygon  int64 = 137
	ChainSolana   int64 = 501
	ChainBase     int64 = 8453
	ChainArbitrum int64 = 42161
)

// ErrInvalidSubject is returned when a token address or chain id is not accepted.
var ErrInvalidSubject = errors.New("invalid subject")

var chainNames = map[int64]string{
	ChainEthereum: "ethereum",
	ChainOptimism: "optimism",
	ChainBSC:      "bsc",
	ChainPolygon:  "polygon",
	ChainSolana:   "solana",
	ChainBase:     "base",
	ChainArbitrum: "arbitrum",
}

// ChainName returns the canonical lowercase chain name, or "" if unsupported.
func ChainName(chainID int64) string {
	return chainNames[chainID]
}

// IsEVM reports whether the chain uses 20-byte hex addresses.
func IsEVM(chainID int64) bool {
	_, ok := chainNames[chainID]
	return ok && chainID != ChainSolana
}

// Subject identifies the token under analysis.
type Subject struct {
	Address string `json:"token_address"`
	ChainID int64  `json:"chain_id"`
}

// Key returns the cache/dedup key "chainID:address".
func (s Subject) Key() string {
	return strconv.FormatInt(s.ChainID, 10) + ":" + s.Address
}

func (s Subject) String() string {
	return s.Key()
}

// NormalizeSubject validates the address for its chain and returns the canonical form.
// EVM addresses are lowercased; Solana mints are base58 and case-sensitive.
func NormalizeSubject(address string, chainID int64) (Subject, error) {
	address = strings.TrimSpace(address)
	if _, ok := chainNames[chainID]; !ok {
		return Subject{}, fmt.Errorf("%w: unsupported chain %d", ErrInvalidSubject, chainID)
	}

	if chainID == ChainSolana {
		raw, err := base58.Decode(address)
		if err != nil || len(raw) != 32 {
			return Subject{}, fmt.Errorf("%w: %q is not a solana mint address", ErrInvalidSubject, address)
		}
		return Subject{Address: address, ChainID: chainID}, nil
	}

	if !isHexAddress(address) {
		return Subject{}, fmt.Errorf("%w: %q is not a 0x-prefixed 20-byte address", ErrInvalidSubject, address)
	}
	return Subject{Address: strings.ToLower(address), ChainID: chainID}, nil
}

func isHexAddress(s string) bool {
	if len(s) != 42 || !(strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X")) {
		return false
	}
	for _, c := range s[2:] {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
