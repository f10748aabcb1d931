package domain

import "strings"

// Chain describes an EVM network the engine can trade on.
type Chain struct {
	Name    string // canonical lowercase name
	ChainID int64  // EIP-155 chain id
}

// Well-known chains.
var (
	ChainEthereum = Chain{Name: "ethereum", ChainID: 1}
	ChainOptimism = Chain{Name: "optimism", ChainID: 10}
	ChainPolygon  = Chain{Name: "polygon", ChainID: 137}
	ChainBase     = Chain{Name: "base", ChainID: 8453}
	ChainArbitrum = Chain{Name: "arbitrum", ChainID: 42161}
)

// KnownChains returns a fresh lookup table of well-known chains keyed by name.
// Callers own the returned map.
func KnownChains() map[string]Chain {
	chains := []Chain{ChainEthereum, ChainOptimism, ChainPolygon, ChainBase, ChainArbitrum}
	m := make(map[string]Chain, len(chains))
	for _, c := range chains {
		m[c.Name] = c
	}
	return m
}

// LookupChain finds a well-known chain by name (case-insensitive).
func LookupChain(name string) (Chain, bool) {
	c, ok := KnownChains()[strings.ToLower(strings.TrimSpace(name))]
	return c, ok
}
