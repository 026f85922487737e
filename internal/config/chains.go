package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Chain is one supported blockchain network and the gateway endpoint used
// for escrow actions and KV-store lookups on it.
type Chain struct {
	ChainID    int64  `yaml:"chain_id"`
	Name       string `yaml:"name"`
	GatewayURL string `yaml:"gateway_url"`
}

// ChainRegistry holds the supported chains, keyed by chain ID.
type ChainRegistry struct {
	chains map[int64]Chain
}

type chainsFile struct {
	Chains []Chain `yaml:"chains"`
}

// LoadChains reads the chain registry from a YAML file.
func LoadChains(path string) (*ChainRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read chains file: %w", err)
	}

	var f chainsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse chains file: %w", err)
	}
	if len(f.Chains) == 0 {
		return nil, fmt.Errorf("chains file %s lists no chains", path)
	}

	reg := &ChainRegistry{chains: make(map[int64]Chain, len(f.Chains))}
	for _, c := range f.Chains {
		if c.GatewayURL == "" {
			return nil, fmt.Errorf("chain %d has no gateway_url", c.ChainID)
		}
		reg.chains[c.ChainID] = c
	}
	return reg, nil
}

// Get returns the chain with the given ID.
func (r *ChainRegistry) Get(chainID int64) (Chain, error) {
	c, ok := r.chains[chainID]
	if !ok {
		return Chain{}, fmt.Errorf("unsupported chain %d", chainID)
	}
	return c, nil
}

// IDs returns the registered chain IDs.
func (r *ChainRegistry) IDs() []int64 {
	ids := make([]int64, 0, len(r.chains))
	for id := range r.chains {
		ids = append(ids, id)
	}
	return ids
}
