package types

import (
	"fmt"
	"math/big"
	"strings"
)

// Network represents supported EVM networks
type Network string

const (
	NetworkBase        Network = "base"
	NetworkBaseSepolia Network = "base-sepolia" // testnet
	NetworkPolygon     Network = "polygon"
	NetworkPolygonAmoy Network = "polygon-amoy" // testnet
)

type networkInfo struct {
	chainID int64
	token   TokenInfo
	testnet bool
}

// USDC deployments; 6 decimals on every network.
var networks = map[Network]networkInfo{
	NetworkBase: {
		chainID: 8453,
		token:   TokenInfo{Address: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", Symbol: "USDC", Decimals: 6},
	},
	NetworkBaseSepolia: {
		chainID: 84532,
		token:   TokenInfo{Address: "0x036CbD53842c5426634e7929541eC2318f3dCF7e", Symbol: "USDC", Decimals: 6},
		testnet: true,
	},
	NetworkPolygon: {
		chainID: 137,
		token:   TokenInfo{Address: "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359", Symbol: "USDC", Decimals: 6},
	},
	NetworkPolygonAmoy: {
		chainID: 80002,
		token:   TokenInfo{Address: "0x41E94Eb019C0762f9Bfcf9Fb1E58725BfB0e7582", Symbol: "USDC", Decimals: 6},
		testnet: true,
	},
}

// ParseNetwork resolves a network name, case-insensitively.
func ParseNetwork(s string) (Network, error) {
	n := Network(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := networks[n]; !ok {
		return "", &BatchPayError{
			Code:    CodeUnsupportedNetwork,
			Message: fmt.Sprintf("unsupported network: %s", s),
		}
	}
	return n, nil
}

// NetworkFromChainID is the inverse of ChainID.
func NetworkFromChainID(id *big.Int) (Network, bool) {
	for n, info := range networks {
		if id != nil && id.Cmp(big.NewInt(info.chainID)) == 0 {
			return n, true
		}
	}
	return "", false
}

// ChainID returns the EIP-155 chain id, or nil for unknown networks.
func (n Network) ChainID() *big.Int {
	info, ok := networks[n]
	if !ok {
		return nil
	}
	return big.NewInt(info.chainID)
}

// DefaultToken returns the USDC deployment for n.
func DefaultToken(n Network) (TokenInfo, bool) {
	info, ok := networks[n]
	return info.token, ok
}

func (n Network) IsSupported() bool {
	_, ok := networks[n]
	return ok
}

func (n Network) IsTestnet() bool {
	return networks[n].testnet
}

func (n Network) String() string {
	return string(n)
}
