package config

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
)

// ChainParams resolves a Config's Network name to the btcsuite chain
// parameters the rest of the system needs for address decoding and P2P
// magic bytes (spec.md §6).
func ChainParams(network string) (*chaincfg.Params, error) {
	switch network {
	case "", "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	case "simnet":
		return &chaincfg.SimNetParams, nil
	default:
		return nil, fmt.Errorf("config: unknown network %q", network)
	}
}
