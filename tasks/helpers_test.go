package tasks

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcutil"
)

const testLeaseTimeout = 30 * time.Second

// testAddress is a well-known mainnet P2PKH address used as a fixture
// across this package's tests.
func testAddress() string { return "1BvBMSEYstWetqTFn5Au4m4GFg7xJaNVN2" }

func btcutilAddress(addr string) (btcutil.Address, error) {
	return btcutil.DecodeAddress(addr, &chaincfg.MainNetParams)
}

func scriptHexForAddress(t *testing.T, addr string) string {
	t.Helper()
	return scriptHex(p2pkhScript(t, addr))
}
