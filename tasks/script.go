package tasks

import (
	"encoding/hex"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

// scriptAddress extracts the single address a standard output script
// pays to, if any (spec.md §4.E's "shared script-classification step").
// Non-standard or multisig scripts with more than one address return
// ok=false, and the tasks carry an empty address for that output.
func scriptAddress(pkScript []byte, params *chaincfg.Params) (address string, ok bool) {
	_, addrs, _, err := txscript.ExtractPkScriptAddrs(pkScript, params)
	if err != nil || len(addrs) != 1 {
		return "", false
	}
	return addrs[0].EncodeAddress(), true
}

func scriptHex(pkScript []byte) string {
	return hex.EncodeToString(pkScript)
}
