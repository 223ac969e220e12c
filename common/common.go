// Package common holds the primitive types shared by every chainindex
// package: the block-hash type and the block-locator wire format
// (spec.md §6, "Block locator format").
package common

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/pkg/errors"
)

// Hash is a block or transaction hash. It is simply chainhash.Hash — the
// type btcsuite/btcd's wire protocol already speaks — so repository,
// header-chain and wire-message code never needs to convert between
// competing hash representations.
type Hash = chainhash.Hash

// ZeroHash is the all-zero hash, used as "no hash" (e.g. genesis's
// previous-hash field).
var ZeroHash Hash

// Locator is an exponentially-thinning list of ancestor hashes, most
// recent first, ending at genesis. Comparing two locators against a chain
// yields the highest common ancestor cheaply (spec.md §3).
type Locator []Hash

// Encode serializes a locator as a length-prefixed sequence of 32-byte
// hashes (spec.md §6).
func (l Locator) Encode() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, uint32(len(l)))
	for _, h := range l {
		buf.Write(h[:])
	}
	return buf.Bytes()
}

// Hex hex-encodes the serialized locator, the form stored in the lock blob
// and checkpoint blobs (spec.md §6).
func (l Locator) Hex() string { return hex.EncodeToString(l.Encode()) }

// DecodeLocator parses the wire format produced by Encode.
func DecodeLocator(b []byte) (Locator, error) {
	if len(b) < 4 {
		return nil, fmt.Errorf("locator: short buffer (%d bytes)", len(b))
	}
	n := binary.LittleEndian.Uint32(b[:4])
	b = b[4:]
	if uint64(len(b)) != uint64(n)*chainhash.HashSize {
		return nil, fmt.Errorf("locator: length mismatch: header says %d hashes, got %d bytes", n, len(b))
	}
	out := make(Locator, n)
	for i := range out {
		copy(out[i][:], b[i*chainhash.HashSize:(i+1)*chainhash.HashSize])
	}
	return out, nil
}

// DecodeLocatorHex is the inverse of Locator.Hex.
func DecodeLocatorHex(s string) (Locator, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, errors.Wrap(err, "locator: invalid hex")
	}
	return DecodeLocator(b)
}
