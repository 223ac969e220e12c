// Package blockrepo implements the Block Repository (spec.md §3, §4.B):
// fetch full blocks by hash, either from a peer over the Bitcoin wire
// protocol or from an object store of previously-archived blocks. This
// mirrors the teacher's RequestBodies/peer.go request-batching idiom
// (abey/peer.go, abey/downloader) generalized onto btcsuite/btcd's wire
// types instead of the teacher's RLP block bodies.
package blockrepo

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// Repository fetches full blocks by hash (spec.md §4.B's get_blocks).
// Implementations return blocks in the same order the hashes were
// requested; a missing block is a hard error, not a partial result.
type Repository interface {
	GetBlocks(ctx context.Context, hashes []chainhash.Hash) ([]*wire.MsgBlock, error)
}

// ErrBlockNotFound is returned when a requested block is absent from
// the backing store or was not supplied by the peer.
type ErrBlockNotFound struct{ Hash chainhash.Hash }

func (e *ErrBlockNotFound) Error() string {
	return fmt.Sprintf("blockrepo: block %s not found", e.Hash)
}
