package blockrepo

import (
	"context"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"

	"github.com/chainindex/indexer/log"
)

// BlockFetcher is the subset of a connected peer's capability this
// repository needs: send a getdata batch and receive the blocks it
// yields, keyed by hash (spec.md §4.B). The Live Listener's peer
// connection implements this directly; other callers can fake it in
// tests.
type BlockFetcher interface {
	FetchBlocks(ctx context.Context, hashes []chainhash.Hash) (map[chainhash.Hash]*wire.MsgBlock, error)
}

// peerRepository is the peer-backed Block Repository variant: it issues
// getdata requests in batches bounded by the wire protocol's inv-per-
// message limit, mirroring the teacher's RequestBodies batching
// (abey/peer.go).
type peerRepository struct {
	fetcher   BlockFetcher
	batchSize int
}

// NewPeerRepository wraps fetcher as a Repository, batching requests at
// wire.MaxInvPerMsg per round trip.
func NewPeerRepository(fetcher BlockFetcher) Repository {
	return &peerRepository{fetcher: fetcher, batchSize: wire.MaxInvPerMsg}
}

func (r *peerRepository) GetBlocks(ctx context.Context, hashes []chainhash.Hash) ([]*wire.MsgBlock, error) {
	out := make([]*wire.MsgBlock, 0, len(hashes))
	for start := 0; start < len(hashes); start += r.batchSize {
		end := start + r.batchSize
		if end > len(hashes) {
			end = len(hashes)
		}
		batch := hashes[start:end]
		log.Debug("requesting block batch from peer", "count", len(batch))
		got, err := r.fetcher.FetchBlocks(ctx, batch)
		if err != nil {
			return nil, errors.Wrap(err, "blockrepo: fetch batch")
		}
		for _, h := range batch {
			blk, ok := got[h]
			if !ok {
				return nil, &ErrBlockNotFound{Hash: h}
			}
			out = append(out, blk)
		}
	}
	return out, nil
}
