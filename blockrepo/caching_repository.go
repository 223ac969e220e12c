package blockrepo

import (
	"context"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/chainindex/indexer/checkpoint"
	"github.com/chainindex/indexer/log"
)

// archiveLeaseTimeout bounds how long a single archive write holds its
// per-blob lease; blocks are small and the write is local/object-store
// I/O only, so this is generous rather than tight.
const archiveLeaseTimeout = 30 * time.Second

// cachingRepository is the Bulk Indexer's production Repository (spec.md
// §4.B, §4.F): it serves a hash from the blob-store archive when already
// present, and falls back to the live peer connection otherwise,
// archiving what it fetches so a later bulk pass over the same height
// range never re-dials a peer for it.
type cachingRepository struct {
	archive *blobStoreRepository
	peer    Repository
}

// NewCachingRepository wraps archive (built with NewBlobStoreRepository)
// and peer (built with NewPeerRepository) into one Repository that
// prefers the archive and backfills it from the peer. If archive isn't a
// blob-store Repository (e.g. a test double), caching degrades to a
// plain pass-through to peer.
func NewCachingRepository(archive Repository, peer Repository) Repository {
	bsr, ok := archive.(*blobStoreRepository)
	if !ok {
		return peer
	}
	return &cachingRepository{archive: bsr, peer: peer}
}

func (r *cachingRepository) GetBlocks(ctx context.Context, hashes []chainhash.Hash) ([]*wire.MsgBlock, error) {
	out := make([]*wire.MsgBlock, len(hashes))
	var missIdx []int
	var missHashes []chainhash.Hash
	for i, h := range hashes {
		blk, err := r.archive.getOne(ctx, h)
		if err == nil {
			out[i] = blk
			continue
		}
		if _, notFound := err.(*ErrBlockNotFound); !notFound {
			return nil, err
		}
		missIdx = append(missIdx, i)
		missHashes = append(missHashes, h)
	}
	if len(missHashes) == 0 {
		return out, nil
	}

	fetched, err := r.peer.GetBlocks(ctx, missHashes)
	if err != nil {
		return nil, err
	}
	for j, blk := range fetched {
		out[missIdx[j]] = blk
		if err := r.archiveBlock(ctx, blk); err != nil {
			log.Warn("blockrepo: failed to archive fetched block", "hash", blk.BlockHash(), "err", err)
		}
	}
	return out, nil
}

// archiveBlock leases blk's blob name just long enough to write it. A
// lease already held elsewhere means another bulk pass is archiving the
// same block concurrently, which is harmless to skip.
func (r *cachingRepository) archiveBlock(ctx context.Context, blk *wire.MsgBlock) error {
	h := blk.BlockHash()
	name := blobName(h)
	lease, err := r.archive.blobs.Lease(ctx, name, archiveLeaseTimeout)
	if err != nil {
		if err == checkpoint.ErrLeaseHeldElsewhere {
			return nil
		}
		return err
	}
	archErr := r.archive.Archive(ctx, lease, blk)
	if relErr := r.archive.blobs.Release(ctx, name, lease); relErr != nil && archErr == nil {
		archErr = relErr
	}
	return archErr
}
