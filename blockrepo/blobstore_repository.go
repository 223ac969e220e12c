package blockrepo

import (
	"bytes"
	"context"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/golang/snappy"
	"github.com/pkg/errors"

	"github.com/chainindex/indexer/checkpoint"
)

// blobStoreRepository is the object-store-backed Block Repository
// variant (spec.md §4.B): blocks are archived as blocks/<hash>, raw wire
// protocol bytes optionally snappy-compressed, the same storage
// primitive the Checkpoint Store uses.
type blobStoreRepository struct {
	blobs    checkpoint.BlobStore
	compress bool
}

// NewBlobStoreRepository wraps blobs as a Repository. When compress is
// true, blobs are read as snappy-compressed payloads (and Archive writes
// them compressed); this lets a long-running bulk-indexed archive trade
// CPU for storage cost.
func NewBlobStoreRepository(blobs checkpoint.BlobStore, compress bool) Repository {
	return &blobStoreRepository{blobs: blobs, compress: compress}
}

func blobName(h chainhash.Hash) string {
	return "blocks/" + h.String()
}

func (r *blobStoreRepository) GetBlocks(ctx context.Context, hashes []chainhash.Hash) ([]*wire.MsgBlock, error) {
	out := make([]*wire.MsgBlock, 0, len(hashes))
	for _, h := range hashes {
		blk, err := r.getOne(ctx, h)
		if err != nil {
			return nil, err
		}
		out = append(out, blk)
	}
	return out, nil
}

// getOne fetches a single block, returning *ErrBlockNotFound when the
// archive doesn't have it yet (used by cachingRepository to decide
// which hashes still need a peer round trip).
func (r *blobStoreRepository) getOne(ctx context.Context, h chainhash.Hash) (*wire.MsgBlock, error) {
	raw, err := r.blobs.Get(ctx, blobName(h))
	if err == checkpoint.ErrNotExist {
		return nil, &ErrBlockNotFound{Hash: h}
	}
	if err != nil {
		return nil, errors.Wrapf(err, "blockrepo: get blob %s", h)
	}
	if r.compress {
		raw, err = snappy.Decode(nil, raw)
		if err != nil {
			return nil, errors.Wrapf(err, "blockrepo: decompress %s", h)
		}
	}
	var blk wire.MsgBlock
	if err := blk.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, errors.Wrapf(err, "blockrepo: decode block %s", h)
	}
	return &blk, nil
}

// Archive persists blk into the blob store under its own hash, for use
// by a bulk-indexing pass that wants to build a local block cache ahead
// of a peer connection.
func (r *blobStoreRepository) Archive(ctx context.Context, lease checkpoint.LeaseID, blk *wire.MsgBlock) error {
	var buf bytes.Buffer
	if err := blk.Serialize(&buf); err != nil {
		return errors.Wrap(err, "blockrepo: serialize block")
	}
	data := buf.Bytes()
	if r.compress {
		data = snappy.Encode(nil, data)
	}
	h := blk.BlockHash()
	return r.blobs.Put(ctx, blobName(h), data, lease)
}
