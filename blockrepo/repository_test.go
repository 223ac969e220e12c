package blockrepo

import (
	"context"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/chainindex/indexer/checkpoint"
)

type fakeFetcher struct {
	blocks map[chainhash.Hash]*wire.MsgBlock
}

func (f *fakeFetcher) FetchBlocks(_ context.Context, hashes []chainhash.Hash) (map[chainhash.Hash]*wire.MsgBlock, error) {
	out := make(map[chainhash.Hash]*wire.MsgBlock)
	for _, h := range hashes {
		if b, ok := f.blocks[h]; ok {
			out[h] = b
		}
	}
	return out, nil
}

func testHash(b byte) chainhash.Hash {
	var h chainhash.Hash
	h[0] = b
	return h
}

func testBlock(nonce uint32) *wire.MsgBlock {
	blk := wire.NewMsgBlock(wire.NewBlockHeader(1, &chainhash.Hash{}, &chainhash.Hash{}, 0, nonce))
	return blk
}

func TestPeerRepositoryGetBlocks(t *testing.T) {
	h1, h2 := testHash(1), testHash(2)
	fetcher := &fakeFetcher{blocks: map[chainhash.Hash]*wire.MsgBlock{
		h1: testBlock(1),
		h2: testBlock(2),
	}}
	repo := NewPeerRepository(fetcher)

	blocks, err := repo.GetBlocks(context.Background(), []chainhash.Hash{h1, h2})
	if err != nil {
		t.Fatal(err)
	}
	if len(blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(blocks))
	}
	if blocks[0].Header.Nonce != 1 || blocks[1].Header.Nonce != 2 {
		t.Fatalf("blocks returned out of requested order: %+v", blocks)
	}
}

func TestPeerRepositoryMissingBlock(t *testing.T) {
	h1 := testHash(1)
	fetcher := &fakeFetcher{blocks: map[chainhash.Hash]*wire.MsgBlock{}}
	repo := NewPeerRepository(fetcher)

	_, err := repo.GetBlocks(context.Background(), []chainhash.Hash{h1})
	if _, ok := err.(*ErrBlockNotFound); !ok {
		t.Fatalf("expected ErrBlockNotFound, got %v", err)
	}
}

func TestBlobStoreRepositoryArchiveAndGet(t *testing.T) {
	blobs, err := checkpoint.NewFilesystemBlobStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	repo := NewBlobStoreRepository(blobs, true).(*blobStoreRepository)

	blk := testBlock(7)
	h := blk.BlockHash()
	lease, err := blobs.Lease(context.Background(), blobName(h), 30*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if err := repo.Archive(context.Background(), lease, blk); err != nil {
		t.Fatal(err)
	}

	got, err := repo.GetBlocks(context.Background(), []chainhash.Hash{h})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Header.Nonce != 7 {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestBlobStoreRepositoryMissingBlock(t *testing.T) {
	blobs, err := checkpoint.NewFilesystemBlobStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	repo := NewBlobStoreRepository(blobs, false)

	_, err = repo.GetBlocks(context.Background(), []chainhash.Hash{testHash(9)})
	if _, ok := err.(*ErrBlockNotFound); !ok {
		t.Fatalf("expected ErrBlockNotFound, got %v", err)
	}
}
