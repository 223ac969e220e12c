package blockrepo

import (
	"context"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/chainindex/indexer/chain"
	"github.com/chainindex/indexer/common"
)

func buildTestChain(t *testing.T, n int) (*chain.Chain, map[common.Hash]*wire.MsgBlock) {
	t.Helper()
	c := chain.New()
	blocks := make(map[common.Hash]*wire.MsgBlock)

	genesisHash := testHash(0)
	if err := c.InsertGenesis(chain.Header{Hash: genesisHash}); err != nil {
		t.Fatal(err)
	}
	blocks[genesisHash] = testBlock(0)

	prev := genesisHash
	for i := 1; i <= n; i++ {
		h := testHash(byte(i))
		if _, err := c.Insert(chain.Header{Hash: h, PrevHash: prev}); err != nil {
			t.Fatal(err)
		}
		blocks[h] = testBlock(uint32(i))
		prev = h
	}
	return c, blocks
}

type chainBackedFetcher struct {
	blocks map[common.Hash]*wire.MsgBlock
}

func (f *chainBackedFetcher) GetBlocks(_ context.Context, hashes []chainhash.Hash) ([]*wire.MsgBlock, error) {
	out := make([]*wire.MsgBlock, 0, len(hashes))
	for _, h := range hashes {
		blk, ok := f.blocks[h]
		if !ok {
			return nil, &ErrBlockNotFound{Hash: h}
		}
		out = append(out, blk)
	}
	return out, nil
}

func TestFetcherYieldsAscendingHeights(t *testing.T) {
	c, blocks := buildTestChain(t, 5)
	repo := &chainBackedFetcher{blocks: blocks}
	f := NewFetcher(c, repo, 1, 3)

	var heights []uint64
	for {
		h, blk, ok, err := f.Next(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			break
		}
		heights = append(heights, h)
		if blk.Header.Nonce != uint32(h) {
			t.Fatalf("unexpected block at height %d: nonce %d", h, blk.Header.Nonce)
		}
	}
	if len(heights) != 3 || heights[0] != 1 || heights[2] != 3 {
		t.Fatalf("unexpected heights: %v", heights)
	}
}

func TestFetcherReportsChainAdvancedPast(t *testing.T) {
	c, blocks := buildTestChain(t, 2)
	repo := &chainBackedFetcher{blocks: blocks}
	f := NewFetcher(c, repo, 5, 10)

	_, _, ok, err := f.Next(context.Background())
	if ok {
		t.Fatalf("expected no block for an out-of-range height")
	}
	if _, isAdvancedPast := err.(*ErrChainAdvancedPast); !isAdvancedPast {
		t.Fatalf("expected ErrChainAdvancedPast, got %v", err)
	}
}
