package p2p

import (
	"context"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/chainindex/indexer/blockrepo"
)

// liveBlockCache is a blockrepo.Repository backed by whatever blocks the
// Live Listener has most recently received over the wire. It lets each
// Index Task's IndexAsync(ctx, *blockrepo.Fetcher) run unchanged against
// a single freshly-arrived block, the same code path the Bulk Indexer
// drives against an archived or peer-backed Repository.
type liveBlockCache struct {
	mu     sync.Mutex
	blocks map[chainhash.Hash]*wire.MsgBlock
}

func newLiveBlockCache() *liveBlockCache {
	return &liveBlockCache{blocks: make(map[chainhash.Hash]*wire.MsgBlock)}
}

func (c *liveBlockCache) put(blk *wire.MsgBlock) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blocks[blk.BlockHash()] = blk
	if len(c.blocks) > tableCapacity {
		c.blocks = map[chainhash.Hash]*wire.MsgBlock{blk.BlockHash(): blk}
	}
}

func (c *liveBlockCache) GetBlocks(_ context.Context, hashes []chainhash.Hash) ([]*wire.MsgBlock, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*wire.MsgBlock, 0, len(hashes))
	for _, h := range hashes {
		blk, ok := c.blocks[h]
		if !ok {
			return nil, &blockrepo.ErrBlockNotFound{Hash: h}
		}
		out = append(out, blk)
	}
	return out, nil
}
