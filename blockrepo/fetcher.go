package blockrepo

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"

	"github.com/chainindex/indexer/chain"
)

// ErrChainAdvancedPast is returned by Fetcher.Next when the chain no
// longer contains the height the fetcher needs at its current cursor —
// a reorg deeper than the range's start (spec.md §3, §7
// ChainReorgDeeperThanRange).
type ErrChainAdvancedPast struct{ Height uint64 }

func (e *ErrChainAdvancedPast) Error() string {
	return fmt.Sprintf("blockrepo: chain reorganized past height %d", e.Height)
}

// Fetcher is the bounded, single-use, order-preserving iterator over
// [FromHeight, ToHeight] described in spec.md §3: pull blocks one at a
// time in strictly ascending height order.
type Fetcher struct {
	chain *chain.Chain
	repo  Repository

	fromHeight, toHeight uint64
	cursor               uint64
	done                 bool
}

// NewFetcher builds a Fetcher over c and repo for the inclusive height
// range [from, to].
func NewFetcher(c *chain.Chain, repo Repository, from, to uint64) *Fetcher {
	return &Fetcher{chain: c, repo: repo, fromHeight: from, toHeight: to, cursor: from}
}

// FromHeight reports the fetcher's configured start height.
func (f *Fetcher) FromHeight() uint64 { return f.fromHeight }

// ToHeight reports the fetcher's configured end height.
func (f *Fetcher) ToHeight() uint64 { return f.toHeight }

// Next yields the next block in height order, or ok=false once the
// range is exhausted. It fails with ErrChainAdvancedPast if the chain
// has reorganized past the needed height since the fetcher was built.
func (f *Fetcher) Next(ctx context.Context) (height uint64, blk *wire.MsgBlock, ok bool, err error) {
	if f.done || f.cursor > f.toHeight {
		return 0, nil, false, nil
	}
	h := f.cursor
	hdr, present := f.chain.GetByHeight(h)
	if !present {
		f.done = true
		return 0, nil, false, &ErrChainAdvancedPast{Height: h}
	}
	blocks, err := f.repo.GetBlocks(ctx, []chainhash.Hash{hdr.Hash})
	if err != nil {
		return 0, nil, false, errors.Wrapf(err, "blockrepo: fetch height %d", h)
	}
	f.cursor++
	return h, blocks[0], true, nil
}
