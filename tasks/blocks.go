package tasks

import (
	"context"
	"encoding/json"

	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"

	"github.com/chainindex/indexer/blockrepo"
	"github.com/chainindex/indexer/log"
)

// BlocksTask writes one denormalized row per block, keyed under its own
// hash as partition (spec.md §3/§4.E row-identity scheme).
type BlocksTask struct {
	Base
}

// NewBlocksTask builds a Blocks index task over base's plumbing.
func NewBlocksTask(base Base) *BlocksTask {
	base.CheckpointName = "blocks"
	return &BlocksTask{Base: base}
}

func (t *BlocksTask) Name() string { return "blocks" }

// blockRecord is the row value stored for a block.
type blockRecord struct {
	Height    uint64 `json:"height"`
	PrevHash  string `json:"prev_hash"`
	TxCount   int    `json:"tx_count"`
	Timestamp int64  `json:"timestamp"`
	SizeBytes int    `json:"size_bytes"`
}

func (t *BlocksTask) IndexAsync(ctx context.Context, f *blockrepo.Fetcher) (Result, error) {
	var res Result
	for {
		height, blk, ok, err := f.Next(ctx)
		if err != nil {
			return res, err
		}
		if !ok {
			break
		}
		if err := t.indexOne(height, blk); err != nil {
			return res, errors.Wrapf(err, "tasks: blocks: height %d", height)
		}
		if err := t.maybeAdvanceCheckpoint(ctx, height); err != nil {
			return res, err
		}
		res.LastHeight = height
		res.BlocksIndexed++
	}
	log.Debug("blocks task finished range", "from", f.FromHeight(), "to", f.ToHeight(), "indexed", res.BlocksIndexed)
	return res, nil
}

func (t *BlocksTask) indexOne(height uint64, blk *wire.MsgBlock) error {
	hash := blk.BlockHash()
	rec := blockRecord{
		Height:    height,
		PrevHash:  blk.Header.PrevBlock.String(),
		TxCount:   len(blk.Transactions),
		Timestamp: blk.Header.Timestamp.Unix(),
		SizeBytes: blk.SerializeSize(),
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return t.Store.Upsert(hash.String(), "summary", body)
}
