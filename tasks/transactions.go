package tasks

import (
	"context"
	"encoding/json"

	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"

	"github.com/chainindex/indexer/blockrepo"
	"github.com/chainindex/indexer/log"
)

// TransactionsTask writes one row per transaction, partitioned by its
// own hash, plus a secondary (address, tx hash) row supporting
// "transactions touching an address" queries (spec.md §4.E).
//
// Inputs reference a previous output's scriptPubKey, which this system
// does not keep a UTXO set to resolve (spec.md §1 non-goal: re-deriving
// UTXO sets) — so only output addresses are indexed here.
type TransactionsTask struct {
	Base
}

// NewTransactionsTask builds a Transactions index task.
func NewTransactionsTask(base Base) *TransactionsTask {
	base.CheckpointName = "transactions"
	return &TransactionsTask{Base: base}
}

func (t *TransactionsTask) Name() string { return "transactions" }

type txRecord struct {
	BlockHash        string `json:"block_hash"`
	Height           uint64 `json:"height"`
	TxIndex          int    `json:"tx_index"`
	NumInputs        int    `json:"num_inputs"`
	NumOutputs       int    `json:"num_outputs"`
	TotalOutputValue int64  `json:"total_output_value"`
	LockTime         uint32 `json:"lock_time"`
}

func (t *TransactionsTask) IndexAsync(ctx context.Context, f *blockrepo.Fetcher) (Result, error) {
	var res Result
	for {
		height, blk, ok, err := f.Next(ctx)
		if err != nil {
			return res, err
		}
		if !ok {
			break
		}
		blockHash := blk.BlockHash().String()
		for i, tx := range blk.Transactions {
			if err := t.indexOne(blockHash, height, i, tx); err != nil {
				return res, errors.Wrapf(err, "tasks: transactions: height %d tx %d", height, i)
			}
		}
		if err := t.maybeAdvanceCheckpoint(ctx, height); err != nil {
			return res, err
		}
		res.LastHeight = height
		res.BlocksIndexed++
	}
	log.Debug("transactions task finished range", "from", f.FromHeight(), "to", f.ToHeight(), "indexed", res.BlocksIndexed)
	return res, nil
}

func (t *TransactionsTask) indexOne(blockHash string, height uint64, txIndex int, tx *wire.MsgTx) error {
	txHash := tx.TxHash().String()
	var total int64
	for _, out := range tx.TxOut {
		total += out.Value
	}
	rec := txRecord{
		BlockHash:        blockHash,
		Height:           height,
		TxIndex:          txIndex,
		NumInputs:        len(tx.TxIn),
		NumOutputs:       len(tx.TxOut),
		TotalOutputValue: total,
		LockTime:         tx.LockTime,
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := t.Store.Upsert(txHash, "summary", body); err != nil {
		return err
	}
	for _, out := range tx.TxOut {
		addr, ok := scriptAddress(out.PkScript, t.ChainParams)
		if !ok {
			continue
		}
		if err := t.Store.Upsert("addr:"+addr, txHash, []byte{}); err != nil {
			return err
		}
	}
	return nil
}
