package tasks

import (
	"context"
	"encoding/json"

	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"

	"github.com/chainindex/indexer/blockrepo"
	"github.com/chainindex/indexer/log"
)

// WalletsTask aggregates the same per-output credits BalancesTask sees,
// but partitions by wallet label instead of scriptPubKey: every script
// a rule matches contributes its rows under that rule's Label (spec.md
// §3/§4.E, "Wallets(rules=all_wallet_rules_snapshot)").
type WalletsTask struct {
	Base
	Rules Rules
}

// NewWalletsTask builds a Wallets index task over a snapshot of rules.
func NewWalletsTask(base Base, rules Rules) *WalletsTask {
	base.CheckpointName = "wallets"
	return &WalletsTask{Base: base, Rules: rules}
}

func (t *WalletsTask) Name() string { return "wallets" }

func (t *WalletsTask) IndexAsync(ctx context.Context, f *blockrepo.Fetcher) (Result, error) {
	var res Result
	for {
		height, blk, ok, err := f.Next(ctx)
		if err != nil {
			return res, err
		}
		if !ok {
			break
		}
		for txIdx, tx := range blk.Transactions {
			if err := t.indexOne(height, txIdx, tx); err != nil {
				return res, errors.Wrapf(err, "tasks: wallets: height %d tx %d", height, txIdx)
			}
		}
		if err := t.maybeAdvanceCheckpoint(ctx, height); err != nil {
			return res, err
		}
		res.LastHeight = height
		res.BlocksIndexed++
	}
	log.Debug("wallets task finished range", "from", f.FromHeight(), "to", f.ToHeight(), "indexed", res.BlocksIndexed)
	return res, nil
}

func (t *WalletsTask) indexOne(height uint64, txIndex int, tx *wire.MsgTx) error {
	if len(t.Rules) == 0 {
		return nil
	}
	txHash := tx.TxHash().String()
	for ioIdx, out := range tx.TxOut {
		script := scriptHex(out.PkScript)
		addr, _ := scriptAddress(out.PkScript, t.ChainParams)
		label, matched := t.Rules.Match(script, addr)
		if !matched {
			continue
		}
		rec := balanceRecord{Height: height, TxIndex: txIndex, IOIndex: ioIdx, TxHash: txHash, Address: addr, Amount: out.Value}
		body, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := t.Store.Upsert(label, sequenceRow(height, txIndex, ioIdx), body); err != nil {
			return err
		}
	}
	return nil
}
