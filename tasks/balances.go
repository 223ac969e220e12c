package tasks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"

	"github.com/chainindex/indexer/blockrepo"
	"github.com/chainindex/indexer/log"
)

// BalancesTask writes one row per credit to a scriptPubKey, partitioned
// by the script's hex encoding (spec.md §4.E). Only output credits are
// tracked: attributing a spend to a script requires resolving the
// previous output it consumes, which needs a UTXO set this system does
// not maintain (spec.md §1 non-goal).
//
// Rules, when non-empty, restrict indexing to scripts/addresses any
// rule matches (spec.md's "Balances(rules=None)" — the default, nil
// Rules, indexes every script unfiltered).
type BalancesTask struct {
	Base
	Rules Rules
}

// NewBalancesTask builds a Balances index task, optionally filtered by rules.
func NewBalancesTask(base Base, rules Rules) *BalancesTask {
	base.CheckpointName = "balances"
	return &BalancesTask{Base: base, Rules: rules}
}

func (t *BalancesTask) Name() string { return "balances" }

// balanceRecord is the row value for one credit.
type balanceRecord struct {
	Height  uint64 `json:"height"`
	TxIndex int    `json:"tx_index"`
	IOIndex int    `json:"io_index"`
	TxHash  string `json:"tx_hash"`
	Address string `json:"address,omitempty"`
	Amount  int64  `json:"amount"`
}

func sequenceRow(height uint64, txIndex, ioIndex int) string {
	return fmt.Sprintf("%020d-%08d-%08d", height, txIndex, ioIndex)
}

func (t *BalancesTask) IndexAsync(ctx context.Context, f *blockrepo.Fetcher) (Result, error) {
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
				return res, errors.Wrapf(err, "tasks: balances: height %d tx %d", height, txIdx)
			}
		}
		if err := t.maybeAdvanceCheckpoint(ctx, height); err != nil {
			return res, err
		}
		res.LastHeight = height
		res.BlocksIndexed++
	}
	log.Debug("balances task finished range", "from", f.FromHeight(), "to", f.ToHeight(), "indexed", res.BlocksIndexed)
	return res, nil
}

func (t *BalancesTask) indexOne(height uint64, txIndex int, tx *wire.MsgTx) error {
	txHash := tx.TxHash().String()
	for ioIdx, out := range tx.TxOut {
		script := scriptHex(out.PkScript)
		addr, _ := scriptAddress(out.PkScript, t.ChainParams)
		if len(t.Rules) > 0 {
			if _, matched := t.Rules.Match(script, addr); !matched {
				continue
			}
		}
		rec := balanceRecord{Height: height, TxIndex: txIndex, IOIndex: ioIdx, TxHash: txHash, Address: addr, Amount: out.Value}
		body, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := t.Store.Upsert(script, sequenceRow(height, txIndex, ioIdx), body); err != nil {
			return err
		}
	}
	return nil
}
