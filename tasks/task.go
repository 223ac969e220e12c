// Package tasks implements the four Index Task variants (spec.md §3,
// §4.E): Blocks, Transactions, Balances, and Wallets. Each consumes the
// blocks a blockrepo.Fetcher yields and writes denormalized rows into
// the shared wide-column index store. This generalizes the teacher's
// polymorphic-processor idiom (abey/downloader's block-processing
// pipeline) onto spec.md §9's "small set of tagged variants sharing an
// index(fetcher) operation" design note.
package tasks

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/pkg/errors"

	"github.com/chainindex/indexer/blockrepo"
	"github.com/chainindex/indexer/chain"
	"github.com/chainindex/indexer/checkpoint"
	"github.com/chainindex/indexer/indexstore"
	"github.com/chainindex/indexer/log"
)

// Result summarizes one IndexAsync call.
type Result struct {
	LastHeight    uint64
	BlocksIndexed int
}

// Task is the common shape every index variant implements.
type Task interface {
	Name() string
	SaveProgressEnabled() bool
	SetSaveProgressEnabled(bool)
	IndexAsync(ctx context.Context, f *blockrepo.Fetcher) (Result, error)
}

// Base carries the plumbing shared by all four task variants: where
// rows land, where the checkpoint for this task lives, and whether this
// invocation should advance it. The bulk indexer sets
// SaveProgressEnabled false (it owns checkpoint advancement itself,
// spec.md §4.E); the live listener sets it true.
type Base struct {
	CheckpointName string
	Store          *indexstore.Store
	Checkpoints    *checkpoint.Store
	Chain          *chain.Chain
	Lease          checkpoint.LeaseID
	ChainParams    *chaincfg.Params

	saveProgress bool
}

func (b *Base) SaveProgressEnabled() bool      { return b.saveProgress }
func (b *Base) SetSaveProgressEnabled(v bool)  { b.saveProgress = v }

// maybeAdvanceCheckpoint saves the checkpoint to the locator of the
// block at height, but only if save-progression is enabled for this
// invocation (spec.md §4.E).
func (b *Base) maybeAdvanceCheckpoint(ctx context.Context, height uint64) error {
	if !b.saveProgress {
		return nil
	}
	hdr, ok := b.Chain.GetByHeight(height)
	if !ok {
		return fmt.Errorf("tasks: %s: height %d not present in chain for checkpoint advance", b.CheckpointName, height)
	}
	loc, err := b.Chain.LocatorOf(hdr.Hash)
	if err != nil {
		return errors.Wrapf(err, "tasks: %s: locator for height %d", b.CheckpointName, height)
	}
	if err := b.Checkpoints.Save(ctx, b.CheckpointName, b.Lease, loc, b.Chain, checkpoint.SaveOptions{}); err != nil {
		return errors.Wrapf(err, "tasks: %s: save checkpoint", b.CheckpointName)
	}
	log.Debug("task advanced checkpoint", "task", b.CheckpointName, "height", height)
	return nil
}
