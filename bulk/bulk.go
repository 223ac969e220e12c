// Package bulk implements the Bulk Indexer (spec.md §4.F): a
// work-partitioning batch processor that fans range-shaped indexing
// jobs for each Index Task out through a persistent Work Queue,
// advances durable per-index checkpoints, and tolerates restarts
// without double-work or gaps. This generalizes the teacher's
// downloader/fastdownloader batch-sync loop idiom (poll, process,
// report count) onto a queue-partitioned, multi-process design.
package bulk

import (
	"context"
	"time"

	"github.com/chainindex/indexer/blockrepo"
	"github.com/chainindex/indexer/chain"
	"github.com/chainindex/indexer/checkpoint"
	"github.com/chainindex/indexer/log"
	"github.com/chainindex/indexer/queue"
	"github.com/chainindex/indexer/tasks"
)

// DefaultBlockGranularity and DefaultTransactionsPerWork are the
// teacher's own configuration defaults (spec.md §4.F).
const (
	DefaultBlockGranularity    = uint32(100)
	DefaultTransactionsPerWork = uint32(2_000_000)
)

// Config controls the enqueue phase's windowing.
type Config struct {
	BlockGranularity    uint32
	TransactionsPerWork uint32
}

// WithDefaults fills any zero-valued field with the spec default.
func (c Config) WithDefaults() Config {
	if c.BlockGranularity == 0 {
		c.BlockGranularity = DefaultBlockGranularity
	}
	if c.TransactionsPerWork == 0 {
		c.TransactionsPerWork = DefaultTransactionsPerWork
	}
	return c
}

// Indexer is the Bulk Indexer: one instance per process, any number of
// which may call Run concurrently (spec.md's "exactly one enqueuer,
// arbitrarily many dequeuers" coordination).
type Indexer struct {
	Config Config

	Chain       *chain.Chain
	Repository  blockrepo.Repository
	Checkpoints *checkpoint.Store
	WorkQueue   queue.WorkQueue
	Tasks       []tasks.Task

	// LeaseTimeout bounds how long the enqueue-phase lock-blob lease and
	// each task's checkpoint lease are held for.
	LeaseTimeout time.Duration

	// PollInterval is the dequeue loop's empty-receive poll period
	// (spec.md §4.F: "1-second poll").
	PollInterval time.Duration
}

// Run executes one full enqueue-then-dequeue pass and returns the
// number of messages the dequeue phase processed (spec.md §7's
// "user-visible failure: the bulk indexer returns the count of
// processed messages").
func (idx *Indexer) Run(ctx context.Context) (int, error) {
	idx.Config = idx.Config.WithDefaults()
	if idx.PollInterval == 0 {
		idx.PollInterval = time.Second
	}
	if idx.LeaseTimeout == 0 {
		idx.LeaseTimeout = 30 * time.Second
	}

	if err := idx.tryEnqueue(ctx); err != nil {
		if err == checkpoint.ErrLeaseHeldElsewhere {
			log.Info("bulk: lock blob held elsewhere, skipping enqueue")
		} else {
			return 0, err
		}
	}
	return idx.dequeue(ctx)
}
