package bulk

import (
	"context"

	"github.com/chainindex/indexer/blockrepo"
	"github.com/chainindex/indexer/checkpoint"
	"github.com/chainindex/indexer/common"
	"github.com/chainindex/indexer/log"
	"github.com/chainindex/indexer/queue"
	"github.com/chainindex/indexer/tasks"
)

// dequeue is the dequeue phase (spec.md §4.F): an indefinite receive
// loop with a PollInterval poll. On an empty poll it checks the lock
// blob; once the enqueuer has finished, it advances every checkpoint to
// the announced tip and returns the count of messages it processed.
func (idx *Indexer) dequeue(ctx context.Context) (int, error) {
	byName := make(map[string]tasks.Task, len(idx.Tasks))
	for _, t := range idx.Tasks {
		t.SetSaveProgressEnabled(false) // the bulk indexer owns checkpoint advancement (spec.md §4.E).
		byName[t.Name()] = t
	}

	processed := 0
	for {
		msg, err := idx.WorkQueue.Receive(ctx, idx.PollInterval)
		if err == queue.ErrEmpty {
			state, err := idx.Checkpoints.ReadLock(ctx)
			if err != nil {
				return processed, err
			}
			if state.Enqueuing {
				continue
			}
			if err := idx.advanceAllCheckpoints(ctx, state.TipLocator); err != nil {
				return processed, err
			}
			return processed, nil
		}
		if err != nil {
			return processed, err
		}

		task, ok := byName[msg.Body.Target]
		if !ok {
			log.Error("bulk: dropping message for unknown task", "target", msg.Body.Target)
			_ = msg.Ack()
			continue
		}

		f := blockrepo.NewFetcher(idx.Chain, idx.Repository, msg.Body.FromHeight, msg.Body.ToHeight)
		if _, err := task.IndexAsync(ctx, f); err != nil {
			if _, reorgedPast := err.(*blockrepo.ErrChainAdvancedPast); reorgedPast {
				// spec.md §7: abandon the range, log, complete to avoid a
				// redelivery loop the chain will never satisfy again.
				log.Error("bulk: range abandoned, chain reorganized past range start", "target", msg.Body.Target, "from", msg.Body.FromHeight)
				_ = msg.Ack()
				processed++
				continue
			}
			// IndexTaskFailed: leave the message uncompleted so the broker
			// redelivers it after the visibility timeout; checkpoint is not
			// advanced.
			_ = msg.Nak(false)
			return processed, err
		}
		if err := msg.Ack(); err != nil {
			return processed, err
		}
		processed++
	}
}

func (idx *Indexer) advanceAllCheckpoints(ctx context.Context, tip common.Locator) error {
	for _, t := range idx.Tasks {
		lease, err := idx.Checkpoints.Lease(ctx, t.Name(), idx.LeaseTimeout)
		if err != nil {
			return err
		}
		saveErr := idx.Checkpoints.Save(ctx, t.Name(), lease, tip, idx.Chain, checkpoint.SaveOptions{})
		if relErr := idx.Checkpoints.Release(ctx, t.Name(), lease); relErr != nil && saveErr == nil {
			saveErr = relErr
		}
		if saveErr != nil {
			return saveErr
		}
	}
	return nil
}
