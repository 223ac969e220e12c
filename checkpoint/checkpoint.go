// Package checkpoint implements the Checkpoint Store (spec.md §3, §4.A):
// a durable, leasable per-index pointer into the chain, stored as a block
// locator in a named blob.
package checkpoint

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/chainindex/indexer/chain"
	"github.com/chainindex/indexer/common"
	"github.com/chainindex/indexer/log"
)

// ErrRewindRequiresForce is returned by Save when the new locator's fork
// point against the chain is at a lower height than the stored
// checkpoint's, and the caller did not pass Force (spec.md §4.A).
var ErrRewindRequiresForce = errors.New("checkpoint: rewind not permitted without Force")

// Store is a Checkpoint Store: each named checkpoint is a blob holding a
// hex-encoded block locator.
type Store struct {
	blobs BlobStore
}

// New wraps a BlobStore as a Checkpoint Store.
func New(blobs BlobStore) *Store {
	return &Store{blobs: blobs}
}

// Get reads a checkpoint's locator. If the checkpoint has never been
// written, it returns the given genesis locator (spec.md §4.E: "created on
// first use").
func (s *Store) Get(ctx context.Context, name string, genesis common.Locator) (common.Locator, error) {
	raw, err := s.blobs.Get(ctx, name)
	if err == ErrNotExist {
		return genesis, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "checkpoint: get %q", name)
	}
	loc, err := common.DecodeLocatorHex(string(raw))
	if err != nil {
		return nil, errors.Wrapf(err, "checkpoint: decode %q", name)
	}
	return loc, nil
}

// Lease acquires an exclusive write lease on a checkpoint for the given
// duration.
func (s *Store) Lease(ctx context.Context, name string, timeout time.Duration) (LeaseID, error) {
	return s.blobs.Lease(ctx, name, timeout)
}

// Release gives up a previously acquired lease.
func (s *Store) Release(ctx context.Context, name string, lease LeaseID) error {
	return s.blobs.Release(ctx, name, lease)
}

// SaveOptions controls Save's advance-only enforcement.
type SaveOptions struct {
	// Force permits a rewind (a new fork point at a lower height than the
	// stored checkpoint's).
	Force bool
}

// Save writes a new locator under lease, enforcing the advance-only rule:
// the fork point between the new locator and c must be at a height
// greater than or equal to the fork point of the previously stored
// locator, unless opts.Force is set (spec.md §4.A, Testable Property 1).
func (s *Store) Save(ctx context.Context, name string, lease LeaseID, loc common.Locator, c *chain.Chain, opts SaveOptions) error {
	prev, err := s.Get(ctx, name, nil)
	if err != nil {
		return err
	}
	if prev != nil && c != nil {
		prevFork, havePrev := c.FindFork(prev)
		newFork, haveNew := c.FindFork(loc)
		if havePrev && haveNew && newFork.Height < prevFork.Height && !opts.Force {
			return ErrRewindRequiresForce
		}
	}
	if err := s.blobs.Put(ctx, name, []byte(loc.Hex()), lease); err != nil {
		if err == ErrLeaseMismatch {
			return err
		}
		return errors.Wrapf(err, "checkpoint: save %q", name)
	}
	log.Debug("checkpoint saved", "name", name, "height", len(loc))
	return nil
}

// --- Lock blob helpers (spec.md §4.F, §6 initialindexer/lock) ---

// LockBlobName is the well-known name of the bulk indexer's coordination
// blob.
const LockBlobName = "initialindexer/lock"

// EnqueuingMarker is the literal body written to the lock blob while the
// enqueuer is actively walking the chain.
const EnqueuingMarker = "Enqueuing"

// TryLeaseLock attempts to become the enqueuer: acquire the lock blob's
// lease and mark it "Enqueuing". ErrLeaseHeldElsewhere is returned (not
// wrapped) when another process already holds it, so callers can match it
// directly per spec.md §7's LeaseHeldElsewhere policy.
func (s *Store) TryLeaseLock(ctx context.Context, timeout time.Duration) (LeaseID, error) {
	lease, err := s.blobs.Lease(ctx, LockBlobName, timeout)
	if err != nil {
		return "", err
	}
	if err := s.blobs.Put(ctx, LockBlobName, []byte(EnqueuingMarker), lease); err != nil {
		_ = s.blobs.Release(ctx, LockBlobName, lease)
		return "", errors.Wrap(err, "checkpoint: marking lock blob enqueuing")
	}
	return lease, nil
}

// FinishEnqueue writes the tip locator into the lock blob, releases the
// lease, and signals enqueue completion to any dequeuers.
func (s *Store) FinishEnqueue(ctx context.Context, lease LeaseID, tip common.Locator) error {
	if err := s.blobs.Put(ctx, LockBlobName, []byte(tip.Hex()), lease); err != nil {
		return errors.Wrap(err, "checkpoint: finishing enqueue")
	}
	return s.blobs.Release(ctx, LockBlobName, lease)
}

// LockState is the parsed state of the lock blob.
type LockState struct {
	Enqueuing bool
	TipLocator common.Locator
}

// ReadLock reads the lock blob's current state (spec.md §4.F dequeue
// phase's empty-poll check).
func (s *Store) ReadLock(ctx context.Context) (LockState, error) {
	raw, err := s.blobs.Get(ctx, LockBlobName)
	if err == ErrNotExist {
		return LockState{Enqueuing: true}, nil // no enqueuer has run yet; wait.
	}
	if err != nil {
		return LockState{}, errors.Wrap(err, "checkpoint: read lock")
	}
	if string(raw) == EnqueuingMarker {
		return LockState{Enqueuing: true}, nil
	}
	loc, err := common.DecodeLocatorHex(string(raw))
	if err != nil {
		return LockState{}, errors.Wrap(err, "checkpoint: decode lock tip")
	}
	return LockState{TipLocator: loc}, nil
}
