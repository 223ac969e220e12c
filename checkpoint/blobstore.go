package checkpoint

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pborman/uuid"
	"github.com/pkg/errors"
)

// LeaseID is an opaque write-lease token (spec.md §4.A).
type LeaseID string

// ErrNotExist is returned by BlobStore.Get when the blob has never been
// written.
var ErrNotExist = errors.New("checkpoint: blob does not exist")

// ErrLeaseHeldElsewhere maps to spec.md §7's LeaseHeldElsewhere error kind.
var ErrLeaseHeldElsewhere = errors.New("checkpoint: lease held elsewhere")

// ErrLeaseMismatch is returned when a write presents a lease id that does
// not match the blob's current lease.
var ErrLeaseMismatch = errors.New("checkpoint: presented lease does not match")

// BlobStore is the object-store capability checkpoints and the bulk
// indexer's lock blob are built on (spec.md §6): named blobs, each
// optionally lease-protected for exclusive write access.
type BlobStore interface {
	Get(ctx context.Context, name string) ([]byte, error)
	Put(ctx context.Context, name string, data []byte, lease LeaseID) error
	Lease(ctx context.Context, name string, timeout time.Duration) (LeaseID, error)
	Release(ctx context.Context, name string, lease LeaseID) error
}

// fsBlobStore is a filesystem-backed BlobStore: used for single-box
// deployments and in tests in place of the Azure-backed production store.
// Lease state lives in a sidecar "<name>.lease" file so the same rules
// (single current holder, expiry) apply regardless of backend.
type fsBlobStore struct {
	mu   sync.Mutex
	root string
}

// NewFilesystemBlobStore creates a BlobStore rooted at dir.
func NewFilesystemBlobStore(dir string) (BlobStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "checkpoint: creating blob root")
	}
	return &fsBlobStore{root: dir}, nil
}

type leaseRecord struct {
	ID      LeaseID
	Expires time.Time
}

func (f *fsBlobStore) path(name string) string {
	return filepath.Join(f.root, filepath.FromSlash(name))
}

func (f *fsBlobStore) leasePath(name string) string {
	return f.path(name) + ".lease"
}

func (f *fsBlobStore) currentLease(name string) (*leaseRecord, error) {
	b, err := os.ReadFile(f.leasePath(name))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec leaseRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, err
	}
	if time.Now().After(rec.Expires) {
		return nil, nil
	}
	return &rec, nil
}

func (f *fsBlobStore) Get(_ context.Context, name string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, err := os.ReadFile(f.path(name))
	if os.IsNotExist(err) {
		return nil, ErrNotExist
	}
	return b, err
}

func (f *fsBlobStore) Put(_ context.Context, name string, data []byte, lease LeaseID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, err := f.currentLease(name)
	if err != nil {
		return err
	}
	if cur == nil || cur.ID != lease {
		return ErrLeaseMismatch
	}
	if err := os.MkdirAll(filepath.Dir(f.path(name)), 0o755); err != nil {
		return err
	}
	tmp := f.path(name) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, f.path(name))
}

func (f *fsBlobStore) Lease(_ context.Context, name string, timeout time.Duration) (LeaseID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cur, err := f.currentLease(name); err != nil {
		return "", err
	} else if cur != nil {
		return "", ErrLeaseHeldElsewhere
	}
	rec := leaseRecord{ID: LeaseID(uuid.New()), Expires: time.Now().Add(timeout)}
	if err := os.MkdirAll(filepath.Dir(f.leasePath(name)), 0o755); err != nil {
		return "", err
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(f.leasePath(name), b, 0o644); err != nil {
		return "", err
	}
	return rec.ID, nil
}

func (f *fsBlobStore) Release(_ context.Context, name string, lease LeaseID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, err := f.currentLease(name)
	if err != nil {
		return err
	}
	if cur == nil {
		return nil
	}
	if cur.ID != lease {
		return ErrLeaseMismatch
	}
	return os.Remove(f.leasePath(name))
}
