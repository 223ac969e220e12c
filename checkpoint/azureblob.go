package checkpoint

import (
	"context"
	"io/ioutil"
	"strings"
	"time"

	storage "github.com/loinfish/azure-storage-go"
	"github.com/pkg/errors"
)

// azureBlobStore implements BlobStore over an Azure Blob Storage container,
// the production backend for the Checkpoint Store and the bulk indexer's
// lock blob (spec.md §6). Leases map directly onto blob leases: Lease
// acquires one with AcquireLease, Put presents it as the blob's current
// lease id, Release calls ReleaseLease.
type azureBlobStore struct {
	container *storage.Container
}

// NewAzureBlobStore dials the given storage account/container using the
// teacher's existing github.com/loinfish/azure-storage-go dependency.
func NewAzureBlobStore(account, key, containerName string) (BlobStore, error) {
	client, err := storage.NewBasicClient(account, key)
	if err != nil {
		return nil, errors.Wrap(err, "checkpoint: azure client")
	}
	bs := client.GetBlobService()
	container := bs.GetContainerReference(containerName)
	if _, err := container.CreateIfNotExists(nil); err != nil {
		return nil, errors.Wrapf(err, "checkpoint: ensure container %q", containerName)
	}
	return &azureBlobStore{container: container}, nil
}

func (a *azureBlobStore) Get(_ context.Context, name string) ([]byte, error) {
	blob := a.container.GetBlobReference(name)
	rc, err := blob.Get(nil)
	if err != nil {
		if isAzureNotFound(err) {
			return nil, ErrNotExist
		}
		return nil, errors.Wrapf(err, "checkpoint: azure get %q", name)
	}
	defer rc.Close()
	return ioutil.ReadAll(rc)
}

func (a *azureBlobStore) Put(_ context.Context, name string, data []byte, lease LeaseID) error {
	blob := a.container.GetBlobReference(name)
	opts := &storage.PutBlobOptions{}
	if lease != "" {
		opts.LeaseID = string(lease)
	}
	if err := blob.CreateBlockBlobFromReader(strings.NewReader(string(data)), opts); err != nil {
		if isAzureLeaseConflict(err) {
			return ErrLeaseMismatch
		}
		return errors.Wrapf(err, "checkpoint: azure put %q", name)
	}
	return nil
}

func (a *azureBlobStore) Lease(_ context.Context, name string, timeout time.Duration) (LeaseID, error) {
	blob := a.container.GetBlobReference(name)
	// Ensure the blob exists; Azure blob leases require an existing blob.
	if _, err := blob.Exists(); err == nil {
		if ok, _ := blob.Exists(); !ok {
			if err := blob.CreateBlockBlobFromReader(strings.NewReader(""), nil); err != nil {
				return "", errors.Wrapf(err, "checkpoint: seeding blob %q before lease", name)
			}
		}
	}
	seconds := int(timeout / time.Second)
	if seconds < 15 {
		seconds = 15 // Azure's minimum fixed-duration lease.
	}
	id, err := blob.AcquireLease(seconds, "", nil)
	if err != nil {
		if isAzureLeaseConflict(err) {
			return "", ErrLeaseHeldElsewhere
		}
		return "", errors.Wrapf(err, "checkpoint: azure lease %q", name)
	}
	return LeaseID(id), nil
}

func (a *azureBlobStore) Release(_ context.Context, name string, lease LeaseID) error {
	blob := a.container.GetBlobReference(name)
	if err := blob.ReleaseLease(string(lease), nil); err != nil {
		if isAzureLeaseConflict(err) {
			return ErrLeaseMismatch
		}
		return errors.Wrapf(err, "checkpoint: azure release %q", name)
	}
	return nil
}

func isAzureNotFound(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "notfound")
}

func isAzureLeaseConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "lease") && (strings.Contains(msg, "conflict") || strings.Contains(msg, "already"))
}
