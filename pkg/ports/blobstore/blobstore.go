// Package blobstore is a local-filesystem implementation of ports.BlobStore,
// for PoC outputs and oversized tool outputs when no object-storage
// backend is configured. Presign returns "" since a local path has no
// meaningful signed URL.
package blobstore

import (
	"context"
	"encoding/hex"
	"crypto/sha256"
	"os"
	"path/filepath"
	"time"

	"github.com/auditengine/engine/pkg/ports"
)

// FSStore stores blobs as files under Root, named by a hash of the key
// to avoid dealing with arbitrary key characters in path segments.
type FSStore struct {
	Root string
}

func New(root string) *FSStore { return &FSStore{Root: root} }

func (f *FSStore) path(key string) string {
	h := sha256.Sum256([]byte(key))
	return filepath.Join(f.Root, hex.EncodeToString(h[:]))
}

func (f *FSStore) Put(ctx context.Context, key string, data []byte) error {
	if err := os.MkdirAll(f.Root, 0o755); err != nil {
		return err
	}
	return os.WriteFile(f.path(key), data, 0o644)
}

func (f *FSStore) Get(ctx context.Context, key string) ([]byte, error) {
	return os.ReadFile(f.path(key))
}

func (f *FSStore) Delete(ctx context.Context, key string) error {
	err := os.Remove(f.path(key))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (f *FSStore) Presign(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return "", nil
}

var _ ports.BlobStore = (*FSStore)(nil)
