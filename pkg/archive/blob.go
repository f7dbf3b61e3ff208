package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// BlobStore is content-addressed storage for encoded bundles. Put is
// idempotent: the same bytes always land at the same "sha256:<hex>" address,
// so re-exporting a batch never duplicates anything.
type BlobStore interface {
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, addr string) ([]byte, error)
	Exists(ctx context.Context, addr string) (bool, error)
	Delete(ctx context.Context, addr string) error
}

// blobAddr computes the content address for a payload.
func blobAddr(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// parseAddr validates a "sha256:<hex>" address and returns the bare hex.
func parseAddr(addr string) (string, error) {
	raw, ok := strings.CutPrefix(addr, "sha256:")
	if !ok {
		return "", fmt.Errorf("archive: invalid blob address format: %s", addr)
	}
	if _, err := hex.DecodeString(raw); err != nil {
		return "", fmt.Errorf("archive: invalid blob address hex: %w", err)
	}
	return raw, nil
}

// FileStore keeps bundles on the local filesystem, one file per address.
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
}

// NewFileStore creates the base directory if needed.
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("archive: ensure bundle dir: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

func (s *FileStore) Put(ctx context.Context, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	addr := blobAddr(data)
	raw, _ := parseAddr(addr)
	path := filepath.Join(s.baseDir, raw+".json")

	if _, err := os.Stat(path); err == nil {
		return addr, nil
	}

	// Write to temp, then rename, so a crashed export never leaves a
	// half-written bundle at a valid address.
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return "", fmt.Errorf("archive: write bundle: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return "", fmt.Errorf("archive: commit bundle: %w", err)
	}

	return addr, nil
}

func (s *FileStore) Get(ctx context.Context, addr string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	raw, err := parseAddr(addr)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(filepath.Join(s.baseDir, raw+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("archive: bundle not found: %s", addr)
		}
		return nil, fmt.Errorf("archive: open bundle: %w", err)
	}
	defer f.Close()

	return io.ReadAll(f)
}

func (s *FileStore) Exists(ctx context.Context, addr string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	raw, err := parseAddr(addr)
	if err != nil {
		return false, err
	}

	_, err = os.Stat(filepath.Join(s.baseDir, raw+".json"))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("archive: stat bundle: %w", err)
}

func (s *FileStore) Delete(ctx context.Context, addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := parseAddr(addr)
	if err != nil {
		return err
	}

	err = os.Remove(filepath.Join(s.baseDir, raw+".json"))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("archive: delete bundle: %w", err)
	}
	return nil
}
