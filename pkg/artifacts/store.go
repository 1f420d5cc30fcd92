// Package artifacts is a content-addressed blob store used to archive sealed
// packets and audit bundles and to serve input documents by hash.
package artifacts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var (
	// ErrNotFound is returned when no blob has the requested hash.
	ErrNotFound = errors.New("artifact not found")
	// ErrInvalidHash is returned for hashes not of the form sha256:<hex>.
	ErrInvalidHash = errors.New("invalid artifact hash")
)

// Store is a content-addressed store keyed by "sha256:<hex>".
type Store interface {
	// Store persists data and returns its content hash. Storing the same
	// bytes twice is a no-op.
	Store(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, hash string) ([]byte, error)
	Exists(ctx context.Context, hash string) (bool, error)
	Delete(ctx context.Context, hash string) error
}

// contentHash returns the prefixed hash and the raw hex of data.
func contentHash(data []byte) (prefixed, raw string) {
	sum := sha256.Sum256(data)
	raw = hex.EncodeToString(sum[:])
	return "sha256:" + raw, raw
}

// rawHash validates hash and returns its hex part.
func rawHash(hash string) (string, error) {
	raw, ok := strings.CutPrefix(hash, "sha256:")
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrInvalidHash, hash)
	}
	if b, err := hex.DecodeString(raw); err != nil || len(b) != sha256.Size {
		return "", fmt.Errorf("%w: %s", ErrInvalidHash, hash)
	}
	return raw, nil
}

// PutJSON marshals v and stores it.
func PutJSON(ctx context.Context, s Store, v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal artifact: %w", err)
	}
	return s.Store(ctx, data)
}

// GetJSON loads hash and unmarshals it into v.
func GetJSON(ctx context.Context, s Store, hash string, v any) error {
	data, err := s.Get(ctx, hash)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode artifact %s: %w", hash, err)
	}
	return nil
}

// FileStore keeps blobs as <hex>.blob files under a directory.
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
}

// NewFileStore creates the directory if needed.
func NewFileStore(baseDir string) (*FileStore, error) {
	//nolint:gosec // G301: shared artifact directory
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to ensure artifact dir: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

func (s *FileStore) path(raw string) string {
	return filepath.Join(s.baseDir, raw+".blob")
}

// Store writes data through a temp file and rename.
func (s *FileStore) Store(_ context.Context, data []byte) (string, error) {
	prefixed, raw := contentHash(data)

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(raw)
	if _, err := os.Stat(path); err == nil {
		return prefixed, nil
	}

	tmp := path + ".tmp"
	//nolint:gosec // G306: blobs are not secret
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("failed to commit blob: %w", err)
	}
	return prefixed, nil
}

// Get reads the blob with the given hash.
func (s *FileStore) Get(_ context.Context, hash string) ([]byte, error) {
	raw, err := rawHash(hash)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	f, err := os.Open(s.path(raw)) //nolint:gosec // hash validated as hex
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, hash)
		}
		return nil, err
	}
	defer f.Close() //nolint:errcheck // read-only

	return io.ReadAll(f)
}

// Exists reports whether the blob is present.
func (s *FileStore) Exists(_ context.Context, hash string) (bool, error) {
	raw, err := rawHash(hash)
	if err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	_, err = os.Stat(s.path(raw))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// Delete removes the blob. Deleting a missing blob is not an error.
func (s *FileStore) Delete(_ context.Context, hash string) error {
	raw, err := rawHash(hash)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(raw)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete artifact: %w", err)
	}
	return nil
}
