package blob

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrUnsafeName indicates a blob name that could escape the store root.
	ErrUnsafeName = errors.New("blob: unsafe name")
	// ErrNotFound indicates the named blob does not exist in the store.
	ErrNotFound = errors.New("blob: not found")
)

// Store keeps uploaded audio blobs under a single root directory,
// addressed by generated filenames.
type Store struct {
	root string
}

// NewStore creates the root directory when absent and returns the store.
func NewStore(root string) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("blob: root directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("blob: create root: %w", err)
	}
	return &Store{root: root}, nil
}

// ValidateName rejects names that carry path traversal or separators.
// Checked before any filesystem access.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrUnsafeName)
	}
	if strings.HasPrefix(name, "/") {
		return fmt.Errorf("%w: absolute path", ErrUnsafeName)
	}
	if strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: path separator", ErrUnsafeName)
	}
	if name == ".." || strings.Contains(name, "..") {
		return fmt.Errorf("%w: parent segment", ErrUnsafeName)
	}
	return nil
}

// Stage writes the blob content under the given name and returns a staged
// handle. The write only becomes permanent once Keep is called; Discard
// removes it, so a failed store commit leaves no orphan file behind.
func (s *Store) Stage(name string, src io.Reader) (*Staged, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	path := filepath.Join(s.root, name)

	destination, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("blob: stage %s: %w", name, err)
	}
	if _, err := io.Copy(destination, src); err != nil {
		destination.Close()
		os.Remove(path)
		return nil, fmt.Errorf("blob: stage %s: %w", name, err)
	}
	if err := destination.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("blob: stage %s: %w", name, err)
	}

	return &Staged{path: path}, nil
}

// Resolve returns the filesystem path for an existing blob.
func (s *Store) Resolve(name string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	path := filepath.Join(s.root, name)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return "", fmt.Errorf("blob: resolve %s: %w", name, err)
	}
	return path, nil
}

// Staged is a blob write awaiting the outcome of the surrounding transaction.
type Staged struct {
	path string
	kept bool
}

// Path reports where the staged content lives.
func (staged *Staged) Path() string {
	return staged.path
}

// Keep finalizes the staged blob; Discard becomes a no-op afterwards.
func (staged *Staged) Keep() {
	staged.kept = true
}

// Discard removes the staged blob unless it was kept. Removal failure is
// returned so the caller can log it; it is never fatal to the caller's flow.
func (staged *Staged) Discard() error {
	if staged.kept {
		return nil
	}
	if err := os.Remove(staged.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("blob: discard %s: %w", staged.path, err)
	}
	return nil
}
