package blob

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestValidateName(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		expectErr bool
	}{
		{name: "plain", input: "b7f3.webm"},
		{name: "empty", input: "", expectErr: true},
		{name: "absolute", input: "/etc/passwd", expectErr: true},
		{name: "parent-segment", input: "../secret.webm", expectErr: true},
		{name: "embedded-parent", input: "a..b.webm", expectErr: true},
		{name: "forward-slash", input: "nested/clip.webm", expectErr: true},
		{name: "backslash", input: `nested\clip.webm`, expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input)
			if tt.expectErr && !errors.Is(err, ErrUnsafeName) {
				t.Fatalf("expected unsafe name error for %q, got %v", tt.input, err)
			}
			if !tt.expectErr && err != nil {
				t.Fatalf("unexpected error for %q: %v", tt.input, err)
			}
		})
	}
}

func TestNewStoreCreatesRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "uploads")
	if _, err := NewStore(root); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		t.Fatalf("expected root directory to exist, err=%v", err)
	}
}

func TestStageKeepPersistsBlob(t *testing.T) {
	root := t.TempDir()
	store, err := NewStore(root)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	staged, err := store.Stage("clip.webm", strings.NewReader("audio-bytes"))
	if err != nil {
		t.Fatalf("stage failed: %v", err)
	}
	staged.Keep()
	if err := staged.Discard(); err != nil {
		t.Fatalf("discard after keep must be a no-op: %v", err)
	}

	content, err := os.ReadFile(filepath.Join(root, "clip.webm"))
	if err != nil {
		t.Fatalf("expected kept blob to remain: %v", err)
	}
	if string(content) != "audio-bytes" {
		t.Fatalf("unexpected blob content %q", content)
	}
}

func TestStageDiscardRemovesBlob(t *testing.T) {
	root := t.TempDir()
	store, err := NewStore(root)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	staged, err := store.Stage("clip.webm", strings.NewReader("audio-bytes"))
	if err != nil {
		t.Fatalf("stage failed: %v", err)
	}
	if err := staged.Discard(); err != nil {
		t.Fatalf("discard failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(root, "clip.webm")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected discarded blob to be gone, got %v", err)
	}
}

func TestStageRejectsDuplicateName(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := store.Stage("clip.webm", strings.NewReader("first")); err != nil {
		t.Fatalf("first stage failed: %v", err)
	}
	if _, err := store.Stage("clip.webm", strings.NewReader("second")); err == nil {
		t.Fatalf("expected duplicate stage to fail")
	}
}

func TestResolve(t *testing.T) {
	root := t.TempDir()
	store, err := NewStore(root)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := store.Resolve("missing.webm"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found error, got %v", err)
	}
	if _, err := store.Resolve("../escape.webm"); !errors.Is(err, ErrUnsafeName) {
		t.Fatalf("expected unsafe name error, got %v", err)
	}

	if err := os.WriteFile(filepath.Join(root, "present.webm"), []byte("x"), 0o644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}
	path, err := store.Resolve("present.webm")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != filepath.Join(root, "present.webm") {
		t.Fatalf("unexpected path %q", path)
	}
}
