package server

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestMediaStoreSave(t *testing.T) {
	store := NewMediaStore(t.TempDir())
	if err := store.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	name, err := store.Save(bytes.NewReader([]byte("png bytes")), "photo.PNG", "uploads")
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if !strings.HasPrefix(name, "uploads/") || !strings.HasSuffix(name, ".png") {
		t.Errorf("Expected uploads/<uuid>.png, got %q", name)
	}

	data, err := os.ReadFile(filepath.Join(store.Dir(), filepath.FromSlash(name)))
	if err != nil {
		t.Fatalf("Stored file missing: %v", err)
	}
	if string(data) != "png bytes" {
		t.Errorf("Stored content mismatch: %q", data)
	}

	// Неизвестное расширение заменяется на .bin
	name, err = store.Save(bytes.NewReader([]byte("x")), "evil.exe", "uploads")
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if !strings.HasSuffix(name, ".bin") {
		t.Errorf("Expected .bin for unknown extension, got %q", name)
	}
}

func TestMediaStoreSizeLimit(t *testing.T) {
	store := NewMediaStore(t.TempDir())
	if err := store.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	big := bytes.NewReader(make([]byte, maxUploadSize+1))
	if _, err := store.Save(big, "huge.mp4", "uploads"); err != ErrUploadTooLarge {
		t.Errorf("Expected ErrUploadTooLarge, got %v", err)
	}

	// Лимит - отказ строго больше
	exact := bytes.NewReader(make([]byte, 1024))
	if _, err := store.Save(exact, "ok.mp4", "uploads"); err != nil {
		t.Errorf("Expected save within limit to succeed, got %v", err)
	}
}
