package upload

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newService(t *testing.T, maxBytes int64) Service {
	t.Helper()
	return New(t.TempDir(), maxBytes, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestValidFileType(t *testing.T) {
	allowed := []string{"photo.jpg", "PHOTO.JPG", "clip.webm", "anim.gif", "video.mp4"}
	for _, name := range allowed {
		if !ValidFileType(name) {
			t.Fatalf("%s should be accepted", name)
		}
	}
	rejected := []string{"shell.sh", "binary.exe", "document.pdf", "noextension", ""}
	for _, name := range rejected {
		if ValidFileType(name) {
			t.Fatalf("%s should be rejected", name)
		}
	}
}

func TestSaveRejectsDisallowedExtension(t *testing.T) {
	svc := newService(t, 1<<20)
	if _, err := svc.Save("user-1", "payload.exe", strings.NewReader("data")); !errors.Is(err, ErrInvalidFileType) {
		t.Fatalf("expected ErrInvalidFileType, got %v", err)
	}
}

func TestSaveEnforcesSizeCap(t *testing.T) {
	svc := newService(t, 16)
	big := strings.Repeat("x", 64)
	if _, err := svc.Save("user-1", "big.png", strings.NewReader(big)); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}

func TestSaveWritesUnderUserDirectory(t *testing.T) {
	dir := t.TempDir()
	svc := New(dir, 1<<20, slog.New(slog.NewTextHandler(io.Discard, nil)))

	path, err := svc.Save("user-1", "avatar.png", strings.NewReader("pixels"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if !strings.HasPrefix(path, filepath.Join(dir, "user-1")) {
		t.Fatalf("file landed outside the user directory: %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "pixels" {
		t.Fatalf("unexpected contents %q", data)
	}
}

func TestSaveStripsPathComponents(t *testing.T) {
	dir := t.TempDir()
	svc := New(dir, 1<<20, slog.New(slog.NewTextHandler(io.Discard, nil)))

	path, err := svc.Save("user-1", "../../escape.png", strings.NewReader("pixels"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if !strings.HasPrefix(path, filepath.Join(dir, "user-1")) {
		t.Fatalf("traversal was not neutralized: %s", path)
	}
}
