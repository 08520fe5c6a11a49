package upload

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrInvalidFileType indicates the file extension is not allowed.
var ErrInvalidFileType = errors.New("upload: invalid file type")

// ErrTooLarge indicates the upload exceeds the configured size cap.
var ErrTooLarge = errors.New("upload: file too large")

var allowedExtensions = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".webp": {},
	".mp4": {}, ".webm": {},
}

// Service stores uploaded media on local disk, one directory per user.
type Service struct {
	dir      string
	maxBytes int64
	logger   *slog.Logger
}

// New constructs a Service rooted at dir.
func New(dir string, maxBytes int64, logger *slog.Logger) Service {
	return Service{dir: dir, maxBytes: maxBytes, logger: logger}
}

// ValidFileType reports whether the filename carries an allowed extension.
func ValidFileType(filename string) bool {
	_, ok := allowedExtensions[strings.ToLower(filepath.Ext(filename))]
	return ok
}

// Save writes the upload under <dir>/<userID>/<timestamp>_<name> and
// returns the stored path.
func (s Service) Save(userID, filename string, src io.Reader) (string, error) {
	if !ValidFileType(filename) {
		return "", ErrInvalidFileType
	}
	// Strip any client-supplied directory components.
	name := filepath.Base(filepath.Clean(filename))
	stamped := fmt.Sprintf("%s_%s", time.Now().UTC().Format("20060102_150405"), name)
	userDir := filepath.Join(s.dir, userID)
	if err := os.MkdirAll(userDir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}
	path := filepath.Join(userDir, stamped)
	dst, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}
	defer dst.Close()

	written, err := io.Copy(dst, io.LimitReader(src, s.maxBytes+1))
	if err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("write upload: %w", err)
	}
	if written > s.maxBytes {
		_ = os.Remove(path)
		return "", ErrTooLarge
	}
	s.logger.Info("file stored", "user_id", userID, "path", path, "bytes", written)
	return path, nil
}
