package imagestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/natefinch/atomic"
)

const filePerms = 0o644

// LocalStore keeps images in a directory on disk.
type LocalStore struct {
	dir   string
	now   func() time.Time
	token func() string
}

// NewLocalStore creates the content directory if needed.
func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create images directory: %w", err)
	}
	return &LocalStore{dir: dir, now: time.Now, token: randomToken}, nil
}

// Dir returns the content directory.
func (s *LocalStore) Dir() string { return s.dir }

// Save writes the image atomically so a reader never sees a partial file.
func (s *LocalStore) Save(ctx context.Context, originalName string, r io.Reader) (string, error) {
	if err := CheckExtension(originalName); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	filename := uniqueName(s.now(), s.token(), originalName)
	path := filepath.Join(s.dir, filename)
	if err := atomic.WriteFile(path, r); err != nil {
		return "", fmt.Errorf("failed to write image file: %w", err)
	}
	// atomic.WriteFile leaves the temp file mode on new files
	if err := os.Chmod(path, filePerms); err != nil {
		return "", fmt.Errorf("failed to set image file permissions: %w", err)
	}
	return filename, nil
}

// Remove deletes the image file, tolerating a file that is already gone.
func (s *LocalStore) Remove(ctx context.Context, filename string) error {
	name, err := cleanName(filename)
	if err != nil {
		return err
	}
	err = os.Remove(filepath.Join(s.dir, name))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete image file: %w", err)
	}
	return nil
}
