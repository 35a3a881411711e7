// Package imagestore persists uploaded recipe images in a content directory
// or an S3 bucket under collision-free filenames.
package imagestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Store saves and removes image files by stored filename.
type Store interface {
	// Save stores the content read from r and returns the generated filename.
	Save(ctx context.Context, originalName string, r io.Reader) (string, error)
	// Remove deletes a stored file. A file that is already gone is not an error.
	Remove(ctx context.Context, filename string) error
}

// ErrUnsupportedType is returned for files whose extension is not an image.
var ErrUnsupportedType = errors.New("invalid file type. Only JPEG, JPG, PNG, GIF and WEBP images are allowed")

var allowedExtensions = map[string]string{
	".jpeg": "image/jpeg",
	".jpg":  "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// CheckExtension reports whether the file name carries an allowed image extension.
func CheckExtension(name string) error {
	if _, ok := allowedExtensions[strings.ToLower(filepath.Ext(name))]; !ok {
		return ErrUnsupportedType
	}
	return nil
}

func contentType(name string) string {
	if ct, ok := allowedExtensions[strings.ToLower(filepath.Ext(name))]; ok {
		return ct
	}
	return "application/octet-stream"
}

// UniqueName prefixes the base of the original filename with the upload
// time in milliseconds and a random token, so uploads of the same file in
// the same millisecond still get distinct names.
func UniqueName(now time.Time, originalName string) string {
	return uniqueName(now, randomToken(), originalName)
}

func randomToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func uniqueName(now time.Time, token, originalName string) string {
	base := filepath.Base(strings.ReplaceAll(originalName, `\`, "/"))
	base = strings.Map(func(r rune) rune {
		switch {
		case r == ' ':
			return '_'
		case r == '/' || r < 0x20:
			return -1
		}
		return r
	}, base)
	if base == "" || base == "." || base == ".." {
		base = "image"
	}
	return strconv.FormatInt(now.UnixMilli(), 10) + "-" + token + "-" + base
}

// cleanName rejects stored filenames that would escape the store.
func cleanName(filename string) (string, error) {
	if filename == "" || filename != filepath.Base(filename) || filename == "." || filename == ".." {
		return "", fmt.Errorf("invalid image filename %q", filename)
	}
	return filename, nil
}
