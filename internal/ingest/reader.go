package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"deployguard/internal/models"
)

// ErrBinary marks content that is not text.
var ErrBinary = errors.New("file appears to be binary")

const sniffLen = 1024

// DefaultMaxFileSize matches the upload limit of the HTTP API.
const DefaultMaxFileSize = 1_000_000

// ReadArtifact reads one file from disk. Directories, binary files and
// files above maxSize bytes are rejected; maxSize <= 0 uses the default.
func ReadArtifact(p string, maxSize int64) (models.Artifact, error) {
	info, err := os.Stat(p)
	if err != nil {
		return models.Artifact{}, fmt.Errorf("file not found or stat error: %w", err)
	}
	if info.IsDir() {
		return models.Artifact{}, fmt.Errorf("path '%s' is a directory, not a file", p)
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}
	if info.Size() > maxSize {
		return models.Artifact{}, fmt.Errorf("%w: %s is %d bytes (limit %d)", models.ErrTooLarge, filepath.Base(p), info.Size(), maxSize)
	}

	content, err := os.ReadFile(p)
	if err != nil {
		return models.Artifact{}, fmt.Errorf("error reading file: %w", err)
	}
	if err := CheckText(content); err != nil {
		return models.Artifact{}, fmt.Errorf("%s: %w", filepath.Base(p), err)
	}
	logrus.Debugf("Read '%s' (%d bytes)", filepath.Base(p), len(content))
	return NewArtifact(p, string(content))
}

// ReadFrom reads an uploaded stream under the same limits as ReadArtifact.
func ReadFrom(filename string, r io.Reader, maxSize int64) (models.Artifact, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}
	content, err := io.ReadAll(io.LimitReader(r, maxSize+1))
	if err != nil {
		return models.Artifact{}, fmt.Errorf("reading %s: %w", filename, err)
	}
	if int64(len(content)) > maxSize {
		return models.Artifact{}, fmt.Errorf("%w: %s exceeds %d bytes", models.ErrTooLarge, filename, maxSize)
	}
	if err := CheckText(content); err != nil {
		return models.Artifact{}, fmt.Errorf("%s: %w", filename, err)
	}
	return NewArtifact(filename, string(content))
}

// CheckText rejects content with a NUL byte in its first kilobyte.
func CheckText(content []byte) error {
	head := content
	if len(head) > sniffLen {
		head = head[:sniffLen]
	}
	if bytes.IndexByte(head, 0) >= 0 {
		return ErrBinary
	}
	return nil
}
