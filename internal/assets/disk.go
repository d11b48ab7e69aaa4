package assets

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
)

// DiskStore keeps assets as files in a single directory. Refs are
// baseURL + "/" + file name, where baseURL is the public prefix the
// directory is served under (e.g. http://host/images).
type DiskStore struct {
	dir     string
	baseURL string
	logger  *log.Logger
}

// NewDiskStore ensures dir exists and returns a store rooted there.
func NewDiskStore(dir, baseURL string, logger *log.Logger) (*DiskStore, error) {
	if logger == nil {
		logger = log.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create asset dir: %w", err)
	}
	return &DiskStore{dir: dir, baseURL: baseURL, logger: logger}, nil
}

// Dir returns the directory assets are written to.
func (s *DiskStore) Dir() string {
	return s.dir
}

// Put writes data under a fresh name. The file appears atomically.
func (s *DiskStore) Put(ctx context.Context, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name := newName(contentType)
	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp asset: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("write asset: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("close asset: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("chmod asset: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(s.dir, name)); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("publish asset: %w", err)
	}
	return refFor(s.baseURL, name), nil
}

// Delete removes the file behind ref.
func (s *DiskStore) Delete(ctx context.Context, ref string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	name, err := nameFromRef(s.baseURL, ref)
	if err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(s.dir, name)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return fmt.Errorf("remove asset %s: %w", name, err)
	}
	s.logger.Printf("assets: removed %s", name)
	return nil
}
