package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/Faultbox/scenetag/internal/errs"
	"github.com/Faultbox/scenetag/internal/logger"
)

// FileStore writes one JSON file per mesh, <dir>/<name>_annotations.json,
// where name is the path-escaped mesh name without its extension. Meshes in
// subdirectories keep distinct files: scans/room.ply is scans%2Froom.
type FileStore struct {
	dir string
	log *zap.Logger
}

// NewFileStore creates dir if needed and returns a store writing into it.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("annotations dir is empty")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating annotations dir: %w", err)
	}
	return &FileStore{dir: dir, log: logger.Named("storage")}, nil
}

// Path returns the file holding the annotations of mesh. Names are
// slash-separated and relative, like resource names.
func (s *FileStore) Path(mesh string) (string, error) {
	if mesh == "" || strings.Contains(mesh, `\`) || !filepath.IsLocal(filepath.FromSlash(mesh)) {
		return "", fmt.Errorf("%w: invalid mesh name %q", errs.ErrValidation, mesh)
	}
	stem := strings.TrimSuffix(mesh, path.Ext(mesh))
	if stem == "" || strings.HasSuffix(stem, "/") {
		return "", fmt.Errorf("%w: invalid mesh name %q", errs.ErrValidation, mesh)
	}
	return filepath.Join(s.dir, url.PathEscape(path.Clean(stem))+"_annotations.json"), nil
}

// Save writes payload atomically. It must be valid JSON.
func (s *FileStore) Save(ctx context.Context, mesh string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !json.Valid(payload) {
		return fmt.Errorf("%w: annotation payload is not valid JSON", errs.ErrValidation)
	}
	file, err := s.Path(mesh)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, ".annotations-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", file, err)
	}
	if err := tmp.Chmod(0644); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", file, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing %s: %w", file, err)
	}
	if err := os.Rename(tmp.Name(), file); err != nil {
		return fmt.Errorf("replacing %s: %w", file, err)
	}

	s.log.Info("annotations saved", zap.String("mesh", mesh), zap.String("path", file), zap.Int("bytes", len(payload)))
	return nil
}

// Load implements Store.
func (s *FileStore) Load(ctx context.Context, mesh string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	file, err := s.Path(mesh)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(file)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: annotations for %s", errs.ErrResourceNotFound, mesh)
		}
		return nil, fmt.Errorf("reading %s: %w", file, err)
	}
	return data, nil
}

// Close implements Store.
func (s *FileStore) Close() error {
	return nil
}
