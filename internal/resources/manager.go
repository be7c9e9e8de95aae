// Package resources serves meshes, instance masks and annotation collections
// from the models directory.
package resources

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/Faultbox/scenetag/internal/errs"
	"github.com/Faultbox/scenetag/internal/logger"
)

// ErrInvalidName is returned for names that escape the models directory.
var ErrInvalidName = fmt.Errorf("%w: invalid resource name", errs.ErrValidation)

// Manager resolves resource names under a root directory and caches their
// contents.
type Manager struct {
	root  string
	cache *Cache
	log   *zap.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewManager creates a manager rooted at dir, which must exist.
func NewManager(dir string) (*Manager, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving models dir %s: %w", dir, err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("opening models dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("models dir %s is not a directory", root)
	}
	return &Manager{
		root:  root,
		cache: NewCache(),
		log:   logger.Named("resources"),
	}, nil
}

// Root returns the absolute models directory.
func (m *Manager) Root() string {
	return m.root
}

// Resolve returns the file path of name. Names are slash-separated and
// relative to the root; anything reaching outside it is ErrInvalidName.
func (m *Manager) Resolve(name string) (string, error) {
	if name == "" || strings.Contains(name, `\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	local := filepath.FromSlash(name)
	if !filepath.IsLocal(local) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(m.root, local), nil
}

// Load returns the contents of name. A missing file is
// errs.ErrResourceNotFound.
func (m *Manager) Load(name string) ([]byte, error) {
	path, err := m.Resolve(name)
	if err != nil {
		return nil, err
	}
	if data, ok := m.cache.Get(name); ok {
		return data, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", errs.ErrResourceNotFound, name)
		}
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	m.cache.Set(name, data)
	m.log.Debug("resource loaded", zap.String("name", name), zap.Int("bytes", len(data)))
	return data, nil
}

// Exists reports whether name is a regular file under the root.
func (m *Manager) Exists(name string) bool {
	path, err := m.Resolve(name)
	if err != nil {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// List returns the names of the files directly under the root with
// extension ext, sorted.
func (m *Manager) List(ext string) ([]string, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", m.root, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if ext == "" || strings.EqualFold(filepath.Ext(e.Name()), ext) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Stats returns cache hit and miss counts.
func (m *Manager) Stats() (hits, misses int) {
	return m.cache.Stats()
}

// Watch starts evicting cached entries when their files change on disk.
// Calling it again is a no-op.
func (m *Manager) Watch() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.watcher != nil {
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	if err := w.Add(m.root); err != nil {
		w.Close()
		return fmt.Errorf("watching %s: %w", m.root, err)
	}
	m.watcher = w
	m.done = make(chan struct{})

	m.wg.Add(1)
	go m.watch(w, m.done)
	m.log.Info("watching models dir", zap.String("dir", m.root))
	return nil
}

func (m *Manager) watch(w *fsnotify.Watcher, done chan struct{}) {
	defer m.wg.Done()
	for {
		select {
		case <-done:
			return
		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
				event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				m.evict(event.Name)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			m.log.Warn("watcher error", zap.Error(err))
		}
	}
}

func (m *Manager) evict(path string) {
	rel, err := filepath.Rel(m.root, path)
	if err != nil {
		return
	}
	name := filepath.ToSlash(rel)
	if m.cache.Delete(name) {
		m.log.Debug("resource changed, evicted", zap.String("name", name))
	}
}

// Close stops the watcher and clears the cache.
func (m *Manager) Close() error {
	m.mu.Lock()
	w := m.watcher
	if w != nil {
		close(m.done)
		m.watcher = nil
	}
	m.mu.Unlock()

	var err error
	if w != nil {
		err = w.Close()
		m.wg.Wait()
	}
	m.cache.Clear()
	return err
}

// MaskName returns the instance mask name for a mesh: the same base name
// with maskExt.
func MaskName(mesh, maskExt string) string {
	return strings.TrimSuffix(mesh, filepath.Ext(mesh)) + maskExt
}

// AnnotationName returns the annotation collection base name for a mesh.
func AnnotationName(mesh string) string {
	return strings.TrimSuffix(mesh, filepath.Ext(mesh)) + ".json"
}

// URLPath escapes each segment of a slash-separated resource name.
func URLPath(name string) string {
	parts := strings.Split(name, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}

// BaseName strips the directory and extension from a mesh name.
func BaseName(mesh string) string {
	base := filepath.Base(filepath.FromSlash(mesh))
	return strings.TrimSuffix(base, filepath.Ext(base))
}
