package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/mixproxy/proxyadmin/internal/logging"
	"github.com/mixproxy/proxyadmin/internal/proxyconfig"
	"go.uber.org/zap"
)

// DefaultPath is where the proxy runtime expects its configuration document.
const DefaultPath = ".config/proxy.config.json"

// Revision identifies the content of a configuration document.
func Revision(data []byte) uint64 {
	return xxhash.Sum64(data)
}

// FileStore keeps the proxy configuration in a JSON document on disk. It is
// safe for concurrent use; writes are atomic so the proxy never reads a
// partial document.
type FileStore struct {
	path     string
	mu       sync.Mutex
	revision atomic.Uint64
	// written is the revision of the last document this store wrote that
	// the watcher has not yet observed.
	written atomic.Uint64
}

// NewFileStore creates a store for the document at path.
func NewFileStore(path string) *FileStore {
	if path == "" {
		path = DefaultPath
	}
	return &FileStore{path: path}
}

// Path returns the document path.
func (s *FileStore) Path() string {
	return s.path
}

// Revision returns the revision last read or written by this store, or zero.
func (s *FileStore) Revision() uint64 {
	return s.revision.Load()
}

// Fetch reads and decodes the current document.
func (s *FileStore) Fetch(ctx context.Context) (proxyconfig.Config, error) {
	cfg, _, err := s.Snapshot(ctx)
	return cfg, err
}

// Snapshot reads the current document and returns it with its revision.
func (s *FileStore) Snapshot(ctx context.Context) (proxyconfig.Config, uint64, error) {
	if err := ctx.Err(); err != nil {
		return proxyconfig.Config{}, 0, err
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return proxyconfig.Config{}, 0, fmt.Errorf("read proxy config: %w", err)
	}
	cfg, err := proxyconfig.Decode(data)
	if err != nil {
		return proxyconfig.Config{}, 0, err
	}
	rev := Revision(data)
	s.revision.Store(rev)
	return cfg, rev, nil
}

// Submit encodes cfg and replaces the document. It does not validate.
func (s *FileStore) Submit(ctx context.Context, cfg proxyconfig.Config) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := proxyconfig.Encode(cfg)
	if err != nil {
		return fmt.Errorf("encode proxy config: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := atomicWrite(s.path, data); err != nil {
		return fmt.Errorf("write proxy config: %w", err)
	}
	s.revision.Store(Revision(data))
	s.written.Store(Revision(data))
	logging.Debug("proxy config written",
		zap.String("path", s.path),
		zap.String("revision", FormatRevision(Revision(data))),
	)
	return nil
}

// Init writes cfg when no document exists yet. It reports whether a document
// was created.
func (s *FileStore) Init(cfg proxyconfig.Config) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.path); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("stat proxy config: %w", err)
	}

	data, err := proxyconfig.Encode(cfg)
	if err != nil {
		return false, fmt.Errorf("encode proxy config: %w", err)
	}
	if err := atomicWrite(s.path, data); err != nil {
		return false, fmt.Errorf("write proxy config: %w", err)
	}
	s.revision.Store(Revision(data))
	s.written.Store(Revision(data))
	logging.Info("created proxy config", zap.String("path", s.path))
	return true, nil
}

// ownWrite reports whether rev is the document this store last wrote, and
// forgets that write so a later external edit back to the same content is
// still reported.
func (s *FileStore) ownWrite(rev uint64) bool {
	return rev != 0 && s.written.CompareAndSwap(rev, 0)
}

// FormatRevision renders a revision for ETags and logs.
func FormatRevision(rev uint64) string {
	return fmt.Sprintf("%016x", rev)
}

// atomicWrite writes data to a temp file then renames it over path.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		os.Remove(tmp)
		return err
	}

	return os.Rename(tmp, path)
}
