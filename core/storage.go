// core/storage.go
package core

// Storage subsystem — opaque key→bytes maps behind the KVStore interface.
// Contract state, domain records and blob indexes all live in a flat
// keyspace; namespace separation is by BLAKE3 prefix discipline only
// (see StorageKey in crypto.go).

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// KVStore is the opaque key→bytes map every stateful subsystem binds to.
type KVStore interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	Delete(key []byte) error
	Has(key []byte) (bool, error)
}

//---------------------------------------------------------------------
// In-memory implementation
//---------------------------------------------------------------------

// MemoryStore is a thread-safe in-memory KVStore. Values are copied on both
// read and write so callers can never alias internal state.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (m *MemoryStore) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	val, ok := m.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	cpy := make([]byte, len(val))
	copy(cpy, val)
	return cpy, nil
}

func (m *MemoryStore) Set(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cpy := make([]byte, len(value))
	copy(cpy, value)
	m.data[string(key)] = cpy
	return nil
}

func (m *MemoryStore) Delete(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, string(key))
	return nil
}

func (m *MemoryStore) Has(key []byte) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[string(key)]
	return ok, nil
}

// Len reports the number of stored keys. Primarily intended for tests.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

//---------------------------------------------------------------------
// Persistent implementation
//---------------------------------------------------------------------

// FileStore persists each key as a hex-named file under a directory. Suited
// for node-side registries where durability beats throughput.
type FileStore struct {
	mu     sync.RWMutex
	dir    string
	logger *zap.SugaredLogger
}

func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("file store dir empty")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return &FileStore{dir: dir, logger: zap.L().Sugar()}, nil
}

func (f *FileStore) path(key []byte) string {
	return filepath.Join(f.dir, hex.EncodeToString(key))
}

func (f *FileStore) Get(key []byte) ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	b, err := os.ReadFile(f.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return b, nil
}

func (f *FileStore) Set(key, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	tmp := f.path(key) + ".tmp"
	if err := os.WriteFile(tmp, value, 0o600); err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	if err := os.Rename(tmp, f.path(key)); err != nil {
		f.logger.Errorf("storage: rename failed for %x: %v", key[:4], err)
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return nil
}

func (f *FileStore) Delete(key []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return nil
}

func (f *FileStore) Has(key []byte) (bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, err := os.Stat(f.path(key))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("%w: %v", ErrTransient, err)
}

//---------------------------------------------------------------------
// Write overlay – per-call transaction buffer
//---------------------------------------------------------------------

// WriteOverlay stages writes against a base store and commits them as a unit.
// A contract call mutates only the overlay; Commit is its linearization
// point, Discard leaves the base untouched.
type WriteOverlay struct {
	base    KVStore
	staged  map[string][]byte
	deleted map[string]bool
	order   []string
}

func NewWriteOverlay(base KVStore) *WriteOverlay {
	return &WriteOverlay{
		base:    base,
		staged:  make(map[string][]byte),
		deleted: make(map[string]bool),
	}
}

func (w *WriteOverlay) Get(key []byte) ([]byte, error) {
	k := string(key)
	if w.deleted[k] {
		return nil, ErrNotFound
	}
	if val, ok := w.staged[k]; ok {
		cpy := make([]byte, len(val))
		copy(cpy, val)
		return cpy, nil
	}
	return w.base.Get(key)
}

func (w *WriteOverlay) Set(key, value []byte) error {
	cpy := make([]byte, len(value))
	copy(cpy, value)
	k := string(key)
	delete(w.deleted, k)
	if _, seen := w.staged[k]; !seen {
		w.order = append(w.order, k)
	}
	w.staged[k] = cpy
	return nil
}

func (w *WriteOverlay) Delete(key []byte) error {
	k := string(key)
	delete(w.staged, k)
	w.deleted[k] = true
	return nil
}

func (w *WriteOverlay) Has(key []byte) (bool, error) {
	k := string(key)
	if w.deleted[k] {
		return false, nil
	}
	if _, ok := w.staged[k]; ok {
		return true, nil
	}
	return w.base.Has(key)
}

// Commit flushes staged mutations into the base store in write order. The
// base observes either none or all of the call's writes.
func (w *WriteOverlay) Commit() error {
	for k := range w.deleted {
		if err := w.base.Delete([]byte(k)); err != nil {
			return err
		}
	}
	for _, k := range w.order {
		v, ok := w.staged[k]
		if !ok {
			continue
		}
		if err := w.base.Set([]byte(k), v); err != nil {
			return err
		}
	}
	w.Discard()
	return nil
}

// Discard drops every staged mutation.
func (w *WriteOverlay) Discard() {
	w.staged = make(map[string][]byte)
	w.deleted = make(map[string]bool)
	w.order = nil
}

//---------------------------------------------------------------------
// Process-wide store (singleton)
//---------------------------------------------------------------------

var (
	storeOnce    sync.Once
	currentStore KVStore
)

// InitStore wires the process-wide store exactly once. Tests construct their
// own stores directly instead of re-initialising the global.
func InitStore(s KVStore) {
	storeOnce.Do(func() { currentStore = s })
}

// CurrentStore exposes the process-wide store, defaulting to an in-memory
// map when nothing was wired at boot.
func CurrentStore() KVStore {
	storeOnce.Do(func() { currentStore = NewMemoryStore() })
	return currentStore
}
