package store

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// FS is the block file store the records live on.
type FS interface {
	Open(name string) (io.ReadCloser, error)
	Create(name string) (io.WriteCloser, error)
	Rename(oldname, newname string) error
	Remove(name string) error
}

// DirFS stores the files in a directory of the host file system.
type DirFS string

func (d DirFS) path(name string) string { return filepath.Join(string(d), name) }

func (d DirFS) Open(name string) (io.ReadCloser, error) { return os.Open(d.path(name)) }

func (d DirFS) Create(name string) (io.WriteCloser, error) {
	if err := os.MkdirAll(string(d), 0o755); err != nil {
		return nil, err
	}
	f, err := os.Create(d.path(name))
	if err != nil {
		return nil, err
	}
	return syncFile{f}, nil
}

func (d DirFS) Rename(oldname, newname string) error {
	return os.Rename(d.path(oldname), d.path(newname))
}

func (d DirFS) Remove(name string) error { return os.Remove(d.path(name)) }

// syncFile flushes the data to the device before closing.
type syncFile struct{ *os.File }

func (f syncFile) Close() error {
	if err := f.File.Sync(); err != nil {
		f.File.Close()
		return err
	}
	return f.File.Close()
}

// ErrInjected is returned by MemFS writers armed with FailWrite.
var ErrInjected = errors.New("injected write failure")

// MemFS is an in-memory FS. Writes land immediately, so a failed write leaves
// a truncated file behind like an interrupted flash write would.
type MemFS struct {
	mu    sync.Mutex
	files map[string][]byte
	fail  map[string]int
}

func NewMemFS() *MemFS {
	return &MemFS{files: map[string][]byte{}, fail: map[string]int{}}
}

// FailWrite makes the next Create of name fail after n bytes were written.
func (m *MemFS) FailWrite(name string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail[name] = n
}

// Bytes returns a copy of the file content.
func (m *MemFS) Bytes(name string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.files[name]
	return bytes.Clone(b), ok
}

// Put replaces the file content.
func (m *MemFS) Put(name string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[name] = bytes.Clone(data)
}

func (m *MemFS) Open(name string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.files[name]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	return io.NopCloser(bytes.NewReader(bytes.Clone(b))), nil
}

func (m *MemFS) Create(name string) (io.WriteCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[name] = nil
	w := &memWriter{fs: m, name: name, limit: -1}
	if n, ok := m.fail[name]; ok {
		w.limit = n
		delete(m.fail, name)
	}
	return w, nil
}

func (m *MemFS) Rename(oldname, newname string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.files[oldname]
	if !ok {
		return &fs.PathError{Op: "rename", Path: oldname, Err: fs.ErrNotExist}
	}
	m.files[newname] = b
	delete(m.files, oldname)
	return nil
}

func (m *MemFS) Remove(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[name]; !ok {
		return &fs.PathError{Op: "remove", Path: name, Err: fs.ErrNotExist}
	}
	delete(m.files, name)
	return nil
}

type memWriter struct {
	fs    *MemFS
	name  string
	limit int
}

func (w *memWriter) Write(p []byte) (int, error) {
	w.fs.mu.Lock()
	defer w.fs.mu.Unlock()
	n := len(p)
	var err error
	if w.limit >= 0 && n > w.limit {
		n = w.limit
		err = fmt.Errorf("%s: %w", w.name, ErrInjected)
	}
	if w.limit >= 0 {
		w.limit -= n
	}
	w.fs.files[w.name] = append(w.fs.files[w.name], p[:n]...)
	return n, err
}

func (w *memWriter) Close() error { return nil }
