package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rfdb/rfdb/internal/fs"
)

// LocalStore implements Store on a directory tree. Put writes through a
// temp sibling plus rename, so the manifest CURRENT pointer swap is
// atomic on POSIX filesystems.
type LocalStore struct {
	root string
	fsys fs.FileSystem
}

// NewLocalStore creates a store rooted at dir.
func NewLocalStore(dir string, fsys fs.FileSystem) *LocalStore {
	if fsys == nil {
		fsys = fs.Default
	}
	return &LocalStore{root: dir, fsys: fsys}
}

func (s *LocalStore) path(name string) string {
	return filepath.Join(s.root, filepath.FromSlash(name))
}

// Open opens a blob for streaming reads.
func (s *LocalStore) Open(_ context.Context, name string) (Blob, error) {
	f, err := s.fsys.OpenFile(s.path(name), os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &localBlob{f: f, size: info.Size()}, nil
}

// Create starts a streaming write through a temp sibling. Close renames
// into place and fsyncs the parent directory.
func (s *LocalStore) Create(_ context.Context, name string) (WritableBlob, error) {
	path := s.path(name)
	if err := s.fsys.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	tmp := path + ".tmp"
	f, err := s.fsys.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	return &localWritableBlob{fsys: s.fsys, f: f, tmp: tmp, final: path}, nil
}

// Put publishes data under name atomically.
func (s *LocalStore) Put(_ context.Context, name string, data []byte) error {
	path := s.path(name)
	if err := s.fsys.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return fs.AtomicWriteFile(s.fsys, path, data, 0o644)
}

// Get reads a whole blob.
func (s *LocalStore) Get(ctx context.Context, name string) ([]byte, error) {
	b, err := s.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return ReadAll(b)
}

// Delete removes a blob. Missing blobs are not an error.
func (s *LocalStore) Delete(_ context.Context, name string) error {
	err := s.fsys.Remove(s.path(name))
	if err != nil && errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// List returns the slash-separated names of all blobs under prefix,
// walking the tree rooted at the prefix's directory component.
func (s *LocalStore) List(_ context.Context, prefix string) ([]string, error) {
	var names []string
	var walk func(dir, rel string) error
	walk = func(dir, rel string) error {
		entries, err := s.fsys.ReadDir(dir)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		for _, e := range entries {
			name := e.Name()
			full := filepath.Join(dir, name)
			child := name
			if rel != "" {
				child = rel + "/" + name
			}
			if e.IsDir() {
				if err := walk(full, child); err != nil {
					return err
				}
				continue
			}
			if filepath.Ext(name) == ".tmp" {
				continue
			}
			if prefix == "" || hasPrefix(child, prefix) {
				names = append(names, child)
			}
		}
		return nil
	}
	if err := walk(s.root, ""); err != nil {
		return nil, err
	}
	return names, nil
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

type localBlob struct {
	f    fs.File
	size int64
}

func (b *localBlob) Read(p []byte) (int, error) { return b.f.Read(p) }
func (b *localBlob) Close() error               { return b.f.Close() }
func (b *localBlob) Size() int64                { return b.size }

type localWritableBlob struct {
	fsys   fs.FileSystem
	f      fs.File
	tmp    string
	final  string
	closed bool
}

func (w *localWritableBlob) Write(p []byte) (int, error) {
	if w.closed {
		return 0, io.ErrClosedPipe
	}
	return w.f.Write(p)
}

func (w *localWritableBlob) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.f.Sync(); err != nil {
		_ = w.f.Close()
		_ = w.fsys.Remove(w.tmp)
		return fmt.Errorf("sync blob: %w", err)
	}
	if err := w.f.Close(); err != nil {
		_ = w.fsys.Remove(w.tmp)
		return fmt.Errorf("close blob: %w", err)
	}
	if err := w.fsys.Rename(w.tmp, w.final); err != nil {
		_ = w.fsys.Remove(w.tmp)
		return fmt.Errorf("publish blob: %w", err)
	}
	return fs.SyncDir(w.fsys, filepath.Dir(w.final))
}

func (w *localWritableBlob) Abort() error {
	if !w.closed {
		w.closed = true
		_ = w.f.Close()
	}
	err := w.fsys.Remove(w.tmp)
	if err != nil && errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
