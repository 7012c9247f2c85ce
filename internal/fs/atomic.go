package fs

import (
	"fmt"
	"os"
	"path/filepath"
)

// AtomicWriteFile durably publishes data at path: it writes to a
// temporary sibling file, fsyncs it, renames it into place and fsyncs
// the parent directory. Either the previous content or the new content
// is visible after a crash, never a partial write.
func AtomicWriteFile(fsys FileSystem, path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp := path + ".tmp"

	f, err := fsys.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = fsys.Remove(tmp)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = fsys.Remove(tmp)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = fsys.Remove(tmp)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := fsys.Rename(tmp, path); err != nil {
		_ = fsys.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return SyncDir(fsys, dir)
}

// SyncDir fsyncs a directory so a preceding rename is durable.
// Best effort on filesystems that reject directory fsync.
func SyncDir(fsys FileSystem, dir string) error {
	d, err := fsys.OpenFile(dir, os.O_RDONLY, 0)
	if err != nil {
		return nil
	}
	defer func() { _ = d.Close() }()
	_ = d.Sync()
	return nil
}
