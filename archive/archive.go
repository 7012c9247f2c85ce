// Package archive backs up pinned snapshots of a database to any blob
// store and restores them into empty directories. Segments stream
// through lz4 framing; the manifest travels in its native compressed
// encoding. This is operational tooling for moving snapshots between
// machines, not crash recovery.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pierrec/lz4/v4"

	"github.com/rfdb/rfdb/blobstore"
	"github.com/rfdb/rfdb/internal/engine"
	"github.com/rfdb/rfdb/internal/fs"
	"github.com/rfdb/rfdb/internal/manifest"
	"github.com/rfdb/rfdb/model"
)

const (
	snapshotPrefix = "snapshots/"
	manifestName   = "MANIFEST"
	completeName   = "COMPLETE"
	fileDir        = "files/"
	lz4Ext         = ".lz4"
)

// ErrIncomplete means the archived snapshot's completion marker is
// missing: the backup was interrupted and must not be restored.
var ErrIncomplete = errors.New("archive: snapshot incomplete")

// Archiver copies snapshots between a local database directory and a
// blob store.
type Archiver struct {
	fsys   fs.FileSystem
	logger *slog.Logger
}

// Option configures an Archiver.
type Option func(*Archiver)

// WithFileSystem overrides the local file system.
func WithFileSystem(fsys fs.FileSystem) Option {
	return func(a *Archiver) { a.fsys = fsys }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Archiver) { a.logger = logger }
}

// New creates an Archiver.
func New(optFns ...Option) *Archiver {
	a := &Archiver{
		fsys:   fs.Default,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, fn := range optFns {
		fn(a)
	}
	return a
}

func snapshotKey(version uint64, parts ...string) string {
	return path.Join(append([]string{snapshotPrefix + fmt.Sprintf("%06d", version)}, parts...)...)
}

// Backup copies one snapshot of the database at dbDir into dest: its
// manifest plus every segment and index file the manifest references.
// Tag the snapshot first so concurrent garbage collection cannot remove
// its segments mid-copy. The completion marker lands last, so a crashed
// backup is detectable.
func (a *Archiver) Backup(ctx context.Context, dbDir string, ref model.SnapshotRef, dest blobstore.Store) (uint64, error) {
	local := blobstore.NewLocalStore(dbDir, a.fsys)
	manifests := manifest.NewStore(local, a.logger)
	m, err := manifests.Resolve(ctx, ref)
	if err != nil {
		return 0, err
	}

	data, err := m.Encode()
	if err != nil {
		return 0, err
	}
	if err := dest.Put(ctx, snapshotKey(m.Version, manifestName), data); err != nil {
		return 0, err
	}

	paths := sortedPaths(manifest.LivePaths(m))
	for _, rel := range paths {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if err := a.backupFile(ctx, dbDir, rel, m.Version, dest); err != nil {
			return 0, fmt.Errorf("archive %s: %w", rel, err)
		}
	}
	if err := dest.Put(ctx, snapshotKey(m.Version, completeName), []byte("1")); err != nil {
		return 0, err
	}
	a.logger.Info("snapshot archived",
		slog.Uint64("version", m.Version),
		slog.Int("files", len(paths)))
	return m.Version, nil
}

func (a *Archiver) backupFile(ctx context.Context, dbDir, rel string, version uint64, dest blobstore.Store) error {
	src, err := a.fsys.OpenFile(filepath.Join(dbDir, filepath.FromSlash(rel)), os.O_RDONLY, 0)
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	wb, err := dest.Create(ctx, snapshotKey(version, fileDir, rel)+lz4Ext)
	if err != nil {
		return err
	}
	zw := lz4.NewWriter(wb)
	if _, err := io.Copy(zw, src); err != nil {
		_ = wb.Abort()
		return err
	}
	if err := zw.Close(); err != nil {
		_ = wb.Abort()
		return err
	}
	if err := wb.Close(); err != nil {
		_ = wb.Abort()
		return err
	}
	return nil
}

// Restore materializes an archived snapshot into dbDir, which must not
// already hold a database. The restored database serves the snapshot as
// its current version; its tags come along.
func (a *Archiver) Restore(ctx context.Context, src blobstore.Store, version uint64, dbDir string) error {
	if _, err := a.fsys.Stat(filepath.Join(dbDir, "db_config.json")); err == nil {
		return fmt.Errorf("archive: %s already holds a database", dbDir)
	}
	if _, err := src.Get(ctx, snapshotKey(version, completeName)); err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return fmt.Errorf("%w: version %d", ErrIncomplete, version)
		}
		return err
	}
	data, err := src.Get(ctx, snapshotKey(version, manifestName))
	if err != nil {
		return err
	}
	m, err := manifest.Decode(data)
	if err != nil {
		return err
	}
	if m.Version != version {
		return fmt.Errorf("archive: blob for version %d holds manifest %d", version, m.Version)
	}

	if err := engine.InitDir(a.fsys, dbDir, m.ShardCount); err != nil {
		return err
	}
	for rel := range manifest.LivePaths(m) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := a.restoreFile(ctx, src, version, rel, dbDir); err != nil {
			return fmt.Errorf("restore %s: %w", rel, err)
		}
	}

	local := blobstore.NewLocalStore(dbDir, a.fsys)
	manifests := manifest.NewStore(local, a.logger)
	if err := manifests.Save(ctx, m); err != nil {
		return err
	}
	a.logger.Info("snapshot restored",
		slog.Uint64("version", version),
		slog.String("dir", dbDir))
	return nil
}

func (a *Archiver) restoreFile(ctx context.Context, src blobstore.Store, version uint64, rel, dbDir string) error {
	blob, err := src.Open(ctx, snapshotKey(version, fileDir, rel)+lz4Ext)
	if err != nil {
		return err
	}
	defer func() { _ = blob.Close() }()

	raw, err := io.ReadAll(lz4.NewReader(blob))
	if err != nil {
		return err
	}
	full := filepath.Join(dbDir, filepath.FromSlash(rel))
	if err := a.fsys.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	return fs.AtomicWriteFile(a.fsys, full, raw, 0o644)
}

// List returns the versions of complete snapshots stored in the
// archive, ascending.
func (a *Archiver) List(ctx context.Context, store blobstore.Store) ([]uint64, error) {
	names, err := store.List(ctx, snapshotPrefix)
	if err != nil {
		return nil, err
	}
	var versions []uint64
	for _, name := range names {
		rest, ok := strings.CutPrefix(name, snapshotPrefix)
		if !ok {
			continue
		}
		dir, file, ok := strings.Cut(rest, "/")
		if !ok || file != completeName {
			continue
		}
		v, err := strconv.ParseUint(dir, 10, 64)
		if err != nil {
			continue
		}
		versions = append(versions, v)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
	return versions, nil
}

// Delete removes an archived snapshot. The completion marker goes
// first, so a partially deleted snapshot reads as incomplete rather
// than corrupt.
func (a *Archiver) Delete(ctx context.Context, store blobstore.Store, version uint64) error {
	if err := store.Delete(ctx, snapshotKey(version, completeName)); err != nil {
		return err
	}
	names, err := store.List(ctx, snapshotKey(version)+"/")
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := store.Delete(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

func sortedPaths(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
