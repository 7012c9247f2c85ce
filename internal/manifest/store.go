package manifest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/rfdb/rfdb/blobstore"
	"github.com/rfdb/rfdb/model"
)

const (
	prefix      = "manifest/"
	currentName = prefix + "CURRENT"
	fileFormat  = prefix + "MANIFEST-%06d"
)

// ErrNotFound is returned when a manifest version or tag does not exist.
var ErrNotFound = blobstore.ErrNotFound

// ErrTagExists is returned when a tag key=value already names another
// snapshot.
var ErrTagExists = errors.New("manifest: tag already assigned")

// Store persists manifest versions in a blob store and maintains the
// CURRENT pointer. All mutating calls serialize on an internal lock;
// the atomicity of the CURRENT swap itself comes from the blob store's
// Put contract.
type Store struct {
	mu     sync.Mutex
	blobs  blobstore.Store
	logger *slog.Logger
}

// NewStore creates a manifest store over blobs.
func NewStore(blobs blobstore.Store, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{blobs: blobs, logger: logger}
}

func versionName(v uint64) string {
	return fmt.Sprintf(fileFormat, v)
}

func parseVersionName(name string) (uint64, bool) {
	rest, ok := strings.CutPrefix(name, prefix+"MANIFEST-")
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseUint(rest, 10, 64)
	if err != nil || v == 0 {
		return 0, false
	}
	return v, true
}

// Save writes the manifest version and points CURRENT at it. The
// version file lands before the pointer moves, so a crash between the
// two leaves the previous version current.
func (s *Store) Save(ctx context.Context, m *Manifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(ctx, m, true)
}

func (s *Store) saveLocked(ctx context.Context, m *Manifest, advance bool) error {
	data, err := m.Encode()
	if err != nil {
		return err
	}
	name := versionName(m.Version)
	if err := s.blobs.Put(ctx, name, data); err != nil {
		return fmt.Errorf("manifest: write %s: %w", name, err)
	}
	if !advance {
		return nil
	}
	if err := s.blobs.Put(ctx, currentName, []byte(name)); err != nil {
		return fmt.Errorf("manifest: advance CURRENT: %w", err)
	}
	s.logger.Debug("manifest saved",
		slog.Uint64("version", m.Version),
		slog.Int("segments", len(m.Segments)))
	return nil
}

// CurrentVersion returns the version CURRENT points at, or 0 when the
// store is empty.
func (s *Store) CurrentVersion(ctx context.Context) (uint64, error) {
	data, err := s.blobs.Get(ctx, currentName)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	v, ok := parseVersionName(strings.TrimSpace(string(data)))
	if !ok {
		return 0, corruptf("CURRENT points at %q", strings.TrimSpace(string(data)))
	}
	return v, nil
}

// LoadCurrent loads the manifest CURRENT points at. Returns ErrNotFound
// when the store has never been written.
func (s *Store) LoadCurrent(ctx context.Context) (*Manifest, error) {
	v, err := s.CurrentVersion(ctx)
	if err != nil {
		return nil, err
	}
	if v == 0 {
		return nil, ErrNotFound
	}
	return s.LoadVersion(ctx, v)
}

// LoadVersion loads one manifest version.
func (s *Store) LoadVersion(ctx context.Context, version uint64) (*Manifest, error) {
	data, err := s.blobs.Get(ctx, versionName(version))
	if err != nil {
		return nil, err
	}
	m, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if m.Version != version {
		return nil, corruptf("file %s contains version %d", versionName(version), m.Version)
	}
	return m, nil
}

// ListVersions returns all stored versions in ascending order. Files
// with unparsable names are skipped.
func (s *Store) ListVersions(ctx context.Context) ([]uint64, error) {
	names, err := s.blobs.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	var versions []uint64
	for _, name := range names {
		if v, ok := parseVersionName(name); ok {
			versions = append(versions, v)
		}
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
	return versions, nil
}

// DeleteVersion removes one manifest version. The current version
// cannot be deleted.
func (s *Store) DeleteVersion(ctx context.Context, version uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, err := s.CurrentVersion(ctx)
	if err != nil {
		return err
	}
	if version == current {
		return fmt.Errorf("manifest: version %d is current", version)
	}
	return s.blobs.Delete(ctx, versionName(version))
}

// Resolve loads the manifest a snapshot ref addresses: the current
// manifest for the zero ref, an explicit version, or the newest
// snapshot carrying the given tag.
func (s *Store) Resolve(ctx context.Context, ref model.SnapshotRef) (*Manifest, error) {
	switch {
	case ref.Version != 0:
		return s.LoadVersion(ctx, ref.Version)
	case ref.TagKey != "":
		return s.FindByTag(ctx, ref.TagKey, ref.TagValue)
	default:
		return s.LoadCurrent(ctx)
	}
}

// FindByTag returns the newest snapshot tagged key=value.
func (s *Store) FindByTag(ctx context.Context, key, value string) (*Manifest, error) {
	versions, err := s.ListVersions(ctx)
	if err != nil {
		return nil, err
	}
	for i := len(versions) - 1; i >= 0; i-- {
		m, err := s.LoadVersion(ctx, versions[i])
		if err != nil {
			s.logger.Warn("skipping unreadable manifest",
				slog.Uint64("version", versions[i]),
				slog.String("error", err.Error()))
			continue
		}
		if m.Tags[key] == value {
			return m, nil
		}
	}
	return nil, fmt.Errorf("manifest: tag %s=%s: %w", key, value, ErrNotFound)
}

// Tag attaches tags to an existing snapshot and rewrites its manifest
// file in place. A key=value pair already naming a different snapshot
// is rejected, so tags stay unique handles.
func (s *Store) Tag(ctx context.Context, version uint64, tags map[string]string) (*Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.LoadVersion(ctx, version)
	if err != nil {
		return nil, err
	}
	versions, err := s.ListVersions(ctx)
	if err != nil {
		return nil, err
	}
	for _, v := range versions {
		if v == version {
			continue
		}
		other, err := s.LoadVersion(ctx, v)
		if err != nil {
			continue
		}
		for key, value := range tags {
			if other.Tags[key] == value {
				return nil, fmt.Errorf("%w: %s=%s names snapshot %d", ErrTagExists, key, value, v)
			}
		}
	}
	if m.Tags == nil {
		m.Tags = make(map[string]string, len(tags))
	}
	for key, value := range tags {
		m.Tags[key] = value
	}
	if err := s.saveLocked(ctx, m, false); err != nil {
		return nil, err
	}
	return m, nil
}

// EnsureTagsFree verifies that none of the key=value pairs already name
// a stored snapshot. Commit paths use this to validate tags before the
// manifest carrying them is written.
func (s *Store) EnsureTagsFree(ctx context.Context, tags map[string]string) error {
	if len(tags) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	versions, err := s.ListVersions(ctx)
	if err != nil {
		return err
	}
	for _, v := range versions {
		m, err := s.LoadVersion(ctx, v)
		if err != nil {
			continue
		}
		for key, value := range tags {
			if m.Tags[key] == value {
				return fmt.Errorf("%w: %s=%s names snapshot %d", ErrTagExists, key, value, v)
			}
		}
	}
	return nil
}

// Untag removes tag keys from a snapshot.
func (s *Store) Untag(ctx context.Context, version uint64, keys []string) (*Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.LoadVersion(ctx, version)
	if err != nil {
		return nil, err
	}
	for _, key := range keys {
		delete(m.Tags, key)
	}
	if err := s.saveLocked(ctx, m, false); err != nil {
		return nil, err
	}
	return m, nil
}

// ListSnapshots summarizes every stored version, oldest first.
// Unreadable versions are logged and skipped rather than failing the
// listing.
func (s *Store) ListSnapshots(ctx context.Context) ([]model.SnapshotInfo, error) {
	versions, err := s.ListVersions(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.SnapshotInfo, 0, len(versions))
	for _, v := range versions {
		m, err := s.LoadVersion(ctx, v)
		if err != nil {
			s.logger.Warn("skipping unreadable manifest",
				slog.Uint64("version", v),
				slog.String("error", err.Error()))
			continue
		}
		out = append(out, model.SnapshotInfo{
			Version:   m.Version,
			CreatedAt: m.CreatedAtMS,
			Tags:      m.Tags,
			Segments:  len(m.Segments),
		})
	}
	return out, nil
}

// LivePaths returns the union of segment and index paths referenced by
// the given manifests. Garbage collection deletes only files absent
// from this set.
func LivePaths(manifests ...*Manifest) map[string]struct{} {
	out := make(map[string]struct{})
	for _, m := range manifests {
		if m == nil {
			continue
		}
		for _, d := range m.Segments {
			if d.Path != "" {
				out[d.Path] = struct{}{}
			}
		}
		for _, d := range m.Indexes {
			if d.Path != "" {
				out[d.Path] = struct{}{}
			}
		}
	}
	return out
}
