package rfdb

import (
	"github.com/rfdb/rfdb/internal/engine"
	"github.com/rfdb/rfdb/internal/manifest"
)

// Sentinel errors returned by DB operations. Match with errors.Is;
// wrapped errors carry the offending id, tag or path.
var (
	// ErrNotFound means the node, edge or snapshot does not exist.
	ErrNotFound = engine.ErrNotFound

	// ErrClosed means the database has been closed.
	ErrClosed = engine.ErrClosed

	// ErrConflict means a batch state conflict: opening a second batch,
	// or committing/aborting with none open.
	ErrConflict = engine.ErrConflict

	// ErrCorrupt means an on-disk structure failed validation.
	ErrCorrupt = engine.ErrCorrupt

	// ErrInvalidArgument means a malformed record, query or option.
	ErrInvalidArgument = engine.ErrInvalidArgument

	// ErrIncompatibleFormat means the database was written by an
	// unsupported format version.
	ErrIncompatibleFormat = engine.ErrIncompatibleFormat

	// ErrTagExists means a snapshot tag key=value already names another
	// snapshot.
	ErrTagExists = manifest.ErrTagExists
)
