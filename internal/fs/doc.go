// Package fs abstracts filesystem operations for testability and fault
// injection.
//
//   - [File]: an open file with read/write/sync capabilities
//   - [FileSystem]: open, remove, rename, stat, mkdir, readdir
//   - [LocalFS]: production implementation over the os package
//   - [FaultyFS]: test utility that injects I/O errors, used to verify
//     that a failed flush or compaction leaves the prior manifest intact
//
// Durable publication of segments and manifests goes through
// [AtomicWriteFile]: write to a temp file, fsync, rename into place,
// fsync the directory. A crash at any point leaves either the old file
// or the new one, never a torn write.
//
// The interfaces intentionally take no context.Context: local filesystem
// calls are fast and non-interruptible at the syscall level. Remote,
// cancellable storage goes through the blobstore package instead.
package fs
