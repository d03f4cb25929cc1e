package filesystem

import (
	"context"
	"io"

	"github.com/3leaps/gridlink/pkg/fspath"
)

// Backend is the primitive surface a filesystem back-end must provide. The
// facade builds all generic operations (recursive list, delete, copy) on top
// of these.
//
// Implementations should:
//   - Receive absolute, normalized paths only; the facade resolves relative
//     paths against the session working directory before calling down.
//   - Translate transport errors into the sentinel kinds of this package.
//   - Be safe for concurrent use.
type Backend interface {
	// Name returns the adaptor name (e.g. "file", "sftp").
	Name() string

	// Rename moves an existing path to a non-existing target on the same
	// back-end.
	Rename(ctx context.Context, source, target fspath.Path) error

	// CreateDirectory creates a single directory. The parent must exist.
	CreateDirectory(ctx context.Context, dir fspath.Path) error

	// CreateFile creates a new empty file. The parent must exist.
	CreateFile(ctx context.Context, file fspath.Path) error

	// CreateSymbolicLink creates a symbolic link pointing at target
	// (optional operation).
	CreateSymbolicLink(ctx context.Context, link, target fspath.Path) error

	// DeleteFile removes a file. Only called on existing non-directories.
	DeleteFile(ctx context.Context, file fspath.Path) error

	// DeleteDirectory removes an empty directory.
	DeleteDirectory(ctx context.Context, dir fspath.Path) error

	// Exists reports whether the path exists.
	Exists(ctx context.Context, path fspath.Path) (bool, error)

	// ListDirectory returns the direct entries of a directory, excluding
	// "." and "..".
	ListDirectory(ctx context.Context, dir fspath.Path) ([]PathAttributes, error)

	// ReadFromFile opens a file for streaming reads.
	ReadFromFile(ctx context.Context, file fspath.Path) (io.ReadCloser, error)

	// WriteToFile opens a file for streaming writes, truncating any
	// existing content. A negative size means the total length is unknown.
	WriteToFile(ctx context.Context, file fspath.Path, size int64) (io.WriteCloser, error)

	// AppendToFile opens an existing file for appending (optional
	// operation).
	AppendToFile(ctx context.Context, file fspath.Path) (io.WriteCloser, error)

	// GetAttributes stats a single path.
	GetAttributes(ctx context.Context, path fspath.Path) (PathAttributes, error)

	// ReadSymbolicLink returns the target of a link (optional operation).
	ReadSymbolicLink(ctx context.Context, link fspath.Path) (fspath.Path, error)

	// SetPosixFilePermissions updates the permission bits of a path
	// (optional operation).
	SetPosixFilePermissions(ctx context.Context, path fspath.Path, permissions Permissions) error

	// IsOpen reports whether the underlying transport is usable.
	IsOpen(ctx context.Context) (bool, error)

	// Close releases the transport.
	Close() error
}

// Optional back-end capability interfaces, detected via type assertions.

// FileCopier is implemented by back-ends that can copy a file natively,
// bypassing the generic stream pipeline (e.g. server-side object copy).
// handled=false means the back-end declines and the generic path runs.
type FileCopier interface {
	CopyFile(ctx context.Context, source fspath.Path, destination *FileSystem, destPath fspath.Path) (handled bool, err error)
}

// SymlinkCopier is implemented by back-ends that can copy a symbolic link
// natively.
type SymlinkCopier interface {
	CopyLink(ctx context.Context, source fspath.Path, destination *FileSystem, destPath fspath.Path) (handled bool, err error)
}
