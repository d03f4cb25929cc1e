package filesystem

import (
	"errors"
	"fmt"
)

// Sentinel errors for filesystem operations. Back-ends translate their
// transport-level failures into exactly one of these kinds.
var (
	// ErrNoSuchPath indicates the referenced path does not exist.
	ErrNoSuchPath = errors.New("no such path")

	// ErrPathAlreadyExists indicates the target exists and the operation
	// does not allow overwriting it.
	ErrPathAlreadyExists = errors.New("path already exists")

	// ErrInvalidPath indicates the path exists but has the wrong kind,
	// for example a regular file where a directory is required.
	ErrInvalidPath = errors.New("invalid path")

	// ErrDirectoryNotEmpty indicates a non-recursive delete on a populated
	// directory.
	ErrDirectoryNotEmpty = errors.New("directory not empty")

	// ErrPermissionDenied indicates the back-end denied the operation.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrEndOfFile indicates a premature end of stream.
	ErrEndOfFile = errors.New("unexpected end of file")

	// ErrNoSpace indicates the back-end is out of space or quota.
	ErrNoSpace = errors.New("no space left")

	// ErrNotConnected indicates the transport is closed or lost.
	ErrNotConnected = errors.New("not connected")

	// ErrCopyCancelled indicates a copy was aborted by cancellation.
	ErrCopyCancelled = errors.New("copy cancelled")

	// ErrNoSuchCopy indicates the copy identifier is unknown or its
	// terminal status has already been observed.
	ErrNoSuchCopy = errors.New("no such copy")

	// ErrUnsupportedOperation indicates an optional operation the back-end
	// does not provide.
	ErrUnsupportedOperation = errors.New("unsupported operation")
)

// Error wraps a filesystem failure with operation context.
type Error struct {
	// Op is the operation that failed (e.g. "Rename", "ReadFromFile").
	Op string

	// Adaptor is the back-end name (e.g. "sftp").
	Adaptor string

	// Path is the subject path, if applicable.
	Path string

	// Err is the underlying error, usually one of the sentinels above.
	Err error
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s %s: %s: %v", e.Adaptor, e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Adaptor, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsNoSuchPath returns true if the error indicates a missing path.
func IsNoSuchPath(err error) bool {
	return errors.Is(err, ErrNoSuchPath)
}

// IsPathAlreadyExists returns true if the error indicates an existing target.
func IsPathAlreadyExists(err error) bool {
	return errors.Is(err, ErrPathAlreadyExists)
}

// IsInvalidPath returns true if the error indicates a path of the wrong kind.
func IsInvalidPath(err error) bool {
	return errors.Is(err, ErrInvalidPath)
}

// IsDirectoryNotEmpty returns true if the error indicates a populated
// directory where an empty one is required.
func IsDirectoryNotEmpty(err error) bool {
	return errors.Is(err, ErrDirectoryNotEmpty)
}

// IsPermissionDenied returns true if the error indicates denied access.
func IsPermissionDenied(err error) bool {
	return errors.Is(err, ErrPermissionDenied)
}

// IsCopyCancelled returns true if the error indicates a cancelled copy.
func IsCopyCancelled(err error) bool {
	return errors.Is(err, ErrCopyCancelled)
}

// IsNoSuchCopy returns true if the error indicates an unknown copy id.
func IsNoSuchCopy(err error) bool {
	return errors.Is(err, ErrNoSuchCopy)
}

// IsUnsupported returns true if the error indicates an optional operation the
// back-end does not provide.
func IsUnsupported(err error) bool {
	return errors.Is(err, ErrUnsupportedOperation)
}

// IsNotConnected returns true if the error indicates a closed or lost
// transport.
func IsNotConnected(err error) bool {
	return errors.Is(err, ErrNotConnected)
}
