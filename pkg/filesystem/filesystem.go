// Package filesystem implements the common filesystem facade shared by all
// storage back-ends: path resolution, generic operations built on back-end
// primitives, and the asynchronous copy engine.
package filesystem

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/3leaps/gridlink/pkg/credential"
	"github.com/3leaps/gridlink/pkg/fspath"
)

// DefaultBufferSize is the block size used by the generic stream copy.
const DefaultBufferSize = 64 * 1024

// FileSystem is the uniform front for one back-end connection. All paths
// passed to its methods may be relative; they are resolved against the
// session working directory and normalized before reaching the back-end.
//
// A FileSystem owns a single copy worker. Copies submitted to the same
// FileSystem are strictly serialized; copies on different FileSystem
// instances proceed independently.
type FileSystem struct {
	id       string
	location string
	cred     credential.Credential
	props    map[string]string

	backend    Backend
	bufferSize int
	log        *zap.Logger

	mu         sync.Mutex
	workDir    fspath.Path
	closed     bool
	nextCopyID int64
	pending    map[string]*pendingCopy

	queue  []*copyTask
	more   *sync.Cond
	worker sync.WaitGroup
}

// Option configures a FileSystem.
type Option func(*FileSystem)

// WithLogger sets the structured logger. Defaults to a nop logger.
func WithLogger(log *zap.Logger) Option {
	return func(fs *FileSystem) { fs.log = log }
}

// WithBufferSize overrides the stream copy block size.
func WithBufferSize(size int) Option {
	return func(fs *FileSystem) {
		if size > 0 {
			fs.bufferSize = size
		}
	}
}

// WithProperties attaches the adaptor property map for later inspection.
func WithProperties(props map[string]string) Option {
	return func(fs *FileSystem) { fs.props = props }
}

// New wraps a back-end in a FileSystem facade. workDir must be the absolute
// session working directory on the back-end.
func New(backend Backend, location string, cred credential.Credential, workDir fspath.Path, opts ...Option) (*FileSystem, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend is required")
	}
	if !workDir.IsAbsolute() {
		return nil, &Error{Op: "New", Adaptor: backend.Name(), Path: workDir.String(), Err: ErrInvalidPath}
	}

	fs := &FileSystem{
		id:         uuid.New().String(),
		location:   location,
		cred:       cred,
		backend:    backend,
		bufferSize: DefaultBufferSize,
		log:        zap.NewNop(),
		workDir:    workDir.Normalize(),
		pending:    make(map[string]*pendingCopy),
	}
	for _, opt := range opts {
		opt(fs)
	}
	fs.more = sync.NewCond(&fs.mu)

	fs.worker.Add(1)
	go fs.copyWorker()

	return fs, nil
}

// AdaptorName returns the back-end name.
func (fs *FileSystem) AdaptorName() string {
	return fs.backend.Name()
}

// BackendOf exposes the back-end of a filesystem. Sibling back-ends use it
// to probe for native copy capabilities.
func BackendOf(fs *FileSystem) Backend {
	return fs.backend
}

// Location returns the location string this filesystem was created for.
func (fs *FileSystem) Location() string {
	return fs.location
}

// Credential returns the credential this filesystem was created with.
func (fs *FileSystem) Credential() credential.Credential {
	return fs.cred
}

// Properties returns the adaptor properties this filesystem was created with.
func (fs *FileSystem) Properties() map[string]string {
	return fs.props
}

// PathSeparator returns the separator used by this back-end.
func (fs *FileSystem) PathSeparator() string {
	return string(fs.workDir.Separator())
}

// WorkingDirectory returns the current session working directory.
func (fs *FileSystem) WorkingDirectory() fspath.Path {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.workDir
}

// SetWorkingDirectory changes the session working directory. The target must
// exist and be a directory.
func (fs *FileSystem) SetWorkingDirectory(ctx context.Context, dir fspath.Path) error {
	abs := fs.ToAbsolutePath(dir)

	if err := fs.assertDirectoryExists(ctx, abs); err != nil {
		return err
	}

	fs.mu.Lock()
	fs.workDir = abs
	fs.mu.Unlock()

	fs.log.Debug("working directory changed", zap.String("adaptor", fs.AdaptorName()), zap.Stringer("dir", abs))
	return nil
}

// ToAbsolutePath resolves a (possibly relative) path against the session
// working directory and normalizes it.
func (fs *FileSystem) ToAbsolutePath(path fspath.Path) fspath.Path {
	if path.IsAbsolute() {
		return path.Normalize()
	}
	fs.mu.Lock()
	wd := fs.workDir
	fs.mu.Unlock()
	return wd.Resolve(path).Normalize()
}

// IsOpen reports whether the underlying transport is usable.
func (fs *FileSystem) IsOpen(ctx context.Context) (bool, error) {
	fs.mu.Lock()
	closed := fs.closed
	fs.mu.Unlock()
	if closed {
		return false, nil
	}
	return fs.backend.IsOpen(ctx)
}

// Close shuts down the copy worker and releases the transport. Copies
// already queued still run to completion before the transport is released.
func (fs *FileSystem) Close() error {
	fs.mu.Lock()
	if fs.closed {
		fs.mu.Unlock()
		return nil
	}
	fs.closed = true
	fs.more.Broadcast()
	fs.mu.Unlock()

	fs.worker.Wait()
	return fs.backend.Close()
}

// Exists reports whether the path exists.
func (fs *FileSystem) Exists(ctx context.Context, path fspath.Path) (bool, error) {
	if err := fs.assertIsOpen(); err != nil {
		return false, err
	}
	return fs.backend.Exists(ctx, fs.ToAbsolutePath(path))
}

// Rename moves source to target on this back-end. Renaming a path onto
// itself is a no-op.
func (fs *FileSystem) Rename(ctx context.Context, source, target fspath.Path) error {
	if err := fs.assertIsOpen(); err != nil {
		return err
	}

	absSource := fs.ToAbsolutePath(source)
	absTarget := fs.ToAbsolutePath(target)

	if absSource.Equal(absTarget) {
		return nil
	}
	if err := fs.assertPathExists(ctx, absSource); err != nil {
		return err
	}
	if err := fs.assertPathNotExists(ctx, absTarget); err != nil {
		return err
	}
	if err := fs.assertParentDirectoryExists(ctx, absTarget); err != nil {
		return err
	}
	return fs.backend.Rename(ctx, absSource, absTarget)
}

// CreateDirectory creates a single directory. The parent must exist.
func (fs *FileSystem) CreateDirectory(ctx context.Context, dir fspath.Path) error {
	if err := fs.assertIsOpen(); err != nil {
		return err
	}
	abs := fs.ToAbsolutePath(dir)
	if err := fs.assertPathNotExists(ctx, abs); err != nil {
		return err
	}
	if err := fs.assertParentDirectoryExists(ctx, abs); err != nil {
		return err
	}
	return fs.backend.CreateDirectory(ctx, abs)
}

// CreateDirectories creates a directory and any missing parents. Parents
// that already exist are left untouched, so the operation is idempotent.
func (fs *FileSystem) CreateDirectories(ctx context.Context, dir fspath.Path) error {
	if err := fs.assertIsOpen(); err != nil {
		return err
	}

	abs := fs.ToAbsolutePath(dir)

	for i := 1; i <= abs.NameCount(); i++ {
		partial := fspath.FromComponents(true, abs.Components()[:i]...)

		exists, err := fs.backend.Exists(ctx, partial)
		if err != nil {
			return err
		}
		if exists {
			attr, err := fs.backend.GetAttributes(ctx, partial)
			if err != nil {
				return err
			}
			if !attr.Directory {
				return fs.newPathError("CreateDirectories", partial, ErrInvalidPath)
			}
			continue
		}
		if err := fs.backend.CreateDirectory(ctx, partial); err != nil {
			// Another writer may have created it in the meantime.
			if IsPathAlreadyExists(err) {
				continue
			}
			return err
		}
	}
	return nil
}

// CreateFile creates a new empty file. The parent must exist.
func (fs *FileSystem) CreateFile(ctx context.Context, file fspath.Path) error {
	if err := fs.assertIsOpen(); err != nil {
		return err
	}
	abs := fs.ToAbsolutePath(file)
	if err := fs.assertPathNotExists(ctx, abs); err != nil {
		return err
	}
	if err := fs.assertParentDirectoryExists(ctx, abs); err != nil {
		return err
	}
	return fs.backend.CreateFile(ctx, abs)
}

// CreateSymbolicLink creates a symbolic link pointing at target (optional
// operation).
func (fs *FileSystem) CreateSymbolicLink(ctx context.Context, link, target fspath.Path) error {
	if err := fs.assertIsOpen(); err != nil {
		return err
	}
	abs := fs.ToAbsolutePath(link)
	if err := fs.assertPathNotExists(ctx, abs); err != nil {
		return err
	}
	if err := fs.assertParentDirectoryExists(ctx, abs); err != nil {
		return err
	}
	return fs.backend.CreateSymbolicLink(ctx, abs, target)
}

// Delete removes a path. Directories require recursive=true unless empty.
func (fs *FileSystem) Delete(ctx context.Context, path fspath.Path, recursive bool) error {
	if err := fs.assertIsOpen(); err != nil {
		return err
	}
	return fs.delete(ctx, fs.ToAbsolutePath(path), recursive)
}

func (fs *FileSystem) delete(ctx context.Context, abs fspath.Path, recursive bool) error {
	attr, err := fs.backend.GetAttributes(ctx, abs)
	if err != nil {
		return err
	}

	if !attr.Directory {
		return fs.backend.DeleteFile(ctx, abs)
	}

	entries, err := fs.backend.ListDirectory(ctx, abs)
	if err != nil {
		return err
	}

	if len(entries) > 0 {
		if !recursive {
			return fs.newPathError("Delete", abs, ErrDirectoryNotEmpty)
		}
		for _, e := range entries {
			if err := fs.delete(ctx, e.Path, true); err != nil {
				return err
			}
		}
	}
	return fs.backend.DeleteDirectory(ctx, abs)
}

// List returns the entries under dir. With recursive=true the traversal is
// depth-first and the result contains every entry of the subtree.
func (fs *FileSystem) List(ctx context.Context, dir fspath.Path, recursive bool) ([]PathAttributes, error) {
	if err := fs.assertIsOpen(); err != nil {
		return nil, err
	}

	abs := fs.ToAbsolutePath(dir)
	if err := fs.assertDirectoryExists(ctx, abs); err != nil {
		return nil, err
	}

	var out []PathAttributes
	if err := fs.list(ctx, abs, recursive, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (fs *FileSystem) list(ctx context.Context, dir fspath.Path, recursive bool, out *[]PathAttributes) error {
	entries, err := fs.backend.ListDirectory(ctx, dir)
	if err != nil {
		return err
	}

	for _, e := range entries {
		name := e.Path.FileNameString()
		if name == "." || name == ".." {
			continue
		}

		*out = append(*out, e)

		if recursive && e.Directory {
			if err := fs.list(ctx, e.Path, true, out); err != nil {
				return err
			}
		}
	}
	return nil
}

// GetAttributes stats a single path.
func (fs *FileSystem) GetAttributes(ctx context.Context, path fspath.Path) (PathAttributes, error) {
	if err := fs.assertIsOpen(); err != nil {
		return PathAttributes{}, err
	}
	return fs.backend.GetAttributes(ctx, fs.ToAbsolutePath(path))
}

// ReadSymbolicLink returns the target of a link (optional operation).
func (fs *FileSystem) ReadSymbolicLink(ctx context.Context, link fspath.Path) (fspath.Path, error) {
	if err := fs.assertIsOpen(); err != nil {
		return fspath.Path{}, err
	}
	return fs.backend.ReadSymbolicLink(ctx, fs.ToAbsolutePath(link))
}

// SetPosixFilePermissions updates the permission bits of a path (optional
// operation).
func (fs *FileSystem) SetPosixFilePermissions(ctx context.Context, path fspath.Path, permissions Permissions) error {
	if err := fs.assertIsOpen(); err != nil {
		return err
	}
	abs := fs.ToAbsolutePath(path)
	if err := fs.assertPathExists(ctx, abs); err != nil {
		return err
	}
	return fs.backend.SetPosixFilePermissions(ctx, abs, permissions)
}

// ReadFromFile opens a file for streaming reads.
func (fs *FileSystem) ReadFromFile(ctx context.Context, file fspath.Path) (io.ReadCloser, error) {
	if err := fs.assertIsOpen(); err != nil {
		return nil, err
	}
	abs := fs.ToAbsolutePath(file)
	if err := fs.assertFileExists(ctx, abs); err != nil {
		return nil, err
	}
	return fs.backend.ReadFromFile(ctx, abs)
}

// WriteToFile opens a file for streaming writes, truncating existing
// content. size is the expected total length, or negative when unknown.
func (fs *FileSystem) WriteToFile(ctx context.Context, file fspath.Path, size int64) (io.WriteCloser, error) {
	if err := fs.assertIsOpen(); err != nil {
		return nil, err
	}
	abs := fs.ToAbsolutePath(file)
	if err := fs.assertParentDirectoryExists(ctx, abs); err != nil {
		return nil, err
	}
	return fs.backend.WriteToFile(ctx, abs, size)
}

// AppendToFile opens an existing file for appending (optional operation).
func (fs *FileSystem) AppendToFile(ctx context.Context, file fspath.Path) (io.WriteCloser, error) {
	if err := fs.assertIsOpen(); err != nil {
		return nil, err
	}
	abs := fs.ToAbsolutePath(file)
	if err := fs.assertFileExists(ctx, abs); err != nil {
		return nil, err
	}
	return fs.backend.AppendToFile(ctx, abs)
}

// Assertion helpers shared by the generic operations and the copy engine.

func (fs *FileSystem) assertIsOpen() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.closed {
		return &Error{Op: "assertIsOpen", Adaptor: fs.AdaptorName(), Err: ErrNotConnected}
	}
	return nil
}

func (fs *FileSystem) assertPathExists(ctx context.Context, abs fspath.Path) error {
	exists, err := fs.backend.Exists(ctx, abs)
	if err != nil {
		return err
	}
	if !exists {
		return fs.newPathError("assertPathExists", abs, ErrNoSuchPath)
	}
	return nil
}

func (fs *FileSystem) assertPathNotExists(ctx context.Context, abs fspath.Path) error {
	exists, err := fs.backend.Exists(ctx, abs)
	if err != nil {
		return err
	}
	if exists {
		return fs.newPathError("assertPathNotExists", abs, ErrPathAlreadyExists)
	}
	return nil
}

func (fs *FileSystem) assertFileExists(ctx context.Context, abs fspath.Path) error {
	if err := fs.assertPathExists(ctx, abs); err != nil {
		return err
	}
	attr, err := fs.backend.GetAttributes(ctx, abs)
	if err != nil {
		return err
	}
	if attr.Directory {
		return fs.newPathError("assertFileExists", abs, ErrInvalidPath)
	}
	return nil
}

func (fs *FileSystem) assertDirectoryExists(ctx context.Context, abs fspath.Path) error {
	if err := fs.assertPathExists(ctx, abs); err != nil {
		return err
	}
	attr, err := fs.backend.GetAttributes(ctx, abs)
	if err != nil {
		return err
	}
	if !attr.Directory {
		return fs.newPathError("assertDirectoryExists", abs, ErrInvalidPath)
	}
	return nil
}

func (fs *FileSystem) assertParentDirectoryExists(ctx context.Context, abs fspath.Path) error {
	parent := abs.Parent()
	if parent.IsEmpty() && !parent.IsAbsolute() {
		return fs.newPathError("assertParentDirectoryExists", abs, ErrInvalidPath)
	}
	return fs.assertDirectoryExists(ctx, parent)
}

func (fs *FileSystem) newPathError(op string, path fspath.Path, err error) error {
	return &Error{Op: op, Adaptor: fs.AdaptorName(), Path: path.String(), Err: err}
}
