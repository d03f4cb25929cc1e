// Package local implements the filesystem back-end for the local OS.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/3leaps/gridlink/pkg/credential"
	"github.com/3leaps/gridlink/pkg/filesystem"
	"github.com/3leaps/gridlink/pkg/fspath"
)

// AdaptorName identifies this back-end.
const AdaptorName = "file"

// Backend implements filesystem.Backend on top of the os package. Paths are
// used verbatim; the facade guarantees they are absolute.
type Backend struct {
	closed bool
}

var _ filesystem.Backend = (*Backend)(nil)

// New returns a FileSystem for the local OS rooted at the current working
// directory of the process.
func New(cred credential.Credential, opts ...filesystem.Option) (*filesystem.FileSystem, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolve working directory: %w", err)
	}
	return NewAt(cred, cwd, opts...)
}

// NewAt returns a FileSystem for the local OS with the given session working
// directory.
func NewAt(cred credential.Credential, workDir string, opts ...filesystem.Option) (*filesystem.FileSystem, error) {
	abs, err := filepath.Abs(workDir)
	if err != nil {
		return nil, fmt.Errorf("resolve working directory: %w", err)
	}
	return filesystem.New(&Backend{}, abs, cred, fspath.New(filepath.ToSlash(abs)), opts...)
}

func (b *Backend) Name() string {
	return AdaptorName
}

func (b *Backend) osPath(p fspath.Path) string {
	return filepath.FromSlash(p.String())
}

func (b *Backend) wrap(op string, p fspath.Path, err error) error {
	return &filesystem.Error{Op: op, Adaptor: AdaptorName, Path: p.String(), Err: translate(err)}
}

// translate maps os-level errors onto the common taxonomy.
func translate(err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return filesystem.ErrNoSuchPath
	case errors.Is(err, syscall.ENOTEMPTY):
		// Checked before fs.ErrExist, which ENOTEMPTY also matches.
		return filesystem.ErrDirectoryNotEmpty
	case errors.Is(err, fs.ErrExist):
		return filesystem.ErrPathAlreadyExists
	case errors.Is(err, fs.ErrPermission):
		return filesystem.ErrPermissionDenied
	case errors.Is(err, syscall.ENOSPC), errors.Is(err, syscall.EDQUOT):
		return filesystem.ErrNoSpace
	case errors.Is(err, syscall.ENOTDIR):
		return filesystem.ErrInvalidPath
	default:
		return err
	}
}

func (b *Backend) Rename(ctx context.Context, source, target fspath.Path) error {
	if err := os.Rename(b.osPath(source), b.osPath(target)); err != nil {
		return b.wrap("Rename", source, err)
	}
	return nil
}

func (b *Backend) CreateDirectory(ctx context.Context, dir fspath.Path) error {
	if err := os.Mkdir(b.osPath(dir), 0o755); err != nil {
		return b.wrap("CreateDirectory", dir, err)
	}
	return nil
}

func (b *Backend) CreateFile(ctx context.Context, file fspath.Path) error {
	f, err := os.OpenFile(b.osPath(file), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return b.wrap("CreateFile", file, err)
	}
	return f.Close()
}

func (b *Backend) CreateSymbolicLink(ctx context.Context, link, target fspath.Path) error {
	if err := os.Symlink(target.String(), b.osPath(link)); err != nil {
		return b.wrap("CreateSymbolicLink", link, err)
	}
	return nil
}

func (b *Backend) DeleteFile(ctx context.Context, file fspath.Path) error {
	if err := os.Remove(b.osPath(file)); err != nil {
		return b.wrap("DeleteFile", file, err)
	}
	return nil
}

func (b *Backend) DeleteDirectory(ctx context.Context, dir fspath.Path) error {
	if err := os.Remove(b.osPath(dir)); err != nil {
		return b.wrap("DeleteDirectory", dir, err)
	}
	return nil
}

func (b *Backend) Exists(ctx context.Context, path fspath.Path) (bool, error) {
	_, err := os.Lstat(b.osPath(path))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, b.wrap("Exists", path, err)
}

func (b *Backend) ListDirectory(ctx context.Context, dir fspath.Path) ([]filesystem.PathAttributes, error) {
	entries, err := os.ReadDir(b.osPath(dir))
	if err != nil {
		return nil, b.wrap("ListDirectory", dir, err)
	}

	out := make([]filesystem.PathAttributes, 0, len(entries))
	for _, e := range entries {
		child := dir.ResolveName(e.Name())
		attr, err := b.GetAttributes(ctx, child)
		if err != nil {
			// The entry may have vanished between readdir and stat.
			if filesystem.IsNoSuchPath(err) {
				continue
			}
			return nil, err
		}
		out = append(out, attr)
	}
	return out, nil
}

func (b *Backend) ReadFromFile(ctx context.Context, file fspath.Path) (io.ReadCloser, error) {
	f, err := os.Open(b.osPath(file))
	if err != nil {
		return nil, b.wrap("ReadFromFile", file, err)
	}
	return f, nil
}

func (b *Backend) WriteToFile(ctx context.Context, file fspath.Path, size int64) (io.WriteCloser, error) {
	f, err := os.OpenFile(b.osPath(file), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, b.wrap("WriteToFile", file, err)
	}
	return f, nil
}

func (b *Backend) AppendToFile(ctx context.Context, file fspath.Path) (io.WriteCloser, error) {
	f, err := os.OpenFile(b.osPath(file), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, b.wrap("AppendToFile", file, err)
	}
	return f, nil
}

func (b *Backend) GetAttributes(ctx context.Context, path fspath.Path) (filesystem.PathAttributes, error) {
	info, err := os.Lstat(b.osPath(path))
	if err != nil {
		return filesystem.PathAttributes{}, b.wrap("GetAttributes", path, err)
	}
	return toAttributes(path, info), nil
}

func toAttributes(path fspath.Path, info fs.FileInfo) filesystem.PathAttributes {
	mode := info.Mode()

	attr := filesystem.PathAttributes{
		Path:         path,
		Directory:    mode.IsDir(),
		Regular:      mode.IsRegular(),
		SymbolicLink: mode&fs.ModeSymlink != 0,
		Hidden:       strings.HasPrefix(path.FileNameString(), "."),
		Size:         info.Size(),
		LastModified: info.ModTime().UnixMilli(),
		Permissions:  filesystem.PermissionsFromMode(mode),
	}
	attr.Other = !attr.Directory && !attr.Regular && !attr.SymbolicLink

	attr.Readable = attr.Permissions.Contains(filesystem.OwnerRead)
	attr.Writable = attr.Permissions.Contains(filesystem.OwnerWrite)
	attr.Executable = attr.Permissions.Contains(filesystem.OwnerExecute)

	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		attr.LastAccessTime = st.Atim.Sec*1000 + st.Atim.Nsec/1e6
		attr.CreationTime = st.Ctim.Sec*1000 + st.Ctim.Nsec/1e6

		if u, err := user.LookupId(strconv.FormatUint(uint64(st.Uid), 10)); err == nil {
			attr.Owner = u.Username
		} else {
			attr.Owner = strconv.FormatUint(uint64(st.Uid), 10)
		}
		if g, err := user.LookupGroupId(strconv.FormatUint(uint64(st.Gid), 10)); err == nil {
			attr.Group = g.Name
		} else {
			attr.Group = strconv.FormatUint(uint64(st.Gid), 10)
		}
	}
	return attr
}

func (b *Backend) ReadSymbolicLink(ctx context.Context, link fspath.Path) (fspath.Path, error) {
	target, err := os.Readlink(b.osPath(link))
	if err != nil {
		return fspath.Path{}, b.wrap("ReadSymbolicLink", link, err)
	}
	return fspath.New(filepath.ToSlash(target)), nil
}

func (b *Backend) SetPosixFilePermissions(ctx context.Context, path fspath.Path, permissions filesystem.Permissions) error {
	if err := os.Chmod(b.osPath(path), permissions.Mode()); err != nil {
		return b.wrap("SetPosixFilePermissions", path, err)
	}
	return nil
}

func (b *Backend) IsOpen(ctx context.Context) (bool, error) {
	return !b.closed, nil
}

func (b *Backend) Close() error {
	b.closed = true
	return nil
}
