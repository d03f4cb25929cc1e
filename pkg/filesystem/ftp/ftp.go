// Package ftp implements the filesystem back-end for FTP servers.
//
// FTP has no symbolic link creation, no permission updates and no append in
// some servers; those surface as unsupported-operation errors.
package ftp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/3leaps/gridlink/pkg/credential"
	"github.com/3leaps/gridlink/pkg/filesystem"
	"github.com/3leaps/gridlink/pkg/fspath"
)

// AdaptorName identifies this back-end.
const AdaptorName = "ftp"

// DefaultPort is used when the location omits one.
const DefaultPort = "21"

// Config tunes the FTP connection.
type Config struct {
	// ConnectTimeout bounds connection setup. Defaults to 10s.
	ConnectTimeout time.Duration
}

// Backend implements filesystem.Backend over one FTP control connection.
type Backend struct {
	conn *ftp.ServerConn
}

var _ filesystem.Backend = (*Backend)(nil)

// New dials location ("host" or "host:port"), logs in, and returns a
// FileSystem rooted at the server's initial directory.
func New(ctx context.Context, location string, cred credential.Credential, cfg Config, opts ...filesystem.Option) (*filesystem.FileSystem, error) {
	if location == "" {
		return nil, fmt.Errorf("location is required")
	}

	addr := location
	if _, _, err := net.SplitHostPort(location); err != nil {
		addr = net.JoinHostPort(location, DefaultPort)
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	conn, err := ftp.Dial(addr, ftp.DialWithContext(ctx), ftp.DialWithTimeout(timeout))
	if err != nil {
		return nil, &filesystem.Error{Op: "New", Adaptor: AdaptorName, Err: fmt.Errorf("%w: %v", filesystem.ErrNotConnected, err)}
	}

	user, password := "anonymous", "anonymous"
	switch c := cred.(type) {
	case credential.Password:
		user = c.User
		password = string(c.Password)
	case credential.Default:
		if c.User != "" {
			user = c.User
		}
	}

	if err := conn.Login(user, password); err != nil {
		_ = conn.Quit()
		return nil, &filesystem.Error{Op: "New", Adaptor: AdaptorName, Err: translate(err)}
	}

	cwd, err := conn.CurrentDir()
	if err != nil {
		_ = conn.Quit()
		return nil, &filesystem.Error{Op: "New", Adaptor: AdaptorName, Err: translate(err)}
	}

	return filesystem.New(&Backend{conn: conn}, location, cred, fspath.New(cwd), opts...)
}

func (b *Backend) Name() string {
	return AdaptorName
}

func (b *Backend) wrap(op string, p fspath.Path, err error) error {
	return &filesystem.Error{Op: op, Adaptor: AdaptorName, Path: p.String(), Err: translate(err)}
}

// translate maps FTP reply codes onto the common taxonomy. 550 covers both
// missing paths and denied access; the reply text disambiguates when it can.
func translate(err error) error {
	var proto *textproto.Error
	if !errors.As(err, &proto) {
		return err
	}

	switch proto.Code {
	case 550: // requested action not taken
		msg := strings.ToLower(proto.Msg)
		if strings.Contains(msg, "denied") || strings.Contains(msg, "permission") {
			return filesystem.ErrPermissionDenied
		}
		if strings.Contains(msg, "exists") {
			return filesystem.ErrPathAlreadyExists
		}
		return filesystem.ErrNoSuchPath
	case 530: // not logged in
		return filesystem.ErrPermissionDenied
	case 452, 552: // insufficient or exceeded storage
		return filesystem.ErrNoSpace
	case 421: // service not available
		return filesystem.ErrNotConnected
	case 502, 504: // command not implemented
		return filesystem.ErrUnsupportedOperation
	default:
		return err
	}
}

func (b *Backend) Rename(ctx context.Context, source, target fspath.Path) error {
	if err := b.conn.Rename(source.String(), target.String()); err != nil {
		return b.wrap("Rename", source, err)
	}
	return nil
}

func (b *Backend) CreateDirectory(ctx context.Context, dir fspath.Path) error {
	if err := b.conn.MakeDir(dir.String()); err != nil {
		return b.wrap("CreateDirectory", dir, err)
	}
	return nil
}

func (b *Backend) CreateFile(ctx context.Context, file fspath.Path) error {
	if err := b.conn.Stor(file.String(), strings.NewReader("")); err != nil {
		return b.wrap("CreateFile", file, err)
	}
	return nil
}

func (b *Backend) CreateSymbolicLink(ctx context.Context, link, target fspath.Path) error {
	return b.wrap("CreateSymbolicLink", link, filesystem.ErrUnsupportedOperation)
}

func (b *Backend) DeleteFile(ctx context.Context, file fspath.Path) error {
	if err := b.conn.Delete(file.String()); err != nil {
		return b.wrap("DeleteFile", file, err)
	}
	return nil
}

func (b *Backend) DeleteDirectory(ctx context.Context, dir fspath.Path) error {
	if err := b.conn.RemoveDir(dir.String()); err != nil {
		return b.wrap("DeleteDirectory", dir, err)
	}
	return nil
}

func (b *Backend) Exists(ctx context.Context, path fspath.Path) (bool, error) {
	_, err := b.entry(path)
	if err == nil {
		return true, nil
	}
	if filesystem.IsNoSuchPath(err) {
		return false, nil
	}
	return false, err
}

// entry stats one path by listing its parent; FTP has no portable stat.
func (b *Backend) entry(path fspath.Path) (*ftp.Entry, error) {
	name := path.FileNameString()
	if name == "" {
		// The root always exists and is a directory.
		return &ftp.Entry{Name: "/", Type: ftp.EntryTypeFolder}, nil
	}

	entries, err := b.conn.List(path.Parent().String())
	if err != nil {
		return nil, b.wrap("GetAttributes", path, err)
	}
	for _, e := range entries {
		if e.Name == name {
			return e, nil
		}
	}
	return nil, b.wrap("GetAttributes", path, filesystem.ErrNoSuchPath)
}

func (b *Backend) ListDirectory(ctx context.Context, dir fspath.Path) ([]filesystem.PathAttributes, error) {
	entries, err := b.conn.List(dir.String())
	if err != nil {
		return nil, b.wrap("ListDirectory", dir, err)
	}

	out := make([]filesystem.PathAttributes, 0, len(entries))
	for _, e := range entries {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		out = append(out, toAttributes(dir.ResolveName(e.Name), e))
	}
	return out, nil
}

func toAttributes(path fspath.Path, e *ftp.Entry) filesystem.PathAttributes {
	attr := filesystem.PathAttributes{
		Path:         path,
		Directory:    e.Type == ftp.EntryTypeFolder,
		Regular:      e.Type == ftp.EntryTypeFile,
		SymbolicLink: e.Type == ftp.EntryTypeLink,
		Hidden:       strings.HasPrefix(e.Name, "."),
		Size:         int64(e.Size),
		LastModified: e.Time.UnixMilli(),
	}
	attr.Other = !attr.Directory && !attr.Regular && !attr.SymbolicLink
	return attr
}

func (b *Backend) ReadFromFile(ctx context.Context, file fspath.Path) (io.ReadCloser, error) {
	resp, err := b.conn.Retr(file.String())
	if err != nil {
		return nil, b.wrap("ReadFromFile", file, err)
	}
	return resp, nil
}

// storWriter adapts the reader-oriented store command to a WriteCloser
// through a pipe. The transfer error surfaces on Close.
type storWriter struct {
	pw   *io.PipeWriter
	done chan error
}

func (w *storWriter) Write(p []byte) (int, error) {
	return w.pw.Write(p)
}

func (w *storWriter) Close() error {
	if err := w.pw.Close(); err != nil {
		return err
	}
	return <-w.done
}

func (b *Backend) storeWriter(file fspath.Path, op string, store func(path string, r io.Reader) error) io.WriteCloser {
	pr, pw := io.Pipe()
	done := make(chan error, 1)

	go func() {
		err := store(file.String(), pr)
		if err != nil {
			err = b.wrap(op, file, err)
		}
		pr.CloseWithError(err)
		done <- err
	}()

	return &storWriter{pw: pw, done: done}
}

func (b *Backend) WriteToFile(ctx context.Context, file fspath.Path, size int64) (io.WriteCloser, error) {
	return b.storeWriter(file, "WriteToFile", b.conn.Stor), nil
}

func (b *Backend) AppendToFile(ctx context.Context, file fspath.Path) (io.WriteCloser, error) {
	return b.storeWriter(file, "AppendToFile", b.conn.Append), nil
}

func (b *Backend) GetAttributes(ctx context.Context, path fspath.Path) (filesystem.PathAttributes, error) {
	e, err := b.entry(path)
	if err != nil {
		return filesystem.PathAttributes{}, err
	}
	return toAttributes(path, e), nil
}

func (b *Backend) ReadSymbolicLink(ctx context.Context, link fspath.Path) (fspath.Path, error) {
	e, err := b.entry(link)
	if err != nil {
		return fspath.Path{}, err
	}
	if e.Type != ftp.EntryTypeLink || e.Target == "" {
		return fspath.Path{}, b.wrap("ReadSymbolicLink", link, filesystem.ErrInvalidPath)
	}
	return fspath.New(e.Target), nil
}

func (b *Backend) SetPosixFilePermissions(ctx context.Context, path fspath.Path, permissions filesystem.Permissions) error {
	return b.wrap("SetPosixFilePermissions", path, filesystem.ErrUnsupportedOperation)
}

func (b *Backend) IsOpen(ctx context.Context) (bool, error) {
	if err := b.conn.NoOp(); err != nil {
		return false, nil
	}
	return true, nil
}

func (b *Backend) Close() error {
	return b.conn.Quit()
}
