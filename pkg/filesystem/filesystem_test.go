package filesystem_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/gridlink/pkg/credential"
	"github.com/3leaps/gridlink/pkg/filesystem"
	"github.com/3leaps/gridlink/pkg/filesystem/local"
	"github.com/3leaps/gridlink/pkg/fspath"
)

func newLocalFS(t *testing.T) (*filesystem.FileSystem, string) {
	t.Helper()
	root := t.TempDir()
	fs, err := local.NewAt(credential.Default{}, root)
	require.NoError(t, err)
	t.Cleanup(func() { _ = fs.Close() })
	return fs, root
}

func writeFile(t *testing.T, path string, content []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, content, 0o644))
}

func TestFileSystem_ExistsAndAttributes(t *testing.T) {
	ctx := context.Background()
	fs, root := newLocalFS(t)

	writeFile(t, filepath.Join(root, "a.txt"), []byte("hello"))

	exists, err := fs.Exists(ctx, fspath.New("a.txt"))
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = fs.Exists(ctx, fspath.New("missing.txt"))
	require.NoError(t, err)
	assert.False(t, exists)

	attr, err := fs.GetAttributes(ctx, fspath.New("a.txt"))
	require.NoError(t, err)
	assert.True(t, attr.Regular)
	assert.False(t, attr.Directory)
	assert.EqualValues(t, 5, attr.Size)
	assert.NotZero(t, attr.LastModified)

	_, err = fs.GetAttributes(ctx, fspath.New("missing.txt"))
	assert.True(t, filesystem.IsNoSuchPath(err))
}

func TestFileSystem_CreateDirectoriesIdempotent(t *testing.T) {
	ctx := context.Background()
	fs, _ := newLocalFS(t)

	dir := fspath.New("a/b/c")

	require.NoError(t, fs.CreateDirectories(ctx, dir))

	first, err := fs.List(ctx, fspath.New("a"), true)
	require.NoError(t, err)

	// Running it again must change nothing.
	require.NoError(t, fs.CreateDirectories(ctx, dir))

	second, err := fs.List(ctx, fspath.New("a"), true)
	require.NoError(t, err)
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.True(t, first[i].Path.Equal(second[i].Path))
	}
}

func TestFileSystem_ListRecursive(t *testing.T) {
	ctx := context.Background()
	fs, root := newLocalFS(t)

	writeFile(t, filepath.Join(root, "d1", "f1"), []byte("1"))
	writeFile(t, filepath.Join(root, "d1", "d2", "f2"), []byte("22"))
	writeFile(t, filepath.Join(root, "top"), []byte("333"))

	flat, err := fs.List(ctx, fspath.New("."), false)
	require.NoError(t, err)
	assert.Len(t, flat, 2)

	deep, err := fs.List(ctx, fspath.New("."), true)
	require.NoError(t, err)

	var names []string
	for _, e := range deep {
		rel, ok := fs.WorkingDirectory().Relativize(e.Path)
		require.True(t, ok)
		names = append(names, rel.String())
	}
	sort.Strings(names)
	assert.Equal(t, []string{"d1", "d1/d2", "d1/d2/f2", "d1/f1", "top"}, names)
}

func TestFileSystem_DeleteRecursive(t *testing.T) {
	ctx := context.Background()
	fs, root := newLocalFS(t)

	writeFile(t, filepath.Join(root, "d", "sub", "f"), []byte("x"))

	err := fs.Delete(ctx, fspath.New("d"), false)
	assert.True(t, filesystem.IsDirectoryNotEmpty(err))

	require.NoError(t, fs.Delete(ctx, fspath.New("d"), true))

	exists, err := fs.Exists(ctx, fspath.New("d"))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestFileSystem_Rename(t *testing.T) {
	ctx := context.Background()
	fs, root := newLocalFS(t)

	writeFile(t, filepath.Join(root, "old"), []byte("content"))

	require.NoError(t, fs.Rename(ctx, fspath.New("old"), fspath.New("new")))

	data, err := os.ReadFile(filepath.Join(root, "new"))
	require.NoError(t, err)
	assert.Equal(t, "content", string(data))

	// Source must exist.
	err = fs.Rename(ctx, fspath.New("old"), fspath.New("elsewhere"))
	assert.True(t, filesystem.IsNoSuchPath(err))

	// Target must not exist.
	writeFile(t, filepath.Join(root, "other"), []byte("y"))
	err = fs.Rename(ctx, fspath.New("new"), fspath.New("other"))
	assert.True(t, filesystem.IsPathAlreadyExists(err))
}

func TestFileSystem_ReadWriteAppend(t *testing.T) {
	ctx := context.Background()
	fs, _ := newLocalFS(t)

	w, err := fs.WriteToFile(ctx, fspath.New("f.txt"), -1)
	require.NoError(t, err)
	_, err = w.Write([]byte("hello "))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	a, err := fs.AppendToFile(ctx, fspath.New("f.txt"))
	require.NoError(t, err)
	_, err = a.Write([]byte("world"))
	require.NoError(t, err)
	require.NoError(t, a.Close())

	r, err := fs.ReadFromFile(ctx, fspath.New("f.txt"))
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, "hello world", string(data))
}

func TestFileSystem_SetWorkingDirectory(t *testing.T) {
	ctx := context.Background()
	fs, root := newLocalFS(t)

	require.NoError(t, os.MkdirAll(filepath.Join(root, "wd"), 0o755))

	require.NoError(t, fs.SetWorkingDirectory(ctx, fspath.New("wd")))
	assert.Equal(t, "wd", fs.WorkingDirectory().FileNameString())

	err := fs.SetWorkingDirectory(ctx, fspath.New("missing"))
	assert.True(t, filesystem.IsNoSuchPath(err))

	writeFile(t, filepath.Join(root, "wd", "file"), []byte("x"))
	err = fs.SetWorkingDirectory(ctx, fspath.New("file"))
	assert.True(t, filesystem.IsInvalidPath(err))
}

func TestFileSystem_Symlinks(t *testing.T) {
	ctx := context.Background()
	fs, root := newLocalFS(t)

	writeFile(t, filepath.Join(root, "target"), []byte("data"))

	require.NoError(t, fs.CreateSymbolicLink(ctx, fspath.New("link"), fspath.New("target")))

	attr, err := fs.GetAttributes(ctx, fspath.New("link"))
	require.NoError(t, err)
	assert.True(t, attr.SymbolicLink)

	got, err := fs.ReadSymbolicLink(ctx, fspath.New("link"))
	require.NoError(t, err)
	assert.Equal(t, "target", got.String())
}

func TestFileSystem_ClosedOperationsFail(t *testing.T) {
	ctx := context.Background()
	fs, _ := newLocalFS(t)

	require.NoError(t, fs.Close())

	_, err := fs.Exists(ctx, fspath.New("x"))
	assert.True(t, filesystem.IsNotConnected(err))

	open, err := fs.IsOpen(ctx)
	require.NoError(t, err)
	assert.False(t, open)
}
