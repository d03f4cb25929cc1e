package fspath

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		absolute bool
		want     []string
	}{
		{name: "absolute", in: "/usr/local/bin", absolute: true, want: []string{"usr", "local", "bin"}},
		{name: "relative", in: "a/b/c", absolute: false, want: []string{"a", "b", "c"}},
		{name: "root", in: "/", absolute: true, want: nil},
		{name: "empty", in: "", absolute: false, want: nil},
		{name: "repeated separators", in: "//a///b", absolute: true, want: []string{"a", "b"}},
		{name: "trailing separator", in: "/a/b/", absolute: true, want: []string{"a", "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.in)
			assert.Equal(t, tt.absolute, p.IsAbsolute())
			assert.Equal(t, len(tt.want), p.NameCount())
			for i, c := range tt.want {
				assert.Equal(t, c, p.Name(i))
			}
		})
	}
}

func TestPath_Resolve(t *testing.T) {
	tests := []struct {
		name  string
		base  string
		other string
		want  string
	}{
		{name: "relative onto absolute", base: "/home/user", other: "work/data", want: "/home/user/work/data"},
		{name: "absolute other wins", base: "/home/user", other: "/tmp", want: "/tmp"},
		{name: "empty other", base: "/home/user", other: "", want: "/home/user"},
		{name: "empty base", base: "", other: "a/b", want: "a/b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := New(tt.base).Resolve(New(tt.other))
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestPath_Relativize(t *testing.T) {
	rel, ok := New("/a/b").Relativize(New("/a/b/c/d"))
	require.True(t, ok)
	assert.Equal(t, "c/d", rel.String())

	_, ok = New("/a/b").Relativize(New("/x/y"))
	assert.False(t, ok)

	_, ok = New("/a/b").Relativize(New("a/b/c"))
	assert.False(t, ok, "mixed absolute and relative")

	rel, ok = New("/a/b").Relativize(New("/a/b"))
	require.True(t, ok)
	assert.True(t, rel.IsEmpty())
}

func TestPath_Normalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "dot removed", in: "/a/./b", want: "/a/b"},
		{name: "dotdot folds", in: "/a/b/../c", want: "/a/c"},
		{name: "dotdot at absolute root dropped", in: "/../a", want: "/a"},
		{name: "dotdot kept at relative head", in: "../../a", want: "../../a"},
		{name: "mixed", in: "a/./b/../c", want: "a/c"},
		{name: "already normal", in: "/a/b/c", want: "/a/b/c"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, New(tt.in).Normalize().String())
		})
	}
}

func TestPath_ParentAndFileName(t *testing.T) {
	p := New("/a/b/c")
	assert.Equal(t, "/a/b", p.Parent().String())
	assert.Equal(t, "c", p.FileNameString())
	assert.Equal(t, "c", p.FileName().String())

	root := New("/")
	assert.Equal(t, "", root.Parent().String())
	assert.Equal(t, "", root.FileNameString())
}

func TestPath_Equal(t *testing.T) {
	assert.True(t, New("/a/b").Equal(New("/a/b")))
	assert.True(t, New("/a//b/").Equal(New("/a/b")))
	assert.False(t, New("/a/b").Equal(New("a/b")))
	assert.False(t, New("/a/b").Equal(New("/a/c")))
	assert.False(t, New("/a/b").Equal(NewWithSeparator("/a/b", '\\')))
}

func TestPath_StartsEndsWith(t *testing.T) {
	p := New("/a/b/c")
	assert.True(t, p.StartsWith(New("/a/b")))
	assert.False(t, p.StartsWith(New("b/c")))
	assert.True(t, p.EndsWith(New("b/c")))
	assert.False(t, p.EndsWith(New("a/c")))
}
