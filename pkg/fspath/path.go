// Package fspath provides an immutable, separator-aware path value used by
// all filesystem and scheduler back-ends.
//
// A Path is an ordered sequence of name components plus an absolute flag.
// Back-ends that use a non-slash separator (or none at all) can still share
// the same structural representation.
package fspath

import (
	"strings"
)

// DefaultSeparator is used when no explicit separator is given.
const DefaultSeparator = '/'

// Path is an immutable pathname. The zero value is the empty relative path.
type Path struct {
	separator  rune
	components []string
	absolute   bool
}

// New parses a path string using the default separator.
func New(path string) Path {
	return NewWithSeparator(path, DefaultSeparator)
}

// NewWithSeparator parses a path string using the given separator.
// Empty components produced by repeated separators are dropped.
func NewWithSeparator(path string, separator rune) Path {
	sep := string(separator)
	absolute := strings.HasPrefix(path, sep)

	var components []string
	for _, c := range strings.Split(path, sep) {
		if c != "" {
			components = append(components, c)
		}
	}
	return Path{separator: separator, components: components, absolute: absolute}
}

// FromComponents builds a path from individual name components.
func FromComponents(absolute bool, components ...string) Path {
	cs := make([]string, len(components))
	copy(cs, components)
	return Path{separator: DefaultSeparator, components: cs, absolute: absolute}
}

func (p Path) sep() rune {
	if p.separator == 0 {
		return DefaultSeparator
	}
	return p.separator
}

// Separator returns the separator character of this path.
func (p Path) Separator() rune {
	return p.sep()
}

// IsAbsolute reports whether this path is absolute.
func (p Path) IsAbsolute() bool {
	return p.absolute
}

// IsEmpty reports whether this path has no components and is relative.
func (p Path) IsEmpty() bool {
	return len(p.components) == 0 && !p.absolute
}

// NameCount returns the number of name components.
func (p Path) NameCount() int {
	return len(p.components)
}

// Name returns the component at index i.
func (p Path) Name(i int) string {
	return p.components[i]
}

// Components returns a copy of the name components.
func (p Path) Components() []string {
	out := make([]string, len(p.components))
	copy(out, p.components)
	return out
}

// FileName returns the last component as a relative single-element path, or
// the empty path when there are no components.
func (p Path) FileName() Path {
	if len(p.components) == 0 {
		return Path{separator: p.sep()}
	}
	return Path{separator: p.sep(), components: []string{p.components[len(p.components)-1]}}
}

// FileNameString returns the last component, or "" when there is none.
func (p Path) FileNameString() string {
	if len(p.components) == 0 {
		return ""
	}
	return p.components[len(p.components)-1]
}

// Parent returns the parent path. The parent of a single-component absolute
// path is the root; the parent of the root or of an empty path is the empty
// path.
func (p Path) Parent() Path {
	if len(p.components) == 0 {
		return Path{separator: p.sep()}
	}
	cs := make([]string, len(p.components)-1)
	copy(cs, p.components)
	return Path{separator: p.sep(), components: cs, absolute: p.absolute}
}

// Resolve appends other to this path. If other is absolute or this path is
// empty, other is returned unchanged. The separator of this path wins.
func (p Path) Resolve(other Path) Path {
	if other.absolute {
		return other
	}
	if len(other.components) == 0 {
		return p
	}
	if p.IsEmpty() {
		return other
	}
	cs := make([]string, 0, len(p.components)+len(other.components))
	cs = append(cs, p.components...)
	cs = append(cs, other.components...)
	return Path{separator: p.sep(), components: cs, absolute: p.absolute}
}

// ResolveName appends a single name component.
func (p Path) ResolveName(name string) Path {
	if name == "" {
		return p
	}
	return p.Resolve(Path{separator: p.sep(), components: []string{name}})
}

// ResolveSibling resolves other against the parent of this path.
func (p Path) ResolveSibling(other Path) Path {
	return p.Parent().Resolve(other)
}

// Relativize returns the relative path from this path to other. Both paths
// must either be absolute or relative, and this path must be a prefix of
// other; otherwise ok is false.
func (p Path) Relativize(other Path) (Path, bool) {
	if p.absolute != other.absolute {
		return Path{}, false
	}
	if len(p.components) > len(other.components) {
		return Path{}, false
	}
	for i, c := range p.components {
		if other.components[i] != c {
			return Path{}, false
		}
	}
	cs := make([]string, len(other.components)-len(p.components))
	copy(cs, other.components[len(p.components):])
	return Path{separator: p.sep(), components: cs}, true
}

// StartsWith reports whether this path has other as a component-wise prefix
// with matching absolute flags.
func (p Path) StartsWith(other Path) bool {
	_, ok := other.Relativize(p)
	return ok
}

// EndsWith reports whether the components of this path end with those of
// other.
func (p Path) EndsWith(other Path) bool {
	if len(other.components) > len(p.components) {
		return false
	}
	off := len(p.components) - len(other.components)
	for i, c := range other.components {
		if p.components[off+i] != c {
			return false
		}
	}
	return true
}

// Normalize removes "." components and folds ".." against preceding names.
// In the result, ".." occurs only at the head of a relative path; ".."
// applied at the root of an absolute path is dropped.
func (p Path) Normalize() Path {
	out := make([]string, 0, len(p.components))

	for _, c := range p.components {
		switch c {
		case ".":
			// skip
		case "..":
			if len(out) > 0 && out[len(out)-1] != ".." {
				out = out[:len(out)-1]
			} else if !p.absolute {
				out = append(out, "..")
			}
			// ".." at the root of an absolute path has no effect
		default:
			out = append(out, c)
		}
	}
	return Path{separator: p.sep(), components: out, absolute: p.absolute}
}

// Subpath returns the path consisting of components [begin, end).
func (p Path) Subpath(begin, end int) Path {
	cs := make([]string, end-begin)
	copy(cs, p.components[begin:end])
	return Path{separator: p.sep(), components: cs}
}

// Equal reports structural equality: same absolute flag, same separator and
// same components.
func (p Path) Equal(other Path) bool {
	if p.absolute != other.absolute || p.sep() != other.sep() {
		return false
	}
	if len(p.components) != len(other.components) {
		return false
	}
	for i, c := range p.components {
		if other.components[i] != c {
			return false
		}
	}
	return true
}

// String renders the path using its separator.
func (p Path) String() string {
	sep := string(p.sep())
	s := strings.Join(p.components, sep)
	if p.absolute {
		return sep + s
	}
	return s
}
