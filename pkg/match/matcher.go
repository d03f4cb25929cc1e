// Package match filters filesystem listings with doublestar glob patterns.
//
// A Matcher is configured with include and exclude patterns: an entry must
// match at least one include and no exclude. Paths are matched in their
// slash-separated relative form.
package match

import (
	"errors"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/3leaps/gridlink/pkg/filesystem"
	"github.com/3leaps/gridlink/pkg/fspath"
)

// Matcher evaluates patterns against relative paths. Safe for concurrent
// use after creation.
type Matcher struct {
	includes      []string
	excludes      []string
	includeHidden bool
}

// Config configures a Matcher.
type Config struct {
	// Includes are glob patterns an entry must match (at least one).
	// Empty means match everything.
	Includes []string

	// Excludes are glob patterns an entry must not match (any).
	Excludes []string

	// IncludeHidden also matches entries whose name starts with '.'.
	IncludeHidden bool
}

// ErrInvalidPattern is returned when a pattern cannot be compiled.
var ErrInvalidPattern = errors.New("invalid glob pattern")

// PatternError wraps pattern-related errors with the offending pattern.
type PatternError struct {
	Pattern string
	Err     error
}

func (e *PatternError) Error() string {
	return "pattern " + e.Pattern + ": " + e.Err.Error()
}

func (e *PatternError) Unwrap() error {
	return e.Err
}

// New validates the patterns and builds a Matcher.
func New(cfg Config) (*Matcher, error) {
	for _, p := range append(append([]string{}, cfg.Includes...), cfg.Excludes...) {
		if !doublestar.ValidatePattern(p) {
			return nil, &PatternError{Pattern: p, Err: ErrInvalidPattern}
		}
	}
	return &Matcher{
		includes:      append([]string{}, cfg.Includes...),
		excludes:      append([]string{}, cfg.Excludes...),
		includeHidden: cfg.IncludeHidden,
	}, nil
}

// Match reports whether a slash-separated relative path passes the filter.
func (m *Matcher) Match(rel string) bool {
	if !m.includeHidden && hasHiddenSegment(rel) {
		return false
	}

	if len(m.includes) > 0 {
		matched := false
		for _, p := range m.includes {
			if ok, _ := doublestar.Match(p, rel); ok {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	for _, p := range m.excludes {
		if ok, _ := doublestar.Match(p, rel); ok {
			return false
		}
	}
	return true
}

func hasHiddenSegment(rel string) bool {
	for _, seg := range strings.Split(rel, "/") {
		if strings.HasPrefix(seg, ".") && seg != "." && seg != ".." {
			return true
		}
	}
	return false
}

// Filter keeps the attribute entries whose path, relativized against root,
// passes the filter. Entries outside root are dropped.
func (m *Matcher) Filter(root fspath.Path, entries []filesystem.PathAttributes) []filesystem.PathAttributes {
	out := make([]filesystem.PathAttributes, 0, len(entries))
	for _, e := range entries {
		rel, ok := root.Relativize(e.Path)
		if !ok {
			continue
		}
		if m.Match(rel.String()) {
			out = append(out, e)
		}
	}
	return out
}
