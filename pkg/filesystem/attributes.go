package filesystem

import (
	"fmt"

	"github.com/3leaps/gridlink/pkg/fspath"
)

// PathAttributes describes a single filesystem entry as observed by a
// back-end. Timestamps are milliseconds since the epoch, 0 when the back-end
// does not report them.
type PathAttributes struct {
	Path fspath.Path

	Directory    bool
	Regular      bool
	SymbolicLink bool
	Other        bool
	Hidden       bool

	Size int64

	CreationTime   int64
	LastAccessTime int64
	LastModified   int64

	Owner string
	Group string

	Permissions Permissions

	Executable bool
	Readable   bool
	Writable   bool
}

func (a PathAttributes) String() string {
	kind := "other"
	switch {
	case a.Directory:
		kind = "dir"
	case a.SymbolicLink:
		kind = "link"
	case a.Regular:
		kind = "file"
	}
	return fmt.Sprintf("%s %s size=%d perms=%s", kind, a.Path, a.Size, a.Permissions)
}
