package filesystem

import "io/fs"

// Permissions is a POSIX permission bit set.
type Permissions uint16

const (
	OwnerRead     Permissions = 0o400
	OwnerWrite    Permissions = 0o200
	OwnerExecute  Permissions = 0o100
	GroupRead     Permissions = 0o040
	GroupWrite    Permissions = 0o020
	GroupExecute  Permissions = 0o010
	OthersRead    Permissions = 0o004
	OthersWrite   Permissions = 0o002
	OthersExecute Permissions = 0o001
)

// PermissionsFromMode extracts the POSIX permission bits from a file mode.
func PermissionsFromMode(mode fs.FileMode) Permissions {
	return Permissions(mode.Perm())
}

// Mode converts the permission bits back to a file mode.
func (p Permissions) Mode() fs.FileMode {
	return fs.FileMode(p) & fs.ModePerm
}

// Contains reports whether all bits in perm are set.
func (p Permissions) Contains(perm Permissions) bool {
	return p&perm == perm
}

// With returns the permissions with perm added.
func (p Permissions) With(perm Permissions) Permissions {
	return p | perm
}

// Without returns the permissions with perm removed.
func (p Permissions) Without(perm Permissions) Permissions {
	return p &^ perm
}

// String renders the bits in "rwxr-x---" form.
func (p Permissions) String() string {
	const symbols = "rwxrwxrwx"
	buf := make([]byte, 9)
	for i := 0; i < 9; i++ {
		if p&(1<<uint(8-i)) != 0 {
			buf[i] = symbols[i]
		} else {
			buf[i] = '-'
		}
	}
	return string(buf)
}
