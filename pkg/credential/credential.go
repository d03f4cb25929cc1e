// Package credential defines the credential variants accepted by adaptors.
//
// Credentials are plain in-memory values handed to adaptor constructors;
// nothing here persists or encrypts them.
package credential

// Credential is implemented by all credential variants.
type Credential interface {
	// Username returns the account name this credential applies to, or ""
	// when not applicable.
	Username() string
}

// Default selects whatever ambient mechanism the back-end has: the current
// user for local operations, the SSH agent and ~/.ssh configuration for SSH
// transports, the SDK default chain for object stores.
type Default struct {
	User string
}

func (c Default) Username() string { return c.User }

// Password is a username/password or username/passphrase pair.
type Password struct {
	User     string
	Password []byte
}

func (c Password) Username() string { return c.User }

// Certificate points at a private key or certificate file, with an optional
// passphrase.
type Certificate struct {
	User       string
	File       string
	Passphrase []byte
}

func (c Certificate) Username() string { return c.User }
