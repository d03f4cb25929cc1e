// Package s3 implements the filesystem back-end for AWS S3 and S3-compatible
// object stores.
//
// Object keys are mapped onto absolute paths; directories exist as zero-byte
// marker objects with a trailing slash, plus implicitly as key prefixes.
// Symbolic links and permission updates are unsupported operations.
package s3

// Config configures an S3 filesystem.
//
// Authentication follows the SDK v2 default chain unless explicit keys are
// provided: environment variables, shared credentials file, shared config
// profile, instance metadata.
//
// For S3-compatible stores (MinIO, Wasabi, DigitalOcean Spaces), set
// Endpoint and typically ForcePathStyle.
type Config struct {
	// Bucket is the bucket name (required).
	Bucket string `mapstructure:"bucket"`

	// Region is the AWS region. Empty lets the SDK resolve it from the
	// environment or profile.
	Region string `mapstructure:"region"`

	// Endpoint is a custom endpoint URL for S3-compatible stores. Leave
	// empty for AWS S3.
	Endpoint string `mapstructure:"endpoint"`

	// Profile is the shared-config profile to use. Empty means the
	// default profile or environment credentials.
	Profile string `mapstructure:"profile"`

	// ForcePathStyle forces path-style URLs (bucket in path, not
	// subdomain). Required for most S3-compatible stores.
	ForcePathStyle bool `mapstructure:"force_path_style"`
}
