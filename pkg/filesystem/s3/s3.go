package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/3leaps/gridlink/pkg/credential"
	"github.com/3leaps/gridlink/pkg/filesystem"
	"github.com/3leaps/gridlink/pkg/fspath"
)

// AdaptorName identifies this back-end.
const AdaptorName = "s3"

// Backend implements filesystem.Backend over one bucket.
type Backend struct {
	client *s3.Client
	bucket string
	closed bool
}

var (
	_ filesystem.Backend    = (*Backend)(nil)
	_ filesystem.FileCopier = (*Backend)(nil)
)

// New builds the client and returns a FileSystem rooted at "/".
func New(ctx context.Context, cred credential.Credential, cfg Config, opts ...filesystem.Option) (*filesystem.FileSystem, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	var loadOpts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		loadOpts = append(loadOpts, config.WithSharedConfigProfile(cfg.Profile))
	}
	if pw, ok := cred.(credential.Password); ok {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(pw.User, string(pw.Password), "")))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, &filesystem.Error{Op: "New", Adaptor: AdaptorName, Err: err}
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ForcePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	backend := &Backend{client: client, bucket: cfg.Bucket}
	return filesystem.New(backend, cfg.Bucket, cred, fspath.New("/"), opts...)
}

func (b *Backend) Name() string {
	return AdaptorName
}

// key maps an absolute path onto an object key (no leading slash).
func key(p fspath.Path) string {
	return strings.TrimPrefix(p.String(), "/")
}

func dirKey(p fspath.Path) string {
	k := key(p)
	if k == "" {
		return ""
	}
	return k + "/"
}

func (b *Backend) wrap(op string, p fspath.Path, err error) error {
	return &filesystem.Error{Op: op, Adaptor: AdaptorName, Path: p.String(), Err: translate(err)}
}

// translate classifies SDK errors onto the common taxonomy: typed errors
// first, then smithy API error codes.
func translate(err error) error {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return filesystem.ErrNoSuchPath
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			return filesystem.ErrNoSuchPath
		case "AccessDenied", "Forbidden":
			return filesystem.ErrPermissionDenied
		case "QuotaExceeded":
			return filesystem.ErrNoSpace
		}
	}
	return err
}

func (b *Backend) head(ctx context.Context, k string) (*s3.HeadObjectOutput, error) {
	return b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(k),
	})
}

// stat resolves a path to either an object, a directory marker, or an
// implicit directory (a prefix with at least one object under it).
func (b *Backend) stat(ctx context.Context, path fspath.Path) (attr filesystem.PathAttributes, found bool, err error) {
	k := key(path)

	if k == "" {
		// The bucket root is always a directory.
		return filesystem.PathAttributes{Path: path, Directory: true}, true, nil
	}

	if out, err := b.head(ctx, k); err == nil {
		return filesystem.PathAttributes{
			Path:         path,
			Regular:      true,
			Hidden:       strings.HasPrefix(path.FileNameString(), "."),
			Size:         aws.ToInt64(out.ContentLength),
			LastModified: aws.ToTime(out.LastModified).UnixMilli(),
			Readable:     true,
			Writable:     true,
		}, true, nil
	} else if translated := translate(err); translated != filesystem.ErrNoSuchPath {
		return filesystem.PathAttributes{}, false, err
	}

	// Not an object; look for a directory marker or any key under the
	// prefix.
	list, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(b.bucket),
		Prefix:  aws.String(dirKey(path)),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return filesystem.PathAttributes{}, false, err
	}
	if aws.ToInt32(list.KeyCount) > 0 {
		return filesystem.PathAttributes{
			Path:      path,
			Directory: true,
			Hidden:    strings.HasPrefix(path.FileNameString(), "."),
			Readable:  true,
			Writable:  true,
		}, true, nil
	}
	return filesystem.PathAttributes{}, false, nil
}

func (b *Backend) Exists(ctx context.Context, path fspath.Path) (bool, error) {
	_, found, err := b.stat(ctx, path)
	if err != nil {
		return false, b.wrap("Exists", path, err)
	}
	return found, nil
}

func (b *Backend) GetAttributes(ctx context.Context, path fspath.Path) (filesystem.PathAttributes, error) {
	attr, found, err := b.stat(ctx, path)
	if err != nil {
		return filesystem.PathAttributes{}, b.wrap("GetAttributes", path, err)
	}
	if !found {
		return filesystem.PathAttributes{}, b.wrap("GetAttributes", path, filesystem.ErrNoSuchPath)
	}
	return attr, nil
}

func (b *Backend) Rename(ctx context.Context, source, target fspath.Path) error {
	_, err := b.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(b.bucket),
		CopySource: aws.String(b.bucket + "/" + key(source)),
		Key:        aws.String(key(target)),
	})
	if err != nil {
		return b.wrap("Rename", source, err)
	}
	return b.DeleteFile(ctx, source)
}

func (b *Backend) CreateDirectory(ctx context.Context, dir fspath.Path) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(dirKey(dir)),
		Body:   bytes.NewReader(nil),
	})
	if err != nil {
		return b.wrap("CreateDirectory", dir, err)
	}
	return nil
}

func (b *Backend) CreateFile(ctx context.Context, file fspath.Path) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key(file)),
		Body:   bytes.NewReader(nil),
	})
	if err != nil {
		return b.wrap("CreateFile", file, err)
	}
	return nil
}

func (b *Backend) CreateSymbolicLink(ctx context.Context, link, target fspath.Path) error {
	return b.wrap("CreateSymbolicLink", link, filesystem.ErrUnsupportedOperation)
}

func (b *Backend) DeleteFile(ctx context.Context, file fspath.Path) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key(file)),
	})
	if err != nil {
		return b.wrap("DeleteFile", file, err)
	}
	return nil
}

func (b *Backend) DeleteDirectory(ctx context.Context, dir fspath.Path) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(dirKey(dir)),
	})
	if err != nil {
		return b.wrap("DeleteDirectory", dir, err)
	}
	return nil
}

func (b *Backend) ListDirectory(ctx context.Context, dir fspath.Path) ([]filesystem.PathAttributes, error) {
	prefix := dirKey(dir)

	var out []filesystem.PathAttributes
	var token *string

	for {
		page, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(b.bucket),
			Prefix:            aws.String(prefix),
			Delimiter:         aws.String("/"),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, b.wrap("ListDirectory", dir, err)
		}

		for _, cp := range page.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), prefix), "/")
			if name == "" {
				continue
			}
			out = append(out, filesystem.PathAttributes{
				Path:      dir.ResolveName(name),
				Directory: true,
				Hidden:    strings.HasPrefix(name, "."),
				Readable:  true,
				Writable:  true,
			})
		}

		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			if name == "" || strings.HasSuffix(name, "/") {
				// Skip the directory's own marker object.
				continue
			}
			out = append(out, filesystem.PathAttributes{
				Path:         dir.ResolveName(name),
				Regular:      true,
				Hidden:       strings.HasPrefix(name, "."),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified).UnixMilli(),
				Readable:     true,
				Writable:     true,
			})
		}

		if !aws.ToBool(page.IsTruncated) {
			return out, nil
		}
		token = page.NextContinuationToken
	}
}

func (b *Backend) ReadFromFile(ctx context.Context, file fspath.Path) (io.ReadCloser, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key(file)),
	})
	if err != nil {
		return nil, b.wrap("ReadFromFile", file, err)
	}
	return out.Body, nil
}

// putWriter buffers writes and uploads the object on Close, which gives the
// SDK a seekable body it can retry.
type putWriter struct {
	ctx     context.Context
	backend *Backend
	file    fspath.Path
	buf     bytes.Buffer
}

func (w *putWriter) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

func (w *putWriter) Close() error {
	_, err := w.backend.client.PutObject(w.ctx, &s3.PutObjectInput{
		Bucket: aws.String(w.backend.bucket),
		Key:    aws.String(key(w.file)),
		Body:   bytes.NewReader(w.buf.Bytes()),
	})
	if err != nil {
		return w.backend.wrap("WriteToFile", w.file, err)
	}
	return nil
}

func (b *Backend) WriteToFile(ctx context.Context, file fspath.Path, size int64) (io.WriteCloser, error) {
	return &putWriter{ctx: ctx, backend: b, file: file}, nil
}

func (b *Backend) AppendToFile(ctx context.Context, file fspath.Path) (io.WriteCloser, error) {
	return nil, b.wrap("AppendToFile", file, filesystem.ErrUnsupportedOperation)
}

func (b *Backend) ReadSymbolicLink(ctx context.Context, link fspath.Path) (fspath.Path, error) {
	return fspath.Path{}, b.wrap("ReadSymbolicLink", link, filesystem.ErrUnsupportedOperation)
}

func (b *Backend) SetPosixFilePermissions(ctx context.Context, path fspath.Path, permissions filesystem.Permissions) error {
	return b.wrap("SetPosixFilePermissions", path, filesystem.ErrUnsupportedOperation)
}

// CopyFile performs a server-side object copy when the destination is also
// an S3 filesystem, skipping the generic stream pipeline.
func (b *Backend) CopyFile(ctx context.Context, source fspath.Path, destination *filesystem.FileSystem, destPath fspath.Path) (bool, error) {
	dest, ok := filesystem.BackendOf(destination).(*Backend)
	if !ok {
		return false, nil
	}

	_, err := dest.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(dest.bucket),
		CopySource: aws.String(b.bucket + "/" + key(source)),
		Key:        aws.String(key(destPath)),
	})
	if err != nil {
		return false, b.wrap("CopyFile", source, err)
	}
	return true, nil
}

func (b *Backend) IsOpen(ctx context.Context) (bool, error) {
	return !b.closed, nil
}

func (b *Backend) Close() error {
	b.closed = true
	return nil
}
