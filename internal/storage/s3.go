// Package storage resolves contact lists kept in object storage. A
// submission may reference its list as s3://bucket/key instead of sending
// the CSV inline; the object is read once at submission time and the parsed
// rows travel with the job from then on.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/ignite/whatsapp-dispatch/internal/config"
)

// DefaultMaxObjectBytes caps the size of a contact list object.
const DefaultMaxObjectBytes = 50 << 20

var (
	ErrUnsupportedScheme = errors.New("unsupported contact source scheme")
	ErrInvalidURI        = errors.New("invalid contact source uri")
	ErrObjectNotFound    = errors.New("contact source object not found")
	ErrObjectTooLarge    = errors.New("contact source object too large")
	ErrBucketNotAllowed  = errors.New("contact source bucket not allowed")
)

// ObjectGetter is the part of the S3 API the loader needs.
type ObjectGetter interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Loader opens s3://bucket/key contact sources.
type S3Loader struct {
	client   ObjectGetter
	bucket   string // when set, only this bucket may be read
	maxBytes int64
}

// NewS3Loader wraps an S3 client. An empty bucket allows any bucket the
// credentials can read.
func NewS3Loader(client ObjectGetter, bucket string) *S3Loader {
	return &S3Loader{client: client, bucket: bucket, maxBytes: DefaultMaxObjectBytes}
}

// SetMaxBytes overrides DefaultMaxObjectBytes.
func (l *S3Loader) SetMaxBytes(n int64) {
	if n > 0 {
		l.maxBytes = n
	}
}

// NewS3Client builds an S3 client from the storage config. Static keys win
// over a named profile; with neither the default credential chain is used.
func NewS3Client(ctx context.Context, cfg config.StorageConfig) (*s3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.S3Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.S3Region))
	}
	switch {
	case cfg.AccessKey != "" && cfg.SecretKey != "":
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	case cfg.AWSProfile != "":
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.AWSProfile))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return s3.NewFromConfig(awsCfg), nil
}

// ParseURI splits s3://bucket/key.
func ParseURI(uri string) (bucket, key string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidURI, err)
	}
	if u.Scheme != "s3" {
		return "", "", fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return "", "", fmt.Errorf("%w: %s", ErrInvalidURI, uri)
	}
	return u.Host, key, nil
}

// Open returns the object body. The caller closes it.
func (l *S3Loader) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	bucket, key, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	if l.bucket != "" && bucket != l.bucket {
		return nil, fmt.Errorf("%w: %s", ErrBucketNotAllowed, bucket)
	}

	out, err := l.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, uri)
		}
		return nil, fmt.Errorf("get %s: %w", uri, err)
	}
	if out.ContentLength != nil && *out.ContentLength > l.maxBytes {
		out.Body.Close()
		return nil, fmt.Errorf("%w: %d bytes", ErrObjectTooLarge, *out.ContentLength)
	}
	return &limitedBody{r: io.LimitReader(out.Body, l.maxBytes+1), c: out.Body, max: l.maxBytes}, nil
}

// limitedBody fails the read once more than max bytes arrive, for objects
// served without a content length.
type limitedBody struct {
	r    io.Reader
	c    io.Closer
	max  int64
	read int64
}

func (b *limitedBody) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	b.read += int64(n)
	if b.read > b.max {
		return n, ErrObjectTooLarge
	}
	return n, err
}

func (b *limitedBody) Close() error { return b.c.Close() }
