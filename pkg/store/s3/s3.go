// Package s3 implements the object-store backend of tenantfs on top of
// Amazon S3 or any S3-compatible service.
//
// Key Layout:
//   - Every key is "<prefix><tenant>/<relative path>"
//   - Directories have no native representation; a zero-byte object named
//     PlaceholderName marks an otherwise empty directory
//   - Custom attributes travel in the object's user metadata (see Metadata)
//
// Failure semantics: backend errors are wrapped and returned. The store never
// retries on its own; the aws client's retryer is the only retry layer.
package s3

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/marmos91/tenantfs/pkg/pathutil"
)

// PlaceholderName is the leaf name of the zero-byte object that keeps an
// empty directory visible in listings.
const PlaceholderName = ".keep"

// DefaultSignedURLExpiry bounds the lifetime of pre-signed links.
const DefaultSignedURLExpiry = 5 * time.Minute

var (
	// ErrNotFound is returned by operations that need an existing object.
	ErrNotFound = errors.New("object not found")

	// ErrNoPresigner is returned by SignedFileURL when the store was built
	// without a presign client.
	ErrNoPresigner = errors.New("signed URLs are not configured")
)

// API is the subset of *s3.Client used by Store. Tests substitute the
// in-memory implementation from package s3test.
type API interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// Presigner is implemented by *s3.PresignClient.
type Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Store is an object-store backend scoped to one key prefix. The value
// returned by New is not bound to any tenant; call Tenant to obtain the
// per-tenant view used for all object operations.
//
// Thread Safety: a Store is immutable after construction and safe for
// concurrent use.
type Store struct {
	client       API
	presigner    Presigner
	endpoint     Endpoint
	rootPrefix   string
	prefix       string
	signedLinks  bool
	signedExpiry time.Duration
	metrics      S3Metrics
}

// Config contains the dependencies of a Store.
type Config struct {
	// Client is the configured S3 client.
	Client API

	// Presigner builds signed URLs. Optional.
	Presigner Presigner

	// Endpoint is the normalised endpoint, see NormalizeEndpoint.
	Endpoint Endpoint

	// KeyPrefix is prepended to every key, before the tenant name.
	KeyPrefix string

	// SignedLinks makes FileURL return pre-signed URLs instead of public ones.
	SignedLinks bool

	// SignedURLExpiry defaults to DefaultSignedURLExpiry.
	SignedURLExpiry time.Duration

	// Metrics is optional.
	Metrics S3Metrics

	// VerifyBucket issues a HeadBucket call before returning.
	VerifyBucket bool
}

// New creates a Store. The bucket must already exist.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if cfg.Client == nil {
		return nil, fmt.Errorf("S3 client is required")
	}
	if cfg.Endpoint.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}

	if cfg.VerifyBucket {
		_, err := cfg.Client.HeadBucket(ctx, &s3.HeadBucketInput{
			Bucket: aws.String(cfg.Endpoint.Bucket),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to access bucket %q: %w", cfg.Endpoint.Bucket, err)
		}
	}

	expiry := cfg.SignedURLExpiry
	if expiry <= 0 {
		expiry = DefaultSignedURLExpiry
	}

	var m S3Metrics = noopMetrics{}
	if cfg.Metrics != nil {
		m = cfg.Metrics
	}

	rootPrefix := strings.Trim(cfg.KeyPrefix, "/")
	if rootPrefix != "" {
		rootPrefix += "/"
	}

	return &Store{
		client:       cfg.Client,
		presigner:    cfg.Presigner,
		endpoint:     cfg.Endpoint,
		rootPrefix:   rootPrefix,
		prefix:       rootPrefix,
		signedLinks:  cfg.SignedLinks,
		signedExpiry: expiry,
		metrics:      m,
	}, nil
}

// Tenant returns a view of the store whose keys live under "<tenant>/".
func (s *Store) Tenant(name string) *Store {
	cp := *s
	cp.prefix = s.rootPrefix + pathutil.NormalizeFieldValueInput(name) + "/"
	return &cp
}

// Bucket returns the bucket name.
func (s *Store) Bucket() string { return s.endpoint.Bucket }

// Prefix returns the key prefix of this view, including the tenant.
func (s *Store) Prefix() string { return s.prefix }

// key maps a tenant-relative path to its object key. The relative path is
// normalised first so it can never leave the tenant's namespace.
func (s *Store) key(rel string) string {
	return s.prefix + pathutil.NormalizeFieldValueInput(rel)
}

// folderPrefix returns the listing prefix of a tenant-relative folder.
func (s *Store) folderPrefix(folder string) string {
	rel := pathutil.NormalizeFieldValueInput(folder)
	if rel == "" {
		return s.prefix
	}
	return s.prefix + rel + "/"
}

// relative strips the tenant prefix from a key.
func (s *Store) relative(key string) string {
	return strings.TrimPrefix(key, s.prefix)
}

func isPlaceholder(key string) bool {
	return path.Base(key) == PlaceholderName
}
