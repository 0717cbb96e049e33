// Package s3test provides an in-memory implementation of the S3 calls used
// by tenantfs, for tests that must not reach a real bucket.
package s3test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Object is one stored object.
type Object struct {
	Data         []byte
	ContentType  string
	Metadata     map[string]string
	LastModified time.Time
}

// Memory is a single-bucket, in-memory S3. It is safe for concurrent use.
type Memory struct {
	mu      sync.Mutex
	bucket  string
	objects map[string]*Object

	// PageSize limits the number of keys per ListObjectsV2 page.
	PageSize int

	// Calls counts API calls by operation name.
	Calls map[string]int

	// FailOn makes the named operation return the error once.
	FailOn map[string]error
}

// NewMemory returns an empty bucket.
func NewMemory(bucket string) *Memory {
	return &Memory{
		bucket:   bucket,
		objects:  make(map[string]*Object),
		PageSize: 1000,
		Calls:    make(map[string]int),
		FailOn:   make(map[string]error),
	}
}

// Keys returns every stored key, sorted.
func (m *Memory) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Get returns a stored object or nil.
func (m *Memory) Get(key string) *Object {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.objects[key]
}

// CallCount returns how many times op was invoked.
func (m *Memory) CallCount(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls[op]
}

// enter records the call and returns with m.mu held, unless the operation
// was armed to fail, in which case the lock is released.
func (m *Memory) enter(op string) error {
	m.mu.Lock()
	m.Calls[op]++
	if err, ok := m.FailOn[op]; ok {
		delete(m.FailOn, op)
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *Memory) checkBucket(b *string) error {
	if aws.ToString(b) != m.bucket {
		return &types.NoSuchBucket{Message: aws.String("no such bucket")}
	}
	return nil
}

func lowerKeys(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[strings.ToLower(k)] = v
	}
	return out
}

func (m *Memory) HeadBucket(_ context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if err := m.enter("HeadBucket"); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()
	if err := m.checkBucket(in.Bucket); err != nil {
		return nil, err
	}
	return &s3.HeadBucketOutput{}, nil
}

func (m *Memory) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	if err := m.enter("ListObjectsV2"); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()
	if err := m.checkBucket(in.Bucket); err != nil {
		return nil, err
	}

	prefix := aws.ToString(in.Prefix)
	delimiter := aws.ToString(in.Delimiter)
	limit := m.PageSize
	if in.MaxKeys != nil && int(*in.MaxKeys) < limit {
		limit = int(*in.MaxKeys)
	}

	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	// Entries are keys or common prefixes, in lexical order.
	type entry struct {
		key      string
		isPrefix bool
	}
	var entries []entry
	seen := make(map[string]bool)
	for _, k := range keys {
		if delimiter != "" {
			rest := strings.TrimPrefix(k, prefix)
			if i := strings.Index(rest, delimiter); i >= 0 {
				cp := prefix + rest[:i+len(delimiter)]
				if !seen[cp] {
					seen[cp] = true
					entries = append(entries, entry{key: cp, isPrefix: true})
				}
				continue
			}
		}
		entries = append(entries, entry{key: k})
	}

	start := 0
	if tok := aws.ToString(in.ContinuationToken); tok != "" {
		n, err := strconv.Atoi(tok)
		if err != nil {
			return nil, fmt.Errorf("bad continuation token %q", tok)
		}
		start = n
	}

	end := min(start+limit, len(entries))
	out := &s3.ListObjectsV2Output{
		Name:   aws.String(m.bucket),
		Prefix: in.Prefix,
	}
	for _, e := range entries[start:end] {
		if e.isPrefix {
			out.CommonPrefixes = append(out.CommonPrefixes, types.CommonPrefix{Prefix: aws.String(e.key)})
			continue
		}
		obj := m.objects[e.key]
		out.Contents = append(out.Contents, types.Object{
			Key:          aws.String(e.key),
			Size:         aws.Int64(int64(len(obj.Data))),
			LastModified: aws.Time(obj.LastModified),
		})
	}
	out.KeyCount = aws.Int32(int32(end - start))
	if end < len(entries) {
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(strconv.Itoa(end))
	} else {
		out.IsTruncated = aws.Bool(false)
	}
	return out, nil
}

func (m *Memory) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if err := m.enter("HeadObject"); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()
	if err := m.checkBucket(in.Bucket); err != nil {
		return nil, err
	}
	obj, ok := m.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{Message: aws.String("not found")}
	}
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(obj.Data))),
		ContentType:   aws.String(obj.ContentType),
		LastModified:  aws.Time(obj.LastModified),
		Metadata:      lowerKeys(obj.Metadata),
	}, nil
}

func (m *Memory) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if err := m.enter("GetObject"); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()
	if err := m.checkBucket(in.Bucket); err != nil {
		return nil, err
	}
	obj, ok := m.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("no such key")}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(bytes.Clone(obj.Data))),
		ContentLength: aws.Int64(int64(len(obj.Data))),
		ContentType:   aws.String(obj.ContentType),
		Metadata:      lowerKeys(obj.Metadata),
	}, nil
}

func (m *Memory) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if err := m.enter("PutObject"); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()
	if err := m.checkBucket(in.Bucket); err != nil {
		return nil, err
	}
	var data []byte
	if in.Body != nil {
		var err error
		if data, err = io.ReadAll(in.Body); err != nil {
			return nil, err
		}
	}
	m.objects[aws.ToString(in.Key)] = &Object{
		Data:         data,
		ContentType:  aws.ToString(in.ContentType),
		Metadata:     lowerKeys(in.Metadata),
		LastModified: time.Now().UTC(),
	}
	return &s3.PutObjectOutput{}, nil
}

func (m *Memory) CopyObject(_ context.Context, in *s3.CopyObjectInput, _ ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	if err := m.enter("CopyObject"); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()
	if err := m.checkBucket(in.Bucket); err != nil {
		return nil, err
	}

	srcBucket, escaped, _ := strings.Cut(aws.ToString(in.CopySource), "/")
	if srcBucket != m.bucket {
		return nil, &types.NoSuchBucket{Message: aws.String("no such bucket")}
	}
	srcKey, err := url.PathUnescape(escaped)
	if err != nil {
		return nil, err
	}
	src, ok := m.objects[srcKey]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("no such key")}
	}

	dst := &Object{
		Data:         bytes.Clone(src.Data),
		ContentType:  src.ContentType,
		Metadata:     lowerKeys(src.Metadata),
		LastModified: time.Now().UTC(),
	}
	if in.MetadataDirective == types.MetadataDirectiveReplace {
		dst.Metadata = lowerKeys(in.Metadata)
		dst.ContentType = aws.ToString(in.ContentType)
	}
	m.objects[aws.ToString(in.Key)] = dst
	return &s3.CopyObjectOutput{}, nil
}

func (m *Memory) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if err := m.enter("DeleteObject"); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()
	if err := m.checkBucket(in.Bucket); err != nil {
		return nil, err
	}
	delete(m.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (m *Memory) DeleteObjects(_ context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	if err := m.enter("DeleteObjects"); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()
	if err := m.checkBucket(in.Bucket); err != nil {
		return nil, err
	}
	out := &s3.DeleteObjectsOutput{}
	if in.Delete == nil {
		return out, nil
	}
	for _, id := range in.Delete.Objects {
		delete(m.objects, aws.ToString(id.Key))
		if !aws.ToBool(in.Delete.Quiet) {
			out.Deleted = append(out.Deleted, types.DeletedObject{Key: id.Key})
		}
	}
	return out, nil
}

// Presigner fakes *s3.PresignClient. The produced URL records the key and
// the requested expiry so tests can assert on both.
type Presigner struct {
	BaseURL string
}

func (p Presigner) PresignGetObject(_ context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	var opts s3.PresignOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	u := fmt.Sprintf("%s/%s/%s?X-Amz-Expires=%d", strings.TrimRight(p.BaseURL, "/"),
		aws.ToString(in.Bucket), aws.ToString(in.Key), int(opts.Expires.Seconds()))
	return &v4.PresignedHTTPRequest{URL: u, Method: "GET"}, nil
}
