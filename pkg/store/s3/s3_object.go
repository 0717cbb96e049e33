package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/marmos91/tenantfs/internal/logger"
	"github.com/marmos91/tenantfs/pkg/pathutil"
)

// deleteBatchSize is the DeleteObjects limit.
const deleteBatchSize = 1000

// isNotFound reports whether err is a backend 404.
func isNotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey", "404":
			return true
		}
	}
	return false
}

// HeadObject returns the size, content type and decoded metadata of an
// object. A missing object yields (nil, nil); every other error propagates.
func (s *Store) HeadObject(ctx context.Context, rel string) (info *ObjectInfo, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() {
		s.metrics.ObserveOperation("HeadObject", time.Since(start), err)
	}()

	key := s.key(rel)
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.endpoint.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to head object %q: %w", key, err)
	}

	return &ObjectInfo{
		Key:          s.relative(key),
		Size:         aws.ToInt64(out.ContentLength),
		LastModified: aws.ToTime(out.LastModified),
		ContentType:  aws.ToString(out.ContentType),
		Metadata:     DecodeMetadata(out.Metadata),
	}, nil
}

// CopyObject performs a server-side copy.
//
// When md is non-nil the copy replaces the metadata of the destination with
// md. The source content type is carried over unless md names a MIME type.
func (s *Store) CopyObject(ctx context.Context, from, to string, md *Metadata) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	defer func() {
		s.metrics.ObserveOperation("CopyObject", time.Since(start), err)
	}()

	srcKey := s.key(from)
	dstKey := s.key(to)

	input := &s3.CopyObjectInput{
		Bucket:     aws.String(s.endpoint.Bucket),
		CopySource: aws.String(s.endpoint.Bucket + "/" + pathutil.EscapePath(srcKey)),
		Key:        aws.String(dstKey),
	}

	if md != nil {
		contentType := md.Mimetype()
		if contentType == "" {
			src, err := s.HeadObject(ctx, from)
			if err != nil {
				return err
			}
			if src == nil {
				return fmt.Errorf("object %q: %w", srcKey, ErrNotFound)
			}
			contentType = src.ContentType
		}

		input.MetadataDirective = types.MetadataDirectiveReplace
		input.Metadata = md.Encode()
		if contentType != "" {
			input.ContentType = aws.String(contentType)
		}
	}

	if _, err := s.client.CopyObject(ctx, input); err != nil {
		if isNotFound(err) {
			return fmt.Errorf("object %q: %w", srcKey, ErrNotFound)
		}
		return fmt.Errorf("failed to copy %q to %q: %w", srcKey, dstKey, err)
	}

	logger.Debug("S3 copy %s -> %s (replace metadata=%v)", srcKey, dstKey, md != nil)
	return nil
}

// SetObjectMetadata replaces the metadata of an object by copying it onto
// itself. The full metadata set must be supplied.
func (s *Store) SetObjectMetadata(ctx context.Context, rel string, md Metadata) error {
	return s.CopyObject(ctx, rel, rel, &md)
}

// MoveObject copies an object to a new key and deletes the source. When the
// base name changes, the filename recorded in the sidecar follows it.
func (s *Store) MoveObject(ctx context.Context, from, to string) error {
	var md *Metadata
	if path.Base(from) != path.Base(to) {
		src, err := s.HeadObject(ctx, from)
		if err != nil {
			return err
		}
		if src == nil {
			return fmt.Errorf("object %q: %w", s.key(from), ErrNotFound)
		}
		if src.Metadata.Filename != "" {
			renamed := src.Metadata
			renamed.Filename = path.Base(to)
			md = &renamed
		}
	}

	if err := s.CopyObject(ctx, from, to, md); err != nil {
		return err
	}
	return s.DeleteObject(ctx, from)
}

// MoveFolder moves every object below a folder, placeholders included.
func (s *Store) MoveFolder(ctx context.Context, from, to string) error {
	keys, err := s.keysUnder(ctx, from)
	if err != nil {
		return err
	}

	src := s.folderPrefix(from)
	dst := s.folderPrefix(to)
	for _, key := range keys {
		rel := s.relative(key)
		target := s.relative(dst + key[len(src):])
		if err := s.MoveObject(ctx, rel, target); err != nil {
			return err
		}
	}
	return nil
}

// DeleteObject deletes one object. Deleting a missing key is not an error.
func (s *Store) DeleteObject(ctx context.Context, rel string) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	defer func() {
		s.metrics.ObserveOperation("DeleteObject", time.Since(start), err)
	}()

	key := s.key(rel)
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.endpoint.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object %q: %w", key, err)
	}

	logger.Debug("S3 delete %s", key)
	return nil
}

// DeleteFolder deletes every object below a folder in batches.
func (s *Store) DeleteFolder(ctx context.Context, folder string) (err error) {
	start := time.Now()
	defer func() {
		s.metrics.ObserveOperation("DeleteObjects", time.Since(start), err)
	}()

	keys, err := s.keysUnder(ctx, folder)
	if err != nil {
		return err
	}

	for i := 0; i < len(keys); i += deleteBatchSize {
		end := min(i+deleteBatchSize, len(keys))

		objects := make([]types.ObjectIdentifier, 0, end-i)
		for _, k := range keys[i:end] {
			objects = append(objects, types.ObjectIdentifier{Key: aws.String(k)})
		}

		out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.endpoint.Bucket),
			Delete: &types.Delete{Objects: objects, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("failed to delete objects under %q: %w", folder, err)
		}
		if len(out.Errors) > 0 {
			first := out.Errors[0]
			return fmt.Errorf("failed to delete %d objects, first %q: %s",
				len(out.Errors), aws.ToString(first.Key), aws.ToString(first.Message))
		}
	}

	logger.Debug("S3 delete folder %s: %d objects", s.folderPrefix(folder), len(keys))
	return nil
}

// UploadBuffer stores data at rel with the given content type and metadata.
func (s *Store) UploadBuffer(ctx context.Context, rel string, data []byte, mimetype string, md Metadata) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	defer func() {
		s.metrics.ObserveOperation("PutObject", time.Since(start), err)
	}()

	key := s.key(rel)
	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.endpoint.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		Metadata:      md.Encode(),
	}
	if mimetype != "" {
		input.ContentType = aws.String(mimetype)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to upload object %q: %w", key, err)
	}

	s.metrics.RecordBytes("write", int64(len(data)))
	logger.Debug("S3 upload %s: %d bytes", key, len(data))
	return nil
}

// DownloadBuffer returns the full content of an object.
func (s *Store) DownloadBuffer(ctx context.Context, rel string) (data []byte, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() {
		s.metrics.ObserveOperation("GetObject", time.Since(start), err)
	}()

	key := s.key(rel)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.endpoint.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("object %q: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get object %q: %w", key, err)
	}

	body := &metricsReadCloser{ReadCloser: out.Body, metrics: s.metrics, operation: "read"}
	defer func() { _ = body.Close() }()

	data, err = io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %q: %w", key, err)
	}
	return data, nil
}

// PutPlaceholder creates the zero-byte object that keeps folder visible.
func (s *Store) PutPlaceholder(ctx context.Context, folder string) error {
	return s.UploadBuffer(ctx, path.Join(pathutil.NormalizeFieldValueInput(folder), PlaceholderName),
		nil, "application/octet-stream", Metadata{})
}
