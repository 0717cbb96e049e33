package files

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/marmos91/tenantfs/internal/ratelimiter"
	"github.com/marmos91/tenantfs/pkg/meta"
	"github.com/marmos91/tenantfs/pkg/pathutil"
	"github.com/marmos91/tenantfs/pkg/store/s3"
)

// DefaultHeadConcurrency bounds the HEAD requests issued in parallel while
// describing a listing.
const DefaultHeadConcurrency = 16

// objectBackend keeps files in the tenant namespace of a bucket. Attributes
// live in the metadata sidecar of each object.
type objectBackend struct {
	store       *s3.Store
	concurrency int
	limiter     *ratelimiter.RateLimiter
}

var _ Backend = (*objectBackend)(nil)

func (b *objectBackend) Kind() Kind { return KindObject }

func mapObjectErr(err error) error {
	if errors.Is(err, s3.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

func describeObject(info *s3.ObjectInfo) *File {
	md := info.Metadata

	f := &File{
		Filename:    md.Filename,
		Location:    ObjectLocation{Key: info.Key},
		SizeKB:      sizeKB(info.Size),
		UploadedAt:  info.LastModified,
		UserID:      md.UserID,
		MinRoleRead: meta.DefaultMinRoleRead,
	}
	if f.Filename == "" {
		f.Filename = path.Base(info.Key)
	}
	if md.MinRoleRead != nil {
		f.MinRoleRead = *md.MinRoleRead
	}

	mt := md.Mimetype()
	if mt == "" {
		mt = info.ContentType
	}
	if mt == "" {
		mt = DetectMime(f.Filename, nil)
	}
	f.MimeSuper, f.MimeSub = splitMime(mt)
	return f
}

func objectDir(rel string) *File {
	return &File{
		Filename:    path.Base(rel),
		Location:    ObjectLocation{Key: rel},
		MinRoleRead: meta.DefaultMinRoleRead,
		IsDirectory: true,
	}
}

func (b *objectBackend) Stat(ctx context.Context, rel string) (*File, error) {
	rel = pathutil.NormalizeFieldValueInput(rel)
	if rel == "" {
		root := objectDir("")
		root.Filename = ""
		return root, nil
	}

	info, err := b.store.HeadObject(ctx, rel)
	if err != nil {
		return nil, err
	}
	if info != nil {
		return describeObject(info), nil
	}

	isDir, err := b.store.FolderExists(ctx, rel)
	if err != nil {
		return nil, err
	}
	if !isDir {
		return nil, ErrNotFound
	}
	return objectDir(rel), nil
}

func (b *objectBackend) Exists(ctx context.Context, rel string) (bool, error) {
	_, err := b.Stat(ctx, rel)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// hiddenPath reports whether any segment of rel is hidden.
func hiddenPath(rel string) bool {
	for _, seg := range strings.Split(rel, "/") {
		if hiddenName(seg) {
			return true
		}
	}
	return false
}

func (b *objectBackend) List(ctx context.Context, folder string, recursive bool, keep func(string, bool) bool) ([]*File, error) {
	folder = pathutil.NormalizeFieldValueInput(folder)
	listing, err := b.store.ListFolder(ctx, folder, recursive)
	if err != nil {
		return nil, err
	}

	inner := func(rel string) string {
		if folder == "" {
			return rel
		}
		return strings.TrimPrefix(rel, folder+"/")
	}

	var out []*File
	for _, d := range listing.Directories {
		if d == folder || hiddenPath(inner(d)) {
			continue
		}
		if keep == nil || keep(path.Base(d), true) {
			out = append(out, objectDir(d))
		}
	}

	var keys []string
	for _, obj := range listing.Files {
		if hiddenPath(inner(obj.Key)) {
			continue
		}
		if keep == nil || keep(path.Base(obj.Key), false) {
			keys = append(keys, obj.Key)
		}
	}

	described, err := b.headAll(ctx, keys)
	if err != nil {
		return nil, err
	}
	return append(out, described...), nil
}

// headAll fetches the metadata of keys in parallel. Objects removed since
// the listing are dropped.
func (b *objectBackend) headAll(ctx context.Context, keys []string) ([]*File, error) {
	results := make([]*File, len(keys))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(b.concurrency, 1))
	for i, key := range keys {
		i, key := i, key
		g.Go(func() error {
			if err := b.limiter.Wait(gctx); err != nil {
				return err
			}
			info, err := b.store.HeadObject(gctx, key)
			if err != nil {
				return err
			}
			if info != nil {
				results[i] = describeObject(info)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := results[:0]
	for _, f := range results {
		if f != nil {
			out = append(out, f)
		}
	}
	return out, nil
}

func (b *objectBackend) Directories(ctx context.Context) ([]File, error) {
	dirs, err := b.store.AllDirectories(ctx)
	if err != nil {
		return nil, err
	}

	root, _ := b.Stat(ctx, "")
	out := []File{*root}
	for _, d := range dirs {
		if hiddenPath(d) {
			continue
		}
		out = append(out, *objectDir(d))
	}
	return out, nil
}

func (b *objectBackend) Read(ctx context.Context, rel string) ([]byte, error) {
	data, err := b.store.DownloadBuffer(ctx, rel)
	return data, mapObjectErr(err)
}

func (b *objectBackend) Write(ctx context.Context, rel string, data []byte, rec meta.Record) (*File, error) {
	rel = pathutil.NormalizeFieldValueInput(rel)
	if rel == "" {
		return nil, errInvalidPath
	}

	role := rec.MinRoleRead
	md := s3.Metadata{
		MinRoleRead: &role,
		UserID:      rec.UserID,
		MimeSuper:   rec.MimeSuper,
		MimeSub:     rec.MimeSub,
		Filename:    rec.Filename,
	}
	if err := b.store.UploadBuffer(ctx, rel, data, md.Mimetype(), md); err != nil {
		return nil, err
	}

	uploaded := rec.UploadedAt
	if uploaded.IsZero() {
		uploaded = time.Now().UTC()
	}
	return describeObject(&s3.ObjectInfo{
		Key:          rel,
		Size:         int64(len(data)),
		LastModified: uploaded,
		Metadata:     md,
	}), nil
}

func (b *objectBackend) Mkdir(ctx context.Context, rel string) (*File, error) {
	rel = pathutil.NormalizeFieldValueInput(rel)
	if rel == "" {
		return nil, errInvalidPath
	}
	if err := b.store.PutPlaceholder(ctx, rel); err != nil {
		return nil, err
	}
	return objectDir(rel), nil
}

func (b *objectBackend) Move(ctx context.Context, from, to string, isDir bool) error {
	if isDir {
		return mapObjectErr(b.store.MoveFolder(ctx, from, to))
	}
	return mapObjectErr(b.store.MoveObject(ctx, from, to))
}

// Forget is a no-op: the sidecar is deleted with its object.
func (b *objectBackend) Forget(context.Context, *File) error { return nil }

func (b *objectBackend) Delete(ctx context.Context, f *File) error {
	if pathutil.NormalizeFieldValueInput(f.FieldValue()) == "" {
		return errDeleteRoot
	}
	if f.IsDirectory {
		return b.store.DeleteFolder(ctx, f.FieldValue())
	}
	return b.store.DeleteObject(ctx, f.FieldValue())
}

// updateMetadata rewrites the sidecar of f after applying fn to it.
func (b *objectBackend) updateMetadata(ctx context.Context, f *File, fn func(*s3.Metadata)) error {
	if f.IsDirectory {
		return fmt.Errorf("directory %q: %w", f.FieldValue(), ErrNotSupported)
	}

	info, err := b.store.HeadObject(ctx, f.FieldValue())
	if err != nil {
		return err
	}
	if info == nil {
		return ErrNotFound
	}

	md := info.Metadata
	fn(&md)
	return mapObjectErr(b.store.SetObjectMetadata(ctx, f.FieldValue(), md))
}

func (b *objectBackend) SetRole(ctx context.Context, f *File, role int) error {
	return b.updateMetadata(ctx, f, func(md *s3.Metadata) { md.MinRoleRead = &role })
}

func (b *objectBackend) SetUser(ctx context.Context, f *File, userID *int) error {
	return b.updateMetadata(ctx, f, func(md *s3.Metadata) { md.UserID = userID })
}
