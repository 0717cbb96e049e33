package files

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"

	"github.com/marmos91/tenantfs/internal/logger"
	"github.com/marmos91/tenantfs/pkg/meta"
	"github.com/marmos91/tenantfs/pkg/store/local"
)

const derivativePrefix = local.DerivativePrefix

// sizer is implemented by metadata stores that record file sizes.
type sizer interface {
	SetSize(ctx context.Context, tenant, rel string, sizeKB int64) error
}

// localBackend keeps files below the tenant root on disk. Attributes live in
// the primary metadata store when it holds a record, else in xattrs.
type localBackend struct {
	tenant  string
	fs      *local.Store
	primary meta.Store
	xattr   meta.Store
}

var _ Backend = (*localBackend)(nil)

func (b *localBackend) Kind() Kind { return KindLocal }

func mapLocalErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, local.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, local.ErrExists):
		return ErrExists
	default:
		return err
	}
}

func (b *localBackend) resolve(rel string) (string, error) {
	abs, ok := b.fs.Resolve(rel)
	if !ok {
		return "", errInvalidPath
	}
	return abs, nil
}

// describe builds a File from a directory entry, choosing the metadata store
// that owns its attributes.
func (b *localBackend) describe(ctx context.Context, e local.Entry) (*File, error) {
	store, attrs, err := meta.Select(ctx, b.primary, b.xattr, b.tenant, e.Rel)
	if err != nil {
		return nil, fmt.Errorf("failed to load attributes of %q: %w", e.Rel, err)
	}

	f := &File{
		Filename:    e.Name,
		Location:    LocalLocation{Path: e.Path, Rel: e.Rel},
		UploadedAt:  e.ModTime,
		UserID:      attrs.UserID,
		MinRoleRead: attrs.MinRoleRead,
		IsDirectory: e.IsDir,
		attrs:       store,
	}
	if e.IsDir {
		return f, nil
	}

	f.Location = LocalLocation{Path: e.Path, Rel: e.Rel, RecordID: attrs.ID}
	f.SizeKB = sizeKB(e.Size)
	if attrs.MimeSuper != "" {
		f.MimeSuper, f.MimeSub = attrs.MimeSuper, attrs.MimeSub
	} else {
		f.MimeSuper, f.MimeSub = splitMime(detectFileMime(e.Name, e.Path))
	}
	return f, nil
}

func (b *localBackend) Stat(ctx context.Context, rel string) (*File, error) {
	abs, err := b.resolve(rel)
	if err != nil {
		return nil, err
	}
	if abs == b.fs.Root() {
		return b.rootDir(), nil
	}
	e, err := b.fs.FromFileOnDisk(ctx, filepath.Base(abs), filepath.Dir(abs))
	if err != nil {
		return nil, mapLocalErr(err)
	}
	return b.describe(ctx, *e)
}

func (b *localBackend) rootDir() *File {
	return &File{
		Location:    LocalLocation{Path: b.fs.Root()},
		MinRoleRead: meta.DefaultMinRoleRead,
		IsDirectory: true,
		attrs:       b.xattr,
	}
}

func (b *localBackend) Exists(_ context.Context, rel string) (bool, error) {
	abs, err := b.resolve(rel)
	if err != nil {
		return false, nil
	}
	return b.fs.Exists(abs), nil
}

func (b *localBackend) List(ctx context.Context, folder string, recursive bool, keep func(string, bool) bool) ([]*File, error) {
	dir, err := b.resolve(folder)
	if err != nil {
		return nil, err
	}

	var out []*File
	err = b.fs.ListDir(ctx, dir, recursive, func(e local.Entry) error {
		if hiddenName(e.Name) {
			if e.IsDir {
				return fs.SkipDir
			}
			return nil
		}
		if keep != nil && !keep(e.Name, e.IsDir) {
			return nil
		}
		f, err := b.describe(ctx, e)
		if err != nil {
			return err
		}
		out = append(out, f)
		return nil
	})
	if err != nil {
		return nil, mapLocalErr(err)
	}
	return out, nil
}

func (b *localBackend) Directories(ctx context.Context) ([]File, error) {
	entries, err := b.fs.AllDirectories(ctx)
	if err != nil {
		return nil, err
	}

	dirs := make([]File, 0, len(entries))
	for _, e := range entries {
		f, err := b.describe(ctx, e)
		if err != nil {
			return nil, err
		}
		dirs = append(dirs, *f)
	}
	return dirs, nil
}

func (b *localBackend) Read(ctx context.Context, rel string) ([]byte, error) {
	abs, err := b.resolve(rel)
	if err != nil {
		return nil, err
	}
	data, err := b.fs.ReadFile(ctx, abs)
	return data, mapLocalErr(err)
}

func (b *localBackend) Write(ctx context.Context, rel string, data []byte, rec meta.Record) (*File, error) {
	abs, err := b.resolve(rel)
	if err != nil {
		return nil, err
	}
	if abs == b.fs.Root() {
		return nil, errInvalidPath
	}

	if parent := parentOf(rel); parent != "" {
		if _, err := b.fs.MkdirAll(ctx, parent); err != nil {
			return nil, mapLocalErr(err)
		}
	}
	if err := b.fs.WriteFile(ctx, abs, data); err != nil {
		return nil, mapLocalErr(err)
	}
	if err := b.record(ctx, rel, rec); err != nil {
		return nil, err
	}

	return b.Stat(ctx, rel)
}

// record persists the attributes of a freshly written file. An existing
// primary record is updated in place so its id survives an overwrite.
func (b *localBackend) record(ctx context.Context, rel string, rec meta.Record) error {
	if b.primary == nil {
		_, err := b.xattr.Create(ctx, b.tenant, rel, rec)
		return err
	}

	_, exists, err := b.primary.Load(ctx, b.tenant, rel)
	if err != nil {
		return err
	}
	if !exists {
		_, err := b.primary.Create(ctx, b.tenant, rel, rec)
		return err
	}

	if err := b.primary.SetRole(ctx, b.tenant, rel, rec.MinRoleRead); err != nil {
		return err
	}
	if err := b.primary.SetUser(ctx, b.tenant, rel, rec.UserID); err != nil {
		return err
	}
	if s, ok := b.primary.(sizer); ok {
		return s.SetSize(ctx, b.tenant, rel, rec.SizeKB)
	}
	return nil
}

func (b *localBackend) Mkdir(ctx context.Context, rel string) (*File, error) {
	if _, err := b.fs.MkdirAll(ctx, rel); err != nil {
		return nil, mapLocalErr(err)
	}
	return b.Stat(ctx, rel)
}

func (b *localBackend) Move(ctx context.Context, from, to string, isDir bool) error {
	src, err := b.resolve(from)
	if err != nil {
		return err
	}
	dst, err := b.resolve(to)
	if err != nil {
		return err
	}

	switch {
	case parentOf(from) == parentOf(to):
		_, err = b.fs.Rename(ctx, src, path.Base(to))
	case path.Base(from) == path.Base(to):
		_, err = b.fs.MoveToDir(ctx, src, filepath.Dir(dst))
	default:
		err = b.fs.MovePath(ctx, src, dst)
	}
	if err != nil {
		return mapLocalErr(err)
	}

	if b.primary == nil {
		return nil
	}
	if err := b.primary.Rename(ctx, b.tenant, from, to, isDir); err != nil {
		if undo := b.fs.MovePath(ctx, dst, src); undo != nil {
			logger.Warn("Failed to move %s back after metadata error: %v", to, undo)
		}
		return fmt.Errorf("failed to rename metadata of %q: %w", from, err)
	}
	return nil
}

func (b *localBackend) Forget(ctx context.Context, f *File) error {
	if b.primary == nil {
		return nil
	}
	rel := f.FieldValue()
	if err := b.primary.Delete(ctx, b.tenant, rel, f.IsDirectory); err != nil {
		return fmt.Errorf("failed to delete metadata of %q: %w", rel, err)
	}
	return nil
}

func (b *localBackend) Delete(ctx context.Context, f *File) error {
	loc, ok := f.Location.(LocalLocation)
	if !ok {
		return fmt.Errorf("%s: %w", f.FieldValue(), ErrNotSupported)
	}
	return mapLocalErr(b.fs.Delete(ctx, loc.Path))
}

func (b *localBackend) attrsOf(f *File) meta.Store {
	if f.attrs != nil {
		return f.attrs
	}
	return b.xattr
}

func (b *localBackend) SetRole(ctx context.Context, f *File, role int) error {
	return mapLocalErr(b.attrsOf(f).SetRole(ctx, b.tenant, f.FieldValue(), role))
}

func (b *localBackend) SetUser(ctx context.Context, f *File, userID *int) error {
	return mapLocalErr(b.attrsOf(f).SetUser(ctx, b.tenant, f.FieldValue(), userID))
}
