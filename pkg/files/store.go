package files

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/tenantfs/internal/logger"
	"github.com/marmos91/tenantfs/pkg/meta"
	"github.com/marmos91/tenantfs/pkg/pathutil"
)

// maxNewPathAttempts bounds the suffix search of GetNewPath.
const maxNewPathAttempts = 10000

// Store performs file operations for one tenant.
//
// Thread Safety: a Store is safe for concurrent use. There is no locking of
// individual files; concurrent writers to the same path race at the backend
// and the last write wins.
type Store struct {
	m        *Manager
	tenant   string
	backend  Backend
	resolver *pathutil.Resolver
}

// Tenant returns the tenant name.
func (s *Store) Tenant() string { return s.tenant }

// Kind returns the backend of the tenant.
func (s *Store) Kind() Kind { return s.backend.Kind() }

// surface hides path validation failures behind ErrNotFound.
func surface(err error) error {
	if errors.Is(err, errInvalidPath) {
		return ErrNotFound
	}
	return err
}

// UploadOptions controls FromUpload.
type UploadOptions struct {
	UserID *int

	// MinRoleRead defaults to meta.DefaultMinRoleRead when zero.
	MinRoleRead int

	// RenameIfExisting keeps both files on a name clash by suffixing the
	// new one. Otherwise the existing file is replaced.
	RenameIfExisting bool
}

// FromUpload stores an uploaded multipart file in folder.
func (s *Store) FromUpload(ctx context.Context, folder string, fh *multipart.FileHeader, opts UploadOptions) (*File, error) {
	src, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open upload %q: %w", fh.Filename, err)
	}
	defer func() { _ = src.Close() }()

	data, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload %q: %w", fh.Filename, err)
	}

	return s.create(ctx, folder, path.Base(pathutil.FieldValueFromRelative(fh.Filename)),
		fh.Header.Get("Content-Type"), data, opts.UserID, opts.MinRoleRead, opts.RenameIfExisting)
}

// FromContents stores data as folder/name, replacing an existing file. An
// empty mimetype is detected from the name and content.
func (s *Store) FromContents(ctx context.Context, name, mimetype string, data []byte, userID *int, minRoleRead int, folder string) (*File, error) {
	return s.create(ctx, folder, name, mimetype, data, userID, minRoleRead, false)
}

func (s *Store) create(ctx context.Context, folder, name, mimetype string, data []byte, userID *int, role int, rename bool) (*File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if pathutil.Normalise(name) == "" {
		name = uuid.NewString()
	}
	rel, err := s.GetNewPath(ctx, pathutil.JoinRelative(folder, name), rename)
	if err != nil {
		return nil, err
	}

	if mimetype == "" || mimetype == octetStream {
		mimetype = DetectMime(rel, data)
	}
	if role == 0 {
		role = meta.DefaultMinRoleRead
	}

	parent := parentOf(rel)
	newFolder := false
	if parent != "" {
		exists, err := s.backend.Exists(ctx, parent)
		if err != nil {
			return nil, err
		}
		newFolder = !exists
	}

	super, sub := splitMime(mimetype)
	f, err := s.backend.Write(ctx, rel, data, meta.Record{
		Filename:    path.Base(rel),
		MimeSuper:   super,
		MimeSub:     sub,
		SizeKB:      sizeKB(int64(len(data))),
		UploadedAt:  time.Now().UTC(),
		UserID:      userID,
		MinRoleRead: role,
	})
	if err != nil {
		return nil, surface(err)
	}
	if super != "" {
		f.MimeSuper, f.MimeSub = super, sub
	}
	if newFolder {
		s.m.cache.Destroy(s.tenant)
	}

	logger.Info("Stored %s/%s (%s, %d bytes)", s.tenant, rel, mimetype, len(data))
	return f, nil
}

// NewFolder creates inFolder/name, parents included.
func (s *Store) NewFolder(ctx context.Context, name, inFolder string) (*File, error) {
	rel := pathutil.NormalizeFieldValueInput(pathutil.JoinRelative(inFolder, name))
	if rel == "" {
		return nil, ErrNotFound
	}

	f, err := s.backend.Mkdir(ctx, rel)
	if err != nil {
		return nil, surface(err)
	}
	s.m.cache.Destroy(s.tenant)

	logger.Info("Created folder %s/%s", s.tenant, rel)
	return f, nil
}

// GetNewPath returns the relative path to store a new file at. Without a
// suggestion a random name is used. When renameIfExisting is set and the
// suggestion is taken, "_1", "_2", ... is inserted before the extension
// until a free name is found.
//
// The check is not atomic: two callers may be handed the same name.
func (s *Store) GetNewPath(ctx context.Context, suggest string, renameIfExisting bool) (string, error) {
	if suggest == "" {
		return uuid.NewString(), nil
	}

	rel := pathutil.NormalizeFieldValueInput(suggest)
	if rel == "" {
		return "", ErrNotFound
	}
	if !renameIfExisting {
		return rel, nil
	}

	taken, err := s.backend.Exists(ctx, rel)
	if err != nil || !taken {
		return rel, err
	}

	dir, base := parentOf(rel), path.Base(rel)
	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	for i := 1; i <= maxNewPathAttempts; i++ {
		candidate := pathutil.JoinRelative(dir, fmt.Sprintf("%s_%d%s", stem, i, ext))
		taken, err := s.backend.Exists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%s: %w", rel, ErrNoFreeName)
}

// Rename gives f a new name within its folder and rewrites every reference
// to it.
//
// The target must be free. Once the backend has moved the content, the
// configured reference rewriter updates every "File" field that pointed at
// the old path. If that update fails the move is undone, so references
// never dangle. On object stores the move is a copy followed by a delete,
// and the sidecar filename follows the new name.
//
// Parameters:
//   - ctx: Context for cancellation
//   - f: File or directory to rename
//   - newName: New base name; it may not contain separators or dot segments
//
// Returns:
//   - *File: f as found at its new location
//   - error: ErrNotFound for a nil f or an invalid name, ErrExists when the
//     target is taken, or the backend error
func (s *Store) Rename(ctx context.Context, f *File, newName string) (*File, error) {
	if f == nil {
		return nil, ErrNotFound
	}
	if newName == "" || strings.ContainsAny(newName, `/\`) || pathutil.Normalise(newName) != newName {
		return nil, fmt.Errorf("invalid name %q: %w", newName, ErrNotFound)
	}
	return s.relocate(ctx, f, pathutil.JoinRelative(f.Folder(), newName))
}

// MoveToDir moves f into folder and rewrites every reference to it. folder
// must exist; "" is the tenant root. A directory cannot be moved into
// itself or below itself. See Rename for how references are rewritten.
func (s *Store) MoveToDir(ctx context.Context, f *File, folder string) (*File, error) {
	if f == nil {
		return nil, ErrNotFound
	}

	target := pathutil.NormalizeFieldValueInput(folder)
	if f.IsDirectory && meta.IsUnder(target, f.FieldValue()) {
		return nil, fmt.Errorf("cannot move %q into itself", f.FieldValue())
	}
	if target != "" {
		dir, err := s.backend.Stat(ctx, target)
		if err != nil {
			return nil, surface(err)
		}
		if !dir.IsDirectory {
			return nil, fmt.Errorf("%q is not a folder: %w", target, ErrNotFound)
		}
	}

	return s.relocate(ctx, f, pathutil.JoinRelative(target, f.Filename))
}

// relocate moves f to newRel, then rewrites references. When the rewrite
// fails the move is undone, so the references never point at a missing
// file.
func (s *Store) relocate(ctx context.Context, f *File, newRel string) (*File, error) {
	oldRel := f.FieldValue()
	if newRel == oldRel {
		return f, nil
	}

	taken, err := s.backend.Exists(ctx, newRel)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, fmt.Errorf("%s: %w", newRel, ErrExists)
	}

	if err := s.backend.Move(ctx, oldRel, newRel, f.IsDirectory); err != nil {
		return nil, surface(err)
	}

	if s.m.cfg.Refs != nil {
		if _, err := s.m.cfg.Refs.UpdateReferences(ctx, s.tenant, oldRel, newRel, f.IsDirectory); err != nil {
			if undo := s.backend.Move(context.WithoutCancel(ctx), newRel, oldRel, f.IsDirectory); undo != nil {
				logger.Error("Failed to move %s back to %s: %v", newRel, oldRel, undo)
			}
			return nil, fmt.Errorf("failed to update references to %q: %w", oldRel, err)
		}
	}

	if f.IsDirectory {
		s.m.cache.Destroy(s.tenant)
	}
	logger.Info("Moved %s/%s -> %s", s.tenant, oldRel, newRel)

	return s.backend.Stat(ctx, newRel)
}

// Unlinker removes the content of a file. It replaces the default content
// removal in Delete, for example with a dry run or a soft delete. The
// metadata record is removed either way.
type Unlinker interface {
	Unlink(ctx context.Context, f *File) error
}

// UnlinkerFunc adapts a function to Unlinker.
type UnlinkerFunc func(ctx context.Context, f *File) error

func (fn UnlinkerFunc) Unlink(ctx context.Context, f *File) error { return fn(ctx, f) }

// DeleteResult reports the outcome of one deletion. Error is empty on
// success.
type DeleteResult struct {
	Error string `json:"error,omitempty"`
}

// OK reports whether the deletion succeeded.
func (r DeleteResult) OK() bool { return r.Error == "" }

// Delete removes f. The metadata record goes first, then the content is
// removed by u, or by the backend together with its derivatives when u is
// nil.
//
// Errors are reported in the result instead of being returned, so batch
// deletes can continue past a failure. The tenant root cannot be deleted.
// Deleting a directory destroys the tenant's directory cache.
//
// Parameters:
//   - ctx: Context for cancellation
//   - f: File or directory to delete
//   - u: Content removal to use instead of the backend's, or nil
//
// Returns:
//   - DeleteResult: Empty on success, otherwise the error message
func (s *Store) Delete(ctx context.Context, f *File, u Unlinker) DeleteResult {
	if f == nil {
		return DeleteResult{Error: ErrNotFound.Error()}
	}
	if pathutil.NormalizeFieldValueInput(f.FieldValue()) == "" {
		logger.Warn("Refusing to delete the root of tenant %s", s.tenant)
		return DeleteResult{Error: errDeleteRoot.Error()}
	}
	if u == nil {
		u = UnlinkerFunc(s.backend.Delete)
	}

	if err := s.backend.Forget(ctx, f); err != nil {
		logger.Error("Failed to delete %s/%s: %v", s.tenant, f.FieldValue(), err)
		return DeleteResult{Error: err.Error()}
	}
	if err := u.Unlink(ctx, f); err != nil {
		logger.Error("Failed to delete %s/%s: %v", s.tenant, f.FieldValue(), err)
		return DeleteResult{Error: err.Error()}
	}

	if f.IsDirectory {
		s.m.cache.Destroy(s.tenant)
	}
	logger.Info("Deleted %s/%s", s.tenant, f.FieldValue())
	return DeleteResult{}
}

// DeleteMany deletes every file, continuing past failures.
func (s *Store) DeleteMany(ctx context.Context, files []*File, u Unlinker) []DeleteResult {
	results := make([]DeleteResult, len(files))
	for i, f := range files {
		results[i] = s.Delete(ctx, f, u)
	}
	return results
}

// SetRole updates the role needed to read f.
func (s *Store) SetRole(ctx context.Context, f *File, role int) error {
	if f == nil {
		return ErrNotFound
	}
	if err := s.backend.SetRole(ctx, f, role); err != nil {
		return fmt.Errorf("failed to set role of %q: %w", f.FieldValue(), err)
	}
	f.MinRoleRead = role
	return nil
}

// SetUser updates the owner of f. A nil userID clears it.
func (s *Store) SetUser(ctx context.Context, f *File, userID *int) error {
	if f == nil {
		return ErrNotFound
	}
	if err := s.backend.SetUser(ctx, f, userID); err != nil {
		return fmt.Errorf("failed to set user of %q: %w", f.FieldValue(), err)
	}
	f.UserID = userID
	return nil
}

// OverwriteContents replaces the content of f, keeping its attributes.
func (s *Store) OverwriteContents(ctx context.Context, f *File, data []byte) error {
	if f == nil {
		return ErrNotFound
	}
	if f.IsDirectory {
		return fmt.Errorf("%q is a folder: %w", f.FieldValue(), ErrNotSupported)
	}

	updated, err := s.backend.Write(ctx, f.FieldValue(), data, meta.Record{
		Filename:    f.Filename,
		MimeSuper:   f.MimeSuper,
		MimeSub:     f.MimeSub,
		SizeKB:      sizeKB(int64(len(data))),
		UploadedAt:  time.Now().UTC(),
		UserID:      f.UserID,
		MinRoleRead: f.MinRoleRead,
	})
	if err != nil {
		return surface(err)
	}

	f.SizeKB = updated.SizeKB
	f.UploadedAt = updated.UploadedAt
	return nil
}

// ReadContents returns the content of f.
func (s *Store) ReadContents(ctx context.Context, f *File) ([]byte, error) {
	if f == nil {
		return nil, ErrNotFound
	}
	if f.IsDirectory {
		return nil, fmt.Errorf("%q is a folder: %w", f.FieldValue(), ErrNotSupported)
	}
	data, err := s.backend.Read(ctx, f.FieldValue())
	return data, surface(err)
}

// AllDirectories returns every folder of the tenant, the root first. Local
// tenants are served from the directory cache unless ignoreCache is set.
func (s *Store) AllDirectories(ctx context.Context, ignoreCache bool) ([]File, error) {
	if s.backend.Kind() == KindLocal {
		return s.m.cache.Directories(ctx, s.tenant, ignoreCache)
	}
	return s.backend.Directories(ctx)
}

// DiskPath returns the path on disk to stream f from, with symbolic links
// resolved. Files of object-store tenants, and links that leave the tenant
// root, report ErrNotFound.
func (s *Store) DiskPath(f *File) (string, error) {
	b, ok := s.backend.(*localBackend)
	if !ok {
		return "", ErrNotFound
	}
	loc, ok := f.Location.(LocalLocation)
	if !ok {
		return "", ErrNotFound
	}
	p, err := b.fs.RealPath(loc.Path)
	return p, mapLocalErr(err)
}

// ServeURL returns the URL browsers use to fetch f.
func (s *Store) ServeURL(ctx context.Context, f *File, opts pathutil.ServeOptions) (string, error) {
	opts.ObjectStore = f.InObjectStore()
	return s.resolver.PathToServeURL(ctx, f.FieldValue(), opts)
}

// PathToServeURL returns the URL of a field value, which may also be an
// absolute external link.
func (s *Store) PathToServeURL(ctx context.Context, value string, download bool) (string, error) {
	return s.resolver.PathToServeURL(ctx, value, pathutil.ServeOptions{
		Download:    download,
		ObjectStore: s.backend.Kind() == KindObject,
	})
}
