package files

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/marmos91/tenantfs/internal/logger"
	"github.com/marmos91/tenantfs/pkg/legacy"
	"github.com/marmos91/tenantfs/pkg/pathutil"
)

// Where filters Find results. Zero fields match everything.
type Where struct {
	// Folder is the relative folder to search, "" for the root.
	Folder string

	Filename    string
	MimeSuper   string
	MimeSub     string
	IsDirectory *bool

	// Search matches a case-insensitive substring of the name and makes the
	// search recursive.
	Search string

	// InDB restricts results to files that have a database metadata row.
	// Backends without one yield no results.
	InDB bool
}

// FindOptions orders and limits Find results.
type FindOptions struct {
	// OrderBy is "filename" (default), "uploaded_at" or "size_kb".
	OrderBy    string
	Descending bool
	Limit      int
	Recursive  bool
}

func (w Where) keep(name string, isDir bool) bool {
	if w.IsDirectory != nil && *w.IsDirectory != isDir {
		return false
	}
	if w.Filename != "" && w.Filename != name {
		return false
	}
	if w.Search != "" && !strings.Contains(strings.ToLower(name), strings.ToLower(w.Search)) {
		return false
	}
	return true
}

func (w Where) match(f *File) bool {
	if w.MimeSuper != "" && f.MimeSuper != w.MimeSuper {
		return false
	}
	if w.MimeSub != "" && f.MimeSub != w.MimeSub {
		return false
	}
	return true
}

// Find lists the files of a folder matching where. A folder that does not
// exist, or that lies outside the tenant, yields an empty result.
//
// The listing is recursive when opts.Recursive is set or where.Search is
// non-empty. Hidden entries and derivatives are skipped. With where.InDB
// only files that have a metadata row are returned, read from the row
// table instead of the disk.
//
// Thread safety:
// Safe for concurrent use. Results reflect the tree at the time of the
// walk; concurrent writes may or may not be seen.
func (s *Store) Find(ctx context.Context, where Where, opts FindOptions) ([]*File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	folder := pathutil.NormalizeFieldValueInput(where.Folder)
	recursive := opts.Recursive || where.Search != ""

	var (
		found []*File
		err   error
	)
	if where.InDB {
		found, err = s.findInDB(ctx, folder, recursive, where)
	} else {
		found, err = s.backend.List(ctx, folder, recursive, where.keep)
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, errInvalidPath) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	out := found[:0]
	for _, f := range found {
		if where.match(f) {
			out = append(out, f)
		}
	}

	sortFiles(out, opts.OrderBy, opts.Descending)
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}

	logger.Debug("Find in %s/%s: %d results", s.tenant, folder, len(out))
	return out, nil
}

// findInDB describes the files that have a metadata row and still exist.
func (s *Store) findInDB(ctx context.Context, folder string, recursive bool, where Where) ([]*File, error) {
	rows := s.m.cfg.Rows
	if rows == nil || s.backend.Kind() != KindLocal {
		return nil, nil
	}

	list, err := rows.List(ctx, s.tenant, folder)
	if err != nil {
		return nil, err
	}

	var out []*File
	for _, row := range list {
		if !recursive && parentOf(row.Location) != folder {
			continue
		}
		if !where.keep(row.Filename, false) {
			continue
		}

		f, err := s.backend.Stat(ctx, row.Location)
		if errors.Is(err, ErrNotFound) || errors.Is(err, errInvalidPath) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if row.MimeSuper != "" {
			f.MimeSuper, f.MimeSub = row.MimeSuper, row.MimeSub
		}
		f.UploadedAt = row.UploadedAt
		out = append(out, f)
	}
	return out, nil
}

func sortFiles(files []*File, orderBy string, desc bool) {
	less := func(a, b *File) bool { return a.FieldValue() < b.FieldValue() }
	switch orderBy {
	case "uploaded_at":
		less = func(a, b *File) bool { return a.UploadedAt.Before(b.UploadedAt) }
	case "size_kb":
		less = func(a, b *File) bool { return a.SizeKB < b.SizeKB }
	}

	sort.SliceStable(files, func(i, j int) bool {
		if desc {
			return less(files[j], files[i])
		}
		return less(files[i], files[j])
	})
}

// FindOne looks a file up by field value. Purely numeric values are first
// tried as legacy ids. A missing file yields (nil, nil).
func (s *Store) FindOne(ctx context.Context, value string) (*File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rel, ok, err := s.relativePath(ctx, value)
	if err != nil || !ok {
		return nil, err
	}

	f, err := s.backend.Stat(ctx, rel)
	if errors.Is(err, ErrNotFound) || errors.Is(err, errInvalidPath) {
		return nil, nil
	}
	return f, err
}

// relativePath turns a field value into a tenant-relative path.
func (s *Store) relativePath(ctx context.Context, value string) (string, bool, error) {
	if id, ok := legacy.ParseID(value); ok && s.m.cfg.Legacy != nil {
		rel, found, err := s.m.cfg.Legacy.Resolve(ctx, s.tenant, id)
		if err != nil {
			return "", false, err
		}
		if found {
			logger.Debug("Resolved legacy file id %d to %s", id, rel)
			return pathutil.NormalizeFieldValueInput(rel), true, nil
		}
	}
	rel, ok := s.resolver.RelativePathFromFieldValue(value)
	return rel, ok && rel != "", nil
}
