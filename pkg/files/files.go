// Package files is the backend-agnostic file layer of tenantfs.
//
// A File describes one file or directory of a tenant. Where it lives is
// carried by its Location, which is either a LocalLocation (a path below the
// tenant root on disk) or an ObjectLocation (a key in the tenant namespace of
// an object store). Operations are performed by a per-tenant Store, which
// dispatches to the Backend configured for the deployment.
//
// Every value handed to a Store by callers is untrusted. Values that cannot
// be proven to stay inside the tenant are reported exactly like missing
// files.
package files

import (
	"errors"
	"path"
	"strings"
	"time"

	"github.com/marmos91/tenantfs/pkg/dircache"
	"github.com/marmos91/tenantfs/pkg/meta"
)

var (
	// ErrNotFound is returned for missing files and rejected paths.
	ErrNotFound = errors.New("file not found")

	// ErrExists is returned when a rename or move target is taken.
	ErrExists = errors.New("file already exists")

	// ErrNotSupported is returned for operations the active backend lacks.
	ErrNotSupported = errors.New("operation not supported by backend")

	// ErrTimeout is returned when waiting for a directory cache build takes
	// too long.
	ErrTimeout = dircache.ErrTimeout

	// ErrNoFreeName is returned when GetNewPath exhausts its attempts.
	ErrNoFreeName = errors.New("no free file name")

	// ErrInvalidTenant is returned for tenant names that are empty or not a
	// single path segment.
	ErrInvalidTenant = errors.New("invalid tenant name")

	// errInvalidPath never leaves this package; it becomes ErrNotFound.
	errInvalidPath = errors.New("invalid path")

	errDeleteRoot = errors.New("refusing to delete tenant root")
)

// Kind tells the backends apart.
type Kind int

const (
	KindLocal Kind = iota
	KindObject
)

func (k Kind) String() string {
	if k == KindObject {
		return "s3"
	}
	return "local"
}

// Location is where a File lives. It is either LocalLocation or
// ObjectLocation.
type Location interface {
	// FieldValue is the value stored in File columns of application rows.
	FieldValue() string
	Kind() Kind
}

// LocalLocation is a file on disk.
type LocalLocation struct {
	// Path is absolute.
	Path string
	// Rel is relative to the tenant root, with forward slashes.
	Rel string
	// RecordID is the primary key of the database metadata row, if any.
	RecordID *int64
}

func (l LocalLocation) FieldValue() string { return l.Rel }
func (LocalLocation) Kind() Kind           { return KindLocal }

// ObjectLocation is an object in the tenant namespace of the bucket.
type ObjectLocation struct {
	// Key is relative to the tenant prefix.
	Key string
}

func (o ObjectLocation) FieldValue() string { return o.Key }
func (ObjectLocation) Kind() Kind           { return KindObject }

// File describes one file or directory.
type File struct {
	Filename    string
	Location    Location
	MimeSuper   string
	MimeSub     string
	SizeKB      int64
	UploadedAt  time.Time
	UserID      *int
	MinRoleRead int
	IsDirectory bool

	// attrs is the metadata store that owns MinRoleRead and UserID of a
	// local file. It is chosen when the File is built.
	attrs meta.Store
}

// FieldValue returns the canonical relative path of the file.
func (f *File) FieldValue() string {
	if f == nil || f.Location == nil {
		return ""
	}
	return f.Location.FieldValue()
}

// ID returns the database record id. Object-store files and files without a
// metadata row have none.
func (f *File) ID() (int64, bool) {
	if l, ok := f.Location.(LocalLocation); ok && l.RecordID != nil {
		return *l.RecordID, true
	}
	return 0, false
}

// InObjectStore reports whether the file lives in the object store.
func (f *File) InObjectStore() bool {
	return f.Location != nil && f.Location.Kind() == KindObject
}

// Mimetype joins the MIME parts, or returns "" when unknown.
func (f *File) Mimetype() string {
	if f.MimeSuper == "" || f.MimeSub == "" {
		return ""
	}
	return f.MimeSuper + "/" + f.MimeSub
}

// IsImage reports whether the file is an image.
func (f *File) IsImage() bool { return f.MimeSuper == "image" }

// Folder returns the relative folder that contains the file.
func (f *File) Folder() string {
	return parentOf(f.FieldValue())
}

// Extension returns the lower-case extension without the dot.
func (f *File) Extension() string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(f.Filename), "."))
}

// CanRead reports whether a user with role may read the file. Lower role
// numbers are more privileged.
func (f *File) CanRead(role int) bool {
	return role <= f.MinRoleRead
}

func parentOf(rel string) string {
	dir := path.Dir(rel)
	if dir == "." || dir == "/" {
		return ""
	}
	return dir
}

// hiddenName reports whether name is excluded from normal listings.
func hiddenName(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasPrefix(name, derivativePrefix)
}
