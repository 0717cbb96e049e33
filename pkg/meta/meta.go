// Package meta defines where the access attributes of a file live.
//
// Object-backed files keep them in the object metadata sidecar. Files on
// disk keep them either in a metadata row (database or badger) or, when no
// row exists, in extended attributes. The store is selected once, when an
// entity is built, and used for every later attribute update of that entity.
package meta

import (
	"context"
	"errors"
	"time"
)

// DefaultMinRoleRead is the most restrictive role threshold. It applies when
// a file carries no readable role attribute.
const DefaultMinRoleRead = 100

var (
	// ErrNotSupported is returned when the underlying filesystem or
	// platform cannot store attributes.
	ErrNotSupported = errors.New("metadata not supported")

	// ErrNotFound is returned by updates targeting a missing record.
	ErrNotFound = errors.New("metadata record not found")
)

// Attributes are the access attributes of one file. ID is set only for
// records persisted in a database table. The mime parts are empty when the
// store did not record a content type.
type Attributes struct {
	ID          *int64
	MinRoleRead int
	UserID      *int
	MimeSuper   string
	MimeSub     string
}

// Record is the full description written when a file is created.
type Record struct {
	Filename    string
	MimeSuper   string
	MimeSub     string
	SizeKB      int64
	UploadedAt  time.Time
	UserID      *int
	MinRoleRead int
}

// Store persists Attributes keyed by tenant and tenant-relative path.
type Store interface {
	// Name identifies the implementation in logs.
	Name() string

	// Load returns the attributes of rel. The boolean is false when the
	// store holds nothing for rel.
	Load(ctx context.Context, tenant, rel string) (Attributes, bool, error)

	// Create records a new file.
	Create(ctx context.Context, tenant, rel string, rec Record) (Attributes, error)

	SetRole(ctx context.Context, tenant, rel string, role int) error
	SetUser(ctx context.Context, tenant, rel string, userID *int) error

	// Rename moves the record of oldRel to newRel. When isDir is set, every
	// record below oldRel moves as well.
	Rename(ctx context.Context, tenant, oldRel, newRel string, isDir bool) error

	// Delete removes the record of rel and, for directories, everything
	// below it. Deleting a missing record is not an error.
	Delete(ctx context.Context, tenant, rel string, isDir bool) error
}

// Select picks the store that owns the attributes of rel. The primary store
// wins when it holds a record; otherwise the fallback is used with whatever
// it reports. primary may be nil.
func Select(ctx context.Context, primary, fallback Store, tenant, rel string) (Store, Attributes, error) {
	if primary != nil {
		attrs, ok, err := primary.Load(ctx, tenant, rel)
		if err != nil {
			return nil, Attributes{}, err
		}
		if ok {
			return primary, attrs, nil
		}
	}

	attrs, _, err := fallback.Load(ctx, tenant, rel)
	if err != nil {
		return nil, Attributes{}, err
	}
	return fallback, attrs, nil
}

// IsUnder reports whether rel equals dir or lies below it.
func IsUnder(rel, dir string) bool {
	if dir == "" {
		return true
	}
	return rel == dir || (len(rel) > len(dir) && rel[:len(dir)] == dir && rel[len(dir)] == '/')
}
