package files

import (
	"context"

	"github.com/marmos91/tenantfs/pkg/meta"
)

// Backend performs storage operations for one tenant. Paths are
// tenant-relative field values; implementations normalise them again before
// touching storage.
//
// Missing files are reported as ErrNotFound, occupied targets as ErrExists.
// Any other error comes from the storage itself and is returned unchanged.
type Backend interface {
	Kind() Kind

	// Stat describes the file or directory at rel.
	Stat(ctx context.Context, rel string) (*File, error)

	// Exists reports whether anything lives at rel.
	Exists(ctx context.Context, rel string) (bool, error)

	// List returns the entries of folder, descending into subdirectories when
	// recursive is set. Hidden and derivative entries are never returned.
	// keep is consulted before an entry is described, so entries it rejects
	// cost no metadata lookup.
	List(ctx context.Context, folder string, recursive bool, keep func(name string, isDir bool) bool) ([]*File, error)

	// Directories returns every directory of the tenant, the root first.
	Directories(ctx context.Context) ([]File, error)

	Read(ctx context.Context, rel string) ([]byte, error)

	// Write creates or replaces the file at rel, creating parent folders.
	Write(ctx context.Context, rel string, data []byte, rec meta.Record) (*File, error)

	Mkdir(ctx context.Context, rel string) (*File, error)

	// Move relocates a file or directory tree together with its metadata.
	Move(ctx context.Context, from, to string, isDir bool) error

	// Forget removes the metadata record of f, and of everything below it
	// for directories. Backends whose metadata lives with the content do
	// nothing.
	Forget(ctx context.Context, f *File) error

	// Delete removes the content of a file with its derivatives, or a whole
	// directory tree. The tenant root is never deleted.
	Delete(ctx context.Context, f *File) error

	SetRole(ctx context.Context, f *File, role int) error
	SetUser(ctx context.Context, f *File, userID *int) error
}
