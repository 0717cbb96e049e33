// Package local implements the on-disk backend of tenantfs.
//
// Every tenant owns the directory "<root>/<tenant>". All paths accepted by
// this package, absolute or relative, are checked against the tenant root
// with pathutil.NormaliseInBase before the filesystem is touched; a path
// outside the root is reported as ErrNotFound.
package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/tenantfs/internal/logger"
	"github.com/marmos91/tenantfs/pkg/pathutil"
)

// DerivativePrefix marks generated files, such as resized images, that are
// disposable and removed together with their source.
const DerivativePrefix = "_resized_"

var (
	// ErrNotFound is returned for missing paths and for paths that resolve
	// outside the tenant root. The two cases are deliberately identical.
	ErrNotFound = errors.New("file not found")

	// ErrExists is returned when a rename or move target is taken.
	ErrExists = errors.New("file already exists")
)

// Store is the filesystem backend rooted at one directory.
//
// Thread Safety: a Store holds no mutable state. Concurrent writers to the
// same path race at the filesystem level.
type Store struct {
	root string
}

// Entry describes one file or directory on disk.
type Entry struct {
	Name    string
	Path    string // absolute
	Rel     string // field value relative to the tenant root
	Size    int64
	ModTime time.Time
	IsDir   bool
}

// New creates a Store rooted at root, creating the directory if needed.
func New(ctx context.Context, root string) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root %q: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("failed to create root directory: %w", err)
	}

	return &Store{root: abs}, nil
}

// Tenant returns the Store of one tenant, creating its root directory.
func (s *Store) Tenant(ctx context.Context, name string) (*Store, error) {
	root, ok := pathutil.NormaliseInBase(s.root, name)
	if !ok || root == s.root {
		return nil, fmt.Errorf("invalid tenant name %q", name)
	}
	return New(ctx, root)
}

// Root returns the absolute root directory.
func (s *Store) Root() string { return s.root }

// Resolve joins untrusted relative segments onto the root.
func (s *Store) Resolve(segments ...string) (string, bool) {
	return pathutil.NormaliseInBase(s.root, segments...)
}

// Relative returns the field value of an absolute path inside the root.
func (s *Store) Relative(abs string) (string, bool) {
	return pathutil.AbsPathToServePath(s.root, abs)
}

// check verifies that abs lies inside the root and returns its cleaned form.
func (s *Store) check(abs string) (string, error) {
	rel, ok := s.Relative(abs)
	if !ok {
		return "", ErrNotFound
	}
	cleaned, ok := s.Resolve(rel)
	if !ok {
		return "", ErrNotFound
	}
	return cleaned, nil
}

func (s *Store) entry(abs string, info fs.FileInfo) Entry {
	rel, _ := s.Relative(abs)
	return Entry{
		Name:    info.Name(),
		Path:    abs,
		Rel:     rel,
		Size:    info.Size(),
		ModTime: info.ModTime(),
		IsDir:   info.IsDir(),
	}
}

// FromFileOnDisk stats name inside absFolder and describes it as an Entry.
//
// name is untrusted: it is normalised and joined onto absFolder, and the
// result must stay inside the root. absFolder itself must lie inside the
// root. Symbolic links are followed, so a link reports the size and type of
// its target; callers that stream content resolve it with RealPath first.
//
// Parameters:
//   - ctx: Context for cancellation
//   - name: File or directory name, possibly with relative segments
//   - absFolder: Absolute folder below the root to look in
//
// Returns:
//   - *Entry: The stat result with its root-relative path
//   - error: ErrNotFound for missing files and for any path that escapes
//     the root, or the context error
func (s *Store) FromFileOnDisk(ctx context.Context, name, absFolder string) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	folder, err := s.check(absFolder)
	if err != nil {
		return nil, err
	}
	abs, ok := pathutil.NormaliseInBase(folder, name)
	if !ok {
		return nil, ErrNotFound
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}

	e := s.entry(abs, info)
	return &e, nil
}

// Stat is FromFileOnDisk for a root-relative path.
func (s *Store) Stat(ctx context.Context, rel string) (*Entry, error) {
	abs, ok := s.Resolve(rel)
	if !ok {
		return nil, ErrNotFound
	}
	return s.FromFileOnDisk(ctx, filepath.Base(abs), filepath.Dir(abs))
}

// Exists reports whether abs exists. Paths outside the root never exist.
func (s *Store) Exists(abs string) bool {
	abs, err := s.check(abs)
	if err != nil {
		return false
	}
	_, err = os.Lstat(abs)
	return err == nil
}

// IsSymlink reports whether abs is a symbolic link. Links are neither
// followed nor rejected here.
func (s *Store) IsSymlink(abs string) (bool, error) {
	abs, err := s.check(abs)
	if err != nil {
		return false, err
	}
	info, err := os.Lstat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return false, ErrNotFound
		}
		return false, err
	}
	return info.Mode()&os.ModeSymlink != 0, nil
}

// RealPath resolves the symbolic links in abs. A path whose target leaves
// the root reports ErrNotFound, like a missing one.
func (s *Store) RealPath(abs string) (string, error) {
	abs, err := s.check(abs)
	if err != nil {
		return "", err
	}
	root, err := filepath.EvalSymlinks(s.root)
	if err != nil {
		return "", fmt.Errorf("failed to resolve root: %w", err)
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to resolve %q: %w", abs, err)
	}
	if _, ok := pathutil.AbsPathToServePath(root, real); !ok {
		logger.Warn("Symlink %s points outside %s", abs, s.root)
		return "", ErrNotFound
	}
	return real, nil
}

// ListDir calls fn for every entry of absDir, depth first when recursive.
// fn may return fs.SkipDir for a directory entry to prune it.
func (s *Store) ListDir(ctx context.Context, absDir string, recursive bool, fn func(Entry) error) error {
	dir, err := s.check(absDir)
	if err != nil {
		return err
	}

	if !recursive {
		items, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				return ErrNotFound
			}
			return fmt.Errorf("failed to read directory: %w", err)
		}
		for _, item := range items {
			if err := ctx.Err(); err != nil {
				return err
			}
			info, err := item.Info()
			if err != nil {
				continue // removed while listing
			}
			if err := fn(s.entry(filepath.Join(dir, item.Name()), info)); err != nil && !errors.Is(err, fs.SkipDir) {
				return err
			}
		}
		return nil
	}

	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				if os.IsNotExist(err) {
					return ErrNotFound
				}
				return err
			}
			return nil
		}
		if p == dir {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		return fn(s.entry(p, info))
	})
}

// AllDirectories walks the whole root and returns every directory, the root
// included, sorted by relative path. Hidden directories are pruned.
func (s *Store) AllDirectories(ctx context.Context) ([]Entry, error) {
	info, err := os.Stat(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to stat root: %w", err)
	}

	dirs := []Entry{s.entry(s.root, info)}
	err = s.ListDir(ctx, s.root, true, func(e Entry) error {
		if !e.IsDir {
			return nil
		}
		if strings.HasPrefix(e.Name, ".") {
			return fs.SkipDir
		}
		dirs = append(dirs, e)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(dirs, func(i, j int) bool { return dirs[i].Rel < dirs[j].Rel })
	return dirs, nil
}

// MkdirAll creates a directory below the root.
func (s *Store) MkdirAll(ctx context.Context, rel string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	abs, ok := s.Resolve(rel)
	if !ok {
		return "", ErrNotFound
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}
	return abs, nil
}

// Delete removes a file together with its derivatives, or a directory tree.
// Derivatives go first and failures to remove them are only logged.
func (s *Store) Delete(ctx context.Context, abs string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	abs, err := s.check(abs)
	if err != nil {
		return err
	}
	if abs == s.root {
		return fmt.Errorf("refusing to delete tenant root")
	}

	info, err := os.Lstat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return err
	}

	if info.IsDir() {
		s.removeDerivativesBelow(abs)
		if err := os.RemoveAll(abs); err != nil {
			return fmt.Errorf("failed to remove directory: %w", err)
		}
		logger.Debug("Deleted directory %s", abs)
		return nil
	}

	s.removeDerivativesOf(abs)
	if err := os.Remove(abs); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to remove file: %w", err)
	}
	logger.Debug("Deleted file %s", abs)
	return nil
}

func (s *Store) removeDerivativesBelow(dir string) {
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if strings.HasPrefix(d.Name(), DerivativePrefix) {
			if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
				logger.Warn("Failed to remove derivative %s: %v", p, err)
			}
		}
		return nil
	})
}

// removeDerivativesOf removes the siblings "_resized_*<name>" of a file.
func (s *Store) removeDerivativesOf(abs string) {
	pattern := filepath.Join(filepath.Dir(abs), DerivativePrefix+"*"+escapeGlob(filepath.Base(abs)))
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return
	}
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !os.IsNotExist(err) {
			logger.Warn("Failed to remove derivative %s: %v", m, err)
		}
	}
}

func escapeGlob(name string) string {
	r := strings.NewReplacer(`\`, `\\`, "*", `\*`, "?", `\?`, "[", `\[`)
	return r.Replace(name)
}

// Rename renames abs within its directory. The target must not exist.
func (s *Store) Rename(ctx context.Context, abs, newName string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	abs, err := s.check(abs)
	if err != nil {
		return "", err
	}
	if strings.ContainsAny(newName, `/\`) || pathutil.Normalise(newName) == "" {
		return "", fmt.Errorf("invalid name %q", newName)
	}

	target, ok := pathutil.NormaliseInBase(filepath.Dir(abs), newName)
	if !ok {
		return "", ErrNotFound
	}
	return target, s.move(abs, target)
}

// MoveToDir moves abs into the directory absDir keeping its name.
func (s *Store) MoveToDir(ctx context.Context, abs, absDir string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	abs, err := s.check(abs)
	if err != nil {
		return "", err
	}
	dir, err := s.check(absDir)
	if err != nil {
		return "", err
	}
	if abs == dir || strings.HasPrefix(dir, abs+string(filepath.Separator)) {
		return "", fmt.Errorf("cannot move %q into itself", abs)
	}

	target, ok := pathutil.NormaliseInBase(dir, filepath.Base(abs))
	if !ok {
		return "", ErrNotFound
	}
	return target, s.move(abs, target)
}

// MovePath moves abs to the exact location target. It is used to undo a
// rename or move.
func (s *Store) MovePath(ctx context.Context, abs, target string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	abs, err := s.check(abs)
	if err != nil {
		return err
	}
	target, err = s.check(target)
	if err != nil {
		return err
	}
	return s.move(abs, target)
}

func (s *Store) move(from, to string) error {
	if from == to {
		return nil
	}
	if _, err := os.Lstat(from); err != nil {
		return ErrNotFound
	}
	if _, err := os.Lstat(to); err == nil {
		return fmt.Errorf("%s: %w", filepath.Base(to), ErrExists)
	}
	if err := os.Rename(from, to); err != nil {
		return fmt.Errorf("failed to move %q: %w", from, err)
	}
	logger.Debug("Moved %s -> %s", from, to)
	return nil
}

// ReadFile returns the content of a file below the root.
func (s *Store) ReadFile(ctx context.Context, abs string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	abs, err := s.check(abs)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return data, nil
}

// WriteFile replaces the content of abs atomically: data goes to a temporary
// sibling first, which is then renamed over the target.
func (s *Store) WriteFile(ctx context.Context, abs string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	abs, err := s.check(abs)
	if err != nil {
		return err
	}

	tmp := filepath.Join(filepath.Dir(abs), ".tmp-"+uuid.NewString())
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write temporary file: %w", err)
	}
	if err := os.Rename(tmp, abs); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace file: %w", err)
	}
	return nil
}
