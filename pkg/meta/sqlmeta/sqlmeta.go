// Package sqlmeta stores file attributes as rows of the "_sc_files" table.
package sqlmeta

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path"
	"time"
	"unicode/utf8"

	"github.com/marmos91/tenantfs/pkg/meta"
	"github.com/marmos91/tenantfs/pkg/sqldb"
)

// TableName is the file metadata table.
const TableName = "_sc_files"

// Row is one file record. Location is the tenant-relative field value.
type Row struct {
	ID          int64
	Location    string
	Filename    string
	MimeSuper   string
	MimeSub     string
	SizeKB      int64
	UploadedAt  time.Time
	UserID      *int
	MinRoleRead int
}

// Store implements meta.Store on top of a SQL database.
type Store struct {
	db *sqldb.DB
}

var _ meta.Store = (*Store)(nil)

// New returns a Store using db.
func New(db *sqldb.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Name() string { return "database" }

func (s *Store) table(ctx context.Context, tenant string) (string, error) {
	if err := s.db.EnsureTenant(ctx, tenant); err != nil {
		return "", err
	}
	return s.db.Table(tenant, TableName), nil
}

const rowColumns = "id, location, filename, mime_super, mime_sub, size_kb, uploaded_at, user_id, min_role_read"

func scanRow(scan func(...any) error) (*Row, error) {
	var (
		r    Row
		user sql.NullInt64
	)
	if err := scan(&r.ID, &r.Location, &r.Filename, &r.MimeSuper, &r.MimeSub,
		&r.SizeKB, &r.UploadedAt, &user, &r.MinRoleRead); err != nil {
		return nil, err
	}
	if user.Valid {
		id := int(user.Int64)
		r.UserID = &id
	}
	return &r, nil
}

// Get returns the row stored for rel.
func (s *Store) Get(ctx context.Context, tenant, rel string) (*Row, bool, error) {
	tbl, err := s.table(ctx, tenant)
	if err != nil {
		return nil, false, err
	}

	q := s.db.Rebind("SELECT " + rowColumns + " FROM " + tbl + " WHERE location = $1")
	r, err := scanRow(s.db.QueryRowContext(ctx, q, rel).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("db error: %w", err)
	}
	return r, true, nil
}

// GetByID returns the row with the given primary key.
func (s *Store) GetByID(ctx context.Context, tenant string, id int64) (*Row, bool, error) {
	tbl, err := s.table(ctx, tenant)
	if err != nil {
		return nil, false, err
	}

	q := s.db.Rebind("SELECT " + rowColumns + " FROM " + tbl + " WHERE id = $1")
	r, err := scanRow(s.db.QueryRowContext(ctx, q, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("db error: %w", err)
	}
	return r, true, nil
}

// List returns every row whose location lies below folder ("" for all).
func (s *Store) List(ctx context.Context, tenant, folder string) ([]Row, error) {
	tbl, err := s.table(ctx, tenant)
	if err != nil {
		return nil, err
	}

	q := "SELECT " + rowColumns + " FROM " + tbl
	var args []any
	if folder != "" {
		prefix := folder + "/"
		q += " WHERE substr(location, 1, $1) = $2"
		args = append(args, utf8.RuneCountInString(prefix), prefix)
	}
	q += " ORDER BY location"

	rows, err := s.db.QueryContext(ctx, s.db.Rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		r, err := scanRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *Store) Load(ctx context.Context, tenant, rel string) (meta.Attributes, bool, error) {
	r, ok, err := s.Get(ctx, tenant, rel)
	if err != nil || !ok {
		return meta.Attributes{MinRoleRead: meta.DefaultMinRoleRead}, false, err
	}
	id := r.ID
	return meta.Attributes{
		ID:          &id,
		MinRoleRead: r.MinRoleRead,
		UserID:      r.UserID,
		MimeSuper:   r.MimeSuper,
		MimeSub:     r.MimeSub,
	}, true, nil
}

func (s *Store) Create(ctx context.Context, tenant, rel string, rec meta.Record) (meta.Attributes, error) {
	tbl, err := s.table(ctx, tenant)
	if err != nil {
		return meta.Attributes{}, err
	}

	uploaded := rec.UploadedAt
	if uploaded.IsZero() {
		uploaded = time.Now().UTC()
	}
	filename := rec.Filename
	if filename == "" {
		filename = path.Base(rel)
	}

	var user any
	if rec.UserID != nil {
		user = int64(*rec.UserID)
	}

	q := s.db.Rebind("INSERT INTO " + tbl +
		" (location, filename, mime_super, mime_sub, size_kb, uploaded_at, user_id, min_role_read)" +
		" VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id")

	var id int64
	err = s.db.QueryRowContext(ctx, q, rel, filename, rec.MimeSuper, rec.MimeSub,
		rec.SizeKB, uploaded, user, rec.MinRoleRead).Scan(&id)
	if err != nil {
		return meta.Attributes{}, fmt.Errorf("db error: %w", err)
	}

	return meta.Attributes{
		ID:          &id,
		MinRoleRead: rec.MinRoleRead,
		UserID:      rec.UserID,
		MimeSuper:   rec.MimeSuper,
		MimeSub:     rec.MimeSub,
	}, nil
}

func (s *Store) update(ctx context.Context, tenant, rel, column string, value any) error {
	tbl, err := s.table(ctx, tenant)
	if err != nil {
		return err
	}

	q := s.db.Rebind("UPDATE " + tbl + " SET " + column + " = $1 WHERE location = $2")
	res, err := s.db.ExecContext(ctx, q, value, rel)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%s: %w", rel, meta.ErrNotFound)
	}
	return nil
}

func (s *Store) SetRole(ctx context.Context, tenant, rel string, role int) error {
	return s.update(ctx, tenant, rel, "min_role_read", role)
}

func (s *Store) SetUser(ctx context.Context, tenant, rel string, userID *int) error {
	var v any
	if userID != nil {
		v = int64(*userID)
	}
	return s.update(ctx, tenant, rel, "user_id", v)
}

// SetSize records a new content size after an overwrite.
func (s *Store) SetSize(ctx context.Context, tenant, rel string, sizeKB int64) error {
	return s.update(ctx, tenant, rel, "size_kb", sizeKB)
}

func (s *Store) Rename(ctx context.Context, tenant, oldRel, newRel string, isDir bool) error {
	tbl, err := s.table(ctx, tenant)
	if err != nil {
		return err
	}

	if !isDir {
		q := s.db.Rebind("UPDATE " + tbl + " SET location = $1, filename = $2 WHERE location = $3")
		if _, err := s.db.ExecContext(ctx, q, newRel, path.Base(newRel), oldRel); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		return nil
	}

	oldPrefix := oldRel + "/"
	n := utf8.RuneCountInString(oldPrefix)
	q := s.db.Rebind("UPDATE " + tbl +
		" SET location = CAST($1 AS TEXT) || substr(location, $2)" +
		" WHERE substr(location, 1, $3) = $4")
	if _, err := s.db.ExecContext(ctx, q, newRel+"/", n+1, n, oldPrefix); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, tenant, rel string, isDir bool) error {
	tbl, err := s.table(ctx, tenant)
	if err != nil {
		return err
	}

	if !isDir {
		q := s.db.Rebind("DELETE FROM " + tbl + " WHERE location = $1")
		if _, err := s.db.ExecContext(ctx, q, rel); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		return nil
	}

	prefix := rel + "/"
	q := s.db.Rebind("DELETE FROM " + tbl + " WHERE substr(location, 1, $1) = $2")
	if _, err := s.db.ExecContext(ctx, q, utf8.RuneCountInString(prefix), prefix); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
