// Package badgermeta stores file attributes in an embedded BadgerDB. It is
// the database-less alternative to sqlmeta for filesystems that cannot hold
// extended attributes.
//
// Key layout: "m:<tenant>:<rel>" -> JSON record.
package badgermeta

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/marmos91/tenantfs/pkg/meta"
)

type record struct {
	Filename    string `json:"filename"`
	MimeSuper   string `json:"mime_super,omitempty"`
	MimeSub     string `json:"mime_sub,omitempty"`
	SizeKB      int64  `json:"size_kb"`
	UploadedAt  int64  `json:"uploaded_at"`
	UserID      *int   `json:"user_id,omitempty"`
	MinRoleRead int    `json:"min_role_read"`
}

// Store implements meta.Store on BadgerDB.
type Store struct {
	db *badger.DB
}

var _ meta.Store = (*Store)(nil)

// New wraps an open database. The caller keeps ownership of db.
func New(db *badger.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Name() string { return "badger" }

func tenantPrefix(tenant string) []byte {
	return []byte("m:" + tenant + ":")
}

func key(tenant, rel string) []byte {
	return append(tenantPrefix(tenant), rel...)
}

func (s *Store) get(txn *badger.Txn, k []byte) (*record, error) {
	item, err := txn.Get(k)
	if err != nil {
		return nil, err
	}
	var rec record
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to decode %q: %w", k, err)
	}
	return &rec, nil
}

func put(txn *badger.Txn, k []byte, rec *record) error {
	val, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return txn.Set(k, val)
}

func (s *Store) Load(ctx context.Context, tenant, rel string) (meta.Attributes, bool, error) {
	if err := ctx.Err(); err != nil {
		return meta.Attributes{}, false, err
	}

	var rec *record
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		rec, err = s.get(txn, key(tenant, rel))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return meta.Attributes{MinRoleRead: meta.DefaultMinRoleRead}, false, nil
	}
	if err != nil {
		return meta.Attributes{}, false, err
	}
	return meta.Attributes{
		MinRoleRead: rec.MinRoleRead,
		UserID:      rec.UserID,
		MimeSuper:   rec.MimeSuper,
		MimeSub:     rec.MimeSub,
	}, true, nil
}

func (s *Store) Create(ctx context.Context, tenant, rel string, r meta.Record) (meta.Attributes, error) {
	if err := ctx.Err(); err != nil {
		return meta.Attributes{}, err
	}

	filename := r.Filename
	if filename == "" {
		filename = path.Base(rel)
	}
	rec := &record{
		Filename:    filename,
		MimeSuper:   r.MimeSuper,
		MimeSub:     r.MimeSub,
		SizeKB:      r.SizeKB,
		UploadedAt:  r.UploadedAt.Unix(),
		UserID:      r.UserID,
		MinRoleRead: r.MinRoleRead,
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return put(txn, key(tenant, rel), rec)
	})
	if err != nil {
		return meta.Attributes{}, err
	}
	return meta.Attributes{MinRoleRead: r.MinRoleRead, UserID: r.UserID, MimeSuper: r.MimeSuper, MimeSub: r.MimeSub}, nil
}

func (s *Store) modify(ctx context.Context, tenant, rel string, fn func(*record)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		k := key(tenant, rel)
		rec, err := s.get(txn, k)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%s: %w", rel, meta.ErrNotFound)
		}
		if err != nil {
			return err
		}
		fn(rec)
		return put(txn, k, rec)
	})
}

func (s *Store) SetRole(ctx context.Context, tenant, rel string, role int) error {
	return s.modify(ctx, tenant, rel, func(r *record) { r.MinRoleRead = role })
}

func (s *Store) SetUser(ctx context.Context, tenant, rel string, userID *int) error {
	return s.modify(ctx, tenant, rel, func(r *record) { r.UserID = userID })
}

// keysBelow collects the keys of rel and, for directories, of everything
// below it.
func keysBelow(txn *badger.Txn, tenant, rel string, isDir bool) [][]byte {
	if !isDir {
		k := key(tenant, rel)
		if _, err := txn.Get(k); err != nil {
			return nil
		}
		return [][]byte{k}
	}

	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = key(tenant, rel+"/")

	it := txn.NewIterator(opts)
	defer it.Close()

	var keys [][]byte
	for it.Rewind(); it.Valid(); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	return keys
}

func (s *Store) Rename(ctx context.Context, tenant, oldRel, newRel string, isDir bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		prefix := tenantPrefix(tenant)
		for _, k := range keysBelow(txn, tenant, oldRel, isDir) {
			rec, err := s.get(txn, k)
			if err != nil {
				return err
			}

			rel := string(k[len(prefix):])
			target := newRel + strings.TrimPrefix(rel, oldRel)
			if !isDir {
				rec.Filename = path.Base(newRel)
			}

			if err := txn.Delete(k); err != nil {
				return err
			}
			if err := put(txn, key(tenant, target), rec); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) Delete(ctx context.Context, tenant, rel string, isDir bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		for _, k := range keysBelow(txn, tenant, rel, isDir) {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}
