// Package legacy maps the integer file identifiers of old links to current
// relative paths.
//
// Files used to be addressed by the primary key of their metadata row.
// Persisted links may still carry such numbers; they are resolved here and
// only here, before a value is treated as a path.
package legacy

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"

	"github.com/dgraph-io/badger/v4"
	"github.com/marmos91/tenantfs/pkg/meta/sqlmeta"
)

// Resolver maps a legacy id to a tenant-relative path.
type Resolver interface {
	Resolve(ctx context.Context, tenant string, id int64) (string, bool, error)
}

// ParseID reports whether v is a purely numeric legacy id.
func ParseID(v string) (int64, bool) {
	if v == "" {
		return 0, false
	}
	for _, c := range v {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// Chain tries each resolver in order.
type Chain []Resolver

func (c Chain) Resolve(ctx context.Context, tenant string, id int64) (string, bool, error) {
	for _, r := range c {
		if r == nil {
			continue
		}
		rel, ok, err := r.Resolve(ctx, tenant, id)
		if err != nil || ok {
			return rel, ok, err
		}
	}
	return "", false, nil
}

// MapResolver is a static table, usually loaded from configuration. The
// same table applies to every tenant.
type MapResolver map[int64]string

func (m MapResolver) Resolve(_ context.Context, _ string, id int64) (string, bool, error) {
	rel, ok := m[id]
	return rel, ok, nil
}

// RowResolver resolves ids through the primary keys of the file metadata
// table.
type RowResolver struct {
	Rows *sqlmeta.Store
}

func (r RowResolver) Resolve(ctx context.Context, tenant string, id int64) (string, bool, error) {
	row, ok, err := r.Rows.GetByID(ctx, tenant, id)
	if err != nil || !ok {
		return "", false, err
	}
	return row.Location, true, nil
}

// BadgerResolver is a persistent table kept in BadgerDB.
//
// Key layout: "legacy:<tenant>:" + 8-byte big-endian id -> relative path.
type BadgerResolver struct {
	db *badger.DB
}

// NewBadgerResolver wraps an open database.
func NewBadgerResolver(db *badger.DB) *BadgerResolver {
	return &BadgerResolver{db: db}
}

func legacyKey(tenant string, id int64) []byte {
	k := []byte("legacy:" + tenant + ":")
	return binary.BigEndian.AppendUint64(k, uint64(id))
}

func (b *BadgerResolver) Resolve(ctx context.Context, tenant string, id int64) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	var rel string
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(legacyKey(tenant, id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			rel = string(val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("legacy id %d: %w", id, err)
	}
	return rel, true, nil
}

// Put records the current location of a legacy id.
func (b *BadgerResolver) Put(ctx context.Context, tenant string, id int64, rel string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(legacyKey(tenant, id), []byte(rel))
	})
}

// Import stores every entry of m for tenant.
func (b *BadgerResolver) Import(ctx context.Context, tenant string, m map[int64]string) error {
	wb := b.db.NewWriteBatch()
	defer wb.Cancel()

	for id, rel := range m {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := wb.Set(legacyKey(tenant, id), []byte(rel)); err != nil {
			return err
		}
	}
	return wb.Flush()
}
