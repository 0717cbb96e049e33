package local

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/marmos91/tenantfs/internal/logger"
	"github.com/marmos91/tenantfs/pkg/meta"
	"github.com/marmos91/tenantfs/pkg/pathutil"
)

// Extended attribute names. The "user." namespace is writable by the file
// owner on Linux.
const (
	AttrMinRoleRead = "user.tenantfs.min_role_read"
	AttrUserID      = "user.tenantfs.user_id"
)

// errNoAttr is returned by getXattr when the attribute is absent.
var errNoAttr = errors.New("attribute not set")

// GetRole returns the role threshold stored on abs, or
// meta.DefaultMinRoleRead when the attribute is absent or unparsable.
func GetRole(abs string) int {
	raw, err := getXattr(abs, AttrMinRoleRead)
	if err != nil {
		return meta.DefaultMinRoleRead
	}
	role, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return meta.DefaultMinRoleRead
	}
	return role
}

// GetUser returns the owner stored on abs. Any read error yields nil.
func GetUser(abs string) *int {
	raw, err := getXattr(abs, AttrUserID)
	if err != nil {
		return nil
	}
	id, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil
	}
	return &id
}

// SetRole stores the role threshold on abs.
func SetRole(abs string, role int) error {
	return setXattr(abs, AttrMinRoleRead, []byte(strconv.Itoa(role)))
}

// SetUser stores the owner on abs. A nil user removes the attribute.
func SetUser(abs string, userID *int) error {
	if userID == nil {
		err := removeXattr(abs, AttrUserID)
		if errors.Is(err, errNoAttr) {
			return nil
		}
		return err
	}
	return setXattr(abs, AttrUserID, []byte(strconv.Itoa(*userID)))
}

// XattrMeta is the meta.Store backed by extended attributes of the files
// below a filesystem root laid out as "<root>/<tenant>/<rel>".
//
// Attributes travel with the file, so Rename and Delete have nothing to do.
type XattrMeta struct {
	root string
}

var _ meta.Store = (*XattrMeta)(nil)

// NewXattrMeta returns the xattr store of the filesystem rooted at the
// Store's root.
func NewXattrMeta(s *Store) *XattrMeta {
	return &XattrMeta{root: s.root}
}

func (x *XattrMeta) Name() string { return "xattr" }

func (x *XattrMeta) path(tenant, rel string) (string, bool) {
	return pathutil.NormaliseInBase(x.root, tenant, rel)
}

func (x *XattrMeta) Load(_ context.Context, tenant, rel string) (meta.Attributes, bool, error) {
	abs, ok := x.path(tenant, rel)
	if !ok {
		return meta.Attributes{MinRoleRead: meta.DefaultMinRoleRead}, false, nil
	}
	_, err := getXattr(abs, AttrMinRoleRead)
	return meta.Attributes{MinRoleRead: GetRole(abs), UserID: GetUser(abs)}, err == nil, nil
}

func (x *XattrMeta) Create(ctx context.Context, tenant, rel string, rec meta.Record) (meta.Attributes, error) {
	attrs := meta.Attributes{MinRoleRead: rec.MinRoleRead, UserID: rec.UserID}
	if err := x.SetRole(ctx, tenant, rel, rec.MinRoleRead); err != nil {
		if errors.Is(err, meta.ErrNotSupported) {
			logger.Warn("Extended attributes unsupported, %s keeps default role", rel)
			return attrs, nil
		}
		return attrs, err
	}
	if rec.UserID != nil {
		if err := x.SetUser(ctx, tenant, rel, rec.UserID); err != nil {
			return attrs, err
		}
	}
	return attrs, nil
}

func (x *XattrMeta) SetRole(_ context.Context, tenant, rel string, role int) error {
	abs, ok := x.path(tenant, rel)
	if !ok {
		return ErrNotFound
	}
	return SetRole(abs, role)
}

func (x *XattrMeta) SetUser(_ context.Context, tenant, rel string, userID *int) error {
	abs, ok := x.path(tenant, rel)
	if !ok {
		return ErrNotFound
	}
	return SetUser(abs, userID)
}

func (x *XattrMeta) Rename(context.Context, string, string, string, bool) error { return nil }

func (x *XattrMeta) Delete(context.Context, string, string, bool) error { return nil }
