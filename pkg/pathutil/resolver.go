package pathutil

import (
	"context"
	"net/url"
	"strings"
)

// DefaultServePrefix is the mount point of the proxied file routes.
const DefaultServePrefix = "/files"

// DirectLinker builds a browser-facing URL that bypasses the proxy routes,
// typically a public or pre-signed object-store URL.
type DirectLinker interface {
	FileURL(ctx context.Context, rel string) (string, error)
}

// Resolver holds the per-tenant settings needed to translate field values
// into locations and URLs.
type Resolver struct {
	// PublicURLPrefix, when set, lets absolute URLs starting with it be
	// mapped back to a relative key. It must end with "/".
	PublicURLPrefix string

	// DirectLinks prefers Linker URLs over the proxy routes for files that
	// live in the object store.
	DirectLinks bool

	// Linker is nil when no object store is configured.
	Linker DirectLinker

	// ServePrefix defaults to DefaultServePrefix.
	ServePrefix string
}

// ServeOptions selects the route produced by PathToServeURL.
type ServeOptions struct {
	// Download selects the attachment route instead of the inline one.
	Download bool

	// ObjectStore marks the value as living in the object store.
	ObjectStore bool
}

// RelativePathFromFieldValue is the inverse of FieldValueFromRelative.
//
// Absolute URLs are only accepted when they start with PublicURLPrefix; any
// other absolute URL returns false and must be treated as an opaque link.
func (r *Resolver) RelativePathFromFieldValue(v string) (string, bool) {
	if !IsAbsoluteURL(v) {
		return NormalizeFieldValueInput(v), true
	}

	if r == nil || r.PublicURLPrefix == "" || !strings.HasPrefix(v, r.PublicURLPrefix) {
		return "", false
	}

	rest := strings.TrimPrefix(v, r.PublicURLPrefix)
	if i := strings.IndexAny(rest, "?#"); i >= 0 {
		rest = rest[:i]
	}
	unescaped, err := url.PathUnescape(rest)
	if err != nil {
		return "", false
	}

	return NormalizeFieldValueInput(unescaped), true
}

// PathToServeURL builds the externally visible URL for a field value.
// Absolute URLs pass through unchanged.
func (r *Resolver) PathToServeURL(ctx context.Context, v string, opts ServeOptions) (string, error) {
	if IsAbsoluteURL(v) {
		return v, nil
	}

	rel := NormalizeFieldValueInput(v)

	if r != nil && r.DirectLinks && opts.ObjectStore && r.Linker != nil {
		return r.Linker.FileURL(ctx, rel)
	}

	prefix := DefaultServePrefix
	if r != nil && r.ServePrefix != "" {
		prefix = strings.TrimSuffix(r.ServePrefix, "/")
	}

	route := "serve"
	if opts.Download {
		route = "download"
	}

	return prefix + "/" + route + "/" + EscapePath(rel), nil
}
