// Package pathutil turns untrusted path fragments into locations that are
// guaranteed to stay inside a trusted root, and converts between the three
// shapes a stored file takes: the value persisted in application rows (the
// "field value"), the backend location, and the URL it is served from.
//
// Every disk access in tenantfs goes through NormaliseInBase.
package pathutil

import (
	"net/url"
	"path"
	"path/filepath"
	"regexp"
	"strings"
)

var absoluteURL = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.\-]*://`)

// Normalise collapses "." and ".." segments and strips any leading run of
// "../" so the result can never climb above the point it is joined onto.
// Backslashes are treated as separators. The empty path normalises to "".
func Normalise(p string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	if p == "" {
		return ""
	}

	cleaned := path.Clean(p)
	for strings.HasPrefix(cleaned, "../") {
		cleaned = strings.TrimPrefix(cleaned, "../")
	}
	if cleaned == ".." || cleaned == "." {
		return ""
	}

	return cleaned
}

// NormaliseInBase joins each untrusted segment, normalised on its own, onto
// base and checks that the result is base itself or lies below it.
//
// The second return value is false when the check fails; callers must treat
// that exactly like a missing file.
func NormaliseInBase(base string, segments ...string) (string, bool) {
	normBase := filepath.Clean(base)

	parts := make([]string, 0, len(segments)+1)
	parts = append(parts, normBase)
	for _, s := range segments {
		parts = append(parts, filepath.FromSlash(Normalise(s)))
	}
	joined := filepath.Join(parts...)

	sep := string(filepath.Separator)
	if joined == normBase || strings.HasPrefix(joined, strings.TrimSuffix(normBase, sep)+sep) {
		return joined, true
	}

	return "", false
}

// IsAbsoluteURL reports whether v starts with a URI scheme such as "https://".
func IsAbsoluteURL(v string) bool {
	return absoluteURL.MatchString(v)
}

// FieldValueFromRelative converts a root-relative path into the canonical
// value stored in "File" columns: forward slashes, no leading slash.
func FieldValueFromRelative(rel string) string {
	return strings.TrimLeft(strings.ReplaceAll(rel, `\`, "/"), "/")
}

// NormalizeFieldValueInput is the canonical form of a non-URL field value.
func NormalizeFieldValueInput(v string) string {
	return Normalise(FieldValueFromRelative(v))
}

// JoinRelative joins root-relative segments into a field value.
func JoinRelative(segments ...string) string {
	return NormalizeFieldValueInput(path.Join(segments...))
}

// EscapePath percent-encodes each segment of a slash-separated path.
func EscapePath(rel string) string {
	segments := strings.Split(rel, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}

// AbsPathToServePath maps an absolute disk path under root back to its field
// value. It returns false when abs is not inside root.
func AbsPathToServePath(root, abs string) (string, bool) {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(abs))
	if err != nil {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", false
	}
	if rel == "." {
		return "", true
	}
	return FieldValueFromRelative(rel), true
}
