package s3

import (
	"net/url"
	"strconv"
	"strings"
)

// User metadata keys. S3 lowercases them on the wire.
const (
	MetaMinRoleRead = "min-role-read"
	MetaUserID      = "user-id"
	MetaMimeSuper   = "mime-super"
	MetaMimeSub     = "mime-sub"
	MetaFilename    = "filename"
)

// Metadata is the sidecar stored with every object. It is the authoritative
// source of the role and owner of object-backed files.
type Metadata struct {
	MinRoleRead *int
	UserID      *int
	MimeSuper   string
	MimeSub     string
	Filename    string
}

// Encode converts m to S3 user metadata. Unset fields are omitted instead of
// being written as empty strings.
func (m Metadata) Encode() map[string]string {
	out := make(map[string]string, 5)
	if m.MinRoleRead != nil {
		out[MetaMinRoleRead] = strconv.Itoa(*m.MinRoleRead)
	}
	if m.UserID != nil {
		out[MetaUserID] = strconv.Itoa(*m.UserID)
	}
	if m.MimeSuper != "" {
		out[MetaMimeSuper] = m.MimeSuper
	}
	if m.MimeSub != "" {
		out[MetaMimeSub] = m.MimeSub
	}
	if m.Filename != "" {
		// Header values must be ASCII.
		out[MetaFilename] = url.PathEscape(m.Filename)
	}
	return out
}

// Mimetype joins MimeSuper and MimeSub, or returns "" when either is unset.
func (m Metadata) Mimetype() string {
	if m.MimeSuper == "" || m.MimeSub == "" {
		return ""
	}
	return m.MimeSuper + "/" + m.MimeSub
}

// DecodeMetadata is the inverse of Encode. Keys are matched
// case-insensitively and malformed integers are treated as absent.
func DecodeMetadata(raw map[string]string) Metadata {
	var m Metadata
	for k, v := range raw {
		switch strings.ToLower(k) {
		case MetaMinRoleRead:
			if n, err := strconv.Atoi(v); err == nil {
				m.MinRoleRead = &n
			}
		case MetaUserID:
			if n, err := strconv.Atoi(v); err == nil {
				m.UserID = &n
			}
		case MetaMimeSuper:
			m.MimeSuper = v
		case MetaMimeSub:
			m.MimeSub = v
		case MetaFilename:
			if name, err := url.PathUnescape(v); err == nil {
				m.Filename = name
			} else {
				m.Filename = v
			}
		}
	}
	return m
}

// IntPtr is a small helper for building Metadata literals.
func IntPtr(v int) *int { return &v }
