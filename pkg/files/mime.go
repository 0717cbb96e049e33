package files

import (
	"math"
	"mime"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const octetStream = "application/octet-stream"

// DetectMime returns the MIME type of a file called name holding data. The
// extension wins; content sniffing is the fallback.
func DetectMime(name string, data []byte) string {
	if t := mime.TypeByExtension(path.Ext(name)); t != "" {
		return t
	}
	if len(data) == 0 {
		return octetStream
	}
	return mimetype.Detect(data).String()
}

// detectFileMime is DetectMime for a file on disk. The file is only opened
// when the extension is unknown.
func detectFileMime(name, abs string) string {
	if t := mime.TypeByExtension(path.Ext(name)); t != "" {
		return t
	}
	m, err := mimetype.DetectFile(abs)
	if err != nil {
		return octetStream
	}
	return m.String()
}

// splitMime splits "image/png; charset=x" into "image" and "png".
func splitMime(t string) (string, string) {
	if mt, _, err := mime.ParseMediaType(t); err == nil {
		t = mt
	}
	super, sub, ok := strings.Cut(t, "/")
	if !ok {
		return "", ""
	}
	return super, sub
}

// sizeKB rounds a byte count to kilobytes.
func sizeKB(n int64) int64 {
	return int64(math.Round(float64(n) / 1024))
}
