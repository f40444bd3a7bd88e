package index

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

// itemPath derives the blob-store path for an item's image file. The path
// is deterministic in the item identifier and the image bytes: the
// identifier is sanitized for readability and suffixed with a short hash
// over identifier plus content. Distinct identifiers can never collide
// after sanitization, and concurrent ingests of one identifier with
// different images write distinct files, so a losing ingest's conflict
// cleanup can only ever remove the file it wrote itself.
func itemPath(itemID string, data []byte, format string) string {
	ext := format
	if ext == "jpeg" {
		ext = "jpg"
	}
	h := sha256.New()
	h.Write([]byte(itemID))
	h.Write(data)
	return fmt.Sprintf("items/%s-%x.%s", sanitize(itemID), h.Sum(nil)[:4], ext)
}

// sanitize maps an item identifier to a filesystem- and key-safe string.
func sanitize(itemID string) string {
	var b strings.Builder
	b.Grow(len(itemID))
	for _, r := range itemID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
