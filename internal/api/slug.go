package api

import (
	"strings"

	"github.com/google/uuid"
)

// slugify lowercases a name, keeps alphanumerics with dashes, and appends
// a short random suffix so names never collide on the unique slug column.
func slugify(name string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	slug := strings.Trim(b.String(), "-")
	if slug == "" {
		slug = "n"
	}
	return slug + "-" + uuid.NewString()[:8]
}
