package utils

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	idTimeLayout   = "2006-01-02_15-04-05"
	idRandomLength = 6
)

var (
	nonWordRe    = regexp.MustCompile(`[^\w-]+`)
	dashesRe     = regexp.MustCompile(`-+`)
	underscoreRe = regexp.MustCompile(`_+`)
	edgeRe       = regexp.MustCompile(`^[-_]+|[-_]+$`)
)

// GenerateID returns a capture id: start time plus a short random lowercase/digit suffix.
func GenerateID(t time.Time) string {
	random := strings.ReplaceAll(uuid.New().String(), "-", "")
	return t.Format(idTimeLayout) + "_" + random[:idRandomLength]
}

// FolderFriendly lowercases s, turns spaces into dashes and strips everything that is not
// a word character, dash or underscore. " New Product! - " becomes "new-product".
func FolderFriendly(s string) string {
	s = strings.ReplaceAll(strings.ToLower(s), " ", "-")
	s = nonWordRe.ReplaceAllString(s, "")
	s = dashesRe.ReplaceAllString(s, "-")
	s = underscoreRe.ReplaceAllString(s, "_")
	return edgeRe.ReplaceAllString(s, "")
}

// FolderFriendlyList converts the non-blank parts to folder friendly segments.
func FolderFriendlyList(parts ...string) []string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			continue
		}
		if f := FolderFriendly(p); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// MergeMaps merges maps left to right; later keys override earlier ones. Never returns nil.
func MergeMaps(maps ...map[string]string) map[string]string {
	merged := make(map[string]string)
	for _, m := range maps {
		for k, v := range m {
			merged[k] = v
		}
	}
	return merged
}
