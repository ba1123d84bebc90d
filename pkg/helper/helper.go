package helper

import (
	"os"
	"regexp"
	"time"
)

var illegalSlugChar = regexp.MustCompile(`[^\p{Ll}0-9_-]`)

// IsSlug reports whether candidate only contains lowercase letters, digits,
// underscores and dashes. The second return value holds the first offending
// character when it does not.
func IsSlug(candidate string) (bool, string) {
	whyNot := illegalSlugChar.FindString(candidate)
	return whyNot == "", whyNot
}

func UnixNow() int64 {
	return time.Now().Unix()
}

// Hostname returns the node hostname, falling back to a fixed name so
// callers never have to handle the error path.
func Hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "gantry-node"
	}
	return h
}
