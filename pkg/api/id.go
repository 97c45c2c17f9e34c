package api

import (
	"regexp"
	"strings"
)

type (
	// RunID is a unique identifier for a flow run
	RunID string

	// JobName names an external job known to the build system
	JobName string

	// NodeID identifies the execution node a run allocates resources on
	NodeID string

	// ResourceName names a resource guarded by a node's allocator
	ResourceName string
)

// DefaultNode is the node used when a run does not name one
const DefaultNode NodeID = "master"

// InvalidIDChars matches characters not permitted in run, node, and resource
// names. Valid characters are: letters, digits, underscore, dot, hyphen, plus,
// space
var InvalidIDChars = regexp.MustCompile(`[^a-zA-Z0-9_.\-+ ]`)

// SanitizeID lowercases an ID, removes invalid characters, replaces spaces
// with hyphens, and trims leading and trailing hyphens
func SanitizeID[T ~string](id T) T {
	lower := strings.ToLower(string(id))
	sanitized := InvalidIDChars.ReplaceAllString(lower, "")
	sanitized = strings.ReplaceAll(sanitized, " ", "-")
	return T(strings.Trim(sanitized, "-"))
}

// IsValidID reports whether id is non-empty and contains only permitted
// characters
func IsValidID[T ~string](id T) bool {
	return id != "" && !InvalidIDChars.MatchString(string(id))
}
