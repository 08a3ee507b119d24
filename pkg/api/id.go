package api

import (
	"regexp"
	"strings"
)

type (
	// SourceID is a unique identifier for a configured source
	SourceID string

	// StepID is a unique identifier for a flow step
	StepID string

	// Name is a string identifier for arguments, outputs and secrets
	Name string
)

// InvalidIDChars matches characters not permitted in source and step IDs.
// Valid characters are: letters, digits, underscore, dot, hyphen, plus,
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
