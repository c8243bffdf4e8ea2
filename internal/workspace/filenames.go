package workspace

import (
	"path/filepath"
	"slices"
	"strings"
)

const (
	invalidCharReplacement = "_"
	fallbackFilename       = "upload"
)

// SanitizeFilename reduces a client-supplied filename to a safe base name:
// directory components are dropped, characters that are invalid in most
// filesystems or awkward in engine arguments become underscores, and leading
// dots are stripped so the result is never hidden or a relative path.
func SanitizeFilename(filename string) string {
	base := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))

	replacer := strings.NewReplacer(
		"<", invalidCharReplacement,
		">", invalidCharReplacement,
		":", invalidCharReplacement,
		"\"", invalidCharReplacement,
		"/", invalidCharReplacement,
		"|", invalidCharReplacement,
		"?", invalidCharReplacement,
		"*", invalidCharReplacement,
		" ", invalidCharReplacement,
		"'", invalidCharReplacement,
		"$", invalidCharReplacement,
		"`", invalidCharReplacement,
		";", invalidCharReplacement,
		"&", invalidCharReplacement,
	)

	sanitized := strings.TrimLeft(replacer.Replace(base), ".")
	if sanitized == "" || sanitized == invalidCharReplacement {
		return fallbackFilename
	}

	return sanitized
}

// HasAllowedExtension reports whether filename ends in one of allowed,
// compared case-insensitively. Entries may be written with or without the
// leading dot.
func HasAllowedExtension(filename string, allowed []string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		return false
	}

	return slices.ContainsFunc(allowed, func(candidate string) bool {
		candidate = strings.ToLower(candidate)
		if !strings.HasPrefix(candidate, ".") {
			candidate = "." + candidate
		}

		return candidate == ext
	})
}

// Stem returns filename without its extension.
func Stem(filename string) string {
	return strings.TrimSuffix(filename, filepath.Ext(filename))
}
