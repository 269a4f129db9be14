package scraper

import (
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Default name-length caps, overridable from settings.
const (
	DefMaxFilenameLen = 95
	DefMaxFolderLen   = 60
)

// Characters never allowed in file or folder names.
const invalidNameChars = `<>:"/\|?*'`

var dotRun = regexp.MustCompile(`\.{2,}`)

// cleanName strips control characters and the invalid class, collapses
// runs of dots, and trims surrounding whitespace. Idempotent.
func cleanName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if r < 0x20 || r == 0x7f || strings.ContainsRune(invalidNameChars, r) {
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(dotRun.ReplaceAllString(b.String(), "."))
}

// truncRunes cuts s to at most max runes, then drops any trailing
// whitespace the cut exposed.
func truncRunes(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return strings.TrimRight(string(runes[:max]), " ")
}

// SanitizeFilename cleans name for use as a file name, preserving the
// extension when trimming to max runes (0 means DefMaxFilenameLen).
func SanitizeFilename(name string, max int) string {
	if max <= 0 {
		max = DefMaxFilenameLen
	}
	clean := cleanName(name)
	if utf8.RuneCountInString(clean) <= max {
		return clean
	}
	ext := filepath.Ext(clean)
	if utf8.RuneCountInString(ext) >= max {
		ext = ""
	}
	base := strings.TrimSuffix(clean, ext)
	base = strings.TrimRight(truncRunes(base, max-utf8.RuneCountInString(ext)), " .")
	return base + ext
}

// SanitizeFolder cleans name for use as a folder name, trimmed to max
// runes (0 means DefMaxFolderLen).
func SanitizeFolder(name string, max int) string {
	if max <= 0 {
		max = DefMaxFolderLen
	}
	return strings.TrimRight(truncRunes(cleanName(name), max), " .")
}
