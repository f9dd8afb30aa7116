package localfs

import (
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	// MaxFilenameBytes is the common filesystem limit for a single path segment.
	MaxFilenameBytes = 255
	DefaultFilename  = "unnamed_file"
	reservedPrefix   = "file_"
)

var reservedNames = map[string]struct{}{
	"CON": {}, "PRN": {}, "AUX": {}, "NUL": {},
	"COM1": {}, "COM2": {}, "COM3": {}, "COM4": {}, "COM5": {}, "COM6": {}, "COM7": {}, "COM8": {}, "COM9": {},
	"LPT1": {}, "LPT2": {}, "LPT3": {}, "LPT4": {}, "LPT5": {}, "LPT6": {}, "LPT7": {}, "LPT8": {}, "LPT9": {},
}

// Sanitize turns an untrusted filename into a single safe path segment.
// It never fails and never returns an empty string.
func Sanitize(filename string) string {
	name := lastSegment(filename)
	name = replaceIllegal(name)
	name = strings.Trim(name, ". ")

	if isReserved(name) {
		name = reservedPrefix + name
	}

	name = truncate(name, MaxFilenameBytes)
	if name == "" {
		return DefaultFilename
	}
	return name
}

// OutputFilename derives the Markdown file name for an uploaded file.
func OutputFilename(original string) string {
	base := Sanitize(original)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return Sanitize(stem + ".md")
}

func lastSegment(name string) string {
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		return name[i+1:]
	}
	return name
}

func replaceIllegal(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for i := 0; i < len(name); {
		r, size := utf8.DecodeRuneInString(name[i:])
		i += size
		switch {
		case r == utf8.RuneError && size == 1:
			b.WriteByte('_')
		case isControl(r):
			b.WriteByte('_')
		case strings.ContainsRune(`<>:"/\|?*`, r):
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isControl(r rune) bool {
	return r <= 0x1F || (r >= 0x7F && r <= 0x9F)
}

func isReserved(name string) bool {
	stem := name
	if i := strings.IndexByte(stem, '.'); i >= 0 {
		stem = stem[:i]
	}
	_, ok := reservedNames[strings.ToUpper(strings.TrimRight(stem, " "))]
	return ok
}

// truncate cuts the stem first so the extension survives, on rune boundaries.
func truncate(name string, limit int) string {
	if len(name) <= limit {
		return name
	}
	ext := filepath.Ext(name)
	if len(ext) >= limit || ext == name {
		ext = ""
	}
	stem := cutBytes(strings.TrimSuffix(name, ext), limit-len(ext))
	stem = strings.TrimRight(stem, ". ")
	if stem == "" {
		return ""
	}
	return stem + ext
}

func cutBytes(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// withSuffix inserts _n before the extension and keeps the result within the limit.
func withSuffix(name string, n int) string {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	suffix := "_" + strconv.Itoa(n)
	stem = cutBytes(stem, MaxFilenameBytes-len(ext)-len(suffix))
	return stem + suffix + ext
}
