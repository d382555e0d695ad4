// Package sanitize cleans user-supplied text before it is stored in the run
// catalog or used to build file names.
package sanitize

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxNoteLength is the maximum length of a run note, in runes.
const MaxNoteLength = 200

// MaxNameLength is the maximum length of a derived file name component.
const MaxNameLength = 80

var (
	reWhitespace          = regexp.MustCompile(`\s+`)
	reRepeatedHyphens     = regexp.MustCompile(`-{2,}`)
	reRepeatedUnderscores = regexp.MustCompile(`_{2,}`)
)

// Note reduces a free-form note to a single printable line:
//  1. Strip control characters, keeping tabs and newlines as spaces
//  2. Collapse runs of whitespace to one space
//  3. Trim leading/trailing whitespace
//  4. Truncate to MaxNoteLength runes, marking the cut with "..."
func Note(input string) string {
	if input == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(input))
	for _, r := range input {
		switch {
		case r == '\n' || r == '\t' || r == '\r':
			b.WriteByte(' ')
		case r == utf8.RuneError, unicode.IsControl(r):
		default:
			b.WriteRune(r)
		}
	}
	s := reWhitespace.ReplaceAllString(b.String(), " ")
	s = strings.TrimSpace(s)

	if utf8.RuneCountInString(s) > MaxNoteLength {
		runes := []rune(s)
		s = strings.TrimSpace(string(runes[:MaxNoteLength])) + "..."
	}
	return s
}

// Name keeps only [a-zA-Z0-9._-] from input, maps path separators to
// underscores and collapses repeats, for use as one file name component.
// It returns "" when nothing usable remains.
func Name(input string) string {
	if input == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(input))
	for _, r := range input {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'),
			r == '-', r == '_', r == '.':
			b.WriteRune(r)
		case r == '/' || r == '\\':
			b.WriteByte('_')
		}
	}
	s := b.String()

	s = reRepeatedHyphens.ReplaceAllString(s, "-")
	s = reRepeatedUnderscores.ReplaceAllString(s, "_")
	s = strings.Trim(s, "._")

	if len(s) > MaxNameLength {
		s = s[:MaxNameLength]
	}
	return s
}
