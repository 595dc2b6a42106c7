package builtin

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// nbsp is U+00A0 NO-BREAK SPACE; spreadsheet exports often pad cells with it.
const nbsp = "\u00a0"

// HasEdgeSpace reports whether s begins or ends with ASCII whitespace
// (space, tab, LF, CR). It lets hot paths skip strings.TrimSpace allocations
// for already-clean values.
func HasEdgeSpace(s string) bool {
	if s == "" {
		return false
	}
	switch s[0] {
	case ' ', '\t', '\n', '\r':
		return true
	}
	switch s[len(s)-1] {
	case ' ', '\t', '\n', '\r':
		return true
	}
	return false
}

// Clean replaces NBSP with a regular space and trims surrounding whitespace.
func Clean(s string) string {
	if strings.Contains(s, nbsp) {
		s = strings.ReplaceAll(s, nbsp, " ")
	}
	if HasEdgeSpace(s) {
		s = strings.TrimSpace(s)
	}
	return s
}

// displayText drops control characters and composes to NFC so that visually
// identical names ("Zürich" typed two ways) are stored identically.
var displayText = transform.Chain(runes.Remove(runes.In(unicode.Cc)), norm.NFC)

// NormalizeText cleans a free-text display value (country, city).
func NormalizeText(s string) string {
	s = Clean(s)
	if s == "" {
		return s
	}
	out, _, err := transform.String(displayText, s)
	if err != nil {
		return s
	}
	return out
}
