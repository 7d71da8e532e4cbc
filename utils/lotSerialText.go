package utils

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/width"
)

var lotSerialUpper = cases.Upper(language.Und)

// NormalizeLotSerial folds full-width scanner input to ASCII, trims it and upper-cases it.
// Lot and serial numbers are compared in this form everywhere.
func NormalizeLotSerial(raw string) string {
	s := width.Narrow.String(raw)
	s = strings.TrimSpace(s)
	return lotSerialUpper.String(s)
}

// ContainsSpace reports whether a normalized number still holds whitespace.
func ContainsSpace(s string) bool {
	return strings.IndexFunc(s, unicode.IsSpace) >= 0
}
