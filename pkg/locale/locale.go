// Package locale canonicalizes client-reported locale strings.
//
// SDKs report locales in several shapes ("en_US", "en-us", "EN"). Storage
// wants one canonical lowercase BCP 47 form so aggregate queries can group
// on the raw column.
package locale

import (
	"strings"

	"golang.org/x/text/language"
)

// Format canonicalizes a locale string to lowercase BCP 47 ("en-us").
// An empty input is valid and yields an empty string. Returns ok=false when
// the input cannot be parsed as a language tag; callers treat that as a
// lenient failure (clear the locale, keep the event).
func Format(raw string) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", true
	}

	// Underscore separators are common in mobile SDK output
	normalized := strings.ReplaceAll(trimmed, "_", "-")

	tag, err := language.Parse(normalized)
	if err != nil {
		return "", false
	}

	return strings.ToLower(tag.String()), true
}
