package models

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Player is one participant on a session roster.
type Player struct {
	DisplayName  string `json:"display_name"`
	ExternalID   string `json:"external_id"`
	ConnectionID string `json:"connection_id"`
}

// NormalizeName trims surrounding whitespace and NFC-normalises a display
// name so visually identical names key the same roster entry.
func NormalizeName(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}

// NormalizeNames applies NormalizeName to every element, returning a new slice.
func NormalizeNames(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = NormalizeName(n)
	}
	return out
}
