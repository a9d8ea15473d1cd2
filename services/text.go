package services

import (
	"strings"

	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var ligatureReplacer = strings.NewReplacer(
	"ﬁ", "fi",
	"ﬂ", "fl",
	"ﬀ", "ff",
	"ﬃ", "ffi",
	"ﬄ", "ffl",
	"ﬆ", "st",
)

// cleanText führt NFC-Normalisierung durch, ersetzt gängige Ligaturen und fasst Leerraum zusammen.
// Titel aus OpenAlex enthalten beides regelmäßig, weil sie aus PDFs extrahiert wurden.
func cleanText(s string) string {
	s = ligatureReplacer.Replace(s)
	normalized, _, err := transform.String(norm.NFC, s)
	if err == nil {
		s = normalized
	}
	return strings.Join(strings.Fields(s), " ")
}

// cleanTextPtr wie cleanText; leere Ergebnisse werden zu nil.
func cleanTextPtr(s *string) *string {
	if s == nil {
		return nil
	}
	out := cleanText(*s)
	if out == "" {
		return nil
	}
	return &out
}

// NormalizeDOI entfernt URL-Präfixe und vereinheitlicht die Schreibweise.
func NormalizeDOI(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	s = strings.TrimPrefix(s, "https://doi.org/")
	s = strings.TrimPrefix(s, "http://doi.org/")
	s = strings.TrimPrefix(s, "https://dx.doi.org/")
	s = strings.TrimPrefix(s, "http://dx.doi.org/")
	s = strings.TrimPrefix(s, "doi:")
	return strings.TrimSpace(s)
}
