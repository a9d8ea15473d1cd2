package services

import "strings"

// Lookup folgt path durch verschachtelte JSON-Objekte. Das Ergebnis ist nur vorhanden, wenn
// jeder Schritt ein Objekt ist, den Schlüssel enthält und der Wert nicht null ist.
// Lookup schlägt nie fehl; fehlende oder falsch geformte Ebenen ergeben (nil, false).
func Lookup(value any, path ...string) (any, bool) {
	cur := value
	for _, key := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[key]
		if !ok {
			return nil, false
		}
	}
	if cur == nil {
		return nil, false
	}
	return cur, true
}

// LookupString wie Lookup, aber nur für nicht-leere Strings.
func LookupString(value any, path ...string) (string, bool) {
	v, ok := Lookup(value, path...)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

// LookupSlice wie Lookup, aber nur für JSON-Arrays.
func LookupSlice(value any, path ...string) ([]any, bool) {
	v, ok := Lookup(value, path...)
	if !ok {
		return nil, false
	}
	arr, ok := v.([]any)
	return arr, ok
}

// firstString liefert den ersten vorhandenen String aus mehreren Pfaden.
func firstString(value any, paths ...[]string) *string {
	for _, p := range paths {
		if s, ok := LookupString(value, p...); ok {
			return &s
		}
	}
	return nil
}
