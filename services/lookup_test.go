package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLookup(t *testing.T) {
	doc := map[string]any{
		"host_venue": map[string]any{
			"display_name": "Revista Mexicana de Física",
			"issn_l":       " 0035-001X ",
			"publisher":    nil,
		},
		"primary_location": "not-an-object",
		"concepts":         []any{"a", "b"},
	}

	tests := []struct {
		name string
		path []string
		want any
		ok   bool
	}{
		{"nested", []string{"host_venue", "display_name"}, "Revista Mexicana de Física", true},
		{"missing key", []string{"host_venue", "volume"}, nil, false},
		{"explicit null", []string{"host_venue", "publisher"}, nil, false},
		{"wrong shape", []string{"primary_location", "source", "display_name"}, nil, false},
		{"missing root", []string{"nope", "deeper"}, nil, false},
		{"slice leaf", []string{"concepts"}, []any{"a", "b"}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Lookup(doc, tc.path...)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}

	_, ok := Lookup(nil, "x")
	assert.False(t, ok)
	_, ok = Lookup(nil)
	assert.False(t, ok, "empty path on nil is absent")

	s, ok := LookupString(doc, "host_venue", "issn_l")
	assert.True(t, ok)
	assert.Equal(t, "0035-001X", s)

	_, ok = LookupString(doc, "concepts")
	assert.False(t, ok, "non-string leaf")

	arr, ok := LookupSlice(doc, "concepts")
	assert.True(t, ok)
	assert.Len(t, arr, 2)
}

func TestFirstString(t *testing.T) {
	doc := map[string]any{
		"primary_location": map[string]any{
			"source": map[string]any{"display_name": "Salud Pública de México"},
		},
	}
	got := firstString(doc, []string{"host_venue", "display_name"}, []string{"primary_location", "source", "display_name"})
	if assert.NotNil(t, got) {
		assert.Equal(t, "Salud Pública de México", *got)
	}
	assert.Nil(t, firstString(doc, []string{"host_venue", "publisher"}))
}
