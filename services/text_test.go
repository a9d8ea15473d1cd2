package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeDOI(t *testing.T) {
	tests := map[string]string{
		"https://doi.org/10.1000/ABC":   "10.1000/abc",
		"http://dx.doi.org/10.1000/abc": "10.1000/abc",
		"doi:10.1000/Abc ":              "10.1000/abc",
		"10.1000/abc":                   "10.1000/abc",
		"   ":                           "",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeDOI(in), in)
	}
}

func TestCleanText(t *testing.T) {
	assert.Equal(t, "efficient flow", cleanText("  eﬃcient\n\tﬂow "))
	// e + combining acute wird zu é
	assert.Equal(t, "caf\u00e9", cleanText("cafe\u0301"))
	assert.Nil(t, cleanTextPtr(strPtr(" \n ")))
	assert.Nil(t, cleanTextPtr(nil))
}
