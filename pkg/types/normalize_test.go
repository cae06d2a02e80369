package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeName(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"lowercases", "KOUASSI", "kouassi"},
		{"strips diacritics", "Kouamé N'Guessan", "kouame n'guessan"},
		{"collapses whitespace", "  Jean   Baptiste  ", "jean baptiste"},
		{"already normalized", "jean baptiste", "jean baptiste"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, NormalizeName(tc.in))
		})
	}
}

func TestNormalizeNameIdempotent(t *testing.T) {
	inputs := []string{"Kouamé Koffi", "  ADJOBI  ", "Société Coopérative"}
	for _, in := range inputs {
		once := NormalizeName(in)
		twice := NormalizeName(once)
		assert.Equal(t, once, twice)
	}
}
