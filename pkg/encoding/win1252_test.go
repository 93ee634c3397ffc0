package encoding

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToUTF8(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want string
	}{
		{"empty", nil, ""},
		{"plain ascii", []byte("Court 1"), "Court 1"},
		{"valid utf8 passes through", []byte("Pádel São Paulo"), "Pádel São Paulo"},
		{"windows-1252 accents", []byte("Jos\xe9"), "José"},
		{"windows-1252 euro sign", []byte("25\x80"), "25€"},
		{"surrounding whitespace trimmed", []byte("  padel  "), "padel"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ToUTF8(tt.in))
		})
	}
}
