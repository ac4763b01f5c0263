package phone

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeConverges(t *testing.T) {
	n := NewNormalizer("57", []string{"3"})

	inputs := []string{"300 123 4567", "573001234567", "+573001234567", "(300) 123-4567", "+57 300 123 4567", "0057 300 123 4567"}
	for _, in := range inputs {
		got, err := n.Normalize(in)
		require.NoError(t, err, in)
		assert.Equal(t, "+573001234567", got, in)
	}
}

func TestNormalize(t *testing.T) {
	n := NewNormalizer("+57", []string{"3"})

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "international other country", input: "+1 415 555 2671", want: "+14155552671"},
		{name: "long international", input: "5491123456789", want: "+5491123456789"},
		{name: "domestic landline rejected", input: "6012345678", wantErr: true},
		{name: "too short", input: "12345", wantErr: true},
		{name: "empty", input: "", wantErr: true},
		{name: "letters only", input: "n/a", wantErr: true},
		{name: "too long", input: "+57300123456789012", wantErr: true},
		{name: "leading zero country", input: "+0123456789012", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := n.Normalize(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalid)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValid(t *testing.T) {
	assert.True(t, Valid("+573001234567"))
	assert.False(t, Valid("573001234567"))
	assert.False(t, Valid("+57300"))
}
