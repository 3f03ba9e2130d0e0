package password

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{name: "valid", password: "longenough!", wantErr: false},
		{name: "exactly eight with special", password: "abcdefg!", wantErr: false},
		{name: "too short", password: "ab!", wantErr: true},
		{name: "seven chars with special", password: "abcdef!", wantErr: true},
		{name: "no special character", password: "abcdefgh", wantErr: true},
		{name: "empty", password: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.password)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrTooWeak)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestHashAndMatches(t *testing.T) {
	const pass = "correct-horse!"

	hash, err := Hash(pass)
	require.NoError(t, err)
	require.NotEmpty(t, hash)

	assert.True(t, Matches(hash, pass))
	assert.False(t, Matches(hash, "wrong-horse!"))
	assert.False(t, Matches(nil, pass))
}
