package password

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashVerifyRoundTrip(t *testing.T) {
	hash, err := Hash("Abc12345!")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(hash, "$argon2id$"))
	assert.NotContains(t, hash, "Abc12345!")

	assert.True(t, Verify("Abc12345!", hash))
	assert.False(t, Verify("Abc12345?", hash))
	assert.False(t, Verify("", hash))
}

func TestHashProducesUniqueSalts(t *testing.T) {
	first, err := Hash("Abc12345!")
	require.NoError(t, err)
	second, err := Hash("Abc12345!")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.True(t, Verify("Abc12345!", first))
	assert.True(t, Verify("Abc12345!", second))
}

func TestVerifyMalformedHash(t *testing.T) {
	tests := []struct {
		name string
		hash string
	}{
		{"empty", ""},
		{"not a hash", "plaintext"},
		{"wrong algorithm", "$bcrypt$v=19$m=65536,t=3,p=4$c2FsdA$aGFzaA"},
		{"truncated", "$argon2id$v=19$m=65536,t=3,p=4$c2FsdA"},
		{"bad base64 salt", "$argon2id$v=19$m=65536,t=3,p=4$!!!$aGFzaA"},
		{"bad base64 hash", "$argon2id$v=19$m=65536,t=3,p=4$c2FsdA$!!!"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.False(t, Verify("Abc12345!", tt.hash))
		})
	}
}
