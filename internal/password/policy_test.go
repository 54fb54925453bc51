package password

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMeetsPolicy(t *testing.T) {
	tests := []struct {
		name      string
		candidate string
		want      bool
	}{
		{"valid", "Abc12345!", true},
		{"valid all symbol choices", "Aa1@$!%*?&#", true},
		{"no upper no symbol", "abc12345", false},
		{"too short", "Ab1!", false},
		{"no digit", "Abcdefgh!", false},
		{"no lower", "ABC12345!", false},
		{"no symbol", "Abc123456", false},
		{"symbol outside the set", "Abc12345^", false},
		{"contains space", "Abc 12345!", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MeetsPolicy(tt.candidate))
		})
	}
}
