package adapter

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitTelegramText(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		limit int
		mode  string
		check func(t *testing.T, parts []string)
	}{
		{
			name:  "short stays whole",
			in:    "hello",
			limit: 10,
			check: func(t *testing.T, parts []string) { assert.Equal(t, []string{"hello"}, parts) },
		},
		{
			name:  "prefers newline",
			in:    "aaaa\nbbbb\ncccc",
			limit: 10,
			check: func(t *testing.T, parts []string) { assert.Equal(t, []string{"aaaa\nbbbb", "cccc"}, parts) },
		},
		{
			name:  "hard cut without newline",
			in:    strings.Repeat("x", 25),
			limit: 10,
			check: func(t *testing.T, parts []string) {
				require.Len(t, parts, 3)
				assert.Equal(t, 5, len(parts[2]))
			},
		},
		{
			name:  "html tag not split",
			in:    "abcdefg<b>bold</b>",
			limit: 9,
			mode:  "HTML",
			check: func(t *testing.T, parts []string) {
				assert.Equal(t, "abcdefg", parts[0])
				assert.True(t, strings.HasPrefix(parts[1], "<b>"))
			},
		},
		{
			name:  "runes not bytes",
			in:    strings.Repeat("ж", 12),
			limit: 5,
			check: func(t *testing.T, parts []string) {
				require.Len(t, parts, 3)
				for _, p := range parts {
					assert.True(t, utf8.ValidString(p))
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, splitTelegramText(tt.in, tt.limit, tt.mode))
		})
	}
}

func TestClipRunes(t *testing.T) {
	assert.Equal(t, "пр", clipRunes("привет", 2))
	assert.Equal(t, "ok", clipRunes("ok", 5))
}
