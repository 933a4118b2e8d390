package tile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilenameRoundTrip(t *testing.T) {
	tests := []struct {
		key  Key
		ext  string
		name string
	}{
		{Key{Index{12, 7}, RoleOriginal}, "jpeg", "12_7.jpeg"},
		{Key{Index{12, 7}, RoleStyled}, "jpeg", "12_7_map.jpeg"},
		{Key{Index{12, 7}, RoleResult}, "", "12_7_result.json"},
		{Key{Index{-3, 0}, RoleStyled}, ".png", "-3_0_map.png"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.name, Filename(tt.key, tt.ext))

			key, ext, ok := ParseFilename(tt.name)
			require.True(t, ok)
			assert.Equal(t, tt.key, key)
			if tt.key.Role == RoleResult {
				assert.Equal(t, ResultExt, ext)
			} else {
				assert.Equal(t, tt.ext[len(tt.ext)-len(ext):], ext)
			}
		})
	}
}

func TestParseFilenameRejects(t *testing.T) {
	for _, name := range []string{
		"map_12_7.jpeg",
		"12_7",
		"12-7.jpeg",
		"12_7_map",
		"12_7_result.png",
		"a_b.jpeg",
		"12_7_other.jpeg",
		"12_7.json",
		"12_7_map.txt",
		"12_7_result.jpeg",
		"12_7.tmp",
		"12_7_map.JPG",
		"",
	} {
		_, _, ok := ParseFilename(name)
		assert.False(t, ok, name)
	}
}

func TestParseFilenameImageExtensions(t *testing.T) {
	for _, ext := range ImageExtensions {
		key, got, ok := ParseFilename("12_7_map." + ext)
		require.True(t, ok, ext)
		assert.Equal(t, Key{Index{12, 7}, RoleStyled}, key)
		assert.Equal(t, ext, got)
	}
}

func TestParseStyledFilename(t *testing.T) {
	idx, ok := ParseStyledFilename("12_7_map.jpeg")
	require.True(t, ok)
	assert.Equal(t, Index{12, 7}, idx)

	_, ok = ParseStyledFilename("12_7.jpeg")
	assert.False(t, ok)
}
