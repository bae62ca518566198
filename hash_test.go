package medcompanion

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashString(t *testing.T) {
	// BLAKE3 hash of empty string
	h := HashBytes([]byte{})
	expected := "af1349b9f5f9a1a6a0404dea36dcc9499bcb25c9adc112b7cc9a93cae41f3262"
	require.Equal(t, expected, h.String())
}

func TestHashShortString(t *testing.T) {
	h := HashBytes([]byte("hello"))
	short := h.ShortString()
	require.Len(t, short, 16)
	require.True(t, strings.HasPrefix(h.String(), short))
}

func TestParseHashRoundTrip(t *testing.T) {
	original := HashBytes([]byte("/docs/labs.pdf"))

	parsed, err := ParseHash(original.String())
	require.NoError(t, err)
	require.Equal(t, original, parsed)
}

func TestParseHashInvalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"too short", "abc123"},
		{"too long", strings.Repeat("a", 128)},
		{"invalid hex", strings.Repeat("zz", 32)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseHash(tt.input)
			require.Error(t, err)
		})
	}
}

func TestHashPathStable(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "report.pdf")

	h1, err := HashPath(p)
	require.NoError(t, err)
	h2, err := HashPath(p)
	require.NoError(t, err)
	require.Equal(t, h1, h2)

	// Same hash as hashing the absolute path directly.
	require.Equal(t, HashBytes([]byte(p)), h1)

	other, err := HashPath(filepath.Join(dir, "other.pdf"))
	require.NoError(t, err)
	require.NotEqual(t, h1, other)
}

func TestHashPathRelative(t *testing.T) {
	t.Chdir(t.TempDir())

	rel, err := HashPath("notes.pdf")
	require.NoError(t, err)

	abs, err := filepath.Abs("notes.pdf")
	require.NoError(t, err)
	require.Equal(t, HashBytes([]byte(abs)), rel)
}
