package store

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

// corruptLastByte flips the final byte of the file on disk, which falls
// inside the last entry's checksum field, so the entry fails validation on
// the next load.
func corruptLastByte(t *testing.T, path string) {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotEmpty(t, data)
	data[len(data)-1] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0o644))
}
