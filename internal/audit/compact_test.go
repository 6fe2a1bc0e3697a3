package audit

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompactInPlaceCollapsesRepeatedEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dictionary.jsonl")
	d, err := Open(path)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, _, err := d.Record("repeated content")
		require.NoError(t, err)
	}
	require.NoError(t, d.Close())

	require.NoError(t, CompactInPlace(path))

	d2, err := Open(path)
	require.NoError(t, err)
	defer d2.Close()

	hash, _ := d2.Seen("repeated content")
	content, ok := d2.Resolve(hash)
	require.True(t, ok)
	require.Equal(t, "repeated content", content)

	_, count, err := d2.Record("repeated content")
	require.NoError(t, err)
	require.Equal(t, 6, count)
}

func TestStripEmptyUserTurns(t *testing.T) {
	transcript := "User:\nAssistant: hi\nUser:   \nUser: a real question\n"
	got := StripEmptyUserTurns(transcript)
	require.NotContains(t, got, "User:\n")
	require.Contains(t, got, "User: a real question")
	require.Contains(t, got, "Assistant: hi")
}
