package atomicfile

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type doc struct {
	Page int    `json:"page"`
	Name string `json:"name"`
}

func TestWriteReadJSON(t *testing.T) {
	p := filepath.Join(t.TempDir(), "nested", "state.json")

	var got doc
	ok, err := ReadJSON(p, &got)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, WriteJSON(p, doc{Page: 3, Name: "a"}))
	require.NoError(t, WriteJSON(p, doc{Page: 4, Name: "b"}))

	ok, err = ReadJSON(p, &got)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, doc{Page: 4, Name: "b"}, got)

	entries, err := os.ReadDir(filepath.Dir(p))
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files must not be left behind")
}

func TestReadJSON_Corrupt(t *testing.T) {
	p := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(p, []byte(`{"page": 3`), 0o600))

	var got doc
	ok, err := ReadJSON(p, &got)
	require.Error(t, err)
	require.False(t, ok)
}

func TestLock(t *testing.T) {
	p := filepath.Join(t.TempDir(), "state.json")
	unlock, err := Lock(context.Background(), p)
	require.NoError(t, err)
	unlock()

	unlock, err = Lock(context.Background(), p)
	require.NoError(t, err)
	unlock()
}
