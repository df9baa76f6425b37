package snapshots

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

func TestStorageFS(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	fs, err := NewStorageFS(logs.NewTestingLog(t), root, "")
	require.NoError(t, err)

	_, err = fs.WriteFile(ctx, "../escape.jpg")
	require.ErrorIs(t, err, ErrInvalidName)
	_, err = fs.ReadFile(ctx, "a/../../b")
	require.ErrorIs(t, err, ErrInvalidName)

	_, err = fs.URL("x.jpg")
	require.ErrorIs(t, err, ErrNoPublicUrl)

	fs.PublicBaseURL = "http://dashboard.local/api/snapshots"
	url, err := fs.URL("incidents/2024-01-02/a b.jpg")
	require.NoError(t, err)
	require.Equal(t, "http://dashboard.local/api/snapshots/incidents/2024-01-02/a%20b.jpg", url)
}

func TestStoreSaveLoad(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store, err := Open(ctx, logs.NewTestingLog(t), Config{Kind: KindFS, Root: root})
	require.NoError(t, err)
	require.Equal(t, 85, store.Quality())

	at := time.Date(2024, 3, 5, 23, 30, 0, 0, time.UTC)
	name, url, err := store.Save(ctx, "abc", at, []byte("jpeg-bytes"))
	require.NoError(t, err)
	require.Equal(t, "incidents/2024-03-05/abc.jpg", name)
	require.Empty(t, url)

	_, err = os.Stat(filepath.Join(root, "incidents", "2024-03-05", "abc.jpg"))
	require.NoError(t, err)

	b, err := store.Load(ctx, name)
	require.NoError(t, err)
	require.Equal(t, "jpeg-bytes", string(b))

	_, err = store.Load(ctx, "incidents/2024-03-05/missing.jpg")
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestOpenDisabled(t *testing.T) {
	store, err := Open(context.Background(), logs.NewTestingLog(t), Config{})
	require.NoError(t, err)
	require.Nil(t, store)

	_, err = Open(context.Background(), logs.NewTestingLog(t), Config{Kind: "s3"})
	require.Error(t, err)
}

func TestContentType(t *testing.T) {
	require.Equal(t, "image/jpeg", contentType("a/b.jpg"))
	require.Equal(t, "image/png", contentType("b.png"))
	require.Equal(t, "application/octet-stream", contentType("c"))
}
