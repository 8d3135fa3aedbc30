package blobstore

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPutOpenAndURL(t *testing.T) {
	ctx := context.Background()
	store, err := NewFS(t.TempDir(), "https://files.example.com/proofs/", nil)
	require.NoError(t, err)

	id, err := store.Put(ctx, "image/png", strings.NewReader("png-bytes"))
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(id, ".png"))

	url, err := store.URLFor(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "https://files.example.com/proofs/"+id, url)

	rc, contentType, err := store.Open(ctx, id)
	require.NoError(t, err)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "png-bytes", string(body))
	require.Equal(t, "image/png", contentType)
}

func TestRejectsTraversalIDs(t *testing.T) {
	ctx := context.Background()
	store, err := NewFS(t.TempDir(), "/blobs", nil)
	require.NoError(t, err)

	_, _, err = store.Open(ctx, "../etc/passwd")
	require.ErrorIs(t, err, ErrInvalidID)
	_, err = store.URLFor(ctx, "nope")
	require.ErrorIs(t, err, ErrInvalidID)
}

func TestOpenMissing(t *testing.T) {
	store, err := NewFS(t.TempDir(), "/blobs", nil)
	require.NoError(t, err)

	_, _, err = store.Open(context.Background(), "2b1f3c8e-4a53-4a49-9a9c-5d2c6b8b7f10.pdf")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPutHonoursCancelledContext(t *testing.T) {
	store, err := NewFS(t.TempDir(), "/blobs", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = store.Put(ctx, "image/png", strings.NewReader("x"))
	require.ErrorIs(t, err, context.Canceled)
}
