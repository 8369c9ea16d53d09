package objstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	aerrors "github.com/altadoc/altadoc/internal/errors"
)

func newTestStore(t *testing.T) *FSStore {
	t.Helper()
	store, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	return store
}

func TestPutFetchRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	data := []byte("project manifest contents")
	hash, err := store.Put(ctx, "raw/proj-001/archive.zip", data)
	require.NoError(t, err)
	assert.Equal(t, HashBytes(data), hash)

	got, err := store.Fetch(ctx, "raw/proj-001/archive.zip")
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestFetchMissingIsNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Fetch(context.Background(), "raw/missing.pdf")
	require.Error(t, err)
	assert.Equal(t, aerrors.KindNotFound, aerrors.KindOf(err))
}

func TestFetchRange(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.Put(ctx, "docs/a.txt", []byte("0123456789"))
	require.NoError(t, err)

	got, err := store.FetchRange(ctx, "docs/a.txt", 2, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte("2345"), got)

	// Ranges past the end are truncated, not an error.
	got, err = store.FetchRange(ctx, "docs/a.txt", 8, 10)
	require.NoError(t, err)
	assert.Equal(t, []byte("89"), got)
}

func TestListSortedAndSkipsTemp(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	for _, p := range []string{"raw/b.pdf", "raw/a.pdf", "raw/sub/c.dxf"} {
		_, err := store.Put(ctx, p, []byte(p))
		require.NoError(t, err)
	}

	paths, err := store.List(ctx, "raw")
	require.NoError(t, err)
	assert.Equal(t, []string{"raw/a.pdf", "raw/b.pdf", "raw/sub/c.dxf"}, paths)
}

func TestListMissingPrefixIsEmpty(t *testing.T) {
	store := newTestStore(t)

	paths, err := store.List(context.Background(), "nothing/here")
	require.NoError(t, err)
	assert.Empty(t, paths)
}

func TestRejectsPathEscape(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	for _, p := range []string{"../outside.txt", "/etc/passwd", "a/../../b"} {
		_, err := store.Fetch(ctx, p)
		require.Error(t, err, p)
		assert.Equal(t, aerrors.KindInvalidInput, aerrors.KindOf(err), p)
	}
}

func TestStatObject(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.Put(ctx, "raw/x.bin", []byte("abcdef"))
	require.NoError(t, err)

	st, err := store.StatObject(ctx, "raw/x.bin")
	require.NoError(t, err)
	assert.Equal(t, int64(6), st.Size)
	assert.False(t, st.ModTime.IsZero())
}

func TestPresignExistingObject(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.Put(ctx, "raw/y.bin", []byte("y"))
	require.NoError(t, err)

	url, err := store.Presign(ctx, "raw/y.bin", 0)
	require.NoError(t, err)
	assert.Contains(t, url, "file://")

	_, err = store.Presign(ctx, "raw/z.bin", 0)
	assert.Equal(t, aerrors.KindNotFound, aerrors.KindOf(err))
}
