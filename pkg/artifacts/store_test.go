package artifacts

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	h, err := s.Store(ctx, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, "sha256:2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", h)

	again, err := s.Store(ctx, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, h, again)

	data, err := s.Get(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	ok, err := s.Exists(ctx, h)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Delete(ctx, h))
	require.NoError(t, s.Delete(ctx, h))

	_, err = s.Get(ctx, h)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileStore_InvalidHash(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	_, err = s.Get(ctx, "md5:abc")
	assert.ErrorIs(t, err, ErrInvalidHash)
	_, err = s.Exists(ctx, "sha256:../../etc/passwd")
	assert.ErrorIs(t, err, ErrInvalidHash)
	assert.ErrorIs(t, s.Delete(ctx, "sha256:abcd"), ErrInvalidHash)
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	h, err := PutJSON(ctx, s, map[string]int{"a": 1})
	require.NoError(t, err)

	var out map[string]int
	require.NoError(t, GetJSON(ctx, s, h, &out))
	assert.Equal(t, 1, out["a"])
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "blobs")

	st, err := Open(ctx, Config{Dir: dir})
	require.NoError(t, err)
	fs, ok := st.(*FileStore)
	require.True(t, ok)
	assert.Equal(t, dir, fs.baseDir)

	_, err = Open(ctx, Config{Type: StoreTypeS3})
	assert.Error(t, err, "bucket is required")

	_, err = Open(ctx, Config{Type: "ftp"})
	assert.Error(t, err)
}
