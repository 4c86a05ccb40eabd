package blob_test

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/castwrite/castwrite/internal/blob"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T) *blob.FSStore {
	t.Helper()
	s, err := blob.NewFSStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestPutOpen_Roundtrip(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	owner := uuid.New()

	key, err := s.Put(ctx, owner, "episode.mp3", strings.NewReader("audio-bytes"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, owner.String()+"/"))

	rc, err := s.Open(ctx, key)
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "audio-bytes", string(data))
}

func TestOpen_Missing(t *testing.T) {
	s := setupStore(t)

	_, err := s.Open(context.Background(), uuid.NewString()+"/nope.mp3")
	assert.ErrorIs(t, err, blob.ErrNotFound)
}

func TestDelete_Idempotent(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	owner := uuid.New()

	key, err := s.Put(ctx, owner, "episode.mp3", strings.NewReader("x"))
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, key))
	// Deleting again must not error; compensating cleanup may run twice.
	require.NoError(t, s.Delete(ctx, key))

	_, err = s.Open(ctx, key)
	assert.ErrorIs(t, err, blob.ErrNotFound)
}

func TestList_ScopedToOwner(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()

	k1, err := s.Put(ctx, alice, "a.mp3", strings.NewReader("1"))
	require.NoError(t, err)
	k2, err := s.Put(ctx, alice, "b.wav", strings.NewReader("2"))
	require.NoError(t, err)
	_, err = s.Put(ctx, bob, "c.mp3", strings.NewReader("3"))
	require.NoError(t, err)

	keys, err := s.List(ctx, alice)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{k1, k2}, keys)
}

func TestList_UnknownOwnerEmpty(t *testing.T) {
	s := setupStore(t)

	keys, err := s.List(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestPut_SanitizesHostileNames(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	owner := uuid.New()

	key, err := s.Put(ctx, owner, "../../etc/passwd", strings.NewReader("x"))
	require.NoError(t, err)
	assert.NotContains(t, key, "..")

	// The artifact still lives under the owner's namespace.
	keys, err := s.List(ctx, owner)
	require.NoError(t, err)
	assert.Contains(t, keys, key)
}
