package app

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xbridge-go/xbridged/internal/storage"
)

func newTestStore(t *testing.T) *storage.Storage {
	t.Helper()
	s, err := storage.New(&storage.Config{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestMessageHashStableAndSensitiveToBody(t *testing.T) {
	a := messageHash([]byte("hello"))
	b := messageHash([]byte("hello"))
	require.Equal(t, a, b)

	c := messageHash([]byte("goodbye"))
	require.NotEqual(t, a, c)
}

func TestDedupSeenAndRecord(t *testing.T) {
	store := newTestStore(t)
	d, err := newDedup(4, store)
	require.NoError(t, err)

	body := []byte("xbcTransaction body")
	require.False(t, d.seen(body))

	d.record(body)
	require.True(t, d.seen(body))

	seenHash, err := store.RecentKnownMessages(10)
	require.NoError(t, err)
	require.Contains(t, seenHash, messageHash(body))
}

func TestDedupWarmSeedsFromStorage(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.RecordKnownMessage(messageHash([]byte("already known"))))

	d, err := newDedup(4, store)
	require.NoError(t, err)
	require.True(t, d.seen([]byte("already known")))
	require.False(t, d.seen([]byte("never seen")))
}

func TestDedupDefaultsSizeWhenNonPositive(t *testing.T) {
	store := newTestStore(t)
	d, err := newDedup(0, store)
	require.NoError(t, err)
	require.NotNil(t, d.cache)
}
