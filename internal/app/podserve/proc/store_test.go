package proc

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/boltdb/bolt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"podserve/internal/app/podserve/episode"
)

func newTestStore(t *testing.T) *BoltDB {
	t.Helper()
	store, err := NewBoltDB(filepath.Join(t.TempDir(), "test.bdb"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestUpsertIdempotent(t *testing.T) {
	store := newTestStore(t)

	ep := &episode.Episode{
		ID:        episode.ID("https://example.com/a"),
		SourceURL: "https://example.com/a",
		Title:     "first",
		Status:    episode.StatusPending,
		AddedAt:   time.Now(),
	}
	require.NoError(t, store.UpsertEpisode(ep))

	ep.Title = "second"
	ep.Status = episode.StatusReady
	require.NoError(t, store.UpsertEpisode(ep))

	all, err := store.FindEpisodesByStatus()
	require.NoError(t, err)
	require.Len(t, all, 1, "re-upserting the same id must not duplicate")
	assert.Equal(t, "second", all[0].Title)
	assert.Equal(t, episode.StatusReady, all[0].Status)
}

func TestUpsertEmptyID(t *testing.T) {
	store := newTestStore(t)
	err := store.UpsertEpisode(&episode.Episode{SourceURL: "https://example.com/a"})
	assert.Error(t, err)
}

func TestGetEpisode(t *testing.T) {
	store := newTestStore(t)

	got, err := store.GetEpisode("nope")
	require.NoError(t, err)
	assert.Nil(t, got)

	ep := &episode.Episode{ID: "abc", SourceURL: "https://example.com/a", Status: episode.StatusPending}
	require.NoError(t, store.UpsertEpisode(ep))

	got, err = store.GetEpisode("abc")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "https://example.com/a", got.SourceURL)
}

func TestFindEpisodesOrdering(t *testing.T) {
	store := newTestStore(t)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"t1", "t2", "t3"} {
		require.NoError(t, store.UpsertEpisode(&episode.Episode{
			ID:      id,
			Status:  episode.StatusReady,
			PubDate: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	ready, err := store.FindEpisodesByStatus(episode.StatusReady)
	require.NoError(t, err)
	require.Len(t, ready, 3)
	assert.Equal(t, "t3", ready[0].ID, "newest first")
	assert.Equal(t, "t2", ready[1].ID)
	assert.Equal(t, "t1", ready[2].ID)
}

func TestFindEpisodesStatusFilter(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.UpsertEpisode(&episode.Episode{ID: "a", Status: episode.StatusReady}))
	require.NoError(t, store.UpsertEpisode(&episode.Episode{ID: "b", Status: episode.StatusFailed}))

	ready, err := store.FindEpisodesByStatus(episode.StatusReady)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, "a", ready[0].ID)

	failed, err := store.FindEpisodesByStatus(episode.StatusFailed)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "b", failed[0].ID)
}

func TestMarkFailed(t *testing.T) {
	store := newTestStore(t)

	// without a prior record a minimal failed one is created
	require.NoError(t, store.MarkFailed("x1", "https://example.com/bad", "unsupported"))

	got, err := store.GetEpisode("x1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, episode.StatusFailed, got.Status)
	assert.Equal(t, "unsupported", got.FailReason)
	assert.Equal(t, "https://example.com/bad", got.SourceURL)
}

func TestResetStuck(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.UpsertEpisode(&episode.Episode{ID: "a", Status: episode.StatusDownloading}))
	require.NoError(t, store.UpsertEpisode(&episode.Episode{ID: "b", Status: episode.StatusReady}))

	n, err := store.ResetStuck()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := store.GetEpisode("a")
	require.NoError(t, err)
	assert.Equal(t, episode.StatusPending, got.Status)

	got, err = store.GetEpisode("b")
	require.NoError(t, err)
	assert.Equal(t, episode.StatusReady, got.Status)
}

func TestCorruptRecordSkipped(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.UpsertEpisode(&episode.Episode{ID: "good", Status: episode.StatusReady}))
	err := store.DB.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(episodesBucket).Put([]byte("bad"), []byte("{not json"))
	})
	require.NoError(t, err)

	all, err := store.FindEpisodesByStatus()
	require.NoError(t, err, "a corrupted record must not abort listing")
	require.Len(t, all, 1)
	assert.Equal(t, "good", all[0].ID)
}
