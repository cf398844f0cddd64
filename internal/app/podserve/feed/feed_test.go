package feed

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"podserve/internal/app/podserve/episode"
)

func testChannel() Channel {
	return Channel{
		Title:       "Test Pod",
		Description: "test feed",
		Author:      "tester",
		BaseURL:     "http://localhost:8083",
		Language:    "en-us",
		Category:    "Technology",
	}
}

func makeEpisode(id, title string, pub time.Time) *episode.Episode {
	return &episode.Episode{
		ID:        id,
		SourceURL: "https://a.example/" + id,
		Title:     title,
		AudioFile: "/data/audio/" + id + ".mp3",
		AudioSize: 1000,
		PubDate:   pub,
		Status:    episode.StatusReady,
	}
}

func TestRenderOrdering(t *testing.T) {
	f := New(testChannel())
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	// passed oldest-first on purpose, render must sort newest-first
	doc, err := f.Render([]*episode.Episode{
		makeEpisode("e1", "First", base),
		makeEpisode("e2", "Second", base.Add(time.Hour)),
		makeEpisode("e3", "Third", base.Add(2*time.Hour)),
	}, base.Add(3*time.Hour))
	require.NoError(t, err)

	s := string(doc)
	p3, p2, p1 := strings.Index(s, "Third"), strings.Index(s, "Second"), strings.Index(s, "First")
	require.NotEqual(t, -1, p1)
	require.NotEqual(t, -1, p2)
	require.NotEqual(t, -1, p3)
	assert.Less(t, p3, p2, "newest episode first")
	assert.Less(t, p2, p1)
}

func TestRenderFiltersNonReady(t *testing.T) {
	f := New(testChannel())
	now := time.Now()

	failed := makeEpisode("bad", "Broken", now)
	failed.Status = episode.StatusFailed
	pending := makeEpisode("wip", "Pending", now)
	pending.Status = episode.StatusPending

	doc, err := f.Render([]*episode.Episode{makeEpisode("ok", "Good", now), failed, pending}, now)
	require.NoError(t, err)

	s := string(doc)
	assert.Equal(t, 1, strings.Count(s, "<item>"))
	assert.Contains(t, s, "Good")
	assert.NotContains(t, s, "Broken")
	assert.NotContains(t, s, "Pending")
}

func TestRenderEscapesText(t *testing.T) {
	f := New(testChannel())
	now := time.Now()

	ep := makeEpisode("e1", `Tom & Jerry <live>`, now)
	doc, err := f.Render([]*episode.Episode{ep}, now)
	require.NoError(t, err)

	s := string(doc)
	assert.Contains(t, s, "Tom &amp; Jerry &lt;live&gt;")
	assert.NotContains(t, s, "<live>")
}

func TestRenderOptionalFields(t *testing.T) {
	f := New(testChannel())
	now := time.Now()

	bare := makeEpisode("e1", "No Extras", now) // no description, no duration
	rich := makeEpisode("e2", "Full", now.Add(time.Minute))
	rich.Description = "with details"
	rich.Duration = 3725

	doc, err := f.Render([]*episode.Episode{bare, rich}, now)
	require.NoError(t, err)

	s := string(doc)
	assert.Contains(t, s, "<itunes:duration>")
	assert.Contains(t, s, "02:05", "duration in itunes format")
	assert.Contains(t, s, "with details")
	assert.Equal(t, 2, strings.Count(s, "<item>"))
}

func TestRenderEnclosureURL(t *testing.T) {
	f := New(testChannel())
	now := time.Now()

	doc, err := f.Render([]*episode.Episode{makeEpisode("abc123", "X", now)}, now)
	require.NoError(t, err)
	assert.Contains(t, string(doc), "http://localhost:8083/audio/abc123.mp3")
}

func TestRebuildSwapsCache(t *testing.T) {
	f := New(testChannel())
	assert.Empty(t, f.Bytes(), "no document before first rebuild")

	require.NoError(t, f.Rebuild([]*episode.Episode{makeEpisode("e1", "One", time.Now())}))
	first := f.Bytes()
	assert.Contains(t, string(first), "One")

	require.NoError(t, f.Rebuild(nil))
	assert.NotContains(t, string(f.Bytes()), "<item>")
}
