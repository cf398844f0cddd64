package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"podserve/internal/app/podserve/episode"
	"podserve/internal/app/podserve/feed"
	"podserve/internal/app/podserve/proc"
)

func newTestServer(t *testing.T) (*Server, *gin.Engine) {
	t.Helper()
	dir := t.TempDir()

	storage, err := proc.NewBoltDB(filepath.Join(dir, "test.bdb"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = storage.Close() })

	audioDir := filepath.Join(dir, "audio")
	require.NoError(t, os.MkdirAll(audioDir, 0o755))

	s := &Server{
		AudioDir: audioDir,
		Feed:     feed.New(feed.Channel{Title: "T", Description: "d", Author: "a", BaseURL: "http://x"}),
		Storage:  storage,
		Queue:    &proc.QueueFile{Path: filepath.Join(dir, "urls.txt")},
	}
	return s, s.Router()
}

func TestHealth(t *testing.T) {
	_, r := newTestServer(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestFeedXML(t *testing.T) {
	s, r := newTestServer(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/feed.xml", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code, "no document before first rebuild")

	require.NoError(t, s.Feed.Rebuild([]*episode.Episode{{
		ID:        "e1",
		SourceURL: "https://a.example/e1",
		Title:     "Hello",
		AudioFile: "/audio/e1.mp3",
		AudioSize: 10,
		PubDate:   time.Now(),
		Status:    episode.StatusReady,
	}}))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/feed.xml", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, feed.ContentType, w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "Hello")
}

func TestAudioFile(t *testing.T) {
	s, r := newTestServer(t)
	require.NoError(t, os.WriteFile(filepath.Join(s.AudioDir, "ep.mp3"), []byte("mp3data"), 0o644))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/audio/ep.mp3", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "mp3data", w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/audio/missing.mp3", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/audio/.hidden", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code, "dotfiles rejected")
}

func TestAddURL(t *testing.T) {
	s, r := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/urls", strings.NewReader(`{"url":"https://a.example/new"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Contains(t, w.Body.String(), episode.ID("https://a.example/new"))

	urls, err := s.Queue.Scan(nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example/new"}, urls)
}

func TestAddURLValidation(t *testing.T) {
	_, r := newTestServer(t)

	for _, body := range []string{`{}`, `{"url":""}`, `{"url":"no-scheme"}`, `not json`} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/urls", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
}

func TestListEpisodes(t *testing.T) {
	s, r := newTestServer(t)

	require.NoError(t, s.Storage.UpsertEpisode(&episode.Episode{ID: "a", Status: episode.StatusReady, Title: "A"}))
	require.NoError(t, s.Storage.UpsertEpisode(&episode.Episode{ID: "b", Status: episode.StatusFailed, Title: "B"}))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/episodes", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var all []episode.Episode
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &all))
	assert.Len(t, all, 2)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/episodes?status=failed", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var failed []episode.Episode
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &failed))
	require.Len(t, failed, 1)
	assert.Equal(t, "b", failed[0].ID)
}
