// Package server exposes the feed, the audio files and a small management
// api over http. It is a thin consumer of the episode store and the cached
// feed document, all mutation goes through the queue file.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/go-pkgz/lgr"

	"podserve/internal/app/podserve/episode"
	"podserve/internal/app/podserve/feed"
	"podserve/internal/app/podserve/proc"
)

// Server serves the podcast over http.
type Server struct {
	Addr     string
	AudioDir string
	Feed     *feed.Feed
	Storage  *proc.BoltDB
	Queue    *proc.QueueFile

	srv *http.Server
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/health", s.health)
	r.GET("/feed.xml", s.feedXML)
	r.GET("/audio/:filename", s.audioFile)
	r.POST("/api/urls", s.addURL)
	r.GET("/api/episodes", s.listEpisodes)
	return r
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:              s.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) feedXML(c *gin.Context) {
	doc := s.Feed.Bytes()
	if len(doc) == 0 {
		c.String(http.StatusServiceUnavailable, "feed not ready")
		return
	}
	c.Data(http.StatusOK, feed.ContentType, doc)
}

func (s *Server) audioFile(c *gin.Context) {
	name := c.Param("filename")
	if name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		c.String(http.StatusBadRequest, "invalid filename")
		return
	}
	path := filepath.Join(s.AudioDir, name)
	c.FileAttachment(path, name)
}

type addURLRequest struct {
	URL string `json:"url" binding:"required"`
}

// addURL appends a URL to the queue file. The watcher picks the change up,
// the request does not wait for the download.
func (s *Server) addURL(c *gin.Context) {
	var req addURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url is required"})
		return
	}
	u, err := url.Parse(strings.TrimSpace(req.URL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "not a valid url"})
		return
	}

	if err := s.Queue.Append(req.URL); err != nil {
		log.Printf("[ERROR] can't append url to queue file: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "can't queue url"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": episode.ID(req.URL), "status": "queued"})
}

func (s *Server) listEpisodes(c *gin.Context) {
	var statuses []episode.Status
	if f := c.Query("status"); f != "" {
		statuses = append(statuses, episode.Status(f))
	}

	episodes, err := s.Storage.FindEpisodesByStatus(statuses...)
	if err != nil {
		log.Printf("[ERROR] can't list episodes: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "can't list episodes"})
		return
	}
	if episodes == nil {
		episodes = []*episode.Episode{}
	}
	c.JSON(http.StatusOK, episodes)
}

// requestLogger logs completed requests through lgr.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Printf("[DEBUG] %s %s -> %d (%s)",
			c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start).Round(time.Millisecond))
	}
}
