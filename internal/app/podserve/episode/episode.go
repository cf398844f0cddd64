// Package episode defines the episode model shared by the store, the
// ingestion pipeline and the feed builder.
package episode

import (
	"crypto/sha1" //nolint:gosec // stable IDs, not security
	"encoding/hex"
	"strings"
	"time"
)

// Status of episode processing
type Status string

const (
	// StatusPending for accepted but not yet claimed URLs
	StatusPending Status = "pending"
	// StatusDownloading while a worker holds the URL
	StatusDownloading Status = "downloading"
	// StatusReady for fully downloaded episodes, eligible for the feed
	StatusReady Status = "ready"
	// StatusFailed for episodes that exhausted retries or hit a permanent error
	StatusFailed Status = "failed"
)

// Terminal reports whether no further processing will happen for the episode.
func (s Status) Terminal() bool {
	return s == StatusReady || s == StatusFailed
}

// Episode is one processed URL represented as a playable audio item.
type Episode struct {
	ID          string    `json:"id"`
	SourceURL   string    `json:"source_url"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	AudioFile   string    `json:"audio_file,omitempty"`
	AudioSize   int64     `json:"audio_size,omitempty"`
	Duration    int64     `json:"duration,omitempty"` // seconds
	MIMEType    string    `json:"mime_type,omitempty"`
	PubDate     time.Time `json:"pub_date"`
	Status      Status    `json:"status"`
	FailReason  string    `json:"fail_reason,omitempty"`
	AddedAt     time.Time `json:"added_at"`
}

// Draft is what the download adapter produces before the episode is stored.
// Optional fields stay zero when metadata extraction degraded.
type Draft struct {
	Title       string
	Description string
	AudioFile   string
	AudioSize   int64
	Duration    int64
	PubDate     time.Time
}

// ID derives the stable episode identifier from a source URL. The same URL
// always maps to the same ID, so re-adding a URL never creates a duplicate
// episode.
func ID(url string) string {
	sum := sha1.Sum([]byte(strings.TrimSpace(url))) //nolint:gosec
	return hex.EncodeToString(sum[:])[:16]
}
