// Package feed renders the podcast RSS document from ready episodes and
// caches the last complete render for the http layer.
package feed

import (
	"fmt"
	"net/url"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/eduncan911/podcast"

	"podserve/internal/app/podserve/episode"
)

// ContentType of the rendered document.
const ContentType = "application/rss+xml; charset=utf-8"

// Channel holds the podcast-level metadata, taken from config.
type Channel struct {
	Title       string
	Description string
	Author      string
	BaseURL     string
	Language    string
	Category    string
	ImageURL    string
}

// Feed renders and caches the podcast document. Readers always get the last
// fully rendered document, a rebuild swaps it wholesale.
type Feed struct {
	channel Channel

	mu  sync.RWMutex
	doc []byte
}

// New creates a feed with empty cache, Rebuild fills it.
func New(channel Channel) *Feed {
	return &Feed{channel: channel}
}

// Render builds the RSS document from the episode snapshot. Pure function:
// only ready episodes are included, newest first by pub date. Escaping is
// handled by the xml encoder underneath.
func (f *Feed) Render(episodes []*episode.Episode, now time.Time) ([]byte, error) {
	ready := make([]*episode.Episode, 0, len(episodes))
	for _, ep := range episodes {
		if ep.Status == episode.StatusReady {
			ready = append(ready, ep)
		}
	}
	sort.SliceStable(ready, func(i, j int) bool {
		return ready[i].PubDate.After(ready[j].PubDate)
	})

	p := podcast.New(f.channel.Title, f.channel.BaseURL, f.channel.Description, &now, &now)
	p.Language = f.channel.Language
	p.IAuthor = f.channel.Author
	p.IExplicit = "no"
	if f.channel.Category != "" {
		p.AddCategory(f.channel.Category, nil)
	}
	if f.channel.ImageURL != "" {
		p.AddImage(f.channel.ImageURL)
	}

	for _, ep := range ready {
		item := podcast.Item{
			Title:       ep.Title,
			Description: ep.Description,
			Link:        ep.SourceURL,
			GUID:        ep.SourceURL,
		}
		if item.Description == "" {
			item.Description = ep.Title
		}
		pubDate := ep.PubDate
		item.AddPubDate(&pubDate)
		item.AddEnclosure(f.audioURL(ep), podcast.MP3, ep.AudioSize)
		if ep.Duration > 0 {
			item.AddDuration(ep.Duration)
		}
		if _, err := p.AddItem(item); err != nil {
			return nil, fmt.Errorf("add feed item %s: %w", ep.ID, err)
		}
	}

	return p.Bytes(), nil
}

// Rebuild renders the snapshot and replaces the cached document. The old
// document stays servable until the new one is fully rendered.
func (f *Feed) Rebuild(episodes []*episode.Episode) error {
	doc, err := f.Render(episodes, time.Now())
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.doc = doc
	f.mu.Unlock()
	return nil
}

// Bytes returns the cached document, empty until the first Rebuild.
func (f *Feed) Bytes() []byte {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.doc
}

func (f *Feed) audioURL(ep *episode.Episode) string {
	name := url.PathEscape(filepath.Base(ep.AudioFile))
	return strings.TrimRight(f.channel.BaseURL, "/") + "/audio/" + name
}
