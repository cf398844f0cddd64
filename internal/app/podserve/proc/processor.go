package proc

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	log "github.com/go-pkgz/lgr"

	"podserve/internal/app/podserve/episode"
)

// FeedPublisher regenerates the cached feed document from an episode snapshot.
type FeedPublisher interface {
	Rebuild(episodes []*episode.Episode) error
	Bytes() []byte
}

// Processor is the ingestion pipeline: it reconciles the queue file, drives
// each new URL through download, store and dequeue, and keeps the feed
// current. Per-URL exclusivity is enforced by the in-flight set, parallelism
// is bounded by a worker semaphore.
type Processor struct {
	Storage *BoltDB
	Queue   *QueueFile
	Fetcher Fetcher
	Feed    FeedPublisher
	Cloud   *S3Store // optional mirror, nil when disabled

	Concurrency  int
	MaxRetries   int
	RetryBackoff time.Duration

	mu       sync.Mutex
	inflight map[string]struct{}
	sem      chan struct{}
	wg       sync.WaitGroup
	feedMu   sync.Mutex
}

// NewProcessor wires a processor with bounded concurrency.
func NewProcessor(storage *BoltDB, queue *QueueFile, fetcher Fetcher, feed FeedPublisher) *Processor {
	p := &Processor{
		Storage:      storage,
		Queue:        queue,
		Fetcher:      fetcher,
		Feed:         feed,
		Concurrency:  2,
		MaxRetries:   3,
		RetryBackoff: 5 * time.Second,
	}
	p.inflight = make(map[string]struct{})
	p.sem = make(chan struct{}, p.Concurrency)
	return p
}

// SetConcurrency adjusts the worker pool size, before Run only.
func (p *Processor) SetConcurrency(n int) {
	if n < 1 {
		n = 1
	}
	p.Concurrency = n
	p.sem = make(chan struct{}, n)
}

// Run consumes triggers from the watcher and a periodic ticker until the
// context is cancelled. Every trigger causes a full queue-file scan, so
// coalesced or missed notifications lose nothing.
func (p *Processor) Run(ctx context.Context, triggers <-chan struct{}, scanEvery time.Duration) {
	ticker := time.NewTicker(scanEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-triggers:
			p.ProcessOnce(ctx)
		case <-ticker.C:
			p.ProcessOnce(ctx)
		}
	}
}

// ProcessOnce scans the queue file and dispatches a worker per new URL.
// Returns the number of URLs dispatched. Queue file read errors are logged
// and retried on the next cycle, they never stop the pipeline.
func (p *Processor) ProcessOnce(ctx context.Context) int {
	urls, err := p.Queue.Scan(p.claimed)
	if err != nil {
		log.Printf("[WARN] queue scan failed, will retry: %v", err)
		return 0
	}

	dispatched := 0
	for _, u := range urls {
		if !p.claim(u) {
			continue
		}
		dispatched++
		p.wg.Add(1)
		go func(sourceURL string) {
			defer p.wg.Done()
			defer p.release(sourceURL)

			select {
			case p.sem <- struct{}{}:
				defer func() { <-p.sem }()
			case <-ctx.Done():
				return
			}
			p.processURL(ctx, sourceURL)
		}(u)
	}

	if dispatched > 0 {
		log.Printf("[INFO] dispatched %d url(s) from queue file", dispatched)
	}
	return dispatched
}

// Wait blocks until all in-flight workers finish or the context expires.
func (p *Processor) Wait(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

// processURL drives one URL through the state machine. The claim is already
// held; the caller releases it when this returns.
func (p *Processor) processURL(ctx context.Context, sourceURL string) {
	id := episode.ID(sourceURL)

	existing, err := p.Storage.GetEpisode(id)
	if err != nil {
		log.Printf("[WARN] can't read episode %s, will retry: %v", id, err)
		return
	}
	if existing != nil && existing.Status == episode.StatusReady {
		// crash between upsert and dequeue on a previous run, just finalize
		log.Printf("[INFO] episode already downloaded, finalizing: %s", sourceURL)
		p.finalize(ctx, existing)
		return
	}

	ep := &episode.Episode{
		ID:        id,
		SourceURL: sourceURL,
		Title:     sourceURL,
		Status:    episode.StatusDownloading,
		AddedAt:   time.Now(),
	}
	if existing != nil {
		ep.AddedAt = existing.AddedAt
	}
	// a record must exist before the URL can ever leave the queue file
	if err := p.Storage.UpsertEpisode(ep); err != nil {
		log.Printf("[ERROR] can't persist episode %s, will retry: %v", id, err)
		return
	}

	draft, err := p.fetchWithRetry(ctx, sourceURL)
	if err != nil {
		var fe *FetchError
		if errors.As(err, &fe) && fe.Kind == FetchStorage {
			// operational problem, not the URL's fault: leave it queued
			log.Printf("[ERROR] storage failure for %s, will retry: %v", sourceURL, err)
			ep.Status = episode.StatusPending
			if uerr := p.Storage.UpsertEpisode(ep); uerr != nil {
				log.Printf("[WARN] can't reset episode %s to pending: %v", id, uerr)
			}
			return
		}
		if ctx.Err() != nil {
			// shutdown mid-download, restart re-discovers the URL
			return
		}

		log.Printf("[WARN] giving up on %s: %v", sourceURL, err)
		if merr := p.Storage.MarkFailed(id, sourceURL, err.Error()); merr != nil {
			log.Printf("[ERROR] can't mark episode %s failed, will retry: %v", id, merr)
			return
		}
		// dequeue known-bad URLs so they can't loop forever
		if rerr := p.Queue.Remove(sourceURL); rerr != nil {
			log.Printf("[WARN] can't dequeue failed url %s: %v", sourceURL, rerr)
		}
		return
	}

	ep.Title = draft.Title
	ep.Description = draft.Description
	ep.AudioFile = draft.AudioFile
	ep.AudioSize = draft.AudioSize
	ep.Duration = draft.Duration
	ep.MIMEType = "audio/mpeg"
	ep.PubDate = draft.PubDate
	ep.Status = episode.StatusReady
	if err := p.Storage.UpsertEpisode(ep); err != nil {
		// URL stays queued, the next cycle re-upserts idempotently
		log.Printf("[ERROR] can't persist ready episode %s, will retry: %v", id, err)
		return
	}

	log.Printf("[INFO] episode ready: %s - %s", ep.Title, sourceURL)
	p.finalize(ctx, ep)
}

// finalize performs the post-ready steps in the crash-safe order: dequeue,
// then feed rebuild, then the optional cloud mirror. Each step is safe to
// repeat if the one after it never runs.
func (p *Processor) finalize(ctx context.Context, ep *episode.Episode) {
	if err := p.Queue.Remove(ep.SourceURL); err != nil {
		log.Printf("[WARN] can't dequeue %s, will retry: %v", ep.SourceURL, err)
	}
	p.RebuildFeed()

	if p.Cloud != nil {
		if err := p.Cloud.UploadEpisode(ctx, filepath.Base(ep.AudioFile), ep.AudioFile); err != nil {
			log.Printf("[WARN] can't mirror episode %s: %v", ep.ID, err)
		}
		if err := p.Cloud.UploadFeed(ctx, "feed.xml", p.Feed.Bytes()); err != nil {
			log.Printf("[WARN] can't mirror feed: %v", err)
		}
	}
}

// RebuildFeed regenerates the cached feed document from ready episodes.
// Serialized so concurrent completions can't publish an older snapshot over
// a newer one.
func (p *Processor) RebuildFeed() {
	p.feedMu.Lock()
	defer p.feedMu.Unlock()

	episodes, err := p.Storage.FindEpisodesByStatus(episode.StatusReady)
	if err != nil {
		log.Printf("[ERROR] can't list ready episodes for feed: %v", err)
		return
	}
	if err := p.Feed.Rebuild(episodes); err != nil {
		log.Printf("[ERROR] can't rebuild feed: %v", err)
	}
}

func (p *Processor) fetchWithRetry(ctx context.Context, sourceURL string) (*episode.Draft, error) {
	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * p.RetryBackoff
			log.Printf("[WARN] retrying %s in %s (attempt %d/%d): %v",
				sourceURL, backoff, attempt, p.MaxRetries, lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		draft, err := p.Fetcher.Fetch(ctx, sourceURL)
		if err == nil {
			return draft, nil
		}
		lastErr = err

		var fe *FetchError
		if !errors.As(err, &fe) || !fe.Retryable() {
			return nil, err
		}
	}
	return nil, fmt.Errorf("retries exhausted: %w", lastErr)
}

// claim marks the URL in-flight, false when already claimed. Claim-then-act:
// the lock is held only for the map update, never across a download.
func (p *Processor) claim(url string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, busy := p.inflight[url]; busy {
		return false
	}
	p.inflight[url] = struct{}{}
	return true
}

func (p *Processor) release(url string) {
	p.mu.Lock()
	delete(p.inflight, url)
	p.mu.Unlock()
}

// claimed is the scan skip callback.
func (p *Processor) claimed(url string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, busy := p.inflight[url]
	return busy
}
