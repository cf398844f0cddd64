// Package podserve wires the queue watcher, the ingestion pipeline, the
// episode store and the http server into one daemon.
package podserve

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/gofrs/flock"

	"podserve/internal/app/podserve/episode"
	"podserve/internal/app/podserve/feed"
	"podserve/internal/app/podserve/proc"
	"podserve/internal/app/podserve/server"
	"podserve/internal/app/podserve/watch"
	"podserve/internal/configs"
)

// App is the assembled service.
type App struct {
	config    *configs.Conf
	storage   *proc.BoltDB
	queue     *proc.QueueFile
	feed      *feed.Feed
	processor *proc.Processor
	server    *server.Server

	lock *flock.Flock
}

// NewApplication builds the app from config: directories ensured, store
// opened, downloader, feed and http server wired.
func NewApplication(ctx context.Context, conf *configs.Conf, dbFile string) (*App, error) {
	if err := os.MkdirAll(conf.Storage.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure data dir: %w", err)
	}
	if dbFile == "" {
		dbFile = filepath.Join(conf.Storage.DataDir, "podserve.bdb")
	}

	storage, err := proc.NewBoltDB(dbFile)
	if err != nil {
		return nil, err
	}

	queue := &proc.QueueFile{Path: conf.Watch.File}

	fetcher, err := proc.NewDownloader(ctx, conf.Storage.AudioDir, time.Duration(conf.Download.Timeout), conf.Download.AutoInstall)
	if err != nil {
		_ = storage.Close()
		return nil, err
	}

	fd := feed.New(feed.Channel{
		Title:       conf.Podcast.Title,
		Description: conf.Podcast.Description,
		Author:      conf.Podcast.Author,
		BaseURL:     conf.Server.BaseURL,
		Language:    conf.Podcast.Language,
		Category:    conf.Podcast.Category,
		ImageURL:    conf.Podcast.ImageURL,
	})

	processor := proc.NewProcessor(storage, queue, fetcher, fd)
	processor.SetConcurrency(conf.Download.Concurrency)
	processor.MaxRetries = conf.Download.MaxRetries
	processor.RetryBackoff = time.Duration(conf.Download.RetryBackoff)

	if conf.CloudEnabled() {
		s3client, err := proc.NewS3Client(
			conf.CloudStorage.EndPointURL,
			conf.CloudStorage.Secrets.Key,
			conf.CloudStorage.Secrets.Secret,
			true)
		if err != nil {
			_ = storage.Close()
			return nil, err
		}
		processor.Cloud = &proc.S3Store{
			Client:   s3client,
			Location: conf.CloudStorage.Region,
			Bucket:   conf.CloudStorage.Bucket,
		}
	}

	srv := &server.Server{
		Addr:     fmt.Sprintf("%s:%d", conf.Server.Host, conf.Server.Port),
		AudioDir: conf.Storage.AudioDir,
		Feed:     fd,
		Storage:  storage,
		Queue:    queue,
	}

	return &App{
		config:    conf,
		storage:   storage,
		queue:     queue,
		feed:      fd,
		processor: processor,
		server:    srv,
		lock:      flock.New(filepath.Join(conf.Storage.DataDir, "podserve.lock")),
	}, nil
}

// Run starts the daemon and blocks until the context is cancelled. On
// startup the store is replayed, stuck records demoted and an initial scan
// run, so URLs added while the service was down are picked up immediately.
func (a *App) Run(ctx context.Context) error {
	locked, err := a.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !locked {
		return errors.New("another podserve instance is already running")
	}
	defer func() {
		if err := a.lock.Unlock(); err != nil {
			log.Printf("[WARN] can't release lock: %v", err)
		}
	}()
	defer a.storage.Close() //nolint:errcheck

	if err := a.startup(); err != nil {
		return err
	}

	var watcher *watch.Watcher
	triggers := make(chan struct{})
	if a.config.WatchEnabled() {
		watcher, err = watch.New(a.config.Watch.File)
		if err != nil {
			return err
		}
		go watcher.Run(ctx)
		log.Printf("[INFO] watching queue file %s", a.config.Watch.File)
	} else {
		log.Printf("[INFO] file watching disabled, periodic scans only")
	}

	srvErr := make(chan error, 1)
	go func() { srvErr <- a.server.Run(ctx) }()
	log.Printf("[INFO] serving feed at %s/feed.xml", a.config.Server.BaseURL)

	a.processor.ProcessOnce(ctx)
	go func() {
		if watcher != nil {
			a.processor.Run(ctx, watcher.Triggers(), time.Duration(a.config.Watch.ScanEvery))
		} else {
			a.processor.Run(ctx, triggers, time.Duration(a.config.Watch.ScanEvery))
		}
	}()

	var runErr error
	select {
	case err := <-srvErr:
		runErr = err
	case <-ctx.Done():
	}

	// drain in-flight downloads even when the server died, a half-finished
	// episode would otherwise need a re-download on the next start
	drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if !a.processor.Wait(drainCtx) {
		log.Printf("[WARN] download workers did not finish before timeout")
	}
	log.Printf("[INFO] podserve stopped")
	return runErr
}

// RunOnce performs a single reconciliation pass and exits, for cron-style use.
func (a *App) RunOnce(ctx context.Context) error {
	if err := a.startup(); err != nil {
		return err
	}
	defer a.storage.Close() //nolint:errcheck

	n := a.processor.ProcessOnce(ctx)
	if !a.processor.Wait(ctx) {
		log.Printf("[WARN] single pass interrupted, some downloads may be incomplete")
		return nil
	}
	log.Printf("[INFO] single pass done, %d url(s) processed", n)
	return nil
}

// startup replays durable state: stuck records demoted, feed rebuilt from
// what the store already has.
func (a *App) startup() error {
	reset, err := a.storage.ResetStuck()
	if err != nil {
		return fmt.Errorf("reset stuck episodes: %w", err)
	}
	if reset > 0 {
		log.Printf("[INFO] demoted %d stuck episode(s) to pending", reset)
	}

	ready, err := a.storage.FindEpisodesByStatus(episode.StatusReady)
	if err != nil {
		return fmt.Errorf("load episodes: %w", err)
	}
	if err := a.feed.Rebuild(ready); err != nil {
		return fmt.Errorf("initial feed build: %w", err)
	}
	log.Printf("[INFO] loaded %d ready episode(s) from store", len(ready))
	return nil
}
