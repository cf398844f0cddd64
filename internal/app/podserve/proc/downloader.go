package proc

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/google/uuid"
	"github.com/lrstanley/go-ytdlp"

	"podserve/internal/app/podserve/episode"
)

// Fetcher is the download adapter: url in, audio file plus best-effort
// metadata out. Implementations must not leave partial files visible in the
// audio directory.
type Fetcher interface {
	Fetch(ctx context.Context, sourceURL string) (*episode.Draft, error)
}

// Downloader fetches media through yt-dlp and extracts audio as mp3. The file
// is downloaded into a staging dir inside the audio directory and renamed
// into place only once complete, so feed readers never see a partial file.
type Downloader struct {
	AudioDir string
	Timeout  time.Duration
}

// NewDownloader creates a downloader writing into audioDir. With autoInstall
// the yt-dlp binary is downloaded when not found on PATH.
func NewDownloader(ctx context.Context, audioDir string, timeout time.Duration, autoInstall bool) (*Downloader, error) {
	if err := os.MkdirAll(audioDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure audio dir %s: %w", audioDir, err)
	}
	if autoInstall {
		if _, err := ytdlp.Install(ctx, nil); err != nil {
			return nil, fmt.Errorf("install yt-dlp: %w", err)
		}
	}
	return &Downloader{AudioDir: audioDir, Timeout: timeout}, nil
}

// Fetch downloads the URL as an mp3 episode. Metadata extraction is best
// effort: a missing title is synthesized from the URL, a missing duration is
// probed from the mp3 frames, a missing upload date falls back to now.
func (d *Downloader) Fetch(ctx context.Context, sourceURL string) (*episode.Draft, error) {
	u, err := url.Parse(strings.TrimSpace(sourceURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, &FetchError{Kind: FetchUnsupported, URL: sourceURL, Err: fmt.Errorf("not a valid url")}
	}

	id := episode.ID(sourceURL)
	workDir := filepath.Join(d.AudioDir, ".staging-"+id+"-"+uuid.NewString()[:8])
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, &FetchError{Kind: FetchStorage, URL: sourceURL, Err: err}
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			log.Printf("[WARN] can't clean staging dir %s, %v", workDir, err)
		}
	}()

	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	dl := ytdlp.New().
		ExtractAudio().
		AudioFormat("mp3").
		NoPlaylist().
		RestrictFilenames().
		Output(filepath.Join(workDir, id+".%(ext)s"))

	res, err := dl.Run(ctx, sourceURL)
	if err != nil {
		return nil, classifyFetchError(sourceURL, err)
	}

	draft := &episode.Draft{PubDate: time.Now()}
	if infos, ierr := res.GetExtractedInfo(); ierr == nil && len(infos) > 0 {
		applyExtractedInfo(draft, infos[0])
	} else if ierr != nil {
		log.Printf("[WARN] degraded metadata for %s, %v", sourceURL, ierr)
	}
	if draft.Title == "" {
		draft.Title = synthesizeTitle(u)
	}

	staged := filepath.Join(workDir, id+".mp3")
	if _, err := os.Stat(staged); err != nil {
		// yt-dlp occasionally deviates from the output template
		matches, _ := filepath.Glob(filepath.Join(workDir, "*.mp3"))
		if len(matches) == 0 {
			return nil, &FetchError{Kind: FetchStorage, URL: sourceURL,
				Err: fmt.Errorf("no audio file produced in %s", workDir)}
		}
		staged = matches[0]
	}

	if draft.Duration == 0 {
		if dur, derr := mp3Duration(staged); derr == nil {
			draft.Duration = dur
		} else {
			log.Printf("[WARN] can't probe duration of %s, %v", staged, derr)
		}
	}
	if err := tagAudio(staged, draft.Title, draft.Description); err != nil {
		log.Printf("[WARN] can't tag %s, %v", staged, err)
	}

	final := filepath.Join(d.AudioDir, id+".mp3")
	if err := os.Rename(staged, final); err != nil {
		return nil, &FetchError{Kind: FetchStorage, URL: sourceURL, Err: err}
	}
	fi, err := os.Stat(final)
	if err != nil {
		return nil, &FetchError{Kind: FetchStorage, URL: sourceURL, Err: err}
	}

	draft.AudioFile = final
	draft.AudioSize = fi.Size()
	log.Printf("[INFO] downloaded %s -> %s (%d bytes)", sourceURL, filepath.Base(final), fi.Size())
	return draft, nil
}

func applyExtractedInfo(draft *episode.Draft, info *ytdlp.ExtractedInfo) {
	if info == nil {
		return
	}
	if info.Title != nil {
		draft.Title = strings.TrimSpace(*info.Title)
	}
	if info.Description != nil {
		draft.Description = strings.TrimSpace(*info.Description)
	}
	if info.Duration != nil && *info.Duration > 0 {
		draft.Duration = int64(*info.Duration)
	}
	if info.UploadDate != nil {
		if ts, err := time.Parse("20060102", *info.UploadDate); err == nil {
			draft.PubDate = ts
		}
	}
}

// synthesizeTitle builds a human-usable title from the URL when metadata
// extraction yielded none, so unusual sources still produce a playable entry.
func synthesizeTitle(u *url.URL) string {
	seg := strings.Trim(u.Path, "/")
	if i := strings.LastIndex(seg, "/"); i >= 0 {
		seg = seg[i+1:]
	}
	seg = strings.NewReplacer("-", " ", "_", " ").Replace(seg)
	if seg == "" {
		return u.Host
	}
	return fmt.Sprintf("%s (%s)", seg, u.Host)
}

// classifyFetchError maps yt-dlp failures onto the retry taxonomy. Unknown
// extractor errors are treated as permanent so a known-bad URL can't cause a
// retry storm.
func classifyFetchError(sourceURL string, err error) *FetchError {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &FetchError{Kind: FetchTransient, URL: sourceURL, Err: err}
	}

	msg := strings.ToLower(err.Error())
	transient := []string{
		"timed out", "timeout", "connection", "network", "temporary failure",
		"http error 5", "http error 429", "unable to download",
	}
	for _, m := range transient {
		if strings.Contains(msg, m) {
			return &FetchError{Kind: FetchTransient, URL: sourceURL, Err: err}
		}
	}
	return &FetchError{Kind: FetchUnsupported, URL: sourceURL, Err: err}
}
