package proc

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	log "github.com/go-pkgz/lgr"
	"github.com/google/uuid"
)

// QueueFile reconciles the watched plain-text URL file. One URL per line,
// blank lines and #-comments ignored. The file is mutated only by removing
// completed lines, always via temp file + atomic rename so a concurrent
// reader never sees a truncated file. Mutations are serialized with a mutex,
// two workers rewriting at once would clobber each other's removal.
type QueueFile struct {
	Path string

	mu sync.Mutex
}

// Scan reads the queue file and returns new URLs in file order. A URL is new
// when the skip callback rejects it; duplicates within one scan are collapsed
// to the first occurrence. A missing file reads as empty.
func (q *QueueFile) Scan(skip func(url string) bool) ([]string, error) {
	f, err := os.Open(q.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open queue file %s: %w", q.Path, err)
	}
	defer f.Close() //nolint:errcheck // read-only

	var urls []string
	seen := map[string]struct{}{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if _, dup := seen[line]; dup {
			continue
		}
		seen[line] = struct{}{}
		if skip != nil && skip(line) {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read queue file %s: %w", q.Path, err)
	}
	return urls, nil
}

// Remove deletes every line matching the URL, preserving all other lines and
// their order. The file is re-read first, so lines added between scan and
// remove survive. Removing a URL that is no longer present is a no-op.
func (q *QueueFile) Remove(url string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	url = strings.TrimSpace(url)

	data, err := os.ReadFile(q.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read queue file %s: %w", q.Path, err)
	}

	var kept []string
	found := false
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == url {
			found = true
			continue
		}
		kept = append(kept, line)
	}
	if !found {
		return nil
	}

	tmp := q.Path + "." + uuid.NewString() + ".tmp"
	if err := os.WriteFile(tmp, []byte(strings.Join(kept, "\n")), 0o644); err != nil { //nolint:gosec
		return fmt.Errorf("write queue temp file: %w", err)
	}
	if err := os.Rename(tmp, q.Path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace queue file %s: %w", q.Path, err)
	}

	log.Printf("[DEBUG] removed url from queue file: %s", url)
	return nil
}

// Append adds a URL as a new line at the end of the file, creating the file
// if needed. Used by the http layer, the watcher picks the change up.
func (q *QueueFile) Append(url string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(q.Path), 0o755); err != nil {
		return fmt.Errorf("ensure queue file dir: %w", err)
	}

	f, err := os.OpenFile(q.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644) //nolint:gosec
	if err != nil {
		return fmt.Errorf("open queue file %s: %w", q.Path, err)
	}
	defer f.Close() //nolint:errcheck

	if _, err := f.WriteString(strings.TrimSpace(url) + "\n"); err != nil {
		return fmt.Errorf("append to queue file %s: %w", q.Path, err)
	}
	return nil
}
