package proc

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/bogem/id3v2/v2"
	"github.com/tcolgate/mp3"
)

// mp3Duration walks the mp3 frames and sums their duration. Used as a
// fallback when the downloader reports no duration.
func mp3Duration(path string) (int64, error) {
	f, err := os.Open(path) //nolint:gosec // path is built by the downloader
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck // read-only

	var total time.Duration
	var skipped int
	dec := mp3.NewDecoder(f)
	for {
		var frame mp3.Frame
		if err := dec.Decode(&frame, &skipped); err != nil {
			if err == io.EOF {
				break
			}
			return 0, fmt.Errorf("decode mp3 frame in %s: %w", path, err)
		}
		total += frame.Duration()
	}
	return int64(total.Seconds()), nil
}

// tagAudio writes ID3v2 title/comment tags so podcast clients that read tags
// instead of the feed still show something sensible.
func tagAudio(path, title, description string) error {
	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return fmt.Errorf("open id3 tag of %s: %w", path, err)
	}
	defer tag.Close() //nolint:errcheck

	if title != "" {
		tag.SetTitle(title)
	}
	if description != "" {
		tag.AddCommentFrame(id3v2.CommentFrame{
			Encoding:    id3v2.EncodingUTF8,
			Language:    "eng",
			Description: "description",
			Text:        description,
		})
	}
	if err := tag.Save(); err != nil {
		return fmt.Errorf("save id3 tag of %s: %w", path, err)
	}
	return nil
}
