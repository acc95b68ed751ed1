package scraper

import (
	"net/url"
	"time"

	htmlmd "github.com/JohannesKaufmann/html-to-markdown"

	"countyscrape/internal/scrapeutil"
)

// snapshotMaxBytes bounds the markdown persisted with a failed job.
const snapshotMaxBytes = 64 * 1024

// Snapshot is the rendered fallback page captured when the DOM path was
// the last thing to run before a job failed. The worker serializes it
// into the job's failure context for operator diagnosis.
type Snapshot struct {
	URL        string    `json:"url"`
	Markdown   string    `json:"markdown"`
	CapturedAt time.Time `json:"capturedAt"`
}

// BuildSnapshot converts rendered page HTML to markdown bounded to
// maxBytes (<= 0 applies the default bound). When conversion fails the
// trimmed raw HTML is kept instead so the operator still sees something.
func BuildSnapshot(pageURL, html string, maxBytes int) *Snapshot {
	if maxBytes <= 0 {
		maxBytes = snapshotMaxBytes
	}
	host := ""
	if u, err := url.Parse(pageURL); err == nil {
		host = u.Hostname()
	}
	converter := htmlmd.NewConverter(host, true, nil)
	markdown, err := converter.ConvertString(html)
	if err != nil || markdown == "" {
		markdown = html
	}
	return &Snapshot{
		URL:        pageURL,
		Markdown:   scrapeutil.TrimToBytes(markdown, maxBytes),
		CapturedAt: time.Now().UTC(),
	}
}
