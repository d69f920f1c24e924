package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/quillpm/quill/internal/turbopath"
)

// Downloader fetches arbitrary URLs (registry tarballs, url: ranges) to
// disk. Grounded on teacher internal/client/client.go's retryablehttp
// construction, generalized from "Vercel API requests" to "plain GET of a
// tarball"; the request-concurrency limiter mirrors
// internal/cache/cache_http.go's httpCache.requestLimiter.
type Downloader struct {
	client    *retryablehttp.Client
	limiter   chan struct{}
	userAgent string
}

// NewDownloader builds a Downloader with the teacher's retry tuning
// (bounded retries, exponential backoff, silent logger) and a concurrency
// cap matching cache_http.go's limiter size.
func NewDownloader() *Downloader {
	client := retryablehttp.NewClient()
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 5 * time.Second
	client.RetryMax = 3
	client.Logger = hclog.NewNullLogger()
	return &Downloader{
		client:    client,
		limiter:   make(chan struct{}, 20),
		userAgent: "quill-fetch",
	}
}

// DownloadToFile GETs url and writes the response body to dest, returning
// an error on any non-2xx status.
func (d *Downloader) DownloadToFile(ctx context.Context, url string, dest turbopath.AbsoluteSystemPath) error {
	d.limiter <- struct{}{}
	defer func() { <-d.limiter }()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("fetch: build request for %s: %w", url, err)
	}
	req.Header.Set("User-Agent", d.userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch: download %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("fetch: download %s: unexpected status %d", url, resp.StatusCode)
	}

	if err := dest.Dir().MkdirAll(0775); err != nil {
		return err
	}
	f, err := dest.OpenFile(os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := io.Copy(f, resp.Body); err != nil {
		return fmt.Errorf("fetch: write %s: %w", dest.ToString(), err)
	}
	return nil
}
