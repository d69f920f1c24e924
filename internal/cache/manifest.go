package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/sync/singleflight"
)

// ManifestEntry is a cached registry response: the raw body plus the HTTP
// revalidation metadata needed to issue a conditional GET instead of
// re-downloading unchanged metadata, per spec §4.D.
type ManifestEntry struct {
	Body         []byte    `json:"body"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"lastModified,omitempty"`
	FetchedAt    time.Time `json:"fetchedAt"`
	FreshUntil   time.Time `json:"freshUntil"`
}

func (e *ManifestEntry) fresh(now time.Time) bool {
	return now.Before(e.FreshUntil)
}

// ParsedMetadata is the pre-decoded sibling of a ManifestEntry: the bits the
// resolver actually needs (available versions, dist-tags, per-version
// release times) so repeated resolutions against the same ident don't each
// re-parse the registry JSON body.
type ParsedMetadata struct {
	Versions     []string          `json:"versions"`
	DistTags     map[string]string `json:"distTags"`
	ReleaseTimes map[string]string `json:"releaseTimes"`
}

// ManifestCache stores registry metadata responses on disk, keyed by
// (registryBase, registryPath), with conditional-GET revalidation and a
// parsed-structure sibling cache. Concurrent lookups for the same key are
// collapsed via singleflight, matching spec §4.D's "single-flight per cache
// key" for both sub-caches.
type ManifestCache struct {
	dir         string
	client      *retryablehttp.Client
	immutable   bool
	flight      singleflight.Group
	parseFlight singleflight.Group
	parseMu     sync.Mutex
	parseCache  map[string]ParsedMetadata
}

// NewManifestCache opens (creating if necessary) a manifest cache rooted at
// dir. The retryablehttp client mirrors the teacher's APIClient construction
// in internal/client/client.go: bounded retries with exponential backoff,
// silent by default.
func NewManifestCache(dir string, immutable bool) (*ManifestCache, error) {
	if err := os.MkdirAll(dir, 0775); err != nil {
		return nil, err
	}
	client := retryablehttp.NewClient()
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.RetryMax = 3
	client.Logger = hclog.NewNullLogger()
	return &ManifestCache{
		dir:        dir,
		client:     client,
		immutable:  immutable,
		parseCache: make(map[string]ParsedMetadata),
	}, nil
}

func manifestKey(registryBase, registryPath string) string {
	sum := sha1.Sum([]byte(registryBase + "\x00" + registryPath))
	return hex.EncodeToString(sum[:])
}

func (c *ManifestCache) entryPath(key string) string {
	return c.dir + "/" + key + ".json"
}

// Fetch returns the body for (registryBase, registryPath), serving a fresh
// cached copy, revalidating a stale one with If-None-Match /
// If-Modified-Since, or performing a full GET on a cold cache. In immutable
// mode a cold cache is a fatal ErrImmutable rather than a network fetch.
func (c *ManifestCache) Fetch(ctx context.Context, registryBase, registryPath string) ([]byte, error) {
	key := manifestKey(registryBase, registryPath)
	v, err, _ := c.flight.Do(key, func() (interface{}, error) {
		return c.fetchLocked(ctx, key, registryBase, registryPath)
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (c *ManifestCache) fetchLocked(ctx context.Context, key, registryBase, registryPath string) ([]byte, error) {
	existing, _ := c.readEntry(key)
	now := time.Now()

	if existing != nil && existing.fresh(now) {
		return existing.Body, nil
	}

	if c.immutable && existing == nil {
		return nil, &ErrImmutable{Path: c.entryPath(key)}
	}

	url := registryBase + registryPath
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("cache: build manifest request for %s: %w", url, err)
	}
	req.Header.Set("Accept", "application/vnd.npm.install-v1+json; q=1.0, application/json; q=0.8, */*")
	if existing != nil {
		if existing.ETag != "" {
			req.Header.Set("If-None-Match", existing.ETag)
		}
		if existing.LastModified != "" {
			req.Header.Set("If-Modified-Since", existing.LastModified)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if existing != nil {
			// Stale is better than nothing when the registry is unreachable.
			return existing.Body, nil
		}
		return nil, fmt.Errorf("cache: fetch manifest %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified && existing != nil {
		refreshed := *existing
		refreshed.FetchedAt = now
		refreshed.FreshUntil = now.Add(freshDuration(resp))
		if err := c.writeEntry(key, &refreshed); err != nil {
			return nil, err
		}
		return refreshed.Body, nil
	}

	if resp.StatusCode != http.StatusOK {
		if existing != nil {
			return existing.Body, nil
		}
		return nil, fmt.Errorf("cache: manifest %s: unexpected status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("cache: read manifest body for %s: %w", url, err)
	}

	entry := &ManifestEntry{
		Body:         body,
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
		FetchedAt:    now,
		FreshUntil:   now.Add(freshDuration(resp)),
	}
	if err := c.writeEntry(key, entry); err != nil {
		return nil, err
	}
	c.parseMu.Lock()
	delete(c.parseCache, key)
	c.parseMu.Unlock()
	return entry.Body, nil
}

// Parsed returns the decoded (versions, dist-tags, release-times) view of a
// manifest response, parsing and memoizing on first use per key. Both the
// memo lookup/store and the decode itself are collapsed per key via
// parseFlight, and every access to the shared parseCache map goes through
// parseMu, so concurrent resolutions of distinct idents (internal/resolver's
// Primary.Run fans out up to Concurrency goroutines) never race on the map,
// matching spec §4.D/§5's single-flight-per-cache-key requirement for this
// sub-cache too.
func (c *ManifestCache) Parsed(ctx context.Context, registryBase, registryPath string, decode func([]byte) (ParsedMetadata, error)) (ParsedMetadata, error) {
	key := manifestKey(registryBase, registryPath)

	c.parseMu.Lock()
	if p, ok := c.parseCache[key]; ok {
		c.parseMu.Unlock()
		return p, nil
	}
	c.parseMu.Unlock()

	v, err, _ := c.parseFlight.Do(key, func() (interface{}, error) {
		c.parseMu.Lock()
		if p, ok := c.parseCache[key]; ok {
			c.parseMu.Unlock()
			return p, nil
		}
		c.parseMu.Unlock()

		body, err := c.Fetch(ctx, registryBase, registryPath)
		if err != nil {
			return ParsedMetadata{}, err
		}
		parsed, err := decode(body)
		if err != nil {
			return ParsedMetadata{}, fmt.Errorf("cache: decode manifest for %s%s: %w", registryBase, registryPath, err)
		}

		c.parseMu.Lock()
		c.parseCache[key] = parsed
		c.parseMu.Unlock()
		return parsed, nil
	})
	if err != nil {
		return ParsedMetadata{}, err
	}
	return v.(ParsedMetadata), nil
}

func freshDuration(resp *http.Response) time.Duration {
	// npm-style registries rarely send Cache-Control for package documents;
	// a short default keeps us revalidating often without hammering the
	// registry on every single resolver lookup within one install run.
	return 5 * time.Minute
}

func (c *ManifestCache) readEntry(key string) (*ManifestEntry, error) {
	data, err := os.ReadFile(c.entryPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var entry ManifestEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (c *ManifestCache) writeEntry(key string, entry *ManifestEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return withDirLock(c.entryPath(key)+".lock", func() error {
		return writeFileAtomic(c.entryPath(key), data, 0644)
	})
}
