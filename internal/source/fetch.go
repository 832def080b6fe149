package source

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"

	appLog "vtcal/internal/log"
)

const (
	fetchTimeout = 15 * time.Second
	maxPageBytes = 16 << 20

	userAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	acceptHTML     = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	acceptLanguage = "ja,en;q=0.9"
)

// retryDelay is the base backoff between attempts; tests shorten it.
var retryDelay = 500 * time.Millisecond

// StatusError is a non-2xx HTTP response.
type StatusError struct {
	Code    int
	Snippet string
}

func (e *StatusError) Error() string {
	if e.Snippet == "" {
		return fmt.Sprintf("http %d", e.Code)
	}
	return fmt.Sprintf("http %d: %s", e.Code, e.Snippet)
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= 500
	}
	return true
}

func withRetry(ctx context.Context, fn func() error) error {
	return retry.Do(fn,
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(retryable),
		retry.LastErrorOnly(true),
	)
}

func snippet(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 512))
	return strings.TrimSpace(string(b))
}

// cacheEntry holds HTTP cache metadata for a single page URL.
type cacheEntry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// PageFetcher loads schedule pages with conditional GETs against a disk
// cache. The cached copy only answers 304 Not Modified; a failed fetch is
// an error, never an old page.
type PageFetcher struct {
	client   *http.Client
	cacheDir string
}

var _ PageLoader = (*PageFetcher)(nil)

// NewPageFetcher creates a fetcher. An empty cacheDir disables caching.
func NewPageFetcher(cacheDir string, client *http.Client) *PageFetcher {
	if client == nil {
		client = &http.Client{Timeout: fetchTimeout}
	}
	return &PageFetcher{client: client, cacheDir: cacheDir}
}

type pageResponse struct {
	status       int
	body         []byte
	etag         string
	lastModified string
}

// Load fetches url, honoring ETag and Last-Modified.
func (f *PageFetcher) Load(ctx context.Context, url string) ([]byte, error) {
	if url == "" {
		return nil, errors.New("page URL is empty")
	}

	var (
		cachePath  string
		meta       cacheEntry
		cachedBody []byte
	)
	if f.cacheDir != "" {
		cachePath = f.cachePathForURL(url)
		if err := os.MkdirAll(cachePath, 0o700); err != nil {
			return nil, err
		}
		meta, _ = loadCacheMeta(cachePath)
		cachedBody, _ = os.ReadFile(filepath.Join(cachePath, "body.html"))
	}

	appLog.Debug("page fetch start", "url", redactURL(url))

	var resp pageResponse
	err := withRetry(ctx, func() error {
		r, err := f.roundTrip(ctx, url, meta)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	switch resp.status {
	case http.StatusOK:
		if cachePath != "" {
			newMeta := cacheEntry{
				URL:          url,
				ETag:         resp.etag,
				LastModified: resp.lastModified,
			}
			if err := saveCache(cachePath, newMeta, resp.body); err != nil {
				appLog.Error("page cache save failed", err, "url", redactURL(url))
			}
		}
		appLog.Debug("page fetch success", "url", redactURL(url), "bytes", len(resp.body))
		return resp.body, nil

	case http.StatusNotModified:
		if len(cachedBody) == 0 {
			return nil, errors.New("received 304 Not Modified but no cached body available")
		}
		appLog.Debug("page not modified; using cache", "url", redactURL(url))
		return cachedBody, nil

	default:
		return nil, &StatusError{Code: resp.status, Snippet: string(resp.body)}
	}
}

func (f *PageFetcher) roundTrip(ctx context.Context, url string, meta cacheEntry) (pageResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return pageResponse{}, retry.Unrecoverable(err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", acceptHTML)
	req.Header.Set("Accept-Language", acceptLanguage)
	if meta.ETag != "" {
		req.Header.Set("If-None-Match", meta.ETag)
	}
	if meta.LastModified != "" {
		req.Header.Set("If-Modified-Since", meta.LastModified)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return pageResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return pageResponse{}, &StatusError{Code: resp.StatusCode, Snippet: snippet(resp.Body)}
	}
	if resp.StatusCode != http.StatusOK {
		return pageResponse{status: resp.StatusCode, body: []byte(snippet(resp.Body))}, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return pageResponse{}, err
	}
	return pageResponse{
		status:       resp.StatusCode,
		body:         body,
		etag:         resp.Header.Get("ETag"),
		lastModified: resp.Header.Get("Last-Modified"),
	}, nil
}

func (f *PageFetcher) cachePathForURL(url string) string {
	sum := sha256.Sum256([]byte(url))
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
}

func loadCacheMeta(cachePath string) (cacheEntry, error) {
	var meta cacheEntry
	data, err := os.ReadFile(filepath.Join(cachePath, "meta.json"))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return cacheEntry{}, err
	}
	return meta, nil
}

func saveCache(cachePath string, meta cacheEntry, body []byte) error {
	// Write body first so meta never points at missing body.
	if err := os.WriteFile(filepath.Join(cachePath, "body.html"), body, 0o600); err != nil {
		return err
	}

	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(cachePath, "meta.json"), data, 0o600)
}

// redactURL keeps scheme and host only, so API keys or tokens in query
// strings never reach the logs.
func redactURL(u string) string {
	i := strings.Index(u, "://")
	if i == -1 {
		return "...(redacted)"
	}
	rest := u[i+3:]
	if j := strings.IndexByte(rest, '/'); j >= 0 {
		rest = rest[:j]
	}
	return u[:i+3] + rest + "/...(redacted)"
}
