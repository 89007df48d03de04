package client

import (
	"net/http"
	"time"

	"github.com/gregjones/httpcache"
	"github.com/gregjones/httpcache/diskcache"
)

// DefaultTimeout bounds every outbound request made by these clients.
const DefaultTimeout = 10 * time.Second

// NewCachingHTTPClient creates an HTTP client that honours Cache-Control on
// responses. It is used for key set fetches which publish max-age headers.
// An empty cacheDir keeps the cache in memory, otherwise it persists on disk.
func NewCachingHTTPClient(cacheDir string, timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	var cache httpcache.Cache = httpcache.NewMemoryCache()
	if cacheDir != "" {
		cache = diskcache.New(cacheDir)
	}

	return &http.Client{
		Transport: httpcache.NewTransport(cache),
		Timeout:   timeout,
	}
}

// NewHTTPClient creates a plain client for endpoints whose responses are
// specific to the caller, such as per-token user lookups.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &http.Client{
		Transport: http.DefaultTransport,
		Timeout:   timeout,
	}
}

// FromCache reports whether a response was served from the local cache.
func FromCache(resp *http.Response) bool {
	return resp.Header.Get(httpcache.XFromCache) == "1"
}
