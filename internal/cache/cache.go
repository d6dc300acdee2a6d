package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

// Cache is the gateway's response cache: a Store plus single-flight
// stampede protection so concurrent misses for the same key collapse into
// one upstream forward.
type Cache struct {
	store       Store
	group       singleflight.Group
	defaultTTL  time.Duration
	maxBody     int64
	varyHeaders []string
}

// New wraps store with the gateway's default TTL and body-size cap. If
// varyHeaders is non-empty, those request headers additionally fingerprint
// the cache key (e.g. "Accept-Language").
func New(store Store, defaultTTL time.Duration, maxBodyBytes int64, varyHeaders []string) *Cache {
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	if maxBodyBytes <= 0 {
		maxBodyBytes = 1 << 20
	}
	sorted := make([]string, len(varyHeaders))
	copy(sorted, varyHeaders)
	sort.Strings(sorted)

	return &Cache{
		store:       store,
		defaultTTL:  defaultTTL,
		maxBody:     maxBodyBytes,
		varyHeaders: sorted,
	}
}

// BuildKey fingerprints upstream+method+path+normalized query+vary headers
// into a cache key, per spec's CacheEntry key definition.
func (c *Cache) BuildKey(upstream string, r *http.Request) string {
	h := sha256.New()
	io.WriteString(h, upstream)
	h.Write([]byte{'/'})
	io.WriteString(h, r.Method)
	h.Write([]byte{'|'})
	io.WriteString(h, r.URL.Path)

	if r.URL.RawQuery != "" {
		h.Write([]byte{'?'})
		io.WriteString(h, normalizeQuery(r.URL.RawQuery))
	}
	for _, hdr := range c.varyHeaders {
		if v := r.Header.Get(hdr); v != "" {
			h.Write([]byte{'|'})
			io.WriteString(h, hdr)
			h.Write([]byte{'='})
			io.WriteString(h, v)
		}
	}

	// The literal "upstream/path" segment stays unhashed in front so
	// DeleteByGlob can match prefixes without reversing the digest; a glob
	// pattern should end in '*' to also cover the trailing fingerprint.
	return upstream + "/" + strings.TrimPrefix(r.URL.Path, "/") + "#" + hex.EncodeToString(h.Sum(nil))
}

// normalizeQuery sorts query parameters so differently-ordered but
// equivalent query strings hash to the same key.
func normalizeQuery(raw string) string {
	pairs := strings.Split(raw, "&")
	sort.Strings(pairs)
	return strings.Join(pairs, "&")
}

// Cacheable reports whether r is eligible for cache lookup/storage per
// spec §4.5: only GET/HEAD, and no Authorization or Cache-Control: no-store.
func Cacheable(r *http.Request) bool {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return false
	}
	if r.Header.Get("Authorization") != "" {
		return false
	}
	if strings.Contains(r.Header.Get("Cache-Control"), "no-store") {
		return false
	}
	return true
}

// Storable reports whether a response is eligible for insertion: a 2xx
// status and a body within the configured size cap.
func (c *Cache) Storable(statusCode int, bodySize int64) bool {
	if statusCode < 200 || statusCode >= 300 {
		return false
	}
	return bodySize <= c.maxBody
}

// TTLFor returns the effective TTL for an upstream response: the smaller of
// the configured default and the response's Cache-Control max-age, if any.
func (c *Cache) TTLFor(headers http.Header) time.Duration {
	ttl := c.defaultTTL
	if maxAge, ok := parseMaxAge(headers.Get("Cache-Control")); ok {
		if d := time.Duration(maxAge) * time.Second; d < ttl {
			ttl = d
		}
	}
	return ttl
}

func parseMaxAge(cacheControl string) (int, bool) {
	for _, directive := range strings.Split(cacheControl, ",") {
		directive = strings.TrimSpace(directive)
		if !strings.HasPrefix(directive, "max-age=") {
			continue
		}
		if n, err := strconv.Atoi(strings.TrimPrefix(directive, "max-age=")); err == nil {
			return n, true
		}
	}
	return 0, false
}

// Get returns the entry for key if present and unexpired.
func (c *Cache) Get(key string) (*Entry, bool) {
	entry, ok := c.store.Get(key)
	if !ok {
		return nil, false
	}
	if entry.IsExpired() {
		c.store.Delete(key)
		return nil, false
	}
	return entry, true
}

// Set stores entry under key, stamping StoredAt and defaulting TTL.
func (c *Cache) Set(key string, entry *Entry) {
	if entry.TTL <= 0 {
		entry.TTL = c.defaultTTL
	}
	entry.StoredAt = time.Now()
	c.store.Set(key, entry)
}

// GetOrFetch implements the cache's single-flight contract (spec §4.5):
// at most one concurrent fetch runs per key; concurrent callers for the
// same key block on and share that result. A successful fetch is stored
// before being returned to all waiters.
func (c *Cache) GetOrFetch(key string, fetch func() (*Entry, error)) (entry *Entry, shared bool, err error) {
	if e, ok := c.Get(key); ok {
		return e, false, nil
	}

	v, err, shared := c.group.Do(key, func() (any, error) {
		e, err := fetch()
		if err != nil {
			return nil, err
		}
		c.Set(key, e)
		return e, nil
	})
	if err != nil {
		return nil, shared, err
	}
	return v.(*Entry), shared, nil
}

// Purge removes every cache entry.
func (c *Cache) Purge() {
	c.store.Purge()
}

// InvalidateGlob removes every entry whose key matches the shell-glob
// pattern (doublestar syntax) over the unhashed "upstream/path" prefix,
// e.g. "users/**" or "reports/*". Patterns should end in '*' to also
// absorb each key's trailing query/vary-header fingerprint.
func (c *Cache) InvalidateGlob(pattern string) int {
	return c.store.DeleteByGlob(pattern)
}

// Stats returns the backing store's size/eviction statistics.
func (c *Cache) Stats() StoreStats {
	return c.store.Stats()
}
