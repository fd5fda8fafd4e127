package media

import (
	"context"
	"sync"
	"time"

	"emberchat/internal/metrics"
	"emberchat/internal/tracing"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// URLSigner mints a time-limited URL for one private storage object.
type URLSigner interface {
	CreateSignedURL(ctx context.Context, bucket, path string, expiresIn time.Duration) (string, time.Time, error)
}

type cachedURL struct {
	url       string
	expiresAt time.Time
}

// SignedURLCache memoizes signed URLs keyed by (bucket, path). A cached URL
// is served only while its expiry is further away than the buffer window,
// so callers never receive a URL about to die mid-use.
type SignedURLCache struct {
	signer   URLSigner
	validity time.Duration
	buffer   time.Duration
	logger   *logrus.Logger
	now      func() time.Time

	mu      sync.Mutex
	entries map[string]cachedURL
}

// SignedURLCacheOptions configures a SignedURLCache.
type SignedURLCacheOptions struct {
	Validity time.Duration // how long minted URLs live, default 1h
	Buffer   time.Duration // refresh margin before expiry, default 5m
	Logger   *logrus.Logger
	Now      func() time.Time // clock override for tests
}

// NewSignedURLCache creates an explicitly constructed, injectable URL cache.
func NewSignedURLCache(signer URLSigner, opts SignedURLCacheOptions) *SignedURLCache {
	if opts.Validity <= 0 {
		opts.Validity = time.Hour
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 5 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
		opts.Logger.SetLevel(logrus.WarnLevel)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &SignedURLCache{
		signer:   signer,
		validity: opts.Validity,
		buffer:   opts.Buffer,
		logger:   opts.Logger,
		now:      opts.Now,
		entries:  make(map[string]cachedURL),
	}
}

// GetURL returns a valid signed URL for bucket/path, minting a fresh one
// only on miss or when inside the buffer window. A mint failure returns an
// empty URL and the error; callers treat that distinctly from loading.
func (c *SignedURLCache) GetURL(ctx context.Context, bucket, path string) (string, error) {
	key := bucket + ":" + path
	now := c.now()

	c.mu.Lock()
	if cached, ok := c.entries[key]; ok && cached.expiresAt.Sub(now) > c.buffer {
		c.mu.Unlock()
		metrics.IncrementCounter("signed_url_cache_hits", nil, "Signed URLs served from cache")
		return cached.url, nil
	}
	c.mu.Unlock()

	ctx, span := tracing.StartSpan(ctx, "media.sign_url",
		attribute.String("bucket", bucket))
	defer span.End()

	url, expiresAt, err := c.signer.CreateSignedURL(ctx, bucket, path, c.validity)
	if err != nil {
		tracing.RecordError(ctx, err)
		c.logger.WithError(err).WithFields(logrus.Fields{
			"bucket": bucket,
			"path":   path,
		}).Warn("Failed to mint signed URL")
		return "", err
	}
	if expiresAt.IsZero() {
		expiresAt = now.Add(c.validity)
	}

	c.mu.Lock()
	c.entries[key] = cachedURL{url: url, expiresAt: expiresAt}
	c.mu.Unlock()

	metrics.IncrementCounter("signed_url_mints", nil, "Signed URLs minted from the backend")
	return url, nil
}

// Prefetch warms the cache for a batch of storage paths, e.g. when
// entering a conversation. Failures are logged and skipped.
func (c *SignedURLCache) Prefetch(ctx context.Context, bucket string, paths []string) {
	for _, path := range paths {
		if _, err := c.GetURL(ctx, bucket, NormalizeStoragePath(path, bucket)); err != nil {
			c.logger.WithError(err).WithField("path", path).Debug("Signed URL prefetch skipped")
		}
	}
}

// InvalidateExpired drops entries whose expiry has passed, bounding memory
// growth over a long session.
func (c *SignedURLCache) InvalidateExpired() {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	for key, cached := range c.entries {
		if cached.expiresAt.Before(now) {
			delete(c.entries, key)
		}
	}
}

// InvalidateAll clears the cache entirely, e.g. on logout.
func (c *SignedURLCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cachedURL)
}

// Len returns the number of cached entries.
func (c *SignedURLCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
