package media

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"emberchat/internal/constants"
	apperrors "emberchat/internal/errors"
	"emberchat/internal/metrics"
	"emberchat/internal/tracing"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// VideoDiskCache persists downloaded video attachments so replays never
// re-fetch. At most one download per storage path is ever in flight;
// concurrent callers get an empty result and rely on the winner's
// completion showing up through CachedPath.
//
// A cache constructed with an empty directory is disabled (platforms
// without a persistent filesystem): every operation is a silent no-op.
type VideoDiskCache struct {
	dir        string
	maxBytes   int64
	httpClient *http.Client
	logger     *logrus.Logger

	mu         sync.Mutex
	inProgress map[string]struct{}
}

// NewVideoDiskCache creates a video cache rooted at dir, refusing files
// larger than maxSizeMB (0 applies the default cap). An empty dir yields
// a disabled cache rather than an error.
func NewVideoDiskCache(dir string, maxSizeMB int, httpClient *http.Client, logger *logrus.Logger) *VideoDiskCache {
	if maxSizeMB <= 0 {
		maxSizeMB = constants.DefaultMaxVideoSizeMB
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: constants.DefaultDownloadTimeoutSec * time.Second}
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}

	return &VideoDiskCache{
		dir:        dir,
		maxBytes:   int64(maxSizeMB) << 20,
		httpClient: httpClient,
		logger:     logger,
		inProgress: make(map[string]struct{}),
	}
}

// Enabled reports whether the cache has a backing directory.
func (c *VideoDiskCache) Enabled() bool {
	return c.dir != ""
}

// CachedPath maps a storage path to its local file and reports whether the
// file exists. It never triggers a download.
func (c *VideoDiskCache) CachedPath(storagePath string) (string, bool) {
	if !c.Enabled() || storagePath == "" {
		return "", false
	}

	local := filepath.Join(c.dir, sanitizeFilename(storagePath))
	if _, err := os.Stat(local); err != nil {
		return "", false
	}
	return local, true
}

// Download streams the remote file to the deterministic local path and
// returns it. If the path is already cached the existing file is returned
// without any network traffic. If a download for the same path is already
// in flight, Download returns ("", nil) immediately.
func (c *VideoDiskCache) Download(ctx context.Context, storagePath, sourceURL string) (string, error) {
	if !c.Enabled() || storagePath == "" || sourceURL == "" {
		return "", nil
	}

	if local, ok := c.CachedPath(storagePath); ok {
		return local, nil
	}

	c.mu.Lock()
	if _, busy := c.inProgress[storagePath]; busy {
		c.mu.Unlock()
		metrics.IncrementCounter("video_downloads_deduped", nil, "Video downloads skipped because one was in flight")
		return "", nil
	}
	c.inProgress[storagePath] = struct{}{}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.inProgress, storagePath)
		c.mu.Unlock()
	}()

	ctx, span := tracing.StartSpan(ctx, "media.video_download",
		attribute.String("storage_path", storagePath))
	defer span.End()

	local, err := c.fetch(ctx, storagePath, sourceURL)
	if err != nil {
		tracing.RecordError(ctx, err)
		c.logger.WithError(err).WithField("storage_path", storagePath).Warn("Video cache download failed")
		return "", err
	}

	metrics.IncrementCounter("video_downloads", nil, "Videos downloaded into the disk cache")
	return local, nil
}

func (c *VideoDiskCache) fetch(ctx context.Context, storagePath, sourceURL string) (string, error) {
	if err := os.MkdirAll(c.dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create cache directory: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download video: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download failed with status: %d", resp.StatusCode)
	}

	if resp.ContentLength > c.maxBytes {
		return "", apperrors.NewMediaError("download", "video",
			fmt.Errorf("%d bytes exceeds the %d byte cap", resp.ContentLength, c.maxBytes))
	}

	tempFile, err := os.CreateTemp(c.dir, "download_*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}

	written, err := io.Copy(tempFile, io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		tempFile.Close()
		os.Remove(tempFile.Name())
		return "", fmt.Errorf("failed to save downloaded file: %w", err)
	}
	if written > c.maxBytes {
		tempFile.Close()
		os.Remove(tempFile.Name())
		return "", apperrors.NewMediaError("download", "video",
			fmt.Errorf("stream exceeds the %d byte cap", c.maxBytes))
	}
	if err := tempFile.Close(); err != nil {
		os.Remove(tempFile.Name())
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}

	local := filepath.Join(c.dir, sanitizeFilename(storagePath))
	if err := os.Rename(tempFile.Name(), local); err != nil {
		os.Remove(tempFile.Name())
		return "", fmt.Errorf("failed to move file into cache: %w", err)
	}

	return local, nil
}

// ClearAll removes the whole cache directory. Idempotent when the
// directory does not exist.
func (c *VideoDiskCache) ClearAll() error {
	if !c.Enabled() {
		return nil
	}
	if err := os.RemoveAll(c.dir); err != nil {
		return fmt.Errorf("failed to clear video cache: %w", err)
	}
	return nil
}

// sanitizeFilename maps a storage path to a single flat filename,
// substituting every character that is unsafe in a filesystem path. A
// short content hash of the original path keeps distinct paths from
// colliding after substitution. The mapping is deterministic so the same
// storage path always lands on the same local file.
func sanitizeFilename(storagePath string) string {
	var b strings.Builder
	b.Grow(len(storagePath) + 17)
	for _, r := range storagePath {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}

	sum := sha256.Sum256([]byte(storagePath))
	fmt.Fprintf(&b, "_%x", sum[:8])
	return b.String()
}
