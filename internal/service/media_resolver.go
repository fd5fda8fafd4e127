package service

import (
	"context"
	"time"

	"emberchat/internal/constants"
	"emberchat/internal/features"
	"emberchat/internal/models"
	"emberchat/pkg/media"

	"github.com/sirupsen/logrus"
)

// MediaState is the presentation state of one message's attachment.
type MediaState string

const (
	// MediaStateNone: no attachment to render.
	MediaStateNone MediaState = "none"
	// MediaStateHidden: unviewed attachment behind the tap-to-reveal veil.
	MediaStateHidden MediaState = "hidden"
	// MediaStateResolving: revealed, waiting for a usable source.
	MediaStateResolving MediaState = "resolving"
	// MediaStateReady: a signed URL or local file is available.
	MediaStateReady MediaState = "ready"
	// MediaStateError: resolution failed; a retry may succeed.
	MediaStateError MediaState = "error"
	// MediaStateExpired: the attachment's viewing window has closed.
	MediaStateExpired MediaState = "expired"
)

// Resolution is the outcome of resolving one attachment. LocalPath is set
// instead of URL when a cached video file can serve the playback.
type Resolution struct {
	State     MediaState
	URL       string
	LocalPath string
}

// MediaResolver drives an attachment from its stored row to something the
// presentation layer can render: hidden veil, signed URL, cached file, or
// a terminal expired state. Senders skip the veil and see their own media
// immediately.
type MediaResolver struct {
	urls     *media.SignedURLCache
	videos   *media.VideoDiskCache
	store    MessageStore
	flags    *features.Manager
	bucket   string
	viewerID string
	logger   *logrus.Logger
	now      func() time.Time
}

// MediaResolverConfig configures a MediaResolver. Flags is optional; with
// no flag manager every feature behaves as enabled.
type MediaResolverConfig struct {
	URLs     *media.SignedURLCache
	Videos   *media.VideoDiskCache
	Store    MessageStore
	Flags    *features.Manager
	Bucket   string
	ViewerID string
	Logger   *logrus.Logger
	Now      func() time.Time
}

// NewMediaResolver creates a resolver for one viewer.
func NewMediaResolver(cfg MediaResolverConfig) *MediaResolver {
	if cfg.Bucket == "" {
		cfg.Bucket = constants.DefaultMediaBucket
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
		cfg.Logger.SetLevel(logrus.WarnLevel)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &MediaResolver{
		urls:     cfg.URLs,
		videos:   cfg.Videos,
		store:    cfg.Store,
		flags:    cfg.Flags,
		bucket:   cfg.Bucket,
		viewerID: cfg.ViewerID,
		logger:   cfg.Logger,
		now:      cfg.Now,
	}
}

// InitialState classifies an attachment before any resolution work.
// Expiry outranks the veil: an expired attachment shows as expired even
// when it was never revealed. Senders and already-viewed attachments go
// straight to resolving, as does everything when the reveal gate flag is
// off for this viewer.
func (r *MediaResolver) InitialState(ctx context.Context, msg *models.Message) MediaState {
	if msg.DeletedAt != nil || !msg.HasMedia() {
		return MediaStateNone
	}
	if r.expired(msg) {
		return MediaStateExpired
	}
	if msg.UserID == r.viewerID || msg.MediaViewedAt != nil {
		return MediaStateResolving
	}
	if !r.flagEnabled(ctx, features.FlagRevealGate) {
		return MediaStateResolving
	}
	return MediaStateHidden
}

// Resolve produces a renderable source for a revealed attachment. Cached
// video files win over the network; otherwise a signed URL is minted or
// served from cache. A signing failure yields MediaStateError, which the
// caller may retry.
func (r *MediaResolver) Resolve(ctx context.Context, msg *models.Message) Resolution {
	state := r.InitialState(ctx, msg)
	if state != MediaStateResolving {
		return Resolution{State: state}
	}

	storagePath := media.NormalizeStoragePath(*msg.MediaPath, r.bucket)

	if msg.IsVideo() && r.videos != nil && r.flagEnabled(ctx, features.FlagVideoCache) {
		if local, ok := r.videos.CachedPath(storagePath); ok {
			return Resolution{State: MediaStateReady, LocalPath: local}
		}
	}

	url, err := r.urls.GetURL(ctx, r.bucket, storagePath)
	if err != nil {
		r.logger.WithError(err).WithField("message_id", msg.ID).Warn("Media resolution failed")
		return Resolution{State: MediaStateError}
	}

	return Resolution{State: MediaStateReady, URL: url}
}

// Reveal lifts the veil: the viewed timestamp is persisted, and for videos
// the thirty-day viewing window starts counting. Persistence happens
// before the local flip so a crash never yields a viewed-but-unrecorded
// attachment; on write failure the attachment stays hidden.
func (r *MediaResolver) Reveal(ctx context.Context, msg *models.Message) error {
	now := r.now().UTC()
	patch := models.MessagePatch{MediaViewedAt: &now}
	if msg.IsVideo() {
		expiresAt := now.Add(constants.VideoExpiryDays * 24 * time.Hour)
		patch.MediaExpiresAt = &expiresAt
	}

	if err := r.store.UpdateMessages(ctx, []string{msg.ID}, patch); err != nil {
		r.logger.WithError(err).WithField("message_id", msg.ID).Warn("Failed to record media reveal")
		return err
	}

	patch.Apply(msg)
	return nil
}

// CacheVideo downloads a resolved video into the disk cache and returns
// the local path. Returns "" with no error when the cache is disabled,
// the video cache flag is off for this viewer, or another download for
// the same path is in flight.
func (r *MediaResolver) CacheVideo(ctx context.Context, msg *models.Message, signedURL string) (string, error) {
	if r.videos == nil || !msg.IsVideo() || !msg.HasMedia() {
		return "", nil
	}
	if !r.flagEnabled(ctx, features.FlagVideoCache) {
		return "", nil
	}
	storagePath := media.NormalizeStoragePath(*msg.MediaPath, r.bucket)
	return r.videos.Download(ctx, storagePath, signedURL)
}

// flagEnabled resolves a feature flag; with no flag manager configured
// every feature is on.
func (r *MediaResolver) flagEnabled(ctx context.Context, name string) bool {
	if r.flags == nil {
		return true
	}
	return r.flags.Enabled(ctx, name)
}

// expired reports whether the attachment's viewing window has closed,
// either via the stored flag or a past expiry timestamp.
func (r *MediaResolver) expired(msg *models.Message) bool {
	if msg.MediaExpired {
		return true
	}
	return msg.MediaExpiresAt != nil && msg.MediaExpiresAt.Before(r.now())
}
