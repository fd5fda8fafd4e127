package service

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"emberchat/internal/constants"
	"emberchat/internal/features"
	"emberchat/internal/models"
	"emberchat/pkg/media"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type stubSigner struct {
	url string
	err error
}

func (s *stubSigner) CreateSignedURL(ctx context.Context, bucket, path string, expiresIn time.Duration) (string, time.Time, error) {
	if s.err != nil {
		return "", time.Time{}, s.err
	}
	return s.url, time.Now().Add(expiresIn), nil
}

type stubFlagStore struct {
	flags map[string]bool
}

func (s *stubFlagStore) GetFeatureFlag(ctx context.Context, name, userID string) (bool, error) {
	return s.flags[name], nil
}

func newResolverUnderTest(t *testing.T, signer media.URLSigner, videos *media.VideoDiskCache, store MessageStore) *MediaResolver {
	t.Helper()
	return NewMediaResolver(MediaResolverConfig{
		URLs:     media.NewSignedURLCache(signer, media.SignedURLCacheOptions{}),
		Videos:   videos,
		Store:    store,
		Bucket:   "chat-media",
		ViewerID: "me",
		Now:      fixedNow(),
	})
}

func imageMessage(author string) *models.Message {
	image := models.MediaTypeImage
	return &models.Message{
		ID:        "m1",
		MatchID:   "match-1",
		UserID:    author,
		MediaPath: strPtr("match-1/photo.jpg"),
		MediaType: &image,
	}
}

func videoMessage(author string) *models.Message {
	video := models.MediaTypeVideo
	return &models.Message{
		ID:        "m1",
		MatchID:   "match-1",
		UserID:    author,
		MediaPath: strPtr("match-1/clip.mp4"),
		MediaType: &video,
	}
}

func TestInitialState(t *testing.T) {
	now := fixedNow()()
	r := newResolverUnderTest(t, &stubSigner{url: "https://signed"}, nil, nil)

	tests := []struct {
		name     string
		msg      *models.Message
		expected MediaState
	}{
		{
			name:     "text only message",
			msg:      &models.Message{ID: "m1", UserID: "partner", Content: strPtr("hi")},
			expected: MediaStateNone,
		},
		{
			name: "deleted message",
			msg: func() *models.Message {
				m := imageMessage("partner")
				m.DeletedAt = timePtr(now)
				return m
			}(),
			expected: MediaStateNone,
		},
		{
			name:     "unviewed partner media is hidden",
			msg:      imageMessage("partner"),
			expected: MediaStateHidden,
		},
		{
			name:     "own media skips the veil",
			msg:      imageMessage("me"),
			expected: MediaStateResolving,
		},
		{
			name: "already viewed media resolves",
			msg: func() *models.Message {
				m := imageMessage("partner")
				m.MediaViewedAt = timePtr(now.Add(-time.Hour))
				return m
			}(),
			expected: MediaStateResolving,
		},
		{
			name: "expired flag outranks the veil",
			msg: func() *models.Message {
				m := videoMessage("partner")
				m.MediaExpired = true
				return m
			}(),
			expected: MediaStateExpired,
		},
		{
			name: "past expiry timestamp outranks viewed state",
			msg: func() *models.Message {
				m := videoMessage("partner")
				m.MediaViewedAt = timePtr(now.Add(-31 * 24 * time.Hour))
				m.MediaExpiresAt = timePtr(now.Add(-24 * time.Hour))
				return m
			}(),
			expected: MediaStateExpired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, r.InitialState(context.Background(), tt.msg))
		})
	}
}

func TestResolveMintsSignedURL(t *testing.T) {
	r := newResolverUnderTest(t, &stubSigner{url: "https://signed.example.com/photo"}, nil, nil)

	res := r.Resolve(context.Background(), imageMessage("me"))
	assert.Equal(t, MediaStateReady, res.State)
	assert.Equal(t, "https://signed.example.com/photo", res.URL)
	assert.Empty(t, res.LocalPath)
}

func TestResolveHiddenMediaStaysHidden(t *testing.T) {
	r := newResolverUnderTest(t, &stubSigner{url: "https://signed"}, nil, nil)

	res := r.Resolve(context.Background(), imageMessage("partner"))
	assert.Equal(t, MediaStateHidden, res.State)
	assert.Empty(t, res.URL)
}

func TestResolveSigningFailure(t *testing.T) {
	r := newResolverUnderTest(t, &stubSigner{err: fmt.Errorf("storage down")}, nil, nil)

	res := r.Resolve(context.Background(), imageMessage("me"))
	assert.Equal(t, MediaStateError, res.State)
}

func TestResolvePrefersCachedVideoFile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("video bytes"))
	}))
	defer server.Close()

	videos := media.NewVideoDiskCache(t.TempDir(), 0, nil, nil)
	local, err := videos.Download(context.Background(), "match-1/clip.mp4", server.URL)
	require.NoError(t, err)

	r := newResolverUnderTest(t, &stubSigner{err: fmt.Errorf("must not be called")}, videos, nil)

	res := r.Resolve(context.Background(), videoMessage("me"))
	assert.Equal(t, MediaStateReady, res.State)
	assert.Equal(t, local, res.LocalPath)
	assert.Empty(t, res.URL)
}

func TestRevealPersistsViewedTimestamp(t *testing.T) {
	now := fixedNow()()
	store := &mockMessageStore{}
	store.On("UpdateMessages", mock.Anything, []string{"m1"}, mock.Anything).Return(nil)

	r := newResolverUnderTest(t, &stubSigner{url: "https://signed"}, nil, store)

	msg := imageMessage("partner")
	require.NoError(t, r.Reveal(context.Background(), msg))

	call := store.Calls[len(store.Calls)-1]
	patch := call.Arguments.Get(2).(models.MessagePatch)
	require.NotNil(t, patch.MediaViewedAt)
	assert.Equal(t, now, *patch.MediaViewedAt)
	assert.Nil(t, patch.MediaExpiresAt)

	// The local copy flipped, so the next InitialState is Resolving.
	assert.Equal(t, now, *msg.MediaViewedAt)
	assert.Equal(t, MediaStateResolving, r.InitialState(context.Background(), msg))
}

func TestRevealVideoStartsExpiryWindow(t *testing.T) {
	now := fixedNow()()
	store := &mockMessageStore{}
	store.On("UpdateMessages", mock.Anything, []string{"m1"}, mock.Anything).Return(nil)

	r := newResolverUnderTest(t, &stubSigner{url: "https://signed"}, nil, store)

	msg := videoMessage("partner")
	require.NoError(t, r.Reveal(context.Background(), msg))

	call := store.Calls[len(store.Calls)-1]
	patch := call.Arguments.Get(2).(models.MessagePatch)
	require.NotNil(t, patch.MediaExpiresAt)
	assert.Equal(t, now.Add(constants.VideoExpiryDays*24*time.Hour), *patch.MediaExpiresAt)
}

func TestRevealFailureKeepsVeil(t *testing.T) {
	store := &mockMessageStore{}
	store.On("UpdateMessages", mock.Anything, mock.Anything, mock.Anything).Return(assert.AnError)

	r := newResolverUnderTest(t, &stubSigner{url: "https://signed"}, nil, store)

	msg := imageMessage("partner")
	assert.Error(t, r.Reveal(context.Background(), msg))
	assert.Nil(t, msg.MediaViewedAt)
	assert.Equal(t, MediaStateHidden, r.InitialState(context.Background(), msg))
}

func TestCacheVideoDownloads(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("video bytes"))
	}))
	defer server.Close()

	videos := media.NewVideoDiskCache(t.TempDir(), 0, nil, nil)
	r := newResolverUnderTest(t, &stubSigner{url: server.URL}, videos, nil)

	local, err := r.CacheVideo(context.Background(), videoMessage("me"), server.URL)
	require.NoError(t, err)
	assert.NotEmpty(t, local)
}

func TestRevealGateFlagOffSkipsVeil(t *testing.T) {
	flags := features.NewManager(&stubFlagStore{flags: map[string]bool{
		features.FlagRevealGate: false,
	}}, "me", nil)

	r := NewMediaResolver(MediaResolverConfig{
		URLs:     media.NewSignedURLCache(&stubSigner{url: "https://signed"}, media.SignedURLCacheOptions{}),
		Flags:    flags,
		Bucket:   "chat-media",
		ViewerID: "me",
		Now:      fixedNow(),
	})

	msg := imageMessage("partner")
	assert.Equal(t, MediaStateResolving, r.InitialState(context.Background(), msg))

	res := r.Resolve(context.Background(), msg)
	assert.Equal(t, MediaStateReady, res.State)
	assert.Equal(t, "https://signed", res.URL)
}

func TestVideoCacheFlagOffSkipsDownload(t *testing.T) {
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.Write([]byte("video bytes"))
	}))
	defer server.Close()

	flags := features.NewManager(&stubFlagStore{flags: map[string]bool{
		features.FlagRevealGate: true,
		features.FlagVideoCache: false,
	}}, "me", nil)

	videos := media.NewVideoDiskCache(t.TempDir(), 0, nil, nil)
	r := NewMediaResolver(MediaResolverConfig{
		URLs:     media.NewSignedURLCache(&stubSigner{url: server.URL}, media.SignedURLCacheOptions{}),
		Videos:   videos,
		Flags:    flags,
		Bucket:   "chat-media",
		ViewerID: "me",
		Now:      fixedNow(),
	})

	local, err := r.CacheVideo(context.Background(), videoMessage("me"), server.URL)
	require.NoError(t, err)
	assert.Empty(t, local)
	assert.Equal(t, int32(0), atomic.LoadInt32(&requests))

	// Playback falls back to the signed URL instead of a local file.
	res := r.Resolve(context.Background(), videoMessage("me"))
	assert.Equal(t, MediaStateReady, res.State)
	assert.Empty(t, res.LocalPath)
	assert.Equal(t, server.URL, res.URL)
}

func TestCacheVideoNoOpCases(t *testing.T) {
	r := newResolverUnderTest(t, &stubSigner{url: "https://signed"}, nil, nil)

	// No cache configured.
	local, err := r.CacheVideo(context.Background(), videoMessage("me"), "https://signed")
	assert.NoError(t, err)
	assert.Empty(t, local)

	// Images never hit the video cache.
	videos := media.NewVideoDiskCache(t.TempDir(), 0, nil, nil)
	r = newResolverUnderTest(t, &stubSigner{url: "https://signed"}, videos, nil)
	local, err = r.CacheVideo(context.Background(), imageMessage("me"), "https://signed")
	assert.NoError(t, err)
	assert.Empty(t, local)
}
