package storage

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"emberchat/pkg/backend/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateSignedURL(t *testing.T) {
	expiresAt := time.Now().UTC().Add(time.Hour).Truncate(time.Second)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/storage/sign", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))

		var req types.SignURLRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "chat-media", req.Bucket)
		assert.Equal(t, "match-1/photo.jpg", req.Path)
		assert.Equal(t, 3600, req.ExpiresInSec)

		json.NewEncoder(w).Encode(types.SignURLResponse{
			SignedURL: "/storage/chat-media/match-1/photo.jpg?token=abc",
			ExpiresAt: expiresAt,
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key", nil, nil)
	url, expiry, err := client.CreateSignedURL(context.Background(), "chat-media", "match-1/photo.jpg", time.Hour)
	require.NoError(t, err)

	// Relative URLs come back resolved against the backend host.
	assert.Equal(t, server.URL+"/storage/chat-media/match-1/photo.jpg?token=abc", url)
	assert.Equal(t, expiresAt, expiry)
}

func TestCreateSignedURLKeepsAbsoluteURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(types.SignURLResponse{
			SignedURL: "https://cdn.example.com/signed?token=abc",
			ExpiresAt: time.Now().Add(time.Hour),
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "", nil, nil)
	url, _, err := client.CreateSignedURL(context.Background(), "chat-media", "p", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/signed?token=abc", url)
}

func TestCreateSignedURLError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	client := NewClient(server.URL, "", nil, nil)
	_, _, err := client.CreateSignedURL(context.Background(), "chat-media", "p", time.Hour)
	assert.Error(t, err)
}

func TestUpload(t *testing.T) {
	var uploaded []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/api/v1/storage/chat-media/match-1/photo.jpg", r.URL.Path)
		assert.Equal(t, "image/jpeg", r.Header.Get("Content-Type"))

		var err error
		uploaded, err = io.ReadAll(r.Body)
		require.NoError(t, err)
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	client := NewClient(server.URL, "", nil, nil)
	err := client.Upload(context.Background(), "chat-media", "match-1/photo.jpg",
		strings.NewReader("jpeg bytes"), "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, "jpeg bytes", string(uploaded))
}

func TestDownload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("video bytes"))
	}))
	defer server.Close()

	client := NewClient(server.URL, "", nil, nil)
	body, err := client.Download(context.Background(), server.URL+"/storage/x?token=abc")
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "video bytes", string(data))
}

func TestDownloadError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	client := NewClient(server.URL, "", nil, nil)
	_, err := client.Download(context.Background(), server.URL+"/storage/x?token=expired")
	assert.Error(t, err)
}

func TestEscapeObjectPath(t *testing.T) {
	assert.Equal(t, "a/b/c", escapeObjectPath("a/b/c"))
	assert.Equal(t, "match-1/photo%20final.jpg", escapeObjectPath("match-1/photo final.jpg"))
}
