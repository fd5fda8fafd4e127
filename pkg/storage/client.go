package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "emberchat/internal/errors"
	"emberchat/pkg/backend/types"

	"github.com/sirupsen/logrus"
)

// Client mints signed URLs and moves blobs in and out of private buckets.
type Client interface {
	CreateSignedURL(ctx context.Context, bucket, path string, expiresIn time.Duration) (string, time.Time, error)
	Upload(ctx context.Context, bucket, path string, body io.Reader, contentType string) error
	Download(ctx context.Context, signedURL string) (io.ReadCloser, error)
}

type client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *logrus.Logger
}

// NewClient creates a storage client against the same backend host as the
// row client.
func NewClient(baseURL, apiKey string, httpClient *http.Client, logger *logrus.Logger) Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}

	return &client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		http:    httpClient,
		logger:  logger,
	}
}

// CreateSignedURL requests a time-limited URL for one object. The returned
// expiry is the server's, not a locally computed one.
func (c *client) CreateSignedURL(ctx context.Context, bucket, path string, expiresIn time.Duration) (string, time.Time, error) {
	reqBody := types.SignURLRequest{
		Bucket:       bucket,
		Path:         path,
		ExpiresInSec: int(expiresIn.Seconds()),
	}
	data, err := json.Marshal(reqBody)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/storage/sign", bytes.NewReader(data))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", time.Time{}, apperrors.Wrap(err, apperrors.ErrCodeStorageAPI, "sign request failed").
			WithContext("bucket", bucket).
			WithContext("path", path)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", time.Time{}, apperrors.NewAPIError("storage", "/api/v1/storage/sign", resp.StatusCode,
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	var signed types.SignURLResponse
	if err := json.NewDecoder(resp.Body).Decode(&signed); err != nil {
		return "", time.Time{}, apperrors.Wrap(err, apperrors.ErrCodeStorageAPI, "failed to decode sign response")
	}

	// Relative URLs are resolved against the backend host.
	if strings.HasPrefix(signed.SignedURL, "/") {
		signed.SignedURL = c.baseURL + signed.SignedURL
	}

	return signed.SignedURL, signed.ExpiresAt, nil
}

// Upload stores a blob at bucket/path.
func (c *client) Upload(ctx context.Context, bucket, path string, body io.Reader, contentType string) error {
	endpoint := fmt.Sprintf("%s/api/v1/storage/%s/%s", c.baseURL, url.PathEscape(bucket), escapeObjectPath(path))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeStorageAPI, "upload failed").
			WithContext("bucket", bucket).
			WithContext("path", path)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return apperrors.NewAPIError("storage", endpoint, resp.StatusCode,
			fmt.Errorf("upload failed with status %d", resp.StatusCode))
	}

	return nil
}

// Download fetches a blob through a previously minted signed URL. The
// caller owns the returned body.
func (c *client) Download(ctx context.Context, signedURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, signedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeStorageAPI, "download failed")
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, apperrors.NewAPIError("storage", signedURL, resp.StatusCode,
			fmt.Errorf("download failed with status %d", resp.StatusCode))
	}

	return resp.Body, nil
}

// escapeObjectPath escapes each segment of an object path while keeping
// the slashes that separate them.
func escapeObjectPath(path string) string {
	segments := strings.Split(path, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return strings.Join(segments, "/")
}
