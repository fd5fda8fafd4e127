package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "emberchat/internal/errors"
	"emberchat/internal/models"
	"emberchat/pkg/backend/types"

	"github.com/sirupsen/logrus"
)

// Client is the row read/write surface of the hosted backend.
type Client interface {
	GetMatch(ctx context.Context, matchID string) (*models.Match, error)
	ListMessages(ctx context.Context, matchID string) ([]models.Message, error)
	InsertMessage(ctx context.Context, req types.InsertMessageRequest) (*models.Message, error)
	UpdateMessages(ctx context.Context, ids []string, patch models.MessagePatch) error
	ListDeletions(ctx context.Context, userID string) ([]models.MessageDeletion, error)
	InsertDeletion(ctx context.Context, userID, messageID string) error
	GetFeatureFlag(ctx context.Context, name, userID string) (bool, error)
}

type client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *logrus.Logger
}

// NewClient creates a backend row client. A nil httpClient gets a default
// with a 30 second timeout.
func NewClient(baseURL, apiKey string, httpClient *http.Client, logger *logrus.Logger) Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
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

func (c *client) GetMatch(ctx context.Context, matchID string) (*models.Match, error) {
	var match models.Match
	endpoint := fmt.Sprintf("/api/v1/matches/%s", url.PathEscape(matchID))
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &match); err != nil {
		return nil, err
	}
	return &match, nil
}

// ListMessages returns the full message history of a match, newest first.
func (c *client) ListMessages(ctx context.Context, matchID string) ([]models.Message, error) {
	var messages []models.Message
	endpoint := fmt.Sprintf("/api/v1/matches/%s/messages", url.PathEscape(matchID))
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

func (c *client) InsertMessage(ctx context.Context, req types.InsertMessageRequest) (*models.Message, error) {
	var msg models.Message
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/messages", req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// UpdateMessages applies one patch to every row in ids in a single call.
// An empty id list or empty patch is a no-op.
func (c *client) UpdateMessages(ctx context.Context, ids []string, patch models.MessagePatch) error {
	if len(ids) == 0 || patch.IsEmpty() {
		return nil
	}
	req := types.UpdateMessagesRequest{IDs: ids, Patch: patch}
	return c.doJSON(ctx, http.MethodPatch, "/api/v1/messages", req, nil)
}

func (c *client) ListDeletions(ctx context.Context, userID string) ([]models.MessageDeletion, error) {
	var deletions []models.MessageDeletion
	endpoint := fmt.Sprintf("/api/v1/users/%s/deletions", url.PathEscape(userID))
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &deletions); err != nil {
		return nil, err
	}
	return deletions, nil
}

func (c *client) InsertDeletion(ctx context.Context, userID, messageID string) error {
	req := types.InsertDeletionRequest{UserID: userID, MessageID: messageID}
	return c.doJSON(ctx, http.MethodPost, "/api/v1/deletions", req, nil)
}

func (c *client) GetFeatureFlag(ctx context.Context, name, userID string) (bool, error) {
	var flag types.FlagResponse
	endpoint := fmt.Sprintf("/api/v1/flags/%s?user_id=%s", url.PathEscape(name), url.QueryEscape(userID))
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &flag); err != nil {
		return false, err
	}
	return flag.Enabled, nil
}

// doJSON performs one request against the backend. The body is JSON-encoded
// when non-nil; the response is decoded into out when out is non-nil.
func (c *client) doJSON(ctx context.Context, method, endpoint string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return apperrors.NewTimeoutError(endpoint, c.http.Timeout.String())
		}
		return apperrors.Wrap(err, apperrors.ErrCodeBackendAPI, "request failed").
			WithContext("endpoint", endpoint)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp types.ErrorResponse
		if decodeErr := json.NewDecoder(resp.Body).Decode(&errResp); decodeErr == nil && errResp.Error != "" {
			err = fmt.Errorf("%s", errResp.Error)
		} else {
			err = fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		if resp.StatusCode == http.StatusNotFound {
			return apperrors.NewNotFoundError("row", endpoint)
		}
		return apperrors.NewAPIError("backend", endpoint, resp.StatusCode, err)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeBackendAPI, "failed to decode response").
				WithContext("endpoint", endpoint)
		}
	}

	return nil
}
