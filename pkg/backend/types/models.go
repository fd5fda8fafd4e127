package types

import (
	"time"

	"emberchat/internal/models"
)

// UpdateMessagesRequest applies one patch to a batch of message rows.
type UpdateMessagesRequest struct {
	IDs   []string            `json:"ids"`
	Patch models.MessagePatch `json:"patch"`
}

// InsertMessageRequest creates a new message row. The server assigns the
// id and creation timestamp.
type InsertMessageRequest struct {
	MatchID   string            `json:"match_id"`
	UserID    string            `json:"user_id"`
	Content   *string           `json:"content,omitempty"`
	MediaPath *string           `json:"media_path,omitempty"`
	MediaType *models.MediaType `json:"media_type,omitempty"`
}

// InsertDeletionRequest records a per-user deletion tombstone.
type InsertDeletionRequest struct {
	UserID    string `json:"user_id"`
	MessageID string `json:"message_id"`
}

// SignURLRequest mints a time-limited URL for a private storage object.
type SignURLRequest struct {
	Bucket       string `json:"bucket"`
	Path         string `json:"path"`
	ExpiresInSec int    `json:"expires_in_sec"`
}

// SignURLResponse carries the minted URL and its expiry instant.
type SignURLResponse struct {
	SignedURL string    `json:"signed_url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// FlagResponse is the result of a feature-flag lookup.
type FlagResponse struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

// ErrorResponse is the error envelope returned by the backend.
type ErrorResponse struct {
	Error string `json:"error"`
}
