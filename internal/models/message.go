package models

import (
	"time"
)

type DeliveryState string

const (
	DeliveryStateSent      DeliveryState = "sent"
	DeliveryStateDelivered DeliveryState = "delivered"
	DeliveryStateRead      DeliveryState = "read"
)

type MediaType string

const (
	MediaTypeImage MediaType = "image"
	MediaTypeVideo MediaType = "video"
)

// Message is one chat entry within a match. Timestamp fields are nil until
// the corresponding event happens; once set they are never cleared.
type Message struct {
	ID             string     `json:"id" db:"id"`
	MatchID        string     `json:"match_id" db:"match_id"`
	UserID         string     `json:"user_id" db:"user_id"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	Content        *string    `json:"content,omitempty" db:"content"`
	MediaPath      *string    `json:"media_path,omitempty" db:"media_path"`
	MediaType      *MediaType `json:"media_type,omitempty" db:"media_type"`
	MediaExpired   bool       `json:"media_expired" db:"media_expired"`
	MediaExpiresAt *time.Time `json:"media_expires_at,omitempty" db:"media_expires_at"`
	MediaViewedAt  *time.Time `json:"media_viewed_at,omitempty" db:"media_viewed_at"`
	DeliveredAt    *time.Time `json:"delivered_at,omitempty" db:"delivered_at"`
	ReadAt         *time.Time `json:"read_at,omitempty" db:"read_at"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
}

// DeliveryState derives the three-state receipt classification from the
// timestamp fields: read wins over delivered, delivered wins over sent.
func (m *Message) DeliveryState() DeliveryState {
	if m.ReadAt != nil {
		return DeliveryStateRead
	}
	if m.DeliveredAt != nil {
		return DeliveryStateDelivered
	}
	return DeliveryStateSent
}

// HasMedia reports whether the message carries a media attachment.
func (m *Message) HasMedia() bool {
	return m.MediaPath != nil && *m.MediaPath != ""
}

// IsVideo reports whether the attachment is a video.
func (m *Message) IsVideo() bool {
	return m.MediaType != nil && *m.MediaType == MediaTypeVideo
}

// MessagePatch is a partial update applied to one or more messages.
// Only non-nil fields are written, so a patch can only ever set
// timestamps, never clear them.
type MessagePatch struct {
	DeliveredAt    *time.Time `json:"delivered_at,omitempty"`
	ReadAt         *time.Time `json:"read_at,omitempty"`
	MediaViewedAt  *time.Time `json:"media_viewed_at,omitempty"`
	MediaExpiresAt *time.Time `json:"media_expires_at,omitempty"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
}

// IsEmpty reports whether the patch would write nothing.
func (p MessagePatch) IsEmpty() bool {
	return p.DeliveredAt == nil && p.ReadAt == nil && p.MediaViewedAt == nil &&
		p.MediaExpiresAt == nil && p.DeletedAt == nil
}

// Apply copies the patch's set fields onto the message.
func (p MessagePatch) Apply(m *Message) {
	if p.DeliveredAt != nil {
		m.DeliveredAt = p.DeliveredAt
	}
	if p.ReadAt != nil {
		m.ReadAt = p.ReadAt
	}
	if p.MediaViewedAt != nil {
		m.MediaViewedAt = p.MediaViewedAt
	}
	if p.MediaExpiresAt != nil {
		m.MediaExpiresAt = p.MediaExpiresAt
	}
	if p.DeletedAt != nil {
		m.DeletedAt = p.DeletedAt
	}
}

// MessageDeletion is a per-user tombstone hiding a message from that user's
// own view. It never affects the other participant and is never removed.
type MessageDeletion struct {
	UserID    string    `json:"user_id" db:"user_id"`
	MessageID string    `json:"message_id" db:"message_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Match groups messages between exactly two participants.
type Match struct {
	ID        string    `json:"id" db:"id"`
	UserAID   string    `json:"user_a_id" db:"user_a_id"`
	UserBID   string    `json:"user_b_id" db:"user_b_id"`
	MatchType string    `json:"match_type" db:"match_type"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Partner returns the other participant's id, or "" if userID is not a
// participant.
func (m *Match) Partner(userID string) string {
	switch userID {
	case m.UserAID:
		return m.UserBID
	case m.UserBID:
		return m.UserAID
	default:
		return ""
	}
}
