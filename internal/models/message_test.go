package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func timePtr(t time.Time) *time.Time {
	return &t
}

func TestDeliveryState(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name     string
		msg      Message
		expected DeliveryState
	}{
		{
			name:     "no timestamps",
			msg:      Message{},
			expected: DeliveryStateSent,
		},
		{
			name:     "delivered only",
			msg:      Message{DeliveredAt: timePtr(now)},
			expected: DeliveryStateDelivered,
		},
		{
			name:     "delivered and read",
			msg:      Message{DeliveredAt: timePtr(now), ReadAt: timePtr(now)},
			expected: DeliveryStateRead,
		},
		{
			name:     "read without delivered",
			msg:      Message{ReadAt: timePtr(now)},
			expected: DeliveryStateRead,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.msg.DeliveryState())
		})
	}
}

func TestMessagePatchApplyIsMonotonic(t *testing.T) {
	earlier := time.Now().Add(-time.Hour)
	now := time.Now()

	msg := Message{DeliveredAt: timePtr(earlier), ReadAt: timePtr(earlier)}

	// An empty patch must never clear existing timestamps.
	MessagePatch{}.Apply(&msg)
	assert.NotNil(t, msg.DeliveredAt)
	assert.NotNil(t, msg.ReadAt)
	assert.Equal(t, DeliveryStateRead, msg.DeliveryState())

	// A delivered-only patch leaves read intact.
	MessagePatch{DeliveredAt: timePtr(now)}.Apply(&msg)
	assert.Equal(t, now, *msg.DeliveredAt)
	assert.Equal(t, earlier, *msg.ReadAt)
	assert.Equal(t, DeliveryStateRead, msg.DeliveryState())
}

func TestMessagePatchApplySetsAllFields(t *testing.T) {
	now := time.Now()
	var msg Message

	MessagePatch{
		DeliveredAt:    timePtr(now),
		ReadAt:         timePtr(now),
		MediaViewedAt:  timePtr(now),
		MediaExpiresAt: timePtr(now),
		DeletedAt:      timePtr(now),
	}.Apply(&msg)

	assert.Equal(t, now, *msg.DeliveredAt)
	assert.Equal(t, now, *msg.ReadAt)
	assert.Equal(t, now, *msg.MediaViewedAt)
	assert.Equal(t, now, *msg.MediaExpiresAt)
	assert.Equal(t, now, *msg.DeletedAt)
}

func TestMessagePatchIsEmpty(t *testing.T) {
	assert.True(t, MessagePatch{}.IsEmpty())
	assert.False(t, MessagePatch{ReadAt: timePtr(time.Now())}.IsEmpty())
}

func TestMessageMediaHelpers(t *testing.T) {
	path := "chat-media/match/video.mp4"
	video := MediaTypeVideo
	image := MediaTypeImage

	msg := Message{MediaPath: &path, MediaType: &video}
	assert.True(t, msg.HasMedia())
	assert.True(t, msg.IsVideo())

	msg.MediaType = &image
	assert.False(t, msg.IsVideo())

	empty := ""
	msg.MediaPath = &empty
	assert.False(t, msg.HasMedia())

	assert.False(t, (&Message{}).HasMedia())
	assert.False(t, (&Message{}).IsVideo())
}

func TestMatchPartner(t *testing.T) {
	match := Match{ID: "match-1", UserAID: "alice", UserBID: "bob"}

	assert.Equal(t, "bob", match.Partner("alice"))
	assert.Equal(t, "alice", match.Partner("bob"))
	assert.Equal(t, "", match.Partner("mallory"))
}
