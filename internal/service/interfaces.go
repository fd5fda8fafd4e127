package service

import (
	"context"

	"emberchat/internal/models"
	"emberchat/pkg/realtime"
)

// MessageStore is the row read/write surface MessageSync needs.
type MessageStore interface {
	ListMessages(ctx context.Context, matchID string) ([]models.Message, error)
	UpdateMessages(ctx context.Context, ids []string, patch models.MessagePatch) error
}

// DeletionStore is the row surface DeletionSet needs.
type DeletionStore interface {
	ListDeletions(ctx context.Context, userID string) ([]models.MessageDeletion, error)
	InsertDeletion(ctx context.Context, userID, messageID string) error
}

// RealtimeChannel is one live topic subscription. The concrete
// implementation is realtime.Channel; tests substitute fakes.
type RealtimeChannel interface {
	OnInsert(h realtime.Handler)
	OnUpdate(h realtime.Handler)
	OnBroadcast(event string, h realtime.Handler)
	Subscribe(ctx context.Context) error
	SendBroadcast(ctx context.Context, event string, payload interface{}) error
	Unsubscribe()
}

// ChannelFactory opens a channel for a topic.
type ChannelFactory func(topic string) RealtimeChannel
