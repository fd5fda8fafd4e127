package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"emberchat/internal/models"
	"emberchat/pkg/realtime"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockMessageStore struct {
	mock.Mock
}

func (m *mockMessageStore) ListMessages(ctx context.Context, matchID string) ([]models.Message, error) {
	args := m.Called(ctx, matchID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Message), args.Error(1)
}

func (m *mockMessageStore) UpdateMessages(ctx context.Context, ids []string, patch models.MessagePatch) error {
	args := m.Called(ctx, ids, patch)
	return args.Error(0)
}

type mockDeletionStore struct {
	mock.Mock
}

func (m *mockDeletionStore) ListDeletions(ctx context.Context, userID string) ([]models.MessageDeletion, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.MessageDeletion), args.Error(1)
}

func (m *mockDeletionStore) InsertDeletion(ctx context.Context, userID, messageID string) error {
	args := m.Called(ctx, userID, messageID)
	return args.Error(0)
}

// fakeChannel is an in-memory RealtimeChannel that lets tests fire events
// synchronously, the way the real channel dispatches on its read loop.
type fakeChannel struct {
	topic string

	mu                sync.Mutex
	insertHandlers    []realtime.Handler
	updateHandlers    []realtime.Handler
	broadcastHandlers map[string][]realtime.Handler
	subscribed        bool
	unsubscribed      bool
	broadcasts        []fakeBroadcast
}

type fakeBroadcast struct {
	event   string
	payload interface{}
}

func newFakeChannel(topic string) *fakeChannel {
	return &fakeChannel{
		topic:             topic,
		broadcastHandlers: make(map[string][]realtime.Handler),
	}
}

func (c *fakeChannel) OnInsert(h realtime.Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.insertHandlers = append(c.insertHandlers, h)
}

func (c *fakeChannel) OnUpdate(h realtime.Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updateHandlers = append(c.updateHandlers, h)
}

func (c *fakeChannel) OnBroadcast(event string, h realtime.Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.broadcastHandlers[event] = append(c.broadcastHandlers[event], h)
}

func (c *fakeChannel) Subscribe(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribed = true
	return nil
}

func (c *fakeChannel) SendBroadcast(ctx context.Context, event string, payload interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.broadcasts = append(c.broadcasts, fakeBroadcast{event: event, payload: payload})
	return nil
}

func (c *fakeChannel) Unsubscribe() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unsubscribed = true
}

func (c *fakeChannel) emitInsert(t *testing.T, row interface{}) {
	t.Helper()
	c.emit(t, realtime.EventInsert, "", row)
}

func (c *fakeChannel) emitUpdate(t *testing.T, row interface{}) {
	t.Helper()
	c.emit(t, realtime.EventUpdate, "", row)
}

func (c *fakeChannel) emitBroadcast(t *testing.T, event string, payload interface{}) {
	t.Helper()
	c.emit(t, realtime.EventBroadcast, event, payload)
}

func (c *fakeChannel) emit(t *testing.T, eventType realtime.EventType, event string, payload interface{}) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)

	e := realtime.Event{Topic: c.topic, Type: eventType, Event: event, Payload: data}

	c.mu.Lock()
	var handlers []realtime.Handler
	switch eventType {
	case realtime.EventInsert:
		handlers = append(handlers, c.insertHandlers...)
	case realtime.EventUpdate:
		handlers = append(handlers, c.updateHandlers...)
	case realtime.EventBroadcast:
		handlers = append(handlers, c.broadcastHandlers[event]...)
	}
	c.mu.Unlock()

	for _, h := range handlers {
		h(e)
	}
}

func (c *fakeChannel) sentBroadcasts() []fakeBroadcast {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]fakeBroadcast, len(c.broadcasts))
	copy(out, c.broadcasts)
	return out
}

// fakeChannels hands out fakeChannel instances and remembers them by topic.
type fakeChannels struct {
	mu       sync.Mutex
	channels map[string]*fakeChannel
}

func newFakeChannels() *fakeChannels {
	return &fakeChannels{channels: make(map[string]*fakeChannel)}
}

func (f *fakeChannels) factory() ChannelFactory {
	return func(topic string) RealtimeChannel {
		f.mu.Lock()
		defer f.mu.Unlock()
		ch := newFakeChannel(topic)
		f.channels[topic] = ch
		return ch
	}
}

func (f *fakeChannels) get(topic string) *fakeChannel {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.channels[topic]
}

func fixedNow() func() time.Time {
	now := time.Date(2026, 2, 14, 20, 0, 0, 0, time.UTC)
	return func() time.Time { return now }
}

func strPtr(s string) *string {
	return &s
}

func timePtr(t time.Time) *time.Time {
	return &t
}
