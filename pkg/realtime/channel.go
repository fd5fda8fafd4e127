package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Channel is one topic subscription. Handlers must be registered before
// Subscribe; after Unsubscribe returns, no handler fires again.
type Channel struct {
	client *Client
	topic  string

	mu                sync.Mutex
	subscribed        bool
	closed            bool
	insertHandlers    []Handler
	updateHandlers    []Handler
	broadcastHandlers map[string][]Handler
}

// Topic returns the channel's topic name.
func (ch *Channel) Topic() string {
	return ch.topic
}

// OnInsert registers a handler for row-insert events.
func (ch *Channel) OnInsert(h Handler) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.insertHandlers = append(ch.insertHandlers, h)
}

// OnUpdate registers a handler for row-update events.
func (ch *Channel) OnUpdate(h Handler) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.updateHandlers = append(ch.updateHandlers, h)
}

// OnBroadcast registers a handler for a named ephemeral broadcast event.
func (ch *Channel) OnBroadcast(event string, h Handler) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.broadcastHandlers[event] = append(ch.broadcastHandlers[event], h)
}

// Subscribe registers the channel with the connection and asks the server
// to start streaming the topic.
func (ch *Channel) Subscribe(ctx context.Context) error {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return fmt.Errorf("channel %s is closed", ch.topic)
	}
	if ch.subscribed {
		ch.mu.Unlock()
		return fmt.Errorf("channel %s is already subscribed", ch.topic)
	}
	ch.subscribed = true
	ch.mu.Unlock()

	if err := ch.client.register(ch.topic, ch); err != nil {
		return err
	}
	if err := ch.client.send(ctx, clientFrame{Action: "subscribe", Topic: ch.topic}); err != nil {
		ch.client.unregister(ch.topic)
		return fmt.Errorf("failed to subscribe to %s: %w", ch.topic, err)
	}
	return nil
}

// SendBroadcast publishes an ephemeral event to every other subscriber of
// the topic. The payload is not persisted anywhere.
func (ch *Channel) SendBroadcast(ctx context.Context, event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal broadcast payload: %w", err)
	}
	return ch.client.send(ctx, clientFrame{
		Action:  "broadcast",
		Topic:   ch.topic,
		Event:   event,
		Payload: data,
	})
}

// Unsubscribe stops the stream and detaches the channel. The unsubscribe
// frame is best effort; the local teardown is what guarantees that no
// callback fires after return.
func (ch *Channel) Unsubscribe() {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return
	}
	ch.closed = true
	subscribed := ch.subscribed
	ch.mu.Unlock()

	if subscribed {
		ch.client.unregister(ch.topic)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = ch.client.send(ctx, clientFrame{Action: "unsubscribe", Topic: ch.topic})
	}
}

// dispatch runs the matching handlers while holding the channel mutex, so
// teardown strictly orders with handler execution.
func (ch *Channel) dispatch(event Event) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.closed {
		return
	}

	switch event.Type {
	case EventInsert:
		for _, h := range ch.insertHandlers {
			h(event)
		}
	case EventUpdate:
		for _, h := range ch.updateHandlers {
			h(event)
		}
	case EventBroadcast:
		for _, h := range ch.broadcastHandlers[event.Event] {
			h(event)
		}
	}
}

// markClosed is called by the client on Close.
func (ch *Channel) markClosed() {
	ch.mu.Lock()
	ch.closed = true
	ch.mu.Unlock()
}
