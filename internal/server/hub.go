package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"emberchat/pkg/realtime"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"
)

const writeTimeout = 10 * time.Second

// Hub fans realtime events out to websocket subscribers by topic. Row
// change events come from the REST handlers via Publish; broadcast frames
// from one subscriber are relayed to every subscriber of the topic,
// including the sender, who filters their own events client side.
type Hub struct {
	logger *logrus.Logger

	mu     sync.RWMutex
	topics map[string]map[*subscriber]struct{}
}

type subscriber struct {
	conn *websocket.Conn

	mu     sync.Mutex // serializes writes to conn
	topics map[string]struct{}
}

// NewHub creates an empty hub.
func NewHub(logger *logrus.Logger) *Hub {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}
	return &Hub{
		logger: logger,
		topics: make(map[string]map[*subscriber]struct{}),
	}
}

// clientFrame mirrors the client-to-server wire message.
type clientFrame struct {
	Action  string          `json:"action"`
	Topic   string          `json:"topic"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// HandleWS upgrades the request and serves the subscriber until the
// connection drops.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("Websocket accept failed")
		return
	}
	conn.SetReadLimit(1 << 20)

	sub := &subscriber{
		conn:   conn,
		topics: make(map[string]struct{}),
	}
	defer h.drop(sub)

	ctx := r.Context()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			h.logger.WithError(err).Warn("Discarding malformed client frame")
			continue
		}

		switch frame.Action {
		case "subscribe":
			h.subscribe(sub, frame.Topic)
		case "unsubscribe":
			h.unsubscribe(sub, frame.Topic)
		case "broadcast":
			h.Publish(frame.Topic, realtime.Event{
				Topic:   frame.Topic,
				Type:    realtime.EventBroadcast,
				Event:   frame.Event,
				Payload: frame.Payload,
			})
		default:
			h.logger.WithField("action", frame.Action).Warn("Ignoring unknown client action")
		}
	}
}

// Publish delivers an event to every subscriber of its topic. Delivery to
// each subscriber is best effort; a failed write drops that subscriber's
// connection and lets its read loop clean up.
func (h *Hub) Publish(topic string, event realtime.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.WithError(err).Error("Failed to marshal realtime event")
		return
	}

	h.mu.RLock()
	subs := make([]*subscriber, 0, len(h.topics[topic]))
	for sub := range h.topics[topic] {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		if err := sub.write(data); err != nil {
			h.logger.WithError(err).WithField("topic", topic).Debug("Dropping unreachable subscriber")
			_ = sub.conn.Close(websocket.StatusAbnormalClosure, "write failed")
		}
	}
}

// SubscriberCount reports how many connections hold the topic.
func (h *Hub) SubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

func (s *subscriber) write(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return s.conn.Write(ctx, websocket.MessageText, data)
}

func (h *Hub) subscribe(sub *subscriber, topic string) {
	if topic == "" {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.topics[topic] == nil {
		h.topics[topic] = make(map[*subscriber]struct{})
	}
	h.topics[topic][sub] = struct{}{}
	sub.topics[topic] = struct{}{}
}

func (h *Hub) unsubscribe(sub *subscriber, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(sub, topic)
}

func (h *Hub) drop(sub *subscriber) {
	h.mu.Lock()
	for topic := range sub.topics {
		h.removeLocked(sub, topic)
	}
	h.mu.Unlock()

	_ = sub.conn.Close(websocket.StatusNormalClosure, "")
}

func (h *Hub) removeLocked(sub *subscriber, topic string) {
	if subs, ok := h.topics[topic]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.topics, topic)
		}
	}
	delete(sub.topics, topic)
}
