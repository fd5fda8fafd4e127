package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"emberchat/internal/models"
	"emberchat/internal/retry"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"
)

// EventType classifies a server-pushed event.
type EventType string

const (
	EventInsert    EventType = "insert"
	EventUpdate    EventType = "update"
	EventBroadcast EventType = "broadcast"
)

// Event is one server-pushed event on a subscribed topic. Row-change events
// carry the full row in Payload; broadcast events carry the sender's payload
// and a broadcast event name.
type Event struct {
	Topic   string          `json:"topic"`
	Type    EventType       `json:"type"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// Handler receives events for one subscription. Handlers for the same topic
// run sequentially on the connection's read loop, in receipt order.
type Handler func(Event)

// clientFrame is the client-to-server wire message.
type clientFrame struct {
	Action  string          `json:"action"`
	Topic   string          `json:"topic"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Client is a websocket pub/sub connection multiplexing topic channels.
type Client struct {
	url     string
	apiKey  string
	logger  *logrus.Logger
	backoff *retry.Backoff

	mu       sync.Mutex
	conn     *websocket.Conn
	channels map[string]*Channel
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewClient creates a realtime client. Connect must be called before any
// channel subscription.
func NewClient(url, apiKey string, reconnect models.RetryConfig, logger *logrus.Logger) *Client {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}

	backoff := retry.NewBackoff(retry.BackoffConfig{
		InitialDelay: time.Duration(reconnect.InitialBackoffMs) * time.Millisecond,
		MaxDelay:     time.Duration(reconnect.MaxBackoffMs) * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  reconnect.MaxAttempts,
		Jitter:       true,
	})

	return &Client{
		url:      url,
		apiKey:   apiKey,
		logger:   logger,
		backoff:  backoff,
		channels: make(map[string]*Channel),
	}
}

// Connect dials the realtime endpoint and starts the read loop. The read
// loop reconnects with exponential backoff until Close is called.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("realtime client is closed")
	}
	if c.conn != nil {
		return fmt.Errorf("realtime client is already connected")
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to realtime endpoint: %w", err)
	}
	c.conn = conn

	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.wg.Add(1)
	go c.readLoop(conn)

	c.logger.WithField("url", c.url).Debug("Realtime connection established")
	return nil
}

// Close tears down the connection. No handler fires after Close returns.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	if c.cancel != nil {
		c.cancel()
	}
	for _, ch := range c.channels {
		ch.markClosed()
	}
	c.channels = make(map[string]*Channel)
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "client closing")
	}
	c.wg.Wait()
	return nil
}

// Channel returns a channel handle for a topic. Register handlers, then
// call Subscribe.
func (c *Client) Channel(topic string) *Channel {
	return &Channel{
		client:            c,
		topic:             topic,
		broadcastHandlers: make(map[string][]Handler),
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	opts := &websocket.DialOptions{}
	if c.apiKey != "" {
		opts.HTTPHeader = http.Header{"X-Api-Key": []string{c.apiKey}}
	}

	conn, _, err := websocket.Dial(ctx, c.url, opts)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(1 << 20)
	return conn, nil
}

// readLoop reads frames until the connection drops, then reconnects and
// resubscribes every registered topic.
func (c *Client) readLoop(conn *websocket.Conn) {
	defer c.wg.Done()

	for {
		_, data, err := conn.Read(c.ctx)
		if err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if closed || c.ctx.Err() != nil {
				return
			}

			c.logger.WithError(err).Warn("Realtime connection lost, reconnecting")
			next, ok := c.reconnect()
			if !ok {
				return
			}
			conn = next
			continue
		}

		var event Event
		if err := json.Unmarshal(data, &event); err != nil {
			c.logger.WithError(err).Warn("Discarding malformed realtime frame")
			continue
		}
		c.dispatch(event)
	}
}

// reconnect dials until it succeeds or the client closes, then replays
// subscribe frames for all registered channels.
func (c *Client) reconnect() (*websocket.Conn, bool) {
	var conn *websocket.Conn

	err := c.backoff.Retry(c.ctx, func() error {
		dialCtx, cancel := context.WithTimeout(c.ctx, 10*time.Second)
		defer cancel()

		next, err := c.dial(dialCtx)
		if err != nil {
			return err
		}
		conn = next
		return nil
	})
	if err != nil {
		c.logger.WithError(err).Error("Realtime reconnect abandoned")
		return nil, false
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "client closing")
		return nil, false
	}
	c.conn = conn
	topics := make([]string, 0, len(c.channels))
	for topic := range c.channels {
		topics = append(topics, topic)
	}
	c.mu.Unlock()

	for _, topic := range topics {
		if err := c.send(c.ctx, clientFrame{Action: "subscribe", Topic: topic}); err != nil {
			c.logger.WithError(err).WithField("topic", topic).Warn("Failed to resubscribe topic")
		}
	}

	c.logger.WithField("topics", len(topics)).Info("Realtime connection restored")
	return conn, true
}

func (c *Client) dispatch(event Event) {
	c.mu.Lock()
	ch := c.channels[event.Topic]
	c.mu.Unlock()

	if ch != nil {
		ch.dispatch(event)
	}
}

func (c *Client) send(ctx context.Context, frame clientFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("realtime client is not connected")
	}

	return conn.Write(ctx, websocket.MessageText, data)
}

func (c *Client) register(topic string, ch *Channel) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("realtime client is closed")
	}
	if _, exists := c.channels[topic]; exists {
		return fmt.Errorf("topic %s is already subscribed", topic)
	}
	c.channels[topic] = ch
	return nil
}

func (c *Client) unregister(topic string) {
	c.mu.Lock()
	delete(c.channels, topic)
	c.mu.Unlock()
}
