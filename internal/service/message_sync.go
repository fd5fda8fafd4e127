package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"emberchat/internal/metrics"
	"emberchat/internal/models"
	"emberchat/internal/tracing"
	"emberchat/pkg/realtime"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// markTimeout bounds the receipt-marking write issued from a realtime
// callback, which has no caller context of its own.
const markTimeout = 10 * time.Second

// MessageSync owns the authoritative, live-updated message list for one
// conversation and the receipt side effects of viewing it. The in-memory
// list is newest first. All mutation goes through this type; the
// presentation layer reads VisibleMessages only.
type MessageSync struct {
	matchID      string
	userID       string
	store        MessageStore
	channels     ChannelFactory
	deletions    *DeletionSet
	onNewMessage func()
	logger       *logrus.Logger
	now          func() time.Time

	mu          sync.RWMutex
	messages    []models.Message
	loading     bool
	initialized bool

	focused atomic.Bool
	channel RealtimeChannel
}

// MessageSyncConfig configures a MessageSync.
type MessageSyncConfig struct {
	MatchID   string
	UserID    string
	Store     MessageStore
	Channels  ChannelFactory
	Deletions *DeletionSet
	// OnNewMessage fires after a remote insert lands, e.g. to clear the
	// typing indicator.
	OnNewMessage func()
	Logger       *logrus.Logger
	Now          func() time.Time
}

// NewMessageSync creates a sync engine for one conversation. An empty
// match or user id yields an idle engine: empty list, not loading, and
// Initialize/Subscribe become no-ops rather than errors.
func NewMessageSync(cfg MessageSyncConfig) *MessageSync {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
		cfg.Logger.SetLevel(logrus.WarnLevel)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	s := &MessageSync{
		matchID:      cfg.MatchID,
		userID:       cfg.UserID,
		store:        cfg.Store,
		channels:     cfg.Channels,
		deletions:    cfg.Deletions,
		onNewMessage: cfg.OnNewMessage,
		logger:       cfg.Logger,
		now:          cfg.Now,
		loading:      !cfg.idle(),
	}
	// Opening a conversation means looking at it.
	s.focused.Store(true)
	return s
}

func (cfg MessageSyncConfig) idle() bool {
	return cfg.MatchID == "" || cfg.UserID == ""
}

func (s *MessageSync) idle() bool {
	return s.matchID == "" || s.userID == ""
}

// Initialize performs the one-time history fetch and the initial receipt
// marking pass. Partner messages lacking a read timestamp are marked
// delivered and read in a single batch, because the conversation is being
// actively viewed; if everything is read but something lacks a delivered
// timestamp (read on another device first), only delivered is set.
//
// A fetch failure leaves the list empty and not loading; it is not
// retried. Receipt-marking failures are logged and never block display.
func (s *MessageSync) Initialize(ctx context.Context) error {
	if s.idle() {
		return nil
	}

	s.mu.Lock()
	if s.initialized {
		s.mu.Unlock()
		return fmt.Errorf("message sync is already initialized")
	}
	s.initialized = true
	s.loading = true
	s.mu.Unlock()

	ctx, span := tracing.StartSpan(ctx, "message_sync.initialize",
		attribute.String("match_id", s.matchID))
	defer span.End()

	msgs, err := s.store.ListMessages(ctx, s.matchID)
	if err != nil {
		tracing.RecordError(ctx, err)
		s.logger.WithError(err).WithField("match_id", s.matchID).Warn("Initial message fetch failed")
		s.mu.Lock()
		s.loading = false
		s.mu.Unlock()
		return err
	}

	now := s.now().UTC()
	var unreadIDs, undeliveredIDs []string
	for _, m := range msgs {
		if m.UserID == s.userID {
			continue
		}
		if m.ReadAt == nil {
			unreadIDs = append(unreadIDs, m.ID)
		}
		if m.DeliveredAt == nil {
			undeliveredIDs = append(undeliveredIDs, m.ID)
		}
	}

	var markIDs []string
	var patch models.MessagePatch
	if len(unreadIDs) > 0 {
		markIDs = unreadIDs
		patch = models.MessagePatch{DeliveredAt: &now, ReadAt: &now}
	} else if len(undeliveredIDs) > 0 {
		// Already read on another device but never marked delivered here.
		markIDs = undeliveredIDs
		patch = models.MessagePatch{DeliveredAt: &now}
	}

	if len(markIDs) > 0 {
		if err := s.store.UpdateMessages(ctx, markIDs, patch); err != nil {
			s.logger.WithError(err).WithField("count", len(markIDs)).Warn("Receipt marking failed")
		}
		applyPatch(msgs, markIDs, patch)
		metrics.IncrementCounter("read_receipt_batches", nil, "Batch receipt-marking calls")
	}

	s.mu.Lock()
	s.messages = msgs
	s.loading = false
	s.mu.Unlock()

	metrics.AddToCounter("messages_synced", float64(len(msgs)), nil, "Messages loaded by initial fetch")
	return nil
}

// Subscribe opens the live message stream for the conversation. Insert and
// update events are applied in receipt order, never reordered or coalesced.
func (s *MessageSync) Subscribe(ctx context.Context) error {
	if s.idle() {
		return nil
	}
	if s.channels == nil {
		return fmt.Errorf("message sync has no channel factory")
	}

	ch := s.channels(fmt.Sprintf("messages:%s", s.matchID))
	ch.OnInsert(s.handleInsert)
	ch.OnUpdate(s.handleUpdate)
	if err := ch.Subscribe(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	s.channel = ch
	s.mu.Unlock()
	return nil
}

// SetMessages mutates the underlying unfiltered list directly, for
// optimistic local appends. Callers own deduplication against the server
// echo; the engine itself never sends optimistically, so the echo is
// normally the first appearance of a message.
func (s *MessageSync) SetMessages(mutate func([]models.Message) []models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = mutate(s.messages)
}

// VisibleMessages returns the list filtered by the viewer's deletion set.
// This is the only list the presentation layer should read.
func (s *MessageSync) VisibleMessages() []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	visible := make([]models.Message, 0, len(s.messages))
	for _, m := range s.messages {
		if s.deletions != nil && s.deletions.Contains(m.ID) {
			continue
		}
		visible = append(visible, m)
	}
	return visible
}

// Loading reports whether the initial fetch is in progress.
func (s *MessageSync) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// SetFocused tracks whether the surrounding screen is actually visible.
// Read marking for live inserts only happens while focused; the screen is
// a persistent tab that does not unmount on navigation away.
func (s *MessageSync) SetFocused(focused bool) {
	s.focused.Store(focused)
}

// Focused reports the current focus flag.
func (s *MessageSync) Focused() bool {
	return s.focused.Load()
}

// Close tears down the live subscription; no handler fires afterwards.
func (s *MessageSync) Close() {
	s.mu.Lock()
	ch := s.channel
	s.channel = nil
	s.mu.Unlock()

	if ch != nil {
		ch.Unsubscribe()
	}
}

// handleInsert processes a remote insert. When the author is the partner
// and the view is focused, the message is marked delivered and read before
// it is prepended, so the list never shows a focused-view message as
// unread. Marking is idempotent against the initial-fetch pass: both
// writers set the same timestamps, so last write wins safely.
func (s *MessageSync) handleInsert(e realtime.Event) {
	var msg models.Message
	if err := json.Unmarshal(e.Payload, &msg); err != nil {
		s.logger.WithError(err).Warn("Discarding malformed message insert event")
		return
	}

	if msg.UserID != s.userID && s.focused.Load() {
		now := s.now().UTC()
		patch := models.MessagePatch{DeliveredAt: &now, ReadAt: &now}

		ctx, cancel := context.WithTimeout(context.Background(), markTimeout)
		if err := s.store.UpdateMessages(ctx, []string{msg.ID}, patch); err != nil {
			s.logger.WithError(err).WithField("message_id", msg.ID).Warn("Receipt marking failed for live insert")
		}
		cancel()
		patch.Apply(&msg)
	}

	s.mu.Lock()
	s.messages = append([]models.Message{msg}, s.messages...)
	s.mu.Unlock()

	metrics.IncrementCounter("messages_synced", nil, "Messages applied from live inserts")

	if s.onNewMessage != nil {
		s.onNewMessage()
	}
}

// handleUpdate replaces the matching message in place. Unknown ids are
// ignored; an update for a row this client never fetched is not an error.
func (s *MessageSync) handleUpdate(e realtime.Event) {
	var msg models.Message
	if err := json.Unmarshal(e.Payload, &msg); err != nil {
		s.logger.WithError(err).Warn("Discarding malformed message update event")
		return
	}

	s.mu.Lock()
	for i := range s.messages {
		if s.messages[i].ID == msg.ID {
			s.messages[i] = msg
			break
		}
	}
	s.mu.Unlock()
}

func applyPatch(msgs []models.Message, ids []string, patch models.MessagePatch) {
	idSet := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		idSet[id] = struct{}{}
	}
	for i := range msgs {
		if _, ok := idSet[msgs[i].ID]; ok {
			patch.Apply(&msgs[i])
		}
	}
}
