package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"emberchat/internal/constants"
	"emberchat/pkg/realtime"

	"github.com/sirupsen/logrus"
)

// TypingPayload is the ephemeral broadcast payload for the typing event.
type TypingPayload struct {
	UserID string `json:"user_id"`
}

const typingEvent = "typing"

// TypingSignal implements the typing-indicator protocol over an ephemeral
// broadcast channel: outgoing events are throttled, the incoming partner
// flag self-clears after a fixed timeout unless refreshed, and nothing is
// ever persisted.
type TypingSignal struct {
	channels ChannelFactory
	matchID  string
	userID   string
	timeout  time.Duration
	throttle time.Duration
	logger   *logrus.Logger
	now      func() time.Time

	mu            sync.Mutex
	channel       RealtimeChannel
	partnerTyping bool
	focused       bool
	lastSent      time.Time
	timer         *time.Timer
	closed        bool
}

// TypingSignalConfig configures a TypingSignal.
type TypingSignalConfig struct {
	MatchID  string
	UserID   string
	Channels ChannelFactory
	Timeout  time.Duration // partner flag expiry, default 3s
	Throttle time.Duration // minimum gap between outgoing events, default 2s
	Logger   *logrus.Logger
	Now      func() time.Time
}

// NewTypingSignal creates a typing signal for one conversation. The view
// starts focused.
func NewTypingSignal(cfg TypingSignalConfig) *TypingSignal {
	if cfg.Timeout <= 0 {
		cfg.Timeout = constants.DefaultTypingTimeoutMs * time.Millisecond
	}
	if cfg.Throttle <= 0 {
		cfg.Throttle = constants.DefaultTypingThrottleMs * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
		cfg.Logger.SetLevel(logrus.WarnLevel)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &TypingSignal{
		channels: cfg.Channels,
		matchID:  cfg.MatchID,
		userID:   cfg.UserID,
		timeout:  cfg.Timeout,
		throttle: cfg.Throttle,
		logger:   cfg.Logger,
		now:      cfg.Now,
		focused:  true,
	}
}

// Subscribe opens the broadcast channel and starts receiving the partner's
// typing events.
func (t *TypingSignal) Subscribe(ctx context.Context) error {
	if t.channels == nil {
		return fmt.Errorf("typing signal has no channel factory")
	}

	ch := t.channels(fmt.Sprintf("typing:%s", t.matchID))
	ch.OnBroadcast(typingEvent, t.handleTyping)
	if err := ch.Subscribe(ctx); err != nil {
		return err
	}

	t.mu.Lock()
	t.channel = ch
	t.mu.Unlock()
	return nil
}

// Send broadcasts one typing event, throttled so a fast typist does not
// flood the channel.
func (t *TypingSignal) Send(ctx context.Context) error {
	t.mu.Lock()
	ch := t.channel
	now := t.now()
	if ch == nil || t.closed {
		t.mu.Unlock()
		return nil
	}
	if now.Sub(t.lastSent) < t.throttle {
		t.mu.Unlock()
		return nil
	}
	t.lastSent = now
	t.mu.Unlock()

	if err := ch.SendBroadcast(ctx, typingEvent, TypingPayload{UserID: t.userID}); err != nil {
		t.logger.WithError(err).Debug("Failed to broadcast typing event")
		return err
	}
	return nil
}

// PartnerTyping reports whether the partner is currently typing.
func (t *TypingSignal) PartnerTyping() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.partnerTyping
}

// Clear drops the partner-typing flag, e.g. when their message arrives.
func (t *TypingSignal) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clearLocked()
}

// SetFocused gates receipt on the view being visible. Blurring clears the
// flag and any pending expiry.
func (t *TypingSignal) SetFocused(focused bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.focused = focused
	if !focused {
		t.clearLocked()
	}
}

// Close tears down the channel and cancels the pending expiry timer, so no
// stale callback fires after the conversation view goes away.
func (t *TypingSignal) Close() {
	t.mu.Lock()
	t.closed = true
	ch := t.channel
	t.channel = nil
	t.clearLocked()
	t.mu.Unlock()

	if ch != nil {
		ch.Unsubscribe()
	}
}

func (t *TypingSignal) handleTyping(e realtime.Event) {
	var payload TypingPayload
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		t.logger.WithError(err).Warn("Discarding malformed typing event")
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed || !t.focused || payload.UserID == t.userID {
		return
	}

	t.partnerTyping = true
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(t.timeout, t.expire)
}

// expire clears the flag when no repeat event arrived within the timeout.
func (t *TypingSignal) expire() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.partnerTyping = false
	t.timer = nil
}

func (t *TypingSignal) clearLocked() {
	t.partnerTyping = false
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}
