package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTypingUnderTest(t *testing.T, channels *fakeChannels, timeout time.Duration, now func() time.Time) *TypingSignal {
	t.Helper()
	ts := NewTypingSignal(TypingSignalConfig{
		MatchID:  "match-1",
		UserID:   "me",
		Channels: channels.factory(),
		Timeout:  timeout,
		Throttle: 2 * time.Second,
		Now:      now,
	})
	require.NoError(t, ts.Subscribe(context.Background()))
	return ts
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestTypingFlagAutoExpires(t *testing.T) {
	channels := newFakeChannels()
	ts := newTypingUnderTest(t, channels, 30*time.Millisecond, nil)
	defer ts.Close()

	channels.get("typing:match-1").emitBroadcast(t, typingEvent, TypingPayload{UserID: "partner"})
	assert.True(t, ts.PartnerTyping())

	waitFor(t, func() bool { return !ts.PartnerTyping() })
}

func TestTypingRepeatEventResetsTimer(t *testing.T) {
	channels := newFakeChannels()
	ts := newTypingUnderTest(t, channels, 80*time.Millisecond, nil)
	defer ts.Close()

	ch := channels.get("typing:match-1")
	ch.emitBroadcast(t, typingEvent, TypingPayload{UserID: "partner"})

	// Keep refreshing inside the window; the flag must stay up.
	for i := 0; i < 4; i++ {
		time.Sleep(40 * time.Millisecond)
		assert.True(t, ts.PartnerTyping())
		ch.emitBroadcast(t, typingEvent, TypingPayload{UserID: "partner"})
	}

	waitFor(t, func() bool { return !ts.PartnerTyping() })
}

func TestTypingIgnoresOwnEvents(t *testing.T) {
	channels := newFakeChannels()
	ts := newTypingUnderTest(t, channels, time.Minute, nil)
	defer ts.Close()

	channels.get("typing:match-1").emitBroadcast(t, typingEvent, TypingPayload{UserID: "me"})
	assert.False(t, ts.PartnerTyping())
}

func TestTypingIgnoredWhileUnfocused(t *testing.T) {
	channels := newFakeChannels()
	ts := newTypingUnderTest(t, channels, time.Minute, nil)
	defer ts.Close()

	ts.SetFocused(false)
	channels.get("typing:match-1").emitBroadcast(t, typingEvent, TypingPayload{UserID: "partner"})
	assert.False(t, ts.PartnerTyping())
}

func TestTypingBlurClearsFlag(t *testing.T) {
	channels := newFakeChannels()
	ts := newTypingUnderTest(t, channels, time.Minute, nil)
	defer ts.Close()

	channels.get("typing:match-1").emitBroadcast(t, typingEvent, TypingPayload{UserID: "partner"})
	require.True(t, ts.PartnerTyping())

	ts.SetFocused(false)
	assert.False(t, ts.PartnerTyping())
}

func TestTypingClearOnMessageArrival(t *testing.T) {
	channels := newFakeChannels()
	ts := newTypingUnderTest(t, channels, time.Minute, nil)
	defer ts.Close()

	channels.get("typing:match-1").emitBroadcast(t, typingEvent, TypingPayload{UserID: "partner"})
	require.True(t, ts.PartnerTyping())

	ts.Clear()
	assert.False(t, ts.PartnerTyping())
}

func TestTypingSendIsThrottled(t *testing.T) {
	clock := struct {
		now time.Time
	}{now: time.Date(2026, 2, 14, 20, 0, 0, 0, time.UTC)}

	channels := newFakeChannels()
	ts := newTypingUnderTest(t, channels, time.Minute, func() time.Time { return clock.now })
	defer ts.Close()

	ctx := context.Background()
	require.NoError(t, ts.Send(ctx))
	require.NoError(t, ts.Send(ctx)) // inside the throttle window, dropped

	ch := channels.get("typing:match-1")
	assert.Len(t, ch.sentBroadcasts(), 1)

	clock.now = clock.now.Add(2500 * time.Millisecond)
	require.NoError(t, ts.Send(ctx))

	broadcasts := ch.sentBroadcasts()
	require.Len(t, broadcasts, 2)
	assert.Equal(t, typingEvent, broadcasts[0].event)
	assert.Equal(t, TypingPayload{UserID: "me"}, broadcasts[0].payload)
}

func TestTypingCloseStopsExpiryCallback(t *testing.T) {
	channels := newFakeChannels()
	ts := newTypingUnderTest(t, channels, 20*time.Millisecond, nil)

	channels.get("typing:match-1").emitBroadcast(t, typingEvent, TypingPayload{UserID: "partner"})
	ts.Close()

	assert.False(t, ts.PartnerTyping())
	assert.True(t, channels.get("typing:match-1").unsubscribed)

	// The pending timer must not resurrect anything after Close.
	time.Sleep(40 * time.Millisecond)
	assert.False(t, ts.PartnerTyping())
}

func TestTypingSendAfterCloseIsNoOp(t *testing.T) {
	channels := newFakeChannels()
	ts := newTypingUnderTest(t, channels, time.Minute, nil)
	ts.Close()

	require.NoError(t, ts.Send(context.Background()))
	assert.Empty(t, channels.get("typing:match-1").sentBroadcasts())
}
