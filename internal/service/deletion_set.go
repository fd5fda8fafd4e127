package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"emberchat/internal/models"
	"emberchat/pkg/realtime"

	"github.com/sirupsen/logrus"
)

// DeletionSet tracks which messages the current user has hidden from their
// own view. The set only grows during a session; there is no undelete.
type DeletionSet struct {
	store    DeletionStore
	channels ChannelFactory
	logger   *logrus.Logger

	mu      sync.RWMutex
	ids     map[string]struct{}
	channel RealtimeChannel
}

// NewDeletionSet creates an empty deletion set.
func NewDeletionSet(store DeletionStore, channels ChannelFactory, logger *logrus.Logger) *DeletionSet {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}

	return &DeletionSet{
		store:    store,
		channels: channels,
		logger:   logger,
		ids:      make(map[string]struct{}),
	}
}

// Load fetches the user's deletion tombstones and populates the set. Until
// Load completes, Contains answers false for everything; a view rendered
// before that simply shows the messages until the set catches up.
func (d *DeletionSet) Load(ctx context.Context, userID string) error {
	deletions, err := d.store.ListDeletions(ctx, userID)
	if err != nil {
		d.logger.WithError(err).WithField("user_id", userID).Warn("Failed to load message deletions")
		return err
	}

	d.mu.Lock()
	for _, del := range deletions {
		d.ids[del.MessageID] = struct{}{}
	}
	d.mu.Unlock()

	return nil
}

// Subscribe opens the live deletion stream for the user, keeping the set
// in sync with deletions made on the user's other devices.
func (d *DeletionSet) Subscribe(ctx context.Context, userID string) error {
	if d.channels == nil {
		return fmt.Errorf("deletion set has no channel factory")
	}

	ch := d.channels(fmt.Sprintf("deletions:%s", userID))
	ch.OnInsert(func(e realtime.Event) {
		var del models.MessageDeletion
		if err := json.Unmarshal(e.Payload, &del); err != nil {
			d.logger.WithError(err).Warn("Discarding malformed deletion event")
			return
		}
		d.add(del.MessageID)
	})

	if err := ch.Subscribe(ctx); err != nil {
		return err
	}
	d.channel = ch
	return nil
}

// Delete records a tombstone for the message. The local set is updated
// immediately; other devices converge through the subscription.
func (d *DeletionSet) Delete(ctx context.Context, userID, messageID string) error {
	if err := d.store.InsertDeletion(ctx, userID, messageID); err != nil {
		d.logger.WithError(err).WithFields(logrus.Fields{
			"user_id":    userID,
			"message_id": messageID,
		}).Warn("Failed to record message deletion")
		return err
	}

	d.add(messageID)
	return nil
}

// Contains reports whether the user has hidden the message.
func (d *DeletionSet) Contains(messageID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.ids[messageID]
	return ok
}

// Len returns the number of hidden messages.
func (d *DeletionSet) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.ids)
}

// Close tears down the live subscription.
func (d *DeletionSet) Close() {
	if d.channel != nil {
		d.channel.Unsubscribe()
		d.channel = nil
	}
}

func (d *DeletionSet) add(messageID string) {
	d.mu.Lock()
	d.ids[messageID] = struct{}{}
	d.mu.Unlock()
}
