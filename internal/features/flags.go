package features

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// FlagStore answers whether a named feature is enabled for a user.
type FlagStore interface {
	GetFeatureFlag(ctx context.Context, name, userID string) (bool, error)
}

// Known flag names.
const (
	// FlagRevealGate requires a media attachment to be tapped before it
	// renders. When disabled, attachments resolve immediately.
	FlagRevealGate = "media_reveal_gate"
	// FlagVideoCache enables the persistent on-disk video cache.
	FlagVideoCache = "video_disk_cache"
)

// Manager memoizes flag lookups for one user for the session. A lookup
// failure resolves to the flag's default rather than an error, so a flaky
// flag service never blocks the conversation view.
type Manager struct {
	store    FlagStore
	userID   string
	defaults map[string]bool
	logger   *logrus.Logger

	mu    sync.Mutex
	cache map[string]bool
}

// NewManager creates a flag manager for one user.
func NewManager(store FlagStore, userID string, logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}

	return &Manager{
		store:  store,
		userID: userID,
		defaults: map[string]bool{
			FlagRevealGate: true,
			FlagVideoCache: true,
		},
		logger: logger,
		cache:  make(map[string]bool),
	}
}

// Enabled resolves a flag, hitting the backend at most once per name per
// session.
func (m *Manager) Enabled(ctx context.Context, name string) bool {
	m.mu.Lock()
	if v, ok := m.cache[name]; ok {
		m.mu.Unlock()
		return v
	}
	m.mu.Unlock()

	v, err := m.store.GetFeatureFlag(ctx, name, m.userID)
	if err != nil {
		m.logger.WithError(err).WithField("flag", name).Debug("Flag lookup failed, using default")
		return m.defaults[name]
	}

	m.mu.Lock()
	m.cache[name] = v
	m.mu.Unlock()
	return v
}

// Invalidate drops the memoized values, forcing fresh lookups.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache = make(map[string]bool)
}
