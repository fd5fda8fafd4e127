package integration_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"emberchat/internal/constants"
	"emberchat/internal/features"
	"emberchat/internal/models"
	"emberchat/internal/server"
	"emberchat/internal/service"
	"emberchat/internal/store"
	"emberchat/pkg/backend"
	"emberchat/pkg/realtime"
	"emberchat/pkg/storage"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

const testAPIKey = "integration-test-key"

// TestEnvironment is one in-process backend plus everything a client
// session needs against it. Each test gets a fresh one.
type TestEnvironment struct {
	t      *testing.T
	Server *server.Server
	HTTP   *httptest.Server
	Store  *store.Store
	Match  *models.Match
	Media  models.MediaConfig
}

// NewTestEnvironment spins up the dev backend on an ephemeral port with a
// seeded match between alice and bob.
func NewTestEnvironment(t *testing.T) *TestEnvironment {
	t.Helper()

	db, err := store.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	srv := server.NewServer(server.Config{
		Store:         db,
		APIKey:        testAPIKey,
		MediaDir:      t.TempDir(),
		SigningSecret: "integration-secret",
		Logger:        quietLogger(),
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	match := &models.Match{UserAID: "alice", UserBID: "bob"}
	require.NoError(t, db.CreateMatch(context.Background(), match))

	// Unknown flags read as disabled, so the features under test are
	// switched on up front.
	require.NoError(t, db.SetFlag(context.Background(), features.FlagRevealGate, true))
	require.NoError(t, db.SetFlag(context.Background(), features.FlagVideoCache, true))

	return &TestEnvironment{
		t: t, Server: srv, HTTP: ts, Store: db, Match: match,
		Media: models.MediaConfig{
			Bucket:         constants.DefaultMediaBucket,
			MaxVideoSizeMB: constants.DefaultMaxVideoSizeMB,
		},
	}
}

// ClientSession is the full client-side stack for one user.
type ClientSession struct {
	UserID   string
	Backend  backend.Client
	Storage  storage.Client
	Realtime *realtime.Client
	Flags    *features.Manager
}

// NewSession connects a user's client stack to the environment.
func (env *TestEnvironment) NewSession(userID string) *ClientSession {
	env.t.Helper()

	rt := realtime.NewClient(env.realtimeURL(), testAPIKey, models.RetryConfig{
		InitialBackoffMs: 10,
		MaxBackoffMs:     100,
	}, quietLogger())
	require.NoError(env.t, rt.Connect(context.Background()))
	env.t.Cleanup(func() { rt.Close() })

	api := backend.NewClient(env.HTTP.URL, testAPIKey, nil, quietLogger())

	return &ClientSession{
		UserID:   userID,
		Backend:  api,
		Storage:  storage.NewClient(env.HTTP.URL, testAPIKey, nil, quietLogger()),
		Realtime: rt,
		Flags:    features.NewManager(api, userID, quietLogger()),
	}
}

// Channels adapts the session's realtime client to the service layer's
// channel factory.
func (s *ClientSession) Channels() service.ChannelFactory {
	return func(topic string) service.RealtimeChannel {
		return s.Realtime.Channel(topic)
	}
}

func (env *TestEnvironment) realtimeURL() string {
	return "ws://" + strings.TrimPrefix(env.HTTP.URL, "http://") + "/realtime"
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

// waitFor polls until the condition holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
