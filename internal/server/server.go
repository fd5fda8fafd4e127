package server

import (
	"context"
	"crypto/sha256"
	"fmt"
	"net/http"
	"time"

	"emberchat/internal/constants"
	"emberchat/internal/store"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/pbkdf2"
)

const (
	signingKeySalt       = "emberchat-url-signing-v1"
	signingKeyIterations = 100000
	signingKeySize       = 32
)

// Server is the development backend: the row API, the storage API with
// signed URLs, and the realtime websocket endpoint, all against a local
// sqlite store. It exists so the client stack and integration tests run
// without the hosted backend.
type Server struct {
	router     *mux.Router
	logger     *logrus.Logger
	store      *store.Store
	hub        *Hub
	apiKey     string
	mediaDir   string
	signingKey []byte
	server     *http.Server
}

// Config configures a Server.
type Config struct {
	Store         *store.Store
	APIKey        string // empty disables auth
	MediaDir      string // blob storage root
	SigningSecret string // HMAC secret for signed URLs
	Logger        *logrus.Logger
}

// NewServer creates the development backend.
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
		cfg.Logger.SetLevel(logrus.WarnLevel)
	}
	if cfg.SigningSecret == "" {
		cfg.SigningSecret = "dev-signing-secret"
	}

	// The raw secret never signs anything directly; tokens are signed
	// with a key stretched from it.
	signingKey := pbkdf2.Key([]byte(cfg.SigningSecret), []byte(signingKeySalt),
		signingKeyIterations, signingKeySize, sha256.New)

	s := &Server{
		router:     mux.NewRouter(),
		logger:     cfg.Logger,
		store:      cfg.Store,
		hub:        NewHub(cfg.Logger),
		apiKey:     cfg.APIKey,
		mediaDir:   cfg.MediaDir,
		signingKey: signingKey,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)

	// Signed URLs carry their own auth token.
	s.router.HandleFunc("/storage/{bucket}/{path:.+}", s.handleServeObject()).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(s.authMiddleware)

	api.HandleFunc("/matches/{id}", s.handleGetMatch()).Methods(http.MethodGet)
	api.HandleFunc("/matches/{id}/messages", s.handleListMessages()).Methods(http.MethodGet)
	api.HandleFunc("/messages", s.handleInsertMessage()).Methods(http.MethodPost)
	api.HandleFunc("/messages", s.handleUpdateMessages()).Methods(http.MethodPatch)
	api.HandleFunc("/users/{id}/deletions", s.handleListDeletions()).Methods(http.MethodGet)
	api.HandleFunc("/deletions", s.handleInsertDeletion()).Methods(http.MethodPost)
	api.HandleFunc("/flags/{name}", s.handleGetFlag()).Methods(http.MethodGet)
	api.HandleFunc("/storage/sign", s.handleSignURL()).Methods(http.MethodPost)
	api.HandleFunc("/storage/{bucket}/{path:.+}", s.handleUploadObject()).Methods(http.MethodPut)

	// The websocket handshake carries the key in its header, checked by
	// the same middleware.
	rt := s.router.PathPrefix("/realtime").Subrouter()
	rt.Use(s.authMiddleware)
	rt.HandleFunc("", s.hub.HandleWS)
}

// Handler exposes the router, for tests driving the server in process.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub exposes the realtime hub, for tests publishing events directly.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start serves on the given port until Shutdown.
func (s *Server) Start(port int) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.router,
		ReadTimeout:  constants.DefaultServerReadTimeoutSec * time.Second,
		WriteTimeout: constants.DefaultServerWriteTimeoutSec * time.Second,
		IdleTimeout:  constants.DefaultServerIdleTimeoutSec * time.Second,
	}

	s.logger.WithField("port", port).Info("Starting development backend")
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey != "" && r.Header.Get("X-Api-Key") != s.apiKey {
			writeError(w, http.StatusUnauthorized, "invalid api key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}
}
