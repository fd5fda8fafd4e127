package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"emberchat/internal/models"
	"emberchat/pkg/backend/types"
	"emberchat/pkg/realtime"

	"github.com/gorilla/mux"
)

func (s *Server) handleGetMatch() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		match, err := s.store.GetMatch(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			s.internalError(w, err)
			return
		}
		if match == nil {
			writeError(w, http.StatusNotFound, "match not found")
			return
		}
		writeJSON(w, http.StatusOK, match)
	}
}

func (s *Server) handleListMessages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		messages, err := s.store.ListMessages(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			s.internalError(w, err)
			return
		}
		if messages == nil {
			messages = []models.Message{}
		}
		writeJSON(w, http.StatusOK, messages)
	}
}

// handleInsertMessage stores the row and pushes an insert event to the
// match's message topic.
func (s *Server) handleInsertMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.InsertMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.MatchID == "" || req.UserID == "" {
			writeError(w, http.StatusBadRequest, "match_id and user_id are required")
			return
		}

		msg, err := s.store.InsertMessage(r.Context(), &models.Message{
			MatchID:   req.MatchID,
			UserID:    req.UserID,
			Content:   req.Content,
			MediaPath: req.MediaPath,
			MediaType: req.MediaType,
		})
		if err != nil {
			s.internalError(w, err)
			return
		}

		s.publishRow(fmt.Sprintf("messages:%s", msg.MatchID), realtime.EventInsert, msg)
		writeJSON(w, http.StatusCreated, msg)
	}
}

// handleUpdateMessages applies one patch to a batch of rows and pushes an
// update event per changed row.
func (s *Server) handleUpdateMessages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.UpdateMessagesRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if len(req.IDs) == 0 {
			writeError(w, http.StatusBadRequest, "ids are required")
			return
		}
		if req.Patch.IsEmpty() {
			writeError(w, http.StatusBadRequest, "patch is empty")
			return
		}

		updated, err := s.store.UpdateMessages(r.Context(), req.IDs, req.Patch)
		if err != nil {
			s.internalError(w, err)
			return
		}

		for i := range updated {
			msg := updated[i]
			s.publishRow(fmt.Sprintf("messages:%s", msg.MatchID), realtime.EventUpdate, &msg)
		}
		writeJSON(w, http.StatusOK, updated)
	}
}

func (s *Server) handleListDeletions() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deletions, err := s.store.ListDeletions(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			s.internalError(w, err)
			return
		}
		if deletions == nil {
			deletions = []models.MessageDeletion{}
		}
		writeJSON(w, http.StatusOK, deletions)
	}
}

// handleInsertDeletion records a tombstone and pushes it to the user's
// deletion topic, so the user's other devices hide the message too.
func (s *Server) handleInsertDeletion() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.InsertDeletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.UserID == "" || req.MessageID == "" {
			writeError(w, http.StatusBadRequest, "user_id and message_id are required")
			return
		}

		del, err := s.store.InsertDeletion(r.Context(), req.UserID, req.MessageID)
		if err != nil {
			s.internalError(w, err)
			return
		}

		s.publishRow(fmt.Sprintf("deletions:%s", del.UserID), realtime.EventInsert, del)
		writeJSON(w, http.StatusCreated, del)
	}
}

func (s *Server) handleGetFlag() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["name"]
		enabled, err := s.store.GetFlag(r.Context(), name)
		if err != nil {
			s.internalError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, types.FlagResponse{Name: name, Enabled: enabled})
	}
}

func (s *Server) publishRow(topic string, eventType realtime.EventType, row interface{}) {
	payload, err := json.Marshal(row)
	if err != nil {
		s.logger.WithError(err).Error("Failed to marshal row event")
		return
	}
	s.hub.Publish(topic, realtime.Event{
		Topic:   topic,
		Type:    eventType,
		Payload: payload,
	})
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.logger.WithError(err).Error("Request failed")
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, types.ErrorResponse{Error: msg})
}
