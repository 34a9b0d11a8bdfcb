package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/comigor/empath/internal/archive"
	"github.com/comigor/empath/internal/history"
	"github.com/comigor/empath/internal/store"
)

type submitRequest struct {
	Input string `json:"input"`
}

type turnResponse struct {
	ConversationID string               `json:"conversationId"`
	Created        bool                 `json:"created"`
	Reply          string               `json:"reply"`
	Category       string               `json:"category"`
	CategoryLabel  string               `json:"categoryLabel"`
	CategoryInfo   string               `json:"categoryDescription"`
	Sentiment      string               `json:"sentiment"`
	SentimentLabel string               `json:"sentimentLabel"`
	SentimentInfo  string               `json:"sentimentDescription"`
	IsQuestion     bool                 `json:"isQuestion"`
	Conversation   history.Conversation `json:"conversation"`
	Warning        string               `json:"warning,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	turn, err := s.agent.Submit(r.Context(), req.Input)
	if err != nil {
		respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, turnResponse{
		ConversationID: turn.ConversationID,
		Created:        turn.Created,
		Reply:          turn.Reply,
		Category:       string(turn.Tags.Category),
		CategoryLabel:  turn.Tags.Category.Label(),
		CategoryInfo:   turn.Tags.Category.Description(),
		Sentiment:      string(turn.Tags.Sentiment),
		SentimentLabel: turn.Tags.Sentiment.Label(),
		SentimentInfo:  turn.Tags.Sentiment.Description(),
		IsQuestion:     turn.Tags.IsQuestion,
		Conversation:   turn.Conversation,
		Warning:        warningText(turn.Warning),
	})
}

type statusResponse struct {
	State         string     `json:"state"`
	Input         string     `json:"input"`
	Active        string     `json:"activeConversationId,omitempty"`
	Conversations int        `json:"conversations"`
	LastSaved     *time.Time `json:"lastSaved,omitempty"`
	Notice        string     `json:"notice,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{
		State:         fmt.Sprint(s.agent.State()),
		Input:         s.agent.Input(),
		Active:        s.repo.Active(),
		Conversations: s.repo.Len(),
		Notice:        s.notice,
	}
	if t := s.repo.LastSaved(); !t.IsZero() {
		t = t.UTC()
		resp.LastSaved = &t
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListConversations(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"conversations":        s.repo.List(),
		"activeConversationId": s.repo.Active(),
	})
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	c, ok := s.repo.Get(chi.URLParam(r, "id"))
	if !ok {
		respondFailure(w, r, history.ErrNotFound)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (s *Server) handleClearConversations(w http.ResponseWriter, r *http.Request) {
	err := s.repo.RemoveAll(r.Context())
	respondJSON(w, http.StatusOK, map[string]any{
		"cleared": true,
		"warning": warningText(err),
	})
}

func (s *Server) handleSetActive(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "body must be {\"id\": \"...\"}")
		return
	}
	if strings.TrimSpace(req.ID) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "id is required")
		return
	}
	err := s.repo.SetActive(r.Context(), req.ID)
	if errors.Is(err, history.ErrNotFound) {
		respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"activeConversationId": s.repo.Active(),
		"warning":              warningText(err),
	})
}

func (s *Server) handleNewConversation(w http.ResponseWriter, r *http.Request) {
	err := s.agent.NewConversation(r.Context())
	respondJSON(w, http.StatusOK, map[string]any{
		"activeConversationId": "",
		"warning":              warningText(err),
	})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	data, err := s.archive.ExportBytes()
	if err != nil {
		respondFailure(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", archive.Filename(s.now())))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	var body io.Reader = http.NoBody
	if r.Body != nil {
		defer r.Body.Close()
		body = r.Body
	}
	n, err := s.archive.Import(r.Context(), body)
	var fe *archive.FormatError
	if errors.As(err, &fe) {
		respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"imported": n,
		"message":  fmt.Sprintf("Successfully imported %d conversations.", n),
		"warning":  warningText(err),
	})
}

var preferenceKeys = map[string]string{
	"theme":            store.KeyTheme,
	"user_preferences": store.KeyUserPreferences,
}

func (s *Server) preferenceKey(w http.ResponseWriter, r *http.Request) (string, bool) {
	key, ok := preferenceKeys[chi.URLParam(r, "name")]
	if !ok {
		respondError(w, http.StatusNotFound, "unknown_preference", "unknown preference")
	}
	return key, ok
}

func (s *Server) handleGetPreference(w http.ResponseWriter, r *http.Request) {
	key, ok := s.preferenceKey(w, r)
	if !ok {
		return
	}
	v, found, err := s.prefs.Get(r.Context(), key)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "store_unavailable", warningText(err))
		return
	}
	if !found {
		respondError(w, http.StatusNotFound, "not_set", "preference not set")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"value": v})
}

func (s *Server) handlePutPreference(w http.ResponseWriter, r *http.Request) {
	key, ok := s.preferenceKey(w, r)
	if !ok {
		return
	}
	var req struct {
		Value string `json:"value"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "body must be {\"value\": \"...\"}")
		return
	}
	if err := s.prefs.Set(r.Context(), key, req.Value); err != nil {
		respondError(w, http.StatusServiceUnavailable, "store_unavailable", warningText(err))
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"value": req.Value})
}
