package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/TobiSchelling/curator/internal/chat"
	"github.com/TobiSchelling/curator/internal/database"
	"github.com/TobiSchelling/curator/internal/digest"
	"github.com/TobiSchelling/curator/internal/scoring"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	if _, err := s.db.GetStats(r.Context()); err != nil {
		dbOK = false
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.started).Seconds(),
		"db":      dbOK,
		"db_path": s.db.Path(),
	})
}

type digestEntryResponse struct {
	ItemID int64             `json:"item_id"`
	Title  string            `json:"title"`
	URL    string            `json:"url"`
	Micro  string            `json:"micro,omitempty"`
	Score  scoring.Breakdown `json:"score"`
}

type digestResponse struct {
	ID           int64                 `json:"id,omitempty"`
	UserID       string                `json:"user_id"`
	Date         string                `json:"date"`
	Personalized bool                  `json:"personalized"`
	Entries      []digestEntryResponse `json:"entries"`
	Markdown     string                `json:"markdown"`
}

func (s *Server) handleBuildDigest(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	req := struct {
		MaxItems      int `json:"max_items"`
		LookbackHours int `json:"lookback_hours"`
	}{MaxItems: s.digestCfg.MaxItems, LookbackHours: s.digestCfg.LookbackHours}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	d, ok := s.buildDigest(w, r, userID, req.MaxItems, req.LookbackHours)
	if !ok {
		return
	}
	id, err := s.assembler.Save(r.Context(), d)
	if err != nil {
		s.logger.Error("saving digest", "user", userID, "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := digestResponse{
		ID:           id,
		UserID:       d.UserID,
		Date:         d.Date,
		Personalized: d.Personalized,
		Entries:      make([]digestEntryResponse, len(d.Entries)),
		Markdown:     digest.RenderMarkdown(d),
	}
	for i, e := range d.Entries {
		entry := digestEntryResponse{ItemID: e.Item.ID, Title: e.Item.Title, URL: e.Item.URL, Score: e.Score}
		if e.Item.Micro != nil {
			entry.Micro = *e.Item.Micro
		}
		resp.Entries[i] = entry
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleDigestPage(w http.ResponseWriter, r *http.Request) {
	d, ok := s.buildDigest(w, r, chi.URLParam(r, "userID"), s.digestCfg.MaxItems, s.digestCfg.LookbackHours)
	if !ok {
		return
	}
	s.render(w, d)
}

func (s *Server) buildDigest(w http.ResponseWriter, r *http.Request, userID string, maxItems, lookbackHours int) (*digest.Digest, bool) {
	d, err := s.assembler.Build(r.Context(), userID, maxItems, lookbackHours)
	switch {
	case errors.Is(err, database.ErrNotFound):
		writeError(w, http.StatusNotFound, "user not found")
		return nil, false
	case err != nil:
		s.logger.Error("building digest", "user", userID, "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	return d, true
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req struct {
		ItemID   int64 `json:"item_id"`
		Positive bool  `json:"positive"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.ItemID == 0 {
		writeError(w, http.StatusBadRequest, "item_id required")
		return
	}

	if _, err := s.db.GetUser(r.Context(), userID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.db.ApplyItemFeedback(r.Context(), userID, req.ItemID, req.Positive); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusNotFound, "item not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	weights, err := s.db.GetWeightTable(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"companies":  weights.Companies,
		"industries": weights.Industries,
		"topics":     weights.Topics,
	})
}

type chatResponse struct {
	SessionID string `json:"session_id"`
	chat.Result
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
		UserID    string `json:"user_id"`
		Message   string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message required")
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	sess, status, err := s.session(r, req.UserID, req.SessionID)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}

	result := sess.orch.Send(r.Context(), req.Message)
	writeJSON(w, http.StatusOK, chatResponse{SessionID: req.SessionID, Result: result})
}

// session returns the orchestrator for sessionID, creating it on first use.
// A session stays bound to the user that opened it while it is open. An
// evicted session is rebuilt on its next message and rehydrates its
// history from the stored turns.
func (s *Server) session(r *http.Request, userID, sessionID string) (*session, int, error) {
	s.mu.Lock()
	existing, ok := s.sessions[sessionID]
	if ok {
		existing.lastUsed = s.now()
	}
	s.mu.Unlock()
	if ok {
		if userID != "" && userID != existing.userID {
			return nil, http.StatusConflict, errors.New("session belongs to another user")
		}
		return existing, http.StatusOK, nil
	}

	orch, err := s.backends.NewOrchestrator(r.Context(), userID, sessionID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, http.StatusNotFound, errors.New("user not found")
		}
		return nil, http.StatusInternalServerError, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.sessions[sessionID]; ok {
		existing.lastUsed = s.now()
		return existing, http.StatusOK, nil
	}
	s.evictLocked()
	sess := &session{userID: userID, orch: orch, lastUsed: s.now()}
	s.sessions[sessionID] = sess
	return sess, http.StatusOK, nil
}

// evictLocked drops idle sessions, then the least recently used ones until
// there is room for one more. Caller holds s.mu.
func (s *Server) evictLocked() {
	cutoff := s.now().Add(-s.sessionIdle)
	for id, sess := range s.sessions {
		if sess.lastUsed.Before(cutoff) {
			delete(s.sessions, id)
		}
	}
	for len(s.sessions) >= s.maxSessions {
		var oldestID string
		var oldest time.Time
		for id, sess := range s.sessions {
			if oldestID == "" || sess.lastUsed.Before(oldest) {
				oldestID, oldest = id, sess.lastUsed
			}
		}
		delete(s.sessions, oldestID)
		s.logger.Debug("evicted chat session", "session", oldestID)
	}
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	s.mu.Lock()
	_, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type turnResponse struct {
	Role      string                 `json:"role"`
	Content   string                 `json:"content"`
	Metadata  *database.TurnMetadata `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

func (s *Server) handleTurns(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	turns, err := s.db.GetTurns(r.Context(), sessionID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := make([]turnResponse, len(turns))
	for i, t := range turns {
		resp[i] = turnResponse{Role: t.Role, Content: t.Content, Metadata: t.Metadata, CreatedAt: t.CreatedAt}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	sess.orch.Reset()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

type similarResponse struct {
	ItemID     int64   `json:"item_id"`
	Title      string  `json:"title"`
	URL        string  `json:"url"`
	Similarity float64 `json:"similarity"`
}

func (s *Server) handleSimilar(w http.ResponseWriter, r *http.Request) {
	itemID, err := strconv.ParseInt(chi.URLParam(r, "itemID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid item id")
		return
	}
	k, _ := strconv.Atoi(r.URL.Query().Get("k"))

	hits := s.backends.Similar(r.Context(), itemID, k)
	resp := make([]similarResponse, len(hits))
	for i, h := range hits {
		resp[i] = similarResponse{ItemID: h.Item.ID, Title: h.Item.Title, URL: h.Item.URL, Similarity: h.Similarity}
	}
	writeJSON(w, http.StatusOK, resp)
}
