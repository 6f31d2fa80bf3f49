package inspect

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// SessionSummary is the list-view shape for one session.
type SessionSummary struct {
	SessionID    string `json:"sessionID"`
	Title        string `json:"title"`
	IsStreaming  bool   `json:"isStreaming"`
	MessageCount int    `json:"messageCount"`
	Turns        int    `json:"turns"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": len(s.store.Sessions()),
	})
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	ids := s.store.Sessions()
	summaries := make([]SessionSummary, 0, len(ids))
	for _, id := range ids {
		snap := s.store.Snapshot(id)
		summaries = append(summaries, SessionSummary{
			SessionID:    snap.SessionID,
			Title:        snap.Title,
			IsStreaming:  snap.IsStreaming,
			MessageCount: len(snap.Messages),
			Turns:        snap.Turns,
		})
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if !s.known(sessionID) {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "unknown session")
		return
	}
	writeJSON(w, http.StatusOK, s.store.Snapshot(sessionID))
}

func (s *Server) getDebug(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if !s.known(sessionID) {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "unknown session")
		return
	}
	snap := s.store.Snapshot(sessionID)
	writeJSON(w, http.StatusOK, map[string]any{
		"sessionID": sessionID,
		"calls":     snap.DebugCalls,
	})
}

func (s *Server) getAllowedTools(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if !s.known(sessionID) {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "unknown session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessionID": sessionID,
		"tools":     s.store.AllowedTools(sessionID),
	})
}

// known reports whether the store has seen this session. Snapshot creates
// sessions on first reference, so the inspector checks the list first.
func (s *Server) known(sessionID string) bool {
	if sessionID == "" {
		return false
	}
	for _, id := range s.store.Sessions() {
		if id == sessionID {
			return true
		}
	}
	return false
}
