package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/cluekeeper/internal/agent"
	"github.com/MrWong99/cluekeeper/internal/archive"
)

// defaultHistoryLimit caps a history read that names no limit.
const defaultHistoryLimit = 50

type historyEntry struct {
	ID          string    `json:"id"`
	Question    string    `json:"question"`
	Response    string    `json:"response"`
	Discoveries []string  `json:"discoveries"`
	CreatedAt   time.Time `json:"created_at"`
}

type historyResponse struct {
	Flow      archive.Flow   `json:"flow"`
	Key       string         `json:"key"`
	Exchanges []historyEntry `json:"exchanges"`

	// Degraded is set when the archive could not be read; Exchanges is then
	// empty rather than complete.
	Degraded bool `json:"degraded"`
}

// HintHistory lists the archived exchanges about one action, oldest first.
func (h *Handler) HintHistory(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.URL.Query().Get("action_name"))
	if name == "" {
		fail(w, r, &MissingFieldsError{Fields: []string{"action_name"}})
		return
	}
	h.history(w, r, archive.FlowHint, name)
}

// DiscoverHistory lists the archived exchanges of a session, oldest first.
// The archive outlives the session, so ended sessions can still be read.
func (h *Handler) DiscoverHistory(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if id == "" {
		id = agent.DefaultSessionID
	}
	h.history(w, r, archive.FlowDiscover, id)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request, flow archive.Flow, key string) {
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			Error(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	store := h.app.Archive()
	exchanges, err := store.History(r.Context(), flow, key, limit)
	if err != nil {
		fail(w, r, err)
		return
	}

	res := historyResponse{
		Flow:      flow,
		Key:       key,
		Exchanges: make([]historyEntry, 0, len(exchanges)),
		Degraded:  store.IsDegraded(),
	}
	for _, e := range exchanges {
		res.Exchanges = append(res.Exchanges, historyEntry{
			ID:          e.ID,
			Question:    e.Question,
			Response:    e.Response,
			Discoveries: e.Discoveries,
			CreatedAt:   e.CreatedAt,
		})
	}
	JSON(w, http.StatusOK, res)
}
