package api

import (
	"net/http"
	"strings"

	"github.com/MrWong99/cluekeeper/internal/scenario"
)

type hintRequest struct {
	Actions    scenario.Actions `json:"actions"`
	ActionName string           `json:"action_name"`
	Question   string           `json:"question"`
}

type hintResponse struct {
	Response string `json:"response"`
}

// Hint answers a question about one catalog action. A posted catalog
// replaces the current one for conversations started afterwards.
func (h *Handler) Hint(w http.ResponseWriter, r *http.Request) {
	var req hintRequest
	if !decode(w, r, &req) {
		return
	}

	hint := h.app.Hint()
	var missing []string
	if len(req.Actions) == 0 && !hint.HasCatalog() {
		missing = append(missing, "actions")
	}
	if strings.TrimSpace(req.ActionName) == "" {
		missing = append(missing, "action_name")
	}
	if len(missing) > 0 {
		fail(w, r, &MissingFieldsError{Fields: missing})
		return
	}

	if len(req.Actions) > 0 {
		hint.SetCatalog(req.Actions)
	}

	answer, err := hint.Ask(r.Context(), req.ActionName, req.Question)
	if err != nil {
		fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, hintResponse{Response: answer})
}
