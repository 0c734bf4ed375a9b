// Package ui holds the user-facing adapter shells: a line REPL, the web
// and mobile HTTP surfaces and the voice gate. Adapters translate their
// surface into gateway calls; all conversational logic stays behind the
// gateway.
package ui

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/aservis/maestro/internal/logger"
)

var log = logger.ForComponent("ui")

// Adapter is one enabled user surface. Start must not block; Stop is
// idempotent.
type Adapter interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
}

// Gateway runs one command through the orchestrator. The returned session
// id is the one actually used, which callers echo back to the client.
type Gateway interface {
	HandleCommand(ctx context.Context, text, sessionID, userID, iface string) (string, string, error)
}

type commandRequest struct {
	Text      string `json:"text"`
	SessionID string `json:"sessionId,omitempty"`
	UserID    string `json:"userId,omitempty"`
}

type commandResponse struct {
	Response  string `json:"response"`
	SessionID string `json:"sessionId"`
}

// commandHandler serves the POST command endpoint shared by the web and
// mobile surfaces; iface tags sessions created through it.
func commandHandler(gateway Gateway, iface string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "use POST"})
			return
		}

		var req commandRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}
		if req.Text == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "text is required"})
			return
		}

		response, sessionID, err := gateway.HandleCommand(r.Context(), req.Text, req.SessionID, req.UserID, iface)
		if err != nil {
			log.Warn("command failed", "interface", iface, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}

		writeJSON(w, http.StatusOK, commandResponse{Response: response, SessionID: sessionID})
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn("response write failed", "error", err)
	}
}
