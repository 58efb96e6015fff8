// Package server implements the HTTP API through which external
// collaborators (bots, dashboards) drive the query facade, the RCON session
// manager, and the guild registry.
package server

import (
	"encoding/json"
	"net/http"

	"github.com/RequiemB/squery/internal/vars"
)

// Routes configures the API routes and returns the root handler.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	// Query surface
	mux.Handle("GET /api/ping", http.HandlerFunc(s.handlePing))
	mux.Handle("GET /api/info", http.HandlerFunc(s.handleInfo))
	mux.Handle("GET /api/server", http.HandlerFunc(s.handleServerData))

	// RCON surface
	mux.Handle("POST /api/rcon/login", http.HandlerFunc(s.handleRCONLogin))
	mux.Handle("POST /api/rcon/command", http.HandlerFunc(s.handleRCONCommand))
	mux.Handle("POST /api/rcon/logout", http.HandlerFunc(s.handleRCONLogout))

	// Registry (admin)
	mux.Handle("GET /api/guilds", s.authMiddleware(http.HandlerFunc(s.handleListGuilds)))
	mux.Handle("GET /api/guild", s.authMiddleware(http.HandlerFunc(s.handleGetGuild)))
	mux.Handle("PUT /api/guild", s.authMiddleware(http.HandlerFunc(s.handleSetGuild)))
	mux.Handle("DELETE /api/guild", s.authMiddleware(http.HandlerFunc(s.handleDeleteGuild)))

	mux.Handle("GET /api/version", http.HandlerFunc(handleVersion))

	return s.loggingMiddleware(s.rateLimitMiddleware(mux))
}

// handleVersion returns build metadata.
func handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, vars.Info())
}

// writeJSON writes v as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// apiError is the uniform error body. Expected protocol conditions (offline,
// rcon disabled, invalid password) travel through it with their own codes;
// they are results, not faults.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Cause   string `json:"possible_cause,omitempty"`
	Left    *int   `json:"attempts_left,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, apiError{Error: code, Message: message})
}
