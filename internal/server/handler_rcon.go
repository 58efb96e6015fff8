package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/RequiemB/squery/internal/protocol"
	"github.com/RequiemB/squery/internal/rcon"
)

// decodeBody decodes a JSON request body under the configured size cap,
// writing the error response on failure.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid JSON body")
		return false
	}

	return true
}

type rconIdentity struct {
	GuildID uint64 `json:"guild_id"`
	UserID  uint64 `json:"user_id"`
}

func (id rconIdentity) key() rcon.Key {
	return rcon.Key{GuildID: id.GuildID, UserID: id.UserID}
}

// handleRCONLogin authenticates the caller against the guild's registered
// server and opens a session. Failed passwords count toward the lockout;
// the response carries how many attempts remain.
func (s *Server) handleRCONLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		rconIdentity
		Password string `json:"password"`
	}
	if !s.decodeBody(w, r, &req) {
		return
	}

	if req.GuildID == 0 || req.UserID == 0 || req.Password == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "guild_id, user_id and password are required")
		return
	}

	g, err := s.storage.GetGuildServer(req.GuildID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to fetch guild server")
		writeError(w, http.StatusInternalServerError, "database_error", "")
		return
	}
	if g == nil {
		writeError(w, http.StatusNotFound, "guild_not_registered",
			"Register a server for this guild before logging into RCON")
		return
	}

	key := req.key()
	if s.rcon.IsLoggedIn(key) {
		writeError(w, http.StatusConflict, "already_logged_in", "An RCON session is already active")
		return
	}

	addr := protocol.ServerAddress{Host: g.Host, Port: g.Port}
	session, err := s.rcon.Login(r.Context(), key, addr, req.Password)
	if err != nil {
		s.writeQueryError(w, err, "", key)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"address":    session.Addr,
		"expires_at": session.ExpiresAt,
	})
}

// handleRCONCommand sends one command through the caller's session and
// returns the console output.
func (s *Server) handleRCONCommand(w http.ResponseWriter, r *http.Request) {
	var req struct {
		rconIdentity
		Command string `json:"command"`
	}
	if !s.decodeBody(w, r, &req) {
		return
	}

	command := strings.TrimSpace(req.Command)
	if req.GuildID == 0 || req.UserID == 0 || command == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "guild_id, user_id and command are required")
		return
	}

	key := req.key()
	response, err := s.rcon.SendCommand(r.Context(), key, command)
	if err != nil {
		s.writeQueryError(w, err, strings.Fields(command)[0], key)
		return
	}

	log.Info().
		Uint64("guild", key.GuildID).
		Uint64("user", key.UserID).
		Str("command", command).
		Msg("RCON command executed")

	writeJSON(w, http.StatusOK, map[string]string{"response": response})
}

// handleRCONLogout ends the caller's session.
func (s *Server) handleRCONLogout(w http.ResponseWriter, r *http.Request) {
	var req rconIdentity
	if !s.decodeBody(w, r, &req) {
		return
	}

	if !s.rcon.Logout(req.key()) {
		writeError(w, http.StatusNotFound, "not_logged_in", "No active RCON session")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
