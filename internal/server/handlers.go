package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/RequiemB/squery/internal/models"
	"github.com/RequiemB/squery/internal/protocol"
	"github.com/RequiemB/squery/internal/query"
	"github.com/RequiemB/squery/internal/rcon"
)

// targetAddr resolves the query target from the request: either an explicit
// host/port pair or the server registered for a guild. Writes the error
// response itself when the target cannot be determined.
func (s *Server) targetAddr(w http.ResponseWriter, r *http.Request) (protocol.ServerAddress, bool) {
	if guildParam := r.URL.Query().Get("guild"); guildParam != "" {
		guildID, err := strconv.ParseUint(guildParam, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "Invalid guild id")
			return protocol.ServerAddress{}, false
		}

		g, err := s.storage.GetGuildServer(guildID)
		if err != nil {
			log.Error().Err(err).Msg("Failed to fetch guild server")
			writeError(w, http.StatusInternalServerError, "database_error", "")
			return protocol.ServerAddress{}, false
		}
		if g == nil {
			writeError(w, http.StatusNotFound, "guild_not_registered", "No server is registered for this guild")
			return protocol.ServerAddress{}, false
		}

		return protocol.ServerAddress{Host: g.Host, Port: g.Port}, true
	}

	host := r.URL.Query().Get("host")
	portParam := r.URL.Query().Get("port")
	if host == "" || portParam == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "Missing host or port")
		return protocol.ServerAddress{}, false
	}

	port, err := strconv.ParseUint(portParam, 10, 16)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid port")
		return protocol.ServerAddress{}, false
	}

	return protocol.ServerAddress{Host: host, Port: uint16(port)}, true
}

// retryParam reports whether the caller disabled the retry policy.
func retryParam(r *http.Request) bool {
	return r.URL.Query().Get("retry") != "false"
}

// writeQueryError translates the typed protocol results into API responses.
// Expected network conditions carry their own codes and never surface as a
// plain 500.
func (s *Server) writeQueryError(w http.ResponseWriter, err error, command string, key rcon.Key) {
	var offline *query.ServerOfflineError

	switch {
	case errors.As(err, &offline):
		writeError(w, http.StatusGatewayTimeout, "server_offline",
			"The server at "+offline.Host+":"+strconv.Itoa(int(offline.Port))+" did not respond")
	case errors.Is(err, query.ErrRCONDisabled):
		body := apiError{
			Error:   "rcon_disabled",
			Message: "RCON is disabled on this server or the request timed out waiting for a response",
			Cause:   rcon.PossibleCause(command),
		}
		writeJSON(w, http.StatusBadGateway, body)
	case errors.Is(err, query.ErrInvalidPassword):
		left := s.rcon.AttemptsLeft(key)
		writeJSON(w, http.StatusUnauthorized, apiError{
			Error:   "invalid_password",
			Message: "The RCON password is invalid",
			Left:    &left,
		})
	case errors.Is(err, query.ErrInvalidAddress):
		writeError(w, http.StatusBadRequest, "invalid_address", err.Error())
	case errors.Is(err, protocol.ErrMalformedPacket):
		writeError(w, http.StatusBadGateway, "malformed_response",
			"The server sent a response that could not be decoded")
	case errors.Is(err, rcon.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "login_rate_limited",
			"No login attempts remaining; wait for the counter to reset")
	case errors.Is(err, rcon.ErrNotLoggedIn):
		writeError(w, http.StatusUnauthorized, "not_logged_in", "Log into RCON before sending commands")
	case errors.Is(err, rcon.ErrCommandNotAllowed):
		writeError(w, http.StatusBadRequest, "unknown_command", "Not a known RCON command")
	default:
		log.Error().Err(err).Msg("Unexpected query failure")
		writeError(w, http.StatusInternalServerError, "internal_error", "")
	}
}

// handlePing reports the round-trip latency to the target server.
func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.targetAddr(w, r)
	if !ok {
		return
	}

	h, err := s.querier.Connect(r.Context(), addr, "", retryParam(r))
	if err != nil {
		s.writeQueryError(w, err, "", rcon.Key{})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"address":    addr,
		"latency_ms": float64(h.Latency.Microseconds()) / 1000,
	})
}

// handleInfo returns one info snapshot of the target server.
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.targetAddr(w, r)
	if !ok {
		return
	}

	info, err := s.querier.GetServerInfo(r.Context(), addr, retryParam(r))
	if err != nil {
		s.writeQueryError(w, err, "", rcon.Key{})
		return
	}

	writeJSON(w, http.StatusOK, info)
}

// handleServerData returns the full snapshot (info, rules, players) of the
// target server. A missing player list is reported as null, not as an empty
// list: it means "unknown".
func (s *Server) handleServerData(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.targetAddr(w, r)
	if !ok {
		return
	}

	snapshot, err := s.querier.GetServerData(r.Context(), addr, retryParam(r))
	if err != nil {
		s.writeQueryError(w, err, "", rcon.Key{})
		return
	}

	writeJSON(w, http.StatusOK, snapshot)
}

// handleListGuilds returns every registered guild server with its last
// observed status.
func (s *Server) handleListGuilds(w http.ResponseWriter, _ *http.Request) {
	guilds, err := s.storage.ListGuildServers()
	if err != nil {
		log.Error().Err(err).Msg("Failed to fetch guild servers")
		writeError(w, http.StatusInternalServerError, "database_error", "")
		return
	}

	if guilds == nil {
		guilds = []models.GuildServer{}
	}

	writeJSON(w, http.StatusOK, guilds)
}

// guildIDParam parses the guild_id query parameter.
func guildIDParam(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	guildID, err := strconv.ParseUint(r.URL.Query().Get("guild_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid guild id")
		return 0, false
	}

	return guildID, true
}

// handleGetGuild returns one guild's registration.
func (s *Server) handleGetGuild(w http.ResponseWriter, r *http.Request) {
	guildID, ok := guildIDParam(w, r)
	if !ok {
		return
	}

	g, err := s.storage.GetGuildServer(guildID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to fetch guild server")
		writeError(w, http.StatusInternalServerError, "database_error", "")
		return
	}
	if g == nil {
		writeError(w, http.StatusNotFound, "guild_not_registered", "No server is registered for this guild")
		return
	}

	writeJSON(w, http.StatusOK, g)
}

// handleSetGuild registers or replaces the server for a guild.
func (s *Server) handleSetGuild(w http.ResponseWriter, r *http.Request) {
	var req struct {
		GuildID      uint64 `json:"guild_id"`
		Host         string `json:"host"`
		Port         uint16 `json:"port"`
		RCONPassword string `json:"rcon_password"`
	}
	if !s.decodeBody(w, r, &req) {
		return
	}

	if req.GuildID == 0 || req.Host == "" || req.Port == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "guild_id, host and port are required")
		return
	}

	if err := s.storage.SetGuildServer(req.GuildID, req.Host, req.Port, req.RCONPassword); err != nil {
		log.Error().Err(err).Uint64("guild", req.GuildID).Msg("Failed to register guild server")
		writeError(w, http.StatusInternalServerError, "database_error", "")
		return
	}

	log.Info().
		Uint64("guild", req.GuildID).
		Str("host", req.Host).
		Uint16("port", req.Port).
		Msg("Guild server registered")

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleDeleteGuild removes a guild's registration.
func (s *Server) handleDeleteGuild(w http.ResponseWriter, r *http.Request) {
	guildID, ok := guildIDParam(w, r)
	if !ok {
		return
	}

	deleted, err := s.storage.DeleteGuildServer(guildID)
	if err != nil {
		log.Error().Err(err).Uint64("guild", guildID).Msg("Failed to delete guild server")
		writeError(w, http.StatusInternalServerError, "database_error", "")
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "guild_not_registered", "No server is registered for this guild")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
