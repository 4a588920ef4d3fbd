package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/ernie/hlstatsd/internal/queries"
)

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// parseID parses an ID from the URL path
func parseID(req *http.Request, param string) (int64, error) {
	idStr := req.PathValue(param)
	return strconv.ParseInt(idStr, 10, 64)
}

// handleGetServers returns all configured servers
func (r *Router) handleGetServers(w http.ResponseWriter, req *http.Request) {
	result, err := r.queries.Execute(req.Context(), queries.ServerList{})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleGetServerStatuses returns the poller's live view of every server
func (r *Router) handleGetServerStatuses(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, r.poller.Statuses())
}

// handleGetPlayer returns one player's aggregate record
func (r *Router) handleGetPlayer(w http.ResponseWriter, req *http.Request) {
	id, err := parseID(req, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid player id")
		return
	}

	result, err := r.queries.Execute(req.Context(), queries.PlayerStats{PlayerID: id})
	if err != nil {
		writeError(w, http.StatusNotFound, "player not found")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleGetLeaderboard returns the top players for a game
func (r *Router) handleGetLeaderboard(w http.ResponseWriter, req *http.Request) {
	q := queries.Leaderboard{
		Game:   req.URL.Query().Get("game"),
		SortBy: req.URL.Query().Get("sort"),
	}
	if q.Game == "" {
		writeError(w, http.StatusBadRequest, "game parameter required")
		return
	}
	if q.SortBy == "" {
		q.SortBy = "skill"
	}
	if limit := req.URL.Query().Get("limit"); limit != "" {
		q.Limit, _ = strconv.Atoi(limit)
	}

	result, err := r.queries.Execute(req.Context(), q)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleResync forces an immediate roster poll of every server
func (r *Router) handleResync(w http.ResponseWriter, req *http.Request) {
	r.poller.Resync(req.Context())
	writeJSON(w, http.StatusOK, map[string]string{"message": "resync complete"})
}

// InvalidateCacheRequest is the request body for cache invalidation
type InvalidateCacheRequest struct {
	Pattern string `json:"pattern"`
}

// handleInvalidateCache drops cached query results matching a pattern
func (r *Router) handleInvalidateCache(w http.ResponseWriter, req *http.Request) {
	var body InvalidateCacheRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Pattern == "" {
		writeError(w, http.StatusBadRequest, "pattern required")
		return
	}

	if err := r.queries.InvalidatePattern(req.Context(), body.Pattern); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "cache invalidated"})
}

// MessagePlayersRequest is the request body for slot-addressed messaging
type MessagePlayersRequest struct {
	PlayerIDs []int64 `json:"player_ids"`
	Message   string  `json:"message"`
}

// handleMessagePlayers sends an in-game message to players on a server,
// addressed by their live session slots
func (r *Router) handleMessagePlayers(w http.ResponseWriter, req *http.Request) {
	serverID, err := parseID(req, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid server id")
		return
	}

	var body MessagePlayersRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Message == "" || len(body.PlayerIDs) == 0 {
		writeError(w, http.StatusBadRequest, "message and player_ids are required")
		return
	}

	sent, err := r.poller.MessagePlayers(req.Context(), serverID, body.PlayerIDs, body.Message)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"sent": sent})
}

// handleHealth returns service health
func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "ok",
		"feed_clients": r.feed.ClientCount(),
	})
}
