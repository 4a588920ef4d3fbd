// Package api exposes the read API, operator endpoints, and the live event
// feed over HTTP.
package api

import (
	"net/http"

	"github.com/ernie/hlstatsd/internal/auth"
	"github.com/ernie/hlstatsd/internal/cache"
	"github.com/ernie/hlstatsd/internal/roster"
	"github.com/ernie/hlstatsd/internal/storage"
)

// Router holds the HTTP routes and dependencies
type Router struct {
	mux     *http.ServeMux
	store   *storage.Store
	queries *cache.CachedBus
	poller  *roster.Poller
	feed    *FeedHub
	auth    *auth.Service
}

// NewRouter creates a new HTTP router
func NewRouter(store *storage.Store, queries *cache.CachedBus, poller *roster.Poller, authService *auth.Service) *Router {
	r := &Router{
		mux:     http.NewServeMux(),
		store:   store,
		queries: queries,
		poller:  poller,
		feed:    NewFeedHub(),
		auth:    authService,
	}

	// Read API
	r.mux.HandleFunc("GET /api/servers", r.handleGetServers)
	r.mux.HandleFunc("GET /api/servers/status", r.handleGetServerStatuses)
	r.mux.HandleFunc("GET /api/players/{id}", r.handleGetPlayer)
	r.mux.HandleFunc("GET /api/stats/leaderboard", r.handleGetLeaderboard)

	// Auth routes
	r.mux.HandleFunc("POST /api/auth/login", r.handleLogin)
	r.mux.HandleFunc("GET /api/auth/check", r.handleAuthCheck)

	// User management routes (admin only)
	r.mux.HandleFunc("GET /api/users", r.requireAdmin(r.handleListUsers))
	r.mux.HandleFunc("POST /api/users", r.requireAdmin(r.handleCreateUser))
	r.mux.HandleFunc("DELETE /api/users/{username}", r.requireAdmin(r.handleDeleteUser))

	// Admin operations
	r.mux.HandleFunc("POST /api/admin/resync", r.requireAdmin(r.handleResync))
	r.mux.HandleFunc("POST /api/admin/cache/invalidate", r.requireAdmin(r.handleInvalidateCache))
	r.mux.HandleFunc("POST /api/servers/{id}/message", r.requireAdmin(r.handleMessagePlayers))

	// WebSocket live feed
	r.mux.HandleFunc("GET /ws", r.handleWebSocket)

	// Health check
	r.mux.HandleFunc("GET /health", r.handleHealth)

	return r
}

// Feed returns the hub for broadcasting processed events.
func (r *Router) Feed() *FeedHub { return r.feed }

// StartFeed starts the feed hub's broadcast loop.
func (r *Router) StartFeed() {
	go r.feed.Run()
}

// ServeHTTP implements http.Handler
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

	if req.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	r.mux.ServeHTTP(w, req)
}
