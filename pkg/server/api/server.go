package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"hashland/pkg/auth"
	"hashland/pkg/config"
	"hashland/pkg/library"
	"hashland/pkg/logger"
	"hashland/pkg/presence"
	"hashland/pkg/relay"
	"hashland/pkg/resolver"
	"hashland/pkg/tmdb"
)

// Server handles the REST API and hands WebSocket upgrades to the relay.
type Server struct {
	config   *config.Config
	users    *auth.UserManager
	resolver *resolver.Resolver
	library  *library.Store
	tmdb     *tmdb.Client
	hub      *relay.Hub
	presence *presence.Tracker
	started  time.Time
}

// Deps are the components the API serves.
type Deps struct {
	Config   *config.Config
	Users    *auth.UserManager
	Resolver *resolver.Resolver
	Library  *library.Store
	TMDB     *tmdb.Client
	Hub      *relay.Hub
	Presence *presence.Tracker
}

// NewServer creates a new API server
func NewServer(d Deps) *Server {
	return &Server{
		config:   d.Config,
		users:    d.Users,
		resolver: d.Resolver,
		library:  d.Library,
		tmdb:     d.TMDB,
		hub:      d.Hub,
		presence: d.Presence,
		started:  time.Now(),
	}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	protect := auth.Middleware(s.users)

	// Shared playback relay: /ws, or any upgrade request on /.
	r.Handle("/ws", http.HandlerFunc(s.hub.ServeWS)).Methods(http.MethodGet)
	r.Handle("/", http.HandlerFunc(s.hub.ServeWS)).Methods(http.MethodGet).
		MatcherFunc(func(req *http.Request, _ *mux.RouteMatch) bool {
			return websocket.IsWebSocketUpgrade(req)
		})

	// Public routes
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/auth/verify", s.handleVerify).Methods(http.MethodGet)

	// Protected routes
	r.Handle("/auth/logout", protect(http.HandlerFunc(s.handleLogout))).Methods(http.MethodPost)
	r.Handle("/streams/resolve", protect(http.HandlerFunc(s.handleResolve))).Methods(http.MethodPost)
	r.Handle("/library", protect(http.HandlerFunc(s.handleLibraryList))).Methods(http.MethodGet)
	r.Handle("/library", protect(http.HandlerFunc(s.handleLibraryAdd))).Methods(http.MethodPost)
	r.Handle("/library/{id}", protect(http.HandlerFunc(s.handleLibraryRemove))).Methods(http.MethodDelete)
	r.PathPrefix("/tmdb/").Handler(protect(http.HandlerFunc(s.handleTMDB))).Methods(http.MethodGet)

	// Admin routes
	admin := r.PathPrefix("/admin").Subrouter()
	admin.Use(protect, auth.RequireAdmin)
	admin.HandleFunc("/users", s.handleAdminUsers).Methods(http.MethodGet)
	admin.HandleFunc("/users", s.handleAdminUserPut).Methods(http.MethodPost)
	admin.HandleFunc("/users/{user}", s.handleAdminUserDelete).Methods(http.MethodDelete)
	admin.HandleFunc("/sessions", s.handleAdminSessions).Methods(http.MethodGet)
	admin.HandleFunc("/stats", s.handleAdminStats).Methods(http.MethodGet)
	admin.HandleFunc("/logs", s.handleAdminLogs).Methods(http.MethodGet)
	admin.HandleFunc("/library/{user}", s.handleAdminLibraryList).Methods(http.MethodGet)
	admin.HandleFunc("/library/{user}", s.handleAdminLibraryAdd).Methods(http.MethodPost)
	admin.HandleFunc("/library/{user}/{id}", s.handleAdminLibraryRemove).Methods(http.MethodDelete)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Not found"})
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "Method not allowed"})
	})
	return r
}

// Handler returns the HTTP handler for the API with CORS, access logging
// and panic recovery applied.
func (s *Server) Handler() http.Handler {
	origins := s.config.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	cors := handlers.CORS(
		handlers.AllowedOrigins(origins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	)

	h := cors(s.Router())
	h = handlers.CombinedLoggingHandler(logger.Writer(slog.LevelDebug), h)
	return handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{}),
		handlers.PrintRecoveryStack(true),
	)(h)
}

type recoveryLogger struct{}

func (recoveryLogger) Println(v ...interface{}) {
	logger.Error("HTTP handler panic", "err", fmt.Sprint(v...))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.started).Seconds(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("Failed to write response", "err", err)
	}
}

func writeFailure(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{"success": false, "error": msg})
}

func currentUser(r *http.Request) *auth.User {
	u, _ := auth.UserFromContext(r.Context())
	return u
}
