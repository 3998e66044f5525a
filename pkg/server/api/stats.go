package api

import (
	"net/http"
	"runtime"
	"time"

	"hashland/pkg/presence"
)

// SystemStats represents the current state of the relay.
type SystemStats struct {
	Timestamp      time.Time `json:"timestamp"`
	UptimeSeconds  float64   `json:"uptimeSeconds"`
	Connections    int       `json:"connections"`
	Sessions       int       `json:"sessions"`
	UsersOnline    int       `json:"usersOnline"`
	UsersTotal     int       `json:"usersTotal"`
	Providers      []string  `json:"providers"`
	DebridEnabled  bool      `json:"debridEnabled"`
	TMDBConfigured bool      `json:"tmdbConfigured"`
	Goroutines     int       `json:"goroutines"`
	HeapAllocMB    float64   `json:"heapAllocMb"`
}

// collectStats gathers metrics from all components.
func (s *Server) collectStats() SystemStats {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	online := 0
	for _, rec := range s.presence.Snapshot() {
		if rec.Status == presence.StatusOnline {
			online++
		}
	}

	return SystemStats{
		Timestamp:      time.Now(),
		UptimeSeconds:  time.Since(s.started).Seconds(),
		Connections:    s.hub.ConnCount(),
		Sessions:       s.hub.SessionCount(),
		UsersOnline:    online,
		UsersTotal:     len(s.users.Users()),
		Providers:      s.resolver.Providers(),
		DebridEnabled:  s.config.DebridAPIKey != "",
		TMDBConfigured: s.tmdb.Configured(),
		Goroutines:     runtime.NumGoroutine(),
		HeapAllocMB:    float64(mem.HeapAlloc) / (1024 * 1024),
	}
}

func (s *Server) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.collectStats())
}
