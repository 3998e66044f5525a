package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"hashland/pkg/auth"
	"hashland/pkg/logger"
	"hashland/pkg/presence"
	"hashland/pkg/relay"
)

// AdminUser is one row of the admin user listing.
type AdminUser struct {
	ID            string `json:"id"`
	DisplayName   string `json:"displayName"`
	Role          string `json:"role"`
	AuthorityRank int    `json:"authorityRank"`
	Online        bool   `json:"online"`
	LastSeen      int64  `json:"lastSeen,omitempty"`
	LibraryCount  int    `json:"libraryCount"`
}

func (s *Server) handleAdminUsers(w http.ResponseWriter, r *http.Request) {
	users := s.users.Users()
	out := make([]AdminUser, 0, len(users))
	for _, u := range users {
		row := AdminUser{
			ID:            u.ID,
			DisplayName:   u.DisplayName,
			Role:          u.Role,
			AuthorityRank: u.AuthorityRank,
			LibraryCount:  s.library.Count(u.ID),
		}
		if rec, ok := s.presence.Get(u.ID); ok {
			row.Online = rec.Status == presence.StatusOnline
			row.LastSeen = rec.LastSeen.UnixMilli()
		}
		out = append(out, row)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"users": out})
}

// AdminUserRequest creates or replaces an account.
type AdminUserRequest struct {
	Username      string `json:"username"`
	Password      string `json:"password"`
	Role          string `json:"role"`
	DisplayName   string `json:"displayName"`
	AuthorityRank int    `json:"authorityRank"`
}

func (s *Server) handleAdminUserPut(w http.ResponseWriter, r *http.Request) {
	var req AdminUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, http.StatusBadRequest, "Invalid request")
		return
	}
	req.Role = strings.ToLower(strings.TrimSpace(req.Role))
	if req.Role == "" {
		req.Role = auth.RoleViewer
	}
	if err := s.users.PutUser(req.Username, req.Password, req.Role, req.DisplayName, req.AuthorityRank); err != nil {
		if errors.Is(err, auth.ErrInvalidUser) {
			writeFailure(w, http.StatusBadRequest, err.Error())
			return
		}
		logger.Error("Failed to save user", "user", req.Username, "err", err)
		writeFailure(w, http.StatusInternalServerError, "Failed to save user")
		return
	}
	logger.Info("Account saved", "user", req.Username, "role", req.Role, "by", currentUser(r).ID)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleAdminUserDelete(w http.ResponseWriter, r *http.Request) {
	target := strings.ToLower(strings.TrimSpace(mux.Vars(r)["user"]))
	if target == currentUser(r).ID {
		writeFailure(w, http.StatusBadRequest, "Cannot delete your own account")
		return
	}
	deleted, err := s.users.DeleteUser(target)
	if err != nil {
		logger.Error("Failed to delete user", "user", target, "err", err)
		writeFailure(w, http.StatusInternalServerError, "Failed to delete user")
		return
	}
	if !deleted {
		writeFailure(w, http.StatusNotFound, "User not found")
		return
	}
	logger.Info("Account deleted", "user", target, "by", currentUser(r).ID)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleAdminSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Sessions []relay.SessionInfo `json:"sessions"`
		Presence []presence.Record   `json:"presence"`
	}{
		Sessions: s.hub.Sessions(),
		Presence: s.presence.Snapshot(),
	})
}

func (s *Server) handleAdminLogs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"logs": logger.GetHistory()})
}

// adminTarget resolves the {user} path variable, writing 404 when unknown.
func (s *Server) adminTarget(w http.ResponseWriter, r *http.Request) (string, bool) {
	user := strings.ToLower(strings.TrimSpace(mux.Vars(r)["user"]))
	if !s.users.Exists(user) {
		writeFailure(w, http.StatusNotFound, "User not found")
		return "", false
	}
	return user, true
}

func (s *Server) handleAdminLibraryList(w http.ResponseWriter, r *http.Request) {
	if user, ok := s.adminTarget(w, r); ok {
		s.writeLibrary(w, user)
	}
}

func (s *Server) handleAdminLibraryAdd(w http.ResponseWriter, r *http.Request) {
	if user, ok := s.adminTarget(w, r); ok {
		s.addToLibrary(w, r, user, currentUser(r).ID)
	}
}

func (s *Server) handleAdminLibraryRemove(w http.ResponseWriter, r *http.Request) {
	if user, ok := s.adminTarget(w, r); ok {
		s.removeFromLibrary(w, user, mux.Vars(r)["id"])
	}
}
