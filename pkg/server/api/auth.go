package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"hashland/pkg/auth"
	"hashland/pkg/logger"
)

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Success bool          `json:"success"`
	Token   string        `json:"token,omitempty"`
	User    *auth.Profile `json:"user,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// handleLogin handles user login
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, http.StatusBadRequest, "Invalid request")
		return
	}

	token, u, err := s.users.Login(req.Username, req.Password)
	if err != nil {
		if !errors.Is(err, auth.ErrInvalidCredentials) {
			logger.Error("Login failed", "username", req.Username, "err", err)
		}
		writeJSON(w, http.StatusUnauthorized, LoginResponse{Success: false, Error: "Invalid credentials"})
		return
	}

	logger.Info("User logged in", "user", u.ID)
	p := u.Profile()
	writeJSON(w, http.StatusOK, LoginResponse{Success: true, Token: token, User: &p})
}

// handleVerify reports whether the bearer token is still valid.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	u, err := s.users.Verify(auth.BearerToken(r))
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]bool{"valid": false})
		return
	}
	p := u.Profile()
	writeJSON(w, http.StatusOK, map[string]interface{}{"valid": true, "user": p})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.users.Logout(auth.BearerToken(r))
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
