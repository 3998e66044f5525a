package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"hashland/pkg/library"
	"hashland/pkg/logger"
)

type libraryAddRequest struct {
	Item library.Item `json:"item"`
}

func (s *Server) handleLibraryList(w http.ResponseWriter, r *http.Request) {
	s.writeLibrary(w, currentUser(r).ID)
}

func (s *Server) handleLibraryAdd(w http.ResponseWriter, r *http.Request) {
	s.addToLibrary(w, r, currentUser(r).ID, "")
}

func (s *Server) handleLibraryRemove(w http.ResponseWriter, r *http.Request) {
	s.removeFromLibrary(w, currentUser(r).ID, mux.Vars(r)["id"])
}

func (s *Server) writeLibrary(w http.ResponseWriter, user string) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"library": s.library.List(user)})
}

func (s *Server) addToLibrary(w http.ResponseWriter, r *http.Request, user, addedBy string) {
	var req libraryAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Item == nil {
		writeFailure(w, http.StatusBadRequest, "Invalid request")
		return
	}
	if err := s.library.Add(user, req.Item, addedBy); err != nil {
		logger.Error("Failed to save library", "user", user, "err", err)
		writeFailure(w, http.StatusInternalServerError, "Failed to save library")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) removeFromLibrary(w http.ResponseWriter, user, rawID string) {
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		writeFailure(w, http.StatusBadRequest, "Invalid item id")
		return
	}
	if _, err := s.library.Remove(user, id); err != nil {
		logger.Error("Failed to save library", "user", user, "err", err)
		writeFailure(w, http.StatusInternalServerError, "Failed to save library")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
