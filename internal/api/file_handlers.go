package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mgrall/collector/internal/collector"
	"github.com/mgrall/collector/internal/sandbox"
)

func (s *Server) browse(w http.ResponseWriter, r *http.Request) {
	userPath := chi.URLParam(r, "*")
	entries, err := s.box.ListDir(userPath)
	if errors.Is(err, sandbox.ErrPathEscapesRoot) {
		s.writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	if errors.Is(err, os.ErrNotExist) {
		s.writeError(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"path":    userPath,
		"entries": entries,
	})
}

func (s *Server) serveFile(w http.ResponseWriter, r *http.Request) {
	s.box.ServeFile(w, r, chi.URLParam(r, "*"))
}

func (s *Server) listFiles(w http.ResponseWriter, r *http.Request) {
	ft := collector.FileType(r.URL.Query().Get("type"))
	if !ft.Valid() {
		s.writeError(w, http.StatusBadRequest, "a valid type filter is required")
		return
	}
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "invalid limit: "+raw)
			return
		}
		limit = n
	}
	files, err := s.service.ListFilesByType(r.Context(), ft, limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list files")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"files": files, "count": len(files)})
}

func (s *Server) listSettings(w http.ResponseWriter, r *http.Request) {
	all, err := s.settings.All(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to load settings")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"settings": all})
}

type putSettingRequest struct {
	Value string `json:"value"`
}

func (s *Server) putSetting(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if key == "" {
		s.writeError(w, http.StatusBadRequest, "setting key is required")
		return
	}
	var req putSettingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := s.settings.Set(r.Context(), key, req.Value); err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to store setting")
		return
	}
	stored, err := s.settings.Get(r.Context(), key)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to load setting")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"setting": stored})
}
