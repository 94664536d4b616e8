package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mgrall/collector/internal/collector"
	"github.com/mgrall/collector/internal/store"
)

// defaultListLimit caps unpaginated job listings.
const defaultListLimit = 50

type createJobRequest struct {
	URL      string `json:"url"`
	Platform string `json:"platform"`
	Title    string `json:"title"`
}

func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := collector.ValidateURL(req.URL); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	platform, err := resolvePlatform(req.URL, req.Platform)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := s.service.Create(r.Context(), req.URL, platform, req.Title)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}
	if err := s.executor.Submit(job.ID); err != nil {
		s.logger.Error("job submission failed", zap.String("job_id", job.ID), zap.Error(err))
		s.writeError(w, http.StatusServiceUnavailable, "job accepted but not scheduled")
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]any{"job": job})
}

// resolvePlatform honors an explicit platform when it is one we route;
// otherwise the URL decides.
func resolvePlatform(rawURL, explicit string) (collector.Platform, error) {
	if explicit == "" {
		return collector.DetectPlatform(rawURL), nil
	}
	switch p := collector.Platform(explicit); p {
	case collector.PlatformYouTube, collector.PlatformInstagram, collector.PlatformWeb:
		return p, nil
	default:
		return "", errors.New("unknown platform " + strconv.Quote(explicit))
	}
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	list, err := s.service.List(r.Context(), filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"jobs": list, "count": len(list)})
}

func parseListFilter(r *http.Request) (store.ListFilter, error) {
	q := r.URL.Query()
	f := store.ListFilter{Limit: defaultListLimit}

	if v := q.Get("platform"); v != "" {
		f.Platform = collector.Platform(v)
	}
	if v := q.Get("status"); v != "" {
		status := collector.JobStatus(v)
		if !status.Valid() {
			return store.ListFilter{}, errors.New("invalid status " + strconv.Quote(v))
		}
		f.Status = status
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return store.ListFilter{}, errors.New("invalid limit")
		}
		f.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return store.ListFilter{}, errors.New("invalid offset")
		}
		f.Offset = n
	}
	return f, nil
}

func (s *Server) activeJobs(w http.ResponseWriter, r *http.Request) {
	list, err := s.service.ActiveJobs(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list active jobs")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"jobs": list, "count": len(list)})
}

func (s *Server) jobStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.service.Statistics(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to compute statistics")
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.service.Get(r.Context(), jobID)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) getJobFiles(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	var files []collector.File
	var err error
	if raw := r.URL.Query().Get("type"); raw != "" {
		ft := collector.FileType(raw)
		if !ft.Valid() {
			s.writeError(w, http.StatusBadRequest, "invalid file type: "+raw)
			return
		}
		files, err = s.service.GetFilesByType(r.Context(), jobID, ft)
	} else {
		files, err = s.service.GetFiles(r.Context(), jobID)
	}
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list files")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"files": files, "count": len(files)})
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	ok, err := s.service.Cancel(r.Context(), jobID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to cancel job")
		return
	}
	if !ok {
		s.writeError(w, http.StatusConflict, "job cannot be cancelled")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"job_id": jobID,
		"status": string(collector.JobStatusCancelled),
	})
}

func (s *Server) retryJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	retry, ok, err := s.service.PrepareRetry(r.Context(), jobID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to retry job")
		return
	}
	if !ok {
		s.writeError(w, http.StatusConflict, "only failed jobs can be retried")
		return
	}
	if err := s.executor.Submit(retry.ID); err != nil {
		s.logger.Error("retry submission failed", zap.String("job_id", retry.ID), zap.Error(err))
		s.writeError(w, http.StatusServiceUnavailable, "retry created but not scheduled")
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]any{"job": retry})
}

func (s *Server) deleteJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	deleteFiles := true
	if raw := r.URL.Query().Get("delete_files"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid delete_files value: "+raw)
			return
		}
		deleteFiles = v
	}
	ok, err := s.service.Delete(r.Context(), jobID, deleteFiles)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to delete job")
		return
	}
	if !ok {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"job_id": jobID, "deleted": true})
}
