// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/teradata-labs/loom-research/pkg/artifacts"
	"github.com/teradata-labs/loom-research/pkg/jobs"
	"github.com/teradata-labs/loom-research/pkg/storage"
)

const (
	maxRequestBody   = 1 << 20
	defaultListLimit = 20
	maxListLimit     = 200
)

type createAnalysisRequest struct {
	Query        *string `json:"query"`
	AnalysisType *string `json:"analysis_type"`
}

type createAnalysisResponse struct {
	ID     string         `json:"id"`
	Status storage.Status `json:"status"`
}

func (s *Server) handleCreateAnalysis(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	var req createAnalysisRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Query == nil {
		writeError(w, http.StatusBadRequest, "Missing query")
		return
	}
	if req.AnalysisType == nil {
		writeError(w, http.StatusBadRequest, "Missing analysis_type")
		return
	}

	job, err := s.jobs.Submit(r.Context(), *req.Query, *req.AnalysisType)
	switch {
	case errors.Is(err, jobs.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, jobs.ErrShuttingDown):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		s.logger.Error("Failed to submit analysis", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to submit analysis")
		return
	}

	w.Header().Set("Location", "/analysis/"+job.ID)
	writeJSON(w, http.StatusCreated, createAnalysisResponse{ID: job.ID, Status: job.Status})
}

func (s *Server) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleListAnalyses(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxListLimit)
	}

	list, err := s.jobs.List(r.Context(), limit)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if list == nil {
		list = []*storage.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"analyses": list})
}

func (s *Server) handleCancelAnalysis(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := s.jobs.Cancel(r.Context(), id)
	switch {
	case errors.Is(err, jobs.ErrNotRunning):
		writeError(w, http.StatusConflict, "analysis is not running")
		return
	case err != nil:
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "canceling"})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	f, info, err := s.reports.Open(r.PathValue("jobID"), r.PathValue("file"))
	switch {
	case errors.Is(err, artifacts.ErrInvalidName):
		writeError(w, http.StatusBadRequest, "Bad path")
		return
	case errors.Is(err, artifacts.ErrNotFound):
		writeError(w, http.StatusNotFound, "File not found")
		return
	case err != nil:
		s.logger.Error("Failed to open report", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to open report")
		return
	}
	defer func() { _ = f.Close() }()

	if strings.EqualFold(filepath.Ext(info.Name()), ".md") {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	}
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "healthy",
		"active_jobs": s.jobs.Active(),
	})
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Analysis not found")
		return
	}
	s.logger.Error("Job store request failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
