package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/banshee-data/refpath/internal/config"
	"github.com/banshee-data/refpath/internal/db"
	"github.com/banshee-data/refpath/internal/planner"
	"github.com/banshee-data/refpath/internal/version"
)

// LatestSource provides the most recently published path.
type LatestSource interface {
	Latest() (planner.Output, bool)
}

// PathStore is the read side of the path database.
type PathStore interface {
	Runs() ([]db.Run, error)
	RunPaths(runID string, limit int) ([]db.PathRecord, error)
}

type Server struct {
	latest LatestSource
	store  PathStore
	runID  string
	tuning *config.TuningConfig
}

func NewServer(latest LatestSource, store PathStore, runID string, tuning *config.TuningConfig) *Server {
	if tuning == nil {
		tuning = config.EmptyTuningConfig()
	}
	return &Server{
		latest: latest,
		store:  store,
		runID:  runID,
		tuning: tuning,
	}
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/path/latest", s.showLatestPath)
	mux.HandleFunc("/api/runs", s.listRuns)
	mux.HandleFunc("/api/runs/{id}/paths", s.listRunPaths)
	mux.HandleFunc("/api/config", s.showConfig)
	mux.HandleFunc("/api/version", s.showVersion)
	return mux
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to write response: %v", err)
	}
}

// allowGet rejects anything but GET with a JSON 405.
func (s *Server) allowGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return false
	}
	return true
}

func (s *Server) showLatestPath(w http.ResponseWriter, r *http.Request) {
	if !s.allowGet(w, r) {
		return
	}
	out, ok := s.latest.Latest()
	if !ok {
		s.writeJSONError(w, http.StatusNotFound, "No reference path published yet")
		return
	}
	s.writeJSON(w, struct {
		RunID string `json:"run_id"`
		planner.Output
	}{s.runID, out})
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if !s.allowGet(w, r) {
		return
	}
	runs, err := s.store.Runs()
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve runs: %v", err))
		return
	}
	s.writeJSON(w, runs)
}

func (s *Server) listRunPaths(w http.ResponseWriter, r *http.Request) {
	if !s.allowGet(w, r) {
		return
	}

	limit := 0 // store default
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	runID := r.PathValue("id")
	if runID == "current" {
		runID = s.runID
	}
	paths, err := s.store.RunPaths(runID, limit)
	switch {
	case errors.Is(err, db.ErrRunNotFound):
		s.writeJSONError(w, http.StatusNotFound, fmt.Sprintf("Run %q not found", runID))
		return
	case err != nil:
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve paths: %v", err))
		return
	}
	s.writeJSON(w, paths)
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	if !s.allowGet(w, r) {
		return
	}
	s.writeJSON(w, map[string]interface{}{
		"run_id":             s.runID,
		"min_path_length":    s.tuning.GetMinPathLength(),
		"max_path_length":    s.tuning.GetMaxPathLength(),
		"max_lat_change":     s.tuning.GetMaxLatChange(),
		"loop_interval":      s.tuning.GetLoopInterval().String(),
		"use_routing":        s.tuning.GetUseRouting(),
		"speed_max_age":      s.tuning.GetSpeedMaxAge().String(),
		"pose_max_age":       s.tuning.GetPoseMaxAge().String(),
		"perception_max_age": s.tuning.GetPerceptionMaxAge().String(),
	})
}

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	if !s.allowGet(w, r) {
		return
	}
	s.writeJSON(w, map[string]string{
		"version":    version.Version,
		"git_sha":    version.GitSHA,
		"build_time": version.BuildTime,
	})
}
