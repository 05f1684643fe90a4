package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"taskdealer/internal/guidecache"
	"taskdealer/internal/logging"
)

const maxCacheBody = 4 << 20

var errNoStore = errors.New("guide cache not configured")

func (s *Server) cors(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, value interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeStatus(w http.ResponseWriter, status int, err error) {
	resp := guidecache.StatusResponse{Success: err == nil}
	if err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, status, resp)
}

// decodeKeyed reads a JSON body into v and checks the key fields every
// cache call needs. It writes the error response itself and reports false.
func (s *Server) decodeKeyed(w http.ResponseWriter, r *http.Request, v interface{}, key func() guidecache.Key) bool {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST, OPTIONS")
		writeStatus(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return false
	}
	if s.store == nil {
		writeStatus(w, http.StatusServiceUnavailable, errNoStore)
		return false
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCacheBody))
	if err != nil {
		writeStatus(w, http.StatusBadRequest, err)
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeStatus(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return false
	}
	k := key()
	if strings.TrimSpace(k.TaskName) == "" || strings.TrimSpace(k.ModelName) == "" {
		writeStatus(w, http.StatusBadRequest, errors.New("task_name and model_name are required"))
		return false
	}
	return true
}

func (s *Server) handleCacheGet(w http.ResponseWriter, r *http.Request) {
	var key guidecache.Key
	if !s.decodeKeyed(w, r, &key, func() guidecache.Key { return key }) {
		return
	}
	entry, found, err := s.store.Get(r.Context(), key)
	if err != nil {
		logging.ServerError("Cache get %q: %v", key.TaskName, err)
		writeStatus(w, http.StatusInternalServerError, err)
		return
	}
	if !found {
		writeJSON(w, http.StatusOK, guidecache.LookupResponse{Found: false})
		return
	}
	writeJSON(w, http.StatusOK, guidecache.LookupResponse{
		Found:        true,
		GuideContent: entry.GuideContent,
		CreatedAt:    guidecache.FormatTimestamp(entry.CreatedAt),
	})
}

func (s *Server) handleCacheSave(w http.ResponseWriter, r *http.Request) {
	var req guidecache.SaveRequest
	if !s.decodeKeyed(w, r, &req, func() guidecache.Key { return req.Key }) {
		return
	}
	if strings.TrimSpace(req.GuideContent) == "" {
		writeStatus(w, http.StatusBadRequest, errors.New("guide_content is required"))
		return
	}
	if err := s.store.Save(r.Context(), req.Key, req.GuideContent); err != nil {
		logging.ServerError("Cache save %q: %v", req.TaskName, err)
		writeStatus(w, http.StatusInternalServerError, err)
		return
	}
	writeStatus(w, http.StatusOK, nil)
}

func (s *Server) handleCacheDelete(w http.ResponseWriter, r *http.Request) {
	var key guidecache.Key
	if !s.decodeKeyed(w, r, &key, func() guidecache.Key { return key }) {
		return
	}
	if err := s.store.Delete(r.Context(), key); err != nil {
		logging.ServerError("Cache delete %q: %v", key.TaskName, err)
		writeStatus(w, http.StatusInternalServerError, err)
		return
	}
	writeStatus(w, http.StatusOK, nil)
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET, OPTIONS")
		writeStatus(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	if s.store == nil {
		writeStatus(w, http.StatusServiceUnavailable, errNoStore)
		return
	}
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		writeStatus(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
