package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"taskdealer/internal/logging"
	"taskdealer/internal/ollama"
)

const proxyChunkSize = 4096

// handleGenerate forwards a generation request to the default upstream, or
// to <X-Ollama-Target>/api/generate, and streams the reply back unchanged.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	header := w.Header()
	header.Set("Access-Control-Allow-Origin", "*")

	switch r.Method {
	case http.MethodOptions:
		header.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		header.Set("Access-Control-Allow-Headers", "Content-Type, Accept, "+ollama.TargetHeader)
		w.WriteHeader(http.StatusOK)
		return
	case http.MethodPost:
	default:
		header.Set("Allow", "POST, OPTIONS")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	target := s.cfg.UpstreamURL
	if custom := strings.TrimSpace(r.Header.Get(ollama.TargetHeader)); custom != "" {
		target = strings.TrimRight(custom, "/") + "/api/generate"
	}
	reqLog := logging.WithRequestID(logging.CategoryServer, uuid.NewString()).WithField("target", target)
	reqLog.Debug("Proxying generate request")

	upReq, err := http.NewRequestWithContext(r.Context(), http.MethodPost, target, r.Body)
	if err != nil {
		reqLog.Error("Bad upstream request: %v", err)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	upReq.Header.Set("Content-Type", "application/json")

	resp, err := s.upstream.Do(upReq)
	if err != nil {
		reqLog.Error("Upstream request failed: %v", err)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/x-ndjson"
	}
	header.Set("Content-Type", contentType)
	w.WriteHeader(resp.StatusCode)

	rc := http.NewResponseController(w)
	buf := make([]byte, proxyChunkSize)
	var total int64
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				reqLog.Debug("Client went away after %d bytes: %v", total, err)
				return
			}
			total += int64(n)
			_ = rc.Flush()
		}
		if readErr != nil {
			if !errors.Is(readErr, io.EOF) {
				reqLog.Warn("Upstream stream aborted after %d bytes: %v", total, readErr)
			}
			break
		}
	}
	reqLog.Info("Proxied %d bytes (status %d)", total, resp.StatusCode)
}
