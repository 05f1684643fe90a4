// Package server is the companion HTTP server: it proxies generation requests
// to Ollama, serves the guide cache API and carries live-reload events.
package server

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"taskdealer/internal/config"
	"taskdealer/internal/events"
	"taskdealer/internal/guidecache"
	"taskdealer/internal/logging"
)

// DefaultUpstream is used when the config names no upstream.
const DefaultUpstream = "http://localhost:11434/api/generate"

const upstreamDialTimeout = 30 * time.Second

// GuideStore is the persistence the cache API needs.
type GuideStore interface {
	Get(ctx context.Context, key guidecache.Key) (guidecache.Entry, bool, error)
	Save(ctx context.Context, key guidecache.Key, content string) error
	Delete(ctx context.Context, key guidecache.Key) error
	Stats(ctx context.Context) (guidecache.Stats, error)
}

// Server bundles the HTTP handlers with the event hub and optional watcher.
type Server struct {
	cfg      config.ServerConfig
	store    GuideStore
	hub      *events.Hub
	upstream *http.Client
	watcher  *events.Watcher
}

// New wires a server. store may be nil, in which case the cache API answers
// 503.
func New(cfg config.ServerConfig, store GuideStore, hub *events.Hub) *Server {
	if cfg.UpstreamURL == "" {
		cfg.UpstreamURL = DefaultUpstream
	}
	if hub == nil {
		hub = events.NewHub(nil, events.HubOptions{ReloadOnConnect: true})
	}
	transport := &http.Transport{
		Proxy:       http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{Timeout: upstreamDialTimeout}).DialContext,
	}
	return &Server{
		cfg:      cfg,
		store:    store,
		hub:      hub,
		upstream: &http.Client{Transport: transport},
	}
}

// Hub returns the event hub.
func (s *Server) Hub() *events.Hub {
	return s.hub
}

// Watch arranges for changes under base matching the configured watch globs
// to broadcast a reload while Run is active.
func (s *Server) Watch(base string) error {
	if len(s.cfg.WatchGlobs) == 0 {
		return nil
	}
	w, err := events.NewWatcher(base, s.cfg.WatchGlobs, events.DefaultDebounce, func(paths []string) {
		logging.Server("Files changed (%d), broadcasting reload", len(paths))
		logging.Audit(logging.AuditEvent{
			EventType: logging.AuditReloadBroadcast,
			Success:   true,
			Fields:    map[string]interface{}{"reason": "watch", "paths": paths},
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.hub.Broadcast(ctx, events.ReloadMessage)
	})
	if err != nil {
		return err
	}
	s.watcher = w
	return nil
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/generate", s.handleGenerate)
	mux.HandleFunc("/api/cache/get", s.cors(s.handleCacheGet))
	mux.HandleFunc("/api/cache/save", s.cors(s.handleCacheSave))
	mux.HandleFunc("/api/cache/delete", s.cors(s.handleCacheDelete))
	mux.HandleFunc("/api/cache/stats", s.cors(s.handleCacheStats))
	mux.Handle("/events", events.SSEHandler(s.hub))
	mux.Handle("/ws", events.WebSocketHandler(s.hub))
	mux.Handle("/notify", events.NotifyHandler(s.hub))
	if s.cfg.StaticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(s.cfg.StaticDir)))
	}
	return logRequests(mux)
}

// Run serves on cfg.Addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpSrv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	logging.Server("Listening on %s (upstream %s)", ln.Addr(), s.cfg.UpstreamURL)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.hub.Run(gctx)
	})
	if s.watcher != nil {
		if err := s.watcher.Start(gctx); err != nil {
			ln.Close()
			return err
		}
		defer s.watcher.Stop()
	}
	g.Go(func() error {
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		// Streaming clients only return once the hub lets go of them.
		s.hub.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.GetShutdownTimeout())
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logging.ServerError("Shutdown: %v", err)
			return err
		}
		logging.Server("Server stopped")
		return nil
	})
	return g.Wait()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijacking not supported")
	}
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logging.ServerDebug("%s %s %d %s", r.Method, r.URL.Path, rec.status, time.Since(start))
	})
}
