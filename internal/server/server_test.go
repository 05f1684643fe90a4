package server

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"taskdealer/internal/config"
	"taskdealer/internal/events"
	"taskdealer/internal/guidecache"
	"taskdealer/internal/ollama"
	"taskdealer/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

func newTestServer(t *testing.T, cfg config.ServerConfig) (*Server, *httptest.Server) {
	t.Helper()
	db, err := store.OpenSQLite("", filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s := New(cfg, db, nil)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.Hub().Shutdown()
		ts.Close()
	})
	return s, ts
}

// =============================================================================
// PROXY
// =============================================================================

func TestProxyStreamsUpstream(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"model":"m","prompt":"p","stream":true}`, string(body))
		w.Header().Set("Content-Type", "application/x-ndjson")
		io.WriteString(w, `{"response":"Hel","done":false}`+"\n")
		w.(http.Flusher).Flush()
		io.WriteString(w, `{"response":"lo","done":true}`+"\n")
	}))
	defer upstream.Close()

	_, ts := newTestServer(t, config.ServerConfig{UpstreamURL: upstream.URL + "/api/generate"})

	resp, err := http.Post(ts.URL+"/api/generate", "application/json",
		strings.NewReader(`{"model":"m","prompt":"p","stream":true}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, `{"response":"Hel","done":false}`+"\n"+`{"response":"lo","done":true}`+"\n", string(body))
}

func TestProxyRoutesByTargetHeader(t *testing.T) {
	var defaultHit atomic.Bool
	def := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defaultHit.Store(true)
	}))
	defer def.Close()

	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTeapot)
		io.WriteString(w, "remote")
	}))
	defer remote.Close()

	_, ts := newTestServer(t, config.ServerConfig{UpstreamURL: def.URL + "/api/generate"})

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/generate", strings.NewReader(`{}`))
	require.NoError(t, err)
	req.Header.Set(ollama.TargetHeader, remote.URL+"/")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusTeapot, resp.StatusCode)
	assert.Equal(t, "remote", string(body))
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.False(t, defaultHit.Load())
}

func TestProxyDefaultsContentType(t *testing.T) {
	// Hijacked so net/http cannot sniff a type into the response.
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		conn, buf, err := w.(http.Hijacker).Hijack()
		if !assert.NoError(t, err) {
			return
		}
		defer conn.Close()
		buf.WriteString("HTTP/1.1 200 OK\r\nContent-Length: 16\r\nConnection: close\r\n\r\n")
		buf.WriteString(`{"done":true}` + "\n\n\n")
		buf.Flush()
	}))
	defer upstream.Close()

	_, ts := newTestServer(t, config.ServerConfig{UpstreamURL: upstream.URL + "/api/generate"})
	resp, err := http.Post(ts.URL+"/api/generate", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))
	assert.Equal(t, `{"done":true}`+"\n\n\n", string(body))
}

func TestProxyUpstreamDown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	dead := "http://" + ln.Addr().String() + "/api/generate"
	ln.Close()

	_, ts := newTestServer(t, config.ServerConfig{UpstreamURL: dead})
	resp, err := http.Post(ts.URL+"/api/generate", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestProxyPreflight(t *testing.T) {
	_, ts := newTestServer(t, config.ServerConfig{})

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/api/generate", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "POST, OPTIONS", resp.Header.Get("Access-Control-Allow-Methods"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Headers"), "X-Ollama-Target")

	resp, err = http.Get(ts.URL + "/api/generate")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

// =============================================================================
// CACHE API
// =============================================================================

func TestCacheAPIRoundTrip(t *testing.T) {
	_, ts := newTestServer(t, config.ServerConfig{})
	client := guidecache.NewClient(ts.URL, 5*time.Second, true)
	ctx := context.Background()

	key := guidecache.Key{TaskName: "grep", TaskDescription: "search text", ModelName: "qwen3:8b"}
	_, found, err := client.Lookup(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, client.Save(ctx, key, "# grep\nuse it"))
	require.NoError(t, client.Save(ctx, guidecache.Key{TaskName: "grep", TaskDescription: "search text", ModelName: "qwen3:8b", IsAdvanced: true}, "adv"))
	require.NoError(t, client.Save(ctx, guidecache.Key{TaskName: "Blog", TaskDescription: "a blog", ModelName: "qwen3:8b", IsProject: true}, "proj"))

	entry, found, err := client.Lookup(ctx, key)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "# grep\nuse it", entry.GuideContent)
	assert.False(t, entry.CreatedAt.IsZero())

	stats, err := client.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, guidecache.Stats{TotalGuides: 3, NormalGuides: 1, AdvancedGuides: 1, ProjectGuides: 1}, stats)

	require.NoError(t, client.Delete(ctx, key))
	_, found, err = client.Lookup(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCacheAPIValidation(t *testing.T) {
	_, ts := newTestServer(t, config.ServerConfig{})

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"bad json", http.MethodPost, "/api/cache/get", `{`, http.StatusBadRequest},
		{"missing model", http.MethodPost, "/api/cache/get", `{"task_name":"ls"}`, http.StatusBadRequest},
		{"empty guide", http.MethodPost, "/api/cache/save", `{"task_name":"ls","model_name":"m","guide_content":"  "}`, http.StatusBadRequest},
		{"get via GET", http.MethodGet, "/api/cache/get", ``, http.StatusMethodNotAllowed},
		{"stats via POST", http.MethodPost, "/api/cache/stats", `{}`, http.StatusMethodNotAllowed},
		{"preflight", http.MethodOptions, "/api/cache/save", ``, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, ts.URL+tt.path, strings.NewReader(tt.body))
			require.NoError(t, err)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
		})
	}
}

func TestCacheAPIWithoutStore(t *testing.T) {
	s := New(config.ServerConfig{}, nil, nil)
	defer s.Hub().Shutdown()

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/cache/stats", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

// =============================================================================
// LIFECYCLE
// =============================================================================

func TestServeShutsDownWithStreamingClient(t *testing.T) {
	hub := events.NewHub(events.NewMemoryBus(), events.HubOptions{ReloadOnConnect: true})
	s := New(config.ServerConfig{ShutdownTimeout: "2s"}, nil, hub)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": connected\n", line)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestNotifyReachesSSEThroughServer(t *testing.T) {
	s := New(config.ServerConfig{}, nil, nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()
	defer func() {
		cancel()
		<-done
	}()

	base := "http://" + ln.Addr().String()
	resp, err := http.Get(base + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	r := bufio.NewReader(resp.Body)
	_, err = r.ReadString('\n')
	require.NoError(t, err)
	_, err = r.ReadString('\n')
	require.NoError(t, err)

	// Hub.Run subscribes asynchronously; retry until the message arrives.
	got := make(chan string, 1)
	go func() {
		line, _ := r.ReadString('\n')
		got <- line
	}()
	deadline := time.After(3 * time.Second)
	for {
		post, err := http.Post(base+"/notify", "text/plain", nil)
		require.NoError(t, err)
		post.Body.Close()
		require.Equal(t, http.StatusNoContent, post.StatusCode)
		select {
		case line := <-got:
			assert.Equal(t, "data: reload\n", line)
			return
		case <-time.After(50 * time.Millisecond):
		case <-deadline:
			t.Fatal("no event received")
		}
	}
}
