package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate_StreamsBody(t *testing.T) {
	var got GenerateRequest
	var header string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		header = r.Header.Get(TargetHeader)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/x-ndjson")
		_, _ = io.WriteString(w, `{"response":"hi","done":true}`+"\n")
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", time.Second)
	body, err := c.Generate(context.Background(), GenerateRequest{Model: "qwen3:8b", Prompt: "p", Stream: true}, "")
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, `{"response":"hi","done":true}`+"\n", string(data))
	assert.Equal(t, GenerateRequest{Model: "qwen3:8b", Prompt: "p", Stream: true}, got)
	assert.Empty(t, header)
}

func TestGenerate_SendsTargetHeader(t *testing.T) {
	var header string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Get(TargetHeader)
	}))
	defer srv.Close()

	body, err := NewClient(srv.URL, time.Second).Generate(context.Background(), GenerateRequest{}, "https://abc.ngrok.io")
	require.NoError(t, err)
	body.Close()
	assert.Equal(t, "https://abc.ngrok.io", header)
}

func TestGenerate_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second).Generate(context.Background(), GenerateRequest{Model: "x"}, "")
	require.Error(t, err)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.StatusCode)
	assert.Equal(t, "model not found", se.Body)
	assert.Equal(t, "ollama returned status 404: model not found", err.Error())
}

func TestGenerate_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewClient(url, time.Second).Generate(context.Background(), GenerateRequest{}, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ollama request failed")
}

func TestGenerate_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewClient("http://127.0.0.1:1", time.Second).Generate(ctx, GenerateRequest{}, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewClient_Defaults(t *testing.T) {
	assert.Equal(t, "http://localhost:11434", NewClient("", 0).BaseURL())
}
