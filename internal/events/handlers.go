package events

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/net/websocket"

	"taskdealer/internal/logging"
)

const maxNotifyBody = 64 << 10

// SSEHandler streams hub messages as server-sent events.
func SSEHandler(h *Hub) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}
		client, err := h.Connect()
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		defer h.Disconnect(client)

		header := w.Header()
		header.Set("Content-Type", "text/event-stream")
		header.Set("Cache-Control", "no-cache")
		header.Set("Connection", "keep-alive")
		header.Set("Access-Control-Allow-Origin", "*")
		w.WriteHeader(http.StatusOK)

		if _, err := io.WriteString(w, ": connected\n\n"); err != nil {
			return
		}
		flusher.Flush()

		for {
			select {
			case <-r.Context().Done():
				return
			case msg, ok := <-client.C:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", strings.ReplaceAll(msg, "\n", "\ndata: ")); err != nil {
					logging.EventsDebug("sse client %s write failed: %v", client.ID, err)
					return
				}
				flusher.Flush()
			}
		}
	})
}

// WebSocketHandler mirrors SSEHandler over a websocket, one text frame per
// message.
func WebSocketHandler(h *Hub) http.Handler {
	return websocket.Handler(func(conn *websocket.Conn) {
		defer conn.Close()
		client, err := h.Connect()
		if err != nil {
			return
		}
		defer h.Disconnect(client)

		// The read side only exists to notice the peer going away.
		gone := make(chan struct{})
		go func() {
			defer close(gone)
			var discard string
			for {
				if err := websocket.Message.Receive(conn, &discard); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-gone:
				return
			case msg, ok := <-client.C:
				if !ok {
					return
				}
				if err := websocket.Message.Send(conn, msg); err != nil {
					logging.EventsDebug("ws client %s send failed: %v", client.ID, err)
					return
				}
			}
		}
	})
}

// NotifyHandler broadcasts the request body, or ReloadMessage when empty.
func NotifyHandler(h *Hub) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, maxNotifyBody))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = ReloadMessage
		}
		if err := h.Broadcast(r.Context(), msg); err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}
