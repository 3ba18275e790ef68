package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
)

// SSEClient holds the channel for SSE streaming.
type SSEClient struct {
	channel chan string
}

// SSEHub manages SSE clients: register/unregister, broadcast.
type SSEHub struct {
	clients    map[*SSEClient]struct{}
	register   chan *SSEClient
	unregister chan *SSEClient
	broadcast  chan string
	done       chan struct{}
}

// NewSSEHub creates an SSEHub with internal channels.
func NewSSEHub() *SSEHub {
	return &SSEHub{
		clients:    make(map[*SSEClient]struct{}),
		register:   make(chan *SSEClient),
		unregister: make(chan *SSEClient),
		broadcast:  make(chan string),
		done:       make(chan struct{}),
	}
}

// Run listens for SSE events until ctx ends.
func (hub *SSEHub) Run(ctx context.Context) {
	defer close(hub.done)
	for {
		select {
		case <-ctx.Done():
			for client := range hub.clients {
				close(client.channel)
			}
			return
		case client := <-hub.register:
			hub.clients[client] = struct{}{}
			logrus.Debug("New SSE client registered")
		case client := <-hub.unregister:
			if _, ok := hub.clients[client]; ok {
				delete(hub.clients, client)
				close(client.channel)
				logrus.Debug("SSE client unregistered")
			}
		case message := <-hub.broadcast:
			for client := range hub.clients {
				select {
				case client.channel <- message:
				default:
					// Slow client; drop it rather than block the hub.
					close(client.channel)
					delete(hub.clients, client)
				}
			}
		}
	}
}

// Broadcast sends a message to all SSE clients. It is a no-op once the hub
// has stopped.
func (hub *SSEHub) Broadcast(message string) {
	select {
	case hub.broadcast <- message:
	case <-hub.done:
	}
}

// AddClient registers an SSEClient.
func (hub *SSEHub) AddClient(client *SSEClient) bool {
	select {
	case hub.register <- client:
		return true
	case <-hub.done:
		return false
	}
}

// RemoveClient unregisters an SSEClient.
func (hub *SSEHub) RemoveClient(client *SSEClient) {
	select {
	case hub.unregister <- client:
	case <-hub.done:
	}
}

// HandleSubscribeSSE streams update messages to the client.
func (api *HTTPAPI) HandleSubscribeSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	client := &SSEClient{channel: make(chan string, 10)}
	if !api.SSEHub.AddClient(client) {
		http.Error(w, "Server shutting down", http.StatusServiceUnavailable)
		return
	}
	defer api.SSEHub.RemoveClient(client)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case msg, ok := <-client.channel:
			if !ok {
				return
			}
			for _, line := range strings.Split(strings.TrimRight(msg, "\n"), "\n") {
				_, _ = fmt.Fprintf(w, "data: %s\n", line)
			}
			_, _ = fmt.Fprint(w, "\n")
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
