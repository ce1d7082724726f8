// Package hub fans room frames out to Server-Sent Events clients.
package hub

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"stagehand/internal/codec"
	"stagehand/internal/metrics"
)

const transportName = "sse"

// SnapshotFunc returns the frame a new client starts from
type SnapshotFunc func() (*codec.Frame, error)

// Client represents a connected SSE client
type Client struct {
	id     string
	events chan []byte
}

// Hub manages SSE client connections
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	broadcast  chan *codec.Frame
	done       chan struct{}

	snapshot  SnapshotFunc
	keepalive time.Duration
	log       *zap.Logger
}

// New creates a new Hub. snapshot may be nil.
func New(snapshot SnapshotFunc, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *codec.Frame, 256),
		done:       make(chan struct{}),
		snapshot:   snapshot,
		keepalive:  30 * time.Second,
		log:        log.Named("hub"),
	}
}

// Run starts the hub's event loop and returns when ctx is done. Call it
// once.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.events)
			}
			h.mu.Unlock()
			metrics.Clients.WithLabelValues(transportName).Set(0)
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()
			metrics.Clients.WithLabelValues(transportName).Set(float64(total))
			h.log.Info("SSE client connected", zap.String("client", client.id), zap.Int("total", total))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.events)
			}
			total := len(h.clients)
			h.mu.Unlock()
			metrics.Clients.WithLabelValues(transportName).Set(float64(total))
			h.log.Info("SSE client disconnected", zap.String("client", client.id), zap.Int("total", total))

		case frame := <-h.broadcast:
			msg, err := format(frame)
			if err != nil {
				h.log.Error("failed to encode frame", zap.Error(err))
				continue
			}

			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.events <- msg:
					metrics.Frames.WithLabelValues(transportName, string(frame.Kind)).Inc()
				default:
					// Client is slow, skip this frame
					metrics.Dropped.WithLabelValues(transportName).Inc()
					h.log.Warn("SSE client is slow, skipping frame",
						zap.String("client", client.id), zap.Uint64("seq", frame.Seq))
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast queues a frame for every connected client
func (h *Hub) Broadcast(frame *codec.Frame) {
	select {
	case h.broadcast <- frame:
	default:
		metrics.Dropped.WithLabelValues(transportName).Inc()
		h.log.Warn("broadcast channel full, dropping frame", zap.Uint64("seq", frame.Seq))
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// format renders a frame as one SSE message: the frame kind is the event
// name and the sequence number the event id
func format(frame *codec.Frame) ([]byte, error) {
	data, err := codec.EncodeFrame(frame)
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("event: %s\nid: %d\ndata: %s\n\n", frame.Kind, frame.Seq, data)), nil
}

// ServeHTTP handles SSE connections
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	client := &Client{
		id:     ulid.Make().String(),
		events: make(chan []byte, 64),
	}

	select {
	case h.register <- client:
	case <-h.done:
		http.Error(w, "hub stopped", http.StatusServiceUnavailable)
		return
	case <-r.Context().Done():
		return
	}

	defer func() {
		select {
		case h.unregister <- client:
		case <-h.done:
		}
	}()

	fmt.Fprintf(w, ": connected %s\n\n", client.id)

	// The snapshot is taken after registering so no committed update
	// falls between it and the first broadcast frame
	if h.snapshot != nil {
		frame, err := h.snapshot()
		if err != nil {
			h.log.Error("snapshot for new client", zap.String("client", client.id), zap.Error(err))
			return
		}
		msg, err := format(frame)
		if err != nil {
			h.log.Error("failed to encode snapshot", zap.Error(err))
			return
		}
		if _, err := w.Write(msg); err != nil {
			return
		}
	}
	flusher.Flush()

	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-client.events:
			if !ok {
				return
			}
			if _, err := w.Write(msg); err != nil {
				return
			}
			flusher.Flush()

		case <-ticker.C:
			if _, err := fmt.Fprintf(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
