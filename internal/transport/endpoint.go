package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"stagehand/internal/codec"
	"stagehand/internal/metrics"
)

const transportName = "ws"

// SnapshotFunc returns the frame a peer starts from
type SnapshotFunc func() (*codec.Frame, error)

type peer struct {
	id   string
	send chan []byte
	// resync asks the write loop to send a fresh snapshot
	resync chan struct{}
}

// Endpoint accepts websocket peers and fans frames out to them
type Endpoint struct {
	upgrader websocket.Upgrader
	snapshot SnapshotFunc
	settings *Settings
	log      *zap.Logger

	mu     sync.RWMutex
	peers  map[string]*peer
	closed bool
	ctx    context.Context
	cancel context.CancelFunc
}

// NewEndpoint creates an endpoint. settings may be nil.
func NewEndpoint(snapshot SnapshotFunc, settings *Settings, log *zap.Logger) *Endpoint {
	if settings == nil {
		settings = DefaultSettings()
	}
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Endpoint{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     settings.checkOrigin,
		},
		snapshot: snapshot,
		settings: settings,
		log:      log.Named("transport"),
		peers:    make(map[string]*peer),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// PeerCount returns the number of connected peers
func (e *Endpoint) PeerCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.peers)
}

// Broadcast queues a frame for every peer. Peers whose buffer is full
// miss the frame and resync on the sequence gap.
func (e *Endpoint) Broadcast(frame *codec.Frame) {
	msg, err := codec.EncodeFrame(frame)
	if err != nil {
		e.log.Error("failed to encode frame", zap.Error(err))
		return
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, p := range e.peers {
		select {
		case p.send <- msg:
			metrics.Frames.WithLabelValues(transportName, string(frame.Kind)).Inc()
		default:
			metrics.Dropped.WithLabelValues(transportName).Inc()
			e.log.Warn("peer is slow, skipping frame", zap.String("peer", p.id), zap.Uint64("seq", frame.Seq))
		}
	}
}

// Close disconnects every peer and refuses new ones
func (e *Endpoint) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.cancel()
}

func (e *Endpoint) add(p *peer) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	if e.settings.MaxPeers > 0 && len(e.peers) >= e.settings.MaxPeers {
		return false
	}
	e.peers[p.id] = p
	metrics.Clients.WithLabelValues(transportName).Set(float64(len(e.peers)))
	return true
}

func (e *Endpoint) remove(p *peer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.peers, p.id)
	metrics.Clients.WithLabelValues(transportName).Set(float64(len(e.peers)))
}

// ServeHTTP upgrades the request and serves the peer until it disconnects
func (e *Endpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p := &peer{
		id:     ulid.Make().String(),
		send:   make(chan []byte, e.settings.SendBufferSize),
		resync: make(chan struct{}, 1),
	}
	if !e.add(p) {
		http.Error(w, "too many peers", http.StatusServiceUnavailable)
		return
	}
	defer e.remove(p)

	ws, err := e.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied
		e.log.Warn("upgrade failed", zap.Error(err))
		return
	}
	defer ws.Close()

	log := e.log.With(zap.String("peer", p.id), zap.String("remote", r.RemoteAddr))
	log.Info("peer connected", zap.Int("total", e.PeerCount()))
	defer log.Info("peer disconnected")

	handleCtx, handleCancel := context.WithCancel(e.ctx)
	defer handleCancel()

	// snapshot goes out first; the write loop owns the connection after this
	p.resync <- struct{}{}

	go func() {
		defer handleCancel()
		for {
			ws.SetReadDeadline(time.Now().Add(e.settings.ReadTimeout))
			_, message, err := ws.ReadMessage()
			if err != nil {
				log.Debug("read ended", zap.Error(err))
				return
			}
			if len(message) == 0 {
				// ping
				continue
			}
			var req Request
			if err := json.Unmarshal(message, &req); err != nil {
				log.Warn("bad request", zap.Error(err))
				continue
			}
			if req.Type == RequestResync {
				select {
				case p.resync <- struct{}{}:
				default:
					// one pending resync is enough
				}
			}
		}
	}()

	e.writeLoop(handleCtx, ws, p, log)
}

func (e *Endpoint) writeLoop(ctx context.Context, ws *websocket.Conn, p *peer, log *zap.Logger) {
	ping := time.NewTicker(e.settings.PingTimeout)
	defer ping.Stop()

	write := func(message []byte) bool {
		ws.SetWriteDeadline(time.Now().Add(e.settings.WriteTimeout))
		if err := ws.WriteMessage(websocket.TextMessage, message); err != nil {
			// a websocket write deadline cannot be recovered
			log.Debug("write failed", zap.Error(err))
			return false
		}
		return true
	}

	for {
		select {
		case <-ctx.Done():
			ws.SetWriteDeadline(time.Now().Add(e.settings.WriteTimeout))
			ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server closing"))
			return

		case <-p.resync:
			if e.snapshot == nil {
				continue
			}
			frame, err := e.snapshot()
			if err != nil {
				log.Error("snapshot for peer", zap.Error(err))
				return
			}
			msg, err := codec.EncodeFrame(frame)
			if err != nil {
				log.Error("failed to encode snapshot", zap.Error(err))
				return
			}
			if !write(msg) {
				return
			}
			metrics.Frames.WithLabelValues(transportName, string(frame.Kind)).Inc()

		case msg := <-p.send:
			if !write(msg) {
				return
			}

		case <-ping.C:
			if !write([]byte{}) {
				return
			}
		}
	}
}
