package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"stagehand/internal/codec"
)

// Conn is the client side of one websocket connection
type Conn struct {
	ws       *websocket.Conn
	settings *Settings
}

// Dial connects to an Endpoint at url (ws:// or wss://)
func Dial(ctx context.Context, url string, settings *Settings) (*Conn, error) {
	if settings == nil {
		settings = DefaultSettings()
	}
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &Conn{ws: ws, settings: settings}, nil
}

// Next blocks until the next frame arrives. Pings are answered and skipped.
func (c *Conn) Next() (*codec.Frame, error) {
	for {
		c.ws.SetReadDeadline(time.Now().Add(c.settings.ReadTimeout))
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		if len(message) == 0 {
			c.ws.SetWriteDeadline(time.Now().Add(c.settings.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, []byte{}); err != nil {
				return nil, err
			}
			continue
		}
		return codec.DecodeFrame(message)
	}
}

// Resync asks the server for a fresh snapshot
func (c *Conn) Resync() error {
	data, err := json.Marshal(Request{Type: RequestResync})
	if err != nil {
		return err
	}
	c.ws.SetWriteDeadline(time.Now().Add(c.settings.WriteTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Close closes the connection
func (c *Conn) Close() error {
	c.ws.SetWriteDeadline(time.Now().Add(c.settings.WriteTimeout))
	c.ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.ws.Close()
}

// ErrResync is returned by a FrameFunc to request a fresh snapshot
var ErrResync = errors.New("transport: resync requested")

// FrameFunc handles one frame received by Follow
type FrameFunc func(*codec.Frame) error

// Follow connects to url and feeds frames to fn until ctx is done,
// reconnecting after errors. When fn returns ErrResync a snapshot is
// requested; any other error drops the connection.
func Follow(ctx context.Context, url string, settings *Settings, log *zap.Logger, fn FrameFunc) error {
	if settings == nil {
		settings = DefaultSettings()
	}
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("follow").With(zap.String("url", url))

	for {
		err := followOnce(ctx, url, settings, log, fn)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Info("connection lost, reconnecting", zap.Error(err), zap.Duration("after", settings.ReconnectTimeout))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(settings.ReconnectTimeout):
		}
	}
}

func followOnce(ctx context.Context, url string, settings *Settings, log *zap.Logger, fn FrameFunc) error {
	conn, err := Dial(ctx, url, settings)
	if err != nil {
		return err
	}
	defer conn.Close()
	log.Info("connected")

	// unblock Next when ctx ends
	stop := context.AfterFunc(ctx, func() {
		conn.ws.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		frame, err := conn.Next()
		if err != nil {
			return err
		}
		if err := fn(frame); err != nil {
			if !errors.Is(err, ErrResync) {
				return err
			}
			log.Warn("requesting resync", zap.Uint64("seq", frame.Seq), zap.Error(err))
			if err := conn.Resync(); err != nil {
				return err
			}
		}
	}
}
