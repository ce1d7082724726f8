// Package transport carries room frames to peers over websockets.
//
// The server side is an Endpoint mounted on the HTTP mux; every connected
// peer first receives a snapshot frame and then every broadcast update
// frame. The client side is Conn (one connection) and Follow (a reconnecting
// loop). Frames travel as JSON text messages; an empty message is a ping.
//
// Peers may send a Request asking for a fresh snapshot, which is how a
// mirror recovers after it detects divergence.
package transport

import (
	"net/http"
	"time"
)

// RequestResync asks the server for a new snapshot frame
const RequestResync = "resync"

// Request is the only message a peer sends
type Request struct {
	Type string `json:"type"`
}

// Settings tune both ends of the connection
type Settings struct {
	WriteTimeout     time.Duration
	ReadTimeout      time.Duration
	PingTimeout      time.Duration
	ReconnectTimeout time.Duration
	SendBufferSize   int
	// MaxPeers caps concurrent peers on an Endpoint; 0 is unlimited
	MaxPeers int
	// AllowedOrigins restricts browser origins; empty allows all
	AllowedOrigins []string
}

// DefaultSettings returns settings suitable for a LAN deployment
func DefaultSettings() *Settings {
	return &Settings{
		WriteTimeout:     5 * time.Second,
		ReadTimeout:      60 * time.Second,
		PingTimeout:      15 * time.Second,
		ReconnectTimeout: time.Second,
		SendBufferSize:   64,
	}
}

func (s *Settings) checkOrigin(r *http.Request) bool {
	if len(s.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}
