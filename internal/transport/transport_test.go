package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stagehand/internal/codec"
	"stagehand/internal/state"
)

func serve(t *testing.T, settings *Settings) (*Endpoint, string, *atomic.Int32) {
	t.Helper()
	var snapshots atomic.Int32
	e := NewEndpoint(func() (*codec.Frame, error) {
		n := snapshots.Add(1)
		return &codec.Frame{
			Kind: codec.FrameSnapshot,
			Seq:  uint64(n),
			Data: state.Record{"0": state.Record{"n": int(n)}},
		}, nil
	}, settings, nil)
	srv := httptest.NewServer(e)
	t.Cleanup(func() {
		e.Close()
		srv.Close()
	})
	return e, "ws" + strings.TrimPrefix(srv.URL, "http"), &snapshots
}

func TestEndpointSnapshotThenUpdates(t *testing.T) {
	e, url, _ := serve(t, nil)

	conn, err := Dial(context.Background(), url, nil)
	require.NoError(t, err)
	defer conn.Close()

	first, err := conn.Next()
	require.NoError(t, err)
	assert.Equal(t, codec.FrameSnapshot, first.Kind)
	assert.Equal(t, uint64(1), first.Seq)

	require.Eventually(t, func() bool { return e.PeerCount() == 1 }, time.Second, 10*time.Millisecond)

	e.Broadcast(&codec.Frame{Kind: codec.FrameUpdate, Seq: 2, Data: state.Record{"0": nil}})
	update, err := conn.Next()
	require.NoError(t, err)
	assert.Equal(t, codec.FrameUpdate, update.Kind)
	assert.Equal(t, uint64(2), update.Seq)
	assert.Equal(t, state.Record{"0": nil}, update.Data)

	require.NoError(t, conn.Resync())
	again, err := conn.Next()
	require.NoError(t, err)
	assert.Equal(t, codec.FrameSnapshot, again.Kind)
	assert.Equal(t, uint64(2), again.Seq)
}

func TestEndpointMaxPeers(t *testing.T) {
	settings := DefaultSettings()
	settings.MaxPeers = 1
	e, url, _ := serve(t, settings)

	conn, err := Dial(context.Background(), url, settings)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return e.PeerCount() == 1 }, time.Second, 10*time.Millisecond)

	_, err = Dial(context.Background(), url, settings)
	assert.Error(t, err)
}

func TestEndpointOrigins(t *testing.T) {
	settings := DefaultSettings()
	settings.AllowedOrigins = []string{"https://ok.example"}

	allowed := httptest.NewRequest(http.MethodGet, "/ws", nil)
	allowed.Header.Set("Origin", "https://ok.example")
	assert.True(t, settings.checkOrigin(allowed))

	denied := httptest.NewRequest(http.MethodGet, "/ws", nil)
	denied.Header.Set("Origin", "https://evil.example")
	assert.False(t, settings.checkOrigin(denied))

	assert.True(t, settings.checkOrigin(httptest.NewRequest(http.MethodGet, "/ws", nil)))
}

func TestFollow(t *testing.T) {
	_, url, snapshots := serve(t, nil)

	settings := DefaultSettings()
	settings.ReconnectTimeout = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var seen []uint64
	err := Follow(ctx, url, settings, nil, func(f *codec.Frame) error {
		seen = append(seen, f.Seq)
		switch len(seen) {
		case 1:
			return ErrResync
		case 2:
			return errors.New("drop the connection")
		default:
			cancel()
			return nil
		}
	})

	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, seen, 3)
	assert.Equal(t, []uint64{1, 2, 3}, seen, "resync and reconnect both start from a snapshot")
	assert.Equal(t, int32(3), snapshots.Load())
}
