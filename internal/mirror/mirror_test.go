package mirror

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stagehand/internal/codec"
	"stagehand/internal/event"
	"stagehand/internal/group"
	"stagehand/internal/service"
	"stagehand/internal/state"
	"stagehand/internal/transport"
)

func newRoom(t *testing.T) *service.Room {
	t.Helper()
	room, err := service.NewRoom("main", map[int]state.Record{
		0: {"name": "Jon", "age": 23},
		1: {"name": "Ben", "pos": state.Record{"x": 1, "y": 2}},
	})
	require.NoError(t, err)
	return room
}

// wire sends f through the JSON encoding peers receive
func wire(t *testing.T, f *codec.Frame) *codec.Frame {
	t.Helper()
	data, err := codec.EncodeFrame(f)
	require.NoError(t, err)
	out, err := codec.DecodeFrame(data)
	require.NoError(t, err)
	return out
}

func snapshot(t *testing.T, room *service.Room) *codec.Frame {
	t.Helper()
	f, err := room.Snapshot()
	require.NoError(t, err)
	return wire(t, f)
}

func commit(t *testing.T, room *service.Room) *codec.Frame {
	t.Helper()
	f, err := room.Commit(context.Background())
	require.NoError(t, err)
	require.NotNil(t, f)
	return wire(t, f)
}

func TestMirrorFollowsRoom(t *testing.T) {
	room := newRoom(t)
	m, err := New("main")
	require.NoError(t, err)

	require.NoError(t, m.Apply(snapshot(t, room)))
	assert.True(t, m.Synced())
	assert.Equal(t, room.Members(), m.Members())

	steps := []func(){
		func() { require.NoError(t, room.StageMember(0, state.Record{"age": 24})) },
		func() {
			_, err := room.CreateMember(state.Record{"name": "Ann"})
			require.NoError(t, err)
		},
		func() { require.NoError(t, room.DeleteMember(1)) },
		func() {
			require.NoError(t, room.StageMember(2, state.Record{"name": nil, "tags": []any{"x"}}))
			require.NoError(t, room.StageMember(0, state.Record{"name": "Jonathan"}))
		},
	}
	for i, step := range steps {
		step()
		require.NoError(t, m.Apply(commit(t, room)), "step %d", i)
		assert.Equal(t, room.Members(), m.Members(), "step %d", i)
		assert.Equal(t, room.Seq(), m.Seq())
	}
}

func TestMirrorSkipsStaleFrames(t *testing.T) {
	room := newRoom(t)
	m, err := New("main")
	require.NoError(t, err)

	require.NoError(t, room.StageMember(0, state.Record{"age": 24}))
	first := commit(t, room)

	// the snapshot already includes the first update
	require.NoError(t, m.Apply(snapshot(t, room)))
	require.NoError(t, m.Apply(first))
	assert.Equal(t, uint64(1), m.Seq())
	assert.Equal(t, room.Members(), m.Members())
}

func TestMirrorIgnoresUpdatesBeforeSnapshot(t *testing.T) {
	room := newRoom(t)
	m, err := New("")
	require.NoError(t, err)

	require.NoError(t, room.StageMember(0, state.Record{"age": 24}))
	require.NoError(t, m.Apply(commit(t, room)))
	assert.False(t, m.Synced())
	assert.Empty(t, m.Members())
}

func TestMirrorGap(t *testing.T) {
	room := newRoom(t)
	m, err := New("main")
	require.NoError(t, err)
	require.NoError(t, m.Apply(snapshot(t, room)))

	require.NoError(t, room.StageMember(0, state.Record{"age": 24}))
	commit(t, room) // lost
	require.NoError(t, room.StageMember(0, state.Record{"age": 25}))
	second := commit(t, room)

	err = m.Apply(second)
	assert.ErrorIs(t, err, ErrDiverged)
	assert.False(t, m.Synced())

	require.NoError(t, room.StageMember(1, state.Record{"name": "Benjamin"}))
	assert.NoError(t, m.Apply(commit(t, room)), "ignored until resynced")
	assert.Equal(t, uint64(0), m.Seq())

	require.NoError(t, m.Apply(snapshot(t, room)))
	assert.Equal(t, uint64(3), m.Seq())
	assert.Equal(t, room.Members(), m.Members())
}

func TestMirrorDigestMismatch(t *testing.T) {
	room := newRoom(t)
	m, err := New("main")
	require.NoError(t, err)

	snap := snapshot(t, room)
	snap.Digest = "not-a-digest"
	assert.ErrorIs(t, m.Apply(snap), ErrDiverged)
	assert.False(t, m.Synced())
}

func TestMirrorWrongRoom(t *testing.T) {
	m, err := New("main")
	require.NoError(t, err)
	err = m.Apply(&codec.Frame{Kind: codec.FrameSnapshot, Room: "other", Data: state.Record{}})
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrDiverged)
}

func TestMirrorMemberEvents(t *testing.T) {
	room := newRoom(t)
	m, err := New("main")
	require.NoError(t, err)

	var added, removed []int
	m.OnMember(group.EventDidAddMember, func(ev event.Event[group.EventKind, group.MemberChange]) {
		added = append(added, ev.Payload.ID)
	})
	m.OnMember(group.EventDidRemoveMember, func(ev event.Event[group.EventKind, group.MemberChange]) {
		removed = append(removed, ev.Payload.ID)
	})

	require.NoError(t, m.Apply(snapshot(t, room)))
	assert.Equal(t, []int{0, 1}, added)

	require.NoError(t, room.DeleteMember(0))
	require.NoError(t, m.Apply(commit(t, room)))
	assert.Equal(t, []int{0}, removed)
}

func TestMirrorOverWebsocket(t *testing.T) {
	room := newRoom(t)
	endpoint := transport.NewEndpoint(room.Snapshot, nil, nil)
	srv := httptest.NewServer(endpoint)
	t.Cleanup(func() {
		endpoint.Close()
		srv.Close()
	})
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	m, err := New("main")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go transport.Follow(ctx, url, nil, nil, func(f *codec.Frame) error {
		err := m.Apply(f)
		if err != nil {
			return transport.ErrResync
		}
		return nil
	})

	require.Eventually(t, m.Synced, 2*time.Second, 10*time.Millisecond)

	_, err = room.CreateMember(state.Record{"name": "Ann"})
	require.NoError(t, err)
	frame, err := room.Commit(ctx)
	require.NoError(t, err)
	endpoint.Broadcast(frame)

	require.Eventually(t, func() bool { return m.Seq() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, room.Members(), m.Members())
}
