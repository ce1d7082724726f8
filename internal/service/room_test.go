package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stagehand/internal/codec"
	"stagehand/internal/group"
	"stagehand/internal/repository/sqlite"
	"stagehand/internal/state"
)

func newRoom(t *testing.T, seed map[int]state.Record, opts ...RoomOption) *Room {
	t.Helper()
	r, err := NewRoom("main", seed, opts...)
	require.NoError(t, err)
	return r
}

func newRepo(t *testing.T) *sqlite.Repository {
	t.Helper()
	repo, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func drain(ch chan Event) []Event {
	var out []Event
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestRoomCommit(t *testing.T) {
	bus := NewEventBus()
	events := make(chan Event, 16)
	bus.Subscribe(events)

	r := newRoom(t, map[int]state.Record{
		0: {"name": "Jon"},
		1: {"name": "Ben"},
	}, WithEventBus(bus))
	ctx := context.Background()

	require.NoError(t, r.StageMember(0, state.Record{"name": "Jonathan"}))
	assert.NotNil(t, r.Pending())

	// staged writes are not visible until the commit
	data, err := r.Member(0)
	require.NoError(t, err)
	assert.Equal(t, state.Record{"name": "Jon"}, data)

	frame, err := r.Commit(ctx)
	require.NoError(t, err)
	require.NotNil(t, frame)
	assert.Equal(t, codec.FrameUpdate, frame.Kind)
	assert.Equal(t, "main", frame.Room)
	assert.Equal(t, uint64(1), frame.Seq)
	assert.Equal(t, state.Record{"0": state.Record{"name": "Jonathan"}, "1": nil}, frame.Data)

	digest, err := codec.Fingerprint(state.Record{
		"0": state.Record{"name": "Jonathan"},
		"1": state.Record{"name": "Ben"},
	})
	require.NoError(t, err)
	assert.Equal(t, digest, frame.Digest)

	got := drain(events)
	require.Len(t, got, 1)
	assert.Equal(t, EventFrame, got[0].Type)
	assert.Same(t, frame, got[0].Payload)

	again, err := r.Commit(ctx)
	require.NoError(t, err)
	assert.Nil(t, again, "nothing staged")
	assert.Equal(t, uint64(1), r.Seq())
	assert.Nil(t, r.Pending())
}

func TestRoomCreateAndDelete(t *testing.T) {
	bus := NewEventBus()
	events := make(chan Event, 16)
	bus.Subscribe(events)

	r := newRoom(t, map[int]state.Record{
		0: {"name": "Jon"},
		1: {"name": "Ben"},
	}, WithEventBus(bus))

	id, err := r.CreateMember(state.Record{"name": "Ann"})
	require.NoError(t, err)
	assert.Equal(t, 2, id)
	require.NoError(t, r.DeleteMember(1))

	frame, err := r.Commit(context.Background())
	require.NoError(t, err)
	require.NotNil(t, frame)
	assert.Equal(t, state.Record{"0": nil, "2": state.Record{"name": "Ann"}}, frame.Data)

	assert.Equal(t, map[int]state.Record{
		0: {"name": "Jon"},
		2: {"name": "Ann"},
	}, r.Members())

	var types []EventType
	for _, ev := range drain(events) {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []EventType{EventMemberAdded, EventMemberRemoved, EventFrame}, types)
}

func TestRoomMintDuplicate(t *testing.T) {
	r := newRoom(t, map[int]state.Record{0: {}})
	err := r.MintMember(0, state.Record{})
	assert.ErrorIs(t, err, state.ErrDuplicateID)
	require.NoError(t, r.MintMember(5, state.Record{"x": 1}))
	assert.Equal(t, map[int]state.Record{0: {}}, r.Members(), "minted member is staged")
}

func TestRoomStageMember(t *testing.T) {
	r := newRoom(t, map[int]state.Record{0: {"name": "Jon", "age": 42}})

	err := r.StageMember(7, state.Record{"name": "x"})
	assert.ErrorIs(t, err, ErrMemberNotFound)
	assert.ErrorIs(t, r.DeleteMember(7), ErrMemberNotFound)
	_, err = r.Member(7)
	assert.ErrorIs(t, err, ErrMemberNotFound)

	// nil deletes
	require.NoError(t, r.StageMember(0, state.Record{"age": nil}))
	frame, err := r.Commit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, state.Record{"0": state.Record{"name": "Jon"}}, frame.Data)

	data, err := r.Member(0)
	require.NoError(t, err)
	assert.Equal(t, state.Record{"name": "Jon"}, data)
}

func TestRoomDiscard(t *testing.T) {
	r := newRoom(t, map[int]state.Record{0: {"name": "Jon"}})
	require.NoError(t, r.StageMember(0, state.Record{"name": "Ben"}))
	_, err := r.CreateMember(state.Record{})
	require.NoError(t, err)

	r.Discard()
	assert.Nil(t, r.Pending())
	frame, err := r.Commit(context.Background())
	require.NoError(t, err)
	assert.Nil(t, frame)
}

func TestRoomTick(t *testing.T) {
	counter := func(m *group.Member) error {
		m.OnUpdate("tick", func(string, state.Record) {
			v, _ := m.Data().Get("ticks")
			n, _ := v.(int)
			m.Data().Set("ticks", n+1)
		})
		return nil
	}
	r := newRoom(t, map[int]state.Record{0: {}}, WithMemberConstructor(counter))
	ctx := context.Background()

	frame, err := r.Tick(ctx, "tick")
	require.NoError(t, err)
	require.NotNil(t, frame)
	assert.Equal(t, uint64(1), frame.Seq)

	_, err = r.Tick(ctx, "tick")
	require.NoError(t, err)
	data, err := r.Member(0)
	require.NoError(t, err)
	assert.Equal(t, state.Record{"ticks": 2}, data)

	frame, err = r.Tick(ctx, "idle")
	require.NoError(t, err)
	assert.Nil(t, frame, "no handler for the phase, nothing to commit")

	// members created later get the constructor too
	id, err := r.CreateMember(state.Record{})
	require.NoError(t, err)
	_, err = r.Tick(ctx, "tick")
	require.NoError(t, err)
	data, err = r.Member(id)
	require.NoError(t, err)
	assert.Equal(t, state.Record{"ticks": 1}, data)
}

func TestRoomReseed(t *testing.T) {
	r := newRoom(t, map[int]state.Record{
		0: {"a": 1, "b": 2},
		1: {"x": 1},
	})
	// a staged edit on a reseeded member is discarded
	require.NoError(t, r.StageMember(0, state.Record{"z": 9}))

	seed := &codec.Seed{Members: map[int]state.Record{
		0: {"a": 1, "c": 3},
		2: {"y": 1},
	}}
	require.NoError(t, r.Reseed(seed))

	frame, err := r.Commit(context.Background())
	require.NoError(t, err)
	require.NotNil(t, frame)
	assert.Equal(t, state.Record{
		"0": state.Record{"a": 1, "c": 3},
		"2": state.Record{"y": 1},
	}, frame.Data)
	assert.Equal(t, seed.Members, r.Members())
	assert.Equal(t, seed.Members, r.Export().Members)
}

func TestRoomSnapshot(t *testing.T) {
	r := newRoom(t, map[int]state.Record{0: {"name": "Jon"}})
	require.NoError(t, r.StageMember(0, state.Record{"name": "Ben"}))

	snap, err := r.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, codec.FrameSnapshot, snap.Kind)
	assert.Equal(t, uint64(0), snap.Seq)
	assert.Equal(t, state.Record{"0": state.Record{"name": "Jon"}}, snap.Data, "snapshots carry committed data")
	assert.NotEmpty(t, snap.ID)
}

func TestRoomPersistAndRestore(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	r := newRoom(t, map[int]state.Record{0: {"n": 1}}, WithRepository(repo))
	require.NoError(t, r.StageMember(0, state.Record{"n": 2}))
	_, err := r.Commit(ctx)
	require.NoError(t, err)
	require.NoError(t, r.Persist(ctx))

	_, err = r.CreateMember(state.Record{"n": 3, "tags": []any{"a"}})
	require.NoError(t, err)
	_, err = r.Commit(ctx)
	require.NoError(t, err)

	journal, err := repo.Journal(ctx, "main", 0, 0)
	require.NoError(t, err)
	require.Len(t, journal, 1, "persist trims the journal")
	assert.Equal(t, uint64(2), journal[0].Seq)

	restored := newRoom(t, nil, WithRepository(repo))
	require.NoError(t, restored.Restore(ctx))
	assert.Equal(t, uint64(2), restored.Seq())
	assert.Equal(t, r.Members(), restored.Members())

	want, err := r.Snapshot()
	require.NoError(t, err)
	got, err := restored.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, want.Digest, got.Digest)

	// restored rooms keep committing from the restored seq
	require.NoError(t, restored.StageMember(1, state.Record{"n": 4}))
	frame, err := restored.Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), frame.Seq)
}

func TestRoomRestoreJournalOnly(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	seed := map[int]state.Record{0: {"n": 1}}

	r := newRoom(t, seed, WithRepository(repo))
	require.NoError(t, r.DeleteMember(0))
	_, err := r.Commit(ctx)
	require.NoError(t, err)

	restored := newRoom(t, seed, WithRepository(repo))
	require.NoError(t, restored.Restore(ctx))
	assert.Equal(t, uint64(1), restored.Seq())
	assert.Empty(t, restored.Members())
}

func TestRoomRestoreNothingStored(t *testing.T) {
	r := newRoom(t, map[int]state.Record{0: {"n": 1}}, WithRepository(newRepo(t)))
	require.NoError(t, r.Restore(context.Background()))
	assert.Equal(t, uint64(0), r.Seq())
	assert.Equal(t, map[int]state.Record{0: {"n": 1}}, r.Members())
}

func TestEventBus(t *testing.T) {
	bus := NewEventBus()
	fast := make(chan Event, 1)
	slow := make(chan Event)
	bus.Subscribe(fast)
	bus.Subscribe(slow)

	// slow subscribers are skipped, not waited for
	bus.Publish(Event{Type: EventFrame})
	assert.Equal(t, EventFrame, (<-fast).Type)

	bus.Unsubscribe(fast)
	bus.Publish(Event{Type: EventFrame})
	assert.Empty(t, drain(fast))
}
