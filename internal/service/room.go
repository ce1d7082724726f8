package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"stagehand/internal/codec"
	"stagehand/internal/event"
	"stagehand/internal/group"
	"stagehand/internal/metrics"
	"stagehand/internal/repository"
	"stagehand/internal/state"
)

// ErrMemberNotFound reports an operation on an id with no live member
var ErrMemberNotFound = errors.New("member not found")

// RoomOption configures a Room
type RoomOption func(*Room)

// WithRepository persists the room's frames to repo
func WithRepository(repo repository.Repository) RoomOption {
	return func(r *Room) {
		r.repo = repo
	}
}

// WithEventBus publishes frames and member events on bus
func WithEventBus(bus *EventBus) RoomOption {
	return func(r *Room) {
		r.bus = bus
	}
}

// WithLogger sets the room logger
func WithLogger(log *zap.Logger) RoomOption {
	return func(r *Room) {
		if log != nil {
			r.log = log
		}
	}
}

// WithMemberConstructor runs fn for every member the room's group mints
func WithMemberConstructor(fn group.Constructor) RoomOption {
	return func(r *Room) {
		r.ctor = fn
	}
}

// Room owns one authoritative group. Writes are staged on members and
// reach peers as one update frame per Commit. A Room is safe for
// concurrent use.
type Room struct {
	mu    sync.Mutex
	name  string
	group *group.Group
	seq   uint64
	// seq of the last saved snapshot; persisted is false until one exists
	persistedSeq uint64
	persisted    bool

	repo repository.Repository
	bus  *EventBus
	ctor group.Constructor
	log  *zap.Logger
}

// NewRoom creates a room seeded with members and initializes its group
func NewRoom(name string, seed map[int]state.Record, opts ...RoomOption) (*Room, error) {
	r := &Room{
		name: name,
		log:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.With(zap.String("room", name))

	groupOpts := []group.Option{group.WithLogger(r.log)}
	if r.ctor != nil {
		groupOpts = append(groupOpts, group.WithConstructor(r.ctor))
	}
	r.group = group.New(seed, groupOpts...)
	if err := r.group.Init(); err != nil {
		return nil, fmt.Errorf("init room %s: %w", name, err)
	}

	r.group.OnMember(group.EventDidAddMember, func(ev event.Event[group.EventKind, group.MemberChange]) {
		r.publish(EventMemberAdded, MemberEvent{ID: ev.Payload.ID})
	})
	r.group.OnMember(group.EventDidRemoveMember, func(ev event.Event[group.EventKind, group.MemberChange]) {
		r.publish(EventMemberRemoved, MemberEvent{ID: ev.Payload.ID})
	})

	metrics.Members.WithLabelValues(name).Set(float64(r.group.Len()))
	return r, nil
}

func (r *Room) publish(t EventType, payload any) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(Event{Type: t, Room: r.name, Payload: payload})
}

// Name returns the room name
func (r *Room) Name() string {
	return r.name
}

// Seq returns the sequence number of the last committed frame
func (r *Room) Seq() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seq
}

// Snapshot returns the committed data as a snapshot frame
func (r *Room) Snapshot() (*codec.Frame, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Room) snapshotLocked() (*codec.Frame, error) {
	data := r.group.GetData()
	digest, err := codec.Fingerprint(data)
	if err != nil {
		return nil, err
	}
	return &codec.Frame{
		ID:     codec.NewFrameID(),
		Kind:   codec.FrameSnapshot,
		Room:   r.name,
		Seq:    r.seq,
		Data:   data,
		Digest: digest,
		Time:   time.Now(),
	}, nil
}

// Members returns the committed data of every member. Members created
// or removed since the last commit are reported as they were.
func (r *Room) Members() map[int]state.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.group.Records()
}

// Member returns the committed data of one member
func (r *Room) Member(id int) (state.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, ok := r.group.Records()[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrMemberNotFound, id)
	}
	return data, nil
}

func (r *Room) member(id int) (*group.Member, error) {
	m, err := r.group.Get(id)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("%w: %d", ErrMemberNotFound, id)
	}
	return m, nil
}

// Export returns the committed members as a seed
func (r *Room) Export() *codec.Seed {
	return &codec.Seed{Members: r.Members()}
}

// Pending returns the update the next Commit would send, or nil
func (r *Room) Pending() state.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.group.PendingUpdate()
}

// CreateMember stages a new member under the next free id
func (r *Room) CreateMember(data state.Record) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, err := r.group.New(data)
	if err != nil {
		return 0, err
	}
	return m.ID(), nil
}

// MintMember stages a new member under id
func (r *Room) MintMember(id int, data state.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.group.Mint(id, data)
	return err
}

// StageMember stages property writes on a member. A nil value deletes the
// property, as in a JSON merge patch.
func (r *Room) StageMember(id int, patch state.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, err := r.member(id)
	if err != nil {
		return err
	}
	for _, k := range patch.Keys() {
		v := patch[k]
		if v == nil {
			err = m.Data().Delete(k)
		} else {
			err = m.Data().Set(k, v)
		}
		if err != nil {
			return fmt.Errorf("member %d: %w", id, err)
		}
	}
	return nil
}

// DeleteMember stages the removal of a member
func (r *Room) DeleteMember(id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, err := r.member(id)
	if err != nil {
		return err
	}
	return m.Destroy()
}

// Discard drops every staged edit
func (r *Room) Discard() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.group.Drop()
}

// Commit applies staged edits and returns the update frame sent to peers,
// or nil when nothing changed. The frame is published on the event bus and
// appended to the journal.
func (r *Room) Commit(ctx context.Context) (*codec.Frame, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.commitLocked(ctx)
}

func (r *Room) commitLocked(ctx context.Context) (*codec.Frame, error) {
	start := time.Now()

	summary := r.group.Summary()
	update := r.group.GetUpdate()
	if update == nil {
		return nil, nil
	}
	r.group.Apply()
	r.seq++

	digest, err := codec.Fingerprint(r.group.GetData())
	if err != nil {
		return nil, err
	}
	frame := &codec.Frame{
		ID:     codec.NewFrameID(),
		Kind:   codec.FrameUpdate,
		Room:   r.name,
		Seq:    r.seq,
		Data:   update,
		Digest: digest,
		Time:   start,
	}

	metrics.Commits.WithLabelValues(r.name).Inc()
	metrics.CommittedProps.WithLabelValues(r.name, "add").Add(float64(len(summary.Add)))
	metrics.CommittedProps.WithLabelValues(r.name, "update").Add(float64(len(summary.Update)))
	metrics.CommittedProps.WithLabelValues(r.name, "remove").Add(float64(len(summary.Remove)))
	metrics.Members.WithLabelValues(r.name).Set(float64(r.group.Len()))

	if r.repo != nil {
		// peers already depend on this frame; a failed journal write only
		// widens the window a restart can lose
		if err := r.repo.AppendJournal(ctx, frame); err != nil {
			r.log.Error("failed to journal frame", zap.Uint64("seq", frame.Seq), zap.Error(err))
		}
	}
	r.publish(EventFrame, frame)

	metrics.CommitDuration.WithLabelValues(r.name).Observe(time.Since(start).Seconds())
	r.log.Debug("committed",
		zap.Uint64("seq", frame.Seq),
		zap.Strings("add", summary.Add),
		zap.Strings("update", summary.Update),
		zap.Strings("remove", summary.Remove))
	return frame, nil
}

// Tick enters an update phase on every member, then commits whatever the
// phase handlers staged together with pending edits
func (r *Room) Tick(ctx context.Context, phase string) (*codec.Frame, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.group.Broadcast(phase, state.Record{
		"room": r.name,
		"seq":  int(r.seq),
		"time": time.Now().UnixMilli(),
	})
	return r.commitLocked(ctx)
}

// Reseed stages a full replacement of the members: ids missing from seed
// are removed, new ids are minted and existing members are rewritten.
// Staged edits on rewritten members are discarded. Nothing reaches peers
// until the next Commit.
func (r *Room) Reseed(seed *codec.Seed) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range r.group.IDs() {
		if _, ok := seed.Members[id]; ok {
			continue
		}
		if err := r.group.Remove(id); err != nil {
			return fmt.Errorf("reseed: %w", err)
		}
	}

	for _, id := range seed.IDs() {
		data := seed.Members[id]
		m, err := r.group.Get(id)
		if err != nil {
			return err
		}
		if m == nil {
			if _, err := r.group.Mint(id, data); err != nil {
				return fmt.Errorf("reseed: %w", err)
			}
			continue
		}
		if err := rewrite(m, data); err != nil {
			return fmt.Errorf("reseed member %d: %w", id, err)
		}
	}

	r.log.Info("room reseeded", zap.Int("members", len(seed.Members)))
	r.publish(EventRoomReseeded, nil)
	return nil
}

// rewrite stages data as the member's complete property set
func rewrite(m *group.Member, data state.Record) error {
	m.Drop()
	for _, k := range m.GetData().Keys() {
		if _, ok := data[k]; ok {
			continue
		}
		if err := m.Data().Delete(k); err != nil {
			return err
		}
	}
	for _, k := range data.Keys() {
		if err := m.Data().Set(k, data[k]); err != nil {
			return err
		}
	}
	return nil
}

// Restore loads the room's snapshot and replays its journal. Staged edits
// are discarded. A room with nothing stored keeps its seed data.
func (r *Room) Restore(ctx context.Context) error {
	if r.repo == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	snap, err := r.repo.LoadSnapshot(ctx, r.name)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		r.log.Info("no stored snapshot, keeping seed data")
	case err != nil:
		return fmt.Errorf("restore %s: %w", r.name, err)
	default:
		if err := r.reconcile(snap.Data); err != nil {
			return fmt.Errorf("restore %s snapshot: %w", r.name, err)
		}
		r.seq = snap.Seq
		r.persistedSeq = snap.Seq
		r.persisted = true
		r.verify(snap)
	}

	frames, err := r.repo.Journal(ctx, r.name, r.seq, 0)
	if err != nil {
		return fmt.Errorf("restore %s: %w", r.name, err)
	}
	replayed := 0
	for _, f := range frames {
		if f.Seq != r.seq+1 {
			r.log.Warn("journal gap, stopping replay",
				zap.Uint64("want", r.seq+1), zap.Uint64("got", f.Seq))
			break
		}
		if err := r.reconcile(f.Data); err != nil {
			return fmt.Errorf("restore %s frame %d: %w", r.name, f.Seq, err)
		}
		r.seq = f.Seq
		r.verify(f)
		replayed++
	}

	metrics.Members.WithLabelValues(r.name).Set(float64(r.group.Len()))
	r.log.Info("room restored",
		zap.Uint64("seq", r.seq),
		zap.Int("replayed", replayed),
		zap.Int("members", r.group.Len()))
	r.publish(EventRoomRestored, r.seq)
	return nil
}

// reconcile brings current data to payload and realigns staged with it
func (r *Room) reconcile(payload state.Record) error {
	r.group.Drop()
	if _, err := r.group.SetUpdate(payload); err != nil {
		return err
	}
	r.group.Drop()
	return nil
}

func (r *Room) verify(f *codec.Frame) {
	if f.Digest == "" {
		return
	}
	digest, err := codec.Fingerprint(r.group.GetData())
	if err != nil || digest != f.Digest {
		r.log.Warn("restored data does not match stored digest", zap.Uint64("seq", f.Seq))
	}
}

// Persist saves a snapshot and trims the journal entries it covers. It
// does nothing when the last saved snapshot is current.
func (r *Room) Persist(ctx context.Context) error {
	if r.repo == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.persisted && r.persistedSeq == r.seq {
		return nil
	}
	snap, err := r.snapshotLocked()
	if err != nil {
		return err
	}
	if err := r.repo.SaveSnapshot(ctx, snap); err != nil {
		return err
	}
	trimmed, err := r.repo.TrimJournal(ctx, r.name, snap.Seq)
	if err != nil {
		return err
	}
	r.persistedSeq = snap.Seq
	r.persisted = true
	r.log.Debug("room persisted", zap.Uint64("seq", snap.Seq), zap.Int64("trimmed", trimmed))
	return nil
}
