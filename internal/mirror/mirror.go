// Package mirror keeps a read-only copy of a remote room. Frames received
// from the server are reconciled into a local group, so the mirror's member
// events fire as members come and go upstream.
package mirror

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"stagehand/internal/codec"
	"stagehand/internal/event"
	"stagehand/internal/group"
	"stagehand/internal/state"
)

// ErrDiverged means the mirror can no longer follow updates and needs a
// fresh snapshot
var ErrDiverged = errors.New("mirror: diverged")

// Option configures a Mirror
type Option func(*options)

type options struct {
	log  *zap.Logger
	ctor group.Constructor
}

// WithLogger sets the mirror logger
func WithLogger(log *zap.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

// WithConstructor runs fn for every member the mirror mints
func WithConstructor(fn group.Constructor) Option {
	return func(o *options) {
		o.ctor = fn
	}
}

// Mirror follows one room. It is safe for concurrent use.
type Mirror struct {
	mu     sync.Mutex
	room   string
	group  *group.Group
	seq    uint64
	synced bool
	log    *zap.Logger
}

// New creates an empty mirror of room. An empty room name accepts frames
// from any room.
func New(room string, opts ...Option) (*Mirror, error) {
	o := &options{log: zap.NewNop()}
	for _, opt := range opts {
		opt(o)
	}
	log := o.log.Named("mirror")

	groupOpts := []group.Option{group.WithLogger(log)}
	if o.ctor != nil {
		groupOpts = append(groupOpts, group.WithConstructor(o.ctor))
	}
	g := group.New(nil, groupOpts...)
	if err := g.Init(); err != nil {
		return nil, err
	}
	return &Mirror{room: room, group: g, log: log}, nil
}

// OnMember subscribes to member events of the mirrored group. Handlers run
// while the mirror is locked and must not call back into it.
func (m *Mirror) OnMember(kind group.EventKind, fn event.Handler[group.EventKind, group.MemberChange]) event.Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.group.OnMember(kind, fn)
}

// Seq returns the sequence number of the last frame applied
func (m *Mirror) Seq() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seq
}

// Synced reports whether the mirror holds a snapshot it can build on
func (m *Mirror) Synced() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.synced
}

// Members returns the mirrored data keyed by member id
func (m *Mirror) Members() map[int]state.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.group.Records()
}

// Apply reconciles one frame. A snapshot replaces the mirrored data; an
// update must follow the last applied frame. Updates already covered are
// skipped, and updates received before the first snapshot are ignored. A
// sequence gap or a digest mismatch returns ErrDiverged; updates are then
// ignored until the next snapshot.
func (m *Mirror) Apply(f *codec.Frame) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.room != "" && f.Room != m.room {
		return fmt.Errorf("frame %s is for room %q, mirroring %q", f.ID, f.Room, m.room)
	}

	switch f.Kind {
	case codec.FrameSnapshot:
		if err := m.reconcile(f.Data); err != nil {
			return m.diverge("snapshot %d: %v", f.Seq, err)
		}
		m.seq = f.Seq
		m.synced = true
		m.log.Debug("applied snapshot", zap.Uint64("seq", f.Seq), zap.Int("members", m.group.Len()))

	case codec.FrameUpdate:
		if !m.synced {
			m.log.Debug("waiting for a snapshot", zap.Uint64("seq", f.Seq))
			return nil
		}
		if f.Seq <= m.seq {
			return nil
		}
		if f.Seq != m.seq+1 {
			return m.diverge("expected seq %d, got %d", m.seq+1, f.Seq)
		}
		if err := m.reconcile(f.Data); err != nil {
			return m.diverge("update %d: %v", f.Seq, err)
		}
		m.seq = f.Seq

	default:
		return fmt.Errorf("frame %s: unknown kind %q", f.ID, f.Kind)
	}

	return m.verify(f)
}

// reconcile moves current data to payload and realigns staged with it
func (m *Mirror) reconcile(payload state.Record) error {
	if payload == nil {
		return nil
	}
	if _, err := m.group.SetUpdate(payload); err != nil {
		return err
	}
	m.group.Drop()
	return nil
}

func (m *Mirror) verify(f *codec.Frame) error {
	if f.Digest == "" {
		return nil
	}
	digest, err := codec.Fingerprint(m.group.GetData())
	if err != nil {
		return err
	}
	if digest != f.Digest {
		return m.diverge("digest mismatch at seq %d", f.Seq)
	}
	return nil
}

func (m *Mirror) diverge(format string, args ...any) error {
	m.synced = false
	err := fmt.Errorf("%w: "+format, append([]any{ErrDiverged}, args...)...)
	m.log.Warn("mirror diverged", zap.Error(err))
	return err
}
