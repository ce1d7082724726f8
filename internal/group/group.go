package group

import (
	"fmt"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"stagehand/internal/event"
	"stagehand/internal/state"
)

// Constructor customizes every member the group mints: on Init, on New and
// when an incoming update introduces an id. Returning an error aborts the
// mint.
type Constructor func(m *Member) error

// Option configures a Group
type Option func(*Group)

// WithConstructor sets the member constructor
func WithConstructor(fn Constructor) Option {
	return func(g *Group) {
		g.ctor = fn
	}
}

// WithLogger sets the group logger
func WithLogger(log *zap.Logger) Option {
	return func(g *Group) {
		if log != nil {
			g.log = log
		}
	}
}

// Group manages identically shaped members keyed by integer id. Its data is
// a mapping from decimal id to member data; each member is a child holder,
// so member changes roll up into the group's updates and an incoming group
// update creates, updates and destroys members.
type Group struct {
	*state.Updater

	members map[int]*Member
	// minted but not registered yet, and registered; keyed by holder
	byHolder map[*state.Holder]*Member
	cursor   int

	ctor        Constructor
	events      *event.Dispatcher[EventKind, MemberChange]
	log         *zap.Logger
	hooked      bool
	initialized bool
}

// New creates a group over initial member data. Nil entries are skipped.
// Members are minted by Init.
func New(data map[int]state.Record, opts ...Option) *Group {
	g := &Group{
		members:  make(map[int]*Member),
		byHolder: make(map[*state.Holder]*Member),
		events:   event.NewDispatcher[EventKind, MemberChange](),
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}

	records := make(state.Record, len(data))
	for id, d := range data {
		if d == nil || id < 0 {
			continue
		}
		records[Key(id)] = d
	}
	g.Updater = state.NewUpdater(records,
		state.WithChildCreator(g.spawn),
		state.WithLogger(g.log),
	)
	return g
}

// Key returns the property name a member id is stored under
func Key(id int) string {
	return strconv.Itoa(id)
}

// ParseKey is the inverse of Key
func ParseKey(key string) (int, error) {
	id, err := strconv.Atoi(key)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("%w: %q is not a member id", state.ErrInvalidOperation, key)
	}
	return id, nil
}

// Init mints a member for every initial entry, then initializes each one.
func (g *Group) Init() error {
	if g.initialized {
		return nil
	}

	// member bookkeeping follows the holder's child events; a retried Init
	// must not subscribe twice
	if !g.hooked {
		g.Updater.On(state.EventWillSetChild, g.onWillSetChild)
		g.Updater.On(state.EventDidSetChild, g.onDidSetChild)
		g.Updater.On(state.EventWillRemoveChild, g.onWillRemoveChild)
		g.Updater.On(state.EventDidRemoveChild, g.onDidRemoveChild)
		g.hooked = true
	}

	if err := g.Holder.Init(); err != nil {
		return err
	}
	for _, m := range g.sorted() {
		if err := m.Init(); err != nil {
			return fmt.Errorf("init member %d: %w", m.id, err)
		}
	}

	g.Updater.OnAllUpdate(func(phase string, props state.Record) {
		for _, m := range g.sorted() {
			m.Update(phase, props)
		}
	})

	g.initialized = true
	g.log.Debug("group initialized", zap.Int("members", len(g.members)))
	return nil
}

// Initialized reports whether Init ran
func (g *Group) Initialized() bool {
	return g.initialized
}

// Data returns a read-only view of the group's data. Member data changes
// through Mint, New and Member.Destroy, or through the member's own Data.
func (g *Group) Data() state.Accessor {
	return readOnly{g.Updater.Data()}
}

type readOnly struct {
	state.Accessor
}

func (readOnly) Set(property string, _ any) error {
	return fmt.Errorf("%w: group property %q is written through its member", state.ErrInvalidOperation, property)
}

func (readOnly) Delete(property string) error {
	return fmt.Errorf("%w: group property %q is removed through its member", state.ErrInvalidOperation, property)
}

// SetChild registers a member holder this group minted under its own id
func (g *Group) SetChild(property string, child *state.Holder) error {
	m, ok := g.byHolder[child]
	if !ok {
		return fmt.Errorf("%w: holder for %q was not minted by this group", state.ErrInvalidOperation, property)
	}
	if property != Key(m.id) {
		return fmt.Errorf("%w: member %d cannot be stored under %q", state.ErrInvalidOperation, m.id, property)
	}
	return g.Updater.SetChild(property, child)
}

// RemoveChild unregisters a live member's holder
func (g *Group) RemoveChild(property string) error {
	if _, ok := g.byHolder[g.Child(property)]; !ok {
		return fmt.Errorf("%w: no member under %q", state.ErrInvalidOperation, property)
	}
	return g.Updater.RemoveChild(property)
}

// SetUpdate reconciles the group with a peer's update, then settles the
// member set. A member that fails to initialize is reported here.
func (g *Group) SetUpdate(payload state.Record) (state.ChangeSummary, error) {
	if err := g.validate(payload); err != nil {
		return state.ChangeSummary{}, err
	}
	s, err := g.Updater.SetUpdate(payload)
	if err != nil || !g.initialized {
		return s, err
	}
	if err := g.SetMemberUpdates(s); err != nil {
		return s, fmt.Errorf("reconcile members: %w", err)
	}
	return s, nil
}

// OnMember subscribes to a member lifecycle event
func (g *Group) OnMember(kind EventKind, fn event.Handler[EventKind, MemberChange]) event.Subscription {
	return g.events.On(kind, fn)
}

// OffMember removes a member event subscription
func (g *Group) OffMember(kind EventKind, sub event.Subscription) bool {
	return g.events.Off(kind, sub)
}

// spawn is the holder's child creator: every id that shows up in the
// group's data becomes a minted member
func (g *Group) spawn(property string, data state.Record) (*state.Holder, error) {
	id, err := ParseKey(property)
	if err != nil {
		return nil, err
	}
	m, err := g.mint(id, data)
	if err != nil {
		return nil, err
	}
	return m.Holder, nil
}

// mint constructs a member without registering it
func (g *Group) mint(id int, data state.Record) (*Member, error) {
	if id < 0 {
		return nil, fmt.Errorf("%w: negative member id %d", state.ErrInvalidOperation, id)
	}
	if _, ok := g.members[id]; ok {
		return nil, fmt.Errorf("%w: member %d", state.ErrDuplicateID, id)
	}

	m := &Member{
		Updater: state.NewUpdater(data, state.WithLogger(g.log.With(zap.Int("member", id)))),
		id:      id,
		group:   g,
	}
	if g.ctor != nil {
		if err := g.ctor(m); err != nil {
			m.Holder.Destroy()
			return nil, fmt.Errorf("construct member %d: %w", id, err)
		}
	}

	holder := m.Holder
	g.byHolder[holder] = m
	m.Holder.On(state.EventDidDestroy, func(event.Event[state.EventKind, state.Change]) {
		delete(g.byHolder, holder)
	})
	return m, nil
}

// Mint constructs, registers and initializes a member under id. The new
// member reaches peers with the group's next update. Minting a live id
// fails with state.ErrDuplicateID and leaves the existing member intact.
func (g *Group) Mint(id int, data state.Record) (*Member, error) {
	if !g.initialized {
		return nil, state.ErrNotInitialized
	}
	m, err := g.mint(id, data)
	if err != nil {
		return nil, err
	}
	if err := g.SetChild(Key(id), m.Holder); err != nil {
		m.Holder.Destroy()
		return nil, err
	}
	if err := m.Init(); err != nil {
		return nil, err
	}
	return m, nil
}

// New mints a member under the lowest unused id at or above the cursor
func (g *Group) New(data state.Record) (*Member, error) {
	if !g.initialized {
		return nil, state.ErrNotInitialized
	}
	return g.Mint(g.nextID(), data)
}

func (g *Group) nextID() int {
	for {
		id := g.cursor
		if _, live := g.members[id]; !live {
			// ids still committed in current data belong to a removed member
			// until the next Apply
			if _, committed := g.Data().Get(Key(id)); !committed {
				return id
			}
		}
		g.cursor++
	}
}

// Get returns the member under id, or nil
func (g *Group) Get(id int) (*Member, error) {
	if !g.initialized {
		return nil, state.ErrNotInitialized
	}
	return g.members[id], nil
}

// List returns the live members ordered by id
func (g *Group) List() ([]*Member, error) {
	if !g.initialized {
		return nil, state.ErrNotInitialized
	}
	return g.sorted(), nil
}

// IDs returns the live member ids in ascending order
func (g *Group) IDs() []int {
	ids := make([]int, 0, len(g.members))
	for id := range g.members {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Len returns the number of live members
func (g *Group) Len() int {
	return len(g.members)
}

func (g *Group) sorted() []*Member {
	list := make([]*Member, 0, len(g.members))
	for _, id := range g.IDs() {
		list = append(list, g.members[id])
	}
	return list
}

// Records returns the committed data keyed by member id. Members staged
// for creation are absent; members staged for removal are still present.
func (g *Group) Records() map[int]state.Record {
	out := make(map[int]state.Record)
	for key, v := range g.GetData() {
		id, err := ParseKey(key)
		if err != nil {
			continue
		}
		if data, ok := state.AsRecord(v); ok {
			out[id] = data
		}
	}
	return out
}

// Remove asks the member under id to destroy itself
func (g *Group) Remove(id int) error {
	if !g.initialized {
		return state.ErrNotInitialized
	}
	m, ok := g.members[id]
	if !ok {
		return fmt.Errorf("%w: no member %d", state.ErrInvalidOperation, id)
	}
	return m.Destroy()
}

func (g *Group) release(m *Member) error {
	if g.members[m.id] != m {
		return fmt.Errorf("%w: member %d is not live", state.ErrInvalidOperation, m.id)
	}
	return g.RemoveChild(Key(m.id))
}

// validate checks that every payload key is a member id carrying member
// data, or nil for a member that already exists
func (g *Group) validate(payload state.Record) error {
	current := g.Updater.Data()
	for _, key := range payload.Keys() {
		if _, err := ParseKey(key); err != nil {
			return err
		}
		v := payload[key]
		if v == nil {
			if _, ok := current.Get(key); !ok {
				return fmt.Errorf("%w: unchanged marker for unknown member %s", state.ErrInvalidOperation, key)
			}
			continue
		}
		if _, ok := state.AsRecord(v); !ok {
			return fmt.Errorf("%w: member %s data is %T, not a record", state.ErrInvalidOperation, key, v)
		}
	}
	return nil
}

// GetMemberUpdates returns every live member's pending update; a member
// with nothing pending maps to nil. The group's GetUpdate embeds exactly
// these values under each member's key.
func (g *Group) GetMemberUpdates() map[int]state.Record {
	updates := make(map[int]state.Record, len(g.members))
	for id, m := range g.members {
		updates[id] = m.PendingUpdate()
	}
	return updates
}

// SetMemberUpdates settles the member set after the group reconciled an
// incoming update. The holder has already minted members for added ids,
// forwarded nested payloads to updated ones and detached removed ones;
// this initializes the newcomers and checks the live set against the
// summary.
func (g *Group) SetMemberUpdates(summary state.ChangeSummary) error {
	for _, key := range summary.Add {
		id, err := ParseKey(key)
		if err != nil {
			return err
		}
		m, ok := g.members[id]
		if !ok {
			return fmt.Errorf("%w: added member %d was not minted", state.ErrInvalidOperation, id)
		}
		if !m.Ready() {
			if err := m.Init(); err != nil {
				return fmt.Errorf("init member %d: %w", id, err)
			}
		}
	}
	for _, key := range summary.Update {
		id, err := ParseKey(key)
		if err != nil {
			return err
		}
		if m, ok := g.members[id]; ok && !m.Ready() {
			if err := m.Init(); err != nil {
				return fmt.Errorf("init member %d: %w", id, err)
			}
		}
	}
	for _, key := range summary.Remove {
		id, err := ParseKey(key)
		if err != nil {
			return err
		}
		if m, ok := g.members[id]; ok {
			g.log.Warn("removed member still live, destroying", zap.Int("id", id))
			if err := m.Destroy(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (g *Group) memberFor(c state.Change) (int, *Member, bool) {
	id, err := ParseKey(c.Property)
	if err != nil {
		return 0, nil, false
	}
	m, ok := g.byHolder[c.Child]
	return id, m, ok
}

func (g *Group) onWillSetChild(ev event.Event[state.EventKind, state.Change]) {
	if id, m, ok := g.memberFor(ev.Payload); ok {
		g.events.Emit(EventWillAddMember, MemberChange{ID: id, Member: m})
	}
}

func (g *Group) onDidSetChild(ev event.Event[state.EventKind, state.Change]) {
	id, m, ok := g.memberFor(ev.Payload)
	if !ok {
		return
	}
	g.members[id] = m
	g.log.Debug("member added", zap.Int("id", id))
	g.events.Emit(EventDidAddMember, MemberChange{ID: id, Member: m})
}

func (g *Group) onWillRemoveChild(ev event.Event[state.EventKind, state.Change]) {
	if id, m, ok := g.memberFor(ev.Payload); ok {
		g.events.Emit(EventWillRemoveMember, MemberChange{ID: id, Member: m})
	}
}

func (g *Group) onDidRemoveChild(ev event.Event[state.EventKind, state.Change]) {
	id, err := ParseKey(ev.Payload.Property)
	if err != nil {
		return
	}
	m, ok := g.members[id]
	if !ok || m.Holder != ev.Payload.Child {
		return
	}
	delete(g.members, id)
	g.log.Debug("member removed", zap.Int("id", id))
	g.events.Emit(EventDidRemoveMember, MemberChange{ID: id, Member: m})
}

// Broadcast enters an update phase on the group and every member
func (g *Group) Broadcast(phase string, props state.Record) {
	g.Update(phase, props)
}
