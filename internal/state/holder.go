package state

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"stagehand/internal/event"
)

// ChildCreator decides whether a record-valued property becomes a nested
// holder. Returning a nil holder keeps the value flat.
type ChildCreator func(property string, data Record) (*Holder, error)

// Handler receives holder events
type Handler = event.Handler[EventKind, Change]

// Option configures a Holder
type Option func(*Holder)

// WithChildCreator sets the policy used by Init and SetUpdate to turn
// record-valued properties into child holders
func WithChildCreator(fn ChildCreator) Option {
	return func(h *Holder) {
		h.creator = fn
	}
}

// WithLogger sets the logger used for commit and reconciliation traces
func WithLogger(log *zap.Logger) Option {
	return func(h *Holder) {
		if log != nil {
			h.log = log
		}
	}
}

type changeCache struct {
	summary ChangeSummary
	changed map[string]bool
}

// Holder keeps one entity's data twice: current is authoritative and
// externally visible, staged receives local writes until Apply or Drop.
// Properties managed by a child hold a slot marker in both records.
//
// A Holder is not safe for concurrent use.
type Holder struct {
	current Record
	staged  Record

	// live children, the staged layer
	children map[string]*Holder
	// children removed from staged that current still references
	retired map[string]*Holder

	cache   *changeCache
	creator ChildCreator
	events  *event.Dispatcher[EventKind, Change]
	log     *zap.Logger

	initialized bool
	destroyed   bool
}

// NewHolder creates a holder whose current and staged data are independent
// deep copies of data. Children are created by Init.
func NewHolder(data Record, opts ...Option) *Holder {
	h := &Holder{
		current:  cloneRecord(data),
		children: make(map[string]*Holder),
		retired:  make(map[string]*Holder),
		events:   event.NewDispatcher[EventKind, Change](),
		log:      zap.NewNop(),
	}
	if h.current == nil {
		h.current = make(Record)
	}
	h.staged = cloneRecord(h.current)
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Init turns every record-valued property accepted by the child creator
// into a child holder. Calling it again is a no-op.
func (h *Holder) Init() error {
	if h.initialized {
		return nil
	}
	if h.creator != nil {
		for _, k := range h.current.Keys() {
			v := h.current[k]
			if isSlot(v) {
				continue
			}
			rec, ok := AsRecord(v)
			if !ok {
				continue
			}
			child, err := h.creator(k, cloneRecord(rec))
			if err != nil {
				return fmt.Errorf("create child %q: %w", k, err)
			}
			if child != nil {
				if err := h.adopt(k, child); err != nil {
					return err
				}
			}
		}
	}
	h.initialized = true
	return nil
}

// Initialized reports whether Init has run
func (h *Holder) Initialized() bool {
	return h.initialized
}

// On subscribes to a holder event
func (h *Holder) On(kind EventKind, fn Handler) event.Subscription {
	return h.events.On(kind, fn)
}

// Once subscribes to the next occurrence of a holder event
func (h *Holder) Once(kind EventKind, fn Handler) event.Subscription {
	return h.events.Once(kind, fn)
}

// Off removes a subscription
func (h *Holder) Off(kind EventKind, sub event.Subscription) bool {
	return h.events.Off(kind, sub)
}

func (h *Holder) emit(kind EventKind, c Change) {
	c.Holder = h
	h.events.Emit(kind, c)
}

// Data returns the read/write view: reads see current, writes land in staged
func (h *Holder) Data() Accessor {
	return &view{h: h}
}

// Child returns the live child registered under property, or nil
func (h *Holder) Child(property string) *Holder {
	return h.children[property]
}

// Children returns the sorted properties that have a live child
func (h *Holder) Children() []string {
	keys := make([]string, 0, len(h.children))
	for k := range h.children {
		keys = append(keys, k)
	}
	SortKeys(keys)
	return keys
}

// SetChild registers child under property in the staged layer. The peer
// learns about it from the next GetUpdate.
func (h *Holder) SetChild(property string, child *Holder) error {
	if child == nil || child == h {
		return fmt.Errorf("%w: bad child for %q", ErrInvalidOperation, property)
	}
	if _, ok := h.children[property]; ok {
		return fmt.Errorf("%w: child %q already registered", ErrInvalidOperation, property)
	}

	h.emit(EventWillSetChild, Change{Property: property, Child: child})
	h.children[property] = child
	h.staged[property] = slot
	h.invalidate()
	h.emit(EventDidSetChild, Change{Property: property, Child: child})
	return nil
}

// RemoveChild unregisters the child under property from the staged layer.
// A committed child is destroyed by the next Apply and restored by Drop.
func (h *Holder) RemoveChild(property string) error {
	child, ok := h.children[property]
	if !ok {
		return fmt.Errorf("%w: no child %q", ErrInvalidOperation, property)
	}
	h.unregister(property, child)
	return nil
}

func (h *Holder) unregister(property string, child *Holder) {
	h.emit(EventWillRemoveChild, Change{Property: property, Child: child})
	delete(h.children, property)
	delete(h.staged, property)
	if isSlot(h.current[property]) && h.retired[property] == nil {
		h.retired[property] = child
	} else {
		child.Destroy()
	}
	h.invalidate()
	h.emit(EventDidRemoveChild, Change{Property: property, Child: child})
}

// adopt initializes child and registers it in both layers; used when the
// child comes from initial data
func (h *Holder) adopt(property string, child *Holder) error {
	if child == h {
		return fmt.Errorf("%w: holder cannot adopt itself", ErrInvalidOperation)
	}
	if err := child.Init(); err != nil {
		return fmt.Errorf("init child %q: %w", property, err)
	}
	h.attach(property, child)
	return nil
}

// attach registers an initialized child in both layers, replacing any
// child already under property
func (h *Holder) attach(property string, child *Holder) {
	if old, ok := h.children[property]; ok {
		h.unregister(property, old)
	}
	if old, ok := h.retired[property]; ok {
		delete(h.retired, property)
		old.Destroy()
	}

	h.emit(EventWillSetChild, Change{Property: property, Child: child})
	h.children[property] = child
	h.current[property] = slot
	h.staged[property] = slot
	h.invalidate()
	h.emit(EventDidSetChild, Change{Property: property, Child: child})
}

// detach drops the committed child under property from both layers
func (h *Holder) detach(property string) {
	if old, ok := h.retired[property]; ok {
		delete(h.retired, property)
		old.Destroy()
		return
	}
	child, ok := h.children[property]
	if !ok {
		return
	}
	h.emit(EventWillRemoveChild, Change{Property: property, Child: child})
	delete(h.children, property)
	delete(h.staged, property)
	child.Destroy()
	h.emit(EventDidRemoveChild, Change{Property: property, Child: child})
}

// committedChild returns the child current refers to under property
func (h *Holder) committedChild(property string) *Holder {
	if old, ok := h.retired[property]; ok {
		return old
	}
	return h.children[property]
}

func (h *Holder) invalidate() {
	h.cache = nil
}

func (h *Holder) flat() *changeCache {
	if h.cache == nil {
		s := Compare(h.current, h.staged)
		changed := make(map[string]bool, len(s.Add)+len(s.Update)+len(s.Remove))
		for _, list := range [][]string{s.Add, s.Update, s.Remove} {
			for _, k := range list {
				changed[k] = true
			}
		}
		h.cache = &changeCache{summary: s, changed: changed}
	}
	return h.cache
}

// snapshot renders current or staged with every child slot replaced by
// that child's own snapshot of the same layer
func (h *Holder) snapshot(staged bool) Record {
	src := h.current
	if staged {
		src = h.staged
	}
	out := make(Record, len(src))
	for k, v := range src {
		if !isSlot(v) {
			out[k] = Clone(v)
			continue
		}
		child := h.children[k]
		if !staged {
			child = h.committedChild(k)
		}
		if child != nil {
			out[k] = child.snapshot(staged)
		}
	}
	return out
}

// GetData returns an independent deep copy of the externally visible state
func (h *Holder) GetData() Record {
	return h.snapshot(false)
}

// summarize compares current with staged including every child's pending
// update, and builds the matching payload
func (h *Holder) summarize(notify bool) (ChangeSummary, Record) {
	flat := h.flat().summary
	s := newSummary()
	payload := make(Record)

	stagedValue := func(k string) any {
		if isSlot(h.staged[k]) {
			return h.children[k].snapshot(true)
		}
		return Clone(h.staged[k])
	}

	for _, k := range flat.Add {
		s.Add = append(s.Add, k)
		payload[k] = stagedValue(k)
	}
	for _, k := range flat.Update {
		s.Update = append(s.Update, k)
		payload[k] = stagedValue(k)
	}
	s.Remove = append(s.Remove, flat.Remove...)

	for _, k := range flat.Unchanged {
		if !isSlot(h.staged[k]) {
			s.Unchanged = append(s.Unchanged, k)
			payload[k] = Clone(h.staged[k])
			continue
		}
		child := h.children[k]
		if _, replaced := h.retired[k]; replaced {
			s.Update = append(s.Update, k)
			payload[k] = child.snapshot(true)
			continue
		}
		var update Record
		if notify {
			update = child.GetUpdate()
		} else {
			update = child.PendingUpdate()
		}
		if update == nil {
			s.Unchanged = append(s.Unchanged, k)
			payload[k] = nil
		} else {
			s.Update = append(s.Update, k)
			payload[k] = update
		}
	}
	s.sort()
	return s, payload
}

// PendingUpdate returns what GetUpdate would return, without emitting events
func (h *Holder) PendingUpdate() Record {
	s, payload := h.summarize(false)
	if !s.IsChanged() {
		return nil
	}
	return payload
}

// IsChanged reports whether staged differs from current, children included
func (h *Holder) IsChanged() bool {
	s, _ := h.summarize(false)
	return s.IsChanged()
}

// IsPropertyChanged reports whether a single property has a pending change
func (h *Holder) IsPropertyChanged(property string) bool {
	if h.flat().changed[property] {
		return true
	}
	if isSlot(h.staged[property]) {
		if _, replaced := h.retired[property]; replaced {
			return true
		}
		return h.children[property].IsChanged()
	}
	return false
}

// Summary returns the pending change summary without emitting events
func (h *Holder) Summary() ChangeSummary {
	s, _ := h.summarize(false)
	return s
}

// GetUpdate returns the minimal payload that brings a peer's current data
// to this holder's staged data, or nil when nothing changed. Every defined
// staged property is present; removed properties are omitted, and an
// unchanged child appears as nil.
func (h *Holder) GetUpdate() Record {
	h.emit(EventWillGetUpdate, Change{})
	s, payload := h.summarize(true)
	h.emit(EventDidGetUpdate, Change{Summary: s.clone()})
	if !s.IsChanged() {
		return nil
	}
	return payload
}

// SetUpdate reconciles current data with a payload produced by a peer's
// GetUpdate. A nil payload is the no-op signal. Staged flat values are left
// alone so local in-flight edits survive; children the remote side adds or
// removes change both layers.
//
// Every child the payload needs, at any depth, is created and initialized
// before anything is written, so an error leaves the holder and its
// children as they were and emits no events.
func (h *Holder) SetUpdate(payload Record) (ChangeSummary, error) {
	if payload == nil {
		h.emit(EventWillSetUpdate, Change{})
		s := newSummary()
		h.emit(EventDidSetUpdate, Change{Summary: s})
		return s, nil
	}

	plan, err := h.prepare(payload)
	if err != nil {
		h.invalidate()
		return newSummary(), err
	}
	return h.reconcile(payload, plan), nil
}

// updatePlan holds the children a payload creates, per holder
type updatePlan struct {
	created map[string]*Holder
	nested  map[string]*updatePlan
}

func (p *updatePlan) discard() {
	for _, c := range p.created {
		c.Destroy()
	}
	for _, sub := range p.nested {
		sub.discard()
	}
}

// prepare runs every fallible step of a reconciliation without touching
// the holder: child creation, child Init and the same for nested payloads.
func (h *Holder) prepare(payload Record) (*updatePlan, error) {
	plan := &updatePlan{
		created: make(map[string]*Holder),
		nested:  make(map[string]*updatePlan),
	}
	fail := func(err error) (*updatePlan, error) {
		plan.discard()
		return nil, err
	}

	for _, k := range unionKeys(h.current, payload) {
		cur, inCur := h.current[k]
		val, inNext := payload[k]
		if !inNext || val == nil {
			continue
		}
		rec, ok := AsRecord(val)
		if !ok {
			continue
		}

		if isSlot(cur) {
			sub, err := h.committedChild(k).prepare(rec)
			if err != nil {
				return fail(fmt.Errorf("update child %q: %w", k, err))
			}
			plan.nested[k] = sub
			continue
		}

		if h.creator == nil || (inCur && Equal(cur, val)) {
			continue
		}
		child, err := h.creator(k, cloneRecord(rec))
		if err != nil {
			return fail(fmt.Errorf("create child %q: %w", k, err))
		}
		if child == nil {
			continue
		}
		if child == h {
			return fail(fmt.Errorf("%w: holder cannot adopt itself", ErrInvalidOperation))
		}
		plan.created[k] = child
		if err := child.Init(); err != nil {
			return fail(fmt.Errorf("init child %q: %w", k, err))
		}
	}
	return plan, nil
}

// reconcile writes a prepared payload; nothing in it can fail
func (h *Holder) reconcile(payload Record, plan *updatePlan) ChangeSummary {
	h.emit(EventWillSetUpdate, Change{})

	s := newSummary()
	for _, k := range unionKeys(h.current, payload) {
		cur, inCur := h.current[k]
		val, inNext := payload[k]

		if isSlot(cur) {
			switch {
			case !inNext:
				h.detach(k)
				delete(h.current, k)
				s.Remove = append(s.Remove, k)
			case val == nil:
				s.Unchanged = append(s.Unchanged, k)
			default:
				rec, ok := AsRecord(val)
				if !ok {
					h.detach(k)
					h.current[k] = Clone(val)
					s.Update = append(s.Update, k)
					continue
				}
				sub := plan.nested[k]
				if sub == nil {
					sub = &updatePlan{}
				}
				if h.committedChild(k).reconcile(rec, sub).IsChanged() {
					s.Update = append(s.Update, k)
				} else {
					s.Unchanged = append(s.Unchanged, k)
				}
			}
			continue
		}

		switch {
		case !inCur:
			s.Add = append(s.Add, k)
		case !inNext:
			s.Remove = append(s.Remove, k)
			delete(h.current, k)
			continue
		case Equal(cur, val):
			s.Unchanged = append(s.Unchanged, k)
			continue
		default:
			s.Update = append(s.Update, k)
		}

		if child, ok := plan.created[k]; ok {
			h.attach(k, child)
		} else {
			h.current[k] = Clone(val)
		}
	}
	h.invalidate()

	if s.IsChanged() {
		h.log.Debug("reconciled update",
			zap.Strings("add", s.Add),
			zap.Strings("update", s.Update),
			zap.Strings("remove", s.Remove))
	}
	h.emit(EventDidSetUpdate, Change{Summary: s.clone()})
	return s
}

// Apply commits staged data into current. Children are committed first.
// Does nothing when there is no pending change.
func (h *Holder) Apply() {
	s, _ := h.summarize(false)
	if !s.IsChanged() {
		return
	}

	h.emit(EventWillApply, Change{Summary: s.clone()})
	for _, k := range h.Children() {
		h.children[k].Apply()
	}
	for k, old := range h.retired {
		delete(h.retired, k)
		old.Destroy()
	}
	h.current = cloneRecord(h.staged)
	h.invalidate()

	h.log.Debug("applied staged data",
		zap.Strings("add", s.Add),
		zap.Strings("update", s.Update),
		zap.Strings("remove", s.Remove))
	h.emit(EventDidApply, Change{Summary: s})
}

// Drop discards staged edits. Children added since the last commit are
// destroyed, children removed since then are restored.
func (h *Holder) Drop() {
	s, _ := h.summarize(false)
	if !s.IsChanged() {
		return
	}

	h.emit(EventWillDrop, Change{Summary: s.clone()})
	for _, k := range h.Children() {
		child := h.children[k]
		if isSlot(h.current[k]) && h.retired[k] == nil {
			child.Drop()
			continue
		}
		h.emit(EventWillRemoveChild, Change{Property: k, Child: child})
		delete(h.children, k)
		child.Destroy()
		h.emit(EventDidRemoveChild, Change{Property: k, Child: child})
	}

	restored := make([]string, 0, len(h.retired))
	for k := range h.retired {
		restored = append(restored, k)
	}
	sort.Strings(restored)
	for _, k := range restored {
		child := h.retired[k]
		delete(h.retired, k)
		h.emit(EventWillSetChild, Change{Property: k, Child: child})
		h.children[k] = child
		child.Drop()
		h.emit(EventDidSetChild, Change{Property: k, Child: child})
	}

	h.staged = cloneRecord(h.current)
	h.invalidate()
	h.emit(EventDidDrop, Change{Summary: s})
}

// Destroy releases the holder and its children. Subscriptions are dropped
// after EventDidDestroy fires.
func (h *Holder) Destroy() {
	if h.destroyed {
		return
	}
	h.destroyed = true
	for _, child := range h.children {
		child.Destroy()
	}
	for _, child := range h.retired {
		child.Destroy()
	}
	h.emit(EventDidDestroy, Change{})
	h.events.Clear()
}

// Destroyed reports whether Destroy was called
func (h *Holder) Destroyed() bool {
	return h.destroyed
}
