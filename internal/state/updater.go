package state

// PhaseFunc is called when an updater enters an update phase
type PhaseFunc func(phase string, props Record)

// PhaseReceiver accepts forwarded update phases
type PhaseReceiver interface {
	Update(phase string, props Record)
}

// Updater is a Holder with an application-level broadcast channel: named
// update phases ("tick", "moved", ...) layered on top of property tracking.
type Updater struct {
	*Holder

	phaseHandlers map[string][]PhaseFunc
	allHandlers   []PhaseFunc
	phase         string
}

// NewUpdater creates an updater over a new holder
func NewUpdater(data Record, opts ...Option) *Updater {
	return &Updater{
		Holder:        NewHolder(data, opts...),
		phaseHandlers: make(map[string][]PhaseFunc),
	}
}

// Update runs the callbacks registered for phase, then the all-phase
// callbacks, then records phase as the current one.
func (u *Updater) Update(phase string, props Record) {
	// snapshots: callbacks may register more callbacks
	handlers := u.phaseHandlers[phase]
	all := u.allHandlers
	for _, fn := range handlers {
		fn(phase, props)
	}
	for _, fn := range all {
		fn(phase, props)
	}
	u.phase = phase
}

// Phase returns the last phase passed to Update
func (u *Updater) Phase() string {
	return u.phase
}

// OnUpdate registers fn for one phase
func (u *Updater) OnUpdate(phase string, fn PhaseFunc) {
	if u.phaseHandlers == nil {
		u.phaseHandlers = make(map[string][]PhaseFunc)
	}
	u.phaseHandlers[phase] = append(u.phaseHandlers[phase], fn)
}

// OnAllUpdate registers fn for every phase
func (u *Updater) OnAllUpdate(fn PhaseFunc) {
	u.allHandlers = append(u.allHandlers, fn)
}

// ForwardUpdate re-invokes target.Update whenever this updater enters phase
func (u *Updater) ForwardUpdate(phase string, target PhaseReceiver) {
	if target == nil || target == PhaseReceiver(u) {
		return
	}
	u.OnUpdate(phase, func(p string, props Record) {
		target.Update(p, props)
	})
}

// ForwardAllUpdate re-invokes target.Update for every phase
func (u *Updater) ForwardAllUpdate(target PhaseReceiver) {
	if target == nil || target == PhaseReceiver(u) {
		return
	}
	u.OnAllUpdate(func(p string, props Record) {
		target.Update(p, props)
	})
}
