package state

// EventKind identifies a holder lifecycle transition
type EventKind int

const (
	// EventWillApply fires before staged data is committed
	// Payload: Summary of the pending commit
	EventWillApply EventKind = iota
	// EventDidApply fires after the commit settled
	EventDidApply

	// EventWillDrop fires before staged edits are discarded
	EventWillDrop
	// EventDidDrop fires after staged data was reset to current
	EventDidDrop

	// EventWillGetUpdate fires before an outgoing update is computed
	EventWillGetUpdate
	// EventDidGetUpdate carries the summary the update was built from
	EventDidGetUpdate

	// EventWillSetUpdate fires before an incoming update is reconciled
	EventWillSetUpdate
	// EventDidSetUpdate carries the summary of what the update changed
	EventDidSetUpdate

	// EventWillSetChild fires before a child is registered
	// Payload: Property, Child
	EventWillSetChild
	// EventDidSetChild fires after a child is registered
	EventDidSetChild

	// EventWillRemoveChild fires before a child is unregistered
	EventWillRemoveChild
	// EventDidRemoveChild fires after a child is unregistered
	EventDidRemoveChild

	// EventDidDestroy fires once when the holder is destroyed
	EventDidDestroy
)

var eventNames = map[EventKind]string{
	EventWillApply:       "will_apply",
	EventDidApply:        "did_apply",
	EventWillDrop:        "will_drop",
	EventDidDrop:         "did_drop",
	EventWillGetUpdate:   "will_get_update",
	EventDidGetUpdate:    "did_get_update",
	EventWillSetUpdate:   "will_set_update",
	EventDidSetUpdate:    "did_set_update",
	EventWillSetChild:    "will_set_child",
	EventDidSetChild:     "did_set_child",
	EventWillRemoveChild: "will_remove_child",
	EventDidRemoveChild:  "did_remove_child",
	EventDidDestroy:      "did_destroy",
}

func (k EventKind) String() string {
	if name, ok := eventNames[k]; ok {
		return name
	}
	return "unknown"
}

// Change is the payload of every holder event
type Change struct {
	Holder   *Holder
	Summary  ChangeSummary
	Property string
	Child    *Holder
}
