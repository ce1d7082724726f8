package state

import "fmt"

// Accessor is the read/write handle over a holder's data. Reads return
// current values, writes land in staged.
type Accessor interface {
	// Get returns a copy of the current value of property
	Get(property string) (any, bool)
	// Set stages a new value for property
	Set(property string, value any) error
	// Delete stages the removal of property
	Delete(property string) error
}

type view struct {
	h *Holder
}

func (v *view) Get(property string) (any, bool) {
	val, ok := v.h.current[property]
	if !ok {
		return nil, false
	}
	if isSlot(val) {
		child := v.h.committedChild(property)
		if child == nil {
			return nil, false
		}
		return child.GetData(), true
	}
	return Clone(val), true
}

func (v *view) Set(property string, value any) error {
	if err := v.writable(property); err != nil {
		return err
	}
	v.h.staged[property] = Clone(value)
	v.h.invalidate()
	return nil
}

func (v *view) Delete(property string) error {
	if err := v.writable(property); err != nil {
		return err
	}
	if _, ok := v.h.staged[property]; !ok {
		return nil
	}
	delete(v.h.staged, property)
	v.h.invalidate()
	return nil
}

func (v *view) writable(property string) error {
	if _, ok := v.h.children[property]; ok {
		return fmt.Errorf("%w: %q is managed by a child holder", ErrInvalidOperation, property)
	}
	return nil
}
