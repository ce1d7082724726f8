package group

import (
	"fmt"

	"stagehand/internal/state"
)

// Member is one entity inside a Group. Members are only created by their
// group (Init, New, Mint and incoming updates); a Member built any other
// way fails with state.ErrIllegalConstruction.
type Member struct {
	*state.Updater

	id    int
	group *Group
	ready bool
}

// ID returns the member's id inside its group
func (m *Member) ID() int {
	return m.id
}

// Group returns the owning group. The group owns the member, not the
// other way around.
func (m *Member) Group() *Group {
	return m.group
}

// Init marks the member ready
func (m *Member) Init() error {
	if m.group == nil || m.Updater == nil {
		return fmt.Errorf("%w: member %d has no group", state.ErrIllegalConstruction, m.id)
	}
	if err := m.Holder.Init(); err != nil {
		return err
	}
	m.ready = true
	return nil
}

// Ready reports whether Init ran
func (m *Member) Ready() bool {
	return m.ready
}

// Destroy asks the group to remove this member. The removal reaches peers
// with the group's next update.
func (m *Member) Destroy() error {
	if m.group == nil || m.Updater == nil {
		return fmt.Errorf("%w: member %d has no group", state.ErrIllegalConstruction, m.id)
	}
	return m.group.release(m)
}
