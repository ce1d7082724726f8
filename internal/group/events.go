package group

// EventKind identifies a member lifecycle transition
type EventKind int

const (
	// EventWillAddMember fires before a member joins the live set
	EventWillAddMember EventKind = iota
	// EventDidAddMember fires after a member joined the live set
	EventDidAddMember
	// EventWillRemoveMember fires before a member leaves the live set
	EventWillRemoveMember
	// EventDidRemoveMember fires after a member left the live set
	EventDidRemoveMember
)

func (k EventKind) String() string {
	switch k {
	case EventWillAddMember:
		return "will_add_member"
	case EventDidAddMember:
		return "did_add_member"
	case EventWillRemoveMember:
		return "will_remove_member"
	case EventDidRemoveMember:
		return "did_remove_member"
	}
	return "unknown"
}

// MemberChange is the payload of every member event
type MemberChange struct {
	ID     int
	Member *Member
}
