package service

import "sync"

// EventType defines the type of event
type EventType string

const (
	// EventFrame carries a committed update frame (*codec.Frame)
	EventFrame EventType = "frame"
	// EventMemberAdded carries a MemberEvent
	EventMemberAdded EventType = "member_added"
	// EventMemberRemoved carries a MemberEvent
	EventMemberRemoved EventType = "member_removed"
	// EventRoomRestored carries the restored sequence number
	EventRoomRestored EventType = "room_restored"
	// EventRoomReseeded fires after a seed file replaced the room's members
	EventRoomReseeded EventType = "room_reseeded"
)

// Event represents an event that occurred in a room
type Event struct {
	Type    EventType `json:"type"`
	Room    string    `json:"room"`
	Payload any       `json:"payload,omitempty"`
}

// MemberEvent is the payload of member events
type MemberEvent struct {
	ID int `json:"id"`
}

// EventBus allows publishing and subscribing to events
type EventBus struct {
	mu          sync.RWMutex
	subscribers []chan<- Event
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make([]chan<- Event, 0),
	}
}

// Subscribe adds a subscriber to receive events
func (eb *EventBus) Subscribe(ch chan<- Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.subscribers = append(eb.subscribers, ch)
}

// Unsubscribe removes a subscriber; the channel is not closed
func (eb *EventBus) Unsubscribe(ch chan<- Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	for i, sub := range eb.subscribers {
		if sub == ch {
			eb.subscribers = append(eb.subscribers[:i], eb.subscribers[i+1:]...)
			return
		}
	}
}

// Publish sends an event to all subscribers
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	for _, ch := range eb.subscribers {
		select {
		case ch <- event:
		default:
			// Subscriber is slow, skip
		}
	}
}
