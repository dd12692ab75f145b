package voice

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicemesh/internal/domain"
)

type EventType string

const (
	EventState    EventType = "state"
	EventRoster   EventType = "roster"
	EventLink     EventType = "link"
	EventSpeaking EventType = "speaking"
	EventMute     EventType = "mute"
	EventDeafen   EventType = "deafen"
)

// Event is a local notification for whatever renders the coordinator.
type Event struct {
	Type         EventType            `json:"type"`
	State        string               `json:"state,omitempty"`
	Session      domain.SessionID     `json:"session_id,omitempty"`
	Remote       domain.UserID        `json:"remote,omitempty"`
	Link         string               `json:"link,omitempty"`
	Speaking     *bool                `json:"speaking,omitempty"`
	Muted        *bool                `json:"muted,omitempty"`
	Deafened     *bool                `json:"deafened,omitempty"`
	Participants []domain.Participant `json:"participants,omitempty"`
}

const subscriptionBuffer = 32

type Subscription struct {
	C <-chan Event

	ch chan Event
	n  *notifier
}

// Close detaches the subscription and closes C.
func (s *Subscription) Close() {
	s.n.remove(s)
}

type notifier struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

func newNotifier() *notifier {
	return &notifier{subs: make(map[*Subscription]struct{})}
}

func (n *notifier) add() *Subscription {
	ch := make(chan Event, subscriptionBuffer)
	s := &Subscription{C: ch, ch: ch, n: n}
	n.mu.Lock()
	n.subs[s] = struct{}{}
	n.mu.Unlock()
	return s
}

func (n *notifier) remove(s *Subscription) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.subs[s]; ok {
		delete(n.subs, s)
		close(s.ch)
	}
}

// publish never blocks; slow subscribers lose events.
func (n *notifier) publish(ev Event) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for s := range n.subs {
		select {
		case s.ch <- ev:
		default:
			log.Warn().Str("module", "voice").Str("event", string(ev.Type)).Msg("subscriber lagging, event dropped")
		}
	}
}

// Subscribe streams local state changes until the subscription is closed.
func (c *Coordinator) Subscribe() *Subscription {
	return c.events.add()
}
