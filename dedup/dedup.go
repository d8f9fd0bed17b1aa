package dedup

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"felicad/card"
	"felicad/port"
)

// Action is the engine's verdict on one read.
type Action int

const (
	// Notify means the read is a new touch and must be dispatched.
	Notify Action = iota
	// SuppressWithSecondarySound means the card is still in the field:
	// play the "again" cue, send nothing.
	SuppressWithSecondarySound
	// SuppressSilently drops the read without feedback.
	SuppressSilently
)

func (a Action) String() string {
	switch a {
	case Notify:
		return "notify"
	case SuppressWithSecondarySound:
		return "suppress+again"
	case SuppressSilently:
		return "suppress"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Kind is the dedup state of a key.
type Kind int

const (
	FirstSeen Kind = iota + 1
	Repeated
)

// State is attached to a Key while its window is open.
type State struct {
	Kind Kind
	At   time.Time
}

// Key scopes deduplication: one card on one logical port.
type Key struct {
	Port port.Number
	Card string
}

func (k Key) String() string {
	return fmt.Sprintf("card:%d:%s", int(k.Port), k.Card)
}

// Store holds the dedup states shared by every backend.
type Store interface {
	// Swap removes the state for key, passes it (nil when absent) to
	// decide and stores the result (nothing when nil). The whole
	// sequence is one critical section per key.
	Swap(key Key, decide func(prev *State) *State) error

	// Sweep deletes states last touched at or before cutoff.
	Sweep(cutoff time.Time) (int, error)

	// Len returns the number of live states.
	Len() int

	Close() error
}

// Engine decides, for each read, whether it becomes a notification.
type Engine struct {
	store  Store
	policy Policy
	now    func() time.Time
	log    logrus.FieldLogger
}

// NewEngine creates an Engine over store.
func NewEngine(store Store, policy Policy, log logrus.FieldLogger) *Engine {
	return &Engine{
		store:  store,
		policy: policy,
		now:    time.Now,
		log:    log.WithField("component", "dedup"),
	}
}

// Policy returns the engine's port policy.
func (e *Engine) Policy() Policy {
	return e.policy
}

// Observe classifies one read of id on logical port n.
//
// Payment ports run the first/repeated state machine; every other port,
// including None, always notifies and keeps no state.
func (e *Engine) Observe(n port.Number, id card.ID) Action {
	if e.policy.Classify(n) != ClassPayment {
		return Notify
	}

	window := e.policy.Window
	action := Notify
	key := Key{Port: n, Card: card.HexUpper(id)}

	err := e.store.Swap(key, func(prev *State) *State {
		now := e.now()
		switch {
		case prev == nil || now.Sub(prev.At) >= window:
			action = Notify
			return &State{Kind: FirstSeen, At: now}
		case prev.Kind == FirstSeen || e.policy.RearmRepeat:
			action = SuppressWithSecondarySound
		default:
			action = SuppressSilently
		}
		return &State{Kind: Repeated, At: now}
	})
	if err != nil {
		// Losing a touch is worse than a duplicate the API can reject.
		e.log.WithError(err).WithField("key", key.String()).Error("Dedup store failed, notifying")
		return Notify
	}
	return action
}
