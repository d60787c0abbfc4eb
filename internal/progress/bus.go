// Package progress is an in-process event bus for deck build progress.
// Publishers never block: slow subscribers see the latest state of each
// event kind rather than an unbounded backlog.
package progress

import (
	"sync"

	"github.com/google/uuid"
)

// Kind classifies a progress event.
type Kind string

const (
	KindLoading         Kind = "loading"
	KindRenderingImages Kind = "rendering_images"
	KindSavingPages     Kind = "saving_pages"
	KindComplete        Kind = "complete"
	KindError           Kind = "error"
)

// Terminal reports whether no further events follow this kind.
func (k Kind) Terminal() bool {
	return k == KindComplete || k == KindError
}

// Event is one progress update for a deck build. Done and Total are only
// meaningful for the counting kinds; Message only for errors.
type Event struct {
	DeckID  uuid.UUID
	Kind    Kind
	Done    int
	Total   int
	Message string
}

// Bus fans progress events out to subscribers. The zero value is not
// usable; create one with NewBus.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]*Subscription
	nextID int
	// last remembers the most recent event per deck so late subscribers
	// start with the current state instead of silence.
	last map[uuid.UUID]Event
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[int]*Subscription),
		last: make(map[uuid.UUID]Event),
	}
}

// Publish delivers an event to all matching subscribers. It never blocks:
// an event of a kind still pending for a subscriber replaces that pending
// event in place, keeping per-kind order.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	b.last[ev.DeckID] = ev
	subs := make([]*Subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.deckID == uuid.Nil || sub.deckID == ev.DeckID {
			subs = append(subs, sub)
		}
	}
	b.mu.Unlock()

	for _, sub := range subs {
		sub.offer(ev)
	}
}

// Forget drops the cached last event for a deck, once its build record is
// gone.
func (b *Bus) Forget(deckID uuid.UUID) {
	b.mu.Lock()
	delete(b.last, deckID)
	b.mu.Unlock()
}

// Last returns the most recent event published for a deck.
func (b *Bus) Last(deckID uuid.UUID) (Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ev, ok := b.last[deckID]
	return ev, ok
}

// Subscribe starts receiving events for one deck, or for all decks when
// deckID is uuid.Nil. If the deck already has a published event, it is
// delivered first. Callers must Close the subscription.
func (b *Bus) Subscribe(deckID uuid.UUID) *Subscription {
	sub := &Subscription{
		deckID: deckID,
		ch:     make(chan Event),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		kinds:  make(map[kindKey]int),
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	sub.cancel = func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
	last, hasLast := b.last[deckID]
	b.mu.Unlock()

	go sub.pump()
	if hasLast && deckID != uuid.Nil {
		sub.offer(last)
	}
	return sub
}

type kindKey struct {
	deckID uuid.UUID
	kind   Kind
}

// Subscription is one subscriber's view of the bus.
type Subscription struct {
	deckID uuid.UUID
	ch     chan Event
	cancel func()

	mu      sync.Mutex
	pending []Event
	kinds   map[kindKey]int
	closed  bool
	wake    chan struct{}
	done    chan struct{}
}

// Events returns the subscriber's channel. It closes after Close.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Close detaches from the bus and closes the event channel.
func (s *Subscription) Close() {
	s.cancel()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	close(s.done)
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// offer queues an event, coalescing onto a pending event of the same deck
// and kind.
func (s *Subscription) offer(ev Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	key := kindKey{deckID: ev.DeckID, kind: ev.Kind}
	if idx, ok := s.kinds[key]; ok {
		s.pending[idx] = ev
		s.mu.Unlock()
		return
	}
	s.kinds[key] = len(s.pending)
	s.pending = append(s.pending, ev)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// pump moves pending events onto the channel in arrival order.
func (s *Subscription) pump() {
	for {
		s.mu.Lock()
		if len(s.pending) == 0 {
			if s.closed {
				s.mu.Unlock()
				close(s.ch)
				return
			}
			s.mu.Unlock()
			<-s.wake
			continue
		}
		ev := s.pending[0]
		s.pending = s.pending[1:]
		for key, idx := range s.kinds {
			if idx == 0 {
				delete(s.kinds, key)
			} else {
				s.kinds[key] = idx - 1
			}
		}
		s.mu.Unlock()
		select {
		case s.ch <- ev:
		case <-s.done:
			close(s.ch)
			return
		}
	}
}
