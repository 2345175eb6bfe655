// Package session owns the single authoritative session epoch.
//
// The Store is the only writer of the current epoch. Every other component
// reads it through Current and learns about replacements through Subscribe.
// Notifications are delivered synchronously, in issue order, to every
// subscriber live at the time of the call, before Mint or Clear returns.
package session

import (
	"errors"
	"sync"
)

// ErrInvalidEpoch is returned by Mint when the new epoch is empty.
var ErrInvalidEpoch = errors.New("session: invalid epoch")

// Epoch identifies one screening session. The zero value means absent.
type Epoch string

// IsZero reports whether the epoch is absent.
func (e Epoch) IsZero() bool { return e == "" }

// String implements fmt.Stringer.
func (e Epoch) String() string { return string(e) }

// Change describes one mint or clear.
type Change struct {
	// Seq increases by one for every Mint or Clear on the store.
	Seq uint64
	// Previous is the epoch that was current before the change.
	Previous Epoch
	// Current is the epoch after the change (zero after Clear).
	Current Epoch
}

// Cleared reports whether the change left the store without an epoch.
func (c Change) Cleared() bool { return c.Current.IsZero() }

// Listener receives change notifications.
// Listeners may call Current and unsubscribe, but must not call Mint or
// Clear from inside a notification.
type Listener func(Change)

// Store holds the current epoch and its subscribers.
type Store struct {
	// notifyMu serializes Mint and Clear end to end, so subscribers
	// observe changes in exactly the order they were issued.
	notifyMu sync.Mutex

	mu      sync.RWMutex
	current Epoch
	seq     uint64
	nextID  uint64
	subs    map[uint64]Listener
	order   []uint64
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{subs: make(map[uint64]Listener)}
}

// Current returns the current epoch, or the zero Epoch when absent.
func (s *Store) Current() Epoch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Seq returns the sequence number of the most recent change.
func (s *Store) Seq() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seq
}

// Mint replaces the current epoch unconditionally.
func (s *Store) Mint(epoch Epoch) error {
	if epoch.IsZero() {
		return ErrInvalidEpoch
	}
	s.replace(epoch)
	return nil
}

// Clear removes the current epoch. It always succeeds.
func (s *Store) Clear() {
	s.replace("")
}

// Subscribe registers fn for change notifications and returns a function
// that removes it. The returned function is idempotent.
func (s *Store) Subscribe(fn Listener) (unsubscribe func()) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.subs[id] = fn
	s.order = append(s.order, id)
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { s.remove(id) })
	}
}

func (s *Store) remove(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *Store) replace(epoch Epoch) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	s.seq++
	change := Change{Seq: s.seq, Previous: s.current, Current: epoch}
	s.current = epoch
	ids := make([]uint64, len(s.order))
	copy(ids, s.order)
	s.mu.Unlock()

	for _, id := range ids {
		// A listener may unsubscribe another one mid-delivery.
		s.mu.RLock()
		fn, ok := s.subs[id]
		s.mu.RUnlock()
		if ok {
			fn(change)
		}
	}
}
