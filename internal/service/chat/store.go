package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zhouzirui/voyage/backend/internal/model/chat"
	"github.com/zhouzirui/voyage/backend/internal/storage/kv"
)

// Store is the ordered message log of one session. Sequence assignment
// and every mutation happen under a single mutex, so concurrent callers
// never share a sequence number.
type Store struct {
	mu        sync.RWMutex
	sessionID string
	kv        kv.Store
	messages  []chat.Message
	next      int64
	now       func() time.Time
	watchers  map[int]chan struct{}
	watchID   int
}

// NewStore creates an empty log persisted through persistence under a
// key scoped to sessionID.
func NewStore(sessionID string, persistence kv.Store) *Store {
	if persistence == nil {
		persistence = kv.NewMemoryStore()
	}
	return &Store{
		sessionID: sessionID,
		kv:        persistence,
		messages:  make([]chat.Message, 0, 16),
		next:      1,
		now:       func() time.Time { return time.Now().UTC() },
		watchers:  make(map[int]chan struct{}),
	}
}

// Key returns the persistence key of this session's transcript.
func (s *Store) Key() string {
	return Key(s.sessionID)
}

// Key returns the persistence key for a session.
func Key(sessionID string) string {
	return fmt.Sprintf("conversation:%s", sessionID)
}

// Append assigns the next sequence number and appends message.
//
// A new ephemeral entry replaces the live one. A non-ephemeral entry
// lands after the live placeholder is lifted off the tail, and the
// placeholder is put back on top with a fresh sequence so it always
// stays the most recent message.
func (s *Store) Append(message chat.Message) chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	placeholder, hadPlaceholder := s.takeEphemeralLocked()

	message.Sequence = s.claimLocked()
	if message.Timestamp.IsZero() {
		message.Timestamp = s.now()
	}
	s.messages = append(s.messages, message)

	if hadPlaceholder && !message.Ephemeral {
		placeholder.Sequence = s.claimLocked()
		s.messages = append(s.messages, placeholder)
	}

	s.notifyLocked()
	return message
}

// RemoveEphemeral drops the live placeholder, if any.
func (s *Store) RemoveEphemeral() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.takeEphemeralLocked(); !ok {
		return false
	}
	s.notifyLocked()
	return true
}

// Snapshot returns a copy of the full log, placeholder included.
func (s *Store) Snapshot() []chat.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	copied := make([]chat.Message, len(s.messages))
	copy(copied, s.messages)
	return copied
}

// Len returns the number of messages, placeholder included.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Clear empties the log and persists the empty state.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.messages = s.messages[:0]
	s.notifyLocked()
	s.mu.Unlock()

	return s.Persist(ctx)
}

// Persist writes the non-ephemeral messages as a JSON array.
func (s *Store) Persist(ctx context.Context) error {
	s.mu.RLock()
	durable := make([]chat.Message, 0, len(s.messages))
	for _, msg := range s.messages {
		if msg.Ephemeral {
			continue
		}
		durable = append(durable, msg)
	}
	s.mu.RUnlock()

	data, err := json.Marshal(durable)
	if err != nil {
		return fmt.Errorf("chat: failed to marshal transcript: %w", err)
	}
	if err := s.kv.Set(ctx, s.Key(), data); err != nil {
		return fmt.Errorf("chat: failed to persist transcript: %w", err)
	}
	return nil
}

// Restore replaces the log with the persisted transcript. A missing key
// restores an empty log. Numbering resumes after the highest restored
// sequence.
func (s *Store) Restore(ctx context.Context) error {
	data, err := s.kv.Get(ctx, s.Key())
	if err != nil && !errors.Is(err, kv.ErrNotFound) {
		return fmt.Errorf("chat: failed to load transcript: %w", err)
	}

	var restored []chat.Message
	if len(data) > 0 {
		if err := json.Unmarshal(data, &restored); err != nil {
			return fmt.Errorf("chat: failed to decode transcript: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = s.messages[:0]
	var highest int64
	for _, msg := range restored {
		if msg.Ephemeral {
			continue
		}
		s.messages = append(s.messages, msg)
		if msg.Sequence > highest {
			highest = msg.Sequence
		}
	}
	if highest+1 > s.next {
		s.next = highest + 1
	}
	s.notifyLocked()
	return nil
}

// Watch returns a channel signalled after every mutation, and a function
// that stops the subscription. Signals coalesce; read Snapshot after
// each one.
func (s *Store) Watch() (<-chan struct{}, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.watchID
	s.watchID++
	ch := make(chan struct{}, 1)
	s.watchers[id] = ch

	return ch, func() {
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
	}
}

func (s *Store) claimLocked() int64 {
	seq := s.next
	s.next++
	return seq
}

// takeEphemeralLocked removes the placeholder. It can only be the tail.
func (s *Store) takeEphemeralLocked() (chat.Message, bool) {
	n := len(s.messages)
	if n == 0 || !s.messages[n-1].Ephemeral {
		return chat.Message{}, false
	}
	last := s.messages[n-1]
	s.messages = s.messages[:n-1]
	return last, true
}

func (s *Store) notifyLocked() {
	for _, ch := range s.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
