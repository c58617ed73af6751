// Package conversation holds the client side of a chat session: the turn
// store, the transports that produce assistant replies, the speech adapters
// and the orchestrator tying them together.
package conversation

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/RichardoC/nutra/internal/models"
)

const (
	GreetingID   = "greeting-nora"
	GreetingText = "Hey there… I'm Nora, your 24/7 AI nutritionist with Nutra. I'm so glad you're here. How can I help you today?"
)

// Store is the ordered list of turns of one chat session. Turns are only
// ever appended; Reset is the one way to drop them.
type Store struct {
	mu    sync.Mutex
	turns []models.Turn
	seq   uint64
	now   func() time.Time
}

func NewStore() *Store {
	s := &Store{now: time.Now}
	s.Reset()
	return s
}

// Reset drops every turn and re-seeds the greeting.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq = 0
	s.turns = s.turns[:0]
	s.appendLocked(models.Turn{
		ID:      GreetingID,
		Role:    models.RoleAssistant,
		Content: GreetingText,
	})
}

// Append adds a turn at the end, filling in its id, sequence number and
// timestamp. The stored turn is returned.
func (s *Store) Append(t models.Turn) models.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(t)
}

// AddFromExternalSource appends t unless a turn with the same id, or the same
// role and content, is already stored.
func (s *Store) AddFromExternalSource(t models.Turn) (models.Turn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.turns {
		if (t.ID != "" && existing.ID == t.ID) ||
			(existing.Role == t.Role && existing.Content == t.Content) {
			return existing, false
		}
	}
	return s.appendLocked(t), true
}

func (s *Store) appendLocked(t models.Turn) models.Turn {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	s.seq++
	t.Seq = s.seq

	if t.Timestamp.IsZero() {
		t.Timestamp = s.now()
	}
	if n := len(s.turns); n > 0 && t.Timestamp.Before(s.turns[n-1].Timestamp) {
		t.Timestamp = s.turns[n-1].Timestamp
	}
	s.turns = append(s.turns, t)
	return t
}

// Turns returns a copy of the stored turns in conversation order.
func (s *Store) Turns() []models.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.turns)
}

// Transcript maps the stored turns to the wire shape sent to /api/chat.
func (s *Store) Transcript() []models.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ChatMessage, 0, len(s.turns))
	for _, t := range s.turns {
		out = append(out, models.ChatMessage{Role: t.Role, Content: t.Content})
	}
	return out
}
