// Package conversation defines the multi-turn translation session record and
// the store abstraction it is persisted through.
package conversation

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a conversation id is unknown.
var ErrNotFound = errors.New("conversation not found")

// ErrVersionConflict is returned when a Put loses a concurrent update race.
var ErrVersionConflict = errors.New("conversation version conflict")

// Turn roles.
const (
	RoleAssistant = "assistant"
	RoleHuman     = "human"
)

// Conversation statuses.
const (
	StatusAwaitingFeedback = "awaiting_feedback"
	StatusCompleted        = "completed"
)

// Turn is a single message in a conversation: either a produced translation
// (assistant) or user feedback (human).
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Conversation is one translation-and-refinement session. OriginalText, the
// language pair, UserID, and ClientAddr are fixed after the first turn; Turns and
// Iterations grow on every resume. Version is a write stamp used for
// optimistic concurrency in the store.
type Conversation struct {
	ID             string `json:"id"`
	OriginalText   string `json:"original_text"`
	SourceLanguage string `json:"source_language"`
	TargetLanguage string `json:"target_language"`
	UserID         string `json:"user_id,omitempty"`
	ClientAddr     string `json:"client_addr,omitempty"`
	Status         string `json:"status"`
	Turns          []Turn `json:"turns"`
	Iterations     int    `json:"iterations"`
	Version        int64  `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// LastTurn returns the most recent turn, or a zero Turn if there are none.
func (c *Conversation) LastTurn() Turn {
	if len(c.Turns) == 0 {
		return Turn{}
	}
	return c.Turns[len(c.Turns)-1]
}

// AppendTurn adds a turn and bumps UpdatedAt.
func (c *Conversation) AppendTurn(role, content string) {
	now := time.Now().UTC()
	c.Turns = append(c.Turns, Turn{Role: role, Content: content, CreatedAt: now})
	c.UpdatedAt = now
}

// Store is a passive keyed container for conversations. Put is a full
// replace: implementations must reject writes whose Version does not match
// the stored record (ErrVersionConflict) so that concurrent resumes of the
// same conversation cannot lose turns.
type Store interface {
	Get(id string) (Conversation, error)
	Put(conv Conversation) error
	Delete(id string) error
}
