// Package conversation persists finalized interpreter sessions: the
// completed transcript, the summary and the actions detected along the way.
//
// Two Store implementations are provided: Badger for on-disk persistence and
// Memory for tests and ephemeral servers. Both list conversations newest
// first.
package conversation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/kronktech/sully/pkg/action"
	"github.com/kronktech/sully/pkg/jsontime"
	"github.com/kronktech/sully/pkg/transcript"
)

// ErrNotFound is returned when no conversation has the requested id.
var ErrNotFound = errors.New("conversation: not found")

// Conversation is one finalized session.
type Conversation struct {
	ID         string                  `json:"id"`
	Name       string                  `json:"name,omitempty"`
	Summary    string                  `json:"summary"`
	Transcript []transcript.Record     `json:"transcript"`
	Actions    []action.DetectedAction `json:"actions"`
	CreatedAt  jsontime.ISO            `json:"createdAt"`
}

// Store persists conversations.
type Store interface {
	// Save stores c, assigning an id and creation time when they are unset.
	// Saving an existing id replaces the stored conversation.
	Save(ctx context.Context, c *Conversation) error

	// List returns every conversation, newest first.
	List(ctx context.Context) ([]Conversation, error)

	// Get returns the conversation with the given id or ErrNotFound.
	Get(ctx context.Context, id string) (*Conversation, error)

	// Close releases any resources held by the store.
	Close() error
}

// prepare fills the id and creation time of a new conversation.
func prepare(c *Conversation, now func() time.Time) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = jsontime.ISO(now())
	}
	if c.Transcript == nil {
		c.Transcript = []transcript.Record{}
	}
	if c.Actions == nil {
		c.Actions = []action.DetectedAction{}
	}
}
