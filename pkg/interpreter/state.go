// Package interpreter runs the Sully clinical interpreter: it listens for the
// wake word, opens a realtime session with the model, correlates the model's
// responses into the transcript, dispatches clinical actions and, when the
// session ends, summarizes and saves the conversation.
//
// All session state is owned by a Controller. Inbound model events are
// handled one at a time in arrival order by HandleEvent, which maps each
// message type and response topic to a single handler and reports what it
// did as an Outcome.
package interpreter

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Phase is the coarse state of the interpreter shown to the clinician.
type Phase int

const (
	// PhaseIdle means ambient listening for the wake word.
	PhaseIdle Phase = iota
	// PhaseArmed means the wake word was heard and a start command is
	// awaited.
	PhaseArmed
	// PhaseConnecting means a realtime session is being set up.
	PhaseConnecting
	// PhaseListening means the realtime session is open.
	PhaseListening
	// PhaseStopping means the session was closed and the conversation is
	// being summarized and saved.
	PhaseStopping
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseArmed:
		return "armed"
	case PhaseConnecting:
		return "connecting"
	case PhaseListening:
		return "listening"
	case PhaseStopping:
		return "stopping"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// MarshalJSON implements json.Marshaler.
func (p Phase) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// active reports whether a session owns (or is acquiring) the transport.
func (p Phase) active() bool {
	return p == PhaseConnecting || p == PhaseListening
}

// SessionState is a snapshot of the controller state.
type SessionState struct {
	Phase           Phase     `json:"phase"`
	SessionStarted  time.Time `json:"sessionStarted,omitzero"`
	Records         int       `json:"records"`
	Completed       int       `json:"completed"`
	Actions         int       `json:"actions"`
	LastTranslation string    `json:"lastTranslation,omitempty"`
	Summary         string    `json:"summary,omitempty"`
	ConversationID  string    `json:"conversationId,omitempty"`
	LastError       string    `json:"lastError,omitempty"`
	// Saving is set while a closed session is summarized and saved,
	// whatever the phase.
	Saving          bool      `json:"saving,omitempty"`
}

// Step names the session setup stage that failed.
type Step string

const (
	StepToken      Step = "token"
	StepMicrophone Step = "microphone"
	StepOffer      Step = "offer"
	StepChannel    Step = "channel"
)

// ConnectError reports a failed session setup. Every resource acquired
// before the failing step has been released.
type ConnectError struct {
	Step Step
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("interpreter: connect (%s): %v", e.Step, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

var (
	// ErrReadyTimeout is the cause of a channel-step ConnectError when the
	// event channel does not open in time.
	ErrReadyTimeout = errors.New("interpreter: event channel did not open")

	// ErrSessionActive is returned by Start while a session is connecting
	// or open.
	ErrSessionActive = errors.New("interpreter: session already active")

	// ErrStartAborted is returned by Start when Stop was called while the
	// session was still connecting.
	ErrStartAborted = errors.New("interpreter: start aborted")
)

// stepOf returns the failing step of err, defaulting to def.
func stepOf(err error, def Step) *ConnectError {
	var ce *ConnectError
	if errors.As(err, &ce) {
		return ce
	}
	return &ConnectError{Step: def, Err: err}
}
