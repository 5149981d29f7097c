package openairealtime

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Client event types (sent from client to server).
const (
	EventTypeSessionUpdate = "session.update"

	EventTypeInputAudioBufferAppend = "input_audio_buffer.append"
	EventTypeInputAudioBufferCommit = "input_audio_buffer.commit"
	EventTypeInputAudioBufferClear  = "input_audio_buffer.clear"

	EventTypeConversationItemCreate = "conversation.item.create"

	EventTypeResponseCreate = "response.create"
	EventTypeResponseCancel = "response.cancel"
)

// Server event types (sent from server to client).
const (
	EventTypeError = "error"

	EventTypeSessionCreated = "session.created"
	EventTypeSessionUpdated = "session.updated"

	EventTypeConversationItemCreated                          = "conversation.item.created"
	EventTypeConversationItemInputAudioTranscriptionCompleted = "conversation.item.input_audio_transcription.completed"
	EventTypeConversationItemInputAudioTranscriptionFailed    = "conversation.item.input_audio_transcription.failed"

	EventTypeInputAudioBufferCleared       = "input_audio_buffer.cleared"
	EventTypeInputAudioBufferSpeechStarted = "input_audio_buffer.speech_started"
	EventTypeInputAudioBufferSpeechStopped = "input_audio_buffer.speech_stopped"

	EventTypeResponseCreated    = "response.created"
	EventTypeResponseDone       = "response.done"
	EventTypeResponseAudioDelta = "response.audio.delta"

	EventTypeRateLimitsUpdated = "rate_limits.updated"
)

// ClientEvent is an event sent to the server. Only the fields relevant to
// Type are set; use the constructors below.
type ClientEvent struct {
	EventID  string            `json:"event_id,omitzero"`
	Type     string            `json:"type"`
	Session  *SessionConfig    `json:"session,omitzero"`
	Response *ResponseOptions  `json:"response,omitzero"`
	Item     *ConversationItem `json:"item,omitzero"`
	Audio    string            `json:"audio,omitzero"`
}

// SessionUpdateEvent builds a session.update event.
func SessionUpdateEvent(cfg *SessionConfig) *ClientEvent {
	if cfg == nil {
		cfg = &SessionConfig{}
	}
	return &ClientEvent{Type: EventTypeSessionUpdate, Session: cfg}
}

// ResponseCreateEvent builds a response.create event. With nil options the
// model simply continues the default conversation.
func ResponseCreateEvent(opts *ResponseOptions) *ClientEvent {
	return &ClientEvent{Type: EventTypeResponseCreate, Response: opts}
}

// FunctionCallOutputEvent builds the conversation.item.create event that
// returns a function-call result to the model.
func FunctionCallOutputEvent(callID, output string) *ClientEvent {
	return &ClientEvent{
		Type: EventTypeConversationItemCreate,
		Item: &ConversationItem{
			Type:   ItemTypeFunctionCallOutput,
			CallID: callID,
			Output: output,
		},
	}
}

// InputAudioBufferClearEvent builds an input_audio_buffer.clear event.
func InputAudioBufferClearEvent() *ClientEvent {
	return &ClientEvent{Type: EventTypeInputAudioBufferClear}
}

// InputAudioBufferAppendEvent builds an input_audio_buffer.append event for
// 16-bit little-endian mono PCM.
func InputAudioBufferAppendEvent(pcm []byte) *ClientEvent {
	return &ClientEvent{
		Type:  EventTypeInputAudioBufferAppend,
		Audio: base64.StdEncoding.EncodeToString(pcm),
	}
}

// generateEventID generates a unique event ID.
func generateEventID() string {
	return "evt_" + uuid.NewString()[:12]
}

// encodeEvent assigns an event ID if missing and marshals ev.
func encodeEvent(ev *ClientEvent) ([]byte, error) {
	if ev.EventID == "" {
		ev.EventID = generateEventID()
	}
	return json.Marshal(ev)
}

// ServerEvent represents an event received from the Realtime API.
type ServerEvent struct {
	// Type is the event type.
	Type string `json:"type"`

	// EventID is the unique identifier for this event.
	EventID string `json:"event_id,omitzero"`

	// Session is set on session.created and session.updated.
	Session *SessionResource `json:"session,omitzero"`

	// Item is set on conversation.item.* events.
	Item *ConversationItem `json:"item,omitzero"`

	// ItemID is the conversation item an event refers to.
	ItemID string `json:"item_id,omitzero"`

	// Transcript is the recognized text of an input audio transcription.
	Transcript string `json:"transcript,omitzero"`

	// Error is set on error and transcription-failed events.
	Error *Error `json:"error,omitzero"`

	// Response is set on response.created and response.done.
	Response *ResponseResource `json:"response,omitzero"`

	// ResponseID is the response an incremental event belongs to.
	ResponseID string `json:"response_id,omitzero"`

	// Delta carries incremental text, arguments or base64 audio.
	Delta string `json:"delta,omitzero"`

	// Audio is Delta decoded, for response.audio.delta.
	Audio []byte `json:"-"`

	// Raw contains the original JSON message.
	Raw []byte `json:"-"`
}

// Metadata returns the response metadata value for key, if any.
func (e *ServerEvent) Metadata(key string) string {
	if e.Response == nil {
		return ""
	}
	return e.Response.Metadata[key]
}

// FirstOutput returns the first output item of a response event.
func (e *ServerEvent) FirstOutput() (*ConversationItem, bool) {
	if e.Response == nil || len(e.Response.Output) == 0 {
		return nil, false
	}
	return &e.Response.Output[0], true
}

// ParseServerEvent decodes one wire message.
func ParseServerEvent(message []byte) (*ServerEvent, error) {
	var ev ServerEvent
	if err := json.Unmarshal(message, &ev); err != nil {
		return nil, fmt.Errorf("openai-realtime: parse event: %w", err)
	}
	if ev.Type == "" {
		return nil, fmt.Errorf("openai-realtime: parse event: missing type")
	}
	ev.Raw = message
	if ev.Type == EventTypeResponseAudioDelta && ev.Delta != "" {
		if decoded, err := base64.StdEncoding.DecodeString(ev.Delta); err == nil {
			ev.Audio = decoded
		}
	}
	return &ev, nil
}
