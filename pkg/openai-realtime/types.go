package openairealtime

import "github.com/google/jsonschema-go/jsonschema"

// Models supported by OpenAI Realtime API.
const (
	ModelGPT4oRealtimePreview         = "gpt-4o-realtime-preview"
	ModelGPT4oRealtimePreview20241217 = "gpt-4o-realtime-preview-2024-12-17"
	ModelGPT4oMiniRealtimePreview     = "gpt-4o-mini-realtime-preview"
)

// Voice options for audio output.
const (
	VoiceAlloy   = "alloy"
	VoiceAsh     = "ash"
	VoiceCoral   = "coral"
	VoiceEcho    = "echo"
	VoiceSage    = "sage"
	VoiceShimmer = "shimmer"
	VoiceVerse   = "verse"
)

// Modality types.
const (
	ModalityText  = "text"
	ModalityAudio = "audio"
)

// Item types.
const (
	ItemTypeMessage            = "message"
	ItemTypeFunctionCall       = "function_call"
	ItemTypeFunctionCallOutput = "function_call_output"
)

const (
	// VADServerVAD enables server-side voice activity detection.
	VADServerVAD = "server_vad"

	// ToolTypeFunction is the only tool type.
	ToolTypeFunction = "function"

	// ConversationNone makes a response out-of-band: it neither reads nor
	// writes the default conversation.
	ConversationNone = "none"

	// AudioFormatPCM16 is 16-bit PCM audio at 24kHz, mono, little-endian.
	AudioFormatPCM16 = "pcm16"
)

// SessionConfig holds the session parameters sent with session.update and
// used when minting a session.
type SessionConfig struct {
	Modalities              []string             `json:"modalities,omitzero" yaml:"modalities,omitempty"`
	Instructions            string               `json:"instructions,omitzero" yaml:"instructions,omitempty"`
	Voice                   string               `json:"voice,omitzero" yaml:"voice,omitempty"`
	InputAudioFormat        string               `json:"input_audio_format,omitzero" yaml:"input_audio_format,omitempty"`
	InputAudioTranscription *TranscriptionConfig `json:"input_audio_transcription,omitzero" yaml:"input_audio_transcription,omitempty"`
	TurnDetection           *TurnDetection       `json:"turn_detection,omitzero" yaml:"turn_detection,omitempty"`
	Tools                   []Tool               `json:"tools,omitzero" yaml:"-"`
	ToolChoice              string               `json:"tool_choice,omitzero" yaml:"tool_choice,omitempty"`
	Temperature             float64              `json:"temperature,omitzero" yaml:"temperature,omitempty"`
}

// SessionRequest is the body of a session creation request.
type SessionRequest struct {
	Model string `json:"model"`
	SessionConfig
}

// SessionResponse is the minted session. ClientSecret.Value is short-lived.
type SessionResponse struct {
	ID           string       `json:"id"`
	Object       string       `json:"object,omitzero"`
	Model        string       `json:"model,omitzero"`
	ExpiresAt    int64        `json:"expires_at,omitzero"`
	ClientSecret ClientSecret `json:"client_secret"`
}

// ClientSecret is an ephemeral bearer credential.
type ClientSecret struct {
	Value     string `json:"value"`
	ExpiresAt int64  `json:"expires_at,omitzero"`
}

// TranscriptionConfig configures input audio transcription.
type TranscriptionConfig struct {
	Model string `json:"model,omitzero" yaml:"model,omitempty"`
}

// TurnDetection configures voice activity detection.
type TurnDetection struct {
	Type              string  `json:"type,omitzero" yaml:"type,omitempty"`
	Threshold         float64 `json:"threshold,omitzero" yaml:"threshold,omitempty"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms,omitzero" yaml:"prefix_padding_ms,omitempty"`
	SilenceDurationMs int     `json:"silence_duration_ms,omitzero" yaml:"silence_duration_ms,omitempty"`
	CreateResponse    *bool   `json:"create_response,omitzero" yaml:"create_response,omitempty"`
}

// Tool defines a function tool available to the model.
type Tool struct {
	Type        string             `json:"type"`
	Name        string             `json:"name"`
	Description string             `json:"description,omitzero"`
	Parameters  *jsonschema.Schema `json:"parameters,omitzero"`
}

// ResponseOptions are the parameters of response.create.
type ResponseOptions struct {
	// Conversation is "auto" (default) or ConversationNone.
	Conversation string `json:"conversation,omitzero"`

	// Metadata is echoed back on response.done, which is how out-of-band
	// responses are correlated with their request.
	Metadata map[string]string `json:"metadata,omitzero"`

	Modalities   []string `json:"modalities,omitzero"`
	Instructions string   `json:"instructions,omitzero"`
	Voice        string   `json:"voice,omitzero"`
}

// SessionResource is the session state reported by the server.
type SessionResource struct {
	ID    string `json:"id,omitzero"`
	Model string `json:"model,omitzero"`
	Voice string `json:"voice,omitzero"`
}

// ConversationItem is an item in the conversation or in a response output.
type ConversationItem struct {
	ID        string        `json:"id,omitzero"`
	Type      string        `json:"type,omitzero"`
	Status    string        `json:"status,omitzero"`
	Role      string        `json:"role,omitzero"`
	Content   []ContentPart `json:"content,omitzero"`
	CallID    string        `json:"call_id,omitzero"`
	Name      string        `json:"name,omitzero"`
	Arguments string        `json:"arguments,omitzero"`
	Output    string        `json:"output,omitzero"`
}

// ContentPart is a part of message content.
type ContentPart struct {
	Type       string `json:"type,omitzero"`
	Text       string `json:"text,omitzero"`
	Transcript string `json:"transcript,omitzero"`
}

// FirstContent returns the first content part of the item.
func (it *ConversationItem) FirstContent() (ContentPart, bool) {
	if it == nil || len(it.Content) == 0 {
		return ContentPart{}, false
	}
	return it.Content[0], true
}

// ResponseResource is a model response.
type ResponseResource struct {
	ID            string             `json:"id,omitzero"`
	Status        string             `json:"status,omitzero"` // "completed", "cancelled", "incomplete", "failed"
	StatusDetails *StatusDetails     `json:"status_details,omitzero"`
	Metadata      map[string]string  `json:"metadata,omitzero"`
	Output        []ConversationItem `json:"output,omitzero"`
}

// StatusDetails explains a non-completed response status.
type StatusDetails struct {
	Type   string `json:"type,omitzero"`
	Reason string `json:"reason,omitzero"`
	Error  *Error `json:"error,omitzero"`
}
