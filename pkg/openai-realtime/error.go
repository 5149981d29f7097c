package openairealtime

import (
	"errors"
	"fmt"
)

// ErrNotOpen is returned by Send when the event channel is not open.
var ErrNotOpen = errors.New("openai-realtime: event channel not open")

// Error represents an API error from OpenAI Realtime, either from an HTTP
// call or from an "error" server event.
type Error struct {
	// Type is the error type (e.g., "invalid_request_error").
	Type string `json:"type,omitzero"`

	// Code is the error code (e.g., "invalid_value").
	Code string `json:"code,omitzero"`

	// Message is the human-readable error message.
	Message string `json:"message,omitzero"`

	// Param is the parameter that caused the error, if applicable.
	Param string `json:"param,omitzero"`

	// EventID is the ID of the client event that caused the error.
	EventID string `json:"event_id,omitzero"`

	// HTTPStatus is the HTTP status code, if applicable.
	HTTPStatus int `json:"-"`
}

func (e *Error) Error() string {
	switch {
	case e.Code != "":
		return fmt.Sprintf("openai-realtime: %s: %s", e.Code, e.Message)
	case e.Type != "":
		return fmt.Sprintf("openai-realtime: %s: %s", e.Type, e.Message)
	case e.HTTPStatus != 0:
		return fmt.Sprintf("openai-realtime: http %d: %s", e.HTTPStatus, e.Message)
	}
	return fmt.Sprintf("openai-realtime: %s", e.Message)
}
