package wake

import (
	"errors"
	"fmt"
)

// Recognition error codes reported by ambient recognizers.
const (
	CodeNoSpeech     = "no-speech"
	CodeNotAllowed   = "not-allowed"
	CodeNetwork      = "network"
	CodeAborted      = "aborted"
	CodeAudioCapture = "audio-capture"
)

// RecognitionError is an error reported by a Recognizer.
//
// Errors with code no-speech or not-allowed are terminal: the gate does not
// restart the recognizer after them. Every other error is transient.
type RecognitionError struct {
	Code string
	Err  error
}

func (e *RecognitionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("wake: recognition %s: %v", e.Code, e.Err)
	}
	return "wake: recognition " + e.Code
}

func (e *RecognitionError) Unwrap() error {
	return e.Err
}

// Terminal reports whether the recognizer must not be restarted.
func (e *RecognitionError) Terminal() bool {
	return e.Code == CodeNoSpeech || e.Code == CodeNotAllowed
}

// IsTerminal reports whether err is a terminal recognition error.
func IsTerminal(err error) bool {
	var re *RecognitionError
	return errors.As(err, &re) && re.Terminal()
}
