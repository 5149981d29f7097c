// Package wake implements the activation gate: ambient recognition of the
// wake word followed by a start command, without any backend connection.
package wake

import (
	"regexp"
	"strings"
)

// Grammar is the set of patterns an utterance is checked against. Matching
// is case-insensitive on the trimmed utterance.
type Grammar struct {
	// Activation matches the wake word and its common mis-hearings.
	Activation *regexp.Regexp

	// Start matches words that start a session once the gate is armed.
	Start *regexp.Regexp

	// Stop matches termination words. A stop command also needs the
	// activation word in the same utterance.
	Stop *regexp.Regexp
}

// DefaultGrammar is the grammar for the wake word "Sully".
var DefaultGrammar = Grammar{
	Activation: regexp.MustCompile(`(?i)\b(sully|silly|sorry|sally|only|siri|selling|slowly|sewing)\b`),
	Start:      regexp.MustCompile(`(?i)\b(translate|translation|start|begin|go)\b`),
	Stop:       regexp.MustCompile(`(?i)\b(stop|end|done|finish|cancel|over)\b`),
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// IsActivation reports whether s contains the wake word.
func (g Grammar) IsActivation(s string) bool {
	return g.Activation.MatchString(normalize(s))
}

// IsStart reports whether s contains a start command word. It says nothing
// about activation.
func (g Grammar) IsStart(s string) bool {
	return g.Start.MatchString(normalize(s))
}

// IsStop reports whether s is a stop command: the wake word together with a
// termination word.
func (g Grammar) IsStop(s string) bool {
	s = normalize(s)
	return g.Activation.MatchString(s) && g.Stop.MatchString(s)
}
