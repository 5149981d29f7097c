// Package transcript holds the ordered conversation transcript of one
// interpreter session.
//
// Each spoken utterance becomes a Record identified by an id minted when the
// utterance is observed. Two independently timed streams later fill the
// record in: language classification (metadata) and the counterpart-language
// rendering (translation). Both are merged by id, so their arrival order
// relative to each other never changes the final record.
package transcript

import (
	"github.com/google/uuid"

	"github.com/kronktech/sully/pkg/jsontime"
)

// LanguageCode is the classified language of an utterance.
type LanguageCode string

const (
	LanguageEnglish LanguageCode = "eng"
	LanguageSpanish LanguageCode = "spa"
	LanguageOther   LanguageCode = "other"
)

// Recognized reports whether c is one of the two interpreted languages.
func (c LanguageCode) Recognized() bool {
	return c == LanguageEnglish || c == LanguageSpanish
}

// Role is the speaker role derived from the language code.
type Role string

const (
	RoleDoctor  Role = "doctor"
	RolePatient Role = "patient"
	RoleOther   Role = "other"
)

// RoleFor maps a language code to the speaker role: English speech is the
// doctor, Spanish speech is the patient, anything else is other.
func RoleFor(code LanguageCode) Role {
	switch code {
	case LanguageEnglish:
		return RoleDoctor
	case LanguageSpanish:
		return RolePatient
	default:
		return RoleOther
	}
}

// NewID mints a correlation id for a new utterance.
func NewID() string {
	return uuid.NewString()
}

// Record is one spoken utterance and everything later learned about it.
type Record struct {
	ID        string         `json:"id"`
	Text      string         `json:"text"`
	CreatedAt jsontime.Milli `json:"createdAt"`

	LanguageCode LanguageCode `json:"languageCode,omitempty"`
	Role         Role         `json:"role,omitempty"`
	Translation  string       `json:"translation,omitempty"`

	HasMetadata    bool `json:"hasMetadata"`
	HasTranslation bool `json:"hasTranslation"`
}

// Complete reports whether both streams have resolved and the utterance was
// classified as English or Spanish. Only complete records may be displayed
// or summarized.
func (r Record) Complete() bool {
	return r.HasMetadata && r.HasTranslation && r.LanguageCode.Recognized()
}
