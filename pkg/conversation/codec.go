package conversation

import (
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/kronktech/sully/pkg/action"
	"github.com/kronktech/sully/pkg/jsontime"
	"github.com/kronktech/sully/pkg/transcript"
)

// record is the msgpack form of a Conversation. Times are unix milliseconds.
type record struct {
	ID         string         `msgpack:"id"`
	Name       string         `msgpack:"name,omitempty"`
	Summary    string         `msgpack:"summary"`
	Transcript []recordLine   `msgpack:"transcript"`
	Actions    []recordAction `msgpack:"actions"`
	CreatedAt  int64          `msgpack:"created_at"`
}

type recordLine struct {
	ID             string `msgpack:"id"`
	Text           string `msgpack:"text"`
	CreatedAt      int64  `msgpack:"created_at"`
	LanguageCode   string `msgpack:"language_code,omitempty"`
	Role           string `msgpack:"role,omitempty"`
	Translation    string `msgpack:"translation,omitempty"`
	HasMetadata    bool   `msgpack:"has_metadata"`
	HasTranslation bool   `msgpack:"has_translation"`
}

type recordAction struct {
	Type         string `msgpack:"type"`
	Timeframe    string `msgpack:"timeframe,omitempty"`
	Reason       string `msgpack:"reason,omitempty"`
	Specialty    string `msgpack:"specialty,omitempty"`
	TestType     string `msgpack:"test_type,omitempty"`
	Urgency      string `msgpack:"urgency,omitempty"`
	Instructions string `msgpack:"instructions,omitempty"`
	CreatedAt    int64  `msgpack:"created_at"`
}

func encode(c *Conversation) ([]byte, error) {
	rec := record{
		ID:         c.ID,
		Name:       c.Name,
		Summary:    c.Summary,
		Transcript: make([]recordLine, len(c.Transcript)),
		Actions:    make([]recordAction, len(c.Actions)),
		CreatedAt:  c.CreatedAt.Time().UnixMilli(),
	}
	for i, r := range c.Transcript {
		rec.Transcript[i] = recordLine{
			ID:             r.ID,
			Text:           r.Text,
			CreatedAt:      r.CreatedAt.Time().UnixMilli(),
			LanguageCode:   string(r.LanguageCode),
			Role:           string(r.Role),
			Translation:    r.Translation,
			HasMetadata:    r.HasMetadata,
			HasTranslation: r.HasTranslation,
		}
	}
	for i, a := range c.Actions {
		rec.Actions[i] = recordAction{
			Type:         string(a.Type),
			Timeframe:    a.Details.Timeframe,
			Reason:       a.Details.Reason,
			Specialty:    a.Details.Specialty,
			TestType:     a.Details.TestType,
			Urgency:      a.Details.Urgency,
			Instructions: a.Details.Instructions,
			CreatedAt:    a.CreatedAt.Time().UnixMilli(),
		}
	}
	return msgpack.Marshal(&rec)
}

func decode(data []byte) (*Conversation, error) {
	var rec record
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	c := &Conversation{
		ID:         rec.ID,
		Name:       rec.Name,
		Summary:    rec.Summary,
		Transcript: make([]transcript.Record, len(rec.Transcript)),
		Actions:    make([]action.DetectedAction, len(rec.Actions)),
		CreatedAt:  jsontime.ISO(time.UnixMilli(rec.CreatedAt).UTC()),
	}
	for i, l := range rec.Transcript {
		c.Transcript[i] = transcript.Record{
			ID:             l.ID,
			Text:           l.Text,
			CreatedAt:      jsontime.Milli(time.UnixMilli(l.CreatedAt).UTC()),
			LanguageCode:   transcript.LanguageCode(l.LanguageCode),
			Role:           transcript.Role(l.Role),
			Translation:    l.Translation,
			HasMetadata:    l.HasMetadata,
			HasTranslation: l.HasTranslation,
		}
	}
	for i, a := range rec.Actions {
		c.Actions[i] = action.DetectedAction{
			Type: action.Type(a.Type),
			Details: action.Details{
				Timeframe:    a.Timeframe,
				Reason:       a.Reason,
				Specialty:    a.Specialty,
				TestType:     a.TestType,
				Urgency:      a.Urgency,
				Instructions: a.Instructions,
			},
			CreatedAt: jsontime.ISO(time.UnixMilli(a.CreatedAt).UTC()),
		}
	}
	return c, nil
}
