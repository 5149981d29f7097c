// Package summary turns a finished interpreter transcript into a clinical
// visit note with a title and the actions discussed.
package summary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"

	"github.com/kronktech/sully/pkg/action"
	"github.com/kronktech/sully/pkg/transcript"
)

// NoConversation is the summary of a session with no completed utterances.
const NoConversation = "No patient conversation took place."

// DefaultModel is the OpenAI chat model used for summaries.
const DefaultModel = "gpt-4o"

// SystemPrompt instructs the model to write a SOAP note and extract actions.
const SystemPrompt = `You are a medical conversation summarizer. Given a conversation between a doctor and patient:

1. Provide a SOAP note summary of the conversation with Subjective, Objective, Assessment, and Plan sections. Use headers, bolded text, and lists for clarity.
2. Identify if any of these actions were discussed or needed:
   - Schedule a follow-up appointment
   - Send a lab order
3. For each action, extract relevant details (e.g. timeframe for follow-up, type of lab test)

**If any of these sections were not discussed during the visit do NOT include them or make up information which was not discussed.**

Return ONLY a JSON object with following schema:

{ "summary": "<string>", "actions": [<List of actions>], "name": "<A short title for the visit (1-5 words)>" }

Each action must be one of the following schemas:

{ "type": "schedule_followup", "details": { "timeframe": "<string>", "reason": "<string>", "specialty": "<string>" } }
{ "type": "order_lab", "details": { "test_type": "<string>", "urgency": "<string>", "instructions": "<string>" } }`

// ErrEmptyResponse is returned when the model produced no content.
var ErrEmptyResponse = errors.New("summary: empty model response")

// Result is a generated visit summary.
type Result struct {
	Name    string                  `json:"name"`
	Summary string                  `json:"summary"`
	Actions []action.DetectedAction `json:"actions"`
}

// Empty is the result for a session without a patient conversation.
func Empty() *Result {
	return &Result{Summary: NoConversation, Actions: []action.DetectedAction{}}
}

// Summarizer generates a summary from completed transcript records.
type Summarizer interface {
	Summarize(ctx context.Context, records []transcript.Record) (*Result, error)
}

// BuildTranscript renders records as the model input: one block per
// utterance with the speaker role, the text and its translation.
func BuildTranscript(records []transcript.Record) string {
	blocks := make([]string, 0, len(records))
	for _, r := range records {
		blocks = append(blocks, fmt.Sprintf("%s: %s\nTRANSLATION: %s\n",
			strings.ToUpper(string(r.Role)), r.Text, r.Translation))
	}
	return strings.Join(blocks, "\n")
}

var fence = regexp.MustCompile("```(?:json)?")

// ParseResult decodes a model response. Markdown code fences are stripped
// and malformed JSON is repaired once before giving up. Every action is
// stamped with at; actions of unknown types are dropped.
func ParseResult(content string, at time.Time) (*Result, error) {
	content = strings.TrimSpace(fence.ReplaceAllString(content, ""))
	if content == "" {
		return nil, ErrEmptyResponse
	}

	var raw struct {
		Name    string            `json:"name"`
		Summary string            `json:"summary"`
		Actions []action.Proposed `json:"actions"`
	}
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		var syntaxErr *json.SyntaxError
		if !errors.As(err, &syntaxErr) {
			return nil, fmt.Errorf("summary: decode response: %w", err)
		}
		fixed, rerr := jsonrepair.JSONRepair(content)
		if rerr != nil {
			return nil, fmt.Errorf("summary: decode response: %w", err)
		}
		if err := json.Unmarshal([]byte(fixed), &raw); err != nil {
			return nil, fmt.Errorf("summary: decode repaired response: %w", err)
		}
	}

	actions, _ := action.FromClassification(raw.Actions, at)
	if actions == nil {
		actions = []action.DetectedAction{}
	}
	return &Result{Name: raw.Name, Summary: raw.Summary, Actions: actions}, nil
}

// completion asks a model for a JSON answer to the system prompt.
type completion func(ctx context.Context, system, user string) (string, error)

func summarize(ctx context.Context, records []transcript.Record, now func() time.Time, complete completion) (*Result, error) {
	if len(records) == 0 {
		return Empty(), nil
	}
	content, err := complete(ctx, SystemPrompt, BuildTranscript(records))
	if err != nil {
		return nil, err
	}
	if now == nil {
		now = time.Now
	}
	return ParseResult(content, now())
}
