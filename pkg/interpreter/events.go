package interpreter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/kronktech/sully/pkg/action"
	openairealtime "github.com/kronktech/sully/pkg/openai-realtime"
	"github.com/kronktech/sully/pkg/transcript"
)

// Outcome tells what HandleEvent did with an event.
type Outcome int

const (
	// OutcomeIgnored: the event needs no handling.
	OutcomeIgnored Outcome = iota
	// OutcomeRecorded: an utterance was added to the transcript and its
	// translation and classification were requested.
	OutcomeRecorded
	// OutcomeStopped: a stop command ended the session.
	OutcomeStopped
	// OutcomeTranslated: a translation was merged into its record.
	OutcomeTranslated
	// OutcomeClassified: a classification was merged into its record and
	// its actions dispatched.
	OutcomeClassified
	// OutcomeFunctionCall: a function call was handed to the dispatcher.
	OutcomeFunctionCall
	// OutcomeUnmatched: a response referenced an unknown record.
	OutcomeUnmatched
	// OutcomeMalformed: a response could not be decoded and was dropped.
	OutcomeMalformed
	// OutcomeServerError: the model reported an error.
	OutcomeServerError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeIgnored:
		return "ignored"
	case OutcomeRecorded:
		return "recorded"
	case OutcomeStopped:
		return "stopped"
	case OutcomeTranslated:
		return "translated"
	case OutcomeClassified:
		return "classified"
	case OutcomeFunctionCall:
		return "function_call"
	case OutcomeUnmatched:
		return "unmatched"
	case OutcomeMalformed:
		return "malformed"
	case OutcomeServerError:
		return "server_error"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// HandleEvent handles one inbound model event. Events must be handed over
// in arrival order; a malformed event never affects later ones.
func (c *Controller) HandleEvent(ctx context.Context, ev *openairealtime.ServerEvent) Outcome {
	switch ev.Type {
	case openairealtime.EventTypeConversationItemInputAudioTranscriptionCompleted:
		return c.handleUtterance(ctx, ev)
	case openairealtime.EventTypeResponseDone:
		return c.handleResponse(ctx, ev)
	case openairealtime.EventTypeError, openairealtime.EventTypeConversationItemInputAudioTranscriptionFailed:
		return c.handleError(ev)
	default:
		return OutcomeIgnored
	}
}

func (c *Controller) handleUtterance(ctx context.Context, ev *openairealtime.ServerEvent) Outcome {
	text := strings.TrimSpace(ev.Transcript)
	if text == "" {
		return OutcomeIgnored
	}

	// A stop command is not conversation content.
	if c.grammar.IsStop(text) {
		c.metrics.StopCommands.Inc()
		c.logger.Info("interpreter: stop command", "utterance", text)
		c.SendStructuredRequest(Request{Kind: RequestClearAudio})
		c.endSession(ctx)
		return OutcomeStopped
	}

	id := c.newID()
	if _, err := c.store.Create(id, text); err != nil {
		c.logger.Error("interpreter: create record", "id", id, "err", err)
		return OutcomeMalformed
	}
	c.metrics.TranscriptsCreated.Inc()
	c.logger.Debug("interpreter: utterance", "id", id, "text", text)

	c.SendStructuredRequest(Request{Kind: RequestTranslation, TranscriptID: id, Text: text})
	c.SendStructuredRequest(Request{Kind: RequestMetadata, TranscriptID: id, Text: text})
	c.notify()
	return OutcomeRecorded
}

func (c *Controller) handleResponse(ctx context.Context, ev *openairealtime.ServerEvent) Outcome {
	if ev.Response == nil {
		c.logger.Warn("interpreter: response.done without response")
		return OutcomeIgnored
	}
	switch ev.Metadata(metaTopic) {
	case TopicTranslation:
		return c.handleTranslation(ev)
	case TopicMetadata:
		return c.handleMetadata(ctx, ev)
	}

	outcome := OutcomeIgnored
	for _, item := range ev.Response.Output {
		if item.Type == openairealtime.ItemTypeFunctionCall {
			c.handleFunctionCall(ctx, item)
			outcome = OutcomeFunctionCall
		}
	}
	return outcome
}

func (c *Controller) handleTranslation(ev *openairealtime.ServerEvent) Outcome {
	id := ev.Metadata(metaTranscriptID)
	text := responseText(ev, true)
	if text == "" {
		c.metrics.MalformedResponses.WithLabelValues(TopicTranslation).Inc()
		c.logger.Warn("interpreter: empty translation", "id", id, "status", ev.Response.Status)
		return OutcomeMalformed
	}
	if !c.store.AttachTranslation(id, text) {
		c.metrics.UnmatchedResponses.WithLabelValues(TopicTranslation).Inc()
		return OutcomeUnmatched
	}
	c.metrics.ResponsesHandled.WithLabelValues(TopicTranslation).Inc()

	c.mu.Lock()
	c.lastTranslation = text
	c.mu.Unlock()
	c.notify()
	return OutcomeTranslated
}

// classification is the JSON answer to a metadata request.
type classification struct {
	Reasoning    string            `json:"reasoning"`
	LanguageCode string            `json:"languageCode"`
	Actions      []action.Proposed `json:"actions"`
}

func (c *Controller) handleMetadata(ctx context.Context, ev *openairealtime.ServerEvent) Outcome {
	id := ev.Metadata(metaTranscriptID)
	raw := responseText(ev, false)

	var cls classification
	if err := decodeModelJSON(raw, &cls); err != nil {
		c.metrics.MalformedResponses.WithLabelValues(TopicMetadata).Inc()
		c.logger.Error("interpreter: malformed metadata response", "id", id, "err", err)
		return OutcomeMalformed
	}

	code := ParseLanguageCode(cls.LanguageCode)
	if !c.store.AttachMetadata(id, code) {
		c.metrics.UnmatchedResponses.WithLabelValues(TopicMetadata).Inc()
		return OutcomeUnmatched
	}
	c.metrics.ResponsesHandled.WithLabelValues(TopicMetadata).Inc()
	c.logger.Debug("interpreter: classified", "id", id, "languageCode", code, "actions", len(cls.Actions), "reasoning", cls.Reasoning)

	if len(cls.Actions) > 0 {
		actions := cls.Actions
		c.dispatches.Go(func() {
			c.dispatcher.DispatchClassified(ctx, actions)
			c.notify()
		})
	}
	c.notify()
	return OutcomeClassified
}

func (c *Controller) handleFunctionCall(ctx context.Context, item openairealtime.ConversationItem) {
	call := action.FunctionCall{Name: item.Name, Arguments: item.Arguments, CallID: item.CallID}
	c.logger.Info("interpreter: function call", "name", call.Name, "call_id", call.CallID)

	c.dispatches.Go(func() {
		_, err := c.dispatcher.DispatchFunctionCall(ctx, c, call)
		if err != nil {
			var malformed *action.MalformedArgumentsError
			if errors.As(err, &malformed) {
				c.metrics.MalformedResponses.WithLabelValues(TopicAction).Inc()
				c.logger.Error("interpreter: malformed function call", "name", call.Name, "call_id", call.CallID, "err", err)
			} else {
				c.logger.Warn("interpreter: function call rejected", "name", call.Name, "call_id", call.CallID, "err", err)
			}
		}
		c.notify()
	})
}

func (c *Controller) handleError(ev *openairealtime.ServerEvent) Outcome {
	if ev.Error != nil {
		c.logger.Error("interpreter: model error", "event", ev.Type, "type", ev.Error.Type, "code", ev.Error.Code, "message", ev.Error.Message)
	} else {
		c.logger.Error("interpreter: model error", "event", ev.Type)
	}
	return OutcomeServerError
}

// responseText returns the text of the first message output. Audio
// responses carry their text as a transcript; text responses as text.
func responseText(ev *openairealtime.ServerEvent, audio bool) string {
	for i := range ev.Response.Output {
		item := &ev.Response.Output[i]
		if item.Type != "" && item.Type != openairealtime.ItemTypeMessage {
			continue
		}
		part, ok := item.FirstContent()
		if !ok {
			continue
		}
		first, second := part.Text, part.Transcript
		if audio {
			first, second = second, first
		}
		if first != "" {
			return first
		}
		return second
	}
	return ""
}

// ParseLanguageCode maps a classifier answer to a language code. Anything
// that is not English or Spanish is other.
func ParseLanguageCode(s string) transcript.LanguageCode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "eng", "en", "english":
		return transcript.LanguageEnglish
	case "spa", "es", "spanish":
		return transcript.LanguageSpanish
	default:
		return transcript.LanguageOther
	}
}

var codeFence = regexp.MustCompile("```(?:json)?")

// decodeModelJSON decodes model output into v. Markdown fences are stripped
// and a syntax error gets one repair attempt.
func decodeModelJSON(s string, v any) error {
	s = strings.TrimSpace(codeFence.ReplaceAllString(s, ""))
	if s == "" {
		return errors.New("empty response")
	}
	err := json.Unmarshal([]byte(s), v)
	if err == nil {
		return nil
	}
	var syntaxErr *json.SyntaxError
	if !errors.As(err, &syntaxErr) {
		return err
	}
	fixed, rerr := jsonrepair.JSONRepair(s)
	if rerr != nil {
		return fmt.Errorf("%w (repair: %v)", err, rerr)
	}
	return json.Unmarshal([]byte(fixed), v)
}
