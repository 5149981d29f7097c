package interpreter

import (
	"fmt"

	openairealtime "github.com/kronktech/sully/pkg/openai-realtime"
)

// Response topics carried in response metadata. They route response.done
// events back to the record they belong to.
const (
	TopicTranslation = "translation"
	TopicMetadata    = "metadata"
	TopicAction      = "action"
)

// Metadata keys of out-of-band responses.
const (
	metaTranscriptID = "transcriptId"
	metaTopic        = "topic"
)

// RequestKind selects the structured instruction sent to the model.
type RequestKind string

const (
	RequestTranslation    RequestKind = "translation"
	RequestMetadata       RequestKind = "metadata"
	RequestRepeat         RequestKind = "repeat"
	RequestFunctionOutput RequestKind = "function_output"
	RequestContinue       RequestKind = "continue"
	RequestClearAudio     RequestKind = "clear_audio"
)

// Request is a structured instruction for the model.
//
// Text is the utterance for translation and metadata requests, the
// translation to say again for repeat requests and the JSON result for
// function outputs.
type Request struct {
	Kind         RequestKind
	TranscriptID string
	Text         string
	CallID       string
}

const translationPrompt = `You are a healthcare interpreter and assistant that translates between English and Spanish. You must respond to the following utterance:

"%s"

Follow these rules in priority order:

1. If they told you to stop or that they are done, just say "Ok".
2. If they asked you to repeat something, repeat the last thing you said verbatim.
3. If they addressed you directly as Sully (might sound like silly, sorry, sally, only, siri, selling, sewing, or slowly), reply directly in English. Do not translate direct requests to you!
4. If they spoke in English, translate it to Spanish. If they spoke in Spanish, translate it to English. Parrot back exactly what they said in the other language. Say EXACTLY what is said to you. Do NOT add your own commentary or explanations. Do NOT change names that are said (e.g. if they say "I'm Dr. Smith", say "Yo soy Dr. Smith" back to them). Do NOT change the wording.
5. If they spoke in a language other than Spanish or English, just say "I'm sorry, I didn't get that" in English.`

const metadataPrompt = `You are a healthcare interpreter and assistant that translates between English and Spanish. Return a JSON object identifying:

- **languageCode**: The languageCode of the most recent utterance from the conversation. If it is close to English assume it is English. If it is close to Spanish (e.g. Portuguese) assume it is actually Spanish.
- **actions**: A list of any actions requested by the utterance.

There are 2 types of action schemas:

- **order_lab**: The doctor wants to order a lab.
  - **schema**: { "type": "order_lab", "details": { "test_type": "<string>", "urgency": "<string>", "instructions": "<string>" } }
- **schedule_followup**: The doctor wants to schedule another appointment.
  - **schema**: { "type": "schedule_followup", "details": { "timeframe": "<string>", "reason": "<string>", "specialty": "<string>" } }

The utterance is:

"%s"

Example JSON output:

{ "reasoning": "<One sentence explaining your reasoning for the language you identified as well as any action(s) you identified.>", "languageCode": "<3 letter language code. Must be eng, spa, or other if you think it's some other language>", "actions": [<The list of actions you identified. Empty list if no actions are requested.>] }`

const repeatPrompt = `Repeat this translation verbatim: "%s"`

// TranslationInstructions returns the instructions of a translation request.
func TranslationInstructions(utterance string) string {
	return fmt.Sprintf(translationPrompt, utterance)
}

// MetadataInstructions returns the instructions of a classification request.
func MetadataInstructions(utterance string) string {
	return fmt.Sprintf(metadataPrompt, utterance)
}

// Event builds the wire event for r.
func (r Request) Event() (*openairealtime.ClientEvent, error) {
	switch r.Kind {
	case RequestTranslation, RequestMetadata:
		if r.TranscriptID == "" {
			return nil, fmt.Errorf("interpreter: %s request without transcript id", r.Kind)
		}
		if r.Text == "" {
			return nil, fmt.Errorf("interpreter: %s request without utterance", r.Kind)
		}
		opts := &openairealtime.ResponseOptions{
			Conversation: openairealtime.ConversationNone,
			Metadata: map[string]string{
				metaTranscriptID: r.TranscriptID,
				metaTopic:        string(r.Kind),
			},
		}
		if r.Kind == RequestTranslation {
			opts.Modalities = []string{openairealtime.ModalityAudio, openairealtime.ModalityText}
			opts.Instructions = TranslationInstructions(r.Text)
		} else {
			opts.Modalities = []string{openairealtime.ModalityText}
			opts.Instructions = MetadataInstructions(r.Text)
		}
		return openairealtime.ResponseCreateEvent(opts), nil

	case RequestRepeat:
		if r.Text == "" {
			return nil, fmt.Errorf("interpreter: repeat request without translation")
		}
		return openairealtime.ResponseCreateEvent(&openairealtime.ResponseOptions{
			Modalities:   []string{openairealtime.ModalityAudio, openairealtime.ModalityText},
			Instructions: fmt.Sprintf(repeatPrompt, r.Text),
		}), nil

	case RequestFunctionOutput:
		if r.CallID == "" {
			return nil, fmt.Errorf("interpreter: function output without call id")
		}
		return openairealtime.FunctionCallOutputEvent(r.CallID, r.Text), nil

	case RequestContinue:
		return openairealtime.ResponseCreateEvent(nil), nil

	case RequestClearAudio:
		return openairealtime.InputAudioBufferClearEvent(), nil

	default:
		return nil, fmt.Errorf("interpreter: unknown request kind %q", r.Kind)
	}
}
