package summary

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go"

	"github.com/kronktech/sully/pkg/transcript"
)

// OpenAI summarizes with an OpenAI chat model in JSON mode.
type OpenAI struct {
	Client *openai.Client
	// Model defaults to DefaultModel.
	Model string
	// Now stamps detected actions. Defaults to time.Now.
	Now func() time.Time
}

var _ Summarizer = (*OpenAI)(nil)

func (o *OpenAI) Summarize(ctx context.Context, records []transcript.Record) (*Result, error) {
	return summarize(ctx, records, o.Now, o.complete)
}

func (o *OpenAI) complete(ctx context.Context, system, user string) (string, error) {
	model := o.Model
	if model == "" {
		model = DefaultModel
	}
	resp, err := o.Client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
		},
	})
	if err != nil {
		return "", fmt.Errorf("summary: openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("summary: openai: no choices")
	}
	choice := resp.Choices[0]
	if choice.Message.Refusal != "" {
		return "", fmt.Errorf("summary: openai: refused: %s", choice.Message.Refusal)
	}
	return choice.Message.Content, nil
}
