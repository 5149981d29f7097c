package summary

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/googleapis/gax-go/v2/apierror"
	"google.golang.org/genai"

	"github.com/kronktech/sully/pkg/transcript"
)

// DefaultGeminiModel is the Gemini model used for summaries.
const DefaultGeminiModel = "gemini-2.0-flash"

// Gemini summarizes with a Gemini model constrained to JSON output.
type Gemini struct {
	Client *genai.Client
	// Model should not start with "models/". Defaults to DefaultGeminiModel.
	Model string
	// Now stamps detected actions. Defaults to time.Now.
	Now func() time.Time
}

var _ Summarizer = (*Gemini)(nil)

func (g *Gemini) Summarize(ctx context.Context, records []transcript.Record) (*Result, error) {
	return summarize(ctx, records, g.Now, g.complete)
}

func (g *Gemini) complete(ctx context.Context, system, user string) (string, error) {
	model := g.Model
	if model == "" {
		model = DefaultGeminiModel
	}
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{genai.NewPartFromText(system)}},
		ResponseMIMEType:  "application/json",
	}
	contents := []*genai.Content{genai.NewContentFromText(user, genai.RoleUser)}

	resp, err := g.Client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		var apiErr *apierror.APIError
		if errors.As(err, &apiErr) {
			err = apiErr.Unwrap()
		}
		return "", fmt.Errorf("summary: gemini: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("summary: gemini: no candidates")
	}
	c := resp.Candidates[0]
	if c.FinishReason != "" && c.FinishReason != genai.FinishReasonStop {
		return "", fmt.Errorf("summary: gemini: unexpected finish reason: %s", c.FinishReason)
	}
	var sb strings.Builder
	for _, p := range c.Content.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String(), nil
}
