// Package backend is the HTTP client for the interpreter's backend: session
// token issuance, summarization, conversation persistence and the action
// webhook.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kronktech/sully/pkg/action"
	"github.com/kronktech/sully/pkg/conversation"
	openairealtime "github.com/kronktech/sully/pkg/openai-realtime"
	"github.com/kronktech/sully/pkg/summary"
	"github.com/kronktech/sully/pkg/transcript"
)

const (
	DefaultURL     = "http://localhost:5001"
	DefaultTimeout = 30 * time.Second
)

// StatusError is returned for non-2xx backend responses.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	msg := e.Body
	var wrapped struct {
		Error string `json:"error"`
	}
	if json.Unmarshal([]byte(e.Body), &wrapped) == nil && wrapped.Error != "" {
		msg = wrapped.Error
	}
	return fmt.Sprintf("backend: %s %s: %d %s", e.Method, e.Path, e.StatusCode, msg)
}

// Client talks to the backend over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default client with its DefaultTimeout.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) {
		if l != nil {
			cl.logger = l
		}
	}
}

// New creates a Client for the backend at baseURL.
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("backend: encode %s: %w", path, err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("backend: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	c.logger.Debug("backend: request", "method", method, "path", path, "status", resp.StatusCode, "elapsed", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return &StatusError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("backend: decode %s: %w", path, err)
	}
	return nil
}

// TokenRequest is the body of POST /api/session.
type TokenRequest struct {
	Voice string `json:"voice,omitempty"`
}

// Token requests a fresh realtime session. The credential is
// ClientSecret.Value of the response.
func (c *Client) Token(ctx context.Context, voice string) (*openairealtime.SessionResponse, error) {
	var out openairealtime.SessionResponse
	if err := c.do(ctx, http.MethodPost, "/api/session", TokenRequest{Voice: voice}, &out); err != nil {
		return nil, err
	}
	if out.ClientSecret.Value == "" {
		return nil, fmt.Errorf("backend: session response without client secret")
	}
	return &out, nil
}

// SummaryRequest is the body of POST /api/summary.
type SummaryRequest struct {
	Transcripts []transcript.Record `json:"transcripts"`
}

// Summarize asks the backend to summarize completed records.
func (c *Client) Summarize(ctx context.Context, records []transcript.Record) (*summary.Result, error) {
	if records == nil {
		records = []transcript.Record{}
	}
	var out summary.Result
	if err := c.do(ctx, http.MethodPost, "/api/summary", SummaryRequest{Transcripts: records}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SaveConversation persists c and returns the stored record.
func (c *Client) SaveConversation(ctx context.Context, conv *conversation.Conversation) (*conversation.Conversation, error) {
	var out conversation.Conversation
	if err := c.do(ctx, http.MethodPost, "/api/conversations", conv, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListConversations returns stored conversations, newest first.
func (c *Client) ListConversations(ctx context.Context) ([]conversation.Conversation, error) {
	var out []conversation.Conversation
	if err := c.do(ctx, http.MethodGet, "/api/conversations", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetConversation returns one conversation. A missing id yields a
// *StatusError with StatusCode 404.
func (c *Client) GetConversation(ctx context.Context, id string) (*conversation.Conversation, error) {
	var out conversation.Conversation
	if err := c.do(ctx, http.MethodGet, "/api/conversations/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Forward delivers a to the backend webhook relay. It implements
// action.Webhook.
func (c *Client) Forward(ctx context.Context, a action.DetectedAction) error {
	return c.do(ctx, http.MethodPost, "/api/webhook", a, nil)
}

var _ action.Webhook = (*Client)(nil)
