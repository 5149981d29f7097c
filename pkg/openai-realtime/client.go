package openairealtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/pion/webrtc/v3"
)

const (
	// DefaultWebSocketURL is the default WebSocket endpoint.
	DefaultWebSocketURL = "wss://api.openai.com/v1/realtime"

	// DefaultHTTPURL is the default HTTP endpoint used for session creation
	// and the WebRTC SDP exchange.
	DefaultHTTPURL = "https://api.openai.com/v1/realtime"

	// DefaultSTUNServer is the ICE server used when none is configured.
	DefaultSTUNServer = "stun:stun.l.google.com:19302"
)

// Client is the OpenAI Realtime API client.
type Client struct {
	apiKey       string
	organization string
	project      string
	wsURL        string
	httpURL      string
	httpClient   *http.Client
	iceServers   []webrtc.ICEServer
	logger       *slog.Logger
}

// Option configures the Client.
type Option func(*Client)

// NewClient creates a new OpenAI Realtime client.
//
// An API key is only needed to create sessions or to dial the WebSocket
// endpoint directly; WebRTC connections use an ephemeral secret instead.
func NewClient(opts ...Option) *Client {
	c := &Client{
		wsURL:      DefaultWebSocketURL,
		httpURL:    DefaultHTTPURL,
		httpClient: http.DefaultClient,
		iceServers: []webrtc.ICEServer{{URLs: []string{DefaultSTUNServer}}},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithOrganization sets the organization ID for API requests.
func WithOrganization(orgID string) Option {
	return func(c *Client) {
		c.organization = orgID
	}
}

// WithProject sets the project ID for API requests.
func WithProject(projectID string) Option {
	return func(c *Client) {
		c.project = projectID
	}
}

// WithWebSocketURL sets the WebSocket URL.
func WithWebSocketURL(url string) Option {
	return func(c *Client) {
		c.wsURL = url
	}
}

// WithHTTPURL sets the HTTP URL for session creation and SDP exchange.
func WithHTTPURL(url string) Option {
	return func(c *Client) {
		c.httpURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithICEServers replaces the ICE servers used for WebRTC.
func WithICEServers(servers ...webrtc.ICEServer) Option {
	return func(c *Client) {
		c.iceServers = servers
	}
}

// WithLogger sets the logger used for wire-level debug output.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// CreateSession mints an ephemeral realtime session. The returned
// ClientSecret.Value is the bearer credential for DialWebRTC.
func (c *Client) CreateSession(ctx context.Context, req *SessionRequest) (*SessionResponse, error) {
	if c.apiKey == "" {
		return nil, &Error{Code: "missing_api_key", Message: "an API key is required to create sessions"}
	}
	if req == nil {
		req = &SessionRequest{}
	}
	if req.Model == "" {
		req.Model = ModelGPT4oRealtimePreview
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.httpURL+"/sessions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	c.setAuth(hreq.Header, c.apiKey)
	hreq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(hreq)
	if err != nil {
		return nil, fmt.Errorf("openai-realtime: create session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, responseError(resp, "session_creation_failed")
	}

	var out SessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("openai-realtime: decode session: %w", err)
	}
	return &out, nil
}

func (c *Client) setAuth(h http.Header, token string) {
	h.Set("Authorization", "Bearer "+token)
	if c.organization != "" {
		h.Set("OpenAI-Organization", c.organization)
	}
	if c.project != "" {
		h.Set("OpenAI-Project", c.project)
	}
}

// responseError builds an *Error from a failed HTTP response, using the API
// error body when there is one.
func responseError(resp *http.Response, code string) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var wrapped struct {
		Error *Error `json:"error"`
	}
	if json.Unmarshal(body, &wrapped) == nil && wrapped.Error != nil && wrapped.Error.Message != "" {
		wrapped.Error.HTTPStatus = resp.StatusCode
		return wrapped.Error
	}
	return &Error{
		Code:       code,
		Message:    string(bytes.TrimSpace(body)),
		HTTPStatus: resp.StatusCode,
	}
}
