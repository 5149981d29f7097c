// Package deepgram is an ambient speech recognizer backed by Deepgram's
// streaming listen API.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/kronktech/sully/pkg/wake"
)

const (
	DefaultBaseURL    = "https://api.deepgram.com/v1"
	DefaultModel      = "nova-2"
	DefaultSampleRate = 16000

	// chunkSize is 100ms of 16 kHz mono PCM.
	chunkSize = 3200
)

// Config controls the listen connection.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Language    string
	SmartFormat bool
	// SampleRate of the PCM the audio source produces.
	SampleRate int
}

// AudioSource opens a stream of signed 16-bit little-endian mono PCM at the
// configured sample rate. The stream is closed when recognition stops.
type AudioSource func(ctx context.Context) (io.ReadCloser, error)

// Recognizer implements wake.Recognizer. Each Start opens a new listen
// connection and audio stream. Callbacks stop as soon as Stop is called.
type Recognizer struct {
	cfg    Config
	source AudioSource
	dialer *websocket.Dialer
	logger *slog.Logger

	mu      sync.Mutex
	current *stream
}

// Option configures a Recognizer.
type Option func(*Recognizer)

// WithDialer replaces websocket.DefaultDialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(r *Recognizer) { r.dialer = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Recognizer) {
		if l != nil {
			r.logger = l
		}
	}
}

// New creates a recognizer reading audio from source.
func New(cfg Config, source AudioSource, opts ...Option) *Recognizer {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	r := &Recognizer{
		cfg:    cfg,
		source: source,
		dialer: websocket.DefaultDialer,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start implements wake.Recognizer. A running stream is stopped first.
func (r *Recognizer) Start(ctx context.Context, h wake.Handler) error {
	if strings.TrimSpace(r.cfg.APIKey) == "" {
		return &wake.RecognitionError{Code: wake.CodeNotAllowed, Err: errors.New("DEEPGRAM_API_KEY is not configured")}
	}
	r.Stop()

	listenURL, err := buildListenURL(r.cfg)
	if err != nil {
		return &wake.RecognitionError{Code: wake.CodeNotAllowed, Err: err}
	}
	headers := http.Header{}
	headers.Set("Authorization", "Token "+r.cfg.APIKey)

	conn, resp, err := r.dialer.DialContext(ctx, listenURL, headers)
	if err != nil {
		code := wake.CodeNetwork
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			code = wake.CodeNotAllowed
		}
		return &wake.RecognitionError{Code: code, Err: fmt.Errorf("deepgram: dial: %w", err)}
	}

	sctx, cancel := context.WithCancel(ctx)
	audio, err := r.source(sctx)
	if err != nil {
		cancel()
		conn.Close()
		return &wake.RecognitionError{Code: wake.CodeAudioCapture, Err: err}
	}

	s := &stream{
		conn:    conn,
		audio:   audio,
		handler: h,
		cancel:  cancel,
		logger:  r.logger,
	}
	r.mu.Lock()
	r.current = s
	r.mu.Unlock()

	go s.writeLoop()
	go s.readLoop()
	go func() {
		<-sctx.Done()
		s.stop()
	}()
	r.logger.Debug("deepgram: listening", "model", r.cfg.Model)
	return nil
}

// Stop implements wake.Recognizer.
func (r *Recognizer) Stop() {
	r.mu.Lock()
	s := r.current
	r.current = nil
	r.mu.Unlock()
	if s != nil {
		s.stop()
	}
}

type stream struct {
	conn    *websocket.Conn
	audio   io.ReadCloser
	handler wake.Handler
	cancel  context.CancelFunc
	logger  *slog.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	stopped bool
	ended   bool
}

// stop closes the stream without reporting to the handler.
func (s *stream) stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	s.cancel()
	s.audio.Close()
	s.writeMu.Lock()
	_ = s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`))
	s.writeMu.Unlock()
	s.conn.Close()
}

func (s *stream) active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.stopped
}

// fail reports err once, then ends the stream.
func (s *stream) fail(err error) {
	s.mu.Lock()
	if s.stopped || s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	s.mu.Unlock()

	if err != nil {
		s.handler.OnError(err)
	}
	s.handler.OnEnd()
	s.stop()
}

func (s *stream) writeLoop() {
	buf := make([]byte, chunkSize)
	for {
		n, err := io.ReadFull(s.audio, buf)
		if n > 0 {
			s.writeMu.Lock()
			werr := s.conn.WriteMessage(websocket.BinaryMessage, buf[:n])
			s.writeMu.Unlock()
			if werr != nil {
				s.fail(&wake.RecognitionError{Code: wake.CodeNetwork, Err: fmt.Errorf("deepgram: send audio: %w", werr)})
				return
			}
		}
		if err != nil {
			if !s.active() {
				return
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				s.fail(&wake.RecognitionError{Code: wake.CodeAudioCapture, Err: errors.New("deepgram: audio source ended")})
			} else {
				s.fail(&wake.RecognitionError{Code: wake.CodeAudioCapture, Err: err})
			}
			return
		}
	}
}

func (s *stream) readLoop() {
	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				s.fail(nil)
			} else {
				s.fail(&wake.RecognitionError{Code: wake.CodeNetwork, Err: fmt.Errorf("deepgram: read: %w", err)})
			}
			return
		}

		var msg listenResponse
		if err := json.Unmarshal(payload, &msg); err != nil {
			continue
		}
		if strings.EqualFold(msg.Type, "Error") {
			message := strings.TrimSpace(msg.Message)
			if message == "" {
				message = "unknown error"
			}
			s.fail(&wake.RecognitionError{Code: wake.CodeNetwork, Err: errors.New("deepgram: " + message)})
			return
		}
		if !msg.IsFinal && !msg.SpeechFinal {
			continue
		}
		text := msg.transcript()
		if text == "" || !s.active() {
			continue
		}
		s.logger.Debug("deepgram: result", "text", text)
		s.handler.OnResult(text)
	}
}

type listenResponse struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`

	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
}

func (r listenResponse) transcript() string {
	if len(r.Channel.Alternatives) == 0 {
		return ""
	}
	return strings.TrimSpace(r.Channel.Alternatives[0].Transcript)
}

func buildListenURL(cfg Config) (string, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		base = DefaultBaseURL
	}
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	base = strings.TrimRight(base, "/")

	u, err := url.Parse(base + "/listen")
	if err != nil {
		return "", fmt.Errorf("deepgram: invalid base URL: %w", err)
	}
	q := u.Query()
	q.Set("model", cfg.Model)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(cfg.SampleRate))
	q.Set("channels", "1")
	q.Set("interim_results", "false")
	q.Set("smart_format", strconv.FormatBool(cfg.SmartFormat))
	if cfg.Language != "" {
		q.Set("language", cfg.Language)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
