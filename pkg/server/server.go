// Package server is the interpreter backend: it mints realtime session
// tokens, summarizes finished conversations, stores them and relays detected
// actions to an external webhook.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kronktech/sully/pkg/action"
	"github.com/kronktech/sully/pkg/conversation"
	"github.com/kronktech/sully/pkg/metrics"
	openairealtime "github.com/kronktech/sully/pkg/openai-realtime"
	"github.com/kronktech/sully/pkg/summary"
	"github.com/kronktech/sully/pkg/transcript"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = ":5001"

// ShutdownTimeout bounds the graceful shutdown of ListenAndServe.
const ShutdownTimeout = 10 * time.Second

// SessionInstructions are the standing instructions of every realtime
// session.
const SessionInstructions = `You are a healthcare interpreter and assistant that translates between English and Spanish. Follow these rules in priority order:

1. If someone tells you to stop or that they are done, just say "Ok".
2. If someone asks you to repeat what was said in either language, repeat your last translation verbatim.
3. If you are addressed directly as Sully (might sound like silly, sorry, sally, only, siri, selling, sewing, or slowly), reply directly in English. Do not translate direct requests to you!
4. If you hear English, translate it to Spanish. If you hear Spanish, translate it to English. Parrot back exactly what they said in the other language. Say EXACTLY what is said to you. Do NOT add your own commentary or explanations. Do NOT change names that are said (e.g. if they say "I'm Dr. Smith", say "Yo soy Dr. Smith" back to them). Do NOT change the wording.
5. If you hear a language other than Spanish or English, just say "I'm sorry, I didn't get that" in English.`

// DefaultSession returns the session parameters used to mint tokens.
func DefaultSession(model string) openairealtime.SessionRequest {
	if model == "" {
		model = openairealtime.ModelGPT4oRealtimePreview20241217
	}
	createResponse := true
	return openairealtime.SessionRequest{
		Model: model,
		SessionConfig: openairealtime.SessionConfig{
			Modalities:   []string{openairealtime.ModalityAudio, openairealtime.ModalityText},
			Instructions: SessionInstructions,
			Voice:        openairealtime.VoiceAlloy,
			InputAudioTranscription: &openairealtime.TranscriptionConfig{
				Model: "whisper-1",
			},
			TurnDetection: &openairealtime.TurnDetection{
				Type:              openairealtime.VADServerVAD,
				Threshold:         0.5,
				PrefixPaddingMs:   300,
				SilenceDurationMs: 2000,
				CreateResponse:    &createResponse,
			},
			Temperature: 0.6,
		},
	}
}

// SessionMinter creates ephemeral realtime sessions.
// *openairealtime.Client implements it.
type SessionMinter interface {
	CreateSession(ctx context.Context, req *openairealtime.SessionRequest) (*openairealtime.SessionResponse, error)
}

// Config holds the collaborators of a Server. Sessions, Summarizer and
// Conversations are required. Without Webhook relayed actions are logged and
// acknowledged.
type Config struct {
	Sessions      SessionMinter
	Session       openairealtime.SessionRequest
	Summarizer    summary.Summarizer
	Conversations conversation.Store
	Webhook       action.Webhook

	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
}

// Server serves the backend API.
type Server struct {
	cfg    Config
	logger *slog.Logger
	router chi.Router
}

// New creates a Server.
func New(cfg Config, logger *slog.Logger) (*Server, error) {
	switch {
	case cfg.Sessions == nil:
		return nil, errors.New("server: session minter is required")
	case cfg.Summarizer == nil:
		return nil, errors.New("server: summarizer is required")
	case cfg.Conversations == nil:
		return nil, errors.New("server: conversation store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Session.Model == "" {
		cfg.Session = DefaultSession("")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.DefaultMetrics
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	if cfg.Webhook != nil {
		cfg.Webhook = cfg.Metrics.Webhook(cfg.Webhook)
	}

	s := &Server{cfg: cfg, logger: logger, router: chi.NewRouter()}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger:  slog.NewLogLogger(s.logger.Handler(), slog.LevelDebug),
		NoColor: true,
	}))
	r.Use(middleware.Recoverer)
	// The interpreter UI is served from another origin.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	s.handle(r, http.MethodGet, "/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(api chi.Router) {
		s.handle(api, http.MethodPost, "/session", s.handleSession)
		s.handle(api, http.MethodPost, "/summary", s.handleSummary)
		s.handle(api, http.MethodPost, "/conversations", s.handleSaveConversation)
		s.handle(api, http.MethodGet, "/conversations", s.handleListConversations)
		s.handle(api, http.MethodGet, "/conversations/{id}", s.handleGetConversation)
		s.handle(api, http.MethodPost, "/webhook", s.handleWebhook)
	})
}

// handle registers h on r and counts its responses by route and status
// class.
func (s *Server) handle(r chi.Router, method, pattern string, h http.HandlerFunc) {
	r.Method(method, pattern, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
		h(ww, req)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := method + " " + chi.RouteContext(req.Context()).RoutePattern()
		s.cfg.Metrics.HTTPRequests.WithLabelValues(route, fmt.Sprintf("%dxx", status/100)).Inc()
	}))
}

// Handler returns the root handler with request ids, access logging, panic
// recovery and CORS applied.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	s.logger.Info("server: listening", "addr", ln.Addr().String())

	select {
	case err := <-errc:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("server: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type sessionRequest struct {
	Voice string `json:"voice"`
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	var in sessionRequest
	if !s.decode(w, r, &in, true) {
		return
	}
	req := s.cfg.Session
	if in.Voice != "" {
		req.Voice = in.Voice
	}
	resp, err := s.cfg.Sessions.CreateSession(r.Context(), &req)
	if err != nil {
		s.logger.Error("server: create session", "voice", req.Voice, "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to create session")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type summaryRequest struct {
	Transcripts []transcript.Record `json:"transcripts"`
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	var in summaryRequest
	if !s.decode(w, r, &in, false) {
		return
	}
	if in.Transcripts == nil {
		writeError(w, http.StatusBadRequest, "Invalid transcripts data")
		return
	}
	res, err := s.cfg.Summarizer.Summarize(r.Context(), in.Transcripts)
	s.cfg.Metrics.RecordSummary(err)
	if err != nil {
		s.logger.Error("server: summarize", "utterances", len(in.Transcripts), "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to generate summary")
		return
	}
	if res.Actions == nil {
		res.Actions = []action.DetectedAction{}
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSaveConversation(w http.ResponseWriter, r *http.Request) {
	var c conversation.Conversation
	if !s.decode(w, r, &c, false) {
		return
	}
	// Ids are assigned by the store.
	c.ID = ""
	if err := s.cfg.Conversations.Save(r.Context(), &c); err != nil {
		s.logger.Error("server: save conversation", "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to save conversation")
		return
	}
	s.logger.Info("server: conversation saved", "id", c.ID, "name", c.Name, "utterances", len(c.Transcript), "actions", len(c.Actions))
	writeJSON(w, http.StatusCreated, &c)
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	list, err := s.cfg.Conversations.List(r.Context())
	if err != nil {
		s.logger.Error("server: list conversations", "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch conversations")
		return
	}
	if list == nil {
		list = []conversation.Conversation{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, err := s.cfg.Conversations.Get(r.Context(), id)
	if errors.Is(err, conversation.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Conversation not found")
		return
	}
	if err != nil {
		s.logger.Error("server: get conversation", "id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch conversation")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var a action.DetectedAction
	if !s.decode(w, r, &a, false) {
		return
	}
	if s.cfg.Webhook == nil {
		s.logger.Info("server: action received, no webhook target", "type", a.Type, "details", a.Details)
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
		return
	}
	if err := s.cfg.Webhook.Forward(r.Context(), a); err != nil {
		s.logger.Error("server: forward action", "type", a.Type, "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to forward to webhook")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// decode reads a JSON body into v, answering 400 on failure. With optional
// set an empty body is accepted.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any, optional bool) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<20)).Decode(v)
	if err == nil || (optional && errors.Is(err, io.EOF)) {
		return true
	}
	s.logger.Warn("server: bad request body", "path", r.URL.Path, "err", err)
	writeError(w, http.StatusBadRequest, "Invalid request body")
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
