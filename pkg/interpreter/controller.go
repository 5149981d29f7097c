package interpreter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kronktech/sully/pkg/action"
	"github.com/kronktech/sully/pkg/conversation"
	"github.com/kronktech/sully/pkg/media"
	"github.com/kronktech/sully/pkg/metrics"
	openairealtime "github.com/kronktech/sully/pkg/openai-realtime"
	"github.com/kronktech/sully/pkg/summary"
	"github.com/kronktech/sully/pkg/transcript"
	"github.com/kronktech/sully/pkg/wake"
)

const (
	// DefaultReadyTimeout bounds the wait for the event channel to open.
	DefaultReadyTimeout = 10 * time.Second

	// DefaultFinalizeTimeout bounds summarizing and saving a conversation.
	DefaultFinalizeTimeout = 2 * time.Minute
)

// TokenSource issues ephemeral realtime session credentials.
type TokenSource interface {
	Token(ctx context.Context, voice string) (*openairealtime.SessionResponse, error)
}

// ConversationSaver persists finished conversations.
type ConversationSaver interface {
	SaveConversation(ctx context.Context, c *conversation.Conversation) (*conversation.Conversation, error)
}

// Cue plays the activation confirmation sound.
type Cue interface {
	Play(ctx context.Context) error
}

// FileCue plays a sound file through a player command.
type FileCue struct {
	Player *media.Player
	Path   string
}

// Play implements Cue. An empty Path plays nothing.
func (c FileCue) Play(ctx context.Context) error {
	if c.Path == "" {
		return nil
	}
	p := c.Player
	if p == nil {
		p = &media.Player{}
	}
	return p.PlayFile(ctx, c.Path)
}

// Deps are the collaborators of a Controller. Recognizer, Dialer and Tokens
// are required. Without Summarizer or Conversations finished sessions are
// not summarized or not saved. Without Webhook actions are only recorded.
type Deps struct {
	Recognizer    wake.Recognizer
	Dialer        Dialer
	Tokens        TokenSource
	Summarizer    summary.Summarizer
	Conversations ConversationSaver
	Webhook       action.Webhook
}

// Controller owns one interpreter: the activation gate, the realtime
// session, the transcript and the action list.
type Controller struct {
	gate          *wake.Gate
	store         *transcript.Store
	dispatcher    *action.Dispatcher
	dialer        Dialer
	tokens        TokenSource
	summarizer    summary.Summarizer
	conversations ConversationSaver
	tools         []openairealtime.Tool

	grammar         wake.Grammar
	gateOpts        []wake.GateOption
	cue             Cue
	metrics         *metrics.Metrics
	logger          *slog.Logger
	now             func() time.Time
	newID           func() string
	voice           string
	readyTimeout    time.Duration
	finalizeTimeout time.Duration
	onState         func(SessionState)

	mu              sync.Mutex
	runCtx          context.Context
	phase           Phase
	conn            openairealtime.Conn
	gen             uint64
	started         time.Time
	token           string
	tokenExpiry     time.Time
	lastTranslation string
	summaryText     string
	conversationID  string
	lastErr         string
	saving          int

	dispatches group
	background group
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock sets the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// WithMetrics replaces metrics.DefaultMetrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithGrammar sets the wake word grammar used by the gate and for stop
// commands.
func WithGrammar(g wake.Grammar) Option {
	return func(c *Controller) { c.grammar = g }
}

// WithGateOptions passes options through to the activation gate.
func WithGateOptions(opts ...wake.GateOption) Option {
	return func(c *Controller) { c.gateOpts = append(c.gateOpts, opts...) }
}

// WithCue sets the sound played when a session opens.
func WithCue(cue Cue) Option {
	return func(c *Controller) { c.cue = cue }
}

// WithVoice sets the voice requested with the session token.
func WithVoice(voice string) Option {
	return func(c *Controller) {
		if voice != "" {
			c.voice = voice
		}
	}
}

// WithReadyTimeout sets how long to wait for the event channel to open.
func WithReadyTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.readyTimeout = d
		}
	}
}

// WithFinalizeTimeout bounds summarizing and saving a conversation.
func WithFinalizeTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.finalizeTimeout = d
		}
	}
}

// WithStateHook registers a callback receiving a snapshot after every state
// change. It may be called from several goroutines at once.
func WithStateHook(f func(SessionState)) Option {
	return func(c *Controller) { c.onState = f }
}

// New creates a Controller.
func New(deps Deps, opts ...Option) (*Controller, error) {
	switch {
	case deps.Recognizer == nil:
		return nil, errors.New("interpreter: recognizer is required")
	case deps.Dialer == nil:
		return nil, errors.New("interpreter: dialer is required")
	case deps.Tokens == nil:
		return nil, errors.New("interpreter: token source is required")
	}
	tools, err := action.Tools()
	if err != nil {
		return nil, err
	}

	c := &Controller{
		dialer:          deps.Dialer,
		tokens:          deps.Tokens,
		summarizer:      deps.Summarizer,
		conversations:   deps.Conversations,
		tools:           tools,
		grammar:         wake.DefaultGrammar,
		metrics:         metrics.DefaultMetrics,
		logger:          slog.Default(),
		now:             time.Now,
		newID:           transcript.NewID,
		voice:           openairealtime.VoiceAlloy,
		readyTimeout:    DefaultReadyTimeout,
		finalizeTimeout: DefaultFinalizeTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}

	var webhook action.Webhook
	if deps.Webhook != nil {
		webhook = c.metrics.Webhook(deps.Webhook)
	}
	c.store = transcript.NewStore(transcript.WithLogger(c.logger), transcript.WithClock(c.now))
	c.dispatcher = action.NewDispatcher(webhook,
		action.WithLogger(c.logger),
		action.WithClock(c.now),
		action.WithObserver(c.metrics),
	)
	gateOpts := append([]wake.GateOption{
		wake.WithGrammar(c.grammar),
		wake.WithLogger(c.logger),
		wake.WithPhaseHook(c.onGatePhase),
	}, c.gateOpts...)
	c.gate = wake.NewGate(deps.Recognizer, c.onStartCommand, gateOpts...)
	return c, nil
}

// Run listens for the wake word until ctx is done. On return any open
// session has been closed and its conversation handed to the summarizer.
func (c *Controller) Run(ctx context.Context) error {
	c.mu.Lock()
	c.runCtx = ctx
	c.mu.Unlock()

	if err := c.gate.Start(ctx); err != nil {
		if wake.IsTerminal(err) {
			return fmt.Errorf("interpreter: ambient listening: %w", err)
		}
		c.logger.Warn("interpreter: ambient listening failed, retrying", "err", err)
	}

	<-ctx.Done()
	c.gate.Stop()
	c.Stop(ctx)
	c.Wait()
	return nil
}

// Wait blocks until in-flight dispatches, cue playback and conversation
// saves have finished.
func (c *Controller) Wait() {
	c.dispatches.Wait()
	c.background.Wait()
}

// Start opens a realtime session. It fails with ErrSessionActive if one is
// already connecting or open. On any setup failure the partially acquired
// resources are released, the controller returns to idle and ambient
// listening resumes.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.phase.active() {
		c.mu.Unlock()
		return ErrSessionActive
	}
	c.phase = PhaseConnecting
	c.gen++
	gen := c.gen
	c.lastErr = ""
	c.lastTranslation = ""
	c.summaryText = ""
	c.conversationID = ""
	c.mu.Unlock()
	c.notify()
	c.gate.Stop()

	conn, err := c.connect(ctx)
	if err != nil {
		ce := stepOf(err, StepOffer)
		c.metrics.SessionFailures.WithLabelValues(string(ce.Step)).Inc()
		c.logger.Error("interpreter: session setup failed", "step", ce.Step, "err", ce.Err)

		c.mu.Lock()
		current := c.gen == gen
		if current {
			c.phase = PhaseIdle
			c.lastErr = ce.Error()
		}
		c.mu.Unlock()
		if current {
			c.notify()
			c.resumeGate()
		}
		return ce
	}

	c.mu.Lock()
	if c.gen != gen || c.phase != PhaseConnecting {
		c.mu.Unlock()
		conn.Close()
		return ErrStartAborted
	}
	c.conn = conn
	c.phase = PhaseListening
	c.started = c.now()
	runCtx := c.runCtx
	c.mu.Unlock()
	if runCtx == nil {
		runCtx = context.WithoutCancel(ctx)
	}

	c.metrics.SessionStarts.Inc()
	c.metrics.SessionsActive.Inc()
	c.logger.Info("interpreter: session open")
	c.notify()

	if c.cue != nil {
		c.background.Go(func() {
			if err := c.cue.Play(runCtx); err != nil {
				c.logger.Warn("interpreter: activation cue", "err", err)
			}
		})
	}
	if err := c.sendEvent(openairealtime.SessionUpdateEvent(&openairealtime.SessionConfig{
		Tools:      c.tools,
		ToolChoice: "auto",
	})); err != nil {
		c.logger.Warn("interpreter: session update", "err", err)
	}

	c.background.Go(func() { c.readLoop(runCtx, conn, gen) })
	return nil
}

func (c *Controller) connect(ctx context.Context) (openairealtime.Conn, error) {
	secret, err := c.sessionToken(ctx)
	if err != nil {
		return nil, &ConnectError{Step: StepToken, Err: err}
	}

	conn, err := c.dialer.Dial(ctx, secret)
	if err != nil {
		ce := stepOf(err, StepOffer)
		if ce.Step == StepOffer {
			// The secret may be the reason; fetch a fresh one next time.
			c.dropToken()
		}
		return nil, ce
	}

	timer := time.NewTimer(c.readyTimeout)
	defer timer.Stop()
	select {
	case <-conn.Ready():
		return conn, nil
	case <-timer.C:
		conn.Close()
		return nil, &ConnectError{Step: StepChannel, Err: ErrReadyTimeout}
	case <-ctx.Done():
		conn.Close()
		return nil, &ConnectError{Step: StepChannel, Err: ctx.Err()}
	}
}

// sessionToken returns the cached credential, fetching a new one when none
// is cached or the cached one has expired.
func (c *Controller) sessionToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.token != "" && (c.tokenExpiry.IsZero() || c.now().Before(c.tokenExpiry)) {
		token := c.token
		c.mu.Unlock()
		return token, nil
	}
	c.mu.Unlock()

	resp, err := c.tokens.Token(ctx, c.voice)
	if err != nil {
		return "", err
	}
	if resp == nil || resp.ClientSecret.Value == "" {
		return "", errors.New("interpreter: session response has no client secret")
	}

	c.mu.Lock()
	c.token = resp.ClientSecret.Value
	c.tokenExpiry = time.Time{}
	if resp.ClientSecret.ExpiresAt > 0 {
		c.tokenExpiry = time.Unix(resp.ClientSecret.ExpiresAt, 0)
	}
	c.mu.Unlock()
	return resp.ClientSecret.Value, nil
}

func (c *Controller) dropToken() {
	c.mu.Lock()
	c.token = ""
	c.tokenExpiry = time.Time{}
	c.mu.Unlock()
}

func (c *Controller) readLoop(ctx context.Context, conn openairealtime.Conn, gen uint64) {
	for ev, err := range conn.Events() {
		if !c.current(gen) {
			return
		}
		if err != nil {
			c.logger.Warn("interpreter: realtime connection failed", "err", err)
			break
		}
		c.HandleEvent(ctx, ev)
	}
	if c.current(gen) {
		c.logger.Warn("interpreter: realtime connection closed by peer")
		c.endSession(ctx)
	}
}

// current reports whether gen is the generation of the open session.
func (c *Controller) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen == gen && c.conn != nil
}

// Stop ends the current session, if any, and hands the conversation to the
// summarizer. It is a no-op when no session is connecting or open.
func (c *Controller) Stop(ctx context.Context) {
	c.endSession(ctx)
}

// teardown releases the transport and moves to next. It reports false when
// there was no session to tear down.
func (c *Controller) teardown(next Phase) bool {
	c.mu.Lock()
	if !c.phase.active() {
		c.mu.Unlock()
		return false
	}
	conn := c.conn
	started := c.started
	c.conn = nil
	c.gen++
	c.phase = next
	c.started = time.Time{}
	c.mu.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			c.logger.Debug("interpreter: close transport", "err", err)
		}
		c.metrics.SessionsActive.Dec()
		c.metrics.SessionDuration.Observe(c.now().Sub(started).Seconds())
		c.logger.Info("interpreter: session closed", "duration", c.now().Sub(started).Round(time.Second))
	}
	c.notify()
	return true
}

// resumeGate restarts ambient listening unless the controller is shutting
// down or was never run.
func (c *Controller) resumeGate() {
	c.mu.Lock()
	ctx := c.runCtx
	c.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	if err := c.gate.Start(ctx); err != nil {
		c.logger.Warn("interpreter: resume ambient listening", "err", err)
	}
}

func (c *Controller) onGatePhase(p wake.Phase) {
	if p == wake.PhaseArmed {
		c.metrics.Activations.Inc()
	}
	c.mu.Lock()
	changed := false
	switch {
	// The gate is already listening again while a closed session is saved.
	case p == wake.PhaseArmed && (c.phase == PhaseIdle || c.phase == PhaseStopping):
		c.phase = PhaseArmed
		changed = true
	case p == wake.PhaseIdle && c.phase == PhaseArmed:
		c.phase = PhaseIdle
		changed = true
	}
	c.mu.Unlock()
	if changed {
		c.notify()
	}
}

// onStartCommand runs when the gate hears a start command while armed.
func (c *Controller) onStartCommand() {
	c.metrics.StartCommands.Inc()
	c.store.Clear()
	c.dispatcher.Reset()

	c.mu.Lock()
	ctx := c.runCtx
	c.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	c.background.Go(func() {
		if err := c.Start(ctx); err != nil && !errors.Is(err, ErrSessionActive) {
			c.logger.Debug("interpreter: start after command", "err", err)
		}
	})
}

// sendEvent transmits ev on the open session. It is the only path to the
// transport.
func (c *Controller) sendEvent(ev *openairealtime.ClientEvent) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return openairealtime.ErrNotOpen
	}
	return conn.Send(ev)
}

// SendStructuredRequest sends req to the model. When the session is not
// open the request is dropped and only logged.
func (c *Controller) SendStructuredRequest(req Request) {
	ev, err := req.Event()
	if err != nil {
		c.logger.Warn("interpreter: invalid request", "kind", req.Kind, "err", err)
		return
	}
	if err := c.sendEvent(ev); err != nil {
		if errors.Is(err, openairealtime.ErrNotOpen) {
			c.logger.Debug("interpreter: channel not open, request dropped", "kind", req.Kind, "transcript_id", req.TranscriptID)
			return
		}
		c.logger.Warn("interpreter: send request", "kind", req.Kind, "err", err)
	}
}

// SendFunctionOutput implements action.Session.
func (c *Controller) SendFunctionOutput(callID, output string) error {
	ev, err := Request{Kind: RequestFunctionOutput, CallID: callID, Text: output}.Event()
	if err != nil {
		return err
	}
	return c.sendEvent(ev)
}

// RequestContinue implements action.Session.
func (c *Controller) RequestContinue() error {
	ev, err := Request{Kind: RequestContinue}.Event()
	if err != nil {
		return err
	}
	return c.sendEvent(ev)
}

// RequestRepeat asks the model to say the latest translation again. It does
// nothing before the first translation of the session.
func (c *Controller) RequestRepeat() {
	c.mu.Lock()
	translation := c.lastTranslation
	c.mu.Unlock()
	if translation == "" {
		c.logger.Debug("interpreter: nothing to repeat")
		return
	}
	c.SendStructuredRequest(Request{Kind: RequestRepeat, Text: translation})
}

// Transcript returns the session transcript.
func (c *Controller) Transcript() *transcript.Store {
	return c.store
}

// Actions returns the actions detected in the current session.
func (c *Controller) Actions() []action.DetectedAction {
	return c.dispatcher.Actions()
}

// State returns a snapshot of the controller state.
func (c *Controller) State() SessionState {
	c.mu.Lock()
	s := SessionState{
		Phase:           c.phase,
		SessionStarted:  c.started,
		LastTranslation: c.lastTranslation,
		Summary:         c.summaryText,
		ConversationID:  c.conversationID,
		LastError:       c.lastErr,
		Saving:          c.saving > 0,
	}
	c.mu.Unlock()
	s.Records = c.store.Len()
	s.Completed = len(c.store.Completed())
	s.Actions = len(c.dispatcher.Actions())
	return s
}

func (c *Controller) notify() {
	if c.onState != nil {
		c.onState(c.State())
	}
}

var _ action.Session = (*Controller)(nil)

// group tracks goroutines. Unlike sync.WaitGroup, Go may be called
// concurrently with Wait and from inside a tracked goroutine.
type group struct {
	mu   sync.Mutex
	cond *sync.Cond
	n    int
}

func (g *group) Go(f func()) {
	g.mu.Lock()
	g.n++
	g.mu.Unlock()
	go func() {
		defer g.done()
		f()
	}()
}

func (g *group) done() {
	g.mu.Lock()
	g.n--
	if g.n == 0 && g.cond != nil {
		g.cond.Broadcast()
	}
	g.mu.Unlock()
}

func (g *group) Wait() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cond == nil {
		g.cond = sync.NewCond(&g.mu)
	}
	for g.n > 0 {
		g.cond.Wait()
	}
}
