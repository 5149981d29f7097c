package wake

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultWindow is how long the gate stays armed after the wake word.
	DefaultWindow = 5 * time.Second

	// DefaultRestartDelay is the backoff before a recognizer restart.
	DefaultRestartDelay = time.Second
)

// Phase is the state of the gate.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseArmed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseArmed:
		return "armed"
	default:
		return "unknown"
	}
}

// Handler receives the output of one recognition stream.
type Handler interface {
	// OnResult delivers a final utterance.
	OnResult(text string)
	// OnError reports a recognition failure. OnEnd follows.
	OnError(err error)
	// OnEnd reports that the stream has ended.
	OnEnd()
}

// Recognizer is an ambient speech recognizer.
type Recognizer interface {
	// Start begins a recognition stream reporting to h.
	Start(ctx context.Context, h Handler) error
	// Stop ends the current stream.
	Stop()
}

// Gate arms on the wake word and starts a session when a start command is
// heard while armed.
//
// At most one recognition stream runs per gate. While armed, a timer token
// reverts the gate to idle after the window; every new activation cancels
// and replaces it. A transient recognizer failure or end of stream schedules
// a single restart after the restart delay; further requests while one is
// pending are dropped.
type Gate struct {
	rec     Recognizer
	grammar Grammar
	onStart func()
	onPhase func(Phase)
	clock   Clock
	window  time.Duration
	delay   time.Duration
	logger  *slog.Logger

	mu       sync.Mutex
	ctx      context.Context
	running  bool
	phase    Phase
	armTimer Timer
	armGen   uint64
	retry    Timer
	retrying bool
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithGrammar replaces DefaultGrammar.
func WithGrammar(g Grammar) GateOption {
	return func(gate *Gate) { gate.grammar = g }
}

// WithClock replaces SystemClock.
func WithClock(c Clock) GateOption {
	return func(gate *Gate) { gate.clock = c }
}

// WithWindow sets the armed window.
func WithWindow(d time.Duration) GateOption {
	return func(gate *Gate) {
		if d > 0 {
			gate.window = d
		}
	}
}

// WithRestartDelay sets the recognizer restart backoff.
func WithRestartDelay(d time.Duration) GateOption {
	return func(gate *Gate) {
		if d > 0 {
			gate.delay = d
		}
	}
}

// WithPhaseHook registers a callback for phase changes.
func WithPhaseHook(f func(Phase)) GateOption {
	return func(gate *Gate) { gate.onPhase = f }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) GateOption {
	return func(gate *Gate) {
		if l != nil {
			gate.logger = l
		}
	}
}

// NewGate creates a gate listening with rec and calling onStart when a
// session must begin.
func NewGate(rec Recognizer, onStart func(), opts ...GateOption) *Gate {
	g := &Gate{
		rec:     rec,
		grammar: DefaultGrammar,
		onStart: onStart,
		clock:   SystemClock,
		window:  DefaultWindow,
		delay:   DefaultRestartDelay,
		logger:  slog.Default(),
		ctx:     context.Background(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Start begins ambient listening. Calling it while already listening is a
// no-op. A failure to start the recognizer is handled like a stream error.
func (g *Gate) Start(ctx context.Context) error {
	g.mu.Lock()
	if g.running {
		g.mu.Unlock()
		return nil
	}
	g.running = true
	g.ctx = ctx
	g.mu.Unlock()

	g.logger.Debug("wake: listening")
	if err := g.rec.Start(ctx, g); err != nil {
		g.OnError(err)
		return err
	}
	return nil
}

// Stop ends ambient listening and cancels every pending timer.
func (g *Gate) Stop() {
	g.mu.Lock()
	if !g.running {
		g.mu.Unlock()
		return
	}
	g.running = false
	g.cancelRetryLocked()
	changed := g.disarmLocked()
	g.mu.Unlock()

	g.rec.Stop()
	if changed {
		g.notify(PhaseIdle)
	}
}

// Running reports whether the gate is listening.
func (g *Gate) Running() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.running
}

// Phase returns the current phase.
func (g *Gate) Phase() Phase {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.phase
}

// OnResult implements Handler.
func (g *Gate) OnResult(text string) {
	g.mu.Lock()
	if !g.running {
		g.mu.Unlock()
		return
	}
	armed := false
	if g.grammar.IsActivation(text) {
		g.armLocked()
		armed = true
	}
	if g.phase != PhaseArmed || !g.grammar.IsStart(text) {
		g.mu.Unlock()
		if armed {
			g.logger.Debug("wake: armed", "utterance", text)
			g.notify(PhaseArmed)
		}
		return
	}

	// Armed and commanded: hand over to the session.
	g.disarmLocked()
	g.running = false
	g.cancelRetryLocked()
	g.mu.Unlock()

	g.logger.Info("wake: start command", "utterance", text)
	g.notify(PhaseIdle)
	g.rec.Stop()
	if g.onStart != nil {
		g.onStart()
	}
}

// OnError implements Handler.
func (g *Gate) OnError(err error) {
	if IsTerminal(err) {
		// Listening stays off until the next Start.
		g.mu.Lock()
		wasRunning := g.running
		g.running = false
		g.cancelRetryLocked()
		changed := g.disarmLocked()
		g.mu.Unlock()
		if wasRunning {
			g.logger.Warn("wake: recognizer stopped", "err", err)
		}
		if changed {
			g.notify(PhaseIdle)
		}
		return
	}
	g.logger.Debug("wake: recognizer error", "err", err)
	g.scheduleRestart()
}

// OnEnd implements Handler.
func (g *Gate) OnEnd() {
	g.scheduleRestart()
}

func (g *Gate) scheduleRestart() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.running || g.retrying {
		return
	}
	g.retrying = true
	g.retry = g.clock.AfterFunc(g.delay, g.restart)
}

func (g *Gate) restart() {
	g.mu.Lock()
	if !g.retrying {
		g.mu.Unlock()
		return
	}
	g.retrying = false
	g.retry = nil
	if !g.running {
		g.mu.Unlock()
		return
	}
	ctx := g.ctx
	g.mu.Unlock()

	g.logger.Debug("wake: restarting recognizer")
	if err := g.rec.Start(ctx, g); err != nil {
		g.OnError(err)
	}
}

// armLocked (re)starts the armed window, superseding any previous timer.
func (g *Gate) armLocked() {
	if g.armTimer != nil {
		g.armTimer.Stop()
	}
	g.phase = PhaseArmed
	g.armGen++
	gen := g.armGen
	g.armTimer = g.clock.AfterFunc(g.window, func() { g.expire(gen) })
}

func (g *Gate) expire(gen uint64) {
	g.mu.Lock()
	if gen != g.armGen || g.phase != PhaseArmed {
		g.mu.Unlock()
		return
	}
	g.phase = PhaseIdle
	g.armTimer = nil
	g.mu.Unlock()
	g.logger.Debug("wake: activation window elapsed")
	g.notify(PhaseIdle)
}

// disarmLocked cancels the armed window and reports whether the phase
// changed.
func (g *Gate) disarmLocked() bool {
	g.armGen++
	if g.armTimer != nil {
		g.armTimer.Stop()
		g.armTimer = nil
	}
	changed := g.phase != PhaseIdle
	g.phase = PhaseIdle
	return changed
}

func (g *Gate) cancelRetryLocked() {
	if g.retry != nil {
		g.retry.Stop()
		g.retry = nil
	}
	g.retrying = false
}

func (g *Gate) notify(p Phase) {
	if g.onPhase != nil {
		g.onPhase(p)
	}
}
