package action

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// Origin tells where an action came from.
type Origin string

const (
	OriginClassification Origin = "classification"
	OriginFunctionCall   Origin = "function_call"
)

// Webhook delivers an action to the external webhook collaborator.
type Webhook interface {
	Forward(ctx context.Context, a DetectedAction) error
}

// Session is the part of the realtime session the dispatcher replies on.
type Session interface {
	// SendFunctionOutput returns a function-call result to the model.
	SendFunctionOutput(callID, output string) error
	// RequestContinue asks the model to go on with the conversation.
	RequestContinue() error
}

// Observer is notified of every dispatched action. err is the delivery
// error, if any.
type Observer interface {
	ActionDispatched(a DetectedAction, origin Origin, err error)
}

// FunctionResult is the JSON payload of a function_call_output item.
type FunctionResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Dispatcher forwards actions to the webhook and owns the session's list of
// detected actions.
type Dispatcher struct {
	webhook  Webhook
	logger   *slog.Logger
	now      func() time.Time
	observer Observer

	mu      sync.Mutex
	actions []DetectedAction
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithClock sets the function used to stamp CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// WithObserver registers an observer for dispatched actions.
func WithObserver(o Observer) Option {
	return func(d *Dispatcher) {
		d.observer = o
	}
}

// NewDispatcher creates a Dispatcher delivering to webhook.
func NewDispatcher(webhook Webhook, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		webhook: webhook,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// DispatchClassified records and forwards every recognized action of a
// classification response. No reply is owed to the model. Delivery failures
// are logged; the actions stay recorded.
func (d *Dispatcher) DispatchClassified(ctx context.Context, list []Proposed) []DetectedAction {
	actions, unknown := FromClassification(list, d.now())
	for _, p := range unknown {
		d.logger.Warn("action: ignoring unknown classified action", "type", p.Type)
	}
	for _, a := range actions {
		d.record(a)
	}
	for _, a := range actions {
		err := d.forward(ctx, a)
		if err != nil {
			d.logger.Error("action: webhook delivery failed", "type", a.Type, "origin", OriginClassification, "err", err)
		}
		d.notify(a, OriginClassification, err)
	}
	return actions
}

// DispatchFunctionCall handles a model-issued function call.
//
// Malformed arguments abandon the call: the error is returned and nothing is
// sent to the model. An unknown function name is answered with a failure
// result. Otherwise the action is forwarded to the webhook and recorded
// whatever the delivery outcome; on success the model gets a confirmation
// followed by a continue request, on failure it gets the error.
func (d *Dispatcher) DispatchFunctionCall(ctx context.Context, sess Session, call FunctionCall) (DetectedAction, error) {
	a, err := FromFunctionCall(call, d.now())
	if err != nil {
		var malformed *MalformedArgumentsError
		if errors.As(err, &malformed) {
			return DetectedAction{}, err
		}
		d.reply(sess, call.CallID, FunctionResult{Success: false, Error: err.Error()})
		return DetectedAction{}, err
	}

	deliveryErr := d.forward(ctx, a)
	d.record(a)
	d.notify(a, OriginFunctionCall, deliveryErr)

	if deliveryErr != nil {
		d.logger.Error("action: webhook delivery failed", "type", a.Type, "origin", OriginFunctionCall, "call_id", call.CallID, "err", deliveryErr)
		d.reply(sess, call.CallID, FunctionResult{Success: false, Error: deliveryErr.Error()})
		return a, nil
	}
	if d.reply(sess, call.CallID, FunctionResult{Success: true, Message: a.Confirmation()}) {
		if err := sess.RequestContinue(); err != nil {
			d.logger.Warn("action: continue request failed", "call_id", call.CallID, "err", err)
		}
	}
	return a, nil
}

// Actions returns a copy of the recorded actions in detection order.
func (d *Dispatcher) Actions() []DetectedAction {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.actions)
}

// Reset empties the action list for a new session.
func (d *Dispatcher) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.actions = nil
}

func (d *Dispatcher) record(a DetectedAction) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.actions = append(d.actions, a)
}

func (d *Dispatcher) forward(ctx context.Context, a DetectedAction) error {
	if d.webhook == nil {
		return nil
	}
	return d.webhook.Forward(ctx, a)
}

func (d *Dispatcher) notify(a DetectedAction, origin Origin, err error) {
	if d.observer != nil {
		d.observer.ActionDispatched(a, origin, err)
	}
}

// reply sends result as the output of callID and reports whether it was sent.
func (d *Dispatcher) reply(sess Session, callID string, result FunctionResult) bool {
	out, err := json.Marshal(result)
	if err != nil {
		d.logger.Error("action: marshal function result", "call_id", callID, "err", err)
		return false
	}
	if err := sess.SendFunctionOutput(callID, string(out)); err != nil {
		d.logger.Warn("action: send function result failed", "call_id", callID, "err", err)
		return false
	}
	return true
}
