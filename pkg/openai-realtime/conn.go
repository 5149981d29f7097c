package openairealtime

import (
	"context"
	"iter"
	"log/slog"
	"sync"
)

// Conn is an established realtime connection.
type Conn interface {
	// Send transmits a client event. It returns ErrNotOpen if the event
	// channel is not open.
	Send(ev *ClientEvent) error

	// Events yields server events in arrival order until the connection
	// closes. A transport failure is yielded as the final error.
	Events() iter.Seq2[*ServerEvent, error]

	// Ready is closed once the event channel is open.
	Ready() <-chan struct{}

	// Close tears the connection down. It is safe to call more than once.
	Close() error
}

type eventOrError struct {
	event *ServerEvent
	err   error
}

// eventQueue hands events from transport callbacks to the Events iterator.
// push blocks until the consumer takes the event or the queue is closed, so
// ordering is preserved and nothing is sent on a closed channel.
type eventQueue struct {
	ch        chan eventOrError
	done      chan struct{}
	closeOnce sync.Once
	logger    *slog.Logger
}

func newEventQueue(logger *slog.Logger) *eventQueue {
	return &eventQueue{
		ch:     make(chan eventOrError, 64),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// pushMessage parses a raw wire message and queues the result.
func (q *eventQueue) pushMessage(message []byte) {
	if q.logger.Enabled(context.Background(), slog.LevelDebug) {
		s := string(message)
		if len(s) > 1000 {
			s = s[:1000] + "..."
		}
		q.logger.Debug("openai-realtime: received", "len", len(message), "content", s)
	}
	ev, err := ParseServerEvent(message)
	if err != nil {
		// A single bad message never ends the stream.
		q.logger.Warn("openai-realtime: dropping unparsable event", "err", err)
		return
	}
	q.push(eventOrError{event: ev})
}

func (q *eventQueue) push(item eventOrError) {
	select {
	case <-q.done:
	case q.ch <- item:
	}
}

func (q *eventQueue) close() {
	q.closeOnce.Do(func() { close(q.done) })
}

func (q *eventQueue) seq() iter.Seq2[*ServerEvent, error] {
	return func(yield func(*ServerEvent, error) bool) {
		for {
			// Drain what is already queued before honoring close.
			select {
			case item := <-q.ch:
				if !yield(item.event, item.err) || item.err != nil {
					return
				}
				continue
			default:
			}
			select {
			case <-q.done:
				return
			case item := <-q.ch:
				if !yield(item.event, item.err) || item.err != nil {
					return
				}
			}
		}
	}
}
