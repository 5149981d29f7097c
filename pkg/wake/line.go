package wake

import (
	"bufio"
	"context"
	"io"
	"strings"
	"sync"
)

// LineRecognizer treats each line of a reader as a recognized utterance.
// It is useful with a terminal, a pipe from an external recognizer, or in
// tests. Lines read while stopped are discarded.
type LineRecognizer struct {
	r io.Reader

	once    sync.Once
	mu      sync.Mutex
	handler Handler
	active  bool
	eof     bool
}

// NewLineRecognizer creates a LineRecognizer reading from r.
func NewLineRecognizer(r io.Reader) *LineRecognizer {
	return &LineRecognizer{r: r}
}

// Start implements Recognizer.
func (l *LineRecognizer) Start(_ context.Context, h Handler) error {
	l.mu.Lock()
	if l.eof {
		l.mu.Unlock()
		return &RecognitionError{Code: CodeNoSpeech, Err: io.EOF}
	}
	l.handler = h
	l.active = true
	l.mu.Unlock()

	l.once.Do(func() { go l.scan() })
	return nil
}

// Stop implements Recognizer.
func (l *LineRecognizer) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.active = false
}

func (l *LineRecognizer) current() (Handler, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.handler, l.active
}

func (l *LineRecognizer) scan() {
	sc := bufio.NewScanner(l.r)
	for sc.Scan() {
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		if h, ok := l.current(); ok {
			h.OnResult(text)
		}
	}

	l.mu.Lock()
	l.eof = true
	h, active := l.handler, l.active
	l.active = false
	l.mu.Unlock()
	if !active {
		return
	}
	if err := sc.Err(); err != nil {
		h.OnError(&RecognitionError{Code: CodeAborted, Err: err})
	} else {
		h.OnError(&RecognitionError{Code: CodeNoSpeech, Err: io.EOF})
	}
	h.OnEnd()
}
