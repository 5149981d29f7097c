package wake

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

type recordingHandler struct {
	mu      sync.Mutex
	results []string
	errs    []error
	ended   chan struct{}
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{ended: make(chan struct{})}
}

func (h *recordingHandler) OnResult(text string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.results = append(h.results, text)
}

func (h *recordingHandler) OnError(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errs = append(h.errs, err)
}

func (h *recordingHandler) OnEnd() { close(h.ended) }

func TestLineRecognizer(t *testing.T) {
	rec := NewLineRecognizer(strings.NewReader("Sully\n\n  translate  \n"))
	h := newRecordingHandler()
	if err := rec.Start(context.Background(), h); err != nil {
		t.Fatal(err)
	}

	select {
	case <-h.ended:
	case <-time.After(2 * time.Second):
		t.Fatal("recognizer did not end")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.results) != 2 || h.results[0] != "Sully" || h.results[1] != "translate" {
		t.Fatalf("results = %q", h.results)
	}
	if len(h.errs) != 1 || !IsTerminal(h.errs[0]) || !errors.Is(h.errs[0], io.EOF) {
		t.Fatalf("errs = %v, want terminal EOF", h.errs)
	}

	if err := rec.Start(context.Background(), h); !IsTerminal(err) {
		t.Fatalf("Start after EOF = %v, want terminal error", err)
	}
}

func TestLineRecognizerDropsWhileStopped(t *testing.T) {
	pr, pw := io.Pipe()
	rec := NewLineRecognizer(pr)
	h := newRecordingHandler()
	if err := rec.Start(context.Background(), h); err != nil {
		t.Fatal(err)
	}
	rec.Stop()

	// A pipe write returns once the scanner has read it, so the blank line
	// only completes after "ignored" was handled.
	io.WriteString(pw, "ignored\n")
	io.WriteString(pw, "\n")
	if err := rec.Start(context.Background(), h); err != nil {
		t.Fatal(err)
	}
	io.WriteString(pw, "heard\n")
	pw.Close()

	select {
	case <-h.ended:
	case <-time.After(2 * time.Second):
		t.Fatal("recognizer did not end")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.results) != 1 || h.results[0] != "heard" {
		t.Fatalf("results = %q", h.results)
	}
}
