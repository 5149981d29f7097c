package deepgram

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kronktech/sully/pkg/wake"
)

type handlerRecorder struct {
	mu      sync.Mutex
	results []string
	errs    []error
	ends    int
	event   chan struct{}
}

func newHandlerRecorder() *handlerRecorder {
	return &handlerRecorder{event: make(chan struct{}, 16)}
}

func (h *handlerRecorder) OnResult(text string) {
	h.mu.Lock()
	h.results = append(h.results, text)
	h.mu.Unlock()
	h.event <- struct{}{}
}

func (h *handlerRecorder) OnError(err error) {
	h.mu.Lock()
	h.errs = append(h.errs, err)
	h.mu.Unlock()
}

func (h *handlerRecorder) OnEnd() {
	h.mu.Lock()
	h.ends++
	h.mu.Unlock()
	h.event <- struct{}{}
}

func (h *handlerRecorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-h.event:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for recognizer callback")
	}
}

func blockingSource(ctx context.Context) (io.ReadCloser, error) {
	pr, _ := io.Pipe()
	return pr, nil
}

func listenServer(t *testing.T, script func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Token secret" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		script(conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRecognizerDeliversFinalResults(t *testing.T) {
	srv := listenServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"Sul"}]}}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":" Sully translate "}]}}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	rec := New(Config{APIKey: "secret", BaseURL: srv.URL}, blockingSource)
	h := newHandlerRecorder()
	if err := rec.Start(context.Background(), h); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.wait(t)
	rec.Stop()

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.results) != 1 || h.results[0] != "Sully translate" {
		t.Fatalf("results = %q", h.results)
	}
	if h.ends != 0 || len(h.errs) != 0 {
		t.Fatalf("stopped stream reported ends=%d errs=%v", h.ends, h.errs)
	}
}

func TestRecognizerProviderError(t *testing.T) {
	srv := listenServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Error","message":"quota exceeded"}`))
		conn.ReadMessage()
	})

	rec := New(Config{APIKey: "secret", BaseURL: srv.URL}, blockingSource)
	h := newHandlerRecorder()
	if err := rec.Start(context.Background(), h); err != nil {
		t.Fatal(err)
	}
	h.wait(t)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ends != 1 || len(h.errs) != 1 {
		t.Fatalf("ends=%d errs=%v", h.ends, h.errs)
	}
	if wake.IsTerminal(h.errs[0]) {
		t.Fatal("provider error must be transient")
	}
	if !strings.Contains(h.errs[0].Error(), "quota exceeded") {
		t.Fatalf("err = %v", h.errs[0])
	}
}

func TestRecognizerAudioSourceEnds(t *testing.T) {
	got := make(chan int, 1)
	srv := listenServer(t, func(conn *websocket.Conn) {
		_, data, err := conn.ReadMessage()
		if err == nil {
			got <- len(data)
		}
		conn.ReadMessage()
	})

	source := func(context.Context) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(strings.Repeat("\x00", 100))), nil
	}
	rec := New(Config{APIKey: "secret", BaseURL: srv.URL}, source)
	h := newHandlerRecorder()
	if err := rec.Start(context.Background(), h); err != nil {
		t.Fatal(err)
	}
	h.wait(t)

	select {
	case n := <-got:
		if n != 100 {
			t.Fatalf("server got %d bytes", n)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server got no audio")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	var re *wake.RecognitionError
	if len(h.errs) != 1 || !errors.As(h.errs[0], &re) || re.Code != wake.CodeAudioCapture {
		t.Fatalf("errs = %v", h.errs)
	}
}

func TestRecognizerStartErrors(t *testing.T) {
	srv := listenServer(t, func(*websocket.Conn) {})

	tests := []struct {
		name     string
		cfg      Config
		source   AudioSource
		code     string
		terminal bool
	}{
		{"missing key", Config{}, blockingSource, wake.CodeNotAllowed, true},
		{"rejected key", Config{APIKey: "wrong", BaseURL: srv.URL}, blockingSource, wake.CodeNotAllowed, true},
		{"unreachable", Config{APIKey: "secret", BaseURL: "http://127.0.0.1:1"}, blockingSource, wake.CodeNetwork, false},
		{"microphone", Config{APIKey: "secret", BaseURL: srv.URL}, func(context.Context) (io.ReadCloser, error) {
			return nil, errors.New("no input device")
		}, wake.CodeAudioCapture, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.cfg, tt.source).Start(context.Background(), newHandlerRecorder())
			var re *wake.RecognitionError
			if !errors.As(err, &re) {
				t.Fatalf("err = %v, want RecognitionError", err)
			}
			if re.Code != tt.code || re.Terminal() != tt.terminal {
				t.Fatalf("code = %s terminal = %v", re.Code, re.Terminal())
			}
		})
	}
}

func TestBuildListenURL(t *testing.T) {
	u, err := buildListenURL(Config{BaseURL: "https://api.deepgram.com/v1/", Model: "nova-2", SampleRate: 16000, Language: "en-US"})
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"wss://api.deepgram.com/v1/listen?", "encoding=linear16", "sample_rate=16000", "channels=1", "language=en-US", "model=nova-2"} {
		if !strings.Contains(u, want) {
			t.Errorf("url %s lacks %s", u, want)
		}
	}

	u, err = buildListenURL(Config{BaseURL: "http://localhost:8080", Model: "m", SampleRate: 8000})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(u, "ws://localhost:8080/listen?") {
		t.Fatalf("url = %s", u)
	}
}

func TestNewDefaults(t *testing.T) {
	r := New(Config{}, blockingSource)
	if r.cfg.BaseURL != DefaultBaseURL || r.cfg.Model != DefaultModel || r.cfg.SampleRate != DefaultSampleRate {
		t.Fatalf("cfg = %+v", r.cfg)
	}
}
