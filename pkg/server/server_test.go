package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kronktech/sully/pkg/action"
	"github.com/kronktech/sully/pkg/conversation"
	"github.com/kronktech/sully/pkg/jsontime"
	"github.com/kronktech/sully/pkg/metrics"
	openairealtime "github.com/kronktech/sully/pkg/openai-realtime"
	"github.com/kronktech/sully/pkg/summary"
	"github.com/kronktech/sully/pkg/transcript"
)

type fakeMinter struct {
	mu   sync.Mutex
	reqs []openairealtime.SessionRequest
	err  error
}

func (f *fakeMinter) CreateSession(_ context.Context, req *openairealtime.SessionRequest) (*openairealtime.SessionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, *req)
	if f.err != nil {
		return nil, f.err
	}
	return &openairealtime.SessionResponse{
		ID:           "sess_123",
		Model:        req.Model,
		ClientSecret: openairealtime.ClientSecret{Value: "ek_abc", ExpiresAt: 1700000060},
	}, nil
}

type fakeSummarizer struct {
	got []transcript.Record
	err error
}

func (f *fakeSummarizer) Summarize(_ context.Context, records []transcript.Record) (*summary.Result, error) {
	f.got = records
	if f.err != nil {
		return nil, f.err
	}
	if len(records) == 0 {
		return summary.Empty(), nil
	}
	return &summary.Result{Name: "Headache", Summary: "**Subjective**: headache"}, nil
}

type fakeWebhook struct {
	got []action.DetectedAction
	err error
}

func (f *fakeWebhook) Forward(_ context.Context, a action.DetectedAction) error {
	f.got = append(f.got, a)
	return f.err
}

type testServer struct {
	srv        *Server
	minter     *fakeMinter
	summarizer *fakeSummarizer
	store      *conversation.Memory
	registry   *prometheus.Registry
}

func newTestServer(t *testing.T, webhook action.Webhook) *testServer {
	t.Helper()
	ts := &testServer{
		minter:     &fakeMinter{},
		summarizer: &fakeSummarizer{},
		store:      conversation.NewMemory(),
		registry:   prometheus.NewRegistry(),
	}
	srv, err := New(Config{
		Sessions:      ts.minter,
		Summarizer:    ts.summarizer,
		Conversations: ts.store,
		Webhook:       webhook,
		Metrics:       metrics.NewMetrics(ts.registry),
		Gatherer:      ts.registry,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ts.srv = srv
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(Config{}, nil); err == nil {
		t.Error("New with empty config succeeded")
	}
}

func TestSession(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/api/session", `{"voice":"shimmer"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	resp := decodeBody[openairealtime.SessionResponse](t, rec)
	if resp.ClientSecret.Value != "ek_abc" {
		t.Errorf("client secret = %q", resp.ClientSecret.Value)
	}

	req := ts.minter.reqs[0]
	if req.Voice != "shimmer" {
		t.Errorf("voice = %q, want shimmer", req.Voice)
	}
	if req.Model != openairealtime.ModelGPT4oRealtimePreview20241217 {
		t.Errorf("model = %q", req.Model)
	}
	if td := req.TurnDetection; td == nil || td.Type != openairealtime.VADServerVAD || td.SilenceDurationMs != 2000 {
		t.Errorf("turn detection = %+v", td)
	}
	if req.InputAudioTranscription == nil || req.InputAudioTranscription.Model != "whisper-1" {
		t.Errorf("transcription = %+v", req.InputAudioTranscription)
	}
}

func TestSessionDefaultsVoice(t *testing.T) {
	ts := newTestServer(t, nil)
	if rec := ts.do(t, http.MethodPost, "/api/session", ""); rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	if got := ts.minter.reqs[0].Voice; got != openairealtime.VoiceAlloy {
		t.Errorf("voice = %q, want alloy", got)
	}
}

func TestSessionFailure(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.minter.err = &openairealtime.Error{Code: "invalid_api_key", Message: "bad key", HTTPStatus: 401}

	rec := ts.do(t, http.MethodPost, "/api/session", `{}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := decodeBody[map[string]string](t, rec)["error"]; got != "Failed to create session" {
		t.Errorf("error = %q", got)
	}
}

func TestSummary(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		err        error
		wantStatus int
		wantText   string
	}{
		{"missing transcripts", `{}`, nil, http.StatusBadRequest, ""},
		{"not json", `transcripts`, nil, http.StatusBadRequest, ""},
		{"empty", `{"transcripts":[]}`, nil, http.StatusOK, summary.NoConversation},
		{
			"records",
			`{"transcripts":[{"id":"1","text":"I have a headache","createdAt":1700000000000,"languageCode":"eng","role":"doctor","translation":"Tengo dolor de cabeza","hasMetadata":true,"hasTranslation":true}]}`,
			nil, http.StatusOK, "**Subjective**: headache",
		},
		{"model failure", `{"transcripts":[{"id":"1","text":"hi"}]}`, errors.New("rate limited"), http.StatusInternalServerError, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, nil)
			ts.summarizer.err = tt.err

			rec := ts.do(t, http.MethodPost, "/api/summary", tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d, body = %s", rec.Code, tt.wantStatus, rec.Body)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			res := decodeBody[map[string]any](t, rec)
			if res["summary"] != tt.wantText {
				t.Errorf("summary = %v, want %q", res["summary"], tt.wantText)
			}
			if actions, ok := res["actions"].([]any); !ok || len(actions) != 0 {
				t.Errorf("actions = %v, want empty list", res["actions"])
			}
		})
	}
}

func TestConversations(t *testing.T) {
	ts := newTestServer(t, nil)

	older := `{"id":"client-id","name":"Older","summary":"s1","transcript":[],"actions":[],"createdAt":"2024-01-15T10:00:00.000Z"}`
	rec := ts.do(t, http.MethodPost, "/api/conversations", older)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	first := decodeBody[conversation.Conversation](t, rec)
	if first.ID == "" || first.ID == "client-id" {
		t.Errorf("id = %q, want a store-assigned id", first.ID)
	}

	newer := conversation.Conversation{
		Name:    "Newer",
		Summary: "s2",
		Actions: []action.DetectedAction{{
			Type:      action.TypeOrderLab,
			Details:   action.Details{TestType: "CBC", Urgency: "routine"},
			CreatedAt: jsontime.ISO(time.Date(2024, 1, 15, 11, 0, 0, 0, time.UTC)),
		}},
		CreatedAt: jsontime.ISO(time.Date(2024, 1, 15, 11, 0, 0, 0, time.UTC)),
	}
	body, _ := json.Marshal(newer)
	if rec := ts.do(t, http.MethodPost, "/api/conversations", string(body)); rec.Code != http.StatusCreated {
		t.Fatalf("status = %d", rec.Code)
	}

	rec = ts.do(t, http.MethodGet, "/api/conversations", "")
	list := decodeBody[[]conversation.Conversation](t, rec)
	if len(list) != 2 || list[0].Name != "Newer" || list[1].Name != "Older" {
		t.Fatalf("list = %+v", list)
	}
	if len(list[0].Actions) != 1 || list[0].Actions[0].Details.TestType != "CBC" {
		t.Errorf("actions = %+v", list[0].Actions)
	}

	rec = ts.do(t, http.MethodGet, "/api/conversations/"+first.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	if got := decodeBody[conversation.Conversation](t, rec); got.Summary != "s1" {
		t.Errorf("get = %+v", got)
	}

	if rec := ts.do(t, http.MethodGet, "/api/conversations/missing", ""); rec.Code != http.StatusNotFound {
		t.Errorf("missing status = %d, want 404", rec.Code)
	}
}

func TestListConversationsEmpty(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(t, http.MethodGet, "/api/conversations", "")
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("body = %s, want []", rec.Body)
	}
}

func TestWebhook(t *testing.T) {
	payload := `{"type":"schedule_followup","details":{"timeframe":"2 weeks","reason":"recheck"},"createdAt":"2024-01-15T10:30:00.000Z"}`

	t.Run("no target", func(t *testing.T) {
		ts := newTestServer(t, nil)
		rec := ts.do(t, http.MethodPost, "/api/webhook", payload)
		if rec.Code != http.StatusOK || !decodeBody[map[string]bool](t, rec)["success"] {
			t.Errorf("status = %d, body = %s", rec.Code, rec.Body)
		}
	})
	t.Run("forwarded", func(t *testing.T) {
		wh := &fakeWebhook{}
		ts := newTestServer(t, wh)
		rec := ts.do(t, http.MethodPost, "/api/webhook", payload)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		if len(wh.got) != 1 || wh.got[0].Details.Timeframe != "2 weeks" {
			t.Errorf("forwarded = %+v", wh.got)
		}
	})
	t.Run("target failure", func(t *testing.T) {
		ts := newTestServer(t, &fakeWebhook{err: errors.New("502")})
		rec := ts.do(t, http.MethodPost, "/api/webhook", payload)
		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("status = %d", rec.Code)
		}
		if got := decodeBody[map[string]string](t, rec)["error"]; got != "Failed to forward to webhook" {
			t.Errorf("error = %q", got)
		}
	})
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t, nil)
	if rec := ts.do(t, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("healthz = %d", rec.Code)
	}
	rec := ts.do(t, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `sully_http_requests_total{code="2xx",route="GET /healthz"} 1`) {
		t.Errorf("metrics output missing request counter:\n%s", rec.Body)
	}
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodOptions, "/api/session", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	if rec.Code/100 != 2 {
		t.Errorf("status = %d, want 2xx", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing allow-origin header")
	}
	if !strings.Contains(rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPost) {
		t.Errorf("allow-methods = %q", rec.Header().Get("Access-Control-Allow-Methods"))
	}
}

func TestCORSSimpleRequest(t *testing.T) {
	ts := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing allow-origin header")
	}
}

func TestRecoversFromPanic(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.srv.router.Get("/boom", func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})
	rec := ts.do(t, http.MethodGet, "/boom", "")
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if rec := ts.do(t, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Errorf("healthz after panic = %d", rec.Code)
	}
}

func TestRouteMetricsUsePattern(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.do(t, http.MethodGet, "/api/conversations/missing", "")
	rec := ts.do(t, http.MethodGet, "/metrics", "")
	if !strings.Contains(rec.Body.String(), `sully_http_requests_total{code="4xx",route="GET /api/conversations/{id}"} 1`) {
		t.Errorf("metrics output missing route counter:\n%s", rec.Body)
	}
}

func TestServeShutsDown(t *testing.T) {
	ts := newTestServer(t, nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ts.srv.Serve(ctx, ln) }()

	resp, err := http.Post("http://"+ln.Addr().String()+"/api/webhook", "application/json",
		bytes.NewReader([]byte(`{"type":"order_lab","details":{"test_type":"CBC"}}`)))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
}
