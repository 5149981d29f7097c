package openairealtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestCreateSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/realtime/sessions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		var req SessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.Model != ModelGPT4oRealtimePreview || req.Voice != VoiceAlloy {
			t.Errorf("request = %+v", req)
		}
		w.Write([]byte(`{"id":"sess_1","client_secret":{"value":"ek_123","expires_at":1}}`))
	}))
	defer srv.Close()

	c := NewClient(WithAPIKey("sk-test"), WithHTTPURL(srv.URL+"/v1/realtime"))
	resp, err := c.CreateSession(context.Background(), &SessionRequest{SessionConfig: SessionConfig{Voice: VoiceAlloy}})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if resp.ClientSecret.Value != "ek_123" {
		t.Fatalf("secret = %q", resp.ClientSecret.Value)
	}
}

func TestCreateSessionErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"type":"invalid_request_error","code":"invalid_api_key","message":"bad key"}}`))
	}))
	defer srv.Close()

	c := NewClient(WithAPIKey("sk-bad"), WithHTTPURL(srv.URL))
	_, err := c.CreateSession(context.Background(), nil)
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *Error", err)
	}
	if apiErr.HTTPStatus != http.StatusUnauthorized || apiErr.Code != "invalid_api_key" {
		t.Fatalf("err = %+v", apiErr)
	}

	if _, err := NewClient().CreateSession(context.Background(), nil); err == nil {
		t.Fatal("expected error without API key")
	}
}

func TestExchangeSDP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("model"); got != ModelGPT4oRealtimePreview20241217 {
			t.Errorf("model = %q", got)
		}
		if got := r.Header.Get("Content-Type"); got != "application/sdp" {
			t.Errorf("Content-Type = %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer ek_123" {
			t.Errorf("Authorization = %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != "v=0 offer" {
			t.Errorf("offer = %q", body)
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("v=0 answer"))
	}))
	defer srv.Close()

	c := NewClient(WithHTTPURL(srv.URL))
	answer, err := c.exchangeSDP(context.Background(), "ek_123", ModelGPT4oRealtimePreview20241217, "v=0 offer")
	if err != nil {
		t.Fatalf("exchangeSDP: %v", err)
	}
	if answer != "v=0 answer" {
		t.Fatalf("answer = %q", answer)
	}
}

func TestExchangeSDPRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "expired secret", http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := NewClient(WithHTTPURL(srv.URL)).exchangeSDP(context.Background(), "ek_old", "m", "v=0")
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.HTTPStatus != http.StatusForbidden {
		t.Fatalf("err = %v", err)
	}
	if !strings.Contains(apiErr.Message, "expired secret") {
		t.Fatalf("message = %q", apiErr.Message)
	}
}

func TestWebSocketConn(t *testing.T) {
	upgrader := websocket.Upgrader{}
	received := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("OpenAI-Beta"); got != "realtime=v1" {
			t.Errorf("OpenAI-Beta = %q", got)
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer ws.Close()
		ws.WriteMessage(websocket.TextMessage, []byte(
			`{"type":"conversation.item.input_audio_transcription.completed","transcript":"hello"}`))
		_, msg, err := ws.ReadMessage()
		if err != nil {
			return
		}
		received <- string(msg)
		ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}))
	defer srv.Close()

	c := NewClient(WithAPIKey("sk-test"), WithWebSocketURL("ws"+strings.TrimPrefix(srv.URL, "http")))
	conn, err := c.DialWebSocket(context.Background(), "", nil)
	if err != nil {
		t.Fatalf("DialWebSocket: %v", err)
	}
	defer conn.Close()

	select {
	case <-conn.Ready():
	default:
		t.Fatal("websocket conn not ready after dial")
	}

	var got []string
	for ev, err := range conn.Events() {
		if err != nil {
			t.Fatalf("event error: %v", err)
		}
		got = append(got, ev.Transcript)
		if err := conn.Send(InputAudioBufferClearEvent()); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("transcripts = %v", got)
	}

	select {
	case msg := <-received:
		if !strings.Contains(msg, `"type":"input_audio_buffer.clear"`) {
			t.Fatalf("server received %s", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive the event")
	}

	conn.Close()
	if err := conn.Send(InputAudioBufferClearEvent()); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("Send after Close = %v, want ErrNotOpen", err)
	}
}
