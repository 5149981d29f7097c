package openairealtime

import (
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"
)

func TestEncodeFunctionCallOutput(t *testing.T) {
	data, err := encodeEvent(FunctionCallOutputEvent("c1", `{"success":true,"message":"Lab order sent for CBC"}`))
	if err != nil {
		t.Fatalf("encodeEvent: %v", err)
	}
	var got struct {
		EventID string `json:"event_id"`
		Type    string `json:"type"`
		Item    struct {
			Type   string `json:"type"`
			CallID string `json:"call_id"`
			Output string `json:"output"`
		} `json:"item"`
	}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got.Type != "conversation.item.create" || got.Item.Type != "function_call_output" || got.Item.CallID != "c1" {
		t.Fatalf("event = %s", data)
	}
	if !strings.HasPrefix(got.EventID, "evt_") {
		t.Fatalf("event_id = %q", got.EventID)
	}
	if got.Item.Output != `{"success":true,"message":"Lab order sent for CBC"}` {
		t.Fatalf("output = %q", got.Item.Output)
	}
}

func TestEncodeBareEvents(t *testing.T) {
	tests := []struct {
		ev   *ClientEvent
		want string
	}{
		{ResponseCreateEvent(nil), `{"event_id":"e","type":"response.create"}`},
		{InputAudioBufferClearEvent(), `{"event_id":"e","type":"input_audio_buffer.clear"}`},
		{SessionUpdateEvent(nil), `{"event_id":"e","type":"session.update","session":{}}`},
		{InputAudioBufferAppendEvent([]byte{1, 2, 3}), `{"event_id":"e","type":"input_audio_buffer.append","audio":"AQID"}`},
	}
	for _, tt := range tests {
		tt.ev.EventID = "e"
		data, err := encodeEvent(tt.ev)
		if err != nil {
			t.Fatalf("encodeEvent(%s): %v", tt.ev.Type, err)
		}
		if string(data) != tt.want {
			t.Errorf("encodeEvent(%s) = %s, want %s", tt.ev.Type, data, tt.want)
		}
	}
}

func TestEncodeCorrelatedResponse(t *testing.T) {
	ev := ResponseCreateEvent(&ResponseOptions{
		Conversation: ConversationNone,
		Metadata:     map[string]string{"transcriptId": "42", "topic": "metadata"},
		Modalities:   []string{ModalityText},
		Instructions: "classify",
	})
	ev.EventID = "e"
	data, err := encodeEvent(ev)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"event_id":"e","type":"response.create","response":{"conversation":"none","metadata":{"topic":"metadata","transcriptId":"42"},"modalities":["text"],"instructions":"classify"}}`
	if string(data) != want {
		t.Fatalf("got  %s\nwant %s", data, want)
	}
}

func TestParseResponseDone(t *testing.T) {
	msg := `{"type":"response.done","event_id":"ev1","response":{"id":"r1","status":"completed",
		"metadata":{"transcriptId":"42","topic":"translation"},
		"output":[{"type":"message","content":[{"type":"audio","transcript":"Tengo un dolor de cabeza"}]}]}}`
	ev, err := ParseServerEvent([]byte(msg))
	if err != nil {
		t.Fatalf("ParseServerEvent: %v", err)
	}
	if ev.Metadata("topic") != "translation" || ev.Metadata("transcriptId") != "42" {
		t.Fatalf("metadata = %v", ev.Response.Metadata)
	}
	out, ok := ev.FirstOutput()
	if !ok {
		t.Fatal("no output")
	}
	part, ok := out.FirstContent()
	if !ok || part.Transcript != "Tengo un dolor de cabeza" {
		t.Fatalf("content = %+v", out.Content)
	}
	if string(ev.Raw) != msg {
		t.Fatal("Raw not preserved")
	}
}

func TestParseFunctionCall(t *testing.T) {
	msg := `{"type":"response.done","response":{"output":[{"type":"function_call","name":"order_lab","arguments":"{\"test_type\":\"CBC\"}","call_id":"c1"}]}}`
	ev, err := ParseServerEvent([]byte(msg))
	if err != nil {
		t.Fatal(err)
	}
	out, _ := ev.FirstOutput()
	if out.Type != ItemTypeFunctionCall || out.Name != "order_lab" || out.CallID != "c1" || out.Arguments != `{"test_type":"CBC"}` {
		t.Fatalf("output = %+v", out)
	}
	if ev.Metadata("topic") != "" {
		t.Fatal("unexpected topic")
	}
}

func TestParseInvalid(t *testing.T) {
	for _, msg := range []string{`not json`, `{}`, `{"type":""}`} {
		if _, err := ParseServerEvent([]byte(msg)); err == nil {
			t.Errorf("ParseServerEvent(%s) expected error", msg)
		}
	}
}

func TestEventQueueDrainsBeforeClose(t *testing.T) {
	q := newEventQueue(slog.New(slog.NewTextHandler(io.Discard, nil)))
	q.pushMessage([]byte(`{"type":"session.created"}`))
	q.pushMessage([]byte(`garbage`))
	q.pushMessage([]byte(`{"type":"response.done"}`))
	q.close()

	var types []string
	for ev, err := range q.seq() {
		if err != nil {
			t.Fatal(err)
		}
		types = append(types, ev.Type)
	}
	if got := strings.Join(types, ","); got != "session.created,response.done" {
		t.Fatalf("events = %s", got)
	}
	// push after close must not block.
	q.push(eventOrError{})
}
