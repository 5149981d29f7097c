package cli

import (
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/x/ansi"

	"github.com/kronktech/sully/pkg/action"
	"github.com/kronktech/sully/pkg/conversation"
	"github.com/kronktech/sully/pkg/jsontime"
	"github.com/kronktech/sully/pkg/transcript"
)

var testTime = time.Date(2024, 12, 17, 9, 30, 0, 0, time.Local)

func testConversation() conversation.Conversation {
	return conversation.Conversation{
		ID:      "conv-1",
		Name:    "Headache follow-up",
		Summary: "Patient reports a headache for three days.",
		Transcript: []transcript.Record{
			{
				ID: "1", Text: "Tengo dolor de cabeza", CreatedAt: jsontime.Milli(testTime),
				LanguageCode: transcript.LanguageSpanish, Role: transcript.RolePatient,
				Translation: "I have a headache", HasMetadata: true, HasTranslation: true,
			},
			{
				ID: "2", Text: "Since when?", CreatedAt: jsontime.Milli(testTime.Add(5 * time.Second)),
			},
		},
		Actions: []action.DetectedAction{
			{Type: action.TypeScheduleFollowup, Details: action.Details{Timeframe: "2 weeks", Reason: "headache"}},
			{Type: action.TypeOrderLab, Details: action.Details{TestType: "CBC", Urgency: "routine"}},
		},
		CreatedAt: jsontime.ISO(testTime),
	}
}

func TestConversationTable(t *testing.T) {
	c := testConversation()
	header, rows := ConversationTable{c}.Table()
	if len(header) != 5 || len(rows) != 1 {
		t.Fatalf("header = %v, rows = %v", header, rows)
	}
	want := []string{"conv-1", "2024-12-17 09:30", "Headache follow-up", "2", "2"}
	if strings.Join(rows[0], "|") != strings.Join(want, "|") {
		t.Errorf("row = %q, want %q", rows[0], want)
	}
}

func TestConversationDetailTable(t *testing.T) {
	_, rows := ConversationDetail(testConversation()).Table()
	if len(rows) != 2 {
		t.Fatalf("rows = %v", rows)
	}
	if rows[0][0] != "09:30:00" || rows[0][1] != "patient" || rows[0][3] != "I have a headache" {
		t.Errorf("row 0 = %q", rows[0])
	}
	if rows[1][1] != "" || rows[1][3] != "" {
		t.Errorf("row 1 = %q", rows[1])
	}
}

func TestRecordLine(t *testing.T) {
	s := NewStyles(DefaultTheme)
	c := testConversation()

	got := ansi.Strip(RecordLine(s, c.Transcript[0]))
	if got != "09:30:00 patient: Tengo dolor de cabeza → I have a headache" {
		t.Errorf("RecordLine = %q", got)
	}
	got = ansi.Strip(RecordLine(s, c.Transcript[1]))
	if got != "09:30:05 … Since when?" {
		t.Errorf("RecordLine pending = %q", got)
	}
}

func TestActionLine(t *testing.T) {
	s := NewStyles(DefaultTheme)
	c := testConversation()

	got := ansi.Strip(ActionLine(s, c.Actions[0]))
	if got != "schedule_followup Follow-up appointment scheduled for 2 weeks from now (headache)" {
		t.Errorf("ActionLine = %q", got)
	}
	got = ansi.Strip(ActionLine(s, c.Actions[1]))
	if got != "order_lab Lab order sent for CBC (routine)" {
		t.Errorf("ActionLine = %q", got)
	}
}

func TestRenderConversation(t *testing.T) {
	c := testConversation()
	out := ansi.Strip(RenderConversation(&c, NewStyles(DefaultTheme)))
	for _, want := range []string{
		"Headache follow-up conv-1",
		"Summary\nPatient reports a headache for three days.",
		"Transcript\n09:30:00 patient:",
		"Actions\nschedule_followup",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}

	empty := conversation.Conversation{ID: "conv-2", Summary: "No patient conversation took place."}
	out = ansi.Strip(ConversationDetail(empty).String())
	if !strings.Contains(out, "Untitled conversation") || !strings.Contains(out, "(empty)") {
		t.Errorf("empty render:\n%s", out)
	}
	if strings.Contains(out, "Actions") {
		t.Errorf("empty conversation shows actions:\n%s", out)
	}
}
