package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kronktech/sully/pkg/action"
	"github.com/kronktech/sully/pkg/conversation"
	"github.com/kronktech/sully/pkg/transcript"
)

// ConversationTable lists stored conversations, one row each.
type ConversationTable []conversation.Conversation

func (t ConversationTable) Table() ([]string, [][]string) {
	rows := make([][]string, 0, len(t))
	for _, c := range t {
		rows = append(rows, []string{
			c.ID,
			FormatTime(c.CreatedAt.Time()),
			Ellipsis(c.Name, 40),
			strconv.Itoa(len(c.Transcript)),
			strconv.Itoa(len(c.Actions)),
		})
	}
	return []string{"ID", "CREATED", "NAME", "LINES", "ACTIONS"}, rows
}

// ConversationDetail shows one conversation. As a table it lists the
// transcript; as raw text it renders the full record.
type ConversationDetail conversation.Conversation

func (d ConversationDetail) Table() ([]string, [][]string) {
	rows := make([][]string, 0, len(d.Transcript))
	for _, r := range d.Transcript {
		rows = append(rows, []string{
			r.CreatedAt.Time().Local().Format("15:04:05"),
			string(r.Role),
			Ellipsis(r.Text, 60),
			Ellipsis(r.Translation, 60),
		})
	}
	return []string{"TIME", "ROLE", "TEXT", "TRANSLATION"}, rows
}

func (d ConversationDetail) String() string {
	c := conversation.Conversation(d)
	return RenderConversation(&c, NewStyles(DefaultTheme))
}

// RecordLine formats a transcript record for the terminal.
func RecordLine(s Styles, r transcript.Record) string {
	ts := r.CreatedAt.Time().Local().Format("15:04:05")
	role := s.role(r.Role)
	var b strings.Builder
	b.WriteString(s.Help.Render(ts))
	b.WriteByte(' ')
	b.WriteString(role)
	b.WriteString(" ")
	b.WriteString(r.Text)
	if r.HasTranslation {
		b.WriteString(s.Help.Render(" → "))
		b.WriteString(r.Translation)
	}
	return b.String()
}

// ActionLine formats a detected action for the terminal.
func ActionLine(s Styles, a action.DetectedAction) string {
	line := s.Label.Render(string(a.Type)) + " " + a.Confirmation()
	var extra []string
	switch a.Type {
	case action.TypeScheduleFollowup:
		extra = append(extra, a.Details.Specialty, a.Details.Reason)
	case action.TypeOrderLab:
		extra = append(extra, a.Details.Urgency, a.Details.Instructions)
	}
	var kept []string
	for _, e := range extra {
		if e != "" {
			kept = append(kept, e)
		}
	}
	if len(kept) > 0 {
		line += s.Help.Render(" (" + strings.Join(kept, "; ") + ")")
	}
	return line
}

// RenderConversation renders a stored conversation for reading.
func RenderConversation(c *conversation.Conversation, s Styles) string {
	var b strings.Builder
	name := c.Name
	if name == "" {
		name = "Untitled conversation"
	}
	fmt.Fprintf(&b, "%s %s\n", s.Title.Render(name), s.Help.Render(c.ID))
	if !c.CreatedAt.IsZero() {
		fmt.Fprintf(&b, "%s\n", s.Help.Render(FormatTime(c.CreatedAt.Time())))
	}
	b.WriteString("\n" + s.Label.Render("Summary") + "\n")
	b.WriteString(c.Summary + "\n")

	b.WriteString("\n" + s.Label.Render("Transcript") + "\n")
	if len(c.Transcript) == 0 {
		b.WriteString(s.Help.Render("(empty)") + "\n")
	}
	for _, r := range c.Transcript {
		b.WriteString(RecordLine(s, r) + "\n")
	}

	if len(c.Actions) > 0 {
		b.WriteString("\n" + s.Label.Render("Actions") + "\n")
		for _, a := range c.Actions {
			b.WriteString(ActionLine(s, a) + "\n")
		}
	}
	return b.String()
}
