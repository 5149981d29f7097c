package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/charmbracelet/x/term"

	"github.com/kronktech/sully/pkg/action"
	"github.com/kronktech/sully/pkg/transcript"
)

// Theme defines the color scheme for terminal output.
type Theme struct {
	Primary lipgloss.Color
	Dim     lipgloss.Color
	Doctor  lipgloss.Color
	Patient lipgloss.Color
}

// DefaultTheme is the default bright green theme.
var DefaultTheme = Theme{
	Primary: lipgloss.Color("#00ff9f"),
	Dim:     lipgloss.Color("#6e7681"),
	Doctor:  lipgloss.Color("#58a6ff"),
	Patient: lipgloss.Color("#f0b72f"),
}

// Styles holds all styles derived from a theme.
type Styles struct {
	Title   lipgloss.Style
	Label   lipgloss.Style
	Border  lipgloss.Style
	Help    lipgloss.Style
	Doctor  lipgloss.Style
	Patient lipgloss.Style
}

// NewStyles creates styles from a theme.
func NewStyles(t Theme) Styles {
	return Styles{
		Title:   lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		Label:   lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		Border:  lipgloss.NewStyle().Foreground(t.Primary),
		Help:    lipgloss.NewStyle().Foreground(t.Dim),
		Doctor:  lipgloss.NewStyle().Bold(true).Foreground(t.Doctor),
		Patient: lipgloss.NewStyle().Bold(true).Foreground(t.Patient),
	}
}

func (s Styles) role(r transcript.Role) string {
	switch r {
	case transcript.RoleDoctor:
		return s.Doctor.Render("doctor:")
	case transcript.RolePatient:
		return s.Patient.Render("patient:")
	case "":
		return s.Help.Render("…")
	default:
		return s.Help.Render(string(r) + ":")
	}
}

// Section is a labeled panel of a frame. Only its last lines are shown
// when it does not fit.
type Section struct {
	Label string
	Lines []string
}

// Frame is a bordered full-screen layout: a title row, then the sections
// stacked vertically and sharing the remaining height.
type Frame struct {
	Styles   Styles
	Title    string
	Status   string
	Sections []Section
	Help     string
}

// Render renders the frame at the given terminal size.
func (f Frame) Render(width, height int) string {
	if width < 10 || height < 6 {
		return f.Title + " [" + f.Status + "]"
	}
	bc := f.Styles.Border
	inner := width - 4

	row := func(text string) string {
		text = ansi.Truncate(text, inner, "…")
		pad := max(0, inner-lipgloss.Width(text))
		return bc.Render("│") + " " + text + strings.Repeat(" ", pad) + " " + bc.Render("│")
	}
	rule := func(left, label, right string) string {
		fill := max(0, width-2-lipgloss.Width(label))
		return bc.Render(left) + label + bc.Render(strings.Repeat("─", fill)+right)
	}

	lines := []string{
		rule("╭", "", "╮"),
		row(f.Styles.Title.Render(f.Title) + " " + f.Styles.Help.Render("["+f.Status+"]")),
	}

	n := max(1, len(f.Sections))
	// top, title, bottom, help, plus one label row per section
	body := max(n, height-4-n)
	for i, sec := range f.Sections {
		h := body / n
		if i < body%n {
			h++
		}
		lines = append(lines, rule("├", "─"+f.Styles.Label.Render(sec.Label), "┤"))
		start := max(0, len(sec.Lines)-h)
		for j := range h {
			text := ""
			if start+j < len(sec.Lines) {
				text = sec.Lines[start+j]
			}
			lines = append(lines, row(text))
		}
	}

	lines = append(lines, rule("╰", "", "╯"), f.Styles.Help.Render(f.Help))
	return strings.Join(lines, "\n")
}

// Live is the running interpreter view: session status, the transcript,
// detected actions and recent log lines.
type Live struct {
	styles Styles
	title  string
	logs   *LogWriter
	now    func() time.Time

	mu      sync.Mutex
	status  string
	started time.Time
	records []transcript.Record
	actions []action.DetectedAction
	dirty   chan struct{}
}

// NewLive creates a live view. logs may be nil.
func NewLive(title string, logs *LogWriter) *Live {
	return &Live{
		styles: NewStyles(DefaultTheme),
		title:  title,
		logs:   logs,
		now:    time.Now,
		status: "idle",
		dirty:  make(chan struct{}, 1),
	}
}

// Update replaces the displayed session. A zero started hides the timer.
func (l *Live) Update(status string, started time.Time, records []transcript.Record, actions []action.DetectedAction) {
	l.mu.Lock()
	l.status = status
	l.started = started
	l.records = records
	l.actions = actions
	l.mu.Unlock()

	select {
	case l.dirty <- struct{}{}:
	default:
	}
}

// Render renders the view at the given terminal size.
func (l *Live) Render(width, height int) string {
	l.mu.Lock()
	status := l.status
	if !l.started.IsZero() {
		status += " " + FormatElapsed(l.now().Sub(l.started))
	}
	transcriptLines := make([]string, 0, len(l.records))
	for _, r := range l.records {
		transcriptLines = append(transcriptLines, RecordLine(l.styles, r))
	}
	actionLines := make([]string, 0, len(l.actions))
	for _, a := range l.actions {
		actionLines = append(actionLines, ActionLine(l.styles, a))
	}
	l.mu.Unlock()

	if len(transcriptLines) == 0 {
		transcriptLines = []string{l.styles.Help.Render(`Say "Hey Sully", then "Sully, translate" to begin.`)}
	}
	sections := []Section{
		{Label: "Transcript", Lines: transcriptLines},
		{Label: "Actions", Lines: actionLines},
	}
	if l.logs != nil {
		sections = append(sections, Section{Label: "Log", Lines: l.logs.Lines()})
	}
	return Frame{
		Styles:   l.styles,
		Title:    l.title,
		Status:   status,
		Sections: sections,
		Help:     `"Sully, stop translating" ends the session · r+Enter repeats the last translation · Ctrl+C quits`,
	}.Render(width, height)
}

// Run redraws the view on w until ctx is done. It redraws on updates, on
// new log lines, and every interval for the session timer.
func (l *Live) Run(ctx context.Context, w io.Writer, size func() (int, int), interval time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var logs <-chan struct{}
	if l.logs != nil {
		logs = l.logs.Changed()
	}
	for {
		width, height := size()
		if _, err := fmt.Fprint(w, "\x1b[H\x1b[2J"+l.Render(width, height)); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			_, err := fmt.Fprintln(w)
			return err
		case <-l.dirty:
		case <-logs:
		case <-ticker.C:
		}
	}
}

// TerminalSize returns the size of f, or 100x30 when f is not a terminal.
func TerminalSize(f *os.File) func() (int, int) {
	return func() (int, int) {
		w, h, err := term.GetSize(f.Fd())
		if err != nil || w <= 0 || h <= 0 {
			return 100, 30
		}
		return w, h
	}
}

// IsTerminal reports whether f is a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(f.Fd())
}
