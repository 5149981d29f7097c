package commands

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/charmbracelet/x/ansi"

	"github.com/kronktech/sully/cmd/sully/internal/config"
	"github.com/kronktech/sully/pkg/cli"
	"github.com/kronktech/sully/pkg/interpreter"
	"github.com/kronktech/sully/pkg/jsontime"
	"github.com/kronktech/sully/pkg/server"
	"github.com/kronktech/sully/pkg/transcript"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBuildInterpreter(t *testing.T) {
	tests := []struct {
		name    string
		edit    func(*config.Config)
		wantErr string
	}{
		{"stdin over webrtc", func(c *config.Config) { c.Wake.Recognizer = config.RecognizerStdin }, ""},
		{"stdin over websocket", func(c *config.Config) {
			c.Wake.Recognizer = config.RecognizerStdin
			c.Realtime.Transport = config.TransportWebSocket
		}, ""},
		{"deepgram with key", func(c *config.Config) { c.Wake.Deepgram.APIKey = "dg" }, ""},
		{"local tokens and cue", func(c *config.Config) {
			c.Wake.Recognizer = config.RecognizerStdin
			c.Realtime.APIKey = "sk-test"
			c.Media.Cue = "/usr/share/sounds/start.wav"
		}, ""},
		{"deepgram without key", func(*config.Config) {}, "DEEPGRAM_API_KEY"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.edit(cfg)
			ctl, err := buildInterpreter(cfg, discardLogger(), strings.NewReader(""), func(interpreter.SessionState) {})
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("buildInterpreter() error: %v", err)
			}
			if got := ctl.State().Phase; got != interpreter.PhaseIdle {
				t.Errorf("phase = %v, want idle", got)
			}
		})
	}
}

func TestRunWithoutDeepgramKey(t *testing.T) {
	setupTestEnv(t, "")

	_, stderr, code := runCmd(t, "run", "--no-view")
	if code == 0 || !strings.Contains(stderr, "DEEPGRAM_API_KEY") {
		t.Errorf("exit %d, stderr %q", code, stderr)
	}
}

func TestRunRejectsUnknownTransport(t *testing.T) {
	setupTestEnv(t, "")

	_, stderr, code := runCmd(t, "run", "--stdin", "--transport", "carrier-pigeon")
	if code == 0 || !strings.Contains(stderr, "realtime.transport") {
		t.Errorf("exit %d, stderr %q", code, stderr)
	}
}

func TestLocalTokens(t *testing.T) {
	minter := &fakeMinter{}
	tokens := &localTokens{sessions: minter, session: server.DefaultSession("")}

	resp, err := tokens.Token(context.Background(), "verse")
	if err != nil {
		t.Fatal(err)
	}
	if resp.ClientSecret.Value != "ek_1" {
		t.Errorf("secret = %q", resp.ClientSecret.Value)
	}
	if _, err := tokens.Token(context.Background(), ""); err != nil {
		t.Fatal(err)
	}
	if len(minter.reqs) != 2 {
		t.Fatalf("requests = %d", len(minter.reqs))
	}
	if minter.reqs[0].Voice != "verse" || minter.reqs[1].Voice != "alloy" {
		t.Errorf("voices = %q, %q", minter.reqs[0].Voice, minter.reqs[1].Voice)
	}
	if minter.reqs[0].Model != "gpt-4o-realtime-preview-2024-12-17" {
		t.Errorf("model = %q", minter.reqs[0].Model)
	}
}

func TestPCMPlayer(t *testing.T) {
	got := strings.Join(pcmPlayer(nil, 24000), " ")
	if got != "ffplay -nodisp -autoexit -loglevel quiet -f s16le -ar 24000 -ac 1" {
		t.Errorf("pcmPlayer(nil) = %q", got)
	}
	if got := pcmPlayer([]string{"aplay", "-f", "S16_LE"}, 24000); len(got) != 3 || got[0] != "aplay" {
		t.Errorf("configured player replaced: %q", got)
	}
}

func TestRecordPrinter(t *testing.T) {
	var out bytes.Buffer
	p := &recordPrinter{w: &out, styles: cli.NewStyles(cli.DefaultTheme), printed: map[string]bool{}}
	rec := func(id, text string) transcript.Record {
		return transcript.Record{
			ID: id, Text: text, CreatedAt: jsontime.Milli(visitTime),
			Role: transcript.RoleDoctor, Translation: "traducido", HasMetadata: true, HasTranslation: true,
		}
	}

	p.print([]transcript.Record{rec("1", "Hello")})
	p.print([]transcript.Record{rec("1", "Hello"), rec("2", "How are you")})
	lines := strings.Split(strings.TrimSpace(ansi.Strip(out.String())), "\n")
	if len(lines) != 2 || !strings.Contains(lines[0], "doctor: Hello → traducido") || !strings.Contains(lines[1], "How are you") {
		t.Fatalf("printed:\n%s", out.String())
	}

	// A new session starts from an empty transcript and reuses nothing.
	p.print(nil)
	out.Reset()
	p.print([]transcript.Record{rec("1", "Hello again")})
	if !strings.Contains(out.String(), "Hello again") {
		t.Errorf("record after reset not printed: %q", out.String())
	}
}

func TestReadControlLines(t *testing.T) {
	var repeats int
	in := strings.NewReader("r\nhello\n  REPEAT \n\nrepeated\n")
	readControlLines(context.Background(), in, func() { repeats++ })
	if repeats != 2 {
		t.Errorf("repeats = %d, want 2", repeats)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	repeats = 0
	readControlLines(ctx, strings.NewReader("r\n"), func() { repeats++ })
	if repeats != 0 {
		t.Errorf("repeats after cancel = %d", repeats)
	}
}
