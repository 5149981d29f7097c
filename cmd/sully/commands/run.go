package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/kronktech/sully/cmd/sully/internal/config"
	"github.com/kronktech/sully/pkg/backend"
	"github.com/kronktech/sully/pkg/cli"
	"github.com/kronktech/sully/pkg/deepgram"
	"github.com/kronktech/sully/pkg/interpreter"
	"github.com/kronktech/sully/pkg/media"
	openairealtime "github.com/kronktech/sully/pkg/openai-realtime"
	"github.com/kronktech/sully/pkg/server"
	"github.com/kronktech/sully/pkg/transcript"
	"github.com/kronktech/sully/pkg/wake"
)

var (
	runStdin       bool
	runNoView      bool
	runMetricsAddr string
	runTransport   string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: `Listen for "Hey Sully" and interpret the visit`,
	Long: `Listen for the wake word and interpret the visit.

Say "Hey Sully", then "Sully, translate" within a few seconds to open a
session. "Sully, stop translating" closes it; the visit is summarized by
the backend and saved. Asking "Sully, repeat that" makes the model say its
last translation again; typing "r" and Enter during a session requests the
same replay explicitly (not available with --stdin, which reads wake phrases).

Ambient listening uses Deepgram (DEEPGRAM_API_KEY) on the microphone, or
lines typed on stdin with --stdin. Session tokens come from the backend,
or are minted locally when OPENAI_API_KEY is set.`,
	Args: cobra.NoArgs,
	RunE: runInterpreter,
}

func init() {
	runCmd.Flags().BoolVar(&runStdin, "stdin", false, "read wake phrases from stdin instead of the microphone")
	runCmd.Flags().BoolVar(&runNoView, "no-view", false, "log to stderr instead of drawing the live view")
	runCmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (overrides metrics.addr)")
	runCmd.Flags().StringVar(&runTransport, "transport", "", "realtime transport, webrtc or websocket (overrides realtime.transport)")
	rootCmd.AddCommand(runCmd)
}

func runInterpreter(cmd *cobra.Command, args []string) error {
	cfg, err := GetConfig()
	if err != nil {
		return err
	}
	if runStdin {
		cfg.Wake.Recognizer = config.RecognizerStdin
	}
	if runTransport != "" {
		cfg.Realtime.Transport = runTransport
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The live view owns the terminal; logs go to its panel.
	var live *cli.Live
	var logOut io.Writer = os.Stderr
	if !runNoView && cfg.Wake.Recognizer != config.RecognizerStdin && cli.IsTerminal(os.Stdout) {
		logs := cli.NewLogWriter(200)
		live = cli.NewLive("Sully", logs)
		logOut = logs
	}
	logger := newLogger(logOut)

	var ctl *interpreter.Controller
	var hook func(interpreter.SessionState)
	if live != nil {
		hook = func(s interpreter.SessionState) {
			if ctl == nil {
				return
			}
			status := s.Phase.String()
			if s.Saving && s.Phase != interpreter.PhaseStopping {
				status += ", saving"
			}
			live.Update(status, s.SessionStarted, ctl.Transcript().Records(), ctl.Actions())
		}
	} else {
		p := &recordPrinter{w: os.Stdout, styles: cli.NewStyles(cli.DefaultTheme), printed: map[string]bool{}}
		hook = func(interpreter.SessionState) {
			if ctl == nil {
				return
			}
			p.print(ctl.Transcript().Completed())
		}
	}

	ctl, err = buildInterpreter(cfg, logger, os.Stdin, hook)
	if err != nil {
		return err
	}

	addr := cfg.Metrics.Addr
	if runMetricsAddr != "" {
		addr = runMetricsAddr
	}
	if addr != "" {
		go serveMetrics(ctx, addr, logger)
	}
	if live != nil {
		go live.Run(ctx, os.Stdout, cli.TerminalSize(os.Stdout), time.Second)
	}
	if cfg.Wake.Recognizer != config.RecognizerStdin {
		go readControlLines(ctx, os.Stdin, ctl.RequestRepeat)
	}

	logger.Info(`run: listening for "Hey Sully"`, "recognizer", cfg.Wake.Recognizer, "transport", cfg.Realtime.Transport)
	return ctl.Run(ctx)
}

// buildInterpreter wires a controller from cfg. stdin feeds the line
// recognizer.
func buildInterpreter(cfg *config.Config, logger *slog.Logger, stdin io.Reader, hook func(interpreter.SessionState)) (*interpreter.Controller, error) {
	client := backend.New(cfg.Backend.URL,
		backend.WithHTTPClient(&http.Client{Timeout: cfg.Backend.Timeout}),
		backend.WithLogger(logger),
	)

	rtOpts := []openairealtime.Option{openairealtime.WithLogger(logger)}
	if cfg.Realtime.URL != "" {
		rtOpts = append(rtOpts, openairealtime.WithHTTPURL(cfg.Realtime.URL))
	}
	if cfg.Realtime.APIKey != "" {
		rtOpts = append(rtOpts, openairealtime.WithAPIKey(cfg.Realtime.APIKey))
	}
	rt := openairealtime.NewClient(rtOpts...)

	mic := &media.FFmpeg{
		Command:     cfg.Media.FFmpeg,
		InputFormat: cfg.Media.InputFormat,
		InputDevice: cfg.Media.InputDevice,
	}
	player := &media.Player{Command: cfg.Media.Player}

	var dialer interpreter.Dialer
	switch cfg.Realtime.Transport {
	case config.TransportWebSocket:
		pcm := &media.Player{Command: pcmPlayer(cfg.Media.Player, interpreter.RealtimeSampleRate)}
		dialer = &interpreter.WebSocketDialer{
			Client:     rt,
			Model:      cfg.Realtime.Model,
			Microphone: mic,
			Output:     pcm.Pipe,
			Logger:     logger,
		}
	default:
		dialer = &interpreter.WebRTCDialer{
			Client:     rt,
			Model:      cfg.Realtime.Model,
			Microphone: mic,
			Output:     player.Pipe,
			Logger:     logger,
		}
	}

	var rec wake.Recognizer
	switch cfg.Wake.Recognizer {
	case config.RecognizerStdin:
		rec = wake.NewLineRecognizer(stdin)
	default:
		if cfg.Wake.Deepgram.APIKey == "" {
			return nil, errors.New("run: DEEPGRAM_API_KEY (wake.deepgram.api_key) is required; use --stdin to type wake phrases instead")
		}
		rec = deepgram.New(deepgram.Config{
			APIKey:      cfg.Wake.Deepgram.APIKey,
			Model:       cfg.Wake.Deepgram.Model,
			Language:    cfg.Wake.Deepgram.Language,
			SmartFormat: true,
			SampleRate:  deepgram.DefaultSampleRate,
		}, microphonePCM(mic, deepgram.DefaultSampleRate), deepgram.WithLogger(logger))
	}

	var tokens interpreter.TokenSource = client
	if cfg.Realtime.APIKey != "" {
		tokens = &localTokens{sessions: rt, session: server.DefaultSession(cfg.Realtime.Model)}
	}

	opts := []interpreter.Option{
		interpreter.WithLogger(logger),
		interpreter.WithVoice(cfg.Realtime.Voice),
		interpreter.WithGateOptions(
			wake.WithWindow(cfg.Wake.Window),
			wake.WithRestartDelay(cfg.Wake.RestartDelay),
		),
		interpreter.WithStateHook(hook),
	}
	if cfg.Realtime.ReadyTimeout > 0 {
		opts = append(opts, interpreter.WithReadyTimeout(cfg.Realtime.ReadyTimeout))
	}
	if cfg.Realtime.FinalizeTimeout > 0 {
		opts = append(opts, interpreter.WithFinalizeTimeout(cfg.Realtime.FinalizeTimeout))
	}
	if cfg.Media.Cue != "" {
		opts = append(opts, interpreter.WithCue(interpreter.FileCue{Player: player, Path: cfg.Media.Cue}))
	}

	return interpreter.New(interpreter.Deps{
		Recognizer:    rec,
		Dialer:        dialer,
		Tokens:        tokens,
		Summarizer:    client,
		Conversations: client,
		Webhook:       client,
	}, opts...)
}

// microphonePCM captures mono PCM resampled to rate.
func microphonePCM(mic *media.FFmpeg, rate int) deepgram.AudioSource {
	return func(ctx context.Context) (io.ReadCloser, error) {
		capture, err := mic.Start(ctx, media.EncodingPCM)
		if err != nil {
			return nil, err
		}
		pcm, err := media.NewResampler(capture, media.CaptureSampleRate, rate)
		if err != nil {
			capture.Close()
			return nil, err
		}
		return pcm, nil
	}
}

// pcmPlayer returns a player command reading raw 16-bit mono PCM at rate
// from stdin. A configured player is used as is.
func pcmPlayer(configured []string, rate int) []string {
	if len(configured) > 0 {
		return configured
	}
	argv := append([]string(nil), media.DefaultPlayer...)
	return append(argv, "-f", "s16le", "-ar", strconv.Itoa(rate), "-ac", "1")
}

// localTokens mints session tokens with the configured OpenAI key instead
// of asking the backend.
type localTokens struct {
	sessions server.SessionMinter
	session  openairealtime.SessionRequest
}

func (t *localTokens) Token(ctx context.Context, voice string) (*openairealtime.SessionResponse, error) {
	req := t.session
	if voice != "" {
		req.Voice = voice
	}
	return t.sessions.CreateSession(ctx, &req)
}

func serveMetrics(ctx context.Context, addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:        addr,
		Handler:     mux,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	logger.Info("run: metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn("run: metrics server", "err", err)
	}
}

// recordPrinter prints each completed record once, for runs without the
// live view.
type recordPrinter struct {
	w      io.Writer
	styles cli.Styles

	mu      sync.Mutex
	printed map[string]bool
}

func (p *recordPrinter) print(records []transcript.Record) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(records) == 0 {
		// A new session cleared the transcript.
		clear(p.printed)
		return
	}
	for _, r := range records {
		if p.printed[r.ID] {
			continue
		}
		p.printed[r.ID] = true
		fmt.Fprintln(p.w, cli.RecordLine(p.styles, r))
	}
}

// readControlLines calls repeat for every "r" or "repeat" line read from r
// until ctx is done or r ends.
func readControlLines(ctx context.Context, r io.Reader, repeat func()) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		switch strings.ToLower(strings.TrimSpace(sc.Text())) {
		case "r", "repeat":
			repeat()
		}
	}
}
