package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/spf13/cobra"
	"google.golang.org/genai"

	"github.com/kronktech/sully/cmd/sully/internal/config"
	"github.com/kronktech/sully/pkg/backend"
	"github.com/kronktech/sully/pkg/conversation"
	openairealtime "github.com/kronktech/sully/pkg/openai-realtime"
	"github.com/kronktech/sully/pkg/server"
	"github.com/kronktech/sully/pkg/summary"
)

var (
	serveAddr   string
	serveDB     string
	serveMemory bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the backend",
	Long: `Run the backend used by 'sully run'.

It mints realtime session tokens, summarizes finished visits, stores
conversations and relays detected actions to server.webhook_url.
OPENAI_API_KEY is required. Summaries use OpenAI, or Gemini with
server.summarizer: gemini and GEMINI_API_KEY.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
	serveCmd.Flags().StringVar(&serveDB, "db", "", "conversation database directory (overrides server.db)")
	serveCmd.Flags().BoolVar(&serveMemory, "memory", false, "keep conversations in memory only")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := GetConfig()
	if err != nil {
		return err
	}
	logger := newLogger(os.Stderr)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, store, err := buildServer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	addr := cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}
	logger.Info("serve: listening", "addr", addr, "summarizer", cfg.Server.Summarizer, "webhook", cfg.Server.WebhookURL != "")
	if err := srv.ListenAndServe(ctx, addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info("serve: stopped")
	return nil
}

// buildServer wires the backend from cfg. The returned closer releases the
// conversation store.
func buildServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*server.Server, io.Closer, error) {
	if cfg.Realtime.APIKey == "" {
		return nil, nil, errors.New("serve: OPENAI_API_KEY (realtime.api_key) is required")
	}

	rtOpts := []openairealtime.Option{
		openairealtime.WithAPIKey(cfg.Realtime.APIKey),
		openairealtime.WithLogger(logger),
	}
	if cfg.Realtime.URL != "" {
		rtOpts = append(rtOpts, openairealtime.WithHTTPURL(cfg.Realtime.URL))
	}
	sessions := openairealtime.NewClient(rtOpts...)

	summarizer, err := newSummarizer(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	var store conversation.Store
	if serveMemory {
		store = conversation.NewMemory()
	} else {
		dir := cfg.DBDir()
		if serveDB != "" {
			dir = serveDB
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, nil, fmt.Errorf("serve: create db dir: %w", err)
		}
		b, err := conversation.NewBadger(conversation.BadgerOptions{Dir: dir, Logger: logger})
		if err != nil {
			return nil, nil, err
		}
		logger.Info("serve: conversation store", "dir", dir)
		store = b
	}

	scfg := server.Config{
		Sessions:      sessions,
		Session:       server.DefaultSession(cfg.Realtime.Model),
		Summarizer:    summarizer,
		Conversations: store,
	}
	if cfg.Realtime.Voice != "" {
		scfg.Session.Voice = cfg.Realtime.Voice
	}
	if cfg.Server.WebhookURL != "" {
		scfg.Webhook = &backend.Webhook{
			URL:        cfg.Server.WebhookURL,
			HTTPClient: &http.Client{Timeout: cfg.Backend.Timeout},
		}
	}
	srv, err := server.New(scfg, logger)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return srv, store, nil
}

func newSummarizer(ctx context.Context, cfg *config.Config) (summary.Summarizer, error) {
	switch cfg.Server.Summarizer {
	case config.SummarizerGemini:
		if cfg.Server.GeminiAPIKey == "" {
			return nil, errors.New("serve: GEMINI_API_KEY (server.gemini_api_key) is required for the gemini summarizer")
		}
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  cfg.Server.GeminiAPIKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, fmt.Errorf("serve: gemini client: %w", err)
		}
		return &summary.Gemini{Client: client, Model: cfg.SummaryModel()}, nil
	default:
		opts := []option.RequestOption{option.WithAPIKey(cfg.Realtime.APIKey)}
		if cfg.Realtime.URL != "" {
			opts = append(opts, option.WithBaseURL(cfg.Realtime.URL))
		}
		client := openai.NewClient(opts...)
		return &summary.OpenAI{Client: &client, Model: cfg.SummaryModel()}, nil
	}
}
