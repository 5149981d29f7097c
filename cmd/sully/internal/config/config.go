// Package config loads the sully configuration.
//
// The configuration is a single YAML file under os.UserConfigDir()/sully:
//
//	~/Library/Application Support/sully/sully.yaml   (macOS)
//	~/.config/sully/sully.yaml                       (Linux)
//	%AppData%/sully/sully.yaml                       (Windows)
//
// SULLY_CONFIG_DIR replaces the directory. A missing file is not an error;
// every field has a default. Environment variables named in the env tags
// override the file, so API keys can stay out of it.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/ilyakaznacheev/cleanenv"

	"github.com/kronktech/sully/pkg/backend"
	"github.com/kronktech/sully/pkg/deepgram"
	openairealtime "github.com/kronktech/sully/pkg/openai-realtime"
	"github.com/kronktech/sully/pkg/server"
	"github.com/kronktech/sully/pkg/summary"
)

const (
	// appDir is the directory name under os.UserConfigDir().
	appDir = "sully"

	// FileName is the configuration file inside the config directory.
	FileName = "sully.yaml"

	// DirEnv overrides the configuration directory.
	DirEnv = "SULLY_CONFIG_DIR"
)

// Transports.
const (
	TransportWebRTC    = "webrtc"
	TransportWebSocket = "websocket"
)

// Recognizers.
const (
	RecognizerDeepgram = "deepgram"
	RecognizerStdin    = "stdin"
)

// Summarizers.
const (
	SummarizerOpenAI = "openai"
	SummarizerGemini = "gemini"
)

// Config is the full sully configuration.
type Config struct {
	Backend  Backend  `yaml:"backend"`
	Realtime Realtime `yaml:"realtime"`
	Wake     Wake     `yaml:"wake"`
	Media    Media    `yaml:"media"`
	Server   Server   `yaml:"server"`
	Metrics  Metrics  `yaml:"metrics"`

	// Path is the file the configuration was loaded from.
	Path string `yaml:"-"`
}

// Backend is the sully server used by the interpreter.
type Backend struct {
	URL     string        `yaml:"url" env:"SULLY_BACKEND_URL"`
	Timeout time.Duration `yaml:"timeout"`
}

// Realtime configures the realtime session.
type Realtime struct {
	Transport string `yaml:"transport" env:"SULLY_TRANSPORT"`
	Model     string `yaml:"model"`
	Voice     string `yaml:"voice"`
	// URL replaces the OpenAI API base URL.
	URL string `yaml:"url,omitempty"`
	// APIKey lets the interpreter mint session tokens without a backend. The
	// server always needs it.
	APIKey          string        `yaml:"api_key,omitempty" env:"OPENAI_API_KEY"`
	ReadyTimeout    time.Duration `yaml:"ready_timeout,omitempty"`
	FinalizeTimeout time.Duration `yaml:"finalize_timeout,omitempty"`
}

// Wake configures ambient listening.
type Wake struct {
	Recognizer   string        `yaml:"recognizer" env:"SULLY_RECOGNIZER"`
	Window       time.Duration `yaml:"window"`
	RestartDelay time.Duration `yaml:"restart_delay"`
	Deepgram     Deepgram      `yaml:"deepgram"`
}

// Deepgram configures the streaming recognizer.
type Deepgram struct {
	APIKey   string `yaml:"api_key,omitempty" env:"DEEPGRAM_API_KEY"`
	Model    string `yaml:"model"`
	Language string `yaml:"language"`
}

// Media configures the microphone and speaker commands.
type Media struct {
	FFmpeg      string `yaml:"ffmpeg"`
	InputFormat string `yaml:"input_format" env:"SULLY_INPUT_FORMAT"`
	InputDevice string `yaml:"input_device" env:"SULLY_INPUT_DEVICE"`
	// Cue is an audio file played when a session starts.
	Cue    string   `yaml:"cue,omitempty"`
	Player []string `yaml:"player,omitempty"`
}

// Server configures `sully serve`.
type Server struct {
	Addr string `yaml:"addr" env:"SULLY_ADDR"`
	// DB is the conversation database directory. Defaults to "db" next to
	// the configuration file.
	DB           string `yaml:"db,omitempty" env:"SULLY_DB"`
	Summarizer   string `yaml:"summarizer" env:"SULLY_SUMMARIZER"`
	SummaryModel string `yaml:"summary_model,omitempty"`
	GeminiAPIKey string `yaml:"gemini_api_key,omitempty" env:"GEMINI_API_KEY"`
	// WebhookURL receives detected actions. Empty disables forwarding.
	WebhookURL string `yaml:"webhook_url,omitempty" env:"SULLY_WEBHOOK_URL"`
}

// Metrics configures the Prometheus endpoint of `sully run`.
type Metrics struct {
	Addr string `yaml:"addr,omitempty" env:"SULLY_METRICS_ADDR"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Backend: Backend{
			URL:     backend.DefaultURL,
			Timeout: 30 * time.Second,
		},
		Realtime: Realtime{
			Transport: TransportWebRTC,
			Model:     openairealtime.ModelGPT4oRealtimePreview20241217,
			Voice:     openairealtime.VoiceAlloy,
		},
		Wake: Wake{
			Recognizer: RecognizerDeepgram,
			Deepgram: Deepgram{
				Model:    deepgram.DefaultModel,
				Language: "multi",
			},
		},
		Media: Media{
			FFmpeg:      "ffmpeg",
			InputFormat: "pulse",
			InputDevice: "default",
		},
		Server: Server{
			Addr:       server.DefaultAddr,
			Summarizer: SummarizerOpenAI,
		},
	}
}

// Dir returns the configuration directory.
func Dir() (string, error) {
	if dir := os.Getenv(DirEnv); dir != "" {
		return dir, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine config directory: %w", err)
	}
	return filepath.Join(base, appDir), nil
}

// DefaultPath returns the default configuration file path.
func DefaultPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, FileName), nil
}

// Load reads the configuration from path, or from DefaultPath when path is
// empty, then applies environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	cfg := Default()
	cfg.Path = path

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the enumerated fields.
func (c *Config) Validate() error {
	switch c.Realtime.Transport {
	case TransportWebRTC, TransportWebSocket:
	default:
		return fmt.Errorf("realtime.transport: unknown transport %q", c.Realtime.Transport)
	}
	switch c.Wake.Recognizer {
	case RecognizerDeepgram, RecognizerStdin:
	default:
		return fmt.Errorf("wake.recognizer: unknown recognizer %q", c.Wake.Recognizer)
	}
	switch c.Server.Summarizer {
	case SummarizerOpenAI, SummarizerGemini:
	default:
		return fmt.Errorf("server.summarizer: unknown summarizer %q", c.Server.Summarizer)
	}
	if c.Wake.Window < 0 || c.Wake.RestartDelay < 0 || c.Backend.Timeout < 0 {
		return errors.New("durations must not be negative")
	}
	return nil
}

// DBDir returns the conversation database directory.
func (c *Config) DBDir() string {
	if c.Server.DB != "" {
		return c.Server.DB
	}
	return filepath.Join(filepath.Dir(c.Path), "db")
}

// SummaryModel returns the configured model or the summarizer's default.
func (c *Config) SummaryModel() string {
	if c.Server.SummaryModel != "" {
		return c.Server.SummaryModel
	}
	if c.Server.Summarizer == SummarizerGemini {
		return summary.DefaultGeminiModel
	}
	return summary.DefaultModel
}

// Redacted returns a copy with API keys masked, for display.
func (c *Config) Redacted() *Config {
	out := *c
	out.Media.Player = append([]string(nil), c.Media.Player...)
	out.Realtime.APIKey = mask(c.Realtime.APIKey)
	out.Wake.Deepgram.APIKey = mask(c.Wake.Deepgram.APIKey)
	out.Server.GeminiAPIKey = mask(c.Server.GeminiAPIKey)
	return &out
}

func mask(key string) string {
	switch {
	case key == "":
		return ""
	case len(key) <= 8:
		return "****"
	default:
		return key[:4] + "****" + key[len(key)-4:]
	}
}

// Marshal encodes the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// Save writes the configuration to c.Path, creating the directory.
func (c *Config) Save() error {
	if c.Path == "" {
		return errors.New("config path is empty")
	}
	data, err := c.Marshal()
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.Path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	return os.WriteFile(c.Path, data, 0600)
}
