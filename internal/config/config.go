package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type AuthMode string

const (
	AuthModeRequired AuthMode = "required"
	AuthModeOptional AuthMode = "optional"
	AuthModeDisabled AuthMode = "disabled"
)

const (
	ContactBackendSupabase = "supabase"
	ContactBackendSQLite   = "sqlite"
)

// DefaultChatURL is the GitHub Models chat completions endpoint.
const DefaultChatURL = "https://models.inference.ai.azure.com/chat/completions"

type Config struct {
	Addr   string
	WebDir string
	Debug  bool

	MaxBodyBytes        int64
	ReadHeaderTimeout   time.Duration
	HandlerTimeout      time.Duration
	ShutdownGracePeriod time.Duration

	Chat     ChatConfig
	TTS      TTSConfig
	Supabase SupabaseConfig
	Contact  ContactConfig
	Auth     AuthConfig
	Client   ClientConfig
}

type ChatConfig struct {
	APIURL      string
	Token       string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

type TTSConfig struct {
	APIKey  string
	VoiceID string
	BaseURL string
	Timeout time.Duration
}

type SupabaseConfig struct {
	URL       string
	AnonKey   string
	JWTSecret string
}

// Configured reports whether the hosted auth/database project is reachable.
func (s SupabaseConfig) Configured() bool {
	return s.URL != "" && s.AnonKey != ""
}

type ContactConfig struct {
	Backend    string
	SQLitePath string
}

type AuthConfig struct {
	Chat         AuthMode
	Speech       AuthMode
	CookieSecure bool
	// SiteURL is where the BaaS sends users back after email confirmation
	// and OAuth.
	SiteURL string
}

type ClientConfig struct {
	ServerURL         string
	SessionFile       string
	AutoPlay          bool
	AgentID           string
	AgentAPIKey       string
	RecognizerCommand string
	SpeechRate        float64
	PlayerVolume      int
}

// New returns a viper instance carrying every default and environment
// binding. Flags are bound onto it by the commands.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("NUTRA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Environment names used by the hosted deployment.
	_ = v.BindEnv("chat.token", "NUTRA_CHAT_TOKEN", "GITHUB_TOKEN")
	_ = v.BindEnv("chat.api_url", "NUTRA_CHAT_API_URL", "GITHUB_API_URL")
	_ = v.BindEnv("chat.model", "NUTRA_CHAT_MODEL", "GITHUB_MODEL")
	_ = v.BindEnv("tts.api_key", "NUTRA_TTS_API_KEY", "ELEVEN_API_KEY")
	_ = v.BindEnv("tts.voice_id", "NUTRA_TTS_VOICE_ID", "ELEVEN_VOICE_ID")
	_ = v.BindEnv("supabase.url", "NUTRA_SUPABASE_URL", "SUPABASE_URL", "NEXT_PUBLIC_SUPABASE_URL")
	_ = v.BindEnv("supabase.anon_key", "NUTRA_SUPABASE_ANON_KEY", "SUPABASE_ANON_KEY", "NEXT_PUBLIC_SUPABASE_ANON_KEY")
	_ = v.BindEnv("supabase.jwt_secret", "NUTRA_SUPABASE_JWT_SECRET", "SUPABASE_JWT_SECRET")
	_ = v.BindEnv("client.agent_id", "NUTRA_CLIENT_AGENT_ID", "ELEVENLABS_AGENT_ID", "NEXT_PUBLIC_ELEVENLABS_AGENT_ID")
	_ = v.BindEnv("client.agent_api_key", "NUTRA_CLIENT_AGENT_API_KEY", "ELEVEN_API_KEY")

	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("addr", ":8100")
	v.SetDefault("web_dir", "web")
	v.SetDefault("debug", false)
	v.SetDefault("max_body_bytes", int64(1<<20))
	v.SetDefault("read_header_timeout", 10*time.Second)
	v.SetDefault("handler_timeout", 60*time.Second)
	v.SetDefault("shutdown_grace_period", 10*time.Second)

	v.SetDefault("chat.api_url", DefaultChatURL)
	v.SetDefault("chat.model", "gpt-4o")
	v.SetDefault("chat.temperature", 0.7)
	v.SetDefault("chat.max_tokens", 800)
	v.SetDefault("chat.timeout", 30*time.Second)

	v.SetDefault("tts.voice_id", "alloy")
	v.SetDefault("tts.base_url", "https://api.elevenlabs.io")
	v.SetDefault("tts.timeout", 30*time.Second)

	v.SetDefault("contact.backend", ContactBackendSupabase)
	v.SetDefault("contact.sqlite_path", "nutra.db")

	v.SetDefault("auth.chat", string(AuthModeOptional))
	v.SetDefault("auth.speech", string(AuthModeOptional))
	v.SetDefault("auth.cookie_secure", false)
	v.SetDefault("auth.site_url", "http://localhost:8100")

	v.SetDefault("client.server_url", "http://localhost:8100")
	v.SetDefault("client.session_file", defaultSessionFile())
	v.SetDefault("client.auto_play", true)
	v.SetDefault("client.speech_rate", 0.9)
	v.SetDefault("client.player_volume", 100)
}

func defaultSessionFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".nutra-session.json"
	}
	return dir + string(os.PathSeparator) + "nutra" + string(os.PathSeparator) + "session.json"
}

// Load reads the optional dotenv and config files into v and decodes the
// result. Variables already present in the process environment win over the
// dotenv file.
func Load(v *viper.Viper, envFile, configFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("failed to load env file %q: %w", envFile, err)
		}
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config file %q: %w", configFile, err)
		}
	}

	cfg := Config{
		Addr:                v.GetString("addr"),
		WebDir:              v.GetString("web_dir"),
		Debug:               v.GetBool("debug"),
		MaxBodyBytes:        v.GetInt64("max_body_bytes"),
		ReadHeaderTimeout:   v.GetDuration("read_header_timeout"),
		HandlerTimeout:      v.GetDuration("handler_timeout"),
		ShutdownGracePeriod: v.GetDuration("shutdown_grace_period"),
		Chat: ChatConfig{
			APIURL:      strings.TrimSpace(v.GetString("chat.api_url")),
			Token:       strings.TrimSpace(v.GetString("chat.token")),
			Model:       strings.TrimSpace(v.GetString("chat.model")),
			Temperature: v.GetFloat64("chat.temperature"),
			MaxTokens:   v.GetInt("chat.max_tokens"),
			Timeout:     v.GetDuration("chat.timeout"),
		},
		TTS: TTSConfig{
			APIKey:  strings.TrimSpace(v.GetString("tts.api_key")),
			VoiceID: strings.TrimSpace(v.GetString("tts.voice_id")),
			BaseURL: strings.TrimRight(strings.TrimSpace(v.GetString("tts.base_url")), "/"),
			Timeout: v.GetDuration("tts.timeout"),
		},
		Supabase: SupabaseConfig{
			URL:       strings.TrimRight(strings.TrimSpace(v.GetString("supabase.url")), "/"),
			AnonKey:   strings.TrimSpace(v.GetString("supabase.anon_key")),
			JWTSecret: strings.TrimSpace(v.GetString("supabase.jwt_secret")),
		},
		Contact: ContactConfig{
			Backend:    strings.ToLower(strings.TrimSpace(v.GetString("contact.backend"))),
			SQLitePath: v.GetString("contact.sqlite_path"),
		},
		Auth: AuthConfig{
			Chat:         AuthMode(strings.ToLower(strings.TrimSpace(v.GetString("auth.chat")))),
			Speech:       AuthMode(strings.ToLower(strings.TrimSpace(v.GetString("auth.speech")))),
			CookieSecure: v.GetBool("auth.cookie_secure"),
			SiteURL:      strings.TrimRight(v.GetString("auth.site_url"), "/"),
		},
		Client: ClientConfig{
			ServerURL:         strings.TrimRight(v.GetString("client.server_url"), "/"),
			SessionFile:       v.GetString("client.session_file"),
			AutoPlay:          v.GetBool("client.auto_play"),
			AgentID:           strings.TrimSpace(v.GetString("client.agent_id")),
			AgentAPIKey:       strings.TrimSpace(v.GetString("client.agent_api_key")),
			RecognizerCommand: strings.TrimSpace(v.GetString("client.recognizer_command")),
			SpeechRate:        v.GetFloat64("client.speech_rate"),
			PlayerVolume:      v.GetInt("client.player_volume"),
		},
	}
	return cfg, nil
}

// Validate checks the settings the server cannot start without.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Addr) == "" {
		errs = append(errs, errors.New("addr must not be empty"))
	}
	if c.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("max_body_bytes must be positive"))
	}
	for name, mode := range map[string]AuthMode{"auth.chat": c.Auth.Chat, "auth.speech": c.Auth.Speech} {
		switch mode {
		case AuthModeRequired, AuthModeOptional, AuthModeDisabled:
		default:
			errs = append(errs, fmt.Errorf("%s must be one of required, optional, disabled (got %q)", name, mode))
		}
	}
	switch c.Contact.Backend {
	case ContactBackendSupabase:
		if !c.Supabase.Configured() {
			errs = append(errs, errors.New("supabase url and anon key are required for the supabase contact backend"))
		}
	case ContactBackendSQLite:
		if strings.TrimSpace(c.Contact.SQLitePath) == "" {
			errs = append(errs, errors.New("contact.sqlite_path must not be empty"))
		}
	default:
		errs = append(errs, fmt.Errorf("contact.backend must be supabase or sqlite (got %q)", c.Contact.Backend))
	}
	if (c.Auth.Chat == AuthModeRequired || c.Auth.Speech == AuthModeRequired) && !c.Supabase.Configured() {
		errs = append(errs, errors.New("supabase url and anon key are required when authentication is required"))
	}
	if c.Chat.MaxTokens <= 0 {
		errs = append(errs, errors.New("chat.max_tokens must be positive"))
	}
	return errors.Join(errs...)
}
