package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(New(), "", "")
	require.NoError(t, err)

	assert.Equal(t, ":8100", cfg.Addr)
	assert.Equal(t, DefaultChatURL, cfg.Chat.APIURL)
	assert.Equal(t, "gpt-4o", cfg.Chat.Model)
	assert.InDelta(t, 0.7, cfg.Chat.Temperature, 1e-9)
	assert.Equal(t, 800, cfg.Chat.MaxTokens)
	assert.Equal(t, 30*time.Second, cfg.Chat.Timeout)
	assert.Equal(t, "alloy", cfg.TTS.VoiceID)
	assert.Equal(t, AuthModeOptional, cfg.Auth.Chat)
	assert.Equal(t, AuthModeOptional, cfg.Auth.Speech)
	assert.True(t, cfg.Client.AutoPlay)
}

func TestLoadHonoursDeploymentEnvironmentNames(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "gh-token")
	t.Setenv("GITHUB_MODEL", "gpt-4o-mini")
	t.Setenv("ELEVEN_API_KEY", "eleven")
	t.Setenv("NEXT_PUBLIC_SUPABASE_URL", "https://project.supabase.co/")
	t.Setenv("NEXT_PUBLIC_SUPABASE_ANON_KEY", "anon")

	cfg, err := Load(New(), "", "")
	require.NoError(t, err)

	assert.Equal(t, "gh-token", cfg.Chat.Token)
	assert.Equal(t, "gpt-4o-mini", cfg.Chat.Model)
	assert.Equal(t, "eleven", cfg.TTS.APIKey)
	assert.Equal(t, "eleven", cfg.Client.AgentAPIKey)
	assert.Equal(t, "https://project.supabase.co", cfg.Supabase.URL)
	assert.True(t, cfg.Supabase.Configured())
}

func TestLoadPrefixedEnvironmentWins(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "legacy")
	t.Setenv("NUTRA_CHAT_TOKEN", "preferred")

	cfg, err := Load(New(), "", "")
	require.NoError(t, err)
	assert.Equal(t, "preferred", cfg.Chat.Token)
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("NUTRA_CONTACT_BACKEND=sqlite\nNUTRA_CONTACT_SQLITE_PATH=/tmp/x.db\n"), 0o600))
	t.Cleanup(func() {
		_ = os.Unsetenv("NUTRA_CONTACT_BACKEND")
		_ = os.Unsetenv("NUTRA_CONTACT_SQLITE_PATH")
	})

	cfg, err := Load(New(), envFile, "")
	require.NoError(t, err)
	assert.Equal(t, ContactBackendSQLite, cfg.Contact.Backend)
	assert.Equal(t, "/tmp/x.db", cfg.Contact.SQLitePath)
}

func TestLoadMissingEnvFileIsIgnored(t *testing.T) {
	_, err := Load(New(), filepath.Join(t.TempDir(), "missing.env"), "")
	require.NoError(t, err)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nutra.yaml")
	require.NoError(t, os.WriteFile(path, []byte("addr: \":9000\"\nauth:\n  speech: required\n"), 0o600))

	cfg, err := Load(New(), "", path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, AuthModeRequired, cfg.Auth.Speech)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		cfg, err := Load(New(), "", "")
		require.NoError(t, err)
		cfg.Contact.Backend = ContactBackendSQLite
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "sqlite backend without supabase", mutate: func(*Config) {}},
		{
			name:    "supabase backend without credentials",
			mutate:  func(c *Config) { c.Contact.Backend = ContactBackendSupabase },
			wantErr: "supabase contact backend",
		},
		{
			name:    "required auth without supabase",
			mutate:  func(c *Config) { c.Auth.Chat = AuthModeRequired },
			wantErr: "authentication is required",
		},
		{
			name:    "unknown auth mode",
			mutate:  func(c *Config) { c.Auth.Speech = "sometimes" },
			wantErr: "auth.speech",
		},
		{
			name:    "unknown contact backend",
			mutate:  func(c *Config) { c.Contact.Backend = "dynamo" },
			wantErr: "contact.backend",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
