package main

import (
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"NOTION_TOKEN", "NOTION_DATABASE_ID", "OPENAI_API_KEY", "OPENAI_BASE_URL",
		"ANTHROPIC_API_KEY", "OPENAI_MODEL", "LLM_MODEL", "LLM_PROVIDER",
		"NOTE_STATE_FILE", "NOTE_STATE_B64",
	} {
		t.Setenv(name, "")
		os.Unsetenv(name)
	}
}

func writeSettings(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write settings: %v", err)
	}
	return path
}

func TestResolveModel(t *testing.T) {
	tests := []struct {
		name       string
		configured string
		provider   string
		expected   string
	}{
		{"absent openai", "", ProviderOpenAI, "gpt-4o-mini"},
		{"blank openai", "   ", ProviderOpenAI, "gpt-4o-mini"},
		{"explicit openai", "gpt-4o", ProviderOpenAI, "gpt-4o"},
		{"padded explicit", " gpt-4o ", ProviderOpenAI, "gpt-4o"},
		{"absent anthropic", "", ProviderAnthropic, "claude-sonnet-4-20250514"},
		{"explicit anthropic", "claude-3-5-haiku-latest", ProviderAnthropic, "claude-3-5-haiku-latest"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ResolveModel(tt.configured, tt.provider)
			if result != tt.expected {
				t.Errorf("ResolveModel(%q, %q) = %q, want %q", tt.configured, tt.provider, result, tt.expected)
			}
		})
	}
}

func TestLoadConfigModelSources(t *testing.T) {
	tests := []struct {
		name     string
		env      map[string]string
		flag     *string
		settings string
		expected string
	}{
		{
			name:     "empty env var is treated as unset",
			env:      map[string]string{"OPENAI_MODEL": ""},
			expected: "gpt-4o-mini",
		},
		{
			name:     "env var set",
			env:      map[string]string{"OPENAI_MODEL": "gpt-4o"},
			expected: "gpt-4o",
		},
		{
			name:     "settings file model",
			settings: "generation:\n  model: gpt-4.1-mini\n",
			expected: "gpt-4.1-mini",
		},
		{
			name:     "env beats settings",
			env:      map[string]string{"LLM_MODEL": "gpt-4o"},
			settings: "generation:\n  model: gpt-4.1-mini\n",
			expected: "gpt-4o",
		},
		{
			name:     "flag beats env",
			env:      map[string]string{"OPENAI_MODEL": "gpt-4o"},
			flag:     strPtr("o4-mini"),
			expected: "o4-mini",
		},
		{
			name:     "blank flag falls through",
			env:      map[string]string{"OPENAI_MODEL": "gpt-4o"},
			flag:     strPtr(""),
			expected: "gpt-4o",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := writeSettings(t, tt.settings)

			cfg, err := LoadConfig(&ConfigOverrides{SettingsPath: &path, Model: tt.flag})
			if err != nil {
				t.Fatalf("LoadConfig() error = %v", err)
			}
			if cfg.Model != tt.expected {
				t.Errorf("cfg.Model = %q, want %q", cfg.Model, tt.expected)
			}
		})
	}
}

func TestLoadConfigPartialSettingsKeepDefaults(t *testing.T) {
	clearEnv(t)
	path := writeSettings(t, "notion:\n  status_property: 状態\ntimeouts:\n  publish: 5m\n")

	cfg, err := LoadConfig(&ConfigOverrides{SettingsPath: &path})
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	s := cfg.Settings
	if s.Notion.StatusProperty != "状態" {
		t.Errorf("StatusProperty = %q, want %q", s.Notion.StatusProperty, "状態")
	}
	if s.Notion.APIBase != "https://api.notion.com/v1" {
		t.Errorf("APIBase = %q, want default", s.Notion.APIBase)
	}
	if s.Timeouts.Publish != 5*time.Minute {
		t.Errorf("Timeouts.Publish = %v, want 5m", s.Timeouts.Publish)
	}
	if s.Timeouts.Retrieval != 60*time.Second {
		t.Errorf("Timeouts.Retrieval = %v, want 60s", s.Timeouts.Retrieval)
	}
	if s.Image.Width != 1280 || s.Image.Height != 670 {
		t.Errorf("image size = %dx%d, want 1280x670", s.Image.Width, s.Image.Height)
	}
	if s.Generation.Provider != ProviderOpenAI {
		t.Errorf("Provider = %q, want %q", s.Generation.Provider, ProviderOpenAI)
	}
}

func TestDefaultVerifyURLRequiresLogin(t *testing.T) {
	settings, err := parseSettings(nil)
	if err != nil {
		t.Fatalf("parseSettings() error = %v", err)
	}

	u, err := url.Parse(settings.Note.VerifyURL)
	if err != nil {
		t.Fatalf("VerifyURL %q: %v", settings.Note.VerifyURL, err)
	}
	if u.Host != "note.com" {
		t.Errorf("VerifyURL host = %q, want note.com", u.Host)
	}
	// The public top page never redirects to login.
	if u.Path == "" || u.Path == "/" {
		t.Errorf("VerifyURL = %q, want an authenticated-only page", settings.Note.VerifyURL)
	}
	if settings.Note.VerifyURL != settings.Note.NewURL {
		t.Errorf("VerifyURL = %q, want the composer %q", settings.Note.VerifyURL, settings.Note.NewURL)
	}
}

func TestLoadConfigMissingSettingsFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "missing.yaml")
	if _, err := LoadConfig(&ConfigOverrides{SettingsPath: &path}); err == nil {
		t.Error("LoadConfig() expected error for missing explicit settings file")
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("NOTE_STATE_FILE", "/env/state.json")
	t.Setenv("LLM_PROVIDER", ProviderAnthropic)
	path := writeSettings(t, "")

	cfg, err := LoadConfig(&ConfigOverrides{SettingsPath: &path})
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Settings.Session.StateFile != "/env/state.json" {
		t.Errorf("StateFile = %q, want env value", cfg.Settings.Session.StateFile)
	}
	if cfg.Model != DefaultAnthropicModel {
		t.Errorf("Model = %q, want %q", cfg.Model, DefaultAnthropicModel)
	}

	stateFile := "/flag/state.json"
	headless := false
	cfg, err = LoadConfig(&ConfigOverrides{SettingsPath: &path, StateFile: &stateFile, Headless: &headless})
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Settings.Session.StateFile != stateFile {
		t.Errorf("StateFile = %q, want flag value", cfg.Settings.Session.StateFile)
	}
	if cfg.Settings.Browser.Headless {
		t.Error("Headless = true, want false from flag")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		env      Environment
		missing  []string
	}{
		{
			name:     "all present",
			provider: ProviderOpenAI,
			env:      Environment{NotionToken: "t", NotionDatabaseID: "db", OpenAIKey: "k"},
		},
		{
			name:     "everything missing",
			provider: ProviderOpenAI,
			missing:  []string{"NOTION_TOKEN", "NOTION_DATABASE_ID", "OPENAI_API_KEY"},
		},
		{
			name:     "blank token",
			provider: ProviderOpenAI,
			env:      Environment{NotionToken: "  ", NotionDatabaseID: "db", OpenAIKey: "k"},
			missing:  []string{"NOTION_TOKEN"},
		},
		{
			name:     "anthropic needs its own key",
			provider: ProviderAnthropic,
			env:      Environment{NotionToken: "t", NotionDatabaseID: "db", OpenAIKey: "k"},
			missing:  []string{"ANTHROPIC_API_KEY"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := &Settings{}
			settings.Generation.Provider = tt.provider
			env := tt.env
			cfg := &Config{Settings: settings, Env: &env}

			err := cfg.Validate()
			if len(tt.missing) == 0 {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}

			var cfgErr *ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("Validate() error = %v, want ConfigurationError", err)
			}
			if !reflect.DeepEqual(cfgErr.Missing, tt.missing) {
				t.Errorf("Missing = %v, want %v", cfgErr.Missing, tt.missing)
			}
		})
	}
}

func TestValidateUnknownProvider(t *testing.T) {
	settings := &Settings{}
	settings.Generation.Provider = "llama"
	cfg := &Config{Settings: settings, Env: &Environment{}}

	var cfgErr *ConfigurationError
	if err := cfg.Validate(); !errors.As(err, &cfgErr) {
		t.Errorf("Validate() error = %v, want ConfigurationError", err)
	}
}

func strPtr(s string) *string {
	return &s
}
