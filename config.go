package main

import (
	_ "embed"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jessevdk/go-flags"
	"gopkg.in/yaml.v3"
)

const defaultConfigDir = ".note-drafter"

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"

	DefaultOpenAIModel    = "gpt-4o-mini"
	DefaultAnthropicModel = "claude-sonnet-4-20250514"
)

//go:embed config/settings.yaml
var defaultSettings string

// Settings represents the YAML configuration structure
type Settings struct {
	Notion struct {
		APIBase        string `yaml:"api_base"`
		Version        string `yaml:"version"`
		StatusProperty string `yaml:"status_property"`
		ReadyValue     string `yaml:"ready_value"`
		DoneValue      string `yaml:"done_value"`
		PageSize       int    `yaml:"page_size"`
	} `yaml:"notion"`
	Generation struct {
		Provider    string  `yaml:"provider"`
		Model       string  `yaml:"model"`
		MaxTokens   int     `yaml:"max_tokens"`
		Temperature float64 `yaml:"temperature"`
		Prompts     struct {
			System   string `yaml:"system"`
			Essay    string `yaml:"essay"`
			Business string `yaml:"business"`
			Rewrite  string `yaml:"rewrite"`
		} `yaml:"prompts"`
	} `yaml:"generation"`
	Image struct {
		Width       int      `yaml:"width"`
		Height      int      `yaml:"height"`
		Backgrounds []string `yaml:"backgrounds"`
		Fonts       []string `yaml:"fonts"`
	} `yaml:"image"`
	Note struct {
		VerifyURL string    `yaml:"verify_url"`
		NewURL    string    `yaml:"new_url"`
		LoginPath string    `yaml:"login_path"`
		SavedText string    `yaml:"saved_text"`
		Selectors Selectors `yaml:"selectors"`
	} `yaml:"note"`
	Browser struct {
		Headless       bool   `yaml:"headless"`
		WindowWidth    int    `yaml:"window_width"`
		WindowHeight   int    `yaml:"window_height"`
		UserAgent      string `yaml:"user_agent"`
		DiagnosticsDir string `yaml:"diagnostics_dir"`
	} `yaml:"browser"`
	Session struct {
		StateFile string `yaml:"state_file"`
		Refresh   bool   `yaml:"refresh"`
	} `yaml:"session"`
	Ledger struct {
		Path string `yaml:"path"`
	} `yaml:"ledger"`
	Timeouts Timeouts `yaml:"timeouts"`
}

// Selectors locate composer elements on the publishing platform
type Selectors struct {
	Editor       []string `yaml:"editor"`
	Title        []string `yaml:"title"`
	ImageButton  []string `yaml:"image_button"`
	FileInput    []string `yaml:"file_input"`
	SaveDraft    string   `yaml:"save_draft"`
	ImageConfirm string   `yaml:"image_confirm"`
}

// Timeouts bound each pipeline step
type Timeouts struct {
	Retrieval  time.Duration `yaml:"retrieval"`
	Generation time.Duration `yaml:"generation"`
	Verify     time.Duration `yaml:"verify"`
	Publish    time.Duration `yaml:"publish"`
	Update     time.Duration `yaml:"update"`
}

// Environment carries secrets and deployment values.
type Environment struct {
	NotionToken      string `long:"notion-token" env:"NOTION_TOKEN" description:"Notion integration token"`
	NotionDatabaseID string `long:"notion-database-id" env:"NOTION_DATABASE_ID" description:"Notion database holding the drafts"`
	OpenAIKey        string `long:"openai-api-key" env:"OPENAI_API_KEY" description:"OpenAI API key"`
	OpenAIBaseURL    string `long:"openai-base-url" env:"OPENAI_BASE_URL" description:"OpenAI-compatible API base URL"`
	AnthropicKey     string `long:"anthropic-api-key" env:"ANTHROPIC_API_KEY" description:"Anthropic API key"`
	OpenAIModel      string `long:"openai-model" env:"OPENAI_MODEL" description:"OpenAI model override"`
	Model            string `long:"llm-model" env:"LLM_MODEL" description:"Model override for any provider"`
	Provider         string `long:"llm-provider" env:"LLM_PROVIDER" description:"Generation provider (openai, anthropic)"`
	StateFile        string `long:"state-file" env:"NOTE_STATE_FILE" description:"Path to the browser session file"`
	StateB64         string `long:"state-b64" env:"NOTE_STATE_B64" description:"Base64-encoded browser session"`
}

// ConfigOverrides holds values given on the command line
type ConfigOverrides struct {
	SettingsPath *string
	StateFile    *string
	Provider     *string
	Model        *string
	Headless     *bool
}

// Config is the resolved configuration of a single run
type Config struct {
	Settings *Settings
	Env      *Environment
	// Model is resolved once per run and never changes afterwards.
	Model string
}

// LoadConfig reads settings and environment and applies overrides. It does
// not validate credentials; call Validate before doing any work.
func LoadConfig(overrides *ConfigOverrides) (*Config, error) {
	var settings *Settings
	var err error
	if overrides != nil && overrides.SettingsPath != nil {
		// Explicit settings file must exist
		settings, err = loadSettingsRequired(*overrides.SettingsPath)
	} else {
		if err := ensureConfigExists(); err != nil {
			return nil, fmt.Errorf("ensuring config files exist: %w", err)
		}
		settings, err = loadSettings(GetConfigPath("settings.yaml"))
	}
	if err != nil {
		return nil, fmt.Errorf("loading settings: %w", err)
	}

	env, err := loadEnvironment()
	if err != nil {
		return nil, err
	}

	applyOverrides(settings, env, overrides)

	cfg := &Config{Settings: settings, Env: env}
	var flagModel string
	if overrides != nil && overrides.Model != nil {
		flagModel = *overrides.Model
	}
	cfg.Model = ResolveModel(cfg.configuredModel(flagModel), settings.Generation.Provider)
	return cfg, nil
}

func applyOverrides(settings *Settings, env *Environment, overrides *ConfigOverrides) {
	if env.Provider != "" {
		settings.Generation.Provider = env.Provider
	}
	if env.StateFile != "" {
		settings.Session.StateFile = env.StateFile
	}
	if overrides == nil {
		return
	}
	if overrides.StateFile != nil {
		settings.Session.StateFile = *overrides.StateFile
	}
	if overrides.Provider != nil {
		settings.Generation.Provider = *overrides.Provider
	}
	if overrides.Headless != nil {
		settings.Browser.Headless = *overrides.Headless
	}
}

// configuredModel returns the first non-blank model source: flag, then
// environment, then the settings file.
func (c *Config) configuredModel(flagModel string) string {
	candidates := []string{flagModel, c.Env.Model}
	if c.Settings.Generation.Provider == ProviderOpenAI {
		candidates = append(candidates, c.Env.OpenAIModel)
	}
	candidates = append(candidates, c.Settings.Generation.Model)
	for _, m := range candidates {
		if strings.TrimSpace(m) != "" {
			return m
		}
	}
	return ""
}

// ResolveModel treats an empty or blank configured model the same as an
// absent one and returns the provider default.
func ResolveModel(configured, provider string) string {
	if m := strings.TrimSpace(configured); m != "" {
		return m
	}
	if provider == ProviderAnthropic {
		return DefaultAnthropicModel
	}
	return DefaultOpenAIModel
}

// APIKey returns the credential for the configured provider.
func (c *Config) APIKey() string {
	if c.Settings.Generation.Provider == ProviderAnthropic {
		return c.Env.AnthropicKey
	}
	return c.Env.OpenAIKey
}

// Validate reports every missing credential at once.
func (c *Config) Validate() error {
	switch c.Settings.Generation.Provider {
	case ProviderOpenAI, ProviderAnthropic:
	default:
		return &ConfigurationError{Err: fmt.Errorf("unknown generation provider %q", c.Settings.Generation.Provider)}
	}

	var missing []string
	if strings.TrimSpace(c.Env.NotionToken) == "" {
		missing = append(missing, "NOTION_TOKEN")
	}
	if strings.TrimSpace(c.Env.NotionDatabaseID) == "" {
		missing = append(missing, "NOTION_DATABASE_ID")
	}
	if strings.TrimSpace(c.APIKey()) == "" {
		if c.Settings.Generation.Provider == ProviderAnthropic {
			missing = append(missing, "ANTHROPIC_API_KEY")
		} else {
			missing = append(missing, "OPENAI_API_KEY")
		}
	}
	if len(missing) > 0 {
		return &ConfigurationError{Missing: missing}
	}
	return nil
}

func loadEnvironment() (*Environment, error) {
	var env Environment
	parser := flags.NewParser(&env, flags.IgnoreUnknown)
	// Only the env tags matter here; command-line flags belong to cobra.
	if _, err := parser.ParseArgs([]string{}); err != nil {
		return nil, &ConfigurationError{Err: fmt.Errorf("parsing environment: %w", err)}
	}
	return &env, nil
}

// loadSettings loads settings, falling back to the embedded defaults
func loadSettings(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("Settings file %s not found, using embedded defaults", path)
			return parseSettings([]byte(defaultSettings))
		}
		return nil, fmt.Errorf("failed to read settings file %s: %w", path, err)
	}
	return parseSettings(data)
}

// loadSettingsRequired loads settings from a file that must exist
func loadSettingsRequired(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file %s: %w", path, err)
	}
	return parseSettings(data)
}

// parseSettings overlays the file on top of the embedded defaults so a
// partial settings file keeps every other default.
func parseSettings(data []byte) (*Settings, error) {
	var settings Settings
	if err := yaml.Unmarshal([]byte(defaultSettings), &settings); err != nil {
		return nil, fmt.Errorf("failed to parse embedded settings: %w", err)
	}
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("failed to parse settings YAML: %w", err)
	}
	return &settings, nil
}

// GetConfigPath returns the full path to a config file
func GetConfigPath(filename string) string {
	return filepath.Join(defaultConfigDir, filename)
}

// ensureConfigExists creates the config directory and default settings if they don't exist
func ensureConfigExists() error {
	if err := os.MkdirAll(defaultConfigDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	settingsPath := GetConfigPath("settings.yaml")
	if _, err := os.Stat(settingsPath); os.IsNotExist(err) {
		if err := os.WriteFile(settingsPath, []byte(defaultSettings), 0644); err != nil {
			return fmt.Errorf("failed to write default settings: %w", err)
		}
		log.Printf("✓ Wrote default settings to %s", settingsPath)
	}
	return nil
}
