// Package config loads agentloop settings from a JSON file, .env files and
// the environment, in increasing order of precedence.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"

	StorageFile   = "file"
	StorageSQLite = "sqlite"
)

type Config struct {
	DataDir           string `json:"data_dir"`
	LogLevel          string `json:"log_level"`
	Storage           string `json:"storage"`
	MaxConcurrent     int    `json:"max_concurrent"`
	MaxIterations     int    `json:"max_iterations"`
	RunTimeoutSeconds int    `json:"run_timeout_seconds"`
	Timezone          string `json:"timezone"`
	Prompt            string `json:"prompt"`
	ParallelTools     bool   `json:"parallel_tools"`
	LLM               struct {
		Provider         string  `json:"provider"`
		BaseURL          string  `json:"base_url"`
		APIKey           string  `json:"api_key"`
		Model            string  `json:"model"`
		LightModel       string  `json:"light_model"`
		ImageModel       string  `json:"image_model"`
		MaxTokens        int     `json:"max_tokens"`
		Temperature      float32 `json:"temperature"`
		MaxContextTokens int     `json:"max_context_tokens"`
		OutputReserve    int     `json:"output_reserve"`
		MaxAttempts      int     `json:"max_attempts"`
		Cache            bool    `json:"cache"`
	} `json:"llm"`
	Brave struct {
		APIKey string `json:"api_key"`
	} `json:"brave"`
	Telegram struct {
		Token string `json:"token"`
	} `json:"telegram"`
	Telemetry struct {
		Endpoint string `json:"endpoint"`
		Insecure bool   `json:"insecure"`
	} `json:"telemetry"`
}

// DefaultPath returns ~/.agentloop/config.json.
func DefaultPath() string {
	return filepath.Join(defaultDataDir(), "config.json")
}

func defaultDataDir() string {
	return filepath.Join(os.Getenv("HOME"), ".agentloop")
}

// Default returns the configuration written on first load.
func Default() *Config {
	cfg := &Config{
		DataDir:       defaultDataDir(),
		LogLevel:      "info",
		Storage:       StorageFile,
		MaxConcurrent: 2,
		MaxIterations: 10,
		Prompt:        "You are a helpful assistant. Use your tools when they help, and answer concisely.",
	}
	cfg.RunTimeoutSeconds = 300
	cfg.LLM.Provider = ProviderGemini
	cfg.LLM.MaxTokens = 8192
	cfg.LLM.Temperature = 0.7
	cfg.LLM.MaxContextTokens = 128000
	cfg.LLM.OutputReserve = 4096
	cfg.LLM.MaxAttempts = 5
	return cfg
}

// Load reads path, writing the defaults there when it does not exist. A .env
// file next to the config and one in the working directory are then loaded
// without overriding variables already set, and finally the environment
// overrides provider keys and endpoints.
func Load(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	} else if os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}

	LoadDotEnv(filepath.Join(filepath.Dir(path), ".env"), ".env")
	applyEnv(cfg)
	return cfg, nil
}

// LoadDotEnv loads each existing file into the environment. Variables that
// are already set win.
func LoadDotEnv(paths ...string) {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			_ = godotenv.Load(p)
		}
	}
}

func applyEnv(cfg *Config) {
	switch cfg.LLM.Provider {
	case ProviderGemini:
		if key := os.Getenv("GEMINI_API_KEY"); key != "" {
			cfg.LLM.APIKey = key
		}
	case ProviderOpenAI:
		if key := os.Getenv("OPENAI_API_KEY"); key != "" {
			cfg.LLM.APIKey = key
		}
		if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
			cfg.LLM.BaseURL = baseURL
		}
	}
	if braveKey := os.Getenv("BRAVE_API_KEY"); braveKey != "" {
		cfg.Brave.APIKey = braveKey
	}
	if tgToken := os.Getenv("TELEGRAM_BOT_TOKEN"); tgToken != "" {
		cfg.Telegram.Token = tgToken
	}
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		cfg.Telemetry.Endpoint = strings.TrimPrefix(strings.TrimPrefix(endpoint, "http://"), "https://")
		if strings.HasPrefix(endpoint, "http://") {
			cfg.Telemetry.Insecure = true
		}
	}
}

// Validate reports settings the runtime cannot start with.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case ProviderGemini, ProviderOpenAI:
	default:
		return fmt.Errorf("unknown llm.provider %q (want %s or %s)", c.LLM.Provider, ProviderGemini, ProviderOpenAI)
	}
	switch c.Storage {
	case StorageFile, StorageSQLite:
	default:
		return fmt.Errorf("unknown storage %q (want %s or %s)", c.Storage, StorageFile, StorageSQLite)
	}
	if c.MaxConcurrent <= 0 {
		return fmt.Errorf("max_concurrent must be positive")
	}
	return nil
}

// Save writes cfg to path atomically, creating the directory if needed.
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeFile(path, data)
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// ToMap converts cfg to its generic JSON form.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return m, nil
}

// ListValues returns every setting as flat dot-separated keys, optionally
// with secrets masked.
func ListValues(cfg *Config, mask bool) (map[string]any, error) {
	m, err := ToMap(cfg)
	if err != nil {
		return nil, err
	}
	flat := Flatten(m)
	if mask {
		flat = MaskSecrets(flat)
	}
	return flat, nil
}

// GetValue returns the value of a dot-separated key from the file at path,
// as loaded by Load.
func GetValue(path, key string) (any, error) {
	if _, err := Load(path); err != nil {
		return nil, err
	}
	raw, err := readRaw(path)
	if err != nil {
		return nil, err
	}
	v, ok := Flatten(raw)[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	return v, nil
}

// SetValue stores value under key in the existing file at path. Values
// that parse as JSON (numbers, booleans) are stored typed; anything else is
// stored as a string. Keys outside the Config struct are kept.
func SetValue(path, key, value string) error {
	raw, err := readRaw(path)
	if err != nil {
		return err
	}
	flat := Flatten(raw)

	var parsed any
	if err := json.Unmarshal([]byte(value), &parsed); err != nil {
		parsed = value
	}
	flat[key] = parsed

	data, err := json.MarshalIndent(Unflatten(flat), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeFile(path, data)
}

func readRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return raw, nil
}
