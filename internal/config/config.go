package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Model          string          `mapstructure:"model" yaml:"model"`
	ThinkingBudget int64           `mapstructure:"thinking_budget" yaml:"thinking_budget"`
	MaxTurns       int             `mapstructure:"max_turns" yaml:"max_turns"`
	Serve          ServeConfig     `mapstructure:"serve" yaml:"serve"`
	Anthropic      AnthropicConfig `mapstructure:"anthropic" yaml:"anthropic"`
	OpenAI         OpenAIConfig    `mapstructure:"openai" yaml:"openai"`
	Tools          ToolsConfig     `mapstructure:"tools" yaml:"tools"`
	Usage          UsageConfig     `mapstructure:"usage" yaml:"usage"`
}

// ServeConfig configures the HTTP server.
type ServeConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
}

type AnthropicConfig struct {
	APIKey string `mapstructure:"api_key" yaml:"api_key,omitempty"`
}

type OpenAIConfig struct {
	APIKey string `mapstructure:"api_key" yaml:"api_key,omitempty"`
}

// ToolsConfig selects which built-in tools are exposed to the model.
// Empty means all built-ins.
type ToolsConfig struct {
	Enabled []string `mapstructure:"enabled" yaml:"enabled,omitempty"`
}

// UsageConfig configures the usage ledger.
type UsageConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	DBPath  string `mapstructure:"db_path" yaml:"db_path,omitempty"`
}

func Load() (*Config, error) {
	configPath, err := GetConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config dir: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configPath)
	viper.AddConfigPath(".")

	// Set defaults
	viper.SetDefault("model", "claude-3-7-sonnet-20250219")
	viper.SetDefault("thinking_budget", 0)
	viper.SetDefault("max_turns", 20)
	viper.SetDefault("serve.host", "127.0.0.1")
	viper.SetDefault("serve.port", 8000)
	viper.SetDefault("usage.enabled", true)

	// Read config file (optional - won't error if missing)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	resolveCredentials(&cfg)

	if cfg.Usage.DBPath == "" {
		cfg.Usage.DBPath = filepath.Join(GetDataDir(), "usage.db")
	}

	return &cfg, nil
}

// resolveCredentials fills API keys from the environment when the config file
// leaves them unset. Keys are read once at load; they are never re-read per
// request.
func resolveCredentials(cfg *Config) {
	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)
	if cfg.Anthropic.APIKey == "" {
		cfg.Anthropic.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	cfg.OpenAI.APIKey = expandEnv(cfg.OpenAI.APIKey)
	if cfg.OpenAI.APIKey == "" {
		cfg.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	}
}

// expandEnv expands ${VAR} or $VAR in a string
func expandEnv(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		varName := s[2 : len(s)-1]
		return os.Getenv(varName)
	}
	if strings.HasPrefix(s, "$") {
		return os.Getenv(s[1:])
	}
	return s
}

// GetConfigDir returns the XDG config directory for toolchat.
// Uses $XDG_CONFIG_HOME if set, otherwise ~/.config
func GetConfigDir() (string, error) {
	if xdgHome := os.Getenv("XDG_CONFIG_HOME"); xdgHome != "" {
		return filepath.Join(xdgHome, "toolchat"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".config", "toolchat"), nil
}

// GetConfigPath returns the path where the config file should be located
func GetConfigPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.yaml"), nil
}

// GetDataDir returns the XDG data directory for toolchat.
// Uses $XDG_DATA_HOME if set, otherwise ~/.local/share
func GetDataDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "toolchat")
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "toolchat-data") // fallback
	}
	return filepath.Join(homeDir, ".local", "share", "toolchat")
}

// Exists returns true if a config file exists
func Exists() bool {
	path, err := GetConfigPath()
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// Save writes the config to disk
func Save(cfg *Config) error {
	path, err := GetConfigPath()
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	content, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(path, content, 0600)
}
