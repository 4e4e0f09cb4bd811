// Package config handles kubechat configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/kubechat/config.yaml, /etc/kubechat/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "kubechat", "config.yaml"))
	}

	paths = append(paths, "/etc/kubechat/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all kubechat configuration.
type Config struct {
	Listen     ListenConfig     `yaml:"listen"`
	LLM        LLMConfig        `yaml:"llm"`
	Kubernetes KubernetesConfig `yaml:"kubernetes"`
	Agent      AgentConfig      `yaml:"agent"`
	Auth       AuthConfig       `yaml:"auth"`
	DataDir    string           `yaml:"data_dir"`
	LogLevel   string           `yaml:"log_level"`
	LogFormat  string           `yaml:"log_format"` // text or json
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// LLMConfig defines the reasoning provider connection.
// BaseURL points at any OpenAI-compatible /v1/chat/completions server
// (vLLM, Ollama, OpenAI itself).
type LLMConfig struct {
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
	APIKey  string `yaml:"api_key"`
}

// KubernetesConfig defines the cluster API connection.
// When InCluster is true, the API server address, token, and CA are read
// from the pod's service account mount and the other fields are ignored.
type KubernetesConfig struct {
	APIServer          string `yaml:"api_server"`
	Token              string `yaml:"token"`
	InCluster          bool   `yaml:"in_cluster"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// AgentConfig bounds the turn orchestration loop.
type AgentConfig struct {
	MaxSteps           int `yaml:"max_steps"`
	TurnTimeoutSeconds int `yaml:"turn_timeout_seconds"`
}

// TurnTimeout returns the configured turn ceiling as a duration.
func (a AgentConfig) TurnTimeout() time.Duration {
	return time.Duration(a.TurnTimeoutSeconds) * time.Second
}

// AuthConfig holds the inbound API keys. Requests must present one of
// these in the X-API-Key header.
type AuthConfig struct {
	AdminKey string `yaml:"admin_key"`
	UserKey  string `yaml:"user_key"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables so secrets can live in the environment.
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Port: 8080},
		LLM: LLMConfig{
			BaseURL: "http://localhost:11434",
			Model:   "qwen3:4b",
		},
		Agent: AgentConfig{
			MaxSteps:           8,
			TurnTimeoutSeconds: 120,
		},
		DataDir:   ".",
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Validate checks that required settings are present.
func (c *Config) Validate() error {
	if c.LLM.BaseURL == "" {
		return fmt.Errorf("llm.base_url is required")
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("llm.model is required")
	}
	if c.Agent.MaxSteps <= 0 {
		return fmt.Errorf("agent.max_steps must be positive")
	}
	return nil
}
