package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config aggregates every configuration section of the service.
type Config struct {
	Server ServerConfig
	AI     AIConfig
	Store  StoreConfig
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, AI: ai, Store: loadStoreConfig()}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string
}

// loadServerConfig resolves the listen address.
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// Accept ":8080" or "127.0.0.1:8080" as-is.
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// AIConfig describes the remote completion endpoint. An empty BaseURL
// disables remote calls and switches the gateway to demo replies.
type AIConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout int
}

// Enabled reports whether a remote endpoint is configured.
func (c AIConfig) Enabled() bool {
	return c.BaseURL != ""
}

func loadAIConfig() (AIConfig, error) {
	timeout := 60
	if override, err := parseOptionalIntEnv("DEEPSEEK_TIMEOUT"); err != nil {
		return AIConfig{}, err
	} else if override != nil {
		if *override < 1 {
			return AIConfig{}, fmt.Errorf("DEEPSEEK_TIMEOUT must be positive, got %d", *override)
		}
		timeout = *override
	}

	baseURL := "https://api.deepseek.com/chat/completions"
	if raw, ok := os.LookupEnv("DEEPSEEK_API_URL"); ok {
		// An explicitly empty value selects demo mode.
		baseURL = strings.TrimSpace(raw)
	}

	return AIConfig{
		BaseURL: baseURL,
		APIKey:  strings.TrimSpace(os.Getenv("DEEPSEEK_API_KEY")),
		Model:   getEnvOrDefault("DEEPSEEK_MODEL", "deepseek-chat"),
		Timeout: timeout,
	}, nil
}

// StoreConfig describes where the session store is persisted.
type StoreConfig struct {
	Path string
}

func loadStoreConfig() StoreConfig {
	return StoreConfig{Path: getEnvOrDefault("PERSISTENCE_FILE", "sessions.json")}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
