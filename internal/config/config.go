package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ServerConfig configures cmd/server.
type ServerConfig struct {
	GeminiAPIKey  string
	DatabaseURL   string
	HTTPPort      string
	LogLevel      string
	LogFormat     string
	JWTSecret     string
	TokenTTL      time.Duration
	InvestorsFile string
	MatchLimit    int
}

// ClientConfig configures cmd/assistant.
type ClientConfig struct {
	APIURL      string
	Token       string
	TokenFile   string
	LogLevel    string
	LogFormat   string
	HTTPTimeout time.Duration
}

// loadDotEnv loads a .env file if it exists. Values already in the
// environment win.
func loadDotEnv() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, relying on environment variables")
	}
}

func LoadServerConfig() (*ServerConfig, error) {
	loadDotEnv()

	cfg := &ServerConfig{
		GeminiAPIKey:  getEnv("GEMINI_API_KEY", ""),
		DatabaseURL:   getEnv("DATABASE_URL", "venture_assistant.db"),
		HTTPPort:      getEnv("HTTP_PORT", "8080"),
		LogLevel:      getEnv("LOG_LEVEL", "INFO"),
		LogFormat:     getEnv("LOG_FORMAT", "text"),
		JWTSecret:     getEnv("JWT_SECRET", ""),
		TokenTTL:      getEnvAsDuration("TOKEN_TTL", 24*time.Hour),
		InvestorsFile: getEnv("INVESTORS_FILE", "investors.json"),
		MatchLimit:    getEnvAsInt("MATCH_LIMIT", 5),
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *ServerConfig) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET environment variable is required")
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL cannot be empty")
	}
	if _, err := strconv.Atoi(c.HTTPPort); err != nil {
		return fmt.Errorf("HTTP_PORT must be a number, got %q", c.HTTPPort)
	}
	if c.MatchLimit <= 0 {
		return fmt.Errorf("MATCH_LIMIT must be > 0")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("TOKEN_TTL must be > 0")
	}
	return nil
}

func LoadClientConfig() (*ClientConfig, error) {
	loadDotEnv()

	cfg := &ClientConfig{
		APIURL:      strings.TrimRight(getEnv("ASSISTANT_API_URL", "http://localhost:8080"), "/"),
		Token:       getEnv("ASSISTANT_TOKEN", ""),
		TokenFile:   getEnv("ASSISTANT_TOKEN_FILE", defaultTokenFile()),
		LogLevel:    getEnv("LOG_LEVEL", "WARN"),
		LogFormat:   getEnv("LOG_FORMAT", "text"),
		HTTPTimeout: getEnvAsDuration("HTTP_TIMEOUT", 60*time.Second),
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *ClientConfig) Validate() error {
	if !strings.HasPrefix(c.APIURL, "http://") && !strings.HasPrefix(c.APIURL, "https://") {
		return fmt.Errorf("ASSISTANT_API_URL must be an http(s) URL, got %q", c.APIURL)
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT must be > 0")
	}
	return nil
}

// SlogLevel maps LOG_LEVEL to a slog level; unknown values mean INFO.
func SlogLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(strings.TrimSpace(level)))); err != nil {
		return slog.LevelInfo
	}
	return l
}

// NewLogger builds a slog logger writing to w. format is "json" or "text".
func NewLogger(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: SlogLevel(level)}
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func defaultTokenFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".venture-assistant-token"
	}
	return filepath.Join(home, ".venture-assistant", "token")
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(strings.TrimSpace(valueStr)); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := strings.TrimSpace(getEnv(key, ""))
	if valueStr == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(valueStr); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
