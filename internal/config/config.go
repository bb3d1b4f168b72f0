package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config aggregates the gateway's configuration.
type Config struct {
	Server   ServerConfig
	WhatsApp WhatsAppConfig
	Bot      BotConfig
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	whatsapp, err := loadWhatsAppConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, WhatsApp: whatsapp, Bot: loadBotConfig()}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// Accept ":8080" or "127.0.0.1:8080" directly.
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// WhatsAppConfig describes credential storage and timing policy.
type WhatsAppConfig struct {
	AuthDir           string
	QRTimeout         time.Duration
	ReconnectDelay    time.Duration
	KeepAliveInterval time.Duration
}

func loadWhatsAppConfig() (WhatsAppConfig, error) {
	qrTimeout, err := parseDurationMSEnv("WA_QR_TIMEOUT_MS", 60*time.Second)
	if err != nil {
		return WhatsAppConfig{}, err
	}

	reconnectDelay, err := parseDurationMSEnv("WA_RECONNECT_DELAY_MS", 3*time.Second)
	if err != nil {
		return WhatsAppConfig{}, err
	}

	keepAlive, err := parseDurationMSEnv("WA_KEEPALIVE_INTERVAL_MS", 15*time.Second)
	if err != nil {
		return WhatsAppConfig{}, err
	}

	return WhatsAppConfig{
		AuthDir:           getEnvOrDefault("WA_AUTH_DIR", "auth_sessions"),
		QRTimeout:         qrTimeout,
		ReconnectDelay:    reconnectDelay,
		KeepAliveInterval: keepAlive,
	}, nil
}

// BotConfig describes the external decision service. The bearer token is
// only ever supplied through the environment.
type BotConfig struct {
	URL   string
	Token string
}

// Enabled reports whether inbound routing is configured.
func (c BotConfig) Enabled() bool {
	return c.URL != ""
}

func loadBotConfig() BotConfig {
	return BotConfig{
		URL:   strings.TrimSpace(os.Getenv("BOT_HANDLER_URL")),
		Token: strings.TrimSpace(os.Getenv("BOT_HANDLER_TOKEN")),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseDurationMSEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.Atoi(raw)
	if err != nil || val <= 0 {
		return 0, fmt.Errorf("invalid %s value %q: expected positive milliseconds", key, raw)
	}
	return time.Duration(val) * time.Millisecond, nil
}
