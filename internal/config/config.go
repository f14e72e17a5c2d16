package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type ServerConfig struct {
	HTTPAddr  string
	SessionID string
	Lang      string
	Env       string

	ModelsRoot string
	DataRoot   string
	SkillsRoot string

	TokenizerBin  string
	TokenizerAddr string

	MQTTBrokerURL   string
	MQTTClientID    string
	MQTTUsername    string
	MQTTPassword    string
	MQTTTopicPrefix string

	DBDSN string

	TelemetryEnabled bool
	TelemetryBaseURL string
	Version          string

	ExecTimeout           time.Duration
	ContextScoreThreshold float64
	MuteNERErrors         bool
}

type TTYConfig struct {
	ServerBaseURL string
	SessionID     string
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := ServerConfig{
		HTTPAddr:  getenvDefault("LEON_HTTP_ADDR", ":1337"),
		SessionID: getenvDefault("LEON_SESSION_ID", "default"),
		Lang:      getenvDefault("LEON_LANG", "en-US"),
		Env:       getenvDefault("LEON_ENV", "production"),

		ModelsRoot: getenvDefault("LEON_MODELS_ROOT", filepath.Join("core", "data", "models")),
		DataRoot:   getenvDefault("LEON_DATA_ROOT", filepath.Join("core", "data")),
		SkillsRoot: getenvDefault("LEON_SKILLS_ROOT", "skills"),

		TokenizerBin:  getenvDefault("LEON_TCP_SERVER_BIN", "leon-tcp-server"),
		TokenizerAddr: getenvDefault("LEON_TCP_SERVER_ADDR", "127.0.0.1:1342"),

		MQTTBrokerURL:   getenvDefault("MQTT_BROKER_URL", "tcp://localhost:1883"),
		MQTTClientID:    getenvDefault("LEON_MQTT_CLIENT_ID", "leon-server"),
		MQTTUsername:    os.Getenv("MQTT_USERNAME"),
		MQTTPassword:    os.Getenv("MQTT_PASSWORD"),
		MQTTTopicPrefix: getenvDefault("MQTT_TOPIC_PREFIX", "leon"),

		DBDSN: os.Getenv("DB_DSN"),

		TelemetryEnabled: getenvBoolDefault("LEON_TELEMETRY", false),
		TelemetryBaseURL: getenvDefault("LEON_TELEMETRY_BASE_URL", "https://logger.getleon.ai"),
		Version:          getenvDefault("LEON_VERSION", "dev"),

		ExecTimeout:           time.Duration(getenvIntDefault("LEON_EXEC_TIMEOUT_SECONDS", 20)) * time.Second,
		ContextScoreThreshold: getenvFloatDefault("LEON_CONTEXT_SCORE_THRESHOLD", 0.6),
		MuteNERErrors:         getenvBoolDefault("LEON_MUTE_NER_ERRORS", false),
	}

	if cfg.Env == "testing" {
		cfg.TelemetryEnabled = false
	}
	if cfg.Lang == "" {
		return ServerConfig{}, fmt.Errorf("LEON_LANG is required")
	}
	if cfg.ContextScoreThreshold <= 0 || cfg.ContextScoreThreshold >= 1 {
		return ServerConfig{}, fmt.Errorf("LEON_CONTEXT_SCORE_THRESHOLD must be in (0,1)")
	}

	return cfg, nil
}

func LoadTTYConfig() TTYConfig {
	return TTYConfig{
		ServerBaseURL: getenvDefault("LEON_API_BASE_URL", "http://localhost:1337"),
		SessionID:     getenvDefault("LEON_SESSION_ID", "default"),
	}
}

func getenvDefault(key, val string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return val
}

func getenvIntDefault(key string, val int) int {
	v := os.Getenv(key)
	if v == "" {
		return val
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return val
	}
	return n
}

func getenvFloatDefault(key string, val float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return val
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return val
	}
	return f
}

func getenvBoolDefault(key string, val bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return val
	}
	return v == "1" || v == "true" || v == "yes"
}
